// Package poll runs a fixed-interval fetch loop bounded by a budget of
// consecutive failures.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/splax/deploywatch/internal/domain"
)

const (
	// DefaultInterval separates two fetches.
	DefaultInterval = 3000 * time.Millisecond
	// DefaultMaxConsecutiveFailures ends a session after this many failures in a row.
	DefaultMaxConsecutiveFailures = 5
)

// ErrExhausted is reported once a session runs out of consecutive failures.
var ErrExhausted = errors.New("poll: retry budget exhausted")

// FetchFunc fetches the latest record. A nil record with a nil error means the
// remote has nothing to report yet.
type FetchFunc func(ctx context.Context) (*domain.Record, error)

// Handler receives the outcome of a session. Calls are never concurrent.
type Handler interface {
	// Deliver forwards a fetched record and reports whether polling must stop.
	Deliver(rec domain.Record) (stop bool)
	// Exhausted is called once when the failure budget runs out.
	Exhausted(err error)
}

// Config tunes a Scheduler.
type Config struct {
	Interval               time.Duration
	MaxConsecutiveFailures int
}

// Scheduler starts polling sessions.
type Scheduler struct {
	clock   clock.Clock
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
}

// New constructs a Scheduler. Zero config fields take their defaults.
func New(clk clock.Clock, cfg Config, logger *slog.Logger, metrics *Metrics) *Scheduler {
	if clk == nil {
		clk = clock.NewClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{clock: clk, cfg: cfg, logger: logger.With("component", "poll"), metrics: metrics}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Session is one running poll loop.
type Session struct {
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	failures atomic.Int32
	fetches  atomic.Int64
}

// Start issues the first fetch immediately and keeps polling until the handler
// asks to stop, the budget runs out, ctx ends, or Stop is called.
func (s *Scheduler) Start(ctx context.Context, fetch FetchFunc, h Handler) *Session {
	ctx, cancel := context.WithCancel(ctx)
	sess := &Session{cancel: cancel, done: make(chan struct{})}
	s.metrics.sessionStarted()
	go func() {
		defer close(sess.done)
		defer cancel()
		defer s.metrics.sessionEnded()
		s.run(ctx, sess, fetch, h)
	}()
	return sess
}

func (s *Scheduler) run(ctx context.Context, sess *Session, fetch FetchFunc, h Handler) {
	for {
		rec, err := fetch(ctx)
		sess.fetches.Add(1)
		if ctx.Err() != nil {
			// torn down while the request was in flight; drop the result.
			return
		}
		if err != nil {
			failures := sess.failures.Add(1)
			s.metrics.observeFetch(outcomeFailure)
			s.logger.Warn("deployment fetch failed", "consecutive_failures", failures, "max", s.cfg.MaxConsecutiveFailures, "error", err)
			if int(failures) >= s.cfg.MaxConsecutiveFailures {
				s.metrics.observeExhausted()
				h.Exhausted(errors.Join(ErrExhausted, err))
				return
			}
		} else {
			sess.failures.Store(0)
			if rec == nil {
				s.metrics.observeFetch(outcomeEmpty)
			} else {
				s.metrics.observeFetch(outcomeSuccess)
				if h.Deliver(*rec) {
					return
				}
			}
		}

		timer := s.clock.NewTimer(s.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}
	}
}

// Stop cancels the session and waits for its goroutine to exit. It is safe to
// call more than once and from any goroutine except a Handler callback.
func (sess *Session) Stop() {
	if sess == nil {
		return
	}
	sess.once.Do(sess.cancel)
	<-sess.done
}

// Cancel stops the session without waiting. Handler callbacks use it.
func (sess *Session) Cancel() {
	if sess == nil {
		return
	}
	sess.once.Do(sess.cancel)
}

// Done is closed when the session goroutine has exited.
func (sess *Session) Done() <-chan struct{} {
	return sess.done
}

// ConsecutiveFailures reports the current failure run.
func (sess *Session) ConsecutiveFailures() int {
	return int(sess.failures.Load())
}

// Fetches reports how many fetches the session has issued.
func (sess *Session) Fetches() int64 {
	return sess.fetches.Load()
}
