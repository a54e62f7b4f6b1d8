// Package tracker follows one deploy hook from trigger to terminal status.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/splax/deploywatch/internal/domain"
	"github.com/splax/deploywatch/internal/notify"
	"github.com/splax/deploywatch/internal/poll"
	"github.com/splax/deploywatch/internal/reconcile"
	"github.com/splax/deploywatch/pkg/vercel"
)

var (
	// ErrClosed is returned by operations on a torn down tracker.
	ErrClosed = errors.New("tracker: closed")
	// ErrNoRemover is returned by RemoveDeployment when no Remover was configured.
	ErrNoRemover = errors.New("tracker: no remover configured")
	// ErrTriggerFailed wraps every failure of the deploy hook call.
	ErrTriggerFailed = errors.New("tracker: deploy hook failed")
	// ErrBusy is returned when a trigger, polling session or removal is in flight.
	ErrBusy = errors.New("tracker: deployment in progress")
)

// RemoteAPI is the deploy API surface the tracker needs.
type RemoteAPI interface {
	ResolveProject(ctx context.Context, name, token, teamID string) (string, error)
	LatestDeployment(ctx context.Context, projectID, token, teamID string) (vercel.Deployment, error)
	TriggerHook(ctx context.Context, hookURL string) error
}

// Remover deletes the persisted deployment record.
type Remover interface {
	Remove(ctx context.Context, id string) error
}

// RemoverFunc adapts a function to Remover.
type RemoverFunc func(ctx context.Context, id string) error

// Remove calls f.
func (f RemoverFunc) Remove(ctx context.Context, id string) error {
	return f(ctx, id)
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClassifier overrides the ready-like and error-like literals.
func WithClassifier(c domain.Classifier) Option {
	return func(t *Tracker) {
		if !c.IsZero() {
			t.rec = reconcile.New(c)
		}
	}
}

// WithObserver registers a callback invoked on every state change. It runs
// while the tracker lock is held and must not call back into the tracker.
func WithObserver(fn func(domain.State)) Option {
	return func(t *Tracker) {
		t.observe = fn
	}
}

// WithRemover configures the collaborator behind RemoveDeployment.
func WithRemover(r Remover) Option {
	return func(t *Tracker) {
		t.remover = r
	}
}

// Tracker owns the reconciliation state of a single target. Every state
// mutation happens under mu through the reconciler.
type Tracker struct {
	mu         sync.Mutex
	target     domain.Target
	api        RemoteAPI
	sched      *poll.Scheduler
	notifier   notify.Notifier
	remover    Remover
	rec        *reconcile.Reconciler
	observe    func(domain.State)
	logger     *slog.Logger
	session    *poll.Session
	generation uint64
	mounted    bool
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Tracker. Call Mount to start resolving the project.
func New(target domain.Target, api RemoteAPI, sched *poll.Scheduler, notifier notify.Notifier, logger *slog.Logger, opts ...Option) *Tracker {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sched == nil {
		sched = poll.New(nil, poll.Config{}, logger, nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		target:   target,
		api:      api,
		sched:    sched,
		notifier: notifier,
		rec:      reconcile.New(domain.DefaultClassifier()),
		logger:   logger.With("component", "tracker", "target", target.Name, "project", target.ProjectName),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Target returns the tracked target, including the resolved project id.
func (t *Tracker) Target() domain.Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target
}

// State returns a read-only snapshot of the reconciliation state.
func (t *Tracker) State() domain.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.State()
}

// Mount resolves the project id in the background and loads the latest
// deployment. Targets without credentials stay UNKNOWN.
func (t *Tracker) Mount() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.mounted {
		return
	}
	t.mounted = true
	if !t.target.HasCredentials() {
		return
	}
	t.emitLocked(t.rec.SetResolving(true))
	t.wg.Add(1)
	go t.resolve()
}

func (t *Tracker) resolve() {
	defer t.wg.Done()

	t.mu.Lock()
	target := t.target
	t.mu.Unlock()

	projectID, err := t.api.ResolveProject(t.ctx, target.ProjectName, target.Token, target.TeamID)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if err != nil {
		t.logger.Error("project resolution failed", "error", err)
		t.emitLocked(t.rec.Fail(errorMessage(err)))
		t.mu.Unlock()
		return
	}
	t.target.ProjectID = projectID
	st := t.rec.Resolved(projectID)
	t.logger.Info("project resolved", "project_id", projectID)
	if st.IsPolling {
		// a trigger won the race; its session was waiting for the id.
		t.emitLocked(st)
		t.startSessionLocked()
		t.mu.Unlock()
		return
	}
	t.emitLocked(t.rec.SetResolving(true))
	t.mu.Unlock()

	dep, err := t.api.LatestDeployment(t.ctx, projectID, target.Token, target.TeamID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.rec.SetResolving(false)
	switch {
	case t.rec.State().IsPolling, t.rec.State().IsTriggering:
		// triggered while loading; the trigger owns the status now.
	case errors.Is(err, vercel.ErrNoDeployments):
		t.logger.Info("project has no deployments yet")
	case err != nil:
		t.logger.Warn("initial deployment fetch failed", "error", err)
	default:
		st := t.rec.Load(RecordFromDeployment(dep))
		t.logger.Info("deployment status loaded", "status", st.Status, "deployment", dep.UID)
		if st.IsPolling {
			t.startSessionLocked()
		}
	}
	t.emitLocked(t.rec.State())
}

// StartDeployment fires the deploy hook. It returns ErrBusy while another
// trigger, a polling session or a removal is in flight; a trigger during
// project resolution is accepted. On success the status becomes INITIATED and
// polling starts as soon as the project id is known. When the id can never be
// known (no credentials, or resolution failed) the trigger is recorded without
// polling. On failure the status is left as it was.
func (t *Tracker) StartDeployment(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if st := t.rec.State(); st.IsTriggering || st.IsPolling || st.IsRemoving {
		t.mu.Unlock()
		return ErrBusy
	}
	t.emitLocked(t.rec.SetTriggering(true))
	target := t.target
	t.mu.Unlock()

	err := t.api.TriggerHook(ctx, target.TriggerURL)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.rec.SetTriggering(false)
	if err != nil {
		t.stopSessionLocked()
		t.emitLocked(t.rec.Halt())
		t.mu.Unlock()
		t.logger.Warn("deploy hook failed", "error", err)
		t.notify(ctx, notify.KindError, "Deploy Failed", err.Error())
		return fmt.Errorf("%w: %w", ErrTriggerFailed, err)
	}
	st := t.rec.Initiate()
	if !t.canResolveLocked() {
		st = t.rec.Halt()
		t.logger.Warn("deployment triggered without a resolvable project; not polling")
	}
	t.emitLocked(st)
	t.startSessionLocked()
	t.mu.Unlock()

	t.logger.Info("deployment triggered")
	t.notify(ctx, notify.KindSuccess, "Success!", "Triggered Deployment: "+target.Name)
	return nil
}

// canResolveLocked reports whether a project id is known or still expected.
func (t *Tracker) canResolveLocked() bool {
	if t.target.ProjectID != "" || t.rec.State().IsResolvingProject {
		return true
	}
	return !t.mounted && t.target.HasCredentials()
}

// RemoveDeployment deletes the record through the configured Remover and
// reports the outcome to the notifier. It returns ErrBusy while the tracker is
// busy.
func (t *Tracker) RemoveDeployment(ctx context.Context, id string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.remover == nil {
		t.mu.Unlock()
		return ErrNoRemover
	}
	if t.rec.State().Busy() {
		t.mu.Unlock()
		return ErrBusy
	}
	t.emitLocked(t.rec.SetRemoving(true))
	name := t.target.Name
	t.mu.Unlock()

	err := t.remover.Remove(ctx, id)

	t.mu.Lock()
	if !t.closed {
		t.emitLocked(t.rec.SetRemoving(false))
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Warn("deployment removal failed", "id", id, "error", err)
		t.notify(ctx, notify.KindError, "Remove Failed", err.Error())
		return err
	}
	t.onRemoved(ctx, name)
	return nil
}

func (t *Tracker) onRemoved(ctx context.Context, name string) {
	t.logger.Info("deployment removed")
	t.notify(ctx, notify.KindSuccess, "Success!", "Deleted Deployment: "+name)
}

// Close stops polling, cancels in-flight requests and waits for background
// work. Results that arrive afterwards are dropped.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	sess := t.session
	t.session = nil
	t.mu.Unlock()

	t.cancel()
	sess.Stop()
	t.wg.Wait()
}

func (t *Tracker) startSessionLocked() {
	if t.closed || t.target.ProjectID == "" || !t.rec.State().IsPolling {
		return
	}
	t.stopSessionLocked()
	t.generation++
	target := t.target
	fetch := func(ctx context.Context) (*domain.Record, error) {
		dep, err := t.api.LatestDeployment(ctx, target.ProjectID, target.Token, target.TeamID)
		if errors.Is(err, vercel.ErrNoDeployments) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		rec := RecordFromDeployment(dep)
		return &rec, nil
	}
	t.session = t.sched.Start(t.ctx, fetch, sessionHandler{t: t, generation: t.generation})
	t.logger.Debug("polling session started", "generation", t.generation)
}

// stopSessionLocked cancels without waiting; the session goroutine may be
// blocked on mu and will notice the generation change.
func (t *Tracker) stopSessionLocked() {
	if t.session == nil {
		return
	}
	t.session.Cancel()
	t.session = nil
	t.generation++
}

func (t *Tracker) emitLocked(st domain.State) {
	if t.observe != nil {
		t.observe(st)
	}
}

func (t *Tracker) notify(ctx context.Context, kind notify.Kind, title, message string) {
	n := notify.Notification{Kind: kind, Title: title, Message: message, Target: t.target.Name, At: time.Now().UTC()}
	if err := t.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		t.logger.Warn("notification failed", "title", title, "error", err)
	}
}

type sessionHandler struct {
	t          *Tracker
	generation uint64
}

func (h sessionHandler) live() bool {
	return !h.t.closed && h.generation == h.t.generation
}

func (h sessionHandler) Deliver(rec domain.Record) bool {
	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if !h.live() {
		return true
	}
	st, stop, err := t.rec.Apply(rec)
	if errors.Is(err, reconcile.ErrStaleRead) {
		t.logger.Debug("ignoring stale deployment status", "state", rec.State, "deployment", rec.UID)
		return false
	}
	t.emitLocked(st)
	if stop {
		t.logger.Info("deployment reached terminal state", "status", st.Status, "deployment", rec.UID)
		t.session = nil
	}
	return stop
}

func (h sessionHandler) Exhausted(err error) {
	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if !h.live() {
		return
	}
	t.logger.Warn("deployment status unavailable", "error", err)
	t.emitLocked(t.rec.Exhaust())
	t.session = nil
}

// RecordFromDeployment converts an API deployment into a domain record.
func RecordFromDeployment(dep vercel.Deployment) domain.Record {
	return domain.Record{
		UID:       dep.UID,
		Name:      dep.Name,
		URL:       dep.URL,
		State:     domain.Status(dep.Status()),
		Creator:   dep.Creator.Username,
		Target:    dep.Target,
		CreatedAt: dep.CreatedAt(),
		ReadyAt:   dep.ReadyAt(),
	}
}

func errorMessage(err error) string {
	var apiErr *vercel.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
