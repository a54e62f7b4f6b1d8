package httpx

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

const deployRateWindow = time.Minute

// RateLimiter meters deploy triggers per bucket inside a fixed window.
type RateLimiter interface {
	Allow(bucket string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed    bool
	count      int
	retryAfter time.Duration
}

// deployBucket is the quota key of one token subject. Tokens without a
// subject share the anonymous bucket.
func deployBucket(subject string) string {
	if subject == "" {
		subject = "-"
	}
	return "deploy:" + subject
}

type quotaWindow struct {
	count   int
	resetAt time.Time
}

// memoryRateLimiter keeps one window per subject. Buckets are bounded by the
// number of distinct token subjects, so an expired window is simply
// overwritten by the next trigger of the same subject.
type memoryRateLimiter struct {
	clock   clock.Clock
	mu      sync.Mutex
	windows map[string]quotaWindow
}

// NewMemoryRateLimiter returns a process-local RateLimiter.
func NewMemoryRateLimiter() RateLimiter {
	return newMemoryRateLimiter(clock.NewClock())
}

func newMemoryRateLimiter(clk clock.Clock) *memoryRateLimiter {
	return &memoryRateLimiter{clock: clk, windows: make(map[string]quotaWindow)}
}

func (rl *memoryRateLimiter) Allow(bucket string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	now := rl.clock.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w := rl.windows[bucket]
	if !now.Before(w.resetAt) {
		w = quotaWindow{resetAt: now.Add(window)}
	}
	if w.count < limit {
		w.count++
		rl.windows[bucket] = w
		return rateDecision{allowed: true, count: w.count, retryAfter: w.resetAt.Sub(now)}
	}
	return rateDecision{count: w.count, retryAfter: w.resetAt.Sub(now)}
}

func (rl *memoryRateLimiter) Close() {}

// limitDeploys applies the per-subject trigger quota in front of next.
func (r *Router) limitDeploys(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.deployRateLimit <= 0 {
			next(w, req)
			return
		}
		var subject string
		if info, ok := authInfoFromContext(req.Context()); ok {
			subject = info.Subject
		}
		decision := r.limiter.Allow(deployBucket(subject), r.deployRateLimit, deployRateWindow)
		writeQuotaHeaders(w, r.deployRateLimit, decision)
		if !decision.allowed {
			r.rateLimitHits.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(decision.retryAfter)))
			writeError(w, http.StatusTooManyRequests, "deploy rate limit exceeded")
			return
		}
		next(w, req)
	}
}

func writeQuotaHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(limit-decision.count, 0)))
	if decision.retryAfter > 0 {
		h.Set("X-RateLimit-Reset", strconv.Itoa(retrySeconds(decision.retryAfter)))
	}
}

// retrySeconds rounds up so clients never retry inside the closed window.
func retrySeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	return max(secs, 1)
}
