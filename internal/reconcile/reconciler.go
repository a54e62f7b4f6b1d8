// Package reconcile holds the state machine that converges the locally known
// deployment with the status reported by the deploy API.
//
// States move UNKNOWN -> INITIATED -> remote states -> ready-like | error-like,
// with INACTIVE reachable from any polling state when the poll budget runs out.
// Ready-like and error-like states are terminal for a polling session.
package reconcile

import (
	"errors"
	"time"

	"github.com/splax/deploywatch/internal/domain"
)

// ErrStaleRead marks a record that still describes the deployment prior to the
// one just triggered. It never reaches users.
var ErrStaleRead = errors.New("reconcile: stale read")

// marker is the last status accepted from the remote during a polling session.
// Its zero value means nothing has been observed yet, which no Status can express.
type marker struct {
	status domain.Status
	set    bool
}

// Reconciler owns one tracker's state. It is not safe for concurrent use; the
// tracker serialises calls.
type Reconciler struct {
	classes  domain.Classifier
	state    domain.State
	observed marker
	now      func() time.Time
}

// New returns a Reconciler in the UNKNOWN state.
func New(classes domain.Classifier) *Reconciler {
	return &Reconciler{classes: classes, now: time.Now}
}

// State returns a copy of the current state.
func (r *Reconciler) State() domain.State {
	s := r.state
	if s.LastRecord != nil {
		rec := *s.LastRecord
		s.LastRecord = &rec
	}
	return s
}

// Apply folds a polled record into the state. It returns the new state and
// whether polling must stop. A stale read leaves the state untouched and
// returns ErrStaleRead.
func (r *Reconciler) Apply(rec domain.Record) (domain.State, bool, error) {
	if !r.observed.set && r.classes.IsReady(rec.State) {
		// the remote may still report the previous deployment right after a trigger.
		r.observed = marker{status: rec.State, set: true}
		return r.State(), false, ErrStaleRead
	}
	r.observed = marker{status: rec.State, set: true}
	r.state.Status = rec.State
	r.state.ErrorMessage = ""
	r.state.LastRecord = &rec
	r.touch()

	stop := r.classes.IsTerminal(rec.State)
	if stop {
		r.state.IsPolling = false
	}
	return r.State(), stop || !r.state.IsPolling, nil
}

// Initiate records a successful trigger and opens a new polling session.
func (r *Reconciler) Initiate() domain.State {
	r.observed = marker{}
	r.state.Status = domain.StatusInitiated
	r.state.ErrorMessage = ""
	r.state.IsPolling = true
	r.touch()
	return r.State()
}

// Load seeds the state from the deployment found at mount time. That record is
// current by definition, so it bypasses the stale guard and counts as observed.
func (r *Reconciler) Load(rec domain.Record) domain.State {
	r.observed = marker{status: rec.State, set: true}
	r.state.Status = rec.State
	r.state.ErrorMessage = ""
	r.state.LastRecord = &rec
	r.state.IsPolling = !r.classes.IsTerminal(rec.State)
	r.touch()
	return r.State()
}

// Fail surfaces a project resolution failure. Polling never starts afterwards.
func (r *Reconciler) Fail(message string) domain.State {
	r.state.Status = domain.StatusError
	r.state.ErrorMessage = message
	r.state.IsPolling = false
	r.state.IsResolvingProject = false
	r.touch()
	return r.State()
}

// Exhaust marks the status unavailable after the poll budget ran out.
func (r *Reconciler) Exhaust() domain.State {
	r.state.Status = domain.StatusInactive
	r.state.ErrorMessage = ""
	r.state.IsPolling = false
	r.touch()
	return r.State()
}

// Halt stops polling without touching the status, as after a failed trigger.
func (r *Reconciler) Halt() domain.State {
	r.state.IsPolling = false
	r.touch()
	return r.State()
}

// SetTriggering flags a deploy hook call in flight.
func (r *Reconciler) SetTriggering(triggering bool) domain.State {
	r.state.IsTriggering = triggering
	r.touch()
	return r.State()
}

// SetResolving flags an in-flight project lookup.
func (r *Reconciler) SetResolving(resolving bool) domain.State {
	r.state.IsResolvingProject = resolving
	r.touch()
	return r.State()
}

// Resolved stores the project id once the lookup succeeded.
func (r *Reconciler) Resolved(projectID string) domain.State {
	r.state.ProjectID = projectID
	r.state.IsResolvingProject = false
	r.touch()
	return r.State()
}

// SetRemoving flags an in-flight removal.
func (r *Reconciler) SetRemoving(removing bool) domain.State {
	r.state.IsRemoving = removing
	r.touch()
	return r.State()
}

func (r *Reconciler) touch() {
	r.state.UpdatedAt = r.now()
}
