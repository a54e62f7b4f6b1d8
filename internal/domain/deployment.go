package domain

import "time"

// Target identifies the deployment being tracked.
type Target struct {
	Name        string
	TriggerURL  string
	ProjectName string
	// ProjectID is resolved from ProjectName; polling never starts without it.
	ProjectID string
	Token     string
	TeamID    string
	TeamName  string
}

// HasCredentials reports whether the target can talk to the deploy API.
func (t Target) HasCredentials() bool {
	return t.Token != "" && t.ProjectName != ""
}

// Record is the most recent deployment as reported by the remote.
type Record struct {
	UID       string
	Name      string
	URL       string
	State     Status
	Creator   string
	Target    string
	CreatedAt time.Time
	ReadyAt   *time.Time
}

// State is a snapshot of one tracker's reconciliation state.
type State struct {
	Status             Status
	ErrorMessage       string
	IsPolling          bool
	IsTriggering       bool
	IsResolvingProject bool
	IsRemoving         bool
	ProjectID          string
	LastRecord         *Record
	UpdatedAt          time.Time
}

// Busy reports whether a trigger or removal must be refused.
func (s State) Busy() bool {
	return s.IsPolling || s.IsTriggering || s.IsResolvingProject || s.IsRemoving
}

// Settled reports whether no trigger, lookup or polling session is in flight.
func (s State) Settled() bool {
	return !s.IsPolling && !s.IsTriggering && !s.IsResolvingProject
}

// Label renders the status line shown next to a hook.
func (s State) Label() string {
	return s.Status.Label()
}
