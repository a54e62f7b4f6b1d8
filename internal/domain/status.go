package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Status is the displayed deployment status. Remote states are carried verbatim.
type Status string

const (
	// StatusUnknown means no data has arrived yet.
	StatusUnknown Status = ""
	// StatusInitiated means a deployment was triggered locally and the remote has
	// not confirmed it.
	StatusInitiated Status = "INITIATED"
	// StatusInactive means polling ran out of retries before a terminal state.
	StatusInactive Status = "INACTIVE"
	// StatusError is the error-like state used when project resolution fails.
	StatusError Status = "ERROR"
	// StatusReady is the default ready-like remote state.
	StatusReady Status = "READY"
	// StatusCanceled is an error-like remote state.
	StatusCanceled Status = "CANCELED"
)

// Label renders the status for people.
func (s Status) Label() string {
	switch s {
	case StatusUnknown:
		return "Loading"
	case StatusInactive:
		return "Status Inactive"
	default:
		return TitleCase(string(s))
	}
}

// TitleCase turns BUILDING into Building and QUEUED_UP into Queued Up.
func TitleCase(raw string) string {
	words := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return r == '_' || r == ' ' || r == '-'
	})
	for i, w := range words {
		first, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToTitle(first)) + w[size:]
	}
	return strings.Join(words, " ")
}

// Classifier decides which remote states end a polling session.
type Classifier struct {
	ready map[Status]struct{}
	error map[Status]struct{}
}

// NewClassifier builds a Classifier from literal state names. Empty lists fall
// back to READY and ERROR/CANCELED.
func NewClassifier(ready, errored []string) Classifier {
	if len(ready) == 0 {
		ready = []string{string(StatusReady)}
	}
	if len(errored) == 0 {
		errored = []string{string(StatusError), string(StatusCanceled)}
	}
	c := Classifier{
		ready: make(map[Status]struct{}, len(ready)),
		error: make(map[Status]struct{}, len(errored)+1),
	}
	for _, s := range ready {
		c.ready[Status(s)] = struct{}{}
	}
	for _, s := range errored {
		c.error[Status(s)] = struct{}{}
	}
	// resolution failures always surface as ERROR.
	c.error[StatusError] = struct{}{}
	return c
}

// DefaultClassifier uses READY as ready-like and ERROR/CANCELED as error-like.
func DefaultClassifier() Classifier {
	return NewClassifier(nil, nil)
}

// IsZero reports whether c was never built through NewClassifier.
func (c Classifier) IsZero() bool {
	return c.ready == nil
}

// IsReady reports whether s is ready-like.
func (c Classifier) IsReady(s Status) bool {
	_, ok := c.ready[s]
	return ok
}

// IsError reports whether s is error-like.
func (c Classifier) IsError(s Status) bool {
	_, ok := c.error[s]
	return ok
}

// IsTerminal reports whether polling stops for good once s is reached.
func (c Classifier) IsTerminal(s Status) bool {
	return c.IsReady(s) || c.IsError(s)
}
