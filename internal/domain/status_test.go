package domain

import "testing"

func TestStatusLabel(t *testing.T) {
	cases := map[Status]string{
		StatusUnknown:   "Loading",
		StatusInactive:  "Status Inactive",
		StatusInitiated: "Initiated",
		"BUILDING":      "Building",
		"QUEUED_UP":     "Queued Up",
	}
	for status, want := range cases {
		if got := status.Label(); got != want {
			t.Fatalf("%q.Label() = %q, want %q", status, got, want)
		}
	}
}

func TestTitleCaseMultibyteFirstRune(t *testing.T) {
	cases := map[string]string{
		"ÉTAPE_ÜBER":   "Étape Über",
		"état-final":   "État Final",
		"ǆungla":       "ǅungla",
		"BUILD_étape ": "Build Étape",
	}
	for in, want := range cases {
		if got := TitleCase(in); got != want {
			t.Fatalf("TitleCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClassifierDefaults(t *testing.T) {
	c := DefaultClassifier()
	if !c.IsReady(StatusReady) || c.IsError(StatusReady) {
		t.Fatalf("READY must be ready-like only")
	}
	for _, s := range []Status{StatusError, StatusCanceled} {
		if !c.IsError(s) || !c.IsTerminal(s) {
			t.Fatalf("%s must be error-like and terminal", s)
		}
	}
	for _, s := range []Status{StatusUnknown, StatusInitiated, "BUILDING", "QUEUED", StatusInactive} {
		if c.IsTerminal(s) {
			t.Fatalf("%q must not be terminal", s)
		}
	}
}

func TestClassifierCustomLiteralsKeepResolutionError(t *testing.T) {
	c := NewClassifier([]string{"DONE"}, []string{"FAILED"})
	if !c.IsReady("DONE") || c.IsReady(StatusReady) {
		t.Fatalf("expected only DONE to be ready-like")
	}
	if !c.IsError("FAILED") || !c.IsError(StatusError) {
		t.Fatalf("expected FAILED and ERROR to be error-like")
	}
}

func TestStateBusy(t *testing.T) {
	if (State{}).Busy() {
		t.Fatalf("zero state must not be busy")
	}
	for _, s := range []State{{IsPolling: true}, {IsTriggering: true}, {IsResolvingProject: true}, {IsRemoving: true}} {
		if !s.Busy() {
			t.Fatalf("expected %+v to be busy", s)
		}
	}
	if (State{IsTriggering: true}).Settled() || !(State{IsRemoving: true}).Settled() {
		t.Fatalf("a trigger in flight is unsettled; a removal is not tracked by Settled")
	}
}
