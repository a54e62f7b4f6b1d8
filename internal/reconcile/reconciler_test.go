package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/splax/deploywatch/internal/domain"
)

func newTestReconciler() *Reconciler {
	r := New(domain.DefaultClassifier())
	fixed := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }
	return r
}

func record(state domain.Status) domain.Record {
	return domain.Record{UID: "dpl_" + string(state), State: state}
}

func TestApplyIgnoresFirstReadyAfterTrigger(t *testing.T) {
	r := newTestReconciler()
	r.Initiate()

	state, stop, err := r.Apply(record(domain.StatusReady))
	if !errors.Is(err, ErrStaleRead) {
		t.Fatalf("expected ErrStaleRead, got %v", err)
	}
	if stop {
		t.Fatalf("stale read must not stop polling")
	}
	if state.Status != domain.StatusInitiated || !state.IsPolling {
		t.Fatalf("expected INITIATED and polling, got %+v", state)
	}

	state, stop, err = r.Apply(record(domain.StatusReady))
	if err != nil {
		t.Fatalf("second ready must be trusted, got %v", err)
	}
	if !stop || state.Status != domain.StatusReady || state.IsPolling {
		t.Fatalf("expected READY and stopped, got %+v stop=%v", state, stop)
	}
}

func TestApplyIgnoresFirstReadyWhileUnknown(t *testing.T) {
	r := newTestReconciler()
	state, _, err := r.Apply(record(domain.StatusReady))
	if !errors.Is(err, ErrStaleRead) || state.Status != domain.StatusUnknown {
		t.Fatalf("expected UNKNOWN to survive a stale read, got %+v err=%v", state, err)
	}
}

func TestApplyTrustsReadyAfterProgress(t *testing.T) {
	r := newTestReconciler()
	r.Initiate()

	for _, s := range []domain.Status{"QUEUED", "BUILDING"} {
		state, stop, err := r.Apply(record(s))
		if err != nil || stop {
			t.Fatalf("%s: unexpected stop=%v err=%v", s, stop, err)
		}
		if state.Status != s || !state.IsPolling {
			t.Fatalf("%s: unexpected state %+v", s, state)
		}
	}
	state, stop, err := r.Apply(record(domain.StatusReady))
	if err != nil || !stop || state.Status != domain.StatusReady || state.IsPolling {
		t.Fatalf("expected terminal READY, got %+v stop=%v err=%v", state, stop, err)
	}
	if state.LastRecord == nil || state.LastRecord.UID != "dpl_READY" {
		t.Fatalf("expected last record to be kept, got %+v", state.LastRecord)
	}
}

func TestApplyErrorLikeIsTrustedImmediately(t *testing.T) {
	r := newTestReconciler()
	r.Initiate()
	state, stop, err := r.Apply(record(domain.StatusError))
	if err != nil || !stop || state.Status != domain.StatusError || state.IsPolling {
		t.Fatalf("expected terminal ERROR, got %+v stop=%v err=%v", state, stop, err)
	}
	if state.ErrorMessage != "" {
		t.Fatalf("polled errors never carry a message, got %q", state.ErrorMessage)
	}
}

func TestApplyTerminalIsIdempotent(t *testing.T) {
	r := newTestReconciler()
	r.Initiate()
	r.Apply(record("BUILDING"))
	first, _, _ := r.Apply(record(domain.StatusReady))

	for i := 0; i < 3; i++ {
		state, stop, err := r.Apply(record(domain.StatusReady))
		if err != nil || !stop {
			t.Fatalf("repeat %d: expected stop, got stop=%v err=%v", i, stop, err)
		}
		if diff := cmp.Diff(first, state); diff != "" {
			t.Fatalf("repeat %d changed state (-want +got):\n%s", i, diff)
		}
	}
}

func TestInitiateResetsMarker(t *testing.T) {
	r := newTestReconciler()
	r.Initiate()
	r.Apply(record("BUILDING"))
	r.Apply(record(domain.StatusReady))

	r.Initiate()
	state, _, err := r.Apply(record(domain.StatusReady))
	if !errors.Is(err, ErrStaleRead) || state.Status != domain.StatusInitiated {
		t.Fatalf("a new session must guard against the previous READY, got %+v err=%v", state, err)
	}
}

func TestLoadBypassesGuard(t *testing.T) {
	r := newTestReconciler()
	state := r.Load(record(domain.StatusReady))
	if state.Status != domain.StatusReady || state.IsPolling {
		t.Fatalf("expected terminal READY without polling, got %+v", state)
	}

	r = newTestReconciler()
	state = r.Load(record("BUILDING"))
	if state.Status != "BUILDING" || !state.IsPolling {
		t.Fatalf("expected BUILDING with polling, got %+v", state)
	}
	state, stop, err := r.Apply(record(domain.StatusReady))
	if err != nil || !stop || state.Status != domain.StatusReady {
		t.Fatalf("loaded state counts as observed, got %+v stop=%v err=%v", state, stop, err)
	}
}

func TestFailSetsErrorMessage(t *testing.T) {
	r := newTestReconciler()
	r.SetResolving(true)
	state := r.Fail("Project not found")
	want := domain.State{
		Status:       domain.StatusError,
		ErrorMessage: "Project not found",
		UpdatedAt:    state.UpdatedAt,
	}
	if diff := cmp.Diff(want, state); diff != "" {
		t.Fatalf("unexpected state (-want +got):\n%s", diff)
	}
}

func TestExhaustAndHalt(t *testing.T) {
	r := newTestReconciler()
	r.Initiate()
	r.Apply(record("BUILDING"))

	state := r.Exhaust()
	if state.Status != domain.StatusInactive || state.IsPolling {
		t.Fatalf("expected INACTIVE without polling, got %+v", state)
	}

	r = newTestReconciler()
	r.Load(record(domain.StatusReady))
	state = r.Halt()
	if state.Status != domain.StatusReady || state.IsPolling {
		t.Fatalf("halt must keep status, got %+v", state)
	}
}

func TestStateReturnsCopy(t *testing.T) {
	r := newTestReconciler()
	r.Load(record("BUILDING"))
	snap := r.State()
	snap.LastRecord.State = "MUTATED"
	if r.State().LastRecord.State != "BUILDING" {
		t.Fatalf("snapshot must not alias internal record")
	}
}
