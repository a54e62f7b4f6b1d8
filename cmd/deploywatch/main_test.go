package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/go-cmp/cmp"

	"github.com/splax/deploywatch/internal/domain"
	"github.com/splax/deploywatch/internal/poll"
	"github.com/splax/deploywatch/pkg/vercel"
)

type scriptedAPI struct {
	mu         sync.Mutex
	states     []string
	triggered  int
	resolveErr error
	triggerErr error
}

func (a *scriptedAPI) ResolveProject(ctx context.Context, name, token, teamID string) (string, error) {
	if a.resolveErr != nil {
		return "", a.resolveErr
	}
	return "prj_" + name, nil
}

func (a *scriptedAPI) LatestDeployment(ctx context.Context, projectID, token, teamID string) (vercel.Deployment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.states) == 0 {
		return vercel.Deployment{}, vercel.ErrNoDeployments
	}
	state := a.states[0]
	if len(a.states) > 1 {
		a.states = a.states[1:]
	}
	return vercel.Deployment{UID: "dpl_1", State: state}, nil
}

func (a *scriptedAPI) TriggerHook(ctx context.Context, hookURL string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.triggered++
	return a.triggerErr
}

func fastScheduler() *poll.Scheduler {
	return poll.New(clock.NewClock(), poll.Config{Interval: 5 * time.Millisecond, MaxConsecutiveFailures: 2}, nil, nil)
}

func testTarget() domain.Target {
	return domain.Target{Name: "site", TriggerURL: "https://hooks.example/x", ProjectName: "site", Token: "tok"}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploywatch", "config.json")

	cfg, err := readConfig(path)
	if err != nil {
		t.Fatalf("readConfig missing file: %v", err)
	}
	if cfg.DaemonURL != defaultDaemonURL {
		t.Fatalf("expected default daemon url, got %q", cfg.DaemonURL)
	}

	want := cliConfig{VercelToken: "tok", TeamID: "team_1", DaemonURL: "http://daemon:4100", DaemonToken: "jwt"}
	if err := writeConfig(path, want); err != nil {
		t.Fatalf("writeConfig: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
	got, err := readConfig(path)
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestFollowDeployUntilReady(t *testing.T) {
	// the first READY predates the trigger and is ignored.
	api := &scriptedAPI{states: []string{"READY", "BUILDING", "READY"}}
	var out bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := follow(ctx, followOptions{
		Target:    testTarget(),
		API:       api,
		Scheduler: fastScheduler(),
		Deploy:    true,
		Out:       &out,
	})
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if st.Status != "READY" {
		t.Fatalf("expected READY, got %s", st.Status)
	}
	if api.triggered != 1 {
		t.Fatalf("expected one trigger, got %d", api.triggered)
	}
	text := out.String()
	for _, want := range []string{"Triggered Deployment: site", "Initiated", "Building", "Ready"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
	if err := outcome(st, domain.DefaultClassifier()); err != nil {
		t.Fatalf("expected success outcome, got %v", err)
	}
}

func TestFollowWithoutDeployReportsLatest(t *testing.T) {
	api := &scriptedAPI{states: []string{"ERROR"}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := follow(ctx, followOptions{Target: testTarget(), API: api, Scheduler: fastScheduler()})
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if api.triggered != 0 {
		t.Fatalf("watch must not trigger the hook")
	}
	if err := outcome(st, domain.DefaultClassifier()); err == nil {
		t.Fatalf("expected ERROR to fail the command")
	}
}

func TestFollowTriggerFailure(t *testing.T) {
	api := &scriptedAPI{triggerErr: errors.New("hook rejected")}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	_, err := follow(ctx, followOptions{Target: testTarget(), API: api, Scheduler: fastScheduler(), Deploy: true, Out: &out})
	if err == nil || !strings.Contains(err.Error(), "hook rejected") {
		t.Fatalf("expected trigger error, got %v", err)
	}
	if !strings.Contains(out.String(), "Deploy Failed") {
		t.Fatalf("expected failure notification, got %q", out.String())
	}
}

func TestFollowResolutionFailure(t *testing.T) {
	api := &scriptedAPI{resolveErr: errors.New("project not found")}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := follow(ctx, followOptions{Target: testTarget(), API: api, Scheduler: fastScheduler()})
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	err = outcome(st, domain.Classifier{})
	if err == nil || !strings.Contains(err.Error(), "project not found") {
		t.Fatalf("expected resolution message, got %v", err)
	}
}

func TestOutcome(t *testing.T) {
	classifier := domain.NewClassifier([]string{"READY", "PROMOTED"}, []string{"ERROR"})
	cases := []struct {
		status domain.Status
		fails  bool
	}{
		{"READY", false},
		{"PROMOTED", false},
		{"ERROR", true},
		{domain.StatusInactive, true},
		{"BUILDING", false},
	}
	for _, tc := range cases {
		err := outcome(domain.State{Status: tc.status}, classifier)
		if (err != nil) != tc.fails {
			t.Errorf("status %s: unexpected outcome %v", tc.status, err)
		}
	}
}
