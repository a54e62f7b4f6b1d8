package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestGetIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("DW_TEST_INT", "nope")
	if got := GetInt("DW_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
	t.Setenv("DW_TEST_INT", "12")
	if got := GetInt("DW_TEST_INT", 7); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
}

func TestGetListTrimsAndDropsEmpty(t *testing.T) {
	t.Setenv("DW_TEST_LIST", " READY, ,DONE ")
	got := GetList("DW_TEST_LIST", []string{"x"})
	if diff := cmp.Diff([]string{"READY", "DONE"}, got); diff != "" {
		t.Fatalf("unexpected list (-want +got):\n%s", diff)
	}
	t.Setenv("DW_TEST_LIST", " , ")
	if diff := cmp.Diff([]string{"x"}, GetList("DW_TEST_LIST", []string{"x"})); diff != "" {
		t.Fatalf("expected fallback (-want +got):\n%s", diff)
	}
}

func TestLoadDaemonConfigDefaults(t *testing.T) {
	cfg := LoadDaemonConfig()
	if cfg.PollInterval != 3*time.Second {
		t.Fatalf("expected 3s default interval, got %s", cfg.PollInterval)
	}
	if cfg.PollMaxFailures != 5 {
		t.Fatalf("expected 5 failures budget, got %d", cfg.PollMaxFailures)
	}
	if diff := cmp.Diff([]string{"ERROR", "CANCELED"}, cfg.ErrorStates); diff != "" {
		t.Fatalf("unexpected error states (-want +got):\n%s", diff)
	}
}

func TestLoadWatchConfigOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL_MS", "250")
	t.Setenv("POLL_MAX_FAILURES", "2")
	cfg := LoadWatchConfig()
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", cfg.PollInterval)
	}
	if cfg.PollMaxFailures != 2 {
		t.Fatalf("expected 2, got %d", cfg.PollMaxFailures)
	}
}

func TestGetBoolFallsBackOnGarbage(t *testing.T) {
	t.Setenv("DB_AUTO_MIGRATE", "sometimes")
	if !LoadDaemonConfig().AutoMigrate {
		t.Fatalf("expected auto migrate to default on")
	}
	t.Setenv("DB_AUTO_MIGRATE", "false")
	if LoadDaemonConfig().AutoMigrate {
		t.Fatalf("expected auto migrate disabled")
	}
}
