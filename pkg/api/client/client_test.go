package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewDefaultsScheme(t *testing.T) {
	c, err := New("localhost:4100/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.baseURL != "http://localhost:4100" {
		t.Fatalf("unexpected base url %q", c.baseURL)
	}
}

func TestDeployHookSendsBearer(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/hooks/h1/deploy" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer jwt" {
			t.Errorf("missing bearer token")
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "h1", "state": map[string]any{"status": "INITIATED", "is_polling": true}})
	}))
	hook, err := c.DeployHook(context.Background(), "jwt", "h1")
	if err != nil {
		t.Fatalf("DeployHook: %v", err)
	}
	if hook.State.Status != "INITIATED" || hook.State.Settled() {
		t.Fatalf("unexpected hook %+v", hook)
	}
}

func TestConflictSurfacesAsAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"deployment in progress"}`))
	}))
	_, err := c.DeployHook(context.Background(), "jwt", "h1")
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "deployment in progress") {
		t.Fatalf("expected server message, got %v", err)
	}
}

func TestDeleteHookAcceptsNoContent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	if err := c.DeleteHook(context.Background(), "jwt", "h1"); err != nil {
		t.Fatalf("DeleteHook: %v", err)
	}
}

func TestListDeploymentsPassesLimit(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/hooks/h1/deployments" || r.URL.Query().Get("limit") != "3" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{"uid": "dpl_1", "state": "READY"}})
	}))
	deps, err := c.ListDeployments(context.Background(), "jwt", "h1", 3)
	if err != nil {
		t.Fatalf("ListDeployments: %v", err)
	}
	if len(deps) != 1 || deps[0].UID != "dpl_1" {
		t.Fatalf("unexpected deployments %+v", deps)
	}
}

func TestFollowStopsWhenCallbackDeclines(t *testing.T) {
	upgrader := websocket.Upgrader{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "h1" || r.Header.Get("Authorization") != "Bearer jwt" {
			http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, status := range []string{"INITIATED", "BUILDING", "READY", "IGNORED"} {
			_ = conn.WriteJSON(map[string]any{"hook_id": "h1", "status": status, "is_polling": status != "READY"})
		}
		_, _, _ = conn.ReadMessage()
	}))

	var seen []string
	err := c.Follow(context.Background(), "jwt", "h1", func(st State) bool {
		seen = append(seen, st.Status)
		return !st.Settled()
	})
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if strings.Join(seen, ",") != "INITIATED,BUILDING,READY" {
		t.Fatalf("unexpected statuses %v", seen)
	}
}

func TestFollowHandshakeError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"authentication required"}`))
	}))
	err := c.Follow(context.Background(), "", "", func(State) bool { return true })
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 api error, got %v", err)
	}
	if apiErr.Message != "authentication required" {
		t.Fatalf("unexpected message %q", apiErr.Message)
	}
}
