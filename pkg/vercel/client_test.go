package vercel

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestResolveProjectSendsTokenAndTeam(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/projects/my-site" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("teamId"); got != "team_1" {
			t.Errorf("expected teamId team_1, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		_, _ = io.WriteString(w, `{"id":"prj_123","name":"my-site"}`)
	})

	id, err := c.ResolveProject(context.Background(), "my-site", "tok", "team_1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "prj_123" {
		t.Fatalf("expected prj_123, got %s", id)
	}
}

func TestResolveProjectOmitsEmptyTeam(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			t.Errorf("expected no query, got %q", r.URL.RawQuery)
		}
		_, _ = io.WriteString(w, `{"id":"prj_1"}`)
	})
	if _, err := c.ResolveProject(context.Background(), "site", "tok", ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}
}

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   error
		msg    string
	}{
		{http.StatusForbidden, `{"error":{"code":"forbidden","message":"Not authorized"}}`, ErrUnauthorized, "Not authorized"},
		{http.StatusNotFound, `{"error":{"code":"not_found","message":"Project not found"}}`, ErrNotFound, "Project not found"},
		{http.StatusBadGateway, `upstream down`, ErrNetwork, "upstream down"},
		{http.StatusTooManyRequests, `{"error":"slow down"}`, ErrNetwork, "slow down"},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, tc.body)
		})
		_, err := c.ResolveProject(context.Background(), "site", "tok", "")
		if !errors.Is(err, tc.kind) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.kind, err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("status %d: expected *APIError, got %T", tc.status, err)
		}
		if apiErr.Message != tc.msg {
			t.Fatalf("status %d: expected message %q, got %q", tc.status, tc.msg, apiErr.Message)
		}
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	c, err := New(base)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.LatestDeployment(context.Background(), "prj_1", "tok", "")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected a network error, got %v", err)
	}
}

func TestLatestDeploymentRequestsSingleRecord(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/v5/now/deployments" || q.Get("projectId") != "prj_1" || q.Get("limit") != "1" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = io.WriteString(w, `{"deployments":[{"uid":"dpl_1","name":"site","url":"site.vercel.app","state":"BUILDING","created":1700000000000,"creator":{"username":"ada"}}]}`)
	})

	dep, err := c.LatestDeployment(context.Background(), "prj_1", "tok", "")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if dep.UID != "dpl_1" || dep.Status() != "BUILDING" || dep.Creator.Username != "ada" {
		t.Fatalf("unexpected deployment %+v", dep)
	}
	if !dep.CreatedAt().Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("unexpected created time %s", dep.CreatedAt())
	}
	if dep.ReadyAt() != nil {
		t.Fatalf("expected nil ready time")
	}
}

func TestLatestDeploymentEmptyList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"deployments":[]}`)
	})
	if _, err := c.LatestDeployment(context.Background(), "prj_1", "tok", ""); !errors.Is(err, ErrNoDeployments) {
		t.Fatalf("expected ErrNoDeployments, got %v", err)
	}
}

func TestDeploymentStatusFallsBackToReadyState(t *testing.T) {
	if got := (Deployment{ReadyState: "READY"}).Status(); got != "READY" {
		t.Fatalf("expected READY, got %q", got)
	}
}

func TestTriggerHookPostsWithoutBody(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if len(body) != 0 {
			t.Errorf("expected empty body, got %q", body)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("hook requests must not carry the api token")
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"job":{"id":"job_1","state":"PENDING"}}`)
	})

	if err := c.TriggerHook(context.Background(), c.baseURL+"/v1/integrations/deploy/prj_1/abc"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one request, got %d", calls)
	}
}

func TestTriggerHookRejectsInvalidURL(t *testing.T) {
	c, _ := New("")
	if err := c.TriggerHook(context.Background(), "not a url"); err == nil {
		t.Fatalf("expected invalid url error")
	}
}
