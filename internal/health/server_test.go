package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestServer_handleHealth(t *testing.T) {
	s := New(0)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %q", resp.Status)
	}
}

func TestServer_handleReady_NoCheckers(t *testing.T) {
	s := New(0)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != StatusReady {
		t.Errorf("expected status %q, got %q", StatusReady, resp.Status)
	}
}

func TestServer_handleReady_AllHealthy(t *testing.T) {
	s := New(0)

	s.RegisterChecker("manager", func(ctx context.Context) error { return nil })
	s.RegisterChecker("config", func(ctx context.Context) error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != StatusReady {
		t.Errorf("expected status %q, got %q", StatusReady, resp.Status)
	}

	if len(resp.Components) != 2 {
		t.Errorf("expected 2 components, got %d", len(resp.Components))
	}

	for _, c := range resp.Components {
		if !c.Healthy {
			t.Errorf("component %s should be healthy", c.Name)
		}
	}
}

func TestServer_handleReady_Unhealthy(t *testing.T) {
	s := New(0)

	s.RegisterChecker("manager", func(ctx context.Context) error {
		return errors.New("session pool unavailable")
	})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != StatusNotReady {
		t.Errorf("expected status %q, got %q", StatusNotReady, resp.Status)
	}

	if len(resp.Components) != 1 {
		t.Fatalf("expected 1 component, got %d", len(resp.Components))
	}

	if resp.Components[0].Healthy {
		t.Error("component should be unhealthy")
	}
	if resp.Components[0].Error == "" {
		t.Error("expected component error message")
	}
}

func TestServer_handleConnections(t *testing.T) {
	s := New(0, WithStatus(func() Status {
		return Status{
			Active: []ConnectionStatus{
				{Name: "build-box", Home: "/home/ci", Filesystems: 1, Terminals: 2},
			},
			Pending: []string{"staging"},
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/connections", nil)
	w := httptest.NewRecorder()

	s.handleConnections(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var status Status
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if len(status.Active) != 1 || status.Active[0].Name != "build-box" {
		t.Errorf("unexpected active set: %+v", status.Active)
	}
	if len(status.Pending) != 1 || status.Pending[0] != "staging" {
		t.Errorf("unexpected pending set: %+v", status.Pending)
	}
}

func TestServer_handleConnections_NoSource(t *testing.T) {
	s := New(0)

	req := httptest.NewRequest(http.MethodGet, "/connections", nil)
	w := httptest.NewRecorder()

	s.handleConnections(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}
