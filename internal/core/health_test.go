package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// mockHealthProbe implements HealthProbe for testing.
type mockHealthProbe struct {
	name     string
	checkErr error
	// delay simulates a slow dependency; Check blocks for this duration.
	delay  time.Duration
	panics bool
	called atomic.Bool
}

func (m *mockHealthProbe) Name() string { return m.name }

func (m *mockHealthProbe) Check(ctx context.Context) error {
	m.called.Store(true)
	if m.panics {
		panic("probe exploded")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.checkErr
}

func runHealth(t *testing.T, probes ...HealthProbe) (int, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.HealthProbes = probes

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	return rec.Code, body
}

func TestHandleHealth_NoProbes(t *testing.T) {
	code, body := runHealth(t)

	if code != http.StatusOK || body.Status != "healthy" {
		t.Errorf("expected 200 healthy, got %d %s", code, body.Status)
	}
	if len(body.Components) != 0 {
		t.Errorf("expected no components, got %v", body.Components)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	store := &mockHealthProbe{name: "store"}
	queue := &mockHealthProbe{name: "task_queue"}

	code, body := runHealth(t, store, queue)

	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if body.Components["store"].Status != "healthy" || body.Components["task_queue"].Status != "healthy" {
		t.Errorf("expected healthy components, got %v", body.Components)
	}
	if !store.called.Load() || !queue.called.Load() {
		t.Error("expected every probe to run")
	}
}

func TestHandleHealth_OneUnhealthy(t *testing.T) {
	code, body := runHealth(t,
		&mockHealthProbe{name: "store"},
		&mockHealthProbe{name: "task_queue", checkErr: errors.New("connection refused")},
	)

	if code != http.StatusServiceUnavailable || body.Status != "unhealthy" {
		t.Errorf("expected 503 unhealthy, got %d %s", code, body.Status)
	}
	if c := body.Components["task_queue"]; c.Status != "unhealthy" || c.Message != "connection refused" {
		t.Errorf("unexpected task_queue status %+v", c)
	}
	if body.Components["store"].Status != "healthy" {
		t.Errorf("expected store healthy, got %+v", body.Components["store"])
	}
}

func TestHandleHealth_Timeout(t *testing.T) {
	start := time.Now()
	code, body := runHealth(t, &mockHealthProbe{name: "slow", delay: 10 * time.Second})

	if elapsed := time.Since(start); elapsed > healthCheckTimeout+time.Second {
		t.Errorf("health check took %v, expected about %v", elapsed, healthCheckTimeout)
	}
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if body.Components["slow"].Status != "unhealthy" {
		t.Errorf("expected slow probe unhealthy, got %+v", body.Components["slow"])
	}
}

func TestHandleHealth_ProbePanic(t *testing.T) {
	code, body := runHealth(t, &mockHealthProbe{name: "broken", panics: true})

	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if c := body.Components["broken"]; c.Message != "probe panicked: probe exploded" {
		t.Errorf("unexpected message %q", c.Message)
	}
}

func TestProbeFunc(t *testing.T) {
	p := ProbeFunc{ProbeName: "redis", Fn: func(context.Context) error { return nil }}
	var _ HealthProbe = p

	if p.Name() != "redis" || p.Check(context.Background()) != nil {
		t.Error("ProbeFunc should delegate name and check")
	}
}
