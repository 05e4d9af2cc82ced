package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds the whole health check.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one dependency the service cannot work without.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function to HealthProbe.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

func (p ProbeFunc) Name() string                    { return p.ProbeName }
func (p ProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs all probes concurrently under a shared deadline. It
// answers 200 when every probe succeeds and 503 otherwise; a probe still
// running at the deadline counts as failed.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "healthy"}
	if s.Config != nil {
		resp.Version = s.Config.Build.Version
	}

	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, resp)
		return
	}

	results := make([]chan error, len(probes))
	var wg sync.WaitGroup
	for i, probe := range probes {
		results[i] = make(chan error, 1)
		wg.Add(1)
		go func(p HealthProbe, out chan<- error) {
			defer wg.Done()
			defer func() {
				if rvr := recover(); rvr != nil {
					out <- fmt.Errorf("probe panicked: %v", rvr)
				}
			}()
			out <- p.Check(ctx)
		}(probe, results[i])
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	resp.Components = make(map[string]componentStatus, len(probes))
	status := http.StatusOK
	for i, probe := range probes {
		cs := componentStatus{Status: "healthy"}
		select {
		case err := <-results[i]:
			if err != nil {
				cs = componentStatus{Status: "unhealthy", Message: err.Error()}
			}
		default:
			cs = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		}
		if cs.Status != "healthy" {
			status = http.StatusServiceUnavailable
			resp.Status = "unhealthy"
		}
		resp.Components[probe.Name()] = cs
	}

	JSON(w, r, status, resp)
}
