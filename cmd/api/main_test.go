package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"campaigntasks/internal/auth"
	"campaigntasks/internal/config"
	"campaigntasks/internal/core"
	"campaigntasks/internal/taskqueue"
	"campaigntasks/internal/types"
)

type nopBackend struct{}

func (nopBackend) CreateTask(_ context.Context, _ string, task taskqueue.Task) (*types.TaskHandle, error) {
	return &types.TaskHandle{Name: task.Name}, nil
}

func (nopBackend) DeleteTask(context.Context, string) error { return taskqueue.ErrTaskNotFound }

type nopStore struct{}

func (nopStore) RPC(context.Context, string, map[string]any) (json.RawMessage, error) {
	return json.RawMessage(`"c1"`), nil
}
func (nopStore) Create(context.Context, string, map[string]any) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}
func (nopStore) Update(context.Context, string, map[string]any) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}
func (nopStore) Delete(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "local",
		LogLevel:    "error",
		Server: config.ServerConfig{
			Port:               "8080",
			CorsAllowedOrigins: []string{"*"},
			RequestTimeout:     5 * time.Second,
		},
		Tasks: config.TasksConfig{
			ProjectID:      "proj",
			Region:         "us-central1",
			TargetURL:      "https://executor.example.com/run",
			ServiceAccount: "tasks@proj.iam.gserviceaccount.com",
			QueueName:      "surveys",
			CreateAttempts: 1,
		},
		Store: config.StoreConfig{
			Backend: "rest",
			BaseURL: "https://db.example.com",
			APIKey:  config.SecretString("anon-key"),
			Timeout: time.Second,
		},
		Auth: config.AuthConfig{
			Verifier:  "jwt",
			JWTSecret: config.SecretString("test-secret-with-enough-length"),
			Audience:  "authenticated",
		},
		Build: config.BuildInfo{Version: "test"},
	}
}

func testDeps(t *testing.T, cfg *config.Config) *dependencies {
	t.Helper()
	verifier, err := newVerifier(cfg, discardLogger())
	if err != nil {
		t.Fatalf("newVerifier: %v", err)
	}
	return &dependencies{
		backend:  nopBackend{},
		store:    nopStore{},
		verifier: verifier,
		probes: []core.HealthProbe{
			core.ProbeFunc{ProbeName: "store", Fn: func(context.Context) error { return nil }},
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewServer_Routes(t *testing.T) {
	cfg := testConfig()
	srv, err := newServer(cfg, discardLogger(), testDeps(t, cfg))
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	h := srv.Handler()

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodPost, "/campaigns", `{"action_type":"create_campaign"}`, http.StatusBadRequest},
		{http.MethodPost, "/tasks", `{"action":"create_task"}`, http.StatusBadRequest},
		{http.MethodOptions, "/campaigns", "", http.StatusNoContent},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s %s: got status %d, want %d; body: %s", tt.method, tt.path, rec.Code, tt.want, rec.Body.String())
		}
	}
}

func TestNewServer_HealthReportsVersion(t *testing.T) {
	cfg := testConfig()
	srv, err := newServer(cfg, discardLogger(), testDeps(t, cfg))
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestNewServer_MissingQueueConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Tasks.QueueName = ""
	cfg.Tasks.Region = ""

	_, err := newServer(cfg, discardLogger(), testDeps(t, cfg))

	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *config.ConfigError, got %v", err)
	}
	if !strings.Contains(cfgErr.Message, "REGION") || !strings.Contains(cfgErr.Message, "QUEUE_NAME") {
		t.Errorf("message %q does not name the missing variables", cfgErr.Message)
	}
}

func TestNewVerifier(t *testing.T) {
	t.Run("jwt", func(t *testing.T) {
		v, err := newVerifier(testConfig(), discardLogger())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := v.(*auth.JWTVerifier); !ok {
			t.Errorf("got %T, want *auth.JWTVerifier", v)
		}
	})

	t.Run("remote falls back to store url", func(t *testing.T) {
		cfg := testConfig()
		cfg.Auth.Verifier = "remote"
		v, err := newVerifier(cfg, discardLogger())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := v.(*auth.RemoteVerifier); !ok {
			t.Errorf("got %T, want *auth.RemoteVerifier", v)
		}
	})

	t.Run("remote without any url", func(t *testing.T) {
		cfg := testConfig()
		cfg.Auth.Verifier = "remote"
		cfg.Store.BaseURL = ""
		if _, err := newVerifier(cfg, discardLogger()); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger("prod", "warn", &buf).Info("hidden")
	newLogger("prod", "warn", &buf).Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record logged at warn level: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		t.Fatalf("production logger did not write JSON: %v", err)
	}
	if rec["msg"] != "shown" || rec["key"] != "value" {
		t.Errorf("unexpected record: %v", rec)
	}

	buf.Reset()
	newLogger("local", "debug", &buf).Debug("local line")
	if !strings.Contains(buf.String(), "local line") {
		t.Errorf("local logger output missing message: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestIsLambdaEnvironment(t *testing.T) {
	t.Setenv("AWS_LAMBDA_RUNTIME_API", "")
	if !isLambdaEnvironment() {
		t.Error("expected lambda environment when AWS_LAMBDA_RUNTIME_API is set")
	}
}
