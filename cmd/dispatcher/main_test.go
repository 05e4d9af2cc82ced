package main

import (
	"testing"
	"time"
)

func TestRunCommandFlags(t *testing.T) {
	root := newRootCmd()
	run, _, err := root.Find([]string{"run"})
	if err != nil {
		t.Fatalf("run command not registered: %v", err)
	}

	if err := run.ParseFlags([]string{"--interval=250ms", "--max-attempts=3", "--base-backoff=1s", "--max-backoff=10s"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	checks := map[string]string{
		"interval":     "250ms",
		"max-attempts": "3",
		"base-backoff": "1s",
		"max-backoff":  "10s",
		"batch-size":   "64",
		"timeout":      "30s",
		"claim-ttl":    "5m0s",
	}
	for name, want := range checks {
		if got := run.Flags().Lookup(name).Value.String(); got != want {
			t.Errorf("--%s = %s, want %s", name, got, want)
		}
	}
}

func TestRunOptions_DispatchConfig(t *testing.T) {
	opts := runOptions{
		interval:    time.Second,
		batchSize:   8,
		maxAttempts: 4,
		baseBackoff: time.Second,
		maxBackoff:  time.Minute,
		claimTTL:    2 * time.Minute,
	}

	cfg := opts.dispatchConfig()

	if cfg.Interval != time.Second || cfg.BatchSize != 8 || cfg.MaxAttempts != 4 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.ClaimTTL != 2*time.Minute {
		t.Errorf("ClaimTTL = %v, want 2m", cfg.ClaimTTL)
	}
	if cfg.BaseBackoff != time.Second || cfg.MaxBackoff != time.Minute {
		t.Errorf("unexpected backoff: %+v", cfg)
	}
}

func TestNewLogger_FallsBackToInfo(t *testing.T) {
	if newLogger("verbose") == nil {
		t.Fatal("expected a logger")
	}
	if !newLogger("debug").Enabled(t.Context(), -4) {
		t.Error("debug logger should enable debug records")
	}
}
