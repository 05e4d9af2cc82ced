// Command dispatcher delivers tasks queued in Redis when the API runs with
// TASK_BACKEND=redis.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"campaigntasks/internal/config"
	"campaigntasks/internal/dispatch"
	"campaigntasks/internal/taskqueue"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "dispatcher",
		Short:         "Local push-queue dispatcher for the Redis task backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(&logLevel))
	return root
}

// runOptions are the flags of the run command.
type runOptions struct {
	interval    time.Duration
	batchSize   int64
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	claimTTL    time.Duration
	timeout     time.Duration
}

func (o runOptions) dispatchConfig() dispatch.Config {
	return dispatch.Config{
		Interval:    o.interval,
		BatchSize:   o.batchSize,
		MaxAttempts: o.maxAttempts,
		BaseBackoff: o.baseBackoff,
		MaxBackoff:  o.maxBackoff,
		ClaimTTL:    o.claimTTL,
	}
}

func newRunCmd(logLevel *string) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll Redis and deliver due tasks until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDispatcher(ctx, opts, newLogger(*logLevel))
		},
	}

	f := cmd.Flags()
	f.DurationVar(&opts.interval, "interval", time.Second, "Polling interval")
	f.Int64Var(&opts.batchSize, "batch-size", 64, "Maximum tasks delivered per poll")
	f.IntVar(&opts.maxAttempts, "max-attempts", 5, "Delivery attempts before a task is dropped")
	f.DurationVar(&opts.baseBackoff, "base-backoff", 2*time.Second, "Base retry backoff")
	f.DurationVar(&opts.maxBackoff, "max-backoff", 5*time.Minute, "Maximum retry backoff")
	f.DurationVar(&opts.claimTTL, "claim-ttl", 5*time.Minute, "Age after which an unfinished delivery is requeued")
	f.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Per-delivery HTTP timeout")
	return cmd
}

func runDispatcher(ctx context.Context, opts runOptions, logger *slog.Logger) error {
	rc, err := config.LoadRedisConfig()
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password.Unmask(),
		DB:       rc.DB,
	})
	defer rdb.Close()

	backend := taskqueue.NewRedisBackend(rdb, rc.KeyPrefix)
	if err := backend.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to redis at %s: %w", rc.Addr, err)
	}

	d := dispatch.New(backend, &http.Client{Timeout: opts.timeout}, opts.dispatchConfig(), logger)
	return d.Run(ctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: lvl, TimeFormat: time.Kitchen}))
}
