// Package dispatch delivers tasks held by the Redis task backend.
//
// The managed push queue performs the HTTP delivery itself. When tasks are
// kept in Redis instead, a Dispatcher polls for due tasks, claims each one and
// POSTs its body to the task's URL, retrying failed deliveries with backoff.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"campaigntasks/internal/taskqueue"
	"campaigntasks/pkg/backoff"
)

const (
	headerTaskName   = "X-CloudTasks-TaskName"
	headerQueueName  = "X-CloudTasks-QueueName"
	headerRetryCount = "X-CloudTasks-TaskRetryCount"
	headerDeliveryID = "X-Delivery-Id"

	defaultInterval    = time.Second
	defaultBatchSize   = 64
	defaultMaxAttempts = 5
	defaultBaseBackoff = 2 * time.Second
	defaultMaxBackoff  = 5 * time.Minute
	defaultClaimTTL    = 5 * time.Minute
	defaultTimeout     = 30 * time.Second

	// bookkeepingTimeout bounds the store writes that follow a delivery.
	bookkeepingTimeout = 5 * time.Second
)

// Store is the part of the Redis backend the dispatcher drives.
type Store interface {
	DueTasks(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Claim(ctx context.Context, name string) (*taskqueue.QueuedTask, bool, error)
	Complete(ctx context.Context, name string) error
	Reschedule(ctx context.Context, qt *taskqueue.QueuedTask, at time.Time) error
	RequeueExpired(ctx context.Context, claimedBefore, dueAt time.Time) (int, error)
}

// Doer sends HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config controls polling and retry. A claim older than ClaimTTL belongs to a
// dispatcher that stopped mid-delivery; its task is made due again.
type Config struct {
	Interval    time.Duration
	BatchSize   int64
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	ClaimTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = defaultClaimTTL
	}
	return c
}

// Result counts what one poll did.
type Result struct {
	Delivered   int
	Rescheduled int
	Dropped     int
	Released    int
	Requeued    int
}

// Dispatcher polls a Store and delivers due tasks.
type Dispatcher struct {
	store   Store
	http    Doer
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	backoff func(base, max time.Duration, attempt int) time.Duration
}

// New returns a Dispatcher. A nil client uses an http.Client with a 30s
// timeout.
func New(store Store, client Doer, cfg Config, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:   store,
		http:    client,
		cfg:     cfg.withDefaults(),
		logger:  logger.With("component", "dispatcher"),
		now:     time.Now,
		backoff: backoff.ExponentialJitter,
	}
}

// Run polls until ctx is cancelled. Poll errors are logged and do not stop
// the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "dispatcher started",
		"interval", d.cfg.Interval,
		"max_attempts", d.cfg.MaxAttempts,
	)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := d.Poll(ctx); err != nil && ctx.Err() == nil {
			d.logger.ErrorContext(ctx, "poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll delivers every task due now, up to the batch size.
func (d *Dispatcher) Poll(ctx context.Context) (Result, error) {
	var res Result
	now := d.now()

	requeued, err := d.store.RequeueExpired(ctx, now.Add(-d.cfg.ClaimTTL), now)
	if err != nil {
		return res, err
	}
	if requeued > 0 {
		d.logger.WarnContext(ctx, "requeued tasks with expired claims", "count", requeued)
	}
	res.Requeued = requeued

	names, err := d.store.DueTasks(ctx, now, d.cfg.BatchSize)
	if err != nil {
		return res, err
	}

	for _, name := range names {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		qt, ok, err := d.store.Claim(ctx, name)
		if err != nil {
			d.logger.ErrorContext(ctx, "claim failed", "task", name, "error", err)
			continue
		}
		if !ok {
			continue
		}

		switch d.handle(ctx, qt) {
		case outcomeDelivered:
			res.Delivered++
		case outcomeRescheduled:
			res.Rescheduled++
		case outcomeDropped:
			res.Dropped++
		case outcomeReleased:
			res.Released++
		}
	}
	return res, nil
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeRescheduled
	outcomeDropped
	outcomeReleased
)

// handle delivers one claimed task and records the result. The store writes
// run on a context detached from ctx so that shutdown does not strand a claim.
func (d *Dispatcher) handle(ctx context.Context, qt *taskqueue.QueuedTask) outcome {
	log := d.logger.With("task", qt.Name, "attempt", qt.Attempts+1)

	err := d.deliver(ctx, qt)

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if err == nil {
		if err := d.store.Complete(bctx, qt.Name); err != nil {
			log.WarnContext(bctx, "delivered task could not be removed", "error", err)
		}
		log.InfoContext(bctx, "task delivered")
		return outcomeDelivered
	}

	// Interrupted by shutdown: hand the task back without spending an attempt.
	if ctx.Err() != nil {
		if err := d.store.Reschedule(bctx, qt, d.now()); err != nil {
			log.ErrorContext(bctx, "interrupted task not released; it is requeued when its claim expires", "error", err)
		} else {
			log.InfoContext(bctx, "delivery interrupted, task released")
		}
		return outcomeReleased
	}

	qt.Attempts++
	if qt.Attempts >= d.cfg.MaxAttempts {
		log.ErrorContext(bctx, "task dropped after final attempt", "error", err, "body", string(qt.Body))
		if err := d.store.Complete(bctx, qt.Name); err != nil {
			log.WarnContext(bctx, "dropped task could not be removed", "error", err)
		}
		return outcomeDropped
	}

	wait := d.backoff(d.cfg.BaseBackoff, d.cfg.MaxBackoff, qt.Attempts)
	if err := d.store.Reschedule(bctx, qt, d.now().Add(wait)); err != nil {
		log.ErrorContext(bctx, "reschedule failed; task is requeued when its claim expires", "error", err)
		return outcomeRescheduled
	}
	log.WarnContext(bctx, "delivery failed, rescheduled", "error", err, "wait", wait)
	return outcomeRescheduled
}

// deliver POSTs the task body. Any 2xx response is a success.
func (d *Dispatcher) deliver(ctx context.Context, qt *taskqueue.QueuedTask) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, qt.URL, bytes.NewReader(qt.Body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerTaskName, taskID(qt.Name))
	req.Header.Set(headerQueueName, queueID(qt.Name))
	req.Header.Set(headerRetryCount, strconv.Itoa(qt.Attempts))
	req.Header.Set(headerDeliveryID, uuid.NewString())

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("target responded %d", resp.StatusCode)
	}
	return nil
}

// taskID and queueID pick the short names out of a fully-qualified task name
// of the form projects/P/locations/L/queues/Q/tasks/T.
func taskID(name string) string {
	return segmentAfter(name, "tasks")
}

func queueID(name string) string {
	return segmentAfter(name, "queues")
}

func segmentAfter(name, key string) string {
	parts := strings.Split(name, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == key {
			return parts[i+1]
		}
	}
	return name
}
