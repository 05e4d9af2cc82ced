// Package taskqueue manages named, scheduled HTTP push tasks in a remote queue.
//
// The remote queue offers only create-by-name and delete-by-name. The Client
// layers retry on create, soft handling of missing tasks and denied
// permissions on delete, and an edit built from the two primitives.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"campaigntasks/internal/config"
	"campaigntasks/internal/types"
	"campaigntasks/pkg/backoff"
)

// Task is the descriptor handed to a Backend. Every task is an HTTP POST of
// Body to URL, authenticated with an identity token for ServiceAccount whose
// audience is Audience.
type Task struct {
	// Name is the fully-qualified task name.
	Name           string     `json:"name"`
	URL            string     `json:"url"`
	Body           []byte     `json:"body"`
	ScheduleTime   *time.Time `json:"schedule_time,omitempty"`
	ServiceAccount string     `json:"service_account"`
	Audience       string     `json:"audience"`
}

// Backend is the remote push queue. Implementations classify failures by
// wrapping the sentinel errors in this package.
type Backend interface {
	CreateTask(ctx context.Context, queuePath string, task Task) (*types.TaskHandle, error)
	DeleteTask(ctx context.Context, name string) error
}

// Recorder receives one observation per completed task operation.
type Recorder interface {
	RecordTaskOperation(op, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RecordTaskOperation(string, string) {}

// RetryPolicy bounds create retries. Attempts counts the first try; the wait
// before retry n is min(Unit*2^(n-1), Max).
type RetryPolicy struct {
	Attempts int
	Unit     time.Duration
	Max      time.Duration
}

// Client creates, edits and deletes tasks in the configured queue.
type Client struct {
	backend  Backend
	cfg      config.TasksConfig
	logger   *slog.Logger
	retry    RetryPolicy
	sleepFn  func(context.Context, time.Duration) error
	recorder Recorder
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy overrides the retry settings taken from configuration.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithSleepFunc overrides the wait between create attempts.
// This is intended for testing to avoid real delays.
func WithSleepFunc(fn func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		c.sleepFn = fn
	}
}

// WithRecorder reports operation outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// NewClient returns a Client bound to backend. It fails with a
// *config.ConfigError when any required queue setting is missing, so a
// misconfigured process never serves a request.
func NewClient(backend Backend, cfg config.TasksConfig, logger *slog.Logger, opts ...Option) (*Client, error) {
	if err := cfg.Require(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.New("taskqueue: backend is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		backend: backend,
		cfg:     cfg,
		logger:  logger.With("component", "taskqueue"),
		retry: RetryPolicy{
			Attempts: cfg.CreateAttempts,
			Unit:     cfg.BackoffUnit,
			Max:      cfg.BackoffMax,
		},
		sleepFn:  sleepContext,
		recorder: noopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.Attempts < 1 {
		c.retry.Attempts = 1
	}
	return c, nil
}

// DefaultQueue returns the queue used when an operation names none.
func (c *Client) DefaultQueue() string {
	return c.cfg.QueueName
}

// TaskPath returns the fully-qualified name of task taskName in queue.
func (c *Client) TaskPath(queue, taskName string) string {
	return c.cfg.QueuePath(c.queueOrDefault(queue)) + "/tasks/" + taskName
}

func (c *Client) queueOrDefault(queue string) string {
	if queue == "" {
		return c.cfg.QueueName
	}
	return queue
}

// Create enqueues payload as the JSON body of a task named taskName. A nil
// scheduleTime delivers as soon as possible. An empty queue selects the
// default queue.
//
// Failures that may be transient are retried; the last error is returned
// wrapped in an *OperationError.
func (c *Client) Create(ctx context.Context, payload any, taskName string, scheduleTime *time.Time, queue string) (*types.TaskHandle, error) {
	queue = c.queueOrDefault(queue)
	opErr := &OperationError{
		Op:           OpCreate,
		Queue:        queue,
		TaskName:     taskName,
		Payload:      payload,
		ScheduleTime: scheduleTime,
	}

	if taskName == "" {
		opErr.Err = ErrEmptyTaskName
		c.recorder.RecordTaskOperation(string(OpCreate), "error")
		return nil, opErr
	}

	body, err := json.Marshal(payload)
	if err != nil {
		opErr.Err = fmt.Errorf("encode payload: %w", err)
		c.recorder.RecordTaskOperation(string(OpCreate), "error")
		return nil, opErr
	}

	task := Task{
		Name:           c.TaskPath(queue, taskName),
		URL:            c.cfg.TargetURL,
		Body:           body,
		ScheduleTime:   scheduleTime,
		ServiceAccount: c.cfg.ServiceAccount,
		Audience:       c.cfg.TargetURL,
	}
	queuePath := c.cfg.QueuePath(queue)

	var lastErr error
	for attempt := 1; attempt <= c.retry.Attempts; attempt++ {
		opErr.Attempts = attempt

		handle, err := c.backend.CreateTask(ctx, queuePath, task)
		if err == nil {
			c.logger.InfoContext(ctx, "task created",
				"queue", queue,
				"task", task.Name,
				"schedule_time", scheduleTime,
				"attempt", attempt,
			)
			c.recorder.RecordTaskOperation(string(OpCreate), "success")
			return handle, nil
		}
		lastErr = err

		if !retryable(err) || attempt == c.retry.Attempts {
			break
		}

		wait := backoff.Exponential(c.retry.Unit, c.retry.Max, attempt)
		c.logger.WarnContext(ctx, "task create failed, retrying",
			"queue", queue,
			"task", task.Name,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
		if err := c.sleepFn(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}

	opErr.Err = lastErr
	c.logger.ErrorContext(ctx, "task creation failed",
		"queue", queue,
		"task", task.Name,
		"payload", payload,
		"schedule_time", scheduleTime,
		"attempts", opErr.Attempts,
		"error", lastErr,
	)
	c.recorder.RecordTaskOperation(string(OpCreate), "error")
	return nil, opErr
}

// Delete removes the task named taskName. A task that is already gone and a
// delete the caller is not permitted to perform are both reported as outcomes
// rather than errors; any other failure is returned as an *OperationError.
func (c *Client) Delete(ctx context.Context, taskName, queue string) (types.DeleteOutcome, error) {
	queue = c.queueOrDefault(queue)
	if taskName == "" {
		c.recorder.RecordTaskOperation(string(OpDelete), "error")
		return types.DeleteOutcomeAlreadyAbsent, &OperationError{Op: OpDelete, Queue: queue, Err: ErrEmptyTaskName}
	}
	name := c.TaskPath(queue, taskName)

	err := c.backend.DeleteTask(ctx, name)
	switch {
	case err == nil:
		c.logger.InfoContext(ctx, "task deleted", "queue", queue, "task", name)
		c.recorder.RecordTaskOperation(string(OpDelete), types.DeleteOutcomeDeleted.String())
		return types.DeleteOutcomeDeleted, nil

	case errors.Is(err, ErrTaskNotFound), errors.Is(err, ErrQueueNotFound):
		c.logger.InfoContext(ctx, "task already absent", "queue", queue, "task", name)
		c.recorder.RecordTaskOperation(string(OpDelete), types.DeleteOutcomeAlreadyAbsent.String())
		return types.DeleteOutcomeAlreadyAbsent, nil

	case errors.Is(err, ErrPermissionDenied):
		c.logger.WarnContext(ctx, "permission denied deleting task, leaving it in place",
			"queue", queue,
			"task", name,
			"error", err,
		)
		c.recorder.RecordTaskOperation(string(OpDelete), types.DeleteOutcomePermissionDenied.String())
		return types.DeleteOutcomePermissionDenied, nil

	default:
		c.logger.ErrorContext(ctx, "task deletion failed", "queue", queue, "task", name, "error", err)
		c.recorder.RecordTaskOperation(string(OpDelete), "error")
		return types.DeleteOutcomeAlreadyAbsent, &OperationError{
			Op:       OpDelete,
			Queue:    queue,
			TaskName: taskName,
			Attempts: 1,
			Err:      err,
		}
	}
}

// Edit replaces the task named taskName with one carrying payload and
// scheduleTime. The queue has no update primitive, so Edit deletes and then
// re-creates. When the delete finds nothing to remove, Edit creates nothing
// and returns a nil handle.
func (c *Client) Edit(ctx context.Context, payload any, taskName string, scheduleTime *time.Time, queue string) (*types.TaskHandle, error) {
	queue = c.queueOrDefault(queue)
	wrap := func(err error) error {
		return &OperationError{
			Op:           OpEdit,
			Queue:        queue,
			TaskName:     taskName,
			Payload:      payload,
			ScheduleTime: scheduleTime,
			Err:          err,
		}
	}

	outcome, err := c.Delete(ctx, taskName, queue)
	if err != nil {
		c.recorder.RecordTaskOperation(string(OpEdit), "error")
		return nil, wrap(err)
	}
	if !outcome.Existed() {
		c.logger.InfoContext(ctx, "no task to edit",
			"queue", queue,
			"task", taskName,
			"outcome", outcome.String(),
		)
		c.recorder.RecordTaskOperation(string(OpEdit), "noop")
		return nil, nil
	}

	handle, err := c.Create(ctx, payload, taskName, scheduleTime, queue)
	if err != nil {
		// The old task is already gone; nothing will fire for this name.
		c.logger.ErrorContext(ctx, "task lost during edit: deleted but not re-created",
			"queue", queue,
			"task", taskName,
			"schedule_time", scheduleTime,
			"error", err,
		)
		c.recorder.RecordTaskOperation(string(OpEdit), "lost")
		return nil, wrap(err)
	}
	c.recorder.RecordTaskOperation(string(OpEdit), "success")
	return handle, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
