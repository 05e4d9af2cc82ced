package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backend classification errors. Backends wrap their native errors with one of
// these so the client can decide between retrying, ignoring and failing.
var (
	// ErrTaskNotFound means the named task does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrQueueNotFound means the target queue does not exist.
	ErrQueueNotFound = errors.New("queue not found")
	// ErrPermissionDenied means the caller may not act on the task or queue.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTaskExists means a task with the same name already exists or was
	// deleted too recently for its name to be reused.
	ErrTaskExists = errors.New("task already exists")
	// ErrInvalidTask means the backend rejected the task descriptor itself.
	ErrInvalidTask = errors.New("invalid task")
	// ErrEmptyTaskName is returned when no task name is supplied.
	ErrEmptyTaskName = errors.New("task name must not be empty")
)

// Op names the task operation that failed.
type Op string

const (
	OpCreate Op = "create"
	OpEdit   Op = "edit"
	OpDelete Op = "delete"
)

// OperationError is returned when a task operation fails after retries or for a
// reason that cannot be retried. It carries the context needed to diagnose the
// failure without re-reading logs.
type OperationError struct {
	Op           Op
	Queue        string
	TaskName     string
	Payload      any
	ScheduleTime *time.Time
	Attempts     int
	Err          error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s task %q in queue %q: %v", e.Op, e.TaskName, e.Queue, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// retryable reports whether a create failure may succeed if attempted again.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrQueueNotFound),
		errors.Is(err, ErrTaskExists),
		errors.Is(err, ErrInvalidTask),
		errors.Is(err, ErrEmptyTaskName),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
