package types

import "time"

// TaskHandle identifies a task accepted by the push queue.
type TaskHandle struct {
	// Name is the fully-qualified task name:
	// projects/{project}/locations/{region}/queues/{queue}/tasks/{task}.
	Name         string     `json:"name"`
	ScheduleTime *time.Time `json:"schedule_time,omitempty"`
}

// DeleteOutcome is the non-error result of deleting a task by name.
type DeleteOutcome int

const (
	// DeleteOutcomeDeleted means the task existed and was removed.
	DeleteOutcomeDeleted DeleteOutcome = iota
	// DeleteOutcomeAlreadyAbsent means the queue reported the task (or its
	// queue) as not found.
	DeleteOutcomeAlreadyAbsent
	// DeleteOutcomePermissionDenied means the caller lacks permission; the task
	// is left untouched and treated as not deleted.
	DeleteOutcomePermissionDenied
)

// Existed reports whether the delete removed a task.
func (o DeleteOutcome) Existed() bool {
	return o == DeleteOutcomeDeleted
}

func (o DeleteOutcome) String() string {
	switch o {
	case DeleteOutcomeDeleted:
		return "deleted"
	case DeleteOutcomeAlreadyAbsent:
		return "already_absent"
	case DeleteOutcomePermissionDenied:
		return "permission_denied"
	default:
		return "unknown"
	}
}
