package campaign

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"campaigntasks/internal/types"
)

// ErrInvalidAction is returned by the dispatch tables for an unknown action.
var ErrInvalidAction = errors.New("invalid action")

// ActionFunc executes one campaign action.
type ActionFunc func(ctx context.Context, req Request) (any, error)

// Campaign actions.
const (
	ActionCreateCampaign = "create_campaign"
	ActionEditCampaign   = "edit_campaign"
	ActionDeleteCampaign = "delete_campaign"
)

// Actions returns the campaign action table.
func (s *Service) Actions() map[string]ActionFunc {
	return map[string]ActionFunc{
		ActionCreateCampaign: s.Create,
		ActionEditCampaign:   s.Edit,
		ActionDeleteCampaign: s.Delete,
	}
}

// Dispatch returns the method handling action, or ErrInvalidAction.
func (s *Service) Dispatch(action string) (ActionFunc, error) {
	return lookup(s.Actions(), action)
}

func lookup[F any](table map[string]F, action string) (F, error) {
	fn, ok := table[action]
	if !ok {
		var zero F
		return zero, ErrInvalidAction
	}
	return fn, nil
}

// ActionNames lists the keys of table in sorted order.
func ActionNames[F any](table map[string]F) []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Task actions operate on tasks directly, without touching campaign records.
const (
	ActionCreateTask     = "create_task"
	ActionEditTask       = "edit_task"
	ActionDeleteTask     = "delete_task"
	ActionEditSchedule   = "edit_schedule"
	ActionDeleteSchedule = "delete_schedule"
)

// newScheduleTimeField carries the replacement time for edit_schedule.
const newScheduleTimeField = "new_schedule_time"

// TaskRequest is a validated task action request.
type TaskRequest struct {
	QueueName    string
	Payload      map[string]any
	ScheduleTime *time.Time
}

// TaskResult is the response of a task action.
type TaskResult struct {
	Message string `json:"message"`
	Task    string `json:"task,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}

// TaskActionFunc executes one task action.
type TaskActionFunc func(ctx context.Context, req TaskRequest) (*TaskResult, error)

// TaskActions runs task actions against the push queue. The task name is the
// payload's id; create_task generates one when the payload has none.
type TaskActions struct {
	tasks  TaskQueue
	newID  func() string
	logger *slog.Logger
}

// NewTaskActions returns TaskActions backed by tasks.
func NewTaskActions(tasks TaskQueue, logger *slog.Logger) *TaskActions {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskActions{
		tasks:  tasks,
		newID:  uuid.NewString,
		logger: logger.With("component", "task_actions"),
	}
}

// Actions returns the task action table.
func (a *TaskActions) Actions() map[string]TaskActionFunc {
	return map[string]TaskActionFunc{
		ActionCreateTask:     a.CreateTask,
		ActionEditTask:       a.EditTask,
		ActionDeleteTask:     a.DeleteTask,
		ActionEditSchedule:   a.EditSchedule,
		ActionDeleteSchedule: a.DeleteSchedule,
	}
}

// Dispatch returns the method handling action, or ErrInvalidAction.
func (a *TaskActions) Dispatch(action string) (TaskActionFunc, error) {
	return lookup(a.Actions(), action)
}

// CreateTask enqueues the payload under its id.
func (a *TaskActions) CreateTask(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	name, ok := types.PayloadID(req.Payload)
	if !ok {
		name = a.newID()
	}
	handle, err := a.tasks.Create(ctx, req.Payload, name, req.ScheduleTime, req.QueueName)
	if err != nil {
		return nil, err
	}
	return &TaskResult{Message: "Created task", Task: handle.Name}, nil
}

// EditTask replaces the task named by payload.id.
func (a *TaskActions) EditTask(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	return a.edit(ctx, req, req.ScheduleTime, "Edited task")
}

// EditSchedule replaces the task named by payload.id, due at
// payload.new_schedule_time.
func (a *TaskActions) EditSchedule(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	at, err := types.ParseScheduleTime(req.Payload[newScheduleTimeField])
	if err != nil {
		return nil, err
	}
	if at == nil {
		at = req.ScheduleTime
	}
	return a.edit(ctx, req, at, "Edited schedule")
}

// DeleteTask deletes the task named by payload.id.
func (a *TaskActions) DeleteTask(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	return a.delete(ctx, req, "Deleted task")
}

// DeleteSchedule deletes the task named by payload.id.
func (a *TaskActions) DeleteSchedule(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	return a.delete(ctx, req, "Deleted schedule")
}

func (a *TaskActions) edit(ctx context.Context, req TaskRequest, at *time.Time, message string) (*TaskResult, error) {
	name, err := requireID(req.Payload)
	if err != nil {
		return nil, err
	}
	handle, err := a.tasks.Edit(ctx, req.Payload, name, at, req.QueueName)
	if err != nil {
		return nil, err
	}
	result := &TaskResult{Message: message, Outcome: "replaced"}
	if handle == nil {
		result.Outcome = "absent"
	} else {
		result.Task = handle.Name
	}
	return result, nil
}

func (a *TaskActions) delete(ctx context.Context, req TaskRequest, message string) (*TaskResult, error) {
	name, err := requireID(req.Payload)
	if err != nil {
		return nil, err
	}
	outcome, err := a.tasks.Delete(ctx, name, req.QueueName)
	if err != nil {
		return nil, err
	}
	return &TaskResult{Message: message, Outcome: outcome.String()}, nil
}
