// Package campaign keeps campaign records and their queued tasks consistent.
//
// An instant campaign owns exactly one pending task, named after the campaign
// id; a recurring campaign owns none. Records live in the backing store and
// tasks in the push queue; this package holds no state of its own.
package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"campaigntasks/internal/config"
	"campaigntasks/internal/core"
	"campaigntasks/internal/store"
	"campaigntasks/internal/types"
)

// rollbackTimeout bounds the compensating delete. It runs detached from the
// request context.
const rollbackTimeout = 5 * time.Second

const (
	campaignsTable    = "campaigns"
	createProcedure   = "create_campaign"
	scheduleTimeField = "schedule_time"
	cloudTaskIDField  = "cloud_task_id"
)

// TaskQueue is the push queue as seen by the orchestrator.
type TaskQueue interface {
	Create(ctx context.Context, payload any, taskName string, scheduleTime *time.Time, queue string) (*types.TaskHandle, error)
	Edit(ctx context.Context, payload any, taskName string, scheduleTime *time.Time, queue string) (*types.TaskHandle, error)
	Delete(ctx context.Context, taskName, queue string) (types.DeleteOutcome, error)
}

// Request is a validated action request. An empty QueueName selects the
// configured default queue.
type Request struct {
	QueueName string
	Payload   map[string]any
}

// CreateResult is returned by Create.
type CreateResult struct {
	ID          string `json:"id"`
	CloudTaskID string `json:"cloud_task_id,omitempty"`
}

// EditResult is returned by Edit.
type EditResult struct {
	ID           string          `json:"id"`
	Record       json.RawMessage `json:"record,omitempty"`
	TaskReplaced bool            `json:"task_replaced"`
}

// Service implements the campaign lifecycle.
type Service struct {
	tasks     TaskQueue
	store     store.Client
	validator *core.Validator
	logger    *slog.Logger
}

// NewService returns a Service. It fails with a *config.ConfigError naming
// every missing queue setting so that a misconfigured process never serves a
// request.
func NewService(cfg config.TasksConfig, tasks TaskQueue, st store.Client, validator *core.Validator, logger *slog.Logger) (*Service, error) {
	if err := cfg.Require(); err != nil {
		return nil, err
	}
	if tasks == nil || st == nil {
		return nil, fmt.Errorf("campaign: task queue and store are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = core.NewValidator(logger)
	}
	return &Service{
		tasks:     tasks,
		store:     st,
		validator: validator,
		logger:    logger.With("component", "campaign"),
	}, nil
}

// Create persists a new campaign through the store's create procedure. An
// instant campaign then gets a task named after the new id carrying the
// payload plus the id, due at the payload's schedule_time or immediately.
//
// If the task cannot be created the new record is deleted again and the task
// error is returned.
func (s *Service) Create(ctx context.Context, req Request) (any, error) {
	c, err := types.CampaignFromPayload(req.Payload)
	if err != nil {
		return nil, err
	}
	if result := s.validator.ValidateStruct(c); !result.IsValid() {
		return nil, result.AppError(types.ErrCodeValidationInvalidCampaign, "Invalid campaign")
	}
	scheduleTime, err := types.ParseScheduleTime(req.Payload[scheduleTimeField])
	if err != nil {
		return nil, err
	}

	raw, err := s.store.RPC(ctx, createProcedure, c.RPCParams())
	if err != nil {
		return nil, err
	}
	id, err := store.DecodeID(raw)
	if err != nil {
		return nil, err
	}
	log := s.logger.With("campaign_id", id, "type", c.Type)
	if sub, ok := types.GetSubject(ctx); ok {
		log = log.With("subject", sub)
	}

	if !c.IsInstant() {
		log.InfoContext(ctx, "campaign created")
		return &CreateResult{ID: id}, nil
	}

	body := maps.Clone(req.Payload)
	body["id"] = id

	handle, err := s.tasks.Create(ctx, body, id, scheduleTime, req.QueueName)
	if err != nil {
		s.rollbackCreate(ctx, log, id)
		return nil, err
	}

	if _, err := s.store.Update(ctx, store.ByID(campaignsTable, id), map[string]any{cloudTaskIDField: handle.Name}); err != nil {
		log.WarnContext(ctx, "failed to record task on campaign", "task", handle.Name, "error", err)
	}

	log.InfoContext(ctx, "campaign created", "task", handle.Name, "schedule_time", scheduleTime)
	return &CreateResult{ID: id, CloudTaskID: handle.Name}, nil
}

func (s *Service) rollbackCreate(ctx context.Context, log *slog.Logger, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if _, err := s.store.Delete(ctx, store.ByID(campaignsTable, id)); err != nil {
		log.ErrorContext(ctx, "campaign left without its task; rollback failed", "error", err)
		return
	}
	log.WarnContext(ctx, "campaign creation rolled back after task failure")
}

// Edit applies the payload as a partial update to the campaign named by
// payload.id and then edits its task. The task edit runs for every campaign
// type; for a campaign without a task it does nothing.
func (s *Service) Edit(ctx context.Context, req Request) (any, error) {
	id, err := requireID(req.Payload)
	if err != nil {
		return nil, err
	}
	scheduleTime, err := types.ParseScheduleTime(req.Payload[scheduleTimeField])
	if err != nil {
		return nil, err
	}

	result := &EditResult{ID: id}

	update := maps.Clone(req.Payload)
	delete(update, "id")
	delete(update, scheduleTimeField)
	if len(update) > 0 {
		record, err := s.store.Update(ctx, store.ByID(campaignsTable, id), update)
		if err != nil {
			return nil, err
		}
		result.Record = record
	}

	handle, err := s.tasks.Edit(ctx, req.Payload, id, scheduleTime, req.QueueName)
	if err != nil {
		return nil, err
	}
	result.TaskReplaced = handle != nil

	s.logger.InfoContext(ctx, "campaign edited", "campaign_id", id, "task_replaced", result.TaskReplaced)
	return result, nil
}

// Delete removes the task of the campaign named by payload.id and then the
// record itself, returning the store's response. A task that is already gone
// does not stop the record from being deleted.
func (s *Service) Delete(ctx context.Context, req Request) (any, error) {
	id, err := requireID(req.Payload)
	if err != nil {
		return nil, err
	}

	outcome, err := s.tasks.Delete(ctx, id, req.QueueName)
	if err != nil {
		return nil, err
	}

	raw, err := s.store.Delete(ctx, store.ByID(campaignsTable, id))
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "campaign deleted", "campaign_id", id, "task", outcome.String())
	return raw, nil
}

func requireID(payload map[string]any) (string, error) {
	id, ok := types.PayloadID(payload)
	if !ok {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "Missing required fields: payload.id", nil)
	}
	return id, nil
}
