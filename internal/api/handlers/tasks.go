package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"campaigntasks/internal/auth"
	"campaigntasks/internal/campaign"
	"campaigntasks/internal/core"
	"campaigntasks/internal/types"
)

// TaskActions resolves a task action name to its implementation.
type TaskActions interface {
	Dispatch(action string) (campaign.TaskActionFunc, error)
	Actions() map[string]campaign.TaskActionFunc
}

// TaskHandler serves POST /tasks with the envelope
// {"action", "payload", "queue_name"?, "schedule_time"?}.
type TaskHandler struct {
	actions  TaskActions
	verifier auth.IdentityVerifier
	logger   *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(actions TaskActions, verifier auth.IdentityVerifier, l *slog.Logger) *TaskHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TaskHandler{
		actions:  actions,
		verifier: verifier,
		logger:   l.With("handler", "tasks"),
	}
}

// RegisterRoutes mounts the task endpoint.
func (h *TaskHandler) RegisterRoutes(r chi.Router) {
	r.Post("/tasks", h.Handle)
}

// Handle verifies the request and runs the requested task action.
func (h *TaskHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		requestFailed(w, r, h.logger, err)
		return
	}

	identity, err := authenticate(r, h.verifier)
	if err != nil {
		requestFailed(w, r, h.logger, err)
		return
	}

	var missing []string
	action, _, actionOK := stringField(body, "action")
	if !actionOK {
		missing = append(missing, "action")
	}
	payload, payloadOK := objectField(body, "payload")
	if !payloadOK {
		missing = append(missing, "payload")
	}
	queueName, queueSent, queueOK := stringField(body, "queue_name")
	if queueSent && !queueOK {
		missing = append(missing, "queue_name")
	}
	if len(missing) > 0 {
		requestFailed(w, r, h.logger, missingFields(missing))
		return
	}

	run, err := h.actions.Dispatch(action)
	if err != nil {
		if errors.Is(err, campaign.ErrInvalidAction) {
			err = invalidAction(action, campaign.ActionNames(h.actions.Actions()))
		}
		requestFailed(w, r, h.logger, err)
		return
	}

	var scheduleRaw any
	if raw, sent := body["schedule_time"]; sent {
		_ = json.Unmarshal(raw, &scheduleRaw)
	}
	scheduleTime, err := types.ParseScheduleTime(scheduleRaw)
	if err != nil {
		requestFailed(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "running task action",
		"action", action,
		"queue", queueName,
		"subject", identity.Subject,
	)
	ctx := types.WithSubject(r.Context(), identity.Subject)

	result, err := run(ctx, campaign.TaskRequest{
		QueueName:    queueName,
		Payload:      payload,
		ScheduleTime: scheduleTime,
	})
	if err != nil {
		requestFailed(w, r, h.logger, err)
		return
	}

	core.JSON(w, r, http.StatusOK, result)
}
