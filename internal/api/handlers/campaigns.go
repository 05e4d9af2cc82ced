package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"campaigntasks/internal/auth"
	"campaigntasks/internal/campaign"
	"campaigntasks/internal/core"
	"campaigntasks/internal/types"
)

// CampaignActions resolves a campaign action name to its implementation.
type CampaignActions interface {
	Dispatch(action string) (campaign.ActionFunc, error)
	Actions() map[string]campaign.ActionFunc
}

var campaignMessages = map[string]string{
	campaign.ActionCreateCampaign: "Created campaign",
	campaign.ActionEditCampaign:   "Edited campaign",
	campaign.ActionDeleteCampaign: "Deleted campaign",
}

// CampaignHandler serves POST /campaigns with the envelope
// {"queue_name", "action_type", "payload"}. queue_name may be omitted to use
// the configured default queue.
type CampaignHandler struct {
	actions  CampaignActions
	verifier auth.IdentityVerifier
	logger   *slog.Logger
}

// NewCampaignHandler creates a CampaignHandler.
func NewCampaignHandler(actions CampaignActions, verifier auth.IdentityVerifier, l *slog.Logger) *CampaignHandler {
	if l == nil {
		l = slog.Default()
	}
	return &CampaignHandler{
		actions:  actions,
		verifier: verifier,
		logger:   l.With("handler", "campaigns"),
	}
}

// RegisterRoutes mounts the campaign endpoint.
func (h *CampaignHandler) RegisterRoutes(r chi.Router) {
	r.Post("/campaigns", h.Handle)
}

// Handle verifies the request and runs the requested campaign action.
func (h *CampaignHandler) Handle(w http.ResponseWriter, r *http.Request) {
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
	queueName, queueSent, queueOK := stringField(body, "queue_name")
	if queueSent && !queueOK {
		missing = append(missing, "queue_name")
	}
	action, _, actionOK := stringField(body, "action_type")
	if !actionOK {
		missing = append(missing, "action_type")
	}
	payload, payloadOK := objectField(body, "payload")
	if !payloadOK {
		missing = append(missing, "payload")
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

	h.logger.InfoContext(r.Context(), "running campaign action",
		"action", action,
		"queue", queueName,
		"subject", identity.Subject,
	)
	ctx := types.WithSubject(r.Context(), identity.Subject)

	result, err := run(ctx, campaign.Request{QueueName: queueName, Payload: payload})
	if err != nil {
		requestFailed(w, r, h.logger, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.MessageBody{Message: campaignMessages[action], Data: result})
}
