package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// CampaignType distinguishes one-shot campaigns from those driven by an
// external time-based trigger.
type CampaignType string

const (
	CampaignTypeInstant   CampaignType = "instant"
	CampaignTypeRecurring CampaignType = "recurring"
)

// Campaign is the persisted campaign record. Only the fields needed to create
// the record through the store's create procedure are modeled; updates pass
// the caller's payload through unchanged.
type Campaign struct {
	Name             string       `json:"name" validate:"required"`
	Count            int          `json:"count" validate:"gte=0"`
	Threshold        int          `json:"threshold" validate:"gte=0"`
	Status           string       `json:"status" validate:"required"`
	CompanyID        string       `json:"company_id" validate:"required"`
	CreatedBy        string       `json:"created_by" validate:"required"`
	NextRunTime      *Timestamp   `json:"next_run_time" validate:"required"`
	Type             CampaignType `json:"type,omitempty" validate:"omitempty,oneof=instant recurring"`
	Duration         *int         `json:"duration,omitempty" validate:"omitempty,gte=0"`
	EndDate          *Timestamp   `json:"end_date,omitempty"`
	Frequency        string       `json:"frequency,omitempty"`
	TimeOfDay        string       `json:"time_of_day,omitempty"`
	Description      string       `json:"description,omitempty"`
	AudienceIDs      []string     `json:"audience_ids,omitempty"`
	QuestionnaireIDs []string     `json:"questionnaire_ids,omitempty"`
	CloudTaskID      string       `json:"cloud_task_id,omitempty"`
}

// IsInstant reports whether the campaign runs once through a single queued task.
func (c *Campaign) IsInstant() bool {
	return c.Type == CampaignTypeInstant
}

// CampaignFromPayload decodes a loosely-typed request payload into a Campaign.
// Keys the record does not model (id, schedule_time) are ignored.
func CampaignFromPayload(payload map[string]any) (*Campaign, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, NewAppError(ErrCodeValidationInvalidCampaign, "campaign payload is not serializable", err)
	}
	var c Campaign
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, NewAppError(ErrCodeValidationInvalidCampaign, fmt.Sprintf("invalid campaign payload: %v", err), err)
	}
	return &c, nil
}

// RPCParams returns the campaign as named arguments for the store's
// create_campaign procedure. Every argument name carries a leading underscore
// and optional fields are sent as null when unset.
func (c *Campaign) RPCParams() map[string]any {
	params := map[string]any{
		"_name":              c.Name,
		"_count":             c.Count,
		"_threshold":         c.Threshold,
		"_status":            c.Status,
		"_company_id":        c.CompanyID,
		"_created_by":        c.CreatedBy,
		"_next_run_time":     formatOptionalTime(c.NextRunTime),
		"_type":              optionalString(string(c.Type)),
		"_duration":          nil,
		"_end_date":          formatOptionalTime(c.EndDate),
		"_frequency":         optionalString(c.Frequency),
		"_time_of_day":       optionalString(c.TimeOfDay),
		"_description":       optionalString(c.Description),
		"_audience_ids":      nil,
		"_questionnaire_ids": nil,
		"_cloud_task_id":     optionalString(c.CloudTaskID),
	}
	if c.Duration != nil {
		params["_duration"] = *c.Duration
	}
	if c.AudienceIDs != nil {
		params["_audience_ids"] = c.AudienceIDs
	}
	if c.QuestionnaireIDs != nil {
		params["_questionnaire_ids"] = c.QuestionnaireIDs
	}
	return params
}

func formatOptionalTime(t *Timestamp) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func optionalString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// PayloadID extracts the record identifier from a request payload. JSON numbers
// are accepted and rendered without a fractional part.
func PayloadID(payload map[string]any) (string, bool) {
	switch v := payload["id"].(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), v != ""
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}
