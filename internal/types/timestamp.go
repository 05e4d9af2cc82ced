package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ScheduleLayout is the wall-clock layout callers use for schedule times.
// Values in this layout carry no zone and are interpreted as UTC.
const ScheduleLayout = "2006-01-02 15:04:05"

var timestampLayouts = []string{
	ScheduleLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses s using the schedule layout first and then the ISO-8601
// variants the backing store emits. The result is always in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q (want %q)", s, ScheduleLayout)
}

// Timestamp is a time.Time that accepts both the schedule layout and RFC 3339
// in JSON, and always emits RFC 3339.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

// ParseScheduleTime interprets an optional schedule time taken from a request.
// A missing or empty value means "deliver immediately" and yields nil.
func ParseScheduleTime(v any) (*time.Time, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		t, err := ParseTimestamp(val)
		if err != nil {
			return nil, NewAppError(ErrCodeValidationInvalidSchedule,
				fmt.Sprintf("Invalid schedule time %q, expected format YYYY-MM-DD HH:MM:SS", val), err)
		}
		return &t, nil
	default:
		return nil, NewAppError(ErrCodeValidationInvalidSchedule,
			"Invalid schedule time, expected a string in format YYYY-MM-DD HH:MM:SS", nil)
	}
}
