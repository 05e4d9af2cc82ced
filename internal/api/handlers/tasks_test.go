package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaigntasks/internal/campaign"
	"campaigntasks/internal/types"
)

func decodeTaskResult(t *testing.T, rec *httptest.ResponseRecorder) campaign.TaskResult {
	t.Helper()
	var body campaign.TaskResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestTaskHandler_CreateEditDelete(t *testing.T) {
	env := newTestEnv(t)
	name := "projects/proj/locations/us-central1/queues/reminders/tasks/t-1"

	rec := post(env.tasks.Handle,
		`{"action":"create_task","queue_name":"reminders","payload":{"id":"t-1","n":1},"schedule_time":"2026-11-01 09:00:00"}`,
		"Bearer good")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decodeTaskResult(t, rec)
	assert.Equal(t, "Created task", created.Message)
	assert.Equal(t, name, created.Task)
	require.Contains(t, env.backend.tasks, name)
	assert.JSONEq(t, `{"id":"t-1","n":1}`, string(env.backend.tasks[name].Body))

	rec = post(env.tasks.Handle,
		`{"action":"edit_schedule","queue_name":"reminders","payload":{"id":"t-1","new_schedule_time":"2026-11-02 10:30:00"}}`,
		"Bearer good")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decodeTaskResult(t, rec)
	assert.Equal(t, "replaced", edited.Outcome)
	require.NotNil(t, env.backend.tasks[name].ScheduleTime)
	assert.Equal(t, "2026-11-02 10:30:00", env.backend.tasks[name].ScheduleTime.Format(types.ScheduleLayout))

	rec = post(env.tasks.Handle, `{"action":"delete_task","queue_name":"reminders","payload":{"id":"t-1"}}`, "Bearer good")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "deleted", decodeTaskResult(t, rec).Outcome)
	assert.Empty(t, env.backend.tasks)

	rec = post(env.tasks.Handle, `{"action":"delete_task","queue_name":"reminders","payload":{"id":"t-1"}}`, "Bearer good")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "already_absent", decodeTaskResult(t, rec).Outcome)
}

func TestTaskHandler_EditMissingTaskIsNoop(t *testing.T) {
	env := newTestEnv(t)

	rec := post(env.tasks.Handle, `{"action":"edit_task","payload":{"id":"ghost"}}`, "Bearer good")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeTaskResult(t, rec)
	assert.Equal(t, "absent", result.Outcome)
	assert.Empty(t, result.Task)
	assert.Empty(t, env.backend.tasks)
}

func TestTaskHandler_RejectsRequests(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		auth       string
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{
			name:       "missing token",
			body:       `{"action":"create_task","payload":{"id":"a"}}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   types.ErrCodeAuthTokenMissing,
		},
		{
			name:       "missing action",
			body:       `{"payload":{"id":"a"}}`,
			auth:       "Bearer good",
			wantStatus: http.StatusBadRequest,
			wantCode:   types.ErrCodeValidationMissingField,
		},
		{
			name:       "unknown action",
			body:       `{"action":"pause_task","payload":{"id":"a"}}`,
			auth:       "Bearer good",
			wantStatus: http.StatusBadRequest,
			wantCode:   types.ErrCodeValidationInvalidAction,
		},
		{
			name:       "malformed schedule time",
			body:       `{"action":"create_task","payload":{"id":"a"},"schedule_time":"next tuesday"}`,
			auth:       "Bearer good",
			wantStatus: http.StatusBadRequest,
			wantCode:   types.ErrCodeValidationInvalidSchedule,
		},
		{
			name:       "numeric schedule time",
			body:       `{"action":"create_task","payload":{"id":"a"},"schedule_time":1700000000}`,
			auth:       "Bearer good",
			wantStatus: http.StatusBadRequest,
			wantCode:   types.ErrCodeValidationInvalidSchedule,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rec := post(env.tasks.Handle, tt.body, tt.auth)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, string(tt.wantCode), decodeError(t, rec).Code)
			assert.Empty(t, env.backend.tasks)
		})
	}
}

func TestRegisterRoutes(t *testing.T) {
	env := newTestEnv(t)
	r := chi.NewRouter()
	env.campaign.RegisterRoutes(r)
	env.tasks.RegisterRoutes(r)

	for _, path := range []string{"/campaigns", "/tasks"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/campaigns", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
