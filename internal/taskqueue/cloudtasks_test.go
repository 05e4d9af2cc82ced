package taskqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

type fakeCloudTasks struct {
	createReq *cloudtaskspb.CreateTaskRequest
	deleteReq *cloudtaskspb.DeleteTaskRequest
	createErr error
	deleteErr error
	closed    bool
}

func (f *fakeCloudTasks) CreateTask(_ context.Context, req *cloudtaskspb.CreateTaskRequest, _ ...gax.CallOption) (*cloudtaskspb.Task, error) {
	f.createReq = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &cloudtaskspb.Task{Name: req.GetTask().GetName(), ScheduleTime: req.GetTask().GetScheduleTime()}, nil
}

func (f *fakeCloudTasks) DeleteTask(_ context.Context, req *cloudtaskspb.DeleteTaskRequest, _ ...gax.CallOption) error {
	f.deleteReq = req
	return f.deleteErr
}

func (f *fakeCloudTasks) Close() error {
	f.closed = true
	return nil
}

func TestCloudTasksBackend_CreateTask(t *testing.T) {
	fake := &fakeCloudTasks{}
	backend := newCloudTasksBackendWithClient(fake)
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	task := Task{
		Name:           "projects/p/locations/r/queues/q/tasks/c1",
		URL:            "https://executor.example.com/run",
		Body:           []byte(`{"id":"c1"}`),
		ScheduleTime:   &at,
		ServiceAccount: "tasks@p.iam.gserviceaccount.com",
		Audience:       "https://executor.example.com/run",
	}

	handle, err := backend.CreateTask(context.Background(), "projects/p/locations/r/queues/q", task)

	require.NoError(t, err)
	assert.Equal(t, task.Name, handle.Name)
	require.NotNil(t, handle.ScheduleTime)
	assert.True(t, at.Equal(*handle.ScheduleTime))

	req := fake.createReq
	assert.Equal(t, "projects/p/locations/r/queues/q", req.GetParent())
	assert.Equal(t, task.Name, req.GetTask().GetName())
	assert.True(t, timestamppb.New(at).AsTime().Equal(req.GetTask().GetScheduleTime().AsTime()))

	httpReq := req.GetTask().GetHttpRequest()
	require.NotNil(t, httpReq)
	assert.Equal(t, cloudtaskspb.HttpMethod_POST, httpReq.GetHttpMethod())
	assert.Equal(t, task.URL, httpReq.GetUrl())
	assert.Equal(t, task.Body, httpReq.GetBody())
	assert.Equal(t, "application/json", httpReq.GetHeaders()["Content-Type"])
	assert.Equal(t, task.ServiceAccount, httpReq.GetOidcToken().GetServiceAccountEmail())
	assert.Equal(t, task.Audience, httpReq.GetOidcToken().GetAudience())
}

func TestCloudTasksBackend_CreateTaskImmediate(t *testing.T) {
	fake := &fakeCloudTasks{}
	backend := newCloudTasksBackendWithClient(fake)

	handle, err := backend.CreateTask(context.Background(), "projects/p/locations/r/queues/q",
		Task{Name: "projects/p/locations/r/queues/q/tasks/c1"})

	require.NoError(t, err)
	assert.Nil(t, handle.ScheduleTime)
	assert.Nil(t, fake.createReq.GetTask().GetScheduleTime())
}

func TestCloudTasksBackend_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCreate error
		wantDelete error
	}{
		{name: "not found", err: status.Error(codes.NotFound, "queue does not exist"), wantCreate: ErrQueueNotFound, wantDelete: ErrTaskNotFound},
		{name: "not found text", err: errors.New("The requested entity was not found."), wantCreate: ErrQueueNotFound, wantDelete: ErrTaskNotFound},
		{name: "permission denied", err: status.Error(codes.PermissionDenied, "denied"), wantCreate: ErrPermissionDenied, wantDelete: ErrPermissionDenied},
		{name: "already exists", err: status.Error(codes.AlreadyExists, "tombstoned"), wantCreate: ErrTaskExists, wantDelete: ErrTaskExists},
		{name: "invalid argument", err: status.Error(codes.InvalidArgument, "bad url"), wantCreate: ErrInvalidTask, wantDelete: ErrInvalidTask},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newCloudTasksBackendWithClient(&fakeCloudTasks{createErr: tt.err, deleteErr: tt.err})

			_, err := backend.CreateTask(context.Background(), "parent", Task{Name: "n"})
			assert.ErrorIs(t, err, tt.wantCreate)
			assert.ErrorIs(t, err, tt.err)

			err = backend.DeleteTask(context.Background(), "n")
			assert.ErrorIs(t, err, tt.wantDelete)
		})
	}
}

func TestCloudTasksBackend_TransientPassesThrough(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "try again")
	backend := newCloudTasksBackendWithClient(&fakeCloudTasks{createErr: unavailable})

	_, err := backend.CreateTask(context.Background(), "parent", Task{Name: "n"})

	require.Error(t, err)
	assert.True(t, retryable(err))
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestCloudTasksBackend_DeleteTask(t *testing.T) {
	fake := &fakeCloudTasks{}
	backend := newCloudTasksBackendWithClient(fake)

	require.NoError(t, backend.DeleteTask(context.Background(), "projects/p/locations/r/queues/q/tasks/c1"))
	assert.Equal(t, "projects/p/locations/r/queues/q/tasks/c1", fake.deleteReq.GetName())

	require.NoError(t, backend.Close())
	assert.True(t, fake.closed)
}
