package taskqueue

import (
	"context"
	"fmt"
	"strings"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	"cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	"campaigntasks/internal/types"
)

// notFoundText appears in NotFound messages some Cloud Tasks endpoints return
// without the matching status code.
const notFoundText = "entity was not found"

// cloudTasksAPI is the subset of *cloudtasks.Client the backend uses.
type cloudTasksAPI interface {
	CreateTask(ctx context.Context, req *cloudtaskspb.CreateTaskRequest, opts ...gax.CallOption) (*cloudtaskspb.Task, error)
	DeleteTask(ctx context.Context, req *cloudtaskspb.DeleteTaskRequest, opts ...gax.CallOption) error
	Close() error
}

// CloudTasksBackend delivers tasks through Google Cloud Tasks HTTP targets.
//
// Cloud Tasks keeps deleted task names reserved for a while, so re-creating a
// task under the name of one just deleted can fail with ErrTaskExists.
type CloudTasksBackend struct {
	client cloudTasksAPI
}

// NewCloudTasksBackend dials Cloud Tasks with application default credentials.
func NewCloudTasksBackend(ctx context.Context) (*CloudTasksBackend, error) {
	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create cloud tasks client: %w", err)
	}
	return &CloudTasksBackend{client: client}, nil
}

func newCloudTasksBackendWithClient(client cloudTasksAPI) *CloudTasksBackend {
	return &CloudTasksBackend{client: client}
}

// Close releases the underlying gRPC connection.
func (b *CloudTasksBackend) Close() error {
	return b.client.Close()
}

// CreateTask submits an HTTP POST task authenticated with an OIDC token.
func (b *CloudTasksBackend) CreateTask(ctx context.Context, queuePath string, task Task) (*types.TaskHandle, error) {
	pbTask := &cloudtaskspb.Task{
		Name: task.Name,
		MessageType: &cloudtaskspb.Task_HttpRequest{
			HttpRequest: &cloudtaskspb.HttpRequest{
				HttpMethod: cloudtaskspb.HttpMethod_POST,
				Url:        task.URL,
				Headers:    map[string]string{"Content-Type": "application/json"},
				Body:       task.Body,
				AuthorizationHeader: &cloudtaskspb.HttpRequest_OidcToken{
					OidcToken: &cloudtaskspb.OidcToken{
						ServiceAccountEmail: task.ServiceAccount,
						Audience:            task.Audience,
					},
				},
			},
		},
	}
	if task.ScheduleTime != nil {
		pbTask.ScheduleTime = timestamppb.New(*task.ScheduleTime)
	}

	created, err := b.client.CreateTask(ctx, &cloudtaskspb.CreateTaskRequest{
		Parent: queuePath,
		Task:   pbTask,
	})
	if err != nil {
		return nil, classifyCloudTasksError(err, ErrQueueNotFound)
	}

	handle := &types.TaskHandle{Name: created.GetName()}
	if handle.Name == "" {
		handle.Name = task.Name
	}
	if ts := created.GetScheduleTime(); ts != nil {
		t := ts.AsTime().UTC().Truncate(time.Microsecond)
		handle.ScheduleTime = &t
	}
	return handle, nil
}

// DeleteTask deletes the task with the given fully-qualified name.
func (b *CloudTasksBackend) DeleteTask(ctx context.Context, name string) error {
	if err := b.client.DeleteTask(ctx, &cloudtaskspb.DeleteTaskRequest{Name: name}); err != nil {
		return classifyCloudTasksError(err, ErrTaskNotFound)
	}
	return nil
}

// classifyCloudTasksError wraps err with the sentinel matching its gRPC code.
// notFound selects which entity a NotFound refers to for this call.
func classifyCloudTasksError(err error, notFound error) error {
	//nolint:exhaustive // every other code is treated as transient
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %w", notFound, err)
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %w", ErrTaskExists, err)
	case codes.InvalidArgument, codes.FailedPrecondition:
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), notFoundText) {
		return fmt.Errorf("%w: %w", notFound, err)
	}
	return err
}
