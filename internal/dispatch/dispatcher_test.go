package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaigntasks/internal/taskqueue"
)

// memStore is an in-memory Store ordered by due time. Like Redis, every call
// fails once its context is done.
type memStore struct {
	mu       sync.Mutex
	tasks    map[string]*taskqueue.QueuedTask
	due      map[string]time.Time
	claimed  map[string]time.Time
	dueErr   error
	claimErr error
}

func newMemStore() *memStore {
	return &memStore{
		tasks:   make(map[string]*taskqueue.QueuedTask),
		due:     make(map[string]time.Time),
		claimed: make(map[string]time.Time),
	}
}

func (s *memStore) add(name, url string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[name] = &taskqueue.QueuedTask{Task: taskqueue.Task{Name: name, URL: url, Body: []byte(`{"id":"c1"}`)}}
	s.due[name] = at
}

func (s *memStore) DueTasks(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.dueErr != nil {
		return nil, s.dueErr
	}
	var names []string
	for name, at := range s.due {
		if !at.After(now) {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return s.due[names[i]].Before(s.due[names[j]]) })
	if int64(len(names)) > limit {
		names = names[:limit]
	}
	return names, nil
}

func (s *memStore) Claim(ctx context.Context, name string) (*taskqueue.QueuedTask, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.claimErr != nil {
		return nil, false, s.claimErr
	}
	if _, ok := s.due[name]; !ok {
		return nil, false, nil
	}
	delete(s.due, name)
	s.claimed[name] = testNow
	qt, ok := s.tasks[name]
	if !ok {
		return nil, false, nil
	}
	cp := *qt
	return &cp, true, nil
}

func (s *memStore) Complete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := s.claimed[name]; ok {
		delete(s.claimed, name)
		delete(s.tasks, name)
	}
	return nil
}

func (s *memStore) Reschedule(ctx context.Context, qt *taskqueue.QueuedTask, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := s.claimed[qt.Name]; !ok {
		return nil
	}
	delete(s.claimed, qt.Name)
	cp := *qt
	s.tasks[qt.Name] = &cp
	s.due[qt.Name] = at
	return nil
}

func (s *memStore) RequeueExpired(ctx context.Context, claimedBefore, dueAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	for name, at := range s.claimed {
		if !at.After(claimedBefore) {
			delete(s.claimed, name)
			s.due[name] = dueAt
			n++
		}
	}
	return n, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)

func newTestDispatcher(store Store, cfg Config) *Dispatcher {
	d := New(store, nil, cfg, testLogger())
	d.now = func() time.Time { return testNow }
	d.backoff = func(base, _ time.Duration, attempt int) time.Duration {
		return time.Duration(attempt) * base
	}
	return d
}

const taskName = "projects/proj/locations/us-central1/queues/surveys/tasks/c1"

func TestPoll_DeliversDueTask(t *testing.T) {
	var got *http.Request
	var body []byte
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	store := newMemStore()
	store.add(taskName, target.URL, testNow.Add(-time.Minute))
	store.add("projects/proj/locations/us-central1/queues/surveys/tasks/later", target.URL, testNow.Add(time.Hour))

	res, err := newTestDispatcher(store, Config{}).Poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Result{Delivered: 1}, res)
	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "c1", got.Header.Get(headerTaskName))
	assert.Equal(t, "surveys", got.Header.Get(headerQueueName))
	assert.Equal(t, "0", got.Header.Get(headerRetryCount))
	assert.Len(t, got.Header.Get(headerDeliveryID), 36)
	assert.JSONEq(t, `{"id":"c1"}`, string(body))

	assert.NotContains(t, store.tasks, taskName)
	assert.Empty(t, store.claimed)
	assert.Contains(t, store.due, "projects/proj/locations/us-central1/queues/surveys/tasks/later")
}

func TestPoll_FailedDeliveryIsRescheduled(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer target.Close()

	store := newMemStore()
	store.add(taskName, target.URL, testNow)

	res, err := newTestDispatcher(store, Config{BaseBackoff: 10 * time.Second, MaxAttempts: 3}).Poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Result{Rescheduled: 1}, res)
	assert.Equal(t, 1, store.tasks[taskName].Attempts)
	assert.Equal(t, testNow.Add(10*time.Second), store.due[taskName])
	assert.Empty(t, store.claimed)
}

func TestPoll_ShutdownMidDeliveryReleasesTask(t *testing.T) {
	started := make(chan struct{})
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer target.Close()

	store := newMemStore()
	store.add(taskName, target.URL, testNow.Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res, err := newTestDispatcher(store, Config{MaxAttempts: 1}).Poll(ctx)

	require.NoError(t, err)
	assert.Equal(t, Result{Released: 1}, res)
	require.Contains(t, store.tasks, taskName)
	assert.Equal(t, 0, store.tasks[taskName].Attempts)
	assert.Equal(t, testNow, store.due[taskName])
	assert.Empty(t, store.claimed)
}

func TestPoll_RequeuesExpiredClaims(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer target.Close()

	store := newMemStore()
	store.add(taskName, target.URL, testNow)
	delete(store.due, taskName)
	store.claimed[taskName] = testNow.Add(-time.Hour)

	res, err := newTestDispatcher(store, Config{ClaimTTL: time.Minute}).Poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Result{Requeued: 1, Delivered: 1}, res)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, store.tasks)
}

func TestPoll_FreshClaimIsLeftAlone(t *testing.T) {
	store := newMemStore()
	store.add(taskName, "http://unused", testNow)
	delete(store.due, taskName)
	store.claimed[taskName] = testNow.Add(-time.Second)

	res, err := newTestDispatcher(store, Config{ClaimTTL: time.Minute}).Poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Contains(t, store.claimed, taskName)
}

func TestPoll_DropsAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "2", r.Header.Get(headerRetryCount))
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer target.Close()

	store := newMemStore()
	store.add(taskName, target.URL, testNow)
	store.tasks[taskName].Attempts = 2

	res, err := newTestDispatcher(store, Config{MaxAttempts: 3}).Poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Result{Dropped: 1}, res)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, store.tasks)
	assert.Empty(t, store.due)
}

func TestPoll_UnreachableTarget(t *testing.T) {
	store := newMemStore()
	store.add(taskName, "http://127.0.0.1:1/run", testNow)

	res, err := newTestDispatcher(store, Config{MaxAttempts: 2}).Poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Result{Rescheduled: 1}, res)
}

func TestPoll_StoreErrors(t *testing.T) {
	t.Run("listing fails", func(t *testing.T) {
		store := newMemStore()
		store.dueErr = errors.New("redis down")

		_, err := newTestDispatcher(store, Config{}).Poll(context.Background())

		assert.EqualError(t, err, "redis down")
	})

	t.Run("claim failure skips the task", func(t *testing.T) {
		store := newMemStore()
		store.add(taskName, "http://unused", testNow)
		store.claimErr = errors.New("redis down")

		res, err := newTestDispatcher(store, Config{}).Poll(context.Background())

		require.NoError(t, err)
		assert.Equal(t, Result{}, res)
	})
}

func TestRun_StopsOnCancel(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer target.Close()

	store := newMemStore()
	store.add(taskName, target.URL, testNow)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- newTestDispatcher(store, Config{Interval: 10 * time.Millisecond}).Run(ctx)
	}()

	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSegmentAfter(t *testing.T) {
	assert.Equal(t, "c1", taskID(taskName))
	assert.Equal(t, "surveys", queueID(taskName))
	assert.Equal(t, "plain", taskID("plain"))
}
