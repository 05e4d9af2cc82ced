package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"campaigntasks/internal/types"
)

// QueuedTask is a task held by the Redis backend awaiting delivery.
type QueuedTask struct {
	Task
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// RedisBackend is a local stand-in for the managed push queue. Each task is
// stored as JSON under its own key. A pending task is indexed by due time in
// the due set; while the dispatcher delivers it, it sits in the claimed set
// scored by claim time instead. A task key in neither set is stale and may be
// overwritten by CreateTask.
type RedisBackend struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisBackend returns a backend storing keys under prefix.
func NewRedisBackend(rdb redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "campaigntasks"
	}
	return &RedisBackend{rdb: rdb, prefix: prefix, now: time.Now}
}

// TaskKey returns the key holding the task named name.
func (b *RedisBackend) TaskKey(name string) string {
	return b.prefix + ":task:" + name
}

// DueKey returns the key of the sorted set ordering tasks by due time.
func (b *RedisBackend) DueKey() string {
	return b.prefix + ":due"
}

// ClaimedKey returns the key of the sorted set of tasks being delivered,
// scored by claim time.
func (b *RedisBackend) ClaimedKey() string {
	return b.prefix + ":claimed"
}

// KEYS: task, due, claimed. ARGV: body, due score, name.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  if redis.call('ZSCORE', KEYS[2], ARGV[3]) or redis.call('ZSCORE', KEYS[3], ARGV[3]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// KEYS: due, claimed. ARGV: name, claim score.
var claimScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// KEYS: claimed, task. ARGV: name.
var completeScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
  redis.call('DEL', KEYS[2])
end
return 0
`)

// KEYS: claimed, task, due. ARGV: name, body, due score.
var rescheduleScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('SET', KEYS[2], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

// KEYS: claimed, due. ARGV: max claim score, due score.
var requeueScript = redis.NewScript(`
local names = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, name in ipairs(names) do
  redis.call('ZREM', KEYS[1], name)
  redis.call('ZADD', KEYS[2], ARGV[2], name)
end
return #names
`)

// CreateTask stores task unless a task with the same name is pending or being
// delivered.
func (b *RedisBackend) CreateTask(ctx context.Context, _ string, task Task) (*types.TaskHandle, error) {
	now := b.now().UTC()
	due := now
	if task.ScheduleTime != nil {
		due = task.ScheduleTime.UTC()
	}

	raw, err := json.Marshal(QueuedTask{Task: task, EnqueuedAt: now})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}

	created, err := createScript.Run(ctx, b.rdb,
		[]string{b.TaskKey(task.Name), b.DueKey(), b.ClaimedKey()},
		raw, score(due), task.Name,
	).Int()
	if err != nil {
		return nil, fmt.Errorf("store task: %w", err)
	}
	if created == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTaskExists, task.Name)
	}

	return &types.TaskHandle{Name: task.Name, ScheduleTime: task.ScheduleTime}, nil
}

// DeleteTask removes a pending or in-flight task. A task already delivered,
// never created or left stale reports ErrTaskNotFound.
func (b *RedisBackend) DeleteTask(ctx context.Context, name string) error {
	var due, claimed *redis.IntCmd
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, b.TaskKey(name))
		due = pipe.ZRem(ctx, b.DueKey(), name)
		claimed = pipe.ZRem(ctx, b.ClaimedKey(), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if due.Val()+claimed.Val() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return nil
}

// DueTasks returns up to limit task names whose due time is at or before now.
func (b *RedisBackend) DueTasks(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	names, err := b.rdb.ZRangeByScore(ctx, b.DueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(int64(score(now)), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}
	return names, nil
}

// Claim moves name from the due set to the claimed set and loads it. Only one
// caller can claim a given name; the others receive ok=false. A claimed task
// whose body has vanished is released and reported as not ok.
func (b *RedisBackend) Claim(ctx context.Context, name string) (*QueuedTask, bool, error) {
	claimed, err := claimScript.Run(ctx, b.rdb,
		[]string{b.DueKey(), b.ClaimedKey()},
		name, score(b.now()),
	).Int()
	if err != nil {
		return nil, false, fmt.Errorf("claim task: %w", err)
	}
	if claimed == 0 {
		return nil, false, nil
	}

	raw, err := b.rdb.Get(ctx, b.TaskKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		_ = b.rdb.ZRem(ctx, b.ClaimedKey(), name).Err()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load task: %w", err)
	}

	var qt QueuedTask
	if err := json.Unmarshal(raw, &qt); err != nil {
		_ = b.Complete(ctx, name)
		return nil, false, fmt.Errorf("decode task %s: %w", name, err)
	}
	return &qt, true, nil
}

// Complete discards a claimed task after delivery or its final attempt. A task
// deleted or re-created while claimed is left alone.
func (b *RedisBackend) Complete(ctx context.Context, name string) error {
	if err := completeScript.Run(ctx, b.rdb, []string{b.ClaimedKey(), b.TaskKey(name)}, name).Err(); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// Reschedule stores a claimed qt with its updated attempt count and makes it
// due at at. A task deleted while claimed stays deleted.
func (b *RedisBackend) Reschedule(ctx context.Context, qt *QueuedTask, at time.Time) error {
	raw, err := json.Marshal(qt)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	err = rescheduleScript.Run(ctx, b.rdb,
		[]string{b.ClaimedKey(), b.TaskKey(qt.Name), b.DueKey()},
		qt.Name, raw, score(at),
	).Err()
	if err != nil {
		return fmt.Errorf("reschedule task: %w", err)
	}
	return nil
}

// RequeueExpired makes every task claimed at or before claimedBefore due at
// dueAt again. It recovers tasks whose dispatcher stopped mid-delivery.
func (b *RedisBackend) RequeueExpired(ctx context.Context, claimedBefore, dueAt time.Time) (int, error) {
	n, err := requeueScript.Run(ctx, b.rdb,
		[]string{b.ClaimedKey(), b.DueKey()},
		score(claimedBefore), score(dueAt),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("requeue expired claims: %w", err)
	}
	return n, nil
}

// Ping checks connectivity.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
