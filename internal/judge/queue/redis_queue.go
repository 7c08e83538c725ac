// Package queue holds pending judge tasks in Redis, ordered by priority and
// then by arrival.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"judgehub/internal/common/cache"
	"judgehub/internal/judge/model"
	appErr "judgehub/pkg/errors"

	"github.com/google/uuid"
)

const defaultKeyPrefix = "judge:queue"

// Config configures the Redis task queue.
type Config struct {
	KeyPrefix string        `json:",default=judge:queue"`
	Timeout   time.Duration `json:",default=2s"`
}

// RedisQueue is a priority queue of judge tasks. A higher priority is served
// first; tasks of equal priority are served in enqueue order. At most one task
// is queued per record.
type RedisQueue struct {
	cache   cache.Cache
	keys    []string
	seqKey  string
	timeout time.Duration
}

// NewRedisQueue creates a queue stored under cfg.KeyPrefix.
func NewRedisQueue(c cache.Cache, cfg Config) (*RedisQueue, error) {
	if c == nil {
		return nil, appErr.ValidationError("cache", "required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisQueue{
		cache: c,
		keys: []string{
			prefix + ":order",
			prefix + ":body",
			prefix + ":index",
			prefix + ":ref",
			prefix + ":lang",
			prefix + ":owner",
			prefix + ":pending",
		},
		seqKey:  prefix + ":seq",
		timeout: timeout,
	}, nil
}

// Enqueue adds t, assigning an id and an arrival sequence when missing. A
// task already queued for the same record is replaced.
func (q *RedisQueue) Enqueue(ctx context.Context, t model.Task) (model.Task, error) {
	if t.DomainID == "" || t.RecordID == "" {
		return model.Task{}, appErr.ValidationError("task", "domain and record id required")
	}
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Seq == 0 {
		seq, err := q.cache.Incr(ctx, q.seqKey)
		if err != nil {
			return model.Task{}, appErr.Wrapf(err, appErr.JudgeQueueError, "allocate task sequence failed")
		}
		t.Seq = seq
	}
	if err := q.push(ctx, t); err != nil {
		return model.Task{}, err
	}
	return t, nil
}

// Requeue puts back a task handed out earlier, keeping its priority and its
// original arrival position.
func (q *RedisQueue) Requeue(ctx context.Context, t model.Task) error {
	if t.Seq == 0 {
		_, err := q.Enqueue(ctx, t)
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	return q.push(ctx, t)
}

func (q *RedisQueue) push(ctx context.Context, t model.Task) error {
	body, err := json.Marshal(t)
	if err != nil {
		return appErr.Wrapf(err, appErr.JudgeQueueError, "encode task failed")
	}
	_, err = q.cache.RunScript(ctx, enqueueScript, q.keys,
		ref(t.DomainID, t.RecordID),
		member(t.Seq),
		strconv.Itoa(-t.Priority),
		t.Lang,
		strconv.FormatInt(t.UserID, 10),
		string(body),
	)
	if err != nil {
		return appErr.Wrapf(err, appErr.JudgeQueueError, "enqueue task failed")
	}
	return nil
}

// PopMatching atomically removes and returns the first task accepted by f.
// It returns nil when nothing matches.
func (q *RedisQueue) PopMatching(ctx context.Context, f model.Filter) (*model.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	args := make([]interface{}, 0, len(f.Langs)+1)
	if f.PriorityFloor != nil {
		args = append(args, strconv.Itoa(-*f.PriorityFloor))
	} else {
		args = append(args, "")
	}
	for _, lang := range f.Langs {
		args = append(args, lang)
	}

	reply, err := q.cache.RunScript(ctx, popScript, q.keys, args...)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeQueueError, "pop task failed")
	}
	body, ok := reply.(string)
	if !ok || body == "" {
		return nil, nil
	}
	var t model.Task
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeQueueError, "decode task failed")
	}
	return &t, nil
}

// Cancel drops the task queued for a record, reporting whether one existed.
func (q *RedisQueue) Cancel(ctx context.Context, domainID, recordID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	reply, err := q.cache.RunScript(ctx, cancelScript, q.keys, ref(domainID, recordID))
	if err != nil {
		return false, appErr.Wrapf(err, appErr.JudgeQueueError, "cancel task failed")
	}
	n, _ := reply.(int64)
	return n == 1, nil
}

// Len returns the number of queued tasks.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	n, err := q.cache.ZCard(ctx, q.keys[0])
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.JudgeQueueError, "count tasks failed")
	}
	return n, nil
}

// Pending returns the number of tasks queued on behalf of uid.
func (q *RedisQueue) Pending(ctx context.Context, uid int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	raw, err := q.cache.HGet(ctx, q.keys[6], strconv.FormatInt(uid, 10))
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.JudgeQueueError, "count user tasks failed")
	}
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.JudgeQueueError, "invalid pending count")
	}
	return n, nil
}

func ref(domainID, recordID string) string {
	return domainID + "/" + recordID
}

func member(seq int64) string {
	return fmt.Sprintf("%020d", seq)
}
