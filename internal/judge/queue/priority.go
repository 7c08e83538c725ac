package queue

import (
	"context"
	"math"
	"strconv"
	"time"

	"judgehub/internal/common/cache"
	appErr "judgehub/pkg/errors"
)

const (
	defaultRecentWindow = 10 * time.Minute
	recentKeyPrefix     = "judge:recent:"
)

// PendingCounter reports how many tasks a user has waiting.
type PendingCounter interface {
	Pending(ctx context.Context, uid int64) (int64, error)
}

// PriorityPolicy derives task priorities from a user's recent activity so a
// burst of submissions by one user cannot starve everyone else.
type PriorityPolicy struct {
	cache   cache.Cache
	pending PendingCounter
	window  time.Duration
}

// NewPriorityPolicy counts submissions in fixed windows of the given length.
func NewPriorityPolicy(c cache.Cache, pending PendingCounter, window time.Duration) *PriorityPolicy {
	if window <= 0 {
		window = defaultRecentWindow
	}
	return &PriorityPolicy{cache: c, pending: pending, window: window}
}

// RecordSubmission notes a new submission by uid.
func (p *PriorityPolicy) RecordSubmission(ctx context.Context, uid int64) error {
	key := recentKeyPrefix + strconv.FormatInt(uid, 10)
	count, err := p.cache.Incr(ctx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "count recent submission failed")
	}
	if count == 1 {
		_ = p.cache.Expire(ctx, key, p.window)
	}
	return nil
}

// SubmissionPriority lowers base by the user's queued and recent work. The
// result never drops below base-10000.
func (p *PriorityPolicy) SubmissionPriority(ctx context.Context, uid int64, base int) (int, error) {
	pending, err := p.pending.Pending(ctx, uid)
	if err != nil {
		return 0, err
	}
	raw, err := p.cache.Get(ctx, recentKeyPrefix+strconv.FormatInt(uid, 10))
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.CacheError, "read recent submissions failed")
	}
	var recent int64
	if raw != "" {
		recent, _ = strconv.ParseInt(raw, 10, 64)
	}
	return ComputePriority(base, pending, recent), nil
}

// ComputePriority is max(base-10000, base-(pending*1000+1)*(recent*0.1+1)),
// rounded down.
func ComputePriority(base int, pending, recent int64) int {
	penalty := float64(pending*1000+1) * (float64(recent)*0.1 + 1)
	p := math.Max(float64(base-10000), float64(base)-penalty)
	return int(math.Floor(p))
}
