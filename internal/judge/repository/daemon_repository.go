package repository

import (
	"context"
	"encoding/json"
	"time"

	"judgehub/internal/common/cache"
	appErr "judgehub/pkg/errors"
)

const (
	daemonKeyPrefix = "judge:daemon:"
	daemonIndexKey  = "judge:daemons"
)

// DaemonStatus is the latest health report of one judge daemon.
type DaemonStatus struct {
	JudgerID   int64           `json:"judger"`
	SessionID  string          `json:"sessionId"`
	RemoteAddr string          `json:"remoteAddr"`
	Info       json.RawMessage `json:"info"`
	ReportedAt time.Time       `json:"reportedAt"`
}

// DaemonRepository keeps daemon health reports in Redis. A report expires
// when its daemon stops sending them.
type DaemonRepository struct {
	cache cache.Cache
	TTL   time.Duration
}

// NewDaemonRepository creates a new repository.
func NewDaemonRepository(cacheClient cache.Cache, ttl time.Duration) *DaemonRepository {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &DaemonRepository{cache: cacheClient, TTL: ttl}
}

// Save stores a report keyed by its session.
func (r *DaemonRepository) Save(ctx context.Context, status DaemonStatus) error {
	if status.SessionID == "" {
		return appErr.ValidationError("session_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	if status.ReportedAt.IsZero() {
		status.ReportedAt = time.Now()
	}
	data, err := json.Marshal(status)
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidParams, "encode daemon status failed")
	}
	if err := r.cache.Set(ctx, daemonKeyPrefix+status.SessionID, string(data), r.TTL); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store daemon status failed")
	}
	if err := r.cache.SAdd(ctx, daemonIndexKey, status.SessionID); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "index daemon status failed")
	}
	return nil
}

// Remove drops the report of a closed session.
func (r *DaemonRepository) Remove(ctx context.Context, sessionID string) error {
	if r.cache == nil {
		return nil
	}
	if err := r.cache.Del(ctx, daemonKeyPrefix+sessionID); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "delete daemon status failed")
	}
	return r.cache.SRem(ctx, daemonIndexKey, sessionID)
}

// List returns the live reports and prunes expired index entries.
func (r *DaemonRepository) List(ctx context.Context) ([]DaemonStatus, error) {
	if r.cache == nil {
		return nil, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	ids, err := r.cache.SMembers(ctx, daemonIndexKey)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "list daemons failed")
	}
	if len(ids) == 0 {
		return []DaemonStatus{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = daemonKeyPrefix + id
	}
	values, err := r.cache.MGet(ctx, keys...)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load daemons failed")
	}

	out := make([]DaemonStatus, 0, len(values))
	var expired []interface{}
	for i, raw := range values {
		if raw == "" {
			expired = append(expired, ids[i])
			continue
		}
		var st DaemonStatus
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			continue
		}
		out = append(out, st)
	}
	if len(expired) > 0 {
		_ = r.cache.SRem(ctx, daemonIndexKey, expired...)
	}
	return out, nil
}
