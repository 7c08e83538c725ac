// Package broker hands queued tasks to judge sessions and takes them back
// when a session fails.
package broker

import (
	"context"
	"sort"
	"sync"
	"time"

	"judgehub/internal/judge/bus"
	"judgehub/internal/judge/model"
	"judgehub/internal/judge/repository"
	"judgehub/internal/metrics"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/logger"

	"go.uber.org/zap"
)

// Queue is the task queue as seen by the broker.
type Queue interface {
	PopMatching(ctx context.Context, f model.Filter) (*model.Task, error)
	Requeue(ctx context.Context, t model.Task) error
}

// Broadcaster publishes record changes.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev bus.Event)
}

// SessionInfo describes a connected judge daemon.
type SessionInfo struct {
	ID          string    `json:"id"`
	Judger      int64     `json:"judger"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Broker coordinates the task queue with the connected sessions.
type Broker struct {
	queue   Queue
	records repository.RecordStore
	events  Broadcaster

	mu       sync.RWMutex
	sessions map[string]SessionInfo
}

func New(queue Queue, records repository.RecordStore, events Broadcaster) *Broker {
	return &Broker{
		queue:    queue,
		records:  records,
		events:   events,
		sessions: make(map[string]SessionInfo),
	}
}

// Fetch pops the first task matching f together with its record. Tasks whose
// record is gone are discarded. It returns nil when nothing matches.
func (b *Broker) Fetch(ctx context.Context, f model.Filter) (*model.Task, *model.Record, error) {
	for {
		t, err := b.queue.PopMatching(ctx, f)
		if err != nil || t == nil {
			return nil, nil, err
		}
		rec, err := b.records.Get(ctx, t.DomainID, t.RecordID)
		if err != nil {
			if appErr.Is(err, appErr.RecordNotFound) {
				logger.Warn(ctx, "dropping task of missing record",
					zap.String("domain", t.DomainID), zap.String("rid", t.RecordID))
				continue
			}
			// The task stays ours; put it back before giving up.
			if rqErr := b.queue.Requeue(ctx, *t); rqErr != nil {
				logger.Error(ctx, "requeue after failed fetch failed", zap.String("rid", t.RecordID), zap.Error(rqErr))
			}
			return nil, nil, err
		}
		return t, rec, nil
	}
}

// MarkFetched moves the record to FETCHED, mirrors the change onto the
// snapshot and announces it.
func (b *Broker) MarkFetched(ctx context.Context, t model.Task, rec *model.Record) error {
	fetched := model.StatusFetched
	u := model.RecordUpdate{Set: model.RecordSet{Status: &fetched}}
	stored, err := b.records.Update(ctx, t.DomainID, t.RecordID, u)
	if err != nil {
		return err
	}
	u.Apply(rec)
	metrics.TasksDispatched.Inc()
	b.events.Broadcast(ctx, bus.Event{Name: bus.EventRecordChange, Record: stored, Update: &u})
	return nil
}

// Release resets the task's record to its pre-fetch state and puts the task
// back in the queue with its original priority.
func (b *Broker) Release(ctx context.Context, t model.Task) error {
	rec, err := b.records.Reset(ctx, t.DomainID, t.RecordID, false)
	if err != nil {
		if appErr.Is(err, appErr.RecordNotFound) {
			return nil
		}
		return err
	}
	if err := b.queue.Requeue(ctx, t); err != nil {
		return err
	}
	metrics.TasksRequeued.Inc()
	b.events.Broadcast(ctx, bus.Event{Name: bus.EventRecordChange, Record: rec})
	return nil
}

// Register records a connected session.
func (b *Broker) Register(info SessionInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[info.ID] = info
	metrics.Sessions.Set(float64(len(b.sessions)))
}

// Unregister forgets a session.
func (b *Broker) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
	metrics.Sessions.Set(float64(len(b.sessions)))
}

// Sessions lists connected sessions, oldest first.
func (b *Broker) Sessions() []SessionInfo {
	b.mu.RLock()
	out := make([]SessionInfo, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}
