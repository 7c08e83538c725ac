// Package bus fans record events out to in-process subscribers.
package bus

import (
	"context"
	"sync"
	"time"

	"judgehub/internal/judge/model"
	"judgehub/pkg/utils/logger"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	EventRecordChange  = "record/change"
	EventRecordJudge   = "record/judge"
	EventSystemSetting = "system/setting"
)

// Event is one bus notification. Which fields are set depends on Name.
type Event struct {
	Name   string
	Record *model.Record
	// Update is the applied change of a record/change event; nil means the
	// whole record was reloaded.
	Update *model.RecordUpdate
	Body   *model.JudgeResult
	// Updated reports, on record/judge, whether the user's problem status changed.
	Updated   bool
	Languages map[string]model.Language
}

// Handler reacts to an event.
type Handler func(ctx context.Context, ev Event) error

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus delivers events either fire-and-forget or awaited.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscriber
	nextID   uint64
	pool     *ants.Pool
}

// New creates a bus whose broadcasts run on a pool of size goroutines. A
// broadcast that finds the pool saturated is dropped rather than waited on.
func New(size int) (*Bus, error) {
	if size <= 0 {
		size = 64
	}
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &Bus{handlers: make(map[string][]subscriber), pool: pool}, nil
}

// Subscribe registers h for events named name. The returned func removes it.
func (b *Bus) Subscribe(name string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], subscriber{id: id, handler: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[name]
		for i, s := range subs {
			if s.id == id {
				b.handlers[name] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) snapshot(name string) []subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]subscriber(nil), b.handlers[name]...)
}

// Broadcast schedules every subscriber and returns without waiting. Order
// across subscribers is not guaranteed.
func (b *Bus) Broadcast(ctx context.Context, ev Event) {
	ctx = context.WithoutCancel(ctx)
	for _, s := range b.snapshot(ev.Name) {
		h := s.handler
		task := func() {
			if err := h(ctx, ev); err != nil {
				logger.Warn(ctx, "event handler failed", zap.String("event", ev.Name), zap.Error(err))
			}
		}
		if err := b.pool.Submit(task); err != nil {
			logger.Warn(ctx, "schedule event handler failed", zap.String("event", ev.Name), zap.Error(err))
		}
	}
}

// Parallel runs every subscriber concurrently and waits for all of them,
// returning the first error.
func (b *Bus) Parallel(ctx context.Context, ev Event) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range b.snapshot(ev.Name) {
		h := s.handler
		g.Go(func() error {
			return h(gctx, ev)
		})
	}
	return g.Wait()
}

// Close waits up to timeout for scheduled broadcasts and releases the pool.
func (b *Bus) Close(timeout time.Duration) error {
	return b.pool.ReleaseTimeout(timeout)
}
