// Package session runs the broker side of one judge daemon connection.
package session

import (
	"context"
	"sync"
	"time"

	"judgehub/internal/judge/bus"
	"judgehub/internal/judge/model"
	"judgehub/internal/judge/repository"
	"judgehub/internal/judge/service"
	"judgehub/internal/metrics"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/contextkey"
	"judgehub/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Transport carries JSON frames to and from a daemon. Send may be called
// concurrently; Receive is called from a single goroutine.
type Transport interface {
	Send(ctx context.Context, v interface{}) error
	// Receive returns the next frame. A JudgeSessionClosed error marks an
	// orderly disconnect.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	RemoteAddr() string
}

// Dispatcher hands out tasks and takes them back.
type Dispatcher interface {
	Fetch(ctx context.Context, f model.Filter) (*model.Task, *model.Record, error)
	MarkFetched(ctx context.Context, t model.Task, rec *model.Record) error
	Release(ctx context.Context, t model.Task) error
}

// ResultHandler merges result frames into records.
type ResultHandler interface {
	Next(ctx context.Context, rec *model.Record, body model.JudgeResult) (*model.Record, error)
	End(ctx context.Context, rec *model.Record, body model.JudgeResult, opts service.EndOptions) (*model.Record, error)
}

// DaemonStore keeps daemon health reports.
type DaemonStore interface {
	Save(ctx context.Context, st repository.DaemonStatus) error
	Remove(ctx context.Context, sessionID string) error
}

// Subscriber delivers bus events.
type Subscriber interface {
	Subscribe(name string, h bus.Handler) func()
}

// Options tunes a session.
type Options struct {
	PollInterval      time.Duration `json:",default=500ms"`
	HandshakeSettle   time.Duration `json:",default=100ms"`
	MaxBufferedFrames int           `json:",default=64"`
	Concurrency       int           `json:",default=1"`
	ReleaseTimeout    time.Duration `json:",default=10s"`
}

func (o *Options) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.HandshakeSettle < 0 {
		o.HandshakeSettle = 0
	}
	if o.MaxBufferedFrames <= 0 {
		o.MaxBufferedFrames = 64
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.ReleaseTimeout <= 0 {
		o.ReleaseTimeout = 10 * time.Second
	}
}

// Deps are the collaborators of a session. Daemons and Events are optional.
type Deps struct {
	Transport  Transport
	Dispatcher Dispatcher
	Results    ResultHandler
	Daemons    DaemonStore
	Events     Subscriber
	Languages  func() map[string]model.Language
}

type inflight struct {
	task model.Task
	rec  *model.Record
	seq  *sequencer
}

// Session owns the in-flight tasks of one daemon. Tasks still held when the
// connection ends are reset and requeued.
type Session struct {
	id     string
	judger int64
	deps   Deps
	opts   Options

	sendMu sync.Mutex

	mu          sync.Mutex
	filter      model.Filter
	concurrency int
	reserved    int
	tasks       map[string]*inflight
	closed      bool
	wg          sync.WaitGroup
}

// New creates a session for the daemon authenticated as judger.
func New(id string, judger int64, deps Deps, opts Options) *Session {
	opts.setDefaults()
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		id:          id,
		judger:      judger,
		deps:        deps,
		opts:        opts,
		concurrency: opts.Concurrency,
		tasks:       make(map[string]*inflight),
	}
}

func (s *Session) ID() string { return s.id }

// Run serves the connection until it closes. An orderly disconnect returns
// nil.
func (s *Session) Run(ctx context.Context) error {
	ctx = context.WithValue(ctx, contextkey.SessionID, s.id)
	ctx, cancel := context.WithCancel(ctx)
	defer s.cleanup(ctx, cancel)

	logger.Info(ctx, "judge daemon connected", zap.String("remote", s.deps.Transport.RemoteAddr()), zap.Int64("judger", s.judger))
	if err := s.sendLanguages(ctx, s.languages()); err != nil {
		return err
	}
	if s.deps.Events != nil {
		unsubscribe := s.deps.Events.Subscribe(bus.EventSystemSetting, func(ctx context.Context, ev bus.Event) error {
			return s.sendLanguages(ctx, ev.Languages)
		})
		defer unsubscribe()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Give the daemon time to apply the language table before any task.
		if sleep(ctx, s.opts.HandshakeSettle) {
			s.fill(ctx)
		}
	}()

	err := s.loop(ctx)
	if err == nil || appErr.Is(err, appErr.JudgeSessionClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Session) loop(ctx context.Context) error {
	for {
		data, err := s.deps.Transport.Receive(ctx)
		if err != nil {
			return err
		}
		msg, err := model.DecodeMessage(data)
		if err != nil {
			metrics.FramesDropped.WithLabelValues("malformed").Inc()
			logger.Warn(ctx, "malformed judge frame", zap.Error(err))
			continue
		}
		if msg == nil {
			continue
		}
		s.logFrame(ctx, msg)
		s.handle(ctx, msg)
	}
}

func (s *Session) logFrame(ctx context.Context, msg model.Message) {
	switch m := msg.(type) {
	case model.PingMessage, model.PrioMessage:
	case model.NextMessage:
		logger.Debug(ctx, "judge frame", zap.String("key", m.Key()), zap.String("rid", m.Result.RecordID))
	case model.StatusMessage:
		logger.Debug(ctx, "judge frame", zap.String("key", m.Key()))
	case model.EndMessage:
		logger.Info(ctx, "judge frame", zap.String("key", m.Key()), zap.String("rid", m.Result.RecordID))
	default:
		logger.Info(ctx, "judge frame", zap.String("key", msg.Key()))
	}
}

func (s *Session) handle(ctx context.Context, msg model.Message) {
	switch m := msg.(type) {
	case model.NextMessage:
		s.handleResult(ctx, frame{body: m.Result})
	case model.EndMessage:
		s.handleResult(ctx, frame{end: true, body: m.Result})
	case model.StatusMessage:
		if s.deps.Daemons == nil {
			return
		}
		err := s.deps.Daemons.Save(ctx, repository.DaemonStatus{
			JudgerID:   s.judger,
			SessionID:  s.id,
			RemoteAddr: s.deps.Transport.RemoteAddr(),
			Info:       m.Info,
		})
		if err != nil {
			logger.Warn(ctx, "store daemon status failed", zap.Error(err))
		}
	case model.PrioMessage:
		floor := m.Floor
		s.mu.Lock()
		s.filter.PriorityFloor = &floor
		s.mu.Unlock()
	case model.LangMessage:
		s.mu.Lock()
		s.filter.Langs = append([]string(nil), m.Langs...)
		s.mu.Unlock()
	case model.ConfigMessage:
		s.configure(ctx, m)
	case model.PingMessage:
	}
}

func (s *Session) configure(ctx context.Context, m model.ConfigMessage) {
	s.mu.Lock()
	if m.Prio != nil {
		floor := *m.Prio
		s.filter.PriorityFloor = &floor
	}
	grew := false
	if m.Concurrency != nil {
		grew = *m.Concurrency > s.concurrency
		s.concurrency = *m.Concurrency
	}
	s.mu.Unlock()
	if grew {
		s.fill(ctx)
	}
}

func (s *Session) handleResult(ctx context.Context, f frame) {
	s.mu.Lock()
	inf := s.tasks[f.body.RecordID]
	s.mu.Unlock()
	if inf == nil {
		metrics.FramesDropped.WithLabelValues("unknown_task").Inc()
		return
	}

	ready, res := inf.seq.offer(f)
	switch res {
	case offerDuplicate:
		metrics.FramesDropped.WithLabelValues("duplicate").Inc()
		return
	case offerOverflow:
		metrics.FramesDropped.WithLabelValues("overflow").Inc()
		logger.Warn(ctx, "too many out of order frames", zap.String("rid", f.body.RecordID))
		return
	}

	for _, fr := range ready {
		if fr.end {
			s.finish(ctx, inf, fr.body)
			return
		}
		if _, err := s.deps.Results.Next(ctx, inf.rec, fr.body); err != nil {
			// Left unacked: a resend, or the next frame, retries it.
			logger.Error(ctx, "apply next frame failed", zap.String("rid", inf.task.RecordID), zap.Error(err))
			return
		}
		inf.seq.ack(fr)
	}
}

func (s *Session) finish(ctx context.Context, inf *inflight, body model.JudgeResult) {
	if !body.Nop {
		final, err := s.deps.Results.End(ctx, inf.rec, body, service.EndOptions{Judger: s.judger})
		if err != nil {
			logger.Error(ctx, "finalise record failed", zap.String("rid", inf.task.RecordID), zap.Error(err))
			if final == nil && s.take(inf.task.RecordID) != nil {
				s.release(ctx, inf.task)
				s.fill(ctx)
				return
			}
		}
	}
	if s.take(inf.task.RecordID) != nil {
		s.fill(ctx)
	}
}

// fill starts pollers until every free slot is being served.
func (s *Session) fill(ctx context.Context) {
	for s.reserve() {
		go s.poll(ctx)
	}
}

func (s *Session) reserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.reserved >= s.concurrency {
		return false
	}
	s.reserved++
	s.wg.Add(1)
	return true
}

func (s *Session) unreserve() {
	s.mu.Lock()
	s.reserved--
	s.mu.Unlock()
}

func (s *Session) poll(ctx context.Context) {
	defer s.wg.Done()
	for {
		if ctx.Err() != nil {
			s.unreserve()
			return
		}
		s.mu.Lock()
		f := s.filter
		s.mu.Unlock()

		t, rec, err := s.deps.Dispatcher.Fetch(ctx, f)
		if err != nil && ctx.Err() == nil {
			logger.Warn(ctx, "fetch task failed", zap.Error(err))
		}
		if t != nil {
			s.dispatch(ctx, *t, rec)
			return
		}
		if !sleep(ctx, s.opts.PollInterval) {
			s.unreserve()
			return
		}
	}
}

func (s *Session) dispatch(ctx context.Context, t model.Task, rec *model.Record) {
	s.mu.Lock()
	if s.closed {
		s.reserved--
		s.mu.Unlock()
		s.release(ctx, t)
		return
	}
	s.tasks[t.RecordID] = &inflight{task: t, rec: rec, seq: newSequencer(s.opts.MaxBufferedFrames)}
	s.mu.Unlock()
	metrics.InFlight.Inc()

	if err := s.deps.Dispatcher.MarkFetched(ctx, t, rec); err != nil {
		logger.Warn(ctx, "mark record fetched failed", zap.String("rid", t.RecordID), zap.Error(err))
	}
	payload, err := model.DispatchPayload(rec, t)
	if err != nil {
		logger.Warn(ctx, "build task payload failed", zap.String("rid", t.RecordID), zap.Error(err))
	} else if err = s.send(ctx, map[string]interface{}{"task": payload}); err != nil {
		logger.Warn(ctx, "send task failed", zap.String("rid", t.RecordID), zap.Error(err))
	}
	if err != nil && s.take(t.RecordID) != nil {
		s.release(ctx, t)
		s.fill(ctx)
	}
}

// take removes a task from the in-flight set, freeing its slot.
func (s *Session) take(rid string) *inflight {
	s.mu.Lock()
	inf, ok := s.tasks[rid]
	if ok {
		delete(s.tasks, rid)
		s.reserved--
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	metrics.InFlight.Dec()
	return inf
}

func (s *Session) release(ctx context.Context, t model.Task) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ReleaseTimeout)
	defer cancel()
	if err := s.deps.Dispatcher.Release(ctx, t); err != nil {
		logger.Error(ctx, "release task failed", zap.String("rid", t.RecordID), zap.Error(err))
	}
}

func (s *Session) cleanup(ctx context.Context, cancel context.CancelFunc) {
	s.mu.Lock()
	s.closed = true
	held := make([]model.Task, 0, len(s.tasks))
	for rid, inf := range s.tasks {
		held = append(held, inf.task)
		delete(s.tasks, rid)
	}
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	metrics.InFlight.Sub(float64(len(held)))

	var g errgroup.Group
	for _, t := range held {
		t := t
		g.Go(func() error {
			s.release(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	if s.deps.Daemons != nil {
		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ReleaseTimeout)
		if err := s.deps.Daemons.Remove(rctx, s.id); err != nil {
			logger.Warn(rctx, "remove daemon status failed", zap.Error(err))
		}
		rcancel()
	}
	_ = s.deps.Transport.Close()
	logger.Info(ctx, "judge daemon disconnected", zap.String("remote", s.deps.Transport.RemoteAddr()), zap.Int("released", len(held)))
}

func (s *Session) languages() map[string]model.Language {
	if s.deps.Languages == nil {
		return map[string]model.Language{}
	}
	return s.deps.Languages()
}

func (s *Session) sendLanguages(ctx context.Context, langs map[string]model.Language) error {
	return s.send(ctx, map[string]interface{}{"language": langs})
}

func (s *Session) send(ctx context.Context, v interface{}) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.deps.Transport.Send(ctx, v)
}

// InFlight returns the number of tasks the daemon currently holds.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// sleep waits d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
