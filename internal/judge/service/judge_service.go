package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"judgehub/internal/judge/bus"
	"judgehub/internal/judge/model"
	"judgehub/internal/judge/repository"
	"judgehub/internal/metrics"
	problemrepo "judgehub/internal/problem/repository"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskQueue is the part of the task queue the service writes to.
type TaskQueue interface {
	Enqueue(ctx context.Context, t model.Task) (model.Task, error)
	Cancel(ctx context.Context, domainID, recordID string) (bool, error)
}

// Prioritizer derives submission priorities from user activity.
type Prioritizer interface {
	RecordSubmission(ctx context.Context, uid int64) error
	SubmissionPriority(ctx context.Context, uid int64, base int) (int, error)
}

// SubmissionFiles loads files uploaded with a submission.
type SubmissionFiles interface {
	GetSubmissionFile(ctx context.Context, id string) ([]byte, error)
}

// Publisher is the event bus as seen by the service.
type Publisher interface {
	Broadcast(ctx context.Context, ev bus.Event)
	Parallel(ctx context.Context, ev bus.Event) error
}

// Service merges judge results into records and runs the post-judge steps.
type Service struct {
	records  repository.RecordStore
	queue    TaskQueue
	priority Prioritizer
	problems problemrepo.ProblemRepository
	contests problemrepo.ContestRepository
	domains  problemrepo.DomainRepository
	files    SubmissionFiles
	bus      Publisher
	now      func() time.Time
}

// Config holds service dependencies and settings.
type Config struct {
	Records  repository.RecordStore
	Queue    TaskQueue
	Priority Prioritizer
	Problems problemrepo.ProblemRepository
	Contests problemrepo.ContestRepository
	Domains  problemrepo.DomainRepository
	Files    SubmissionFiles
	Bus      Publisher
	Now      func() time.Time
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("task queue is required")
	}
	if cfg.Priority == nil {
		return nil, fmt.Errorf("priority policy is required")
	}
	if cfg.Problems == nil || cfg.Contests == nil || cfg.Domains == nil {
		return nil, fmt.Errorf("problem, contest and domain repositories are required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		records:  cfg.Records,
		queue:    cfg.Queue,
		priority: cfg.Priority,
		problems: cfg.Problems,
		contests: cfg.Contests,
		domains:  cfg.Domains,
		files:    cfg.Files,
		bus:      cfg.Bus,
		now:      now,
	}, nil
}

// Add stores a new submission and queues its first judge run.
func (s *Service) Add(ctx context.Context, rec *model.Record) (*model.Record, error) {
	if rec == nil || rec.DomainID == "" {
		return nil, appErr.ValidationError("record", "domain required")
	}
	rec = rec.Clone()
	if rec.ID == "" {
		rec.ID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	rec.Status = model.StatusWaiting
	rec.TestCases = []model.TestCase{}
	rec.JudgeTexts = []string{}
	rec.CompilerTexts = []string{}
	if err := s.records.Insert(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.priority.RecordSubmission(ctx, rec.UserID); err != nil {
		logger.Warn(ctx, "count submission failed", zap.Int64("uid", rec.UserID), zap.Error(err))
	}
	priority, err := s.priority.SubmissionPriority(ctx, rec.UserID, 0)
	if err != nil {
		return nil, err
	}
	if _, err := s.enqueue(ctx, rec, priority, model.TaskMeta{}); err != nil {
		return nil, err
	}
	return rec, nil
}

// Judge resets the given records and queues a fresh judge run for each.
// Records that no longer exist are skipped.
func (s *Service) Judge(ctx context.Context, domainID string, recordIDs []string, priority int, meta model.TaskMeta) error {
	meta.Rejudge = true
	for _, rid := range recordIDs {
		rec, err := s.records.Reset(ctx, domainID, rid, true)
		if err != nil {
			if appErr.Is(err, appErr.RecordNotFound) {
				continue
			}
			return appErr.Wrapf(err, appErr.RejudgeFailed, "rejudge %s failed", rid)
		}
		if _, err := s.queue.Cancel(ctx, domainID, rid); err != nil {
			return appErr.Wrapf(err, appErr.RejudgeFailed, "rejudge %s failed", rid)
		}
		if _, err := s.enqueue(ctx, rec, priority, meta); err != nil {
			return appErr.Wrapf(err, appErr.RejudgeFailed, "rejudge %s failed", rid)
		}
		s.bus.Broadcast(ctx, bus.Event{Name: bus.EventRecordChange, Record: rec})
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, rec *model.Record, priority int, meta model.TaskMeta) (model.Task, error) {
	t, err := s.queue.Enqueue(ctx, model.Task{
		DomainID:    rec.DomainID,
		RecordID:    rec.ID,
		UserID:      rec.UserID,
		Lang:        rec.Lang,
		Priority:    priority,
		Rejudge:     meta.Rejudge,
		HackRejudge: meta.HackRejudge,
	})
	if err != nil {
		return model.Task{}, err
	}
	metrics.TasksEnqueued.Inc()
	return t, nil
}
