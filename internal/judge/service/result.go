package service

import (
	"context"
	"math"

	"judgehub/internal/judge/bus"
	"judgehub/internal/judge/merger"
	"judgehub/internal/judge/model"
	"judgehub/internal/metrics"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultJudger int64 = 1

// EndOptions tunes the finalisation of a judge run.
type EndOptions struct {
	// Judger is used when the frame names no judger.
	Judger int64
}

// Next merges a partial result into rec and the store. rec is the caller's
// snapshot and receives the same mutation. A nil rec is loaded from the
// store; that path is kept for old callers only.
func (s *Service) Next(ctx context.Context, rec *model.Record, body model.JudgeResult) (*model.Record, error) {
	rec, err := s.resolve(ctx, rec, body, "next")
	if rec == nil {
		return nil, err
	}
	set, push := merger.Merge(body)
	u := model.RecordUpdate{Set: set, Push: push}
	if body.AddProgress != nil && !math.IsNaN(*body.AddProgress) && !math.IsInf(*body.AddProgress, 0) {
		u.Inc = map[string]float64{model.FieldProgress: *body.AddProgress}
	}

	stored, err := s.records.Update(ctx, rec.DomainID, rec.ID, u)
	if err != nil {
		return nil, err
	}
	u.Apply(rec)
	metrics.ResultsMerged.WithLabelValues("next").Inc()
	s.bus.Broadcast(ctx, bus.Event{Name: bus.EventRecordChange, Record: stored, Update: &u, Body: &body})
	return stored, nil
}

// End merges the terminal result, stamps the judge time and judger, runs the
// post-judge steps and broadcasts the reloaded record. A nil record with an
// error means nothing was finalised.
func (s *Service) End(ctx context.Context, rec *model.Record, body model.JudgeResult, opts EndOptions) (*model.Record, error) {
	rec, err := s.resolve(ctx, rec, body, "end")
	if rec == nil {
		return nil, err
	}
	set, push := merger.Merge(body)
	judgeAt := s.now()
	judger := opts.Judger
	if body.Judger != nil {
		judger = *body.Judger
	}
	if judger == 0 {
		judger = defaultJudger
	}
	set.JudgeAt = &judgeAt
	set.Judger = &judger
	u := model.RecordUpdate{Set: set, Push: push, Unset: []string{model.FieldProgress}}

	stored, err := s.records.Update(ctx, rec.DomainID, rec.ID, u)
	if err != nil {
		return nil, err
	}
	u.Apply(rec)
	metrics.ResultsMerged.WithLabelValues("end").Inc()

	s.PostJudge(ctx, stored)

	final, err := s.records.Get(ctx, rec.DomainID, rec.ID)
	if err != nil {
		logger.Warn(ctx, "reload judged record failed", zap.String("rid", rec.ID), zap.Error(err))
		final = stored
	}
	s.bus.Broadcast(ctx, bus.Event{Name: bus.EventRecordChange, Record: final, Body: &body})
	return final, nil
}

func (s *Service) resolve(ctx context.Context, rec *model.Record, body model.JudgeResult, key string) (*model.Record, error) {
	if rec != nil {
		return rec, nil
	}
	logger.Warn(ctx, "result without record snapshot is deprecated",
		zap.String("key", key), zap.String("rid", body.RecordID))
	rec, err := s.records.Get(ctx, body.DomainID, body.RecordID)
	if err != nil {
		if appErr.Is(err, appErr.RecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}
