package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"judgehub/internal/judge/bus"
	"judgehub/internal/judge/model"
	"judgehub/internal/judge/repository"
	"judgehub/internal/metrics"
	problemrepo "judgehub/internal/problem/repository"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/contextkey"
	"judgehub/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const (
	hackFileKey       = "hack"
	hackPriorityBase  = -5000
	hackPriorityScale = 5
	hackPriorityExtra = 50
)

// PostJudge updates problem, contest and user statistics for a finished
// record, applies a successful hack and announces the judgement. Each step
// is best effort; failures are logged.
func (s *Service) PostJudge(ctx context.Context, rec *model.Record) {
	if rec.Input != nil {
		return
	}
	ctx = context.WithValue(ctx, contextkey.RecordID, rec.ID)
	accept := rec.Status == model.StatusAccepted

	updated, err := s.problems.UpdateStatus(ctx, problemrepo.StatusUpdate{
		DomainID:  rec.DomainID,
		ProblemID: rec.ProblemID,
		UserID:    rec.UserID,
		RecordID:  rec.ID,
		Status:    int(rec.Status),
		Score:     rec.Score,
	})
	if err != nil {
		s.stepFailed(ctx, "problem_status", err)
	}

	if rec.ContestID != "" {
		err := s.contests.UpdateStatus(ctx, problemrepo.ContestStatus{
			DomainID:  rec.DomainID,
			ContestID: rec.ContestID,
			UserID:    rec.UserID,
			ProblemID: rec.ProblemID,
			RecordID:  rec.ID,
			Status:    int(rec.Status),
			Score:     rec.Score,
			Subtasks:  rec.Subtasks,
		})
		if err != nil {
			s.stepFailed(ctx, "contest_status", err)
		}
	} else if accept && updated {
		if err := s.domains.IncUserAccept(ctx, rec.DomainID, rec.UserID, 1); err != nil {
			s.stepFailed(ctx, "user_accept", err)
		}
	}

	var p *problemrepo.Problem
	if accept && updated {
		p, err = s.problems.IncAccept(ctx, rec.DomainID, rec.ProblemID, 1)
	} else {
		p, err = s.problems.Get(ctx, rec.DomainID, rec.ProblemID)
	}
	if err != nil {
		s.stepFailed(ctx, "problem_load", err)
	}

	if p != nil {
		if rec.Status.CountsInStats() {
			keys := []string{rec.Status.ShortText(), fmt.Sprintf("s%d", int64(math.Floor(rec.Score)))}
			if err := s.problems.IncStats(ctx, rec.DomainID, rec.ProblemID, keys...); err != nil {
				s.stepFailed(ctx, "problem_stats", err)
			}
		}
		if rec.Status == model.StatusHackSuccessful {
			if err := s.applyHack(ctx, rec, p); err != nil {
				s.stepFailed(ctx, "hack", err)
				s.reportHackFailure(ctx, rec, err)
			}
		}
	}

	if err := s.bus.Parallel(ctx, bus.Event{Name: bus.EventRecordJudge, Record: rec, Updated: updated}); err != nil {
		s.stepFailed(ctx, "judge_event", err)
	}
}

func (s *Service) stepFailed(ctx context.Context, step string, err error) {
	metrics.PostJudgeFailures.WithLabelValues(step).Inc()
	logger.Error(ctx, "post judge step failed", zap.String("step", step), zap.Error(err))
}

func (s *Service) reportHackFailure(ctx context.Context, rec *model.Record, cause error) {
	body := model.JudgeResult{
		RecordID: rec.ID,
		DomainID: rec.DomainID,
		Message: &model.JudgeText{
			Message: "Unable to apply hack: {0}",
			Params:  []interface{}{cause.Error()},
		},
	}
	if _, err := s.Next(ctx, rec.Clone(), body); err != nil {
		logger.Error(ctx, "report hack failure failed", zap.Error(err))
	}
}

// applyHack appends the hack input as a new case of the last subtask and
// rejudges every accepted record of the problem against it.
func (s *Service) applyHack(ctx context.Context, rec *model.Record, p *problemrepo.Problem) error {
	if s.files == nil {
		return appErr.New(appErr.HackApplyFailed).WithMessage("submission files are not configured")
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(p.Config), &doc); err != nil {
		return appErr.Wrapf(err, appErr.HackApplyFailed, "invalid problem config")
	}
	subtasks := mappingValue(documentRoot(&doc), "subtasks")
	if subtasks == nil || subtasks.Kind != yaml.SequenceNode || len(subtasks.Content) == 0 {
		return appErr.New(appErr.HackApplyFailed).WithMessage("problem config has no subtasks")
	}
	last := subtasks.Content[len(subtasks.Content)-1]
	if last.Kind != yaml.MappingNode {
		return appErr.New(appErr.HackApplyFailed).WithMessage("last subtask is not a mapping")
	}

	ref := rec.Files[hackFileKey]
	fileID := strings.SplitN(ref, "#", 2)[0]
	if fileID == "" {
		return appErr.New(appErr.HackApplyFailed).WithMessage("hack input is missing")
	}
	input, err := s.files.GetSubmissionFile(ctx, fileID)
	if err != nil {
		return appErr.Wrapf(err, appErr.HackApplyFailed, "load hack input failed")
	}

	cases := mappingValue(last, "cases")
	if cases == nil {
		cases = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		last.Content = append(last.Content, scalar("cases"), cases)
	}
	if cases.Kind != yaml.SequenceNode {
		return appErr.New(appErr.HackApplyFailed).WithMessage("subtask cases is not a list")
	}
	name := fmt.Sprintf("hack-%s-%d.in", rec.ID, len(cases.Content)+1)
	cases.Content = append(cases.Content, &yaml.Node{
		Kind:    yaml.MappingNode,
		Tag:     "!!map",
		Content: []*yaml.Node{scalar("input"), scalar(name), scalar("output"), scalar("/dev/null")},
	})
	config, err := yaml.Marshal(&doc)
	if err != nil {
		return appErr.Wrapf(err, appErr.HackApplyFailed, "encode problem config failed")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.problems.AddTestdata(gctx, rec.DomainID, rec.ProblemID, name, input)
	})
	g.Go(func() error {
		return s.problems.AddTestdata(gctx, rec.DomainID, rec.ProblemID, problemrepo.ConfigFile, config)
	})
	if err := g.Wait(); err != nil {
		return appErr.Wrapf(err, appErr.HackApplyFailed, "store hack testdata failed")
	}

	accepted := model.StatusAccepted
	targets, err := s.records.Find(ctx, repository.RecordQuery{
		DomainID:       rec.DomainID,
		ProblemID:      rec.ProblemID,
		Status:         &accepted,
		ExcludeContest: model.PretestContestID,
		Fields:         []string{"contest"},
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.HackApplyFailed, "list accepted records failed")
	}
	base := hackPriorityBase - len(targets)*hackPriorityScale - hackPriorityExtra
	priority, err := s.priority.SubmissionPriority(ctx, rec.UserID, base)
	if err != nil {
		return appErr.Wrapf(err, appErr.HackApplyFailed, "compute rejudge priority failed")
	}
	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.ID)
	}
	logger.Info(ctx, "hack applied, rejudging accepted records",
		zap.String("input", name), zap.Int("count", len(ids)), zap.Int("priority", priority))
	return s.Judge(ctx, rec.DomainID, ids, priority, model.TaskMeta{HackRejudge: name})
}

func documentRoot(doc *yaml.Node) *yaml.Node {
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return doc.Content[0]
	}
	return doc
}

// mappingValue returns the value stored under key in a mapping node.
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}
