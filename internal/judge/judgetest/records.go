// Package judgetest provides in-memory collaborators for judge tests.
package judgetest

import (
	"context"
	"sort"
	"sync"

	"judgehub/internal/judge/model"
	"judgehub/internal/judge/repository"
	appErr "judgehub/pkg/errors"
)

// MemoryRecordStore is a RecordStore kept in a map.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records map[string]*model.Record

	Updates int
	Resets  int
	// UpdateErr, when set, fails every Update.
	UpdateErr error
}

func NewMemoryRecordStore(records ...*model.Record) *MemoryRecordStore {
	s := &MemoryRecordStore{records: make(map[string]*model.Record)}
	for _, rec := range records {
		s.records[key(rec.DomainID, rec.ID)] = normalize(rec.Clone())
	}
	return s
}

func key(domainID, recordID string) string {
	return domainID + "/" + recordID
}

func normalize(rec *model.Record) *model.Record {
	if rec.TestCases == nil {
		rec.TestCases = []model.TestCase{}
	}
	if rec.JudgeTexts == nil {
		rec.JudgeTexts = []string{}
	}
	if rec.CompilerTexts == nil {
		rec.CompilerTexts = []string{}
	}
	return rec
}

func (s *MemoryRecordStore) Get(ctx context.Context, domainID, recordID string) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key(domainID, recordID)]
	if !ok {
		return nil, appErr.Newf(appErr.RecordNotFound, "record %s/%s not found", domainID, recordID)
	}
	return rec.Clone(), nil
}

// Find ignores projection and returns whole records ordered by id.
func (s *MemoryRecordStore) Find(ctx context.Context, q repository.RecordQuery) ([]*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Record
	for _, rec := range s.records {
		if rec.DomainID != q.DomainID {
			continue
		}
		if q.ProblemID != 0 && rec.ProblemID != q.ProblemID {
			continue
		}
		if q.Status != nil && rec.Status != *q.Status {
			continue
		}
		if q.ExcludeContest != "" && rec.ContestID == q.ExcludeContest {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryRecordStore) Update(ctx context.Context, domainID, recordID string, u model.RecordUpdate) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return nil, s.UpdateErr
	}
	rec, ok := s.records[key(domainID, recordID)]
	if !ok {
		return nil, appErr.Newf(appErr.RecordNotFound, "record %s/%s not found", domainID, recordID)
	}
	s.Updates++
	u.Apply(rec)
	return rec.Clone(), nil
}

func (s *MemoryRecordStore) Reset(ctx context.Context, domainID, recordID string, rejudged bool) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key(domainID, recordID)]
	if !ok {
		return nil, appErr.Newf(appErr.RecordNotFound, "record %s/%s not found", domainID, recordID)
	}
	s.Resets++
	rec.Status = model.StatusWaiting
	rec.Score, rec.Time, rec.Memory = 0, 0, 0
	rec.Progress = nil
	rec.TestCases = []model.TestCase{}
	rec.JudgeTexts = []string{}
	rec.CompilerTexts = []string{}
	rec.Subtasks = map[int]model.SubtaskResult{}
	rec.JudgeAt = nil
	rec.Judger = 0
	rec.Rejudged = rejudged
	return rec.Clone(), nil
}

func (s *MemoryRecordStore) Insert(ctx context.Context, rec *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(rec.DomainID, rec.ID)
	if _, ok := s.records[k]; ok {
		return appErr.Newf(appErr.SubmissionCreateFailed, "record %s already exists", rec.ID)
	}
	s.records[k] = normalize(rec.Clone())
	return nil
}

// Snapshot returns the stored record without counting as a read.
func (s *MemoryRecordStore) Snapshot(domainID, recordID string) *model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[key(domainID, recordID)].Clone()
}

// Counts returns the number of updates and resets applied so far.
func (s *MemoryRecordStore) Counts() (updates, resets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Updates, s.Resets
}

var _ repository.RecordStore = (*MemoryRecordStore)(nil)
