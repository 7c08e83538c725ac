package judgetest

import (
	"context"
	"fmt"
	"sync"

	"judgehub/internal/judge/model"
	problemrepo "judgehub/internal/problem/repository"
	appErr "judgehub/pkg/errors"
)

// MemoryProblems implements the problem, contest and domain repositories and
// the submission file store in memory.
type MemoryProblems struct {
	mu sync.Mutex

	problems map[int64]*problemrepo.Problem
	statuses map[string]int
	stats    map[int64]map[string]int64
	Testdata map[string][]byte
	Files    map[string][]byte

	ContestUpdates []problemrepo.ContestStatus
	UserAccepts    map[int64]int64
}

func NewMemoryProblems(problems ...*problemrepo.Problem) *MemoryProblems {
	m := &MemoryProblems{
		problems:    make(map[int64]*problemrepo.Problem),
		statuses:    make(map[string]int),
		stats:       make(map[int64]map[string]int64),
		Testdata:    make(map[string][]byte),
		Files:       make(map[string][]byte),
		UserAccepts: make(map[int64]int64),
	}
	for _, p := range problems {
		cp := *p
		m.problems[p.ID] = &cp
	}
	return m
}

func (m *MemoryProblems) Get(ctx context.Context, domainID string, pid int64) (*problemrepo.Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.problems[pid]
	if !ok || p.DomainID != domainID {
		return nil, appErr.Newf(appErr.ProblemNotFound, "problem %s/%d not found", domainID, pid)
	}
	cp := *p
	return &cp, nil
}

// Problem returns a copy of the stored problem.
func (m *MemoryProblems) Problem(pid int64) problemrepo.Problem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.problems[pid]; ok {
		return *p
	}
	return problemrepo.Problem{}
}

func (m *MemoryProblems) UpdateStatus(ctx context.Context, u problemrepo.StatusUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := fmt.Sprintf("%s/%d/%d", u.DomainID, u.ProblemID, u.UserID)
	if prev, ok := m.statuses[k]; ok && prev == int(model.StatusAccepted) {
		return false, nil
	}
	m.statuses[k] = u.Status
	return true, nil
}

func (m *MemoryProblems) IncAccept(ctx context.Context, domainID string, pid int64, delta int64) (*problemrepo.Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.problems[pid]
	if !ok {
		return nil, appErr.Newf(appErr.ProblemNotFound, "problem %s/%d not found", domainID, pid)
	}
	p.NAccept += delta
	cp := *p
	return &cp, nil
}

func (m *MemoryProblems) IncStats(ctx context.Context, domainID string, pid int64, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats[pid] == nil {
		m.stats[pid] = make(map[string]int64)
	}
	for _, k := range keys {
		m.stats[pid][k]++
	}
	return nil
}

func (m *MemoryProblems) Stats(ctx context.Context, domainID string, pid int64) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.stats[pid]))
	for k, v := range m.stats[pid] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryProblems) AddTestdata(ctx context.Context, domainID string, pid int64, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Testdata[problemrepo.TestdataKey(domainID, pid, name)] = append([]byte(nil), data...)
	if name == problemrepo.ConfigFile {
		if p, ok := m.problems[pid]; ok {
			p.Config = string(data)
		}
	}
	return nil
}

func (m *MemoryProblems) GetSubmissionFile(ctx context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Files[id]
	if !ok {
		return nil, appErr.Newf(appErr.NotFound, "submission file %s not found", id)
	}
	return data, nil
}

func (m *MemoryProblems) UpdateContestStatus(ctx context.Context, st problemrepo.ContestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ContestUpdates = append(m.ContestUpdates, st)
	return nil
}

func (m *MemoryProblems) IncUserAccept(ctx context.Context, domainID string, uid int64, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UserAccepts[uid] += delta
	return nil
}

// Contests adapts m to the contest repository interface.
func (m *MemoryProblems) Contests() problemrepo.ContestRepository {
	return contestAdapter{m}
}

type contestAdapter struct{ m *MemoryProblems }

func (c contestAdapter) UpdateStatus(ctx context.Context, st problemrepo.ContestStatus) error {
	return c.m.UpdateContestStatus(ctx, st)
}

var (
	_ problemrepo.ProblemRepository = (*MemoryProblems)(nil)
	_ problemrepo.DomainRepository  = (*MemoryProblems)(nil)
)
