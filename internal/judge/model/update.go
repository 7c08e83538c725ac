package model

import "time"

// Record fields that may appear in RecordUpdate.Unset and RecordUpdate.Inc.
const (
	FieldProgress = "progress"
	FieldJudgeAt  = "judgeAt"
	FieldJudger   = "judger"
	FieldScore    = "score"
)

// RecordSet lists scalar fields replaced wholesale. Nil fields are left alone.
type RecordSet struct {
	Status   *Status               `json:"status,omitempty"`
	Score    *float64              `json:"score,omitempty"`
	Time     *float64              `json:"time,omitempty"`
	Memory   *float64              `json:"memory,omitempty"`
	Progress *float64              `json:"progress,omitempty"`
	Subtasks map[int]SubtaskResult `json:"subtasks,omitempty"`
	JudgeAt  *time.Time            `json:"judgeAt,omitempty"`
	Judger   *int64                `json:"judger,omitempty"`
}

// IsEmpty reports whether s changes nothing.
func (s RecordSet) IsEmpty() bool {
	return s.Status == nil && s.Score == nil && s.Time == nil && s.Memory == nil &&
		s.Progress == nil && s.Subtasks == nil && s.JudgeAt == nil && s.Judger == nil
}

// RecordPush lists items appended, in order, to the record's sequences.
type RecordPush struct {
	TestCases     []TestCase `json:"testCases,omitempty"`
	JudgeTexts    []string   `json:"judgeTexts,omitempty"`
	CompilerTexts []string   `json:"compilerTexts,omitempty"`
}

// IsEmpty reports whether p appends nothing.
func (p RecordPush) IsEmpty() bool {
	return len(p.TestCases) == 0 && len(p.JudgeTexts) == 0 && len(p.CompilerTexts) == 0
}

// RecordUpdate is one atomic store mutation of a record.
type RecordUpdate struct {
	Set   RecordSet
	Push  RecordPush
	Unset []string
	Inc   map[string]float64
}

// Apply mirrors u onto rec in the order set, push, unset, inc.
func (u RecordUpdate) Apply(rec *Record) {
	s := u.Set
	if s.Status != nil {
		rec.Status = *s.Status
	}
	if s.Score != nil {
		rec.Score = *s.Score
	}
	if s.Time != nil {
		rec.Time = *s.Time
	}
	if s.Memory != nil {
		rec.Memory = *s.Memory
	}
	if s.Progress != nil {
		p := *s.Progress
		rec.Progress = &p
	}
	if s.Subtasks != nil {
		rec.Subtasks = s.Subtasks
	}
	if s.JudgeAt != nil {
		at := *s.JudgeAt
		rec.JudgeAt = &at
	}
	if s.Judger != nil {
		rec.Judger = *s.Judger
	}

	rec.TestCases = append(rec.TestCases, u.Push.TestCases...)
	rec.JudgeTexts = append(rec.JudgeTexts, u.Push.JudgeTexts...)
	rec.CompilerTexts = append(rec.CompilerTexts, u.Push.CompilerTexts...)

	for _, field := range u.Unset {
		switch field {
		case FieldProgress:
			rec.Progress = nil
		case FieldJudgeAt:
			rec.JudgeAt = nil
		case FieldJudger:
			rec.Judger = 0
		}
	}
	for field, delta := range u.Inc {
		switch field {
		case FieldProgress:
			var p float64
			if rec.Progress != nil {
				p = *rec.Progress
			}
			p += delta
			rec.Progress = &p
		case FieldScore:
			rec.Score += delta
		}
	}
}
