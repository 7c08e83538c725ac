package model

import (
	"encoding/json"
	"time"
)

// PretestContestID is the placeholder contest holding pretest runs. Records
// in it are excluded from rejudge batches.
const PretestContestID = "000000000000000000000000"

// Record is one submission together with its accumulated judge result.
type Record struct {
	ID            string                `json:"_id"`
	DomainID      string                `json:"domainId"`
	ProblemID     int64                 `json:"pid"`
	UserID        int64                 `json:"uid"`
	ContestID     string                `json:"contest,omitempty"`
	Lang          string                `json:"lang"`
	Code          string                `json:"code"`
	Status        Status                `json:"status"`
	Score         float64               `json:"score"`
	Time          float64               `json:"time"`
	Memory        float64               `json:"memory"`
	Progress      *float64              `json:"progress,omitempty"`
	TestCases     []TestCase            `json:"testCases"`
	JudgeTexts    []string              `json:"judgeTexts"`
	CompilerTexts []string              `json:"compilerTexts"`
	Subtasks      map[int]SubtaskResult `json:"subtasks"`
	JudgeAt       *time.Time            `json:"judgeAt,omitempty"`
	Judger        int64                 `json:"judger,omitempty"`
	// Input is set for self-test runs; such records skip post-judge.
	Input    *string           `json:"input,omitempty"`
	Files    map[string]string `json:"files,omitempty"`
	Rejudged bool              `json:"rejudged,omitempty"`
}

// Clone returns a deep copy so a cached snapshot can be mutated without
// touching a caller-owned value.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.TestCases = append([]TestCase(nil), r.TestCases...)
	out.JudgeTexts = append([]string(nil), r.JudgeTexts...)
	out.CompilerTexts = append([]string(nil), r.CompilerTexts...)
	if r.Subtasks != nil {
		out.Subtasks = make(map[int]SubtaskResult, len(r.Subtasks))
		for k, v := range r.Subtasks {
			out.Subtasks[k] = v
		}
	}
	if r.Files != nil {
		out.Files = make(map[string]string, len(r.Files))
		for k, v := range r.Files {
			out.Files[k] = v
		}
	}
	if r.Progress != nil {
		p := *r.Progress
		out.Progress = &p
	}
	if r.JudgeAt != nil {
		at := *r.JudgeAt
		out.JudgeAt = &at
	}
	if r.Input != nil {
		in := *r.Input
		out.Input = &in
	}
	return &out
}

// TestCase is the result of one test point.
type TestCase struct {
	ID        int     `json:"id"`
	SubtaskID int     `json:"subtaskId"`
	Score     float64 `json:"score"`
	Time      float64 `json:"time"`
	Memory    float64 `json:"memory"`
	Status    Status  `json:"status"`
	Message   string  `json:"message"`
}

// SubtaskResult is the aggregated outcome of one subtask.
type SubtaskResult struct {
	Type   string  `json:"type,omitempty"`
	Score  float64 `json:"score"`
	Status Status  `json:"status"`
}

// Task is one unit of dispatch work referencing a record's judge run.
type Task struct {
	ID          string `json:"taskId"`
	DomainID    string `json:"domainId"`
	RecordID    string `json:"rid"`
	UserID      int64  `json:"uid"`
	Lang        string `json:"lang"`
	Priority    int    `json:"priority"`
	Seq         int64  `json:"order"`
	Rejudge     bool   `json:"rejudge,omitempty"`
	HackRejudge string `json:"hackRejudge,omitempty"`
}

// TaskMeta carries optional markers copied onto enqueued tasks.
type TaskMeta struct {
	Rejudge     bool
	HackRejudge string
}

// Filter is a session's capability query against the queue.
type Filter struct {
	// PriorityFloor, when set, admits only tasks with a strictly greater priority.
	PriorityFloor *int
	// Langs, when non-empty, admits only tasks in one of these languages.
	Langs []string
}

// Match reports whether t satisfies f.
func (f Filter) Match(t Task) bool {
	if f.PriorityFloor != nil && t.Priority <= *f.PriorityFloor {
		return false
	}
	if len(f.Langs) == 0 {
		return true
	}
	for _, lang := range f.Langs {
		if lang == t.Lang {
			return true
		}
	}
	return false
}

// DispatchPayload is the task frame body: the record fields overlaid with the
// task fields.
func DispatchPayload(rec *Record, t Task) (map[string]interface{}, error) {
	payload := make(map[string]interface{})
	for _, v := range []interface{}{rec, t} {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
	}
	payload["type"] = "judge"
	return payload, nil
}

// Language is one entry of the language table pushed to judge daemons.
type Language struct {
	Display   string  `json:"display"`
	Compile   string  `json:"compile,omitempty,optional"`
	Execute   string  `json:"execute,omitempty,optional"`
	CodeFile  string  `json:"code_file,omitempty,optional"`
	Highlight string  `json:"highlight,omitempty,optional"`
	TimeRate  float64 `json:"time_limit_rate,omitempty,optional"`
	Disabled  bool    `json:"disabled,omitempty,optional"`
}
