package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// JudgeText is a judge message, either plain or a template with positional
// {0}, {1}, ... parameters.
type JudgeText struct {
	Message string        `json:"message"`
	Params  []interface{} `json:"params,omitempty"`
}

// UnmarshalJSON accepts both "text" and {"message": "...", "params": [...]}.
func (t *JudgeText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		t.Params = nil
		return json.Unmarshal(data, &t.Message)
	}
	type plain JudgeText
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = JudgeText(p)
	return nil
}

// String renders the message with its parameters substituted.
func (t JudgeText) String() string {
	if len(t.Params) == 0 {
		return t.Message
	}
	out := t.Message
	for i, p := range t.Params {
		out = strings.ReplaceAll(out, "{"+strconv.Itoa(i)+"}", fmt.Sprint(p))
	}
	return out
}

// JudgeResult is the body of a next or end frame. Absent fields are nil and
// leave the record untouched.
type JudgeResult struct {
	RecordID string `json:"rid"`
	DomainID string `json:"domainId"`
	// Seq is the per-task frame counter, starting at 1. Legacy daemons omit it.
	Seq *int64 `json:"seq,omitempty"`

	Case         *TestCase             `json:"case,omitempty"`
	Cases        []TestCase            `json:"cases,omitempty"`
	Message      *JudgeText            `json:"message,omitempty"`
	CompilerText string                `json:"compilerText,omitempty"`
	Status       *Status               `json:"status,omitempty"`
	Score        *float64              `json:"score,omitempty"`
	Time         *float64              `json:"time,omitempty"`
	Memory       *float64              `json:"memory,omitempty"`
	Progress     *float64              `json:"progress,omitempty"`
	AddProgress  *float64              `json:"addProgress,omitempty"`
	Subtasks     map[int]SubtaskResult `json:"subtasks,omitempty"`

	// End only.
	Judger *int64 `json:"judger,omitempty"`
	Nop    bool   `json:"nop,omitempty"`
}
