// Package merger turns partial judge results into record mutations.
package merger

import (
	"math"

	"judgehub/internal/judge/model"
)

// Merge splits a result body into the fields it overwrites and the items it
// appends. It never deduplicates: callers apply each delivered frame once.
func Merge(body model.JudgeResult) (model.RecordSet, model.RecordPush) {
	var set model.RecordSet
	var push model.RecordPush

	if len(body.Cases) > 0 {
		push.TestCases = append(push.TestCases, body.Cases...)
	} else if body.Case != nil {
		push.TestCases = append(push.TestCases, *body.Case)
	}
	if body.Message != nil {
		if text := body.Message.String(); text != "" {
			push.JudgeTexts = append(push.JudgeTexts, text)
		}
	}
	if body.CompilerText != "" {
		push.CompilerTexts = append(push.CompilerTexts, body.CompilerText)
	}

	// WAITING is never reported by a daemon; a zero status means absent.
	if body.Status != nil && *body.Status != model.StatusWaiting {
		status := *body.Status
		set.Status = &status
	}
	if finite(body.Score) {
		score := TruncateScore(*body.Score)
		set.Score = &score
	}
	if finite(body.Time) {
		v := *body.Time
		set.Time = &v
	}
	if finite(body.Memory) {
		v := *body.Memory
		set.Memory = &v
	}
	if body.Progress != nil {
		v := *body.Progress
		set.Progress = &v
	}
	if body.Subtasks != nil {
		set.Subtasks = body.Subtasks
	}
	return set, push
}

// TruncateScore keeps two decimal digits, rounding toward negative infinity.
func TruncateScore(score float64) float64 {
	return math.Floor(score*100) / 100
}

func finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}
