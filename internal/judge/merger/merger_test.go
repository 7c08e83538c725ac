package merger

import (
	"encoding/json"
	"math"
	"testing"

	"judgehub/internal/judge/model"
)

func floatPtr(v float64) *float64 { return &v }

func statusPtr(s model.Status) *model.Status { return &s }

func TestMergeTruncatesScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want float64
	}{
		{0.12345, 0.12},
		{100, 100},
		{99.999, 99.99},
		{0, 0},
		{-1.234, -1.24},
	}
	for _, tt := range tests {
		tt := tt
		set, _ := Merge(model.JudgeResult{Score: floatPtr(tt.in)})
		if set.Score == nil {
			t.Fatalf("expected score set for %v", tt.in)
		}
		if *set.Score != tt.want {
			t.Fatalf("expected score %v for %v, got %v", tt.want, tt.in, *set.Score)
		}
	}
}

func TestMergeSkipsNonFiniteNumbers(t *testing.T) {
	t.Parallel()

	set, _ := Merge(model.JudgeResult{
		Score:  floatPtr(math.NaN()),
		Time:   floatPtr(math.Inf(1)),
		Memory: floatPtr(math.Inf(-1)),
	})
	if set.Score != nil || set.Time != nil || set.Memory != nil {
		t.Fatalf("expected non-finite numbers to be skipped, got %+v", set)
	}
	if !set.IsEmpty() {
		t.Fatalf("expected empty set")
	}
}

func TestMergeCasesTakePrecedenceOverCase(t *testing.T) {
	t.Parallel()

	_, push := Merge(model.JudgeResult{
		Case:  &model.TestCase{ID: 9},
		Cases: []model.TestCase{{ID: 1}, {ID: 2}},
	})
	if len(push.TestCases) != 2 || push.TestCases[0].ID != 1 || push.TestCases[1].ID != 2 {
		t.Fatalf("expected batch cases only, got %+v", push.TestCases)
	}

	_, push = Merge(model.JudgeResult{Case: &model.TestCase{ID: 9}})
	if len(push.TestCases) != 1 || push.TestCases[0].ID != 9 {
		t.Fatalf("expected single case, got %+v", push.TestCases)
	}
}

func TestMergeTextsAndStatus(t *testing.T) {
	t.Parallel()

	body := model.JudgeResult{
		Message:      &model.JudgeText{Message: "Unable to apply hack: {0}", Params: []interface{}{"bad config"}},
		CompilerText: "warning: unused variable",
		Status:       statusPtr(model.StatusCompiling),
		Progress:     floatPtr(40),
		Subtasks:     map[int]model.SubtaskResult{1: {Score: 50, Status: model.StatusAccepted}},
	}
	set, push := Merge(body)

	if len(push.JudgeTexts) != 1 || push.JudgeTexts[0] != "Unable to apply hack: bad config" {
		t.Fatalf("unexpected judge texts %v", push.JudgeTexts)
	}
	if len(push.CompilerTexts) != 1 {
		t.Fatalf("expected compiler text appended")
	}
	if set.Status == nil || *set.Status != model.StatusCompiling {
		t.Fatalf("expected status compiling")
	}
	if set.Progress == nil || *set.Progress != 40 {
		t.Fatalf("expected progress 40")
	}
	if set.Subtasks[1].Score != 50 {
		t.Fatalf("expected subtasks overwritten")
	}

	set, push = Merge(model.JudgeResult{Status: statusPtr(model.StatusWaiting), Message: &model.JudgeText{}})
	if set.Status != nil {
		t.Fatalf("expected zero status to be treated as absent")
	}
	if len(push.JudgeTexts) != 0 {
		t.Fatalf("expected empty message to be skipped")
	}
}

func TestMergeNeverShrinksSequences(t *testing.T) {
	t.Parallel()

	bodies := []string{
		`{"case":{"id":1,"score":10}}`,
		`{"cases":[{"id":2},{"id":3}],"message":"ok"}`,
		`{"compilerText":"cc1: note"}`,
		`{"status":1,"score":100,"time":12,"memory":1024}`,
		`{}`,
		`{"cases":[]}`,
		`{"message":{"message":"line {0}","params":[3]}}`,
	}

	rec := &model.Record{
		TestCases:  []model.TestCase{{ID: 0}},
		JudgeTexts: []string{"previous"},
	}
	for _, raw := range bodies {
		var body model.JudgeResult
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		before := [3]int{len(rec.TestCases), len(rec.JudgeTexts), len(rec.CompilerTexts)}
		set, push := Merge(body)
		model.RecordUpdate{Set: set, Push: push}.Apply(rec)
		after := [3]int{len(rec.TestCases), len(rec.JudgeTexts), len(rec.CompilerTexts)}
		for i := range before {
			if after[i] < before[i] {
				t.Fatalf("sequence %d shrank from %d to %d on %s", i, before[i], after[i], raw)
			}
		}
	}
	if len(rec.TestCases) != 4 || len(rec.JudgeTexts) != 3 || len(rec.CompilerTexts) != 1 {
		t.Fatalf("unexpected lengths %d %d %d", len(rec.TestCases), len(rec.JudgeTexts), len(rec.CompilerTexts))
	}
	if rec.Status != model.StatusAccepted || rec.Score != 100 {
		t.Fatalf("expected accepted 100, got %v %v", rec.Status, rec.Score)
	}
}
