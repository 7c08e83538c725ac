package repository

import (
	"strings"
	"testing"

	"judgehub/internal/judge/model"
	appErr "judgehub/pkg/errors"
)

func TestBuildUpdateOrdersClauses(t *testing.T) {
	t.Parallel()

	status := model.StatusAccepted
	score := 100.0
	u := model.RecordUpdate{
		Set: model.RecordSet{Status: &status, Score: &score},
		Push: model.RecordPush{
			TestCases:  []model.TestCase{{ID: 1, Score: 50}},
			JudgeTexts: []string{"ok"},
		},
		Unset: []string{model.FieldProgress},
	}
	clauses, args, err := buildUpdate(u)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := []string{
		"status = ?",
		"score = ?",
		"test_cases = JSON_MERGE_PRESERVE(test_cases, CAST(? AS JSON))",
		"judge_texts = JSON_MERGE_PRESERVE(judge_texts, CAST(? AS JSON))",
		"progress = NULL",
	}
	if strings.Join(clauses, "|") != strings.Join(want, "|") {
		t.Fatalf("expected clauses %v, got %v", want, clauses)
	}
	if len(args) != 4 {
		t.Fatalf("expected 4 args, got %d", len(args))
	}
	if args[0] != int(model.StatusAccepted) {
		t.Fatalf("expected status arg 1, got %v", args[0])
	}
	if args[3] != `["ok"]` {
		t.Fatalf("expected judge text json, got %v", args[3])
	}
}

func TestBuildUpdateIncrementsProgress(t *testing.T) {
	t.Parallel()

	clauses, args, err := buildUpdate(model.RecordUpdate{Inc: map[string]float64{model.FieldProgress: 12.5}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(clauses) != 1 || clauses[0] != "progress = COALESCE(progress, 0) + ?" {
		t.Fatalf("unexpected clauses %v", clauses)
	}
	if args[0] != 12.5 {
		t.Fatalf("expected 12.5, got %v", args[0])
	}
}

func TestBuildUpdateRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		u    model.RecordUpdate
	}{
		{"unset", model.RecordUpdate{Unset: []string{"code"}}},
		{"inc", model.RecordUpdate{Inc: map[string]float64{"memory": 1}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := buildUpdate(tt.u)
			if appErr.GetCode(err) != appErr.ValidationFailed {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestBuildUpdateEmpty(t *testing.T) {
	t.Parallel()

	clauses, args, err := buildUpdate(model.RecordUpdate{})
	if err != nil || len(clauses) != 0 || len(args) != 0 {
		t.Fatalf("expected nothing to update, got %v %v %v", clauses, args, err)
	}
}

func TestRecordRowConversion(t *testing.T) {
	t.Parallel()

	progress := 40.0
	input := "1 2"
	rec := &model.Record{
		ID:        "r1",
		DomainID:  "system",
		ProblemID: 1000,
		UserID:    2,
		Status:    model.StatusJudging,
		Progress:  &progress,
		TestCases: []model.TestCase{{ID: 1, Status: model.StatusAccepted, Score: 10}},
		Subtasks:  map[int]model.SubtaskResult{1: {Score: 10, Status: model.StatusAccepted}},
		Input:     &input,
		Files:     map[string]string{"hack": "abc#input.txt"},
	}
	row, err := fromModel(rec)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if row.JudgeTexts != "[]" {
		t.Fatalf("expected empty judge texts array, got %q", row.JudgeTexts)
	}
	out, err := row.toModel()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Progress == nil || *out.Progress != 40 {
		t.Fatalf("expected progress 40, got %v", out.Progress)
	}
	if len(out.TestCases) != 1 || out.Subtasks[1].Score != 10 {
		t.Fatalf("expected results to survive, got %+v", out)
	}
	if out.Input == nil || *out.Input != "1 2" || out.Files["hack"] != "abc#input.txt" {
		t.Fatalf("expected input and files to survive, got %+v", out)
	}
}
