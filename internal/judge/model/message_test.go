package model

import (
	"testing"

	appErr "judgehub/pkg/errors"
)

func TestDecodeMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, msg Message)
	}{
		{
			name:  "next with seq",
			frame: `{"key":"next","rid":"r1","domainId":"system","seq":3,"case":{"id":1,"score":50}}`,
			check: func(t *testing.T, msg Message) {
				next, ok := msg.(NextMessage)
				if !ok {
					t.Fatalf("expected NextMessage, got %T", msg)
				}
				if next.Result.RecordID != "r1" || next.Result.Seq == nil || *next.Result.Seq != 3 {
					t.Fatalf("unexpected result %+v", next.Result)
				}
				if next.Result.Case == nil || next.Result.Case.Score != 50 {
					t.Fatalf("expected case decoded")
				}
			},
		},
		{
			name:  "end with nop",
			frame: `{"key":"end","rid":"r1","domainId":"system","nop":true,"judger":7}`,
			check: func(t *testing.T, msg Message) {
				end, ok := msg.(EndMessage)
				if !ok {
					t.Fatalf("expected EndMessage, got %T", msg)
				}
				if !end.Result.Nop || end.Result.Judger == nil || *end.Result.Judger != 7 {
					t.Fatalf("unexpected result %+v", end.Result)
				}
			},
		},
		{
			name:  "prio number",
			frame: `{"key":"prio","prio":-2.5}`,
			check: func(t *testing.T, msg Message) {
				prio, ok := msg.(PrioMessage)
				if !ok || prio.Floor != -3 {
					t.Fatalf("expected floor -3, got %#v", msg)
				}
			},
		},
		{
			name:  "prio wrong type",
			frame: `{"key":"prio","prio":"high"}`,
			check: expectNil,
		},
		{
			name:  "lang list",
			frame: `{"key":"lang","lang":["cc","py3"]}`,
			check: func(t *testing.T, msg Message) {
				lang, ok := msg.(LangMessage)
				if !ok || len(lang.Langs) != 2 || lang.Langs[1] != "py3" {
					t.Fatalf("unexpected lang message %#v", msg)
				}
			},
		},
		{
			name:  "lang mixed types",
			frame: `{"key":"lang","lang":["cc",1]}`,
			check: expectNil,
		},
		{
			name:  "lang not array",
			frame: `{"key":"lang","lang":"cc"}`,
			check: expectNil,
		},
		{
			name:  "config both",
			frame: `{"key":"config","prio":10,"concurrency":4}`,
			check: func(t *testing.T, msg Message) {
				cfg, ok := msg.(ConfigMessage)
				if !ok || cfg.Prio == nil || *cfg.Prio != 10 || cfg.Concurrency == nil || *cfg.Concurrency != 4 {
					t.Fatalf("unexpected config message %#v", msg)
				}
			},
		},
		{
			name:  "config invalid fields dropped",
			frame: `{"key":"config","prio":1.5,"concurrency":0}`,
			check: func(t *testing.T, msg Message) {
				cfg, ok := msg.(ConfigMessage)
				if !ok || cfg.Prio != nil || cfg.Concurrency != nil {
					t.Fatalf("expected empty config, got %#v", msg)
				}
			},
		},
		{
			name:  "ping",
			frame: `{"key":"ping"}`,
			check: func(t *testing.T, msg Message) {
				if _, ok := msg.(PingMessage); !ok {
					t.Fatalf("expected PingMessage, got %T", msg)
				}
			},
		},
		{
			name:  "status",
			frame: `{"key":"status","info":{"mid":"m1"}}`,
			check: func(t *testing.T, msg Message) {
				st, ok := msg.(StatusMessage)
				if !ok || string(st.Info) != `{"mid":"m1"}` {
					t.Fatalf("unexpected status message %#v", msg)
				}
			},
		},
		{
			name:  "unknown key",
			frame: `{"key":"reboot"}`,
			check: expectNil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg, err := DecodeMessage([]byte(tt.frame))
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			tt.check(t, msg)
		})
	}
}

func TestDecodeMessageErrors(t *testing.T) {
	t.Parallel()

	for _, frame := range []string{`not json`, `{"key":"next","case":"oops"}`} {
		_, err := DecodeMessage([]byte(frame))
		if !appErr.Is(err, appErr.InvalidJudgeMessage) {
			t.Fatalf("expected InvalidJudgeMessage for %s, got %v", frame, err)
		}
	}
}

func TestFilterMatch(t *testing.T) {
	t.Parallel()

	floor := 0
	tests := []struct {
		name   string
		filter Filter
		task   Task
		want   bool
	}{
		{"empty filter", Filter{}, Task{Priority: -100, Lang: "cc"}, true},
		{"above floor", Filter{PriorityFloor: &floor}, Task{Priority: 1}, true},
		{"at floor", Filter{PriorityFloor: &floor}, Task{Priority: 0}, false},
		{"lang allowed", Filter{Langs: []string{"py3", "cc"}}, Task{Lang: "cc"}, true},
		{"lang rejected", Filter{Langs: []string{"py3"}}, Task{Lang: "cc"}, false},
	}
	for _, tt := range tests {
		if got := tt.filter.Match(tt.task); got != tt.want {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestDispatchPayloadOverlaysTask(t *testing.T) {
	t.Parallel()

	rec := &Record{ID: "r1", DomainID: "system", Lang: "cc", Code: "int main(){}"}
	payload, err := DispatchPayload(rec, Task{RecordID: "r1", DomainID: "system", Priority: 3, Lang: "cc", HackRejudge: "hack-1.in"})
	if err != nil {
		t.Fatalf("payload failed: %v", err)
	}
	if payload["code"] != "int main(){}" || payload["rid"] != "r1" || payload["type"] != "judge" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if payload["priority"].(float64) != 3 || payload["hackRejudge"] != "hack-1.in" {
		t.Fatalf("expected task fields overlaid, got %v", payload)
	}
}

func TestStatusClassification(t *testing.T) {
	t.Parallel()

	if StatusFetched.IsTerminal() || StatusJudging.IsTerminal() || !StatusAccepted.IsTerminal() {
		t.Fatalf("unexpected terminal classification")
	}
	for _, s := range []Status{StatusETC, StatusHackSuccessful, StatusHackUnsuccessful, StatusFormatError, StatusSystemError, StatusCanceled} {
		if s.CountsInStats() {
			t.Fatalf("expected %d excluded from stats", s)
		}
	}
	if !StatusWrongAnswer.CountsInStats() || StatusAccepted.ShortText() != "AC" {
		t.Fatalf("unexpected stats classification")
	}
}

func expectNil(t *testing.T, msg Message) {
	t.Helper()
	if msg != nil {
		t.Fatalf("expected nil message, got %#v", msg)
	}
}
