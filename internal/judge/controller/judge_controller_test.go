package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"judgehub/internal/judge/auth"
	"judgehub/internal/judge/broker"
	"judgehub/internal/judge/judgetest"
	"judgehub/internal/judge/model"
	"judgehub/internal/judge/repository"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const testSecret = "controller-secret"

type fakeQueue struct {
	length   int64
	canceled []string
}

func (q *fakeQueue) Len(ctx context.Context) (int64, error) { return q.length, nil }

func (q *fakeQueue) Cancel(ctx context.Context, domainID, recordID string) (bool, error) {
	q.canceled = append(q.canceled, domainID+"/"+recordID)
	return true, nil
}

type fakeRejudger struct {
	domain   string
	rids     []string
	priority int
}

func (r *fakeRejudger) Judge(ctx context.Context, domainID string, recordIDs []string, priority int, meta model.TaskMeta) error {
	r.domain, r.rids, r.priority = domainID, recordIDs, priority
	return nil
}

type fakeSubmitter struct {
	got *model.Record
}

func (s *fakeSubmitter) Add(ctx context.Context, rec *model.Record) (*model.Record, error) {
	s.got = rec
	out := rec.Clone()
	out.ID = "new"
	return out, nil
}

type fakeDaemons struct{}

func (fakeDaemons) List(ctx context.Context) ([]repository.DaemonStatus, error) {
	return []repository.DaemonStatus{{JudgerID: 1, SessionID: "s1"}}, nil
}

type fakeSessions struct{}

func (fakeSessions) Sessions() []broker.SessionInfo {
	return []broker.SessionInfo{{ID: "s1", Judger: 1}}
}

type apiHarness struct {
	router    *gin.Engine
	queue     *fakeQueue
	rejudger  *fakeRejudger
	submitter *fakeSubmitter
	problems  *judgetest.MemoryProblems
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &apiHarness{
		queue:     &fakeQueue{length: 3},
		rejudger:  &fakeRejudger{},
		submitter: &fakeSubmitter{},
		problems:  judgetest.NewMemoryProblems(),
	}
	h.problems.Files["f1"] = []byte("attachment")
	records := judgetest.NewMemoryRecordStore(&model.Record{ID: "r1", DomainID: "system", Status: model.StatusAccepted, Score: 100})
	ctl := NewJudgeController(JudgeControllerConfig{
		Records:   records,
		Submitter: h.submitter,
		Rejudger:  h.rejudger,
		Queue:     h.queue,
		Daemons:   fakeDaemons{},
		Sessions:  fakeSessions{},
		Files:     h.problems,
	})
	a := auth.NewAuthenticator(auth.Config{Secret: testSecret}, nil)

	h.router = gin.New()
	api := h.router.Group("/api/v1/judge")
	api.GET("/records/:domain/:id", auth.Require(a, auth.PrivUser), ctl.GetRecord)
	api.POST("/records/:domain", auth.Require(a, auth.PrivUser), ctl.Submit)
	admin := api.Group("", auth.Require(a, auth.PrivJudge))
	admin.POST("/rejudge/:domain", ctl.Rejudge)
	admin.GET("/queue", ctl.QueueLength)
	admin.DELETE("/queue/:domain/:id", ctl.CancelTask)
	admin.GET("/daemons", ctl.ListDaemons)
	admin.GET("/sessions", ctl.ListSessions)
	h.router.GET("/judge/code", auth.Require(a, auth.PrivJudge), ctl.SubmissionFile)
	return h
}

func (h *apiHarness) do(t *testing.T, method, path string, priv int64, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if priv != 0 {
		token, err := auth.Issue(testSecret, "", 2, priv, time.Hour)
		if err != nil {
			t.Fatalf("issue token failed: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) response.Response {
	t.Helper()
	resp := response.Response{Data: data}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response failed: %v (%s)", err, w.Body.String())
	}
	return resp
}

func TestGetRecord(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	w := h.do(t, http.MethodGet, "/api/v1/judge/records/system/r1", auth.PrivUser, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rec model.Record
	decode(t, w, &rec)
	if rec.ID != "r1" || rec.Status != model.StatusAccepted || rec.Score != 100 {
		t.Fatalf("unexpected record %+v", rec)
	}

	w = h.do(t, http.MethodGet, "/api/v1/judge/records/system/missing", auth.PrivUser, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if resp := decode(t, w, nil); resp.Code != appErr.RecordNotFound {
		t.Fatalf("expected record not found code, got %d", resp.Code)
	}
}

func TestSubmit(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/judge/records/system", auth.PrivUser, map[string]interface{}{
		"pid": 1000, "lang": "cc", "code": "int main(){}",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	got := h.submitter.got
	if got == nil || got.DomainID != "system" || got.UserID != 2 || got.ProblemID != 1000 || got.Lang != "cc" {
		t.Fatalf("unexpected submitted record %+v", got)
	}

	w = h.do(t, http.MethodPost, "/api/v1/judge/records/system", auth.PrivUser, map[string]interface{}{"code": "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", w.Code)
	}
}

func TestAdminRoutesRequireJudgePrivilege(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"queue", http.MethodGet, "/api/v1/judge/queue"},
		{"daemons", http.MethodGet, "/api/v1/judge/daemons"},
		{"sessions", http.MethodGet, "/api/v1/judge/sessions"},
		{"cancel", http.MethodDelete, "/api/v1/judge/queue/system/r1"},
	}
	for _, tt := range tests {
		if w := h.do(t, tt.method, tt.path, auth.PrivUser, nil); w.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403 for a plain user, got %d", tt.name, w.Code)
		}
		if w := h.do(t, tt.method, tt.path, auth.PrivJudge, nil); w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 for a judge, got %d", tt.name, w.Code)
		}
	}
	if len(h.queue.canceled) != 1 || h.queue.canceled[0] != "system/r1" {
		t.Fatalf("unexpected cancellations %v", h.queue.canceled)
	}
}

func TestRejudge(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/judge/rejudge/system", auth.PrivJudge, map[string]interface{}{"rids": []string{"a", "b"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if h.rejudger.domain != "system" || len(h.rejudger.rids) != 2 || h.rejudger.priority != -50 {
		t.Fatalf("unexpected rejudge %+v", h.rejudger)
	}

	w = h.do(t, http.MethodPost, "/api/v1/judge/rejudge/system", auth.PrivJudge, map[string]interface{}{"rids": []string{"a"}, "priority": 5})
	if w.Code != http.StatusOK || h.rejudger.priority != 5 {
		t.Fatalf("expected explicit priority 5, got status %d priority %d", w.Code, h.rejudger.priority)
	}

	w = h.do(t, http.MethodPost, "/api/v1/judge/rejudge/system", auth.PrivJudge, map[string]interface{}{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without rids, got %d", w.Code)
	}
}

func TestSubmissionFile(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	w := h.do(t, http.MethodGet, "/judge/code?id=f1", auth.PrivJudge, nil)
	if w.Code != http.StatusOK || w.Body.String() != "attachment" {
		t.Fatalf("expected attachment, got %d %q", w.Code, w.Body.String())
	}
	if w := h.do(t, http.MethodGet, "/judge/code", auth.PrivJudge, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without id, got %d", w.Code)
	}
}
