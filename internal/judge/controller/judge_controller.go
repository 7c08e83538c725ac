package controller

import (
	"context"
	"net/http"

	"judgehub/internal/judge/auth"
	"judgehub/internal/judge/broker"
	"judgehub/internal/judge/bus"
	"judgehub/internal/judge/model"
	"judgehub/internal/judge/repository"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RecordReader loads records.
type RecordReader interface {
	Get(ctx context.Context, domainID, recordID string) (*model.Record, error)
}

// Submitter accepts new submissions.
type Submitter interface {
	Add(ctx context.Context, rec *model.Record) (*model.Record, error)
}

// QueueAdmin inspects and trims the task queue.
type QueueAdmin interface {
	Len(ctx context.Context) (int64, error)
	Cancel(ctx context.Context, domainID, recordID string) (bool, error)
}

// DaemonLister lists daemon health reports.
type DaemonLister interface {
	List(ctx context.Context) ([]repository.DaemonStatus, error)
}

// SessionLister lists connected sessions.
type SessionLister interface {
	Sessions() []broker.SessionInfo
}

// SubmissionFiles serves submission attachments to daemons.
type SubmissionFiles interface {
	GetSubmissionFile(ctx context.Context, id string) ([]byte, error)
}

// JudgeController serves the judge HTTP API.
type JudgeController struct {
	records   RecordReader
	submitter Submitter
	rejudger  bus.Rejudger
	queue     QueueAdmin
	daemons   DaemonLister
	sessions  SessionLister
	files     SubmissionFiles
}

// JudgeControllerConfig wires a JudgeController.
type JudgeControllerConfig struct {
	Records   RecordReader
	Submitter Submitter
	Rejudger  bus.Rejudger
	Queue     QueueAdmin
	Daemons   DaemonLister
	Sessions  SessionLister
	Files     SubmissionFiles
}

func NewJudgeController(cfg JudgeControllerConfig) *JudgeController {
	return &JudgeController{
		records:   cfg.Records,
		submitter: cfg.Submitter,
		rejudger:  cfg.Rejudger,
		queue:     cfg.Queue,
		daemons:   cfg.Daemons,
		sessions:  cfg.Sessions,
		files:     cfg.Files,
	}
}

// GetRecord returns one record with its judge result.
func (h *JudgeController) GetRecord(c *gin.Context) {
	domainID, rid := c.Param("domain"), c.Param("id")
	if domainID == "" || rid == "" {
		response.ErrorWithCode(c, appErr.InvalidParams, "domain and id are required")
		return
	}
	rec, err := h.records.Get(c.Request.Context(), domainID, rid)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, rec)
}

type submitRequest struct {
	ProblemID int64             `json:"pid" binding:"required"`
	Lang      string            `json:"lang" binding:"required"`
	Code      string            `json:"code"`
	ContestID string            `json:"contest"`
	Input     *string           `json:"input"`
	Files     map[string]string `json:"files"`
}

// Submit creates a record for the caller and queues it.
func (h *JudgeController) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, appErr.InvalidParams, err.Error())
		return
	}
	id, _ := auth.FromContext(c)
	rec, err := h.submitter.Add(c.Request.Context(), &model.Record{
		DomainID:  c.Param("domain"),
		ProblemID: req.ProblemID,
		UserID:    id.UserID,
		ContestID: req.ContestID,
		Lang:      req.Lang,
		Code:      req.Code,
		Input:     req.Input,
		Files:     req.Files,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, rec)
}

type rejudgeRequest struct {
	RecordIDs []string `json:"rids" binding:"required"`
	Priority  *int     `json:"priority"`
}

// Rejudge resets records and queues them again.
func (h *JudgeController) Rejudge(c *gin.Context) {
	var req rejudgeRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.RecordIDs) == 0 {
		response.ErrorWithCode(c, appErr.InvalidParams, "rids are required")
		return
	}
	priority := bus.DefaultRejudgePriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	if err := h.rejudger.Judge(c.Request.Context(), c.Param("domain"), req.RecordIDs, priority, model.TaskMeta{Rejudge: true}); err != nil {
		response.Error(c, appErr.Wrap(err, appErr.RejudgeFailed))
		return
	}
	response.Success(c, gin.H{"count": len(req.RecordIDs)})
}

// QueueLength reports the number of queued tasks.
func (h *JudgeController) QueueLength(c *gin.Context) {
	n, err := h.queue.Len(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"length": n})
}

// CancelTask drops the queued task of a record.
func (h *JudgeController) CancelTask(c *gin.Context) {
	removed, err := h.queue.Cancel(c.Request.Context(), c.Param("domain"), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"removed": removed})
}

// ListDaemons returns the latest health report of each daemon.
func (h *JudgeController) ListDaemons(c *gin.Context) {
	list, err := h.daemons.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

// ListSessions returns the connected daemons.
func (h *JudgeController) ListSessions(c *gin.Context) {
	response.Success(c, h.sessions.Sessions())
}

// SubmissionFile streams a submission attachment to a daemon.
func (h *JudgeController) SubmissionFile(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		response.ErrorWithCode(c, appErr.InvalidParams, "id is required")
		return
	}
	data, err := h.files.GetSubmissionFile(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}
