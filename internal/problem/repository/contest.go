package repository

import (
	"context"
	"encoding/json"

	appErr "judgehub/pkg/errors"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// ContestStatus is a user's standing on one contest problem.
type ContestStatus struct {
	DomainID  string
	ContestID string
	UserID    int64
	ProblemID int64
	RecordID  string
	Status    int
	Score     float64
	Subtasks  interface{}
}

// ContestRepository maintains contest standings.
type ContestRepository interface {
	// UpdateStatus records a judged submission, keeping the best score.
	UpdateStatus(ctx context.Context, st ContestStatus) error
}

type MySQLContestRepository struct {
	conn sqlx.SqlConn
}

func NewContestRepository(conn sqlx.SqlConn) *MySQLContestRepository {
	return &MySQLContestRepository{conn: conn}
}

func (r *MySQLContestRepository) UpdateStatus(ctx context.Context, st ContestStatus) error {
	subtasks, err := json.Marshal(st.Subtasks)
	if err != nil {
		return appErr.Wrap(err, appErr.InvalidParams)
	}
	// score is assigned last so the comparisons still see the stored best.
	query := `
		INSERT INTO contest_status (domain_id, contest_id, uid, pid, rid, status, score, subtasks, n_submit)
		VALUES (?, ?, ?, ?, ?, ?, ?, CAST(? AS JSON), 1)
		ON DUPLICATE KEY UPDATE
			n_submit = n_submit + 1,
			rid = IF(VALUES(score) >= score, VALUES(rid), rid),
			status = IF(VALUES(score) >= score, VALUES(status), status),
			subtasks = IF(VALUES(score) >= score, VALUES(subtasks), subtasks),
			score = GREATEST(score, VALUES(score))`
	_, err = r.conn.ExecCtx(ctx, query,
		st.DomainID, st.ContestID, st.UserID, st.ProblemID, st.RecordID, st.Status, st.Score, string(subtasks))
	if err != nil {
		return appErr.Wrapf(err, appErr.ContestUpdateFailed, "update contest %s status failed", st.ContestID)
	}
	return nil
}

// DomainRepository maintains per-domain user counters.
type DomainRepository interface {
	IncUserAccept(ctx context.Context, domainID string, uid int64, delta int64) error
}

type MySQLDomainRepository struct {
	conn sqlx.SqlConn
}

func NewDomainRepository(conn sqlx.SqlConn) *MySQLDomainRepository {
	return &MySQLDomainRepository{conn: conn}
}

func (r *MySQLDomainRepository) IncUserAccept(ctx context.Context, domainID string, uid int64, delta int64) error {
	_, err := r.conn.ExecCtx(ctx, `
		INSERT INTO domain_users (domain_id, uid, n_accept) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE n_accept = n_accept + VALUES(n_accept)`, domainID, uid, delta)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "increase user accept count failed")
	}
	return nil
}
