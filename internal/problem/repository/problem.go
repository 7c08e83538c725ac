package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"judgehub/internal/common/cache"
	"judgehub/internal/common/db"
	"judgehub/internal/common/storage"
	appErr "judgehub/pkg/errors"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

const (
	defaultProblemTTL      = 30 * time.Minute
	defaultProblemEmptyTTL = 5 * time.Minute
	problemKeyPrefix       = "problem:doc:"

	// ConfigFile is the testdata file mirrored into the problem's config column.
	ConfigFile = "config.yaml"

	statusAccepted = 1
)

// Problem is the part of a problem document the judge pipeline reads.
type Problem struct {
	DomainID string `json:"domainId" db:"domain_id"`
	ID       int64  `json:"pid" db:"pid"`
	Title    string `json:"title" db:"title"`
	Config   string `json:"config" db:"config"`
	NSubmit  int64  `json:"nSubmit" db:"n_submit"`
	NAccept  int64  `json:"nAccept" db:"n_accept"`
}

// StatusUpdate is one user's latest judged outcome on a problem.
type StatusUpdate struct {
	DomainID  string
	ProblemID int64
	UserID    int64
	RecordID  string
	Status    int
	Score     float64
}

// ProblemRepository reads problems and maintains their judge-derived counters.
type ProblemRepository interface {
	Get(ctx context.Context, domainID string, pid int64) (*Problem, error)
	// UpdateStatus stores the user's outcome unless the user already passed,
	// reporting whether anything changed.
	UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error)
	IncAccept(ctx context.Context, domainID string, pid int64, delta int64) (*Problem, error)
	// IncStats bumps the named per-problem counters by one.
	IncStats(ctx context.Context, domainID string, pid int64, keys ...string) error
	Stats(ctx context.Context, domainID string, pid int64) (map[string]int64, error)
	// AddTestdata uploads a testdata file. Writing ConfigFile also replaces
	// the problem's config.
	AddTestdata(ctx context.Context, domainID string, pid int64, name string, data []byte) error
}

// MySQLProblemRepository keeps problems in MySQL, caches them in Redis and
// stores testdata in object storage.
type MySQLProblemRepository struct {
	conn     sqlx.SqlConn
	cache    cache.Cache
	files    *FileStore
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewProblemRepository(conn sqlx.SqlConn, cacheClient cache.Cache, files *FileStore) *MySQLProblemRepository {
	return NewProblemRepositoryWithTTL(conn, cacheClient, files, defaultProblemTTL, defaultProblemEmptyTTL)
}

func NewProblemRepositoryWithTTL(conn sqlx.SqlConn, cacheClient cache.Cache, files *FileStore, ttl, emptyTTL time.Duration) *MySQLProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultProblemEmptyTTL
	}
	return &MySQLProblemRepository{
		conn:     conn,
		cache:    cacheClient,
		files:    files,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

func (r *MySQLProblemRepository) Get(ctx context.Context, domainID string, pid int64) (*Problem, error) {
	if r.cache == nil {
		return r.getFromDB(ctx, domainID, pid)
	}
	p, err := cache.GetWithCached[Problem](
		ctx,
		r.cache,
		problemKey(domainID, pid),
		cache.JitterTTL(r.ttl),
		cache.JitterTTL(r.emptyTTL),
		func(p Problem) bool { return p.ID == 0 },
		marshalProblem,
		unmarshalProblem,
		func(ctx context.Context) (Problem, error) {
			p, err := r.getFromDB(ctx, domainID, pid)
			if err != nil {
				if appErr.Is(err, appErr.ProblemNotFound) {
					return Problem{}, nil
				}
				return Problem{}, err
			}
			return *p, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, appErr.Newf(appErr.ProblemNotFound, "problem %s/%d not found", domainID, pid)
	}
	return &p, nil
}

func (r *MySQLProblemRepository) getFromDB(ctx context.Context, domainID string, pid int64) (*Problem, error) {
	var p Problem
	query := "SELECT domain_id, pid, title, config, n_submit, n_accept FROM problems WHERE domain_id = ? AND pid = ? LIMIT 1"
	if err := r.conn.QueryRowCtx(ctx, &p, query, domainID, pid); err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.Newf(appErr.ProblemNotFound, "problem %s/%d not found", domainID, pid)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load problem failed")
	}
	return &p, nil
}

func (r *MySQLProblemRepository) UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error) {
	// status is assigned last so the IF() guards still see the stored value.
	query := `
		INSERT INTO problem_status (domain_id, pid, uid, rid, status, score)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			rid = IF(status = ?, rid, VALUES(rid)),
			score = IF(status = ?, score, VALUES(score)),
			status = IF(status = ?, status, VALUES(status))`
	result, err := r.conn.ExecCtx(ctx, query,
		u.DomainID, u.ProblemID, u.UserID, u.RecordID, u.Status, u.Score,
		statusAccepted, statusAccepted, statusAccepted,
	)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.ProblemUpdateFailed, "update problem status failed")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, appErr.Wrapf(err, appErr.ProblemUpdateFailed, "update problem status failed")
	}
	return affected > 0, nil
}

func (r *MySQLProblemRepository) IncAccept(ctx context.Context, domainID string, pid int64, delta int64) (*Problem, error) {
	err := r.updateCached(ctx, problemKey(domainID, pid), func(ctx context.Context) error {
		_, err := r.conn.ExecCtx(ctx,
			"UPDATE problems SET n_accept = n_accept + ? WHERE domain_id = ? AND pid = ?", delta, domainID, pid)
		if err != nil {
			return appErr.Wrapf(err, appErr.ProblemUpdateFailed, "increase accept count failed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.getFromDB(ctx, domainID, pid)
}

func (r *MySQLProblemRepository) IncStats(ctx context.Context, domainID string, pid int64, keys ...string) error {
	for _, key := range keys {
		_, err := r.conn.ExecCtx(ctx, `
			INSERT INTO problem_stats (domain_id, pid, stat_key, count) VALUES (?, ?, ?, 1)
			ON DUPLICATE KEY UPDATE count = count + 1`, domainID, pid, key)
		if err != nil {
			return appErr.Wrapf(err, appErr.ProblemUpdateFailed, "increase problem stat %s failed", key)
		}
	}
	return nil
}

func (r *MySQLProblemRepository) Stats(ctx context.Context, domainID string, pid int64) (map[string]int64, error) {
	var rows []statRow
	err := r.conn.QueryRowsCtx(ctx, &rows,
		"SELECT stat_key, count FROM problem_stats WHERE domain_id = ? AND pid = ?", domainID, pid)
	if err != nil && !db.IsNoRows(err) {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load problem stats failed")
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Count
	}
	return out, nil
}

func (r *MySQLProblemRepository) AddTestdata(ctx context.Context, domainID string, pid int64, name string, data []byte) error {
	if r.files == nil {
		return appErr.New(appErr.TestCaseUploadFailed).WithMessage("file store is not configured")
	}
	if err := r.files.PutTestdata(ctx, domainID, pid, name, data); err != nil {
		return err
	}
	if name != ConfigFile {
		return nil
	}
	return r.updateCached(ctx, problemKey(domainID, pid), func(ctx context.Context) error {
		_, err := r.conn.ExecCtx(ctx,
			"UPDATE problems SET config = ? WHERE domain_id = ? AND pid = ?", string(data), domainID, pid)
		if err != nil {
			return appErr.Wrapf(err, appErr.ProblemUpdateFailed, "update problem config failed")
		}
		return nil
	})
}

func (r *MySQLProblemRepository) updateCached(ctx context.Context, key string, fn func(context.Context) error) error {
	if r.cache == nil {
		return fn(ctx)
	}
	return cache.UpdateCached(ctx, r.cache, key, fn)
}

func problemKey(domainID string, pid int64) string {
	return problemKeyPrefix + domainID + ":" + strconv.FormatInt(pid, 10)
}

func marshalProblem(p Problem) (string, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func unmarshalProblem(data string) (Problem, error) {
	var p Problem
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Problem{}, err
	}
	return p, nil
}

type statRow struct {
	Key   string `db:"stat_key"`
	Count int64  `db:"count"`
}

// FileStore keeps problem testdata and submission files in object storage.
type FileStore struct {
	storage storage.ObjectStorage
	bucket  string
	limit   int64
}

// NewFileStore creates a file store; reads larger than limit bytes fail.
func NewFileStore(s storage.ObjectStorage, bucket string, limit int64) *FileStore {
	if limit <= 0 {
		limit = 64 << 20
	}
	return &FileStore{storage: s, bucket: bucket, limit: limit}
}

func (f *FileStore) PutTestdata(ctx context.Context, domainID string, pid int64, name string, data []byte) error {
	key := TestdataKey(domainID, pid, name)
	if err := f.storage.PutObject(ctx, f.bucket, key, bytes.NewReader(data), int64(len(data)), "application/octet-stream"); err != nil {
		return appErr.Wrapf(err, appErr.TestCaseUploadFailed, "upload testdata %s failed", name)
	}
	return nil
}

// GetSubmissionFile loads a file uploaded alongside a submission.
func (f *FileStore) GetSubmissionFile(ctx context.Context, id string) ([]byte, error) {
	data, err := storage.ReadAll(ctx, f.storage, f.bucket, "submission/"+id, f.limit)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.NotFound, "load submission file %s failed", id)
	}
	return data, nil
}

// TestdataKey is the object key of a problem testdata file.
func TestdataKey(domainID string, pid int64, name string) string {
	return "problem/" + domainID + "/" + strconv.FormatInt(pid, 10) + "/testdata/" + name
}
