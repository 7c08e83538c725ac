package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"judgehub/internal/common/db"
	"judgehub/internal/judge/model"
	appErr "judgehub/pkg/errors"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// RecordStore is the persistence contract of judge records. Every method is
// atomic for a single record; nothing spans records.
type RecordStore interface {
	Get(ctx context.Context, domainID, recordID string) (*model.Record, error)
	// Find lists records matching q, filling only the projected fields.
	Find(ctx context.Context, q RecordQuery) ([]*model.Record, error)
	// Update applies u and returns the record as stored afterwards.
	Update(ctx context.Context, domainID, recordID string, u model.RecordUpdate) (*model.Record, error)
	// Reset returns a record to its pre-fetch state, clearing all results.
	Reset(ctx context.Context, domainID, recordID string, rejudged bool) (*model.Record, error)
	Insert(ctx context.Context, rec *model.Record) error
}

// RecordQuery filters Find. Zero fields do not filter.
type RecordQuery struct {
	DomainID       string
	ProblemID      int64
	Status         *model.Status
	ExcludeContest string
	// Fields names the JSON fields to load; id and domainId are always loaded.
	Fields []string
	Limit  int
}

const recordColumns = "id,domain_id,pid,uid,contest_id,lang,code,status,score,time_ms,memory_kb,progress," +
	"test_cases,judge_texts,compiler_texts,subtasks,judge_at,judger,input,files,rejudged"

var projectableColumns = map[string]string{
	"pid":           "pid",
	"uid":           "uid",
	"contest":       "contest_id",
	"lang":          "lang",
	"status":        "status",
	"score":         "score",
	"time":          "time_ms",
	"memory":        "memory_kb",
	"judgeAt":       "judge_at",
	"judger":        "judger",
	"rejudged":      "rejudged",
	"testCases":     "test_cases",
	"judgeTexts":    "judge_texts",
	"compilerTexts": "compiler_texts",
	"subtasks":      "subtasks",
}

type recordRow struct {
	ID            string          `db:"id"`
	DomainID      string          `db:"domain_id"`
	ProblemID     int64           `db:"pid"`
	UserID        int64           `db:"uid"`
	ContestID     string          `db:"contest_id"`
	Lang          string          `db:"lang"`
	Code          string          `db:"code"`
	Status        int             `db:"status"`
	Score         float64         `db:"score"`
	Time          float64         `db:"time_ms"`
	Memory        float64         `db:"memory_kb"`
	Progress      sql.NullFloat64 `db:"progress"`
	TestCases     string          `db:"test_cases"`
	JudgeTexts    string          `db:"judge_texts"`
	CompilerTexts string          `db:"compiler_texts"`
	Subtasks      string          `db:"subtasks"`
	JudgeAt       sql.NullTime    `db:"judge_at"`
	Judger        int64           `db:"judger"`
	Input         sql.NullString  `db:"input"`
	Files         string          `db:"files"`
	Rejudged      bool            `db:"rejudged"`
}

// MySQLRecordStore keeps records in MySQL with the result sequences in JSON
// columns.
type MySQLRecordStore struct {
	conn    sqlx.SqlConn
	table   string
	timeout time.Duration
}

// NewMySQLRecordStore creates a store over the records table.
func NewMySQLRecordStore(conn sqlx.SqlConn, timeout time.Duration) *MySQLRecordStore {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &MySQLRecordStore{conn: conn, table: "records", timeout: timeout}
}

func (s *MySQLRecordStore) Get(ctx context.Context, domainID, recordID string) (*model.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.get(ctx, s.conn, domainID, recordID)
}

func (s *MySQLRecordStore) get(ctx context.Context, q sqlx.Session, domainID, recordID string) (*model.Record, error) {
	var row recordRow
	query := "SELECT " + recordColumns + " FROM " + s.table + " WHERE domain_id = ? AND id = ? LIMIT 1"
	if err := q.QueryRowCtx(ctx, &row, query, domainID, recordID); err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.Newf(appErr.RecordNotFound, "record %s/%s not found", domainID, recordID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load record failed")
	}
	return row.toModel()
}

func (s *MySQLRecordStore) Find(ctx context.Context, q RecordQuery) ([]*model.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	columns := []string{"id", "domain_id"}
	for _, field := range q.Fields {
		col, ok := projectableColumns[field]
		if !ok {
			return nil, appErr.ValidationError("fields", "unknown field "+field)
		}
		columns = append(columns, col)
	}

	where := []string{"domain_id = ?"}
	args := []interface{}{q.DomainID}
	if q.ProblemID != 0 {
		where = append(where, "pid = ?")
		args = append(args, q.ProblemID)
	}
	if q.Status != nil {
		where = append(where, "status = ?")
		args = append(args, int(*q.Status))
	}
	if q.ExcludeContest != "" {
		where = append(where, "contest_id <> ?")
		args = append(args, q.ExcludeContest)
	}
	query := "SELECT " + strings.Join(columns, ",") + " FROM " + s.table +
		" WHERE " + strings.Join(where, " AND ") + " ORDER BY id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	var rows []recordRow
	if err := s.conn.QueryRowsPartialCtx(ctx, &rows, query, args...); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list records failed")
	}
	out := make([]*model.Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *MySQLRecordStore) Update(ctx context.Context, domainID, recordID string, u model.RecordUpdate) (*model.Record, error) {
	clauses, args, err := buildUpdate(u)
	if err != nil {
		return nil, err
	}
	return s.exec(ctx, domainID, recordID, clauses, args)
}

func (s *MySQLRecordStore) Reset(ctx context.Context, domainID, recordID string, rejudged bool) (*model.Record, error) {
	clauses := []string{
		"status = ?", "score = 0", "time_ms = 0", "memory_kb = 0", "progress = NULL",
		"test_cases = JSON_ARRAY()", "judge_texts = JSON_ARRAY()", "compiler_texts = JSON_ARRAY()",
		"subtasks = JSON_OBJECT()", "judge_at = NULL", "judger = 0", "rejudged = ?",
	}
	rec, err := s.exec(ctx, domainID, recordID, clauses, []interface{}{int(model.StatusWaiting), rejudged})
	if err != nil && !appErr.Is(err, appErr.RecordNotFound) {
		return nil, appErr.Wrapf(err, appErr.RecordResetFailed, "reset record %s failed", recordID)
	}
	return rec, err
}

func (s *MySQLRecordStore) exec(ctx context.Context, domainID, recordID string, clauses []string, args []interface{}) (*model.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rec *model.Record
	err := s.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		if len(clauses) > 0 {
			query := "UPDATE " + s.table + " SET " + strings.Join(clauses, ", ") + " WHERE domain_id = ? AND id = ?"
			if _, err := session.ExecCtx(ctx, query, append(args, domainID, recordID)...); err != nil {
				return appErr.Wrapf(err, appErr.RecordUpdateFailed, "update record %s failed", recordID)
			}
		}
		var err error
		rec, err = s.get(ctx, session, domainID, recordID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *MySQLRecordStore) Insert(ctx context.Context, rec *model.Record) error {
	if rec == nil || rec.ID == "" || rec.DomainID == "" {
		return appErr.ValidationError("record", "id and domain required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row, err := fromModel(rec)
	if err != nil {
		return err
	}
	query := "INSERT INTO " + s.table + " (" + recordColumns + ") VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)"
	_, err = s.conn.ExecCtx(ctx, query,
		row.ID, row.DomainID, row.ProblemID, row.UserID, row.ContestID, row.Lang, row.Code,
		row.Status, row.Score, row.Time, row.Memory, row.Progress,
		row.TestCases, row.JudgeTexts, row.CompilerTexts, row.Subtasks,
		row.JudgeAt, row.Judger, row.Input, row.Files, row.Rejudged,
	)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return appErr.Newf(appErr.SubmissionCreateFailed, "record %s already exists", rec.ID)
		}
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "insert record failed")
	}
	return nil
}

// buildUpdate renders u as SET clauses. Overwrites come first so an
// increment of the same column sees the new value.
func buildUpdate(u model.RecordUpdate) ([]string, []interface{}, error) {
	var clauses []string
	var args []interface{}
	add := func(clause string, arg interface{}) {
		clauses = append(clauses, clause)
		args = append(args, arg)
	}

	set := u.Set
	if set.Status != nil {
		add("status = ?", int(*set.Status))
	}
	if set.Score != nil {
		add("score = ?", *set.Score)
	}
	if set.Time != nil {
		add("time_ms = ?", *set.Time)
	}
	if set.Memory != nil {
		add("memory_kb = ?", *set.Memory)
	}
	if set.Progress != nil {
		add("progress = ?", *set.Progress)
	}
	if set.Subtasks != nil {
		raw, err := json.Marshal(set.Subtasks)
		if err != nil {
			return nil, nil, appErr.Wrap(err, appErr.InvalidParams)
		}
		add("subtasks = CAST(? AS JSON)", string(raw))
	}
	if set.JudgeAt != nil {
		add("judge_at = ?", set.JudgeAt.UTC())
	}
	if set.Judger != nil {
		add("judger = ?", *set.Judger)
	}

	push := []struct {
		column string
		items  interface{}
		n      int
	}{
		{"test_cases", u.Push.TestCases, len(u.Push.TestCases)},
		{"judge_texts", u.Push.JudgeTexts, len(u.Push.JudgeTexts)},
		{"compiler_texts", u.Push.CompilerTexts, len(u.Push.CompilerTexts)},
	}
	for _, p := range push {
		if p.n == 0 {
			continue
		}
		raw, err := json.Marshal(p.items)
		if err != nil {
			return nil, nil, appErr.Wrap(err, appErr.InvalidParams)
		}
		add(p.column+" = JSON_MERGE_PRESERVE("+p.column+", CAST(? AS JSON))", string(raw))
	}

	for _, field := range u.Unset {
		switch field {
		case model.FieldProgress:
			clauses = append(clauses, "progress = NULL")
		case model.FieldJudgeAt:
			clauses = append(clauses, "judge_at = NULL")
		case model.FieldJudger:
			clauses = append(clauses, "judger = 0")
		default:
			return nil, nil, appErr.ValidationError("unset", "unsupported field "+field)
		}
	}
	for field, delta := range u.Inc {
		switch field {
		case model.FieldProgress:
			add("progress = COALESCE(progress, 0) + ?", delta)
		case model.FieldScore:
			add("score = score + ?", delta)
		default:
			return nil, nil, appErr.ValidationError("inc", "unsupported field "+field)
		}
	}
	return clauses, args, nil
}

func (r *recordRow) toModel() (*model.Record, error) {
	rec := &model.Record{
		ID:            r.ID,
		DomainID:      r.DomainID,
		ProblemID:     r.ProblemID,
		UserID:        r.UserID,
		ContestID:     r.ContestID,
		Lang:          r.Lang,
		Code:          r.Code,
		Status:        model.Status(r.Status),
		Score:         r.Score,
		Time:          r.Time,
		Memory:        r.Memory,
		Judger:        r.Judger,
		Rejudged:      r.Rejudged,
		TestCases:     []model.TestCase{},
		JudgeTexts:    []string{},
		CompilerTexts: []string{},
	}
	if r.Progress.Valid {
		p := r.Progress.Float64
		rec.Progress = &p
	}
	if r.JudgeAt.Valid {
		at := r.JudgeAt.Time
		rec.JudgeAt = &at
	}
	if r.Input.Valid {
		in := r.Input.String
		rec.Input = &in
	}
	columns := []struct {
		raw string
		dst interface{}
	}{
		{r.TestCases, &rec.TestCases},
		{r.JudgeTexts, &rec.JudgeTexts},
		{r.CompilerTexts, &rec.CompilerTexts},
		{r.Subtasks, &rec.Subtasks},
		{r.Files, &rec.Files},
	}
	for _, c := range columns {
		if c.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c.raw), c.dst); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "decode record %s failed", r.ID)
		}
	}
	return rec, nil
}

func fromModel(rec *model.Record) (*recordRow, error) {
	row := &recordRow{
		ID:        rec.ID,
		DomainID:  rec.DomainID,
		ProblemID: rec.ProblemID,
		UserID:    rec.UserID,
		ContestID: rec.ContestID,
		Lang:      rec.Lang,
		Code:      rec.Code,
		Status:    int(rec.Status),
		Score:     rec.Score,
		Time:      rec.Time,
		Memory:    rec.Memory,
		Judger:    rec.Judger,
		Rejudged:  rec.Rejudged,
	}
	if rec.Progress != nil {
		row.Progress = sql.NullFloat64{Float64: *rec.Progress, Valid: true}
	}
	if rec.JudgeAt != nil {
		row.JudgeAt = sql.NullTime{Time: rec.JudgeAt.UTC(), Valid: true}
	}
	if rec.Input != nil {
		row.Input = sql.NullString{String: *rec.Input, Valid: true}
	}

	encode := func(v interface{}, empty string) (string, error) {
		raw, err := json.Marshal(v)
		if err != nil {
			return "", appErr.Wrap(err, appErr.InvalidParams)
		}
		if string(raw) == "null" {
			return empty, nil
		}
		return string(raw), nil
	}
	var err error
	if row.TestCases, err = encode(rec.TestCases, "[]"); err != nil {
		return nil, err
	}
	if row.JudgeTexts, err = encode(rec.JudgeTexts, "[]"); err != nil {
		return nil, err
	}
	if row.CompilerTexts, err = encode(rec.CompilerTexts, "[]"); err != nil {
		return nil, err
	}
	if row.Subtasks, err = encode(rec.Subtasks, "{}"); err != nil {
		return nil, err
	}
	if row.Files, err = encode(rec.Files, "{}"); err != nil {
		return nil, err
	}
	return row, nil
}
