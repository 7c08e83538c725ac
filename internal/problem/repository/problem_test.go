package repository

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"strings"
	"sync"
	"testing"

	"judgehub/internal/common/cache"
	"judgehub/internal/common/storage"
	appErr "judgehub/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

type fakeResult struct{ affected int64 }

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.affected, nil }

// fakeConn records statements; unimplemented methods panic through the nil
// embedded interface.
type fakeConn struct {
	sqlx.SqlConn

	mu       sync.Mutex
	problem  *Problem
	reads    int
	execs    []string
	affected int64
}

func (c *fakeConn) QueryRowCtx(ctx context.Context, v any, query string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.problem == nil {
		return sqlx.ErrNotFound
	}
	*(v.(*Problem)) = *c.problem
	return nil
}

func (c *fakeConn) ExecCtx(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, strings.Join(strings.Fields(query), " "))
	if strings.HasPrefix(strings.TrimSpace(query), "UPDATE problems SET n_accept") && c.problem != nil {
		c.problem.NAccept += args[0].(int64)
	}
	return fakeResult{affected: c.affected}, nil
}

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryStorage) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, appErr.New(appErr.NotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStorage) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStorage) StatObject(ctx context.Context, bucket, key string) (storage.ObjectStat, error) {
	return storage.ObjectStat{}, nil
}

func newTestRepo(t *testing.T, conn *fakeConn) (*MySQLProblemRepository, *memoryStorage) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	objects := &memoryStorage{objects: make(map[string][]byte)}
	return NewProblemRepository(conn, c, NewFileStore(objects, "hydro", 0)), objects
}

func TestProblemGetIsCached(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{problem: &Problem{DomainID: "system", ID: 1000, Title: "A+B"}}
	repo, _ := newTestRepo(t, conn)

	for i := 0; i < 3; i++ {
		p, err := repo.Get(context.Background(), "system", 1000)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if p.Title != "A+B" {
			t.Fatalf("expected A+B, got %q", p.Title)
		}
	}
	if conn.reads != 1 {
		t.Fatalf("expected a single database read, got %d", conn.reads)
	}
}

func TestProblemGetMissing(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{}
	repo, _ := newTestRepo(t, conn)

	for i := 0; i < 2; i++ {
		_, err := repo.Get(context.Background(), "system", 1)
		if !appErr.Is(err, appErr.ProblemNotFound) {
			t.Fatalf("expected problem not found, got %v", err)
		}
	}
	if conn.reads != 1 {
		t.Fatalf("expected the miss to be cached, got %d reads", conn.reads)
	}
}

func TestProblemIncAcceptInvalidatesCache(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{problem: &Problem{DomainID: "system", ID: 1000}}
	repo, _ := newTestRepo(t, conn)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "system", 1000); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	p, err := repo.IncAccept(ctx, "system", 1000, 1)
	if err != nil {
		t.Fatalf("inc failed: %v", err)
	}
	if p.NAccept != 1 {
		t.Fatalf("expected nAccept 1, got %d", p.NAccept)
	}
	p, _ = repo.Get(ctx, "system", 1000)
	if p.NAccept != 1 {
		t.Fatalf("expected cached copy to be refreshed, got %d", p.NAccept)
	}
}

func TestProblemUpdateStatusReportsChange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"inserted", 1, true},
		{"changed", 2, true},
		{"already accepted", 0, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			conn := &fakeConn{affected: tt.affected}
			repo, _ := newTestRepo(t, conn)
			got, err := repo.UpdateStatus(context.Background(), StatusUpdate{DomainID: "d", ProblemID: 1, UserID: 2, RecordID: "r", Status: 1, Score: 100})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAddTestdataConfigUpdatesProblem(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{problem: &Problem{DomainID: "system", ID: 7}}
	repo, objects := newTestRepo(t, conn)
	ctx := context.Background()

	if err := repo.AddTestdata(ctx, "system", 7, "hack-1.in", []byte("1 2")); err != nil {
		t.Fatalf("add input failed: %v", err)
	}
	if len(conn.execs) != 0 {
		t.Fatalf("expected plain testdata not to touch the problem, got %v", conn.execs)
	}
	if err := repo.AddTestdata(ctx, "system", 7, ConfigFile, []byte("subtasks: []\n")); err != nil {
		t.Fatalf("add config failed: %v", err)
	}
	if len(conn.execs) != 1 || !strings.HasPrefix(conn.execs[0], "UPDATE problems SET config") {
		t.Fatalf("expected config column update, got %v", conn.execs)
	}
	if string(objects.objects[TestdataKey("system", 7, "hack-1.in")]) != "1 2" {
		t.Fatalf("expected testdata object to be stored")
	}
}

func TestFileStoreSubmissionFile(t *testing.T) {
	t.Parallel()
	objects := &memoryStorage{objects: map[string][]byte{"submission/abc": []byte("input")}}
	files := NewFileStore(objects, "hydro", 3)

	if _, err := files.GetSubmissionFile(context.Background(), "abc"); err == nil {
		t.Fatalf("expected oversize read to fail")
	}
	files = NewFileStore(objects, "hydro", 0)
	data, err := files.GetSubmissionFile(context.Background(), "abc")
	if err != nil || string(data) != "input" {
		t.Fatalf("expected input, got %q err=%v", data, err)
	}
	if _, err := files.GetSubmissionFile(context.Background(), "missing"); err == nil {
		t.Fatalf("expected missing file to fail")
	}
}
