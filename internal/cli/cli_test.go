package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MimeLyc/chunked-sql-translator/internal/checkpoint"
	"github.com/MimeLyc/chunked-sql-translator/internal/pipeline"
	"github.com/MimeLyc/chunked-sql-translator/internal/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ddl = `-- orders
create table a (x int);
create table b (y varchar(10));
`

type upper struct {
	calls atomic.Int32
	fail  bool
}

func (u *upper) Transform(_ context.Context, req transform.Request) (*transform.Result, error) {
	u.calls.Add(1)
	if u.fail {
		return nil, errors.New("model unavailable")
	}
	sql := strings.TrimPrefix(req.Text, "=== SQL TO CONVERT ===\n")
	if i := strings.Index(sql, "\n\n==="); i >= 0 {
		sql = sql[:i]
	}
	return &transform.Result{Text: strings.ToUpper(strings.TrimSpace(sql))}, nil
}

type env struct {
	dir string
	db  string
}

func setup(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{"MAX_TRY", "MERGE_N", "GRAMMAR_CHECK", "DIALECT_MAP_FILE", "LOG_LEVEL", "SETTINGS_FILE"} {
		t.Setenv(key, "")
	}
	t.Setenv("LLM_RPM", "0")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.sql"), []byte(ddl), 0o644))
	return env{dir: dir, db: filepath.Join(dir, "state", "checkpoints.db")}
}

func execute(t *testing.T, svc transform.Service, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(&RootOptions{Service: svc})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun_WritesResultAndResumes(t *testing.T) {
	e := setup(t)
	svc := &upper{}

	out, err := execute(t, svc, "run", "--db", e.db, "-i", "orders.sql", "--source", "mysql", "--dest", "hive")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Converted orders.sql")

	got, err := os.ReadFile(filepath.Join(e.dir, "results", "orders_to_hive.sql"))
	require.NoError(t, err)
	assert.Equal(t, "-- ORDERS\nCREATE TABLE A (X INT);\n\nCREATE TABLE B (Y VARCHAR(10));\n", string(got))
	assert.Equal(t, int32(2), svc.calls.Load())

	out, err = execute(t, svc, "run", "--db", e.db, "-i", "orders.sql", "--source", "mysql", "--dest", "hive", "--format", "json")
	require.NoError(t, err, out)
	var report runReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Resumed)
	assert.Equal(t, 2, report.Units)
	assert.Equal(t, int32(2), svc.calls.Load(), "a finished job is replayed")
}

func TestRun_Directory(t *testing.T) {
	e := setup(t)
	require.NoError(t, os.MkdirAll(filepath.Join(e.dir, "ddl"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "ddl", "one.sql"), []byte("create table a (x int);"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "ddl", "two.txt"), []byte("create table b (y int);"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "ddl", "skip.md"), []byte("# notes"), 0o644))

	out, err := execute(t, &upper{}, "run", "--db", e.db, "-i", "ddl", "--source", "mysql", "--dest", "gbase hd", "-o", "out")
	require.NoError(t, err, out)

	for _, name := range []string{"one_to_gbase_hd.sql", "two_to_gbase_hd.sql"} {
		_, err := os.Stat(filepath.Join(e.dir, "out", name))
		assert.NoError(t, err, name)
	}
	_, err = os.Stat(filepath.Join(e.dir, "out", "skip_to_gbase_hd.sql"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_FailureReportsTaskID(t *testing.T) {
	e := setup(t)
	t.Setenv("MAX_TRY", "2")
	svc := &upper{fail: true}

	out, err := execute(t, svc, "run", "--db", e.db, "-i", "orders.sql", "--source", "mysql", "--dest", "hive")
	require.Error(t, err)
	assert.True(t, pipeline.IsErrorType(err, pipeline.ErrUnit))
	assert.Contains(t, out, "FAILED orders.sql (task "+pipeline.TaskIDOf(err)+")")
	assert.Equal(t, int32(4), svc.calls.Load())

	_, err = os.Stat(filepath.Join(e.dir, "results", "orders_to_hive.sql"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_RequiresFlags(t *testing.T) {
	setup(t)
	_, err := execute(t, &upper{}, "run", "-i", "orders.sql")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")

	_, err = execute(t, &upper{}, "run", "-i", "orders.sql", "--source", "a", "--dest", "b", "--format", "yaml")
	assert.ErrorContains(t, err, "invalid format")
}

func TestCheckpoints_ListProgressPrune(t *testing.T) {
	e := setup(t)
	svc := &upper{}
	out, err := execute(t, svc, "run", "--db", e.db, "-i", "orders.sql", "--source", "mysql", "--dest", "hive", "--format", "json")
	require.NoError(t, err, out)
	var report runReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	out, err = execute(t, nil, "checkpoints", "list", report.TaskID, "--prefix", "--db", e.db, "--format", "json")
	require.NoError(t, err, out)
	var snaps []checkpoint.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snaps))
	assert.Greater(t, len(snaps), 4)

	out, err = execute(t, nil, "checkpoints", "list", report.TaskID, "--db", e.db)
	require.NoError(t, err, out)
	assert.Contains(t, out, "NODE")
	assert.Contains(t, out, "DONE")

	out, err = execute(t, nil, "checkpoints", "progress", report.TaskID, "--db", e.db)
	require.NoError(t, err, out)
	assert.Contains(t, out, "stage DONE")
	assert.Contains(t, out, "units 2 done, 0 failed, 2 total (100.0%)")

	time.Sleep(5 * time.Millisecond)
	out, err = execute(t, nil, "checkpoints", "prune", "--older-than", "1ms", "--db", e.db)
	require.NoError(t, err, out)
	assert.Contains(t, out, fmt.Sprintf("pruned %d snapshots", len(snaps)))
}

type fakeCron struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (f *fakeCron) Start() {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
}

func (f *fakeCron) Stop() context.Context {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return context.Background()
}

type fakeHTTP struct {
	listenCalled chan struct{}
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	listenErr    error
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{
		listenCalled: make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

func (f *fakeHTTP) ListenAndServe(string) error {
	close(f.listenCalled)
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.shutdownCh
	return http.ErrServerClosed
}

func (f *fakeHTTP) Shutdown(context.Context) error {
	f.shutdownOnce.Do(func() { close(f.shutdownCh) })
	return nil
}

func TestRunWithComponents_StartsCronAndHTTP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cronEngine := &fakeCron{}
	httpSrv := newFakeHTTP()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- runWithComponents(ctx, "127.0.0.1:0", cronEngine, httpSrv)
	}()

	select {
	case <-httpSrv.listenCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("http server did not start")
	}

	cancel()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithComponents did not exit after cancellation")
	}

	assert.True(t, cronEngine.started)
	assert.True(t, cronEngine.stopped)
}

func TestRunWithComponents_ListenFailure(t *testing.T) {
	httpSrv := newFakeHTTP()
	httpSrv.listenErr = errors.New("address in use")

	err := runWithComponents(context.Background(), ":1", &fakeCron{}, httpSrv)
	assert.ErrorContains(t, err, "address in use")
}
