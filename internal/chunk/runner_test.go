package chunk

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/chunked-sql-translator/internal/checkpoint"
	"github.com/MimeLyc/chunked-sql-translator/internal/grammar"
	"github.com/MimeLyc/chunked-sql-translator/internal/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingService struct {
	mu       sync.Mutex
	requests []transform.Request
	reply    func(n int, req transform.Request) (*transform.Result, error)
}

func (s *countingService) Transform(_ context.Context, req transform.Request) (*transform.Result, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	n := len(s.requests)
	s.mu.Unlock()
	return s.reply(n, req)
}

func (s *countingService) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *countingService) request(i int) transform.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func echo(text string) *countingService {
	return &countingService{reply: func(int, transform.Request) (*transform.Result, error) {
		return &transform.Result{Text: text}, nil
	}}
}

var (
	alwaysValid   = grammar.ValidatorFunc(func(context.Context, string, string) error { return nil })
	alwaysInvalid = grammar.ValidatorFunc(func(context.Context, string, string) error {
		return errors.New("line 1: syntax error")
	})
)

func newUnit(id string) Unit {
	return Unit{
		TaskID:            id,
		SourceFormat:      "MySQL",
		DestinationFormat: "Hive",
		Source:            "create table t (a int);",
	}
}

func TestRun_DoneWithoutDialect(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	svc := echo("  CREATE TABLE t (a INT);\n")
	r := NewRunner(svc, alwaysInvalid, store)

	res, err := r.Run(context.Background(), newUnit("job:u1"))
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE t (a INT);", res.SQL)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.Resumed)
	assert.Equal(t, 1, svc.calls())

	snaps, err := store.List(context.Background(), "job:u1", checkpoint.ScopeExact)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "PROCESS", snaps[0].Node)
	assert.Equal(t, 1, snaps[0].Step)
	assert.Equal(t, "DONE", snaps[1].Node)
	assert.Equal(t, 2, snaps[1].Step)
}

func TestRun_ValidatesWhenDialectSet(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	svc := echo("CREATE TABLE t (a INT);")
	var seen string
	validator := grammar.ValidatorFunc(func(_ context.Context, sql, dialect string) error {
		seen = dialect
		return nil
	})
	u := newUnit("job:u1")
	u.Dialect = "hive"

	res, err := NewRunner(svc, validator, store).Run(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, "hive", seen)
	assert.Equal(t, 1, svc.calls())

	snaps, err := store.List(context.Background(), "job:u1", checkpoint.ScopeExact)
	require.NoError(t, err)
	nodes := make([]string, 0, len(snaps))
	for _, s := range snaps {
		nodes = append(nodes, s.Node)
	}
	assert.Equal(t, []string{"PROCESS", "VALIDATE", "DONE"}, nodes)
	assert.Equal(t, "CREATE TABLE t (a INT);", res.SQL)
}

func TestRun_ExhaustsExactlyMaxTry(t *testing.T) {
	for _, maxTry := range []int{1, 3, 5} {
		svc := echo("CREATE TABLE broken (")
		u := newUnit("job:u1")
		u.Dialect = "hive"

		_, err := NewRunner(svc, alwaysInvalid, nil, WithMaxTry(maxTry)).Run(context.Background(), u)
		require.Error(t, err)

		var exhausted *ExhaustedError
		require.True(t, errors.As(err, &exhausted))
		assert.Equal(t, maxTry, svc.calls())
		assert.Equal(t, maxTry, exhausted.Attempts)
		assert.Equal(t, "line 1: syntax error", exhausted.LastError)
		assert.Equal(t, "create table t (a int);", exhausted.Prefix)
		assert.Equal(t, "job:u1", exhausted.TaskID)
	}
}

func TestRun_ServiceErrorsExhaustBudget(t *testing.T) {
	svc := &countingService{reply: func(int, transform.Request) (*transform.Result, error) {
		return nil, errors.New("upstream timeout")
	}}

	_, err := NewRunner(svc, nil, nil).Run(context.Background(), newUnit("job:u1"))

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, DefaultMaxTry, svc.calls())
	assert.Equal(t, "upstream timeout", exhausted.LastError)
}

func TestRun_ServiceErrorThenSuccess(t *testing.T) {
	svc := &countingService{reply: func(n int, _ transform.Request) (*transform.Result, error) {
		if n == 1 {
			return nil, errors.New("rate limited")
		}
		return &transform.Result{Text: "CREATE TABLE t (a INT);"}, nil
	}}

	res, err := NewRunner(svc, nil, nil).Run(context.Background(), newUnit("job:u1"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Contains(t, svc.request(1).Text, "rate limited")
}

func TestRun_EmptyResultRetriesWithSource(t *testing.T) {
	svc := &countingService{reply: func(n int, _ transform.Request) (*transform.Result, error) {
		if n == 1 {
			return &transform.Result{Text: "   "}, nil
		}
		return &transform.Result{Text: "CREATE TABLE t (a INT);"}, nil
	}}

	res, err := NewRunner(svc, nil, nil).Run(context.Background(), newUnit("job:u1"))
	require.NoError(t, err)
	assert.Equal(t, 2, svc.calls())
	assert.Equal(t, "CREATE TABLE t (a INT);", res.SQL)

	second := svc.request(1).Text
	assert.Contains(t, second, "create table t (a int);")
	assert.Contains(t, second, "empty result")
}

func TestRun_FeedsCandidateAndErrorIntoRetry(t *testing.T) {
	svc := &countingService{reply: func(n int, _ transform.Request) (*transform.Result, error) {
		if n == 1 {
			return &transform.Result{Text: "CREATE TABLE t (a INT,);"}, nil
		}
		return &transform.Result{Text: "CREATE TABLE t (a INT);"}, nil
	}}
	u := newUnit("job:u1")
	u.Dialect = "hive"

	res, err := NewRunner(svc, grammar.NewStructuralValidator(), nil).Run(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE t (a INT);", res.SQL)

	retry := svc.request(1).Text
	assert.Contains(t, retry, "CREATE TABLE t (a INT,);")
	assert.Contains(t, retry, "stray comma")
}

func TestRun_ReplaysDoneWithoutCalls(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	first := echo("CREATE TABLE t (a INT);")
	_, err := NewRunner(first, nil, store).Run(context.Background(), newUnit("job:u1"))
	require.NoError(t, err)

	second := echo("should not be used")
	res, err := NewRunner(second, nil, store).Run(context.Background(), newUnit("job:u1"))
	require.NoError(t, err)
	assert.Equal(t, 0, second.calls())
	assert.True(t, res.Resumed)
	assert.Equal(t, "CREATE TABLE t (a INT);", res.SQL)
}

func TestRun_ResumesMidLineage(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	saved := newUnit("job:u1")
	saved.Dialect = "hive"
	saved.SQL = "CREATE TABLE t (a INT);"
	saved.Remaining = 1
	saved.Attempts = 2
	saved.State = StateValidate
	snap, err := checkpoint.New(saved.TaskID, saved.TaskID, 5, string(StateValidate), saved)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, snap))

	svc := echo("unused")
	res, err := NewRunner(svc, alwaysValid, store).Run(ctx, newUnit("job:u1"))
	require.NoError(t, err)
	assert.Equal(t, 0, svc.calls())
	assert.True(t, res.Resumed)
	assert.Equal(t, 2, res.Attempts)

	snaps, err := store.List(ctx, "job:u1", checkpoint.ScopeExact)
	require.NoError(t, err)
	last := snaps[len(snaps)-1]
	assert.Equal(t, "DONE", last.Node)
	assert.Equal(t, 6, last.Step)
}

func TestRun_RestartsFailedLineage(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	u := newUnit("job:u1")
	u.Dialect = "hive"

	_, err := NewRunner(echo("bad"), alwaysInvalid, store, WithMaxTry(2)).Run(ctx, u)
	require.Error(t, err)

	svc := echo("CREATE TABLE t (a INT);")
	res, err := NewRunner(svc, alwaysValid, store, WithMaxTry(2)).Run(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.calls())
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.Resumed)
	assert.True(t, strings.HasPrefix(svc.request(0).Text, "=== SQL TO CONVERT ===\ncreate table t (a int);\n"))
	assert.NotContains(t, svc.request(0).Text, "PREVIOUS ATTEMPT FAILED")
}

func TestRun_AmbiguousCheckpointsStartFresh(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	at := time.Unix(1700000000, 0).UTC()
	for _, id := range []string{"a", "b"} {
		done := newUnit("job:u1")
		done.SQL = "stale " + id
		require.NoError(t, store.Append(ctx, checkpoint.Snapshot{
			ID: id, ThreadKey: "job:u1", TaskID: "job:u1", Step: 3, Node: "DONE",
			Values: mustJSON(t, done), CreatedAt: at,
		}))
	}

	svc := echo("CREATE TABLE t (a INT);")
	res, err := NewRunner(svc, nil, store).Run(ctx, newUnit("job:u1"))
	require.NoError(t, err)
	assert.Equal(t, 1, svc.calls())
	assert.Equal(t, "CREATE TABLE t (a INT);", res.SQL)
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := &countingService{reply: func(int, transform.Request) (*transform.Result, error) {
		cancel()
		return nil, context.Canceled
	}}
	store := checkpoint.NewMemoryStore()

	_, err := NewRunner(svc, nil, store).Run(ctx, newUnit("job:u1"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, svc.calls())

	snaps, err := store.List(context.Background(), "job:u1", checkpoint.ScopeExact)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "PROCESS", snaps[0].Node)
}

func TestRun_RequiresTaskID(t *testing.T) {
	_, err := NewRunner(echo("x"), nil, nil).Run(context.Background(), Unit{})
	require.Error(t, err)
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "create table a ( x int )", prefix("create table a (\n  x int\n)"))
	long := prefix(strings.Repeat("x", 100))
	assert.Len(t, long, prefixLen+3)
}
