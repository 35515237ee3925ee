package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/chunked-sql-translator/pkg/log"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already finished")
)

// Executor runs one job and returns its converted output.
type Executor func(ctx context.Context, job *ConversionJob) (string, error)

// KeyFunc derives the dedupe key of a payload, normally the task identity
// the engine would compute for it.
type KeyFunc func(JobPayload) string

// Queue runs conversion jobs on a fixed worker pool and persists every
// state change. While a job is pending or running, submissions resolving to
// the same key return that job instead of creating another.
type Queue struct {
	workers int
	retain  int
	store   Store
	keyOf   KeyFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	byID    map[string]*ConversionJob
	active  map[string]string // dedupe key -> pending or running job id
	running map[string]context.CancelFunc
	seq     uint64
	started bool

	ready    chan string
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type QueueOption func(*Queue)

// WithMaxJobs caps how many jobs are retained; the oldest finished jobs are
// evicted first.
func WithMaxJobs(n int) QueueOption {
	return func(q *Queue) {
		q.retain = n
	}
}

// WithKeyFunc sets how dedupe keys are derived for requests that carry none.
func WithKeyFunc(fn KeyFunc) QueueOption {
	return func(q *Queue) {
		q.keyOf = fn
	}
}

func NewQueue(workers int, store Store, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		workers: max(workers, 1),
		retain:  1000,
		store:   store,
		ctx:     ctx,
		cancel:  cancel,
		byID:    make(map[string]*ConversionJob),
		active:  make(map[string]string),
		running: make(map[string]context.CancelFunc),
		ready:   make(chan string, 1024),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.restore(context.Background())
	return q
}

// Enqueue adds a job unless one with the same key is still pending or
// running. The boolean reports whether a new job was created.
func (q *Queue) Enqueue(req EnqueueRequest) (*ConversionJob, bool) {
	key := req.DedupeKey
	if key == "" && q.keyOf != nil {
		key = q.keyOf(req.Payload)
	}

	q.mu.Lock()
	if id, ok := q.active[key]; ok && key != "" {
		if existing, ok := q.byID[id]; ok {
			snapshot := cloneJob(existing)
			q.mu.Unlock()
			return snapshot, false
		}
	}

	q.seq++
	now := time.Now()
	job := &ConversionJob{
		ID:        fmt.Sprintf("job-%d", q.seq),
		Source:    req.Source,
		DedupeKey: key,
		Payload:   req.Payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.byID[job.ID] = job
	if key != "" {
		q.active[key] = job.ID
	}
	started := q.started
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persist(snapshot)
	if started {
		q.schedule(job.ID)
	}
	return snapshot, true
}

func (q *Queue) Get(id string) (*ConversionJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.byID[id]
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// List returns every retained job, oldest first.
func (q *Queue) List() []*ConversionJob {
	q.mu.Lock()
	ret := make([]*ConversionJob, 0, len(q.byID))
	for _, job := range q.byID {
		ret = append(ret, cloneJob(job))
	}
	q.mu.Unlock()

	slices.SortFunc(ret, func(a, b *ConversionJob) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return ret
}

// Cancel stops a pending or running job. A running job's context is
// cancelled; unit conversions it already started keep their checkpoints, so
// submitting the job again resumes them.
func (q *Queue) Cancel(id string) (*ConversionJob, error) {
	q.mu.Lock()
	job, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return nil, ErrJobNotFound
	}
	if job.Status.Terminal() {
		snapshot := cloneJob(job)
		q.mu.Unlock()
		return snapshot, ErrJobFinished
	}
	if stop, ok := q.running[id]; ok {
		stop()
	}
	job.Status = StatusCancelled
	job.UpdatedAt = time.Now()
	q.releaseLocked(job)
	snapshot := cloneJob(job)
	q.mu.Unlock()

	log.Info("Job %s cancelled", id)
	q.persist(snapshot)
	return snapshot, nil
}

// Start launches the workers and schedules every pending job.
func (q *Queue) Start(exec Executor) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	var pending []*ConversionJob
	for _, job := range q.byID {
		if job.Status == StatusPending {
			pending = append(pending, job)
		}
	}
	slices.SortFunc(pending, func(a, b *ConversionJob) int { return a.CreatedAt.Compare(b.CreatedAt) })
	q.mu.Unlock()

	for _, job := range pending {
		q.schedule(job.ID)
	}
	for range q.workers {
		q.wg.Add(1)
		go q.work(exec)
	}
}

// Stop cancels running jobs and waits for the workers. Interrupted jobs go
// back to pending so the next queue over the same store picks them up.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.cancel()
		q.wg.Wait()
	})
}

func (q *Queue) work(exec Executor) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case id := <-q.ready:
			q.run(exec, id)
		}
	}
}

func (q *Queue) run(exec Executor, id string) {
	job, ctx, ok := q.claim(id)
	if !ok {
		return
	}
	result, err := exec(ctx, job)
	q.finish(id, result, err)
}

func (q *Queue) claim(id string) (*ConversionJob, context.Context, bool) {
	q.mu.Lock()
	job, ok := q.byID[id]
	if !ok || job.Status != StatusPending {
		q.mu.Unlock()
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(q.ctx)
	q.running[id] = cancel
	job.Status = StatusRunning
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persist(snapshot)
	return snapshot, ctx, true
}

func (q *Queue) finish(id, result string, err error) {
	q.mu.Lock()
	if stop, ok := q.running[id]; ok {
		stop()
		delete(q.running, id)
	}
	job, ok := q.byID[id]
	if !ok || job.Status != StatusRunning {
		// cancelled or evicted meanwhile
		q.mu.Unlock()
		return
	}

	switch {
	case err != nil && q.ctx.Err() != nil:
		job.Status = StatusPending
		log.Info("Job %s interrupted by shutdown, left pending", id)
	case err != nil:
		job.Status = StatusFailed
		job.Error = err.Error()
		log.Warn("Job %s failed: %v", id, err)
	default:
		job.Status = StatusSuccess
		job.Error = ""
		job.Result = result
	}
	job.UpdatedAt = time.Now()

	var evicted []string
	if job.Status.Terminal() {
		q.releaseLocked(job)
		evicted = q.evictLocked()
	}
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persist(snapshot)
	q.forget(evicted)
}

func (q *Queue) schedule(id string) {
	select {
	case q.ready <- id:
	default:
		go func() {
			select {
			case q.ready <- id:
			case <-q.ctx.Done():
			}
		}()
	}
}

func (q *Queue) releaseLocked(job *ConversionJob) {
	if job.DedupeKey != "" && q.active[job.DedupeKey] == job.ID {
		delete(q.active, job.DedupeKey)
	}
}

// evictLocked drops the oldest finished jobs beyond the retention cap and
// returns their ids.
func (q *Queue) evictLocked() []string {
	excess := len(q.byID) - q.retain
	if q.retain <= 0 || excess <= 0 {
		return nil
	}
	var finished []*ConversionJob
	for _, job := range q.byID {
		if job.Status.Terminal() {
			finished = append(finished, job)
		}
	}
	slices.SortFunc(finished, func(a, b *ConversionJob) int { return a.UpdatedAt.Compare(b.UpdatedAt) })

	evicted := make([]string, 0, excess)
	for _, job := range finished[:min(excess, len(finished))] {
		q.releaseLocked(job)
		delete(q.byID, job.ID)
		evicted = append(evicted, job.ID)
	}
	return evicted
}

func (q *Queue) forget(ids []string) {
	if q.store == nil {
		return
	}
	for _, id := range ids {
		if err := q.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("Failed to delete evicted job %s: %v", id, err)
		}
	}
}

// restore loads persisted jobs. Jobs that were running when the previous
// process stopped become pending again.
func (q *Queue) restore(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	var requeued []*ConversionJob
	q.mu.Lock()
	for _, stored := range loaded {
		if stored == nil || stored.ID == "" {
			continue
		}
		job := cloneJob(stored)
		if job.Status == StatusRunning {
			job.Status = StatusPending
			job.UpdatedAt = time.Now()
			requeued = append(requeued, cloneJob(job))
		}
		q.byID[job.ID] = job
		if !job.Status.Terminal() && job.DedupeKey != "" {
			q.active[job.DedupeKey] = job.ID
		}
		if n, err := strconv.ParseUint(strings.TrimPrefix(job.ID, "job-"), 10, 64); err == nil && n > q.seq {
			q.seq = n
		}
	}
	q.mu.Unlock()

	if len(requeued) > 0 {
		log.Info("Requeued %d jobs interrupted by the previous run", len(requeued))
	}
	for _, job := range requeued {
		q.persist(job)
	}
}

func (q *Queue) persist(job *ConversionJob) {
	if q.store == nil {
		return
	}
	if err := q.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func cloneJob(job *ConversionJob) *ConversionJob {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}
