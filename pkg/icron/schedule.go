package icron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type TriggerInfo struct {
	Next       time.Time
	Expression string

	TimeUntilNext time.Duration
}

// GetTriggerInfo reports when a standard five-field expression fires next.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	next := schedule.Next(refTime)
	return &TriggerInfo{
		Expression:    cronExpr,
		Next:          next,
		TimeUntilNext: next.Sub(refTime),
	}, nil
}

// Scheduler is the subset of *cron.Cron used by the prune job.
type Scheduler interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
	Remove(id cron.EntryID)
	Start()
	Stop() context.Context
}

// Job keeps one replaceable entry on a scheduler.
type Job struct {
	sched Scheduler
	fn    func()

	mu   sync.Mutex
	id   cron.EntryID
	expr string
}

func NewJob(sched Scheduler, fn func()) *Job {
	return &Job{sched: sched, fn: fn}
}

// Reschedule replaces the entry with one firing on expr. An invalid
// expression leaves the current entry in place.
func (j *Job) Reschedule(expr string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if expr == j.expr && j.id != 0 {
		return nil
	}
	id, err := j.sched.AddFunc(expr, j.fn)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", expr, err)
	}
	if j.id != 0 {
		j.sched.Remove(j.id)
	}
	j.id = id
	j.expr = expr
	return nil
}

// Expression returns the active expression, or "" before the first schedule.
func (j *Job) Expression() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.expr
}
