package chunk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MimeLyc/chunked-sql-translator/internal/checkpoint"
	"github.com/MimeLyc/chunked-sql-translator/internal/grammar"
	"github.com/MimeLyc/chunked-sql-translator/internal/transform"
	"github.com/MimeLyc/chunked-sql-translator/pkg/log"
)

const DefaultMaxTry = 3

var errEmptyResult = errors.New("empty result: the previous call returned no SQL")

// Runner drives units through their state machine.
type Runner struct {
	service   transform.Service
	validator grammar.Validator
	store     checkpoint.Store
	maxTry    int
}

type Option func(*Runner)

// WithMaxTry sets the retry budget given to units that arrive without one.
func WithMaxTry(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxTry = n
		}
	}
}

// NewRunner builds a runner. A nil validator accepts every non-empty
// candidate; a nil store keeps checkpoints in memory.
func NewRunner(service transform.Service, validator grammar.Validator, store checkpoint.Store, opts ...Option) *Runner {
	if store == nil {
		store = checkpoint.NewMemoryStore()
	}
	r := &Runner{
		service:   service,
		validator: validator,
		store:     store,
		maxTry:    DefaultMaxTry,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes u until DONE or FAILED, resuming from the latest checkpoint
// of u.TaskID when one exists. A DONE lineage is replayed without calling
// the service; a FAILED one restarts with a fresh budget.
func (r *Runner) Run(ctx context.Context, u Unit) (*Result, error) {
	if u.TaskID == "" {
		return nil, fmt.Errorf("unit task id is required")
	}

	step, resumed, err := r.restore(ctx, &u)
	if err != nil {
		return nil, err
	}
	if u.State == StateDone {
		return &Result{TaskID: u.TaskID, SQL: u.SQL, Attempts: u.Attempts, Resumed: true}, nil
	}
	if !resumed {
		step++
		if err := r.save(ctx, u, step); err != nil {
			return nil, err
		}
	}

	for {
		switch u.State {
		case StateDone:
			return &Result{TaskID: u.TaskID, SQL: u.SQL, Attempts: u.Attempts, Resumed: resumed}, nil
		case StateFailed:
			log.Error("Unit %s failed after %d attempts: %s", u.TaskID, u.Attempts, u.LastError)
			return nil, &ExhaustedError{
				TaskID:    u.TaskID,
				Prefix:    prefix(u.Source),
				LastError: u.LastError,
				Attempts:  u.Attempts,
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch u.State {
		case StateProcess:
			r.process(ctx, &u)
		case StateValidate:
			r.validate(ctx, &u)
		default:
			return nil, fmt.Errorf("unit %s is in unknown state %q", u.TaskID, u.State)
		}
		// an interrupted step is not recorded; the lineage resumes before it
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		step++
		if err := r.save(ctx, u, step); err != nil {
			return nil, err
		}
	}
}

// restore loads the latest checkpoint into u and returns the lineage step.
// It reports whether execution continues a saved lineage.
func (r *Runner) restore(ctx context.Context, u *Unit) (int, bool, error) {
	fresh := func() {
		if u.Remaining <= 0 {
			u.Remaining = r.maxTry
		}
		if u.SQL == "" {
			u.SQL = u.Source
		}
		u.Attempts = 0
		u.LastError = ""
		u.State = StateProcess
	}

	snap, ok, err := checkpoint.Resume(ctx, r.store, u.TaskID, u.TaskID)
	if errors.Is(err, checkpoint.ErrAmbiguous) {
		log.Warn("Ambiguous checkpoints for unit %s, starting fresh: %v", u.TaskID, err)
		fresh()
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !ok {
		fresh()
		return 0, false, nil
	}

	var saved Unit
	if err := snap.Decode(&saved); err != nil {
		log.Warn("Unreadable checkpoint %s for unit %s, starting fresh: %v", snap.ID, u.TaskID, err)
		fresh()
		return snap.Step, false, nil
	}

	switch State(snap.Node) {
	case StateDone:
		log.Info("Unit %s already done, replaying checkpoint %s", u.TaskID, snap.ID)
		*u = saved
		u.State = StateDone
		return snap.Step, true, nil
	case StateFailed:
		log.Info("Unit %s failed previously, restarting with a fresh budget", u.TaskID)
		fresh()
		return snap.Step, false, nil
	default:
		log.Info("Resuming unit %s at %s (step %d, %d tries left)", u.TaskID, snap.Node, snap.Step, saved.Remaining)
		*u = saved
		u.State = State(snap.Node)
		return snap.Step, true, nil
	}
}

func (r *Runner) process(ctx context.Context, u *Unit) {
	req := transform.UnitPrompt{
		SourceFormat:      u.SourceFormat,
		DestinationFormat: u.DestinationFormat,
		Instructions:      u.Instructions,
		SQL:               u.payload(),
		LastError:         u.LastError,
	}.Request()

	res, err := r.service.Transform(ctx, req)
	u.Remaining--
	u.Attempts++

	if err != nil {
		u.LastError = err.Error()
		log.Warn("Unit %s attempt %d failed: %v", u.TaskID, u.Attempts, err)
		if u.Remaining > 0 {
			u.State = StateProcess
		} else {
			u.State = StateFailed
		}
		return
	}

	u.SQL = ""
	if res != nil {
		u.SQL = strings.TrimSpace(res.Text)
	}
	if u.Dialect != "" || u.SQL == "" {
		u.State = StateValidate
		return
	}
	u.LastError = ""
	u.State = StateDone
}

func (r *Runner) validate(ctx context.Context, u *Unit) {
	var err error
	switch {
	case u.SQL == "":
		err = errEmptyResult
	case r.validator != nil:
		err = r.validator.Validate(ctx, u.SQL, u.Dialect)
	}

	if err == nil {
		u.LastError = ""
		u.State = StateDone
		return
	}

	u.LastError = err.Error()
	log.Warn("Unit %s candidate rejected (%d tries left): %v", u.TaskID, u.Remaining, err)
	if u.Remaining <= 0 {
		u.State = StateFailed
	} else {
		u.State = StateProcess
	}
}

func (r *Runner) save(ctx context.Context, u Unit, step int) error {
	snap, err := checkpoint.New(u.TaskID, u.TaskID, step, string(u.State), u)
	if err != nil {
		return err
	}
	if err := r.store.Append(ctx, snap); err != nil {
		return fmt.Errorf("checkpoint unit %s: %w", u.TaskID, err)
	}
	return nil
}
