package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/MimeLyc/chunked-sql-translator/internal/checkpoint"
	"github.com/MimeLyc/chunked-sql-translator/internal/chunk"
	"github.com/MimeLyc/chunked-sql-translator/internal/dedup"
	"github.com/MimeLyc/chunked-sql-translator/internal/splitter"
	"github.com/MimeLyc/chunked-sql-translator/internal/task"
	"github.com/MimeLyc/chunked-sql-translator/internal/transform"
	"github.com/MimeLyc/chunked-sql-translator/pkg/log"
	"golang.org/x/sync/errgroup"
)

// Orchestrator runs jobs. One orchestrator is shared by every job of a
// process so the dedup registry and governed service are process-wide.
type Orchestrator struct {
	service  transform.Service
	runner   *chunk.Runner
	store    checkpoint.Store
	registry *dedup.Registry
	dialect  func(format string) string
}

type Option func(*Orchestrator)

// WithDialectResolver fills an empty Config.Dialect from the destination
// format. Without a resolver an empty dialect disables validation.
func WithDialectResolver(resolve func(format string) string) Option {
	return func(o *Orchestrator) {
		o.dialect = resolve
	}
}

// New builds an orchestrator. service should already be governed; runner
// must use the same store.
func New(service transform.Service, runner *chunk.Runner, store checkpoint.Store, registry *dedup.Registry, opts ...Option) *Orchestrator {
	if registry == nil {
		registry = dedup.NewRegistry()
	}
	o := &Orchestrator{
		service:  service,
		runner:   runner,
		store:    store,
		registry: registry,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) resolveDialect(dialect, destination string) string {
	if dialect != "" || o.dialect == nil {
		return dialect
	}
	return o.dialect(destination)
}

// Registry exposes the dedup registry so other entry points can share it.
func (o *Orchestrator) Registry() *dedup.Registry {
	return o.registry
}

// Runner exposes the unit runner for single-unit requests.
func (o *Orchestrator) Runner() *chunk.Runner {
	return o.runner
}

// Submit runs the job described by cfg to completion, resuming from the
// latest checkpoint of its identity. Concurrent submissions of the same
// job share one execution.
func (o *Orchestrator) Submit(ctx context.Context, cfg Config) (*Result, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	cfg.Dialect = o.resolveDialect(cfg.Dialect, cfg.DestinationFormat)
	jobID := cfg.TaskID()
	return dedup.DoKey(ctx, o.registry, "job:"+jobID, func(ctx context.Context) (*Result, error) {
		return o.run(ctx, jobID, cfg)
	})
}

func validateConfig(cfg Config) error {
	var missing []string
	if strings.TrimSpace(cfg.SourceFormat) == "" {
		missing = append(missing, "source format")
	}
	if strings.TrimSpace(cfg.DestinationFormat) == "" {
		missing = append(missing, "destination format")
	}
	if len(missing) > 0 {
		return NewError(ErrValidation, "", "missing "+strings.Join(missing, ", "))
	}
	if cfg.MergeN < 0 {
		return NewError(ErrValidation, "", fmt.Sprintf("merge granularity must not be negative, got %d", cfg.MergeN))
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, jobID string, cfg Config) (*Result, error) {
	job, stage, step, resumed, err := o.restore(ctx, jobID, cfg)
	if err != nil {
		return nil, err
	}
	if stage == StageDone {
		log.Info("Job %s already done, replaying result", jobID)
		return &Result{TaskID: jobID, SQL: job.Result, Units: len(job.Units), Resumed: true}, nil
	}
	if !resumed {
		step++
		if err := o.save(ctx, job, StageNormalize, step); err != nil {
			return nil, err
		}
	}

	for stage != StageDone {
		log.Info("Job %s: %s", jobID, stage)
		next, err := o.execute(ctx, &job, stage)
		if err != nil {
			return nil, err
		}
		step++
		if err := o.save(ctx, job, next, step); err != nil {
			return nil, err
		}
		stage = next
	}

	log.Info("Job %s done: %d units", jobID, len(job.Units))
	return &Result{TaskID: jobID, SQL: job.Result, Units: len(job.Units), Resumed: resumed}, nil
}

func (o *Orchestrator) execute(ctx context.Context, job *Job, stage Stage) (Stage, error) {
	switch stage {
	case StageNormalize:
		if job.Config.NormalizePrompt {
			instructions, err := o.normalize(ctx, job.Config)
			if err != nil {
				return "", WrapError(err, ErrNormalize, job.TaskID, "prompt normalization failed")
			}
			job.Instructions = instructions
		}
		return StageSplit, nil
	case StageSplit:
		job.Units = splitter.Merge(splitter.Split(job.Config.SourceSQL), job.Config.mergeN())
		log.Info("Job %s split into %d units", job.TaskID, len(job.Units))
		return StageFanout, nil
	case StageFanout:
		outputs, err := o.fanout(ctx, job)
		if err != nil {
			return "", err
		}
		job.Outputs = outputs
		job.Result = join(outputs)
		return StageDone, nil
	default:
		return "", NewError(ErrCheckpoint, job.TaskID, fmt.Sprintf("unknown stage %q", stage))
	}
}

// fanout runs every unit concurrently. A failing unit does not cancel its
// siblings; the first failure is returned once all have finished.
func (o *Orchestrator) fanout(ctx context.Context, job *Job) ([]string, error) {
	outputs := make([]string, len(job.Units))
	var (
		g    errgroup.Group
		done atomic.Int32
	)
	total := len(job.Units)

	for i, text := range job.Units {
		unit := chunk.Unit{
			TaskID:            task.UnitID(job.TaskID, text),
			SourceFormat:      job.Config.SourceFormat,
			DestinationFormat: job.Config.DestinationFormat,
			Instructions:      job.Instructions,
			Dialect:           job.Config.Dialect,
			Source:            text,
		}
		g.Go(func() error {
			res, err := dedup.DoKey(ctx, o.registry, "unit:"+unit.TaskID, func(ctx context.Context) (*chunk.Result, error) {
				return o.runner.Run(ctx, unit)
			})
			if err != nil {
				return err
			}
			outputs[i] = res.SQL
			log.Info("Job %s: unit %d/%d done (%d/%d)", job.TaskID, i+1, total, done.Add(1), total)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var exhausted *chunk.ExhaustedError
		if errors.As(err, &exhausted) {
			return nil, WrapError(err, ErrUnit, job.TaskID, "unit exhausted its retries").
				WithContext("unit", exhausted.TaskID)
		}
		return nil, WrapError(err, ErrUnit, job.TaskID, "unit failed")
	}
	return outputs, nil
}

// NormalizePrompt turns the user's instructions into a reusable per-unit
// instruction through the transformation service.
func (o *Orchestrator) NormalizePrompt(ctx context.Context, cfg Config) (string, error) {
	if err := validateConfig(cfg); err != nil {
		return "", err
	}
	text, err := o.normalize(ctx, cfg)
	if err != nil {
		return "", WrapError(err, ErrNormalize, cfg.TaskID(), "prompt normalization failed")
	}
	return text, nil
}

func (o *Orchestrator) normalize(ctx context.Context, cfg Config) (string, error) {
	req := transform.NormalizePrompt{
		SourceFormat:      cfg.SourceFormat,
		DestinationFormat: cfg.DestinationFormat,
		Instructions:      cfg.Instructions,
		TargetSchema:      cfg.TargetSchema,
		MergeN:            cfg.mergeN(),
		SourceSample:      cfg.SourceSQL,
		DestinationSample: cfg.Example,
	}.Request()

	res, err := dedup.Do(ctx, o.registry, "normalize", func(ctx context.Context) (*transform.Result, error) {
		return o.service.Transform(ctx, req)
	}, req)
	if err != nil {
		return "", err
	}
	if res == nil || strings.TrimSpace(res.Text) == "" {
		return "", fmt.Errorf("service returned an empty prompt")
	}
	return strings.TrimSpace(res.Text), nil
}

func (o *Orchestrator) restore(ctx context.Context, jobID string, cfg Config) (Job, Stage, int, bool, error) {
	fresh := Job{TaskID: jobID, Config: cfg, Instructions: cfg.Instructions}

	snap, ok, err := checkpoint.Resume(ctx, o.store, jobID, jobID)
	if errors.Is(err, checkpoint.ErrAmbiguous) {
		log.Warn("Ambiguous checkpoints for job %s, starting fresh: %v", jobID, err)
		return fresh, StageNormalize, 0, false, nil
	}
	if err != nil {
		return Job{}, "", 0, false, WrapError(err, ErrCheckpoint, jobID, "load job checkpoint")
	}
	if !ok {
		return fresh, StageNormalize, 0, false, nil
	}

	var saved Job
	if err := snap.Decode(&saved); err != nil || saved.TaskID != jobID {
		log.Warn("Unusable checkpoint %s for job %s, starting fresh", snap.ID, jobID)
		return fresh, StageNormalize, snap.Step, false, nil
	}
	log.Info("Resuming job %s at %s (step %d)", jobID, snap.Node, snap.Step)
	return saved, Stage(snap.Node), snap.Step, true, nil
}

func (o *Orchestrator) save(ctx context.Context, job Job, next Stage, step int) error {
	snap, err := checkpoint.New(job.TaskID, job.TaskID, step, string(next), job)
	if err != nil {
		return WrapError(err, ErrCheckpoint, job.TaskID, "encode job checkpoint")
	}
	if err := o.store.Append(ctx, snap); err != nil {
		return WrapError(err, ErrCheckpoint, job.TaskID, "save job checkpoint")
	}
	return nil
}
