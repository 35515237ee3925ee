package pipeline

import (
	"context"
	"sort"

	"github.com/MimeLyc/chunked-sql-translator/internal/checkpoint"
	"github.com/MimeLyc/chunked-sql-translator/internal/chunk"
	"github.com/MimeLyc/chunked-sql-translator/internal/jobs"
)

// Progress summarizes a job lineage from its checkpoints.
type Progress struct {
	TaskID      string  `json:"task_id"`
	Stage       Stage   `json:"stage,omitempty"`
	TotalUnits  int     `json:"total_units"`
	DoneUnits   int     `json:"done_units"`
	FailedUnits int     `json:"failed_units"`
	Snapshots   int     `json:"snapshots"`
	Percent     float64 `json:"percent"`
}

// TaskIDFor returns the identity Submit would use for cfg.
func (o *Orchestrator) TaskIDFor(cfg Config) string {
	cfg.Dialect = o.resolveDialect(cfg.Dialect, cfg.DestinationFormat)
	return cfg.TaskID()
}

// Progress reads the job lineage and every unit lineage under it.
func (o *Orchestrator) Progress(ctx context.Context, taskID string) (Progress, error) {
	snaps, err := o.store.List(ctx, taskID, checkpoint.ScopePrefix)
	if err != nil {
		return Progress{}, WrapError(err, ErrCheckpoint, taskID, "list checkpoints")
	}
	p := Progress{TaskID: taskID, Snapshots: len(snaps)}

	byThread := make(map[string][]checkpoint.Snapshot)
	for _, s := range snaps {
		byThread[s.ThreadKey] = append(byThread[s.ThreadKey], s)
	}

	if latest, ok, err := checkpoint.Latest(byThread[taskID], taskID); err == nil && ok {
		p.Stage = Stage(latest.Node)
		var job Job
		if err := latest.Decode(&job); err == nil {
			p.TotalUnits = len(job.Units)
		}
	}
	delete(byThread, taskID)

	threads := make([]string, 0, len(byThread))
	for thread := range byThread {
		threads = append(threads, thread)
	}
	sort.Strings(threads)
	for _, thread := range threads {
		latest, ok, err := checkpoint.Latest(byThread[thread], thread)
		if err != nil || !ok {
			continue
		}
		switch chunk.State(latest.Node) {
		case chunk.StateDone:
			p.DoneUnits++
		case chunk.StateFailed:
			p.FailedUnits++
		}
	}

	// identical units share a lineage, so done can trail the unit count
	switch {
	case p.Stage == StageDone:
		p.Percent = 100
	case p.TotalUnits > 0:
		p.Percent = float64(min(p.DoneUnits, p.TotalUnits)) * 100 / float64(p.TotalUnits)
	}
	return p, nil
}

// ConfigFromJob maps a queued job onto a pipeline config.
func ConfigFromJob(p jobs.JobPayload) Config {
	return Config{
		SourceFormat:      p.SourceFormat,
		DestinationFormat: p.DestinationFormat,
		Dialect:           p.Dialect,
		SourceSQL:         p.SQL,
		InputToken:        p.InputToken,
		Example:           p.Example,
		TargetSchema:      p.TargetSchema,
		Instructions:      p.Instructions,
		MergeN:            p.MergeN,
		NormalizePrompt:   p.NormalizePrompt,
	}
}

// JobKey is the queue dedupe key of a payload: the task identity Submit
// would run it under.
func (o *Orchestrator) JobKey(p jobs.JobPayload) string {
	return o.TaskIDFor(ConfigFromJob(p))
}

// Executor runs queued jobs through the orchestrator.
func (o *Orchestrator) Executor() jobs.Executor {
	return func(ctx context.Context, job *jobs.ConversionJob) (string, error) {
		res, err := o.Submit(ctx, ConfigFromJob(job.Payload))
		if err != nil {
			return "", err
		}
		return res.SQL, nil
	}
}
