// Package pipeline orchestrates whole conversion jobs: identity, resume,
// optional prompt normalization, splitting and concurrent unit fan-out.
package pipeline

import (
	"strconv"
	"strings"

	"github.com/MimeLyc/chunked-sql-translator/internal/task"
)

type Stage string

const (
	StageNormalize Stage = "NORMALIZE"
	StageSplit     Stage = "SPLIT"
	StageFanout    Stage = "FANOUT"
	StageDone      Stage = "DONE"
)

// Config describes one job submission.
type Config struct {
	SourceFormat      string `json:"source_format"`
	DestinationFormat string `json:"destination_format"`
	// Dialect selects grammar validation for every unit. Empty skips it.
	Dialect    string `json:"dialect"`
	SourceSQL  string `json:"source_sql"`
	InputToken string `json:"input_token"`
	// Example is reference DDL in the destination format.
	Example      string `json:"example"`
	TargetSchema string `json:"target_schema"`
	Instructions string `json:"instructions"`
	// MergeN is how many tables go into one unit.
	MergeN          int  `json:"merge_n"`
	NormalizePrompt bool `json:"normalize_prompt"`
}

func (c Config) mergeN() int {
	return max(c.MergeN, 1)
}

// instructionKey folds every setting that shapes the output into the
// instruction component of the job identity.
func (c Config) instructionKey() string {
	return strings.Join([]string{
		c.Instructions,
		"dialect=" + c.Dialect,
		"merge=" + strconv.Itoa(c.mergeN()),
		"normalize=" + strconv.FormatBool(c.NormalizePrompt),
		"schema=" + c.TargetSchema,
		"example=" + task.ContentHash(c.Example),
	}, "\x00")
}

// TaskID is the deterministic identity of the job described by c.
func (c Config) TaskID() string {
	return task.JobID(c.instructionKey(), c.SourceFormat, c.DestinationFormat, c.InputToken, task.ContentHash(c.SourceSQL))
}

// Job is the checkpointed state of a job lineage.
type Job struct {
	TaskID string `json:"task_id"`
	Config Config `json:"config"`
	// Instructions is the per-unit instruction after normalization.
	Instructions string   `json:"instructions"`
	Units        []string `json:"units,omitempty"`
	Outputs      []string `json:"outputs,omitempty"`
	Result       string   `json:"result,omitempty"`
}

// Result is the outcome of a finished job.
type Result struct {
	TaskID  string `json:"task_id"`
	SQL     string `json:"sql"`
	Units   int    `json:"units"`
	Resumed bool   `json:"resumed"`
}

func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}

// join concatenates unit outputs in split order.
func join(outputs []string) string {
	if len(outputs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(outputs))
	for _, out := range outputs {
		parts = append(parts, strings.TrimSpace(out))
	}
	return strings.Join(parts, "\n\n") + "\n"
}
