package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/MimeLyc/chunked-sql-translator/internal/chunk"
	"github.com/MimeLyc/chunked-sql-translator/internal/dedup"
	"github.com/MimeLyc/chunked-sql-translator/internal/task"
)

// UnitRequest converts one piece of SQL outside of any job.
type UnitRequest struct {
	SourceFormat      string `json:"source_format"`
	DestinationFormat string `json:"destination_format"`
	Instructions      string `json:"instructions"`
	Dialect           string `json:"dialect"`
	SQL               string `json:"sql"`
}

// TaskID identifies the standalone unit lineage of r.
func (r UnitRequest) TaskID() string {
	return task.ChunkID(r.SourceFormat, r.DestinationFormat, r.Instructions+"\x00dialect="+r.Dialect, r.SQL)
}

// ConvertUnit runs a single unit through the state machine. Identical
// concurrent requests share one execution, and a finished lineage is
// replayed from its checkpoint.
func (o *Orchestrator) ConvertUnit(ctx context.Context, req UnitRequest) (*chunk.Result, error) {
	if strings.TrimSpace(req.SQL) == "" {
		return nil, NewError(ErrValidation, "", "sql is required")
	}
	if err := validateConfig(Config{SourceFormat: req.SourceFormat, DestinationFormat: req.DestinationFormat}); err != nil {
		return nil, err
	}
	req.Dialect = o.resolveDialect(req.Dialect, req.DestinationFormat)
	id := req.TaskID()

	unit := chunk.Unit{
		TaskID:            id,
		SourceFormat:      req.SourceFormat,
		DestinationFormat: req.DestinationFormat,
		Instructions:      req.Instructions,
		Dialect:           req.Dialect,
		Source:            req.SQL,
	}
	res, err := dedup.DoKey(ctx, o.registry, "chunk:"+id, func(ctx context.Context) (*chunk.Result, error) {
		return o.runner.Run(ctx, unit)
	})
	if err != nil {
		var exhausted *chunk.ExhaustedError
		if errors.As(err, &exhausted) {
			return nil, WrapError(err, ErrUnit, id, "unit exhausted its retries")
		}
		return nil, WrapError(err, ErrUnit, id, "unit failed")
	}
	return res, nil
}
