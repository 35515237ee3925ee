// Package transform is the boundary to the external text transformation
// service that rewrites DDL from one dialect into another.
package transform

import (
	"context"
)

// Request is one call to the transformation service.
type Request struct {
	// Instruction is the task-level directive sent ahead of the payload.
	Instruction string `json:"instruction"`
	// Text is the payload to transform.
	Text string `json:"text"`
}

// Result is the structured answer of the service.
type Result struct {
	Text string `json:"text"`
}

// Clone returns an independent copy.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}

// Service transforms text. Implementations do not retry; a failure is
// returned to the caller as is.
type Service interface {
	Transform(ctx context.Context, req Request) (*Result, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, req Request) (*Result, error)

func (f ServiceFunc) Transform(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
