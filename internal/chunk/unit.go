// Package chunk runs one unit of a job through the bounded
// PROCESS/VALIDATE retry loop, checkpointing after every step.
package chunk

import (
	"fmt"
	"strings"
)

type State string

const (
	StateProcess  State = "PROCESS"
	StateValidate State = "VALIDATE"
	StateDone     State = "DONE"
	StateFailed   State = "FAILED"
)

// Unit is the mutable state of one unit execution lineage.
type Unit struct {
	// TaskID is the unit identity and its checkpoint thread key.
	TaskID string `json:"task_id"`

	SourceFormat      string `json:"source_format"`
	DestinationFormat string `json:"destination_format"`
	Instructions      string `json:"instructions"`
	// Dialect selects grammar validation. Empty skips it.
	Dialect string `json:"dialect"`

	// Source is the raw unit text and never changes.
	Source string `json:"source"`
	// SQL is the current payload, replaced by each candidate.
	SQL string `json:"sql"`

	Remaining int    `json:"remaining"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	State     State  `json:"state"`
}

// payload is the text the next attempt converts.
func (u *Unit) payload() string {
	if strings.TrimSpace(u.SQL) == "" {
		return u.Source
	}
	return u.SQL
}

// Result is the outcome of a unit that reached DONE.
type Result struct {
	TaskID   string `json:"task_id"`
	SQL      string `json:"sql"`
	Attempts int    `json:"attempts"`
	Resumed  bool   `json:"resumed"`
}

func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}

// ExhaustedError is returned when a unit used its whole retry budget.
type ExhaustedError struct {
	TaskID    string
	Prefix    string
	LastError string
	Attempts  int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("unit %s exhausted %d attempts: %s (unit starts with %q)", e.TaskID, e.Attempts, e.LastError, e.Prefix)
}

const prefixLen = 80

func prefix(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= prefixLen {
		return s
	}
	return string(runes[:prefixLen]) + "..."
}
