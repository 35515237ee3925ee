package jobs

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a job in this status will not run again.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

type EnqueueRequest struct {
	Source    string
	DedupeKey string
	Payload   JobPayload
}

// JobPayload is everything needed to run one conversion job.
type JobPayload struct {
	SQL               string `json:"sql"`
	SourceFormat      string `json:"source_format"`
	DestinationFormat string `json:"destination_format"`
	Dialect           string `json:"dialect,omitempty"`
	Instructions      string `json:"instructions,omitempty"`
	InputToken        string `json:"input_token,omitempty"`
	Example           string `json:"example,omitempty"`
	TargetSchema      string `json:"target_schema,omitempty"`
	NormalizePrompt   bool   `json:"normalize_prompt,omitempty"`
	MergeN            int    `json:"merge_n,omitempty"`
}

type ConversionJob struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	DedupeKey string     `json:"dedupe_key"`
	Payload   JobPayload `json:"payload"`
	Status    Status     `json:"status"`
	Error     string     `json:"error,omitempty"`
	Result    string     `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
