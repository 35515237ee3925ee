// Package checkpoint stores immutable execution snapshots keyed by thread
// and selects the snapshot a resumed execution continues from.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrAmbiguous is returned by Latest when two different snapshots of the
// same task tie on both timestamp and step. Callers start fresh.
var ErrAmbiguous = errors.New("ambiguous checkpoint selection")

// Scope controls how List matches thread keys.
type Scope int

const (
	// ScopeExact lists snapshots whose thread key equals the requested key.
	ScopeExact Scope = iota
	// ScopePrefix lists snapshots whose thread key starts with the requested key.
	ScopePrefix
)

// Snapshot is one immutable record of a state machine's bindings.
type Snapshot struct {
	ID        string          `json:"id"`
	ThreadKey string          `json:"thread_key"`
	TaskID    string          `json:"task_id"`
	Step      int             `json:"step"`
	Node      string          `json:"node"`
	Values    json.RawMessage `json:"values"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode unmarshals the snapshot bindings into v.
func (s Snapshot) Decode(v any) error {
	if len(s.Values) == 0 {
		return fmt.Errorf("snapshot %s has no values", s.ID)
	}
	if err := json.Unmarshal(s.Values, v); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", s.ID, err)
	}
	return nil
}

// Store is the durable append-only snapshot log.
// Implementations must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, snap Snapshot) error
	List(ctx context.Context, threadKey string, scope Scope) ([]Snapshot, error)
}

// Pruner is implemented by stores that support retention cleanup.
type Pruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// New builds a snapshot of values for the given lineage position.
func New(threadKey, taskID string, step int, node string, values any) (Snapshot, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode snapshot values: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Snapshot{}, fmt.Errorf("generate snapshot id: %w", err)
	}
	return Snapshot{
		ID:        id.String(),
		ThreadKey: threadKey,
		TaskID:    taskID,
		Step:      step,
		Node:      node,
		Values:    raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Latest picks the snapshot to resume taskID from: among snapshots whose
// embedded task id equals taskID exactly, the one with the greatest
// (CreatedAt, Step). It reports false when nothing matches.
func Latest(snaps []Snapshot, taskID string) (Snapshot, bool, error) {
	var (
		best  Snapshot
		found bool
		tied  bool
	)
	for _, s := range snaps {
		if s.TaskID != taskID {
			continue
		}
		if !found {
			best, found = s, true
			continue
		}
		switch compare(s, best) {
		case 1:
			best, tied = s, false
		case 0:
			if s.ID != best.ID {
				tied = true
			}
		}
	}
	if !found {
		return Snapshot{}, false, nil
	}
	if tied {
		return Snapshot{}, false, fmt.Errorf("%w: task %s at step %d", ErrAmbiguous, taskID, best.Step)
	}
	return best, true, nil
}

func compare(a, b Snapshot) int {
	switch {
	case a.CreatedAt.After(b.CreatedAt):
		return 1
	case a.CreatedAt.Before(b.CreatedAt):
		return -1
	case a.Step > b.Step:
		return 1
	case a.Step < b.Step:
		return -1
	default:
		return 0
	}
}

// Resume lists threadKey and returns the latest snapshot for taskID.
func Resume(ctx context.Context, store Store, threadKey, taskID string) (Snapshot, bool, error) {
	snaps, err := store.List(ctx, threadKey, ScopeExact)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("list checkpoints for %s: %w", threadKey, err)
	}
	return Latest(snaps, taskID)
}
