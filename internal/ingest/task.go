package ingest

import (
	"time"

	"github.com/google/uuid"
)

// State is the position of a task in the per-file state machine.
type State int

const (
	StatePending State = iota
	StateProbing
	StateExtracting
	StateSucceeded
	StateFailed
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProbing:
		return "probing"
	case StateExtracting:
		return "extracting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateExhausted:
		return "exhausted_retries"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further attempt follows this state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateExhausted
}

// Task is one candidate source file. Only the worker that dequeued it may
// touch its fields until it is completed or requeued.
type Task struct {
	ID           string
	SourcePath   string
	Attempt      int
	EnqueuedAt   time.Time
	ObservedSize int64
	State        State
	LastErr      error
}

func newTask(path string, size int64) *Task {
	return &Task{
		ID:           uuid.NewString(),
		SourcePath:   path,
		EnqueuedAt:   time.Now(),
		ObservedSize: size,
		State:        StatePending,
	}
}

// ArtifactSet lists what one successful attempt wrote.
type ArtifactSet struct {
	// Stills holds still paths per variant name in chronological order.
	Stills  map[string][]string
	Preview string
}

// Count returns the number of files in the set.
func (a *ArtifactSet) Count() int {
	n := 0
	for _, paths := range a.Stills {
		n += len(paths)
	}
	if a.Preview != "" {
		n++
	}
	return n
}
