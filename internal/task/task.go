// Package task defines the controller's unit of work: the queued
// media-processing request that flows through the flow builder,
// scheduler, and aggregator.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind selects the flow shape a task decomposes into.
type Kind string

const (
	KindTranscode    Kind = "transcode"
	KindDetectLabels Kind = "detect-labels"
)

// Status is the task's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// terminal reports whether a status ends the task's lifecycle.
func (s Status) terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// Task is one queued unit of media-processing work.
type Task struct {
	ID          string
	Kind        Kind
	MediaID     string
	Payload     map[string]any
	Priority    int
	Status      Status
	Attempts    int
	Progress    int // 0..100
	LastError   string
	Result      map[string]any // final result payload, set on success
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// New constructs a queued task with a fresh identity.
func New(kind Kind, mediaID string, payload map[string]any, priority int) *Task {
	now := time.Now()
	return &Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		MediaID:   mediaID,
		Payload:   payload,
		Priority:  priority,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Start transitions a queued (or previously failed, on retry) task into
// running, bumping its attempt counter. It refuses to restart a task
// already in a terminal state from a prior successful completion —
// once succeeded, a task stays there.
func (t *Task) Start() error {
	if t.Status == StatusSucceeded {
		return fmt.Errorf("task %s: cannot restart from terminal status %s", t.ID, t.Status)
	}
	now := time.Now()
	t.Status = StatusRunning
	t.Attempts++
	t.StartedAt = &now
	t.UpdatedAt = now
	return nil
}

// Finish transitions a running task to a terminal status. It is
// one-way within a given attempt: calling Finish twice without an
// intervening Start is rejected.
func (t *Task) Finish(status Status, lastError string) error {
	if !status.terminal() {
		return fmt.Errorf("task %s: %s is not a terminal status", t.ID, status)
	}
	if t.Status.terminal() {
		return fmt.Errorf("task %s: already terminal at %s", t.ID, t.Status)
	}
	now := time.Now()
	t.Status = status
	t.LastError = lastError
	t.CompletedAt = &now
	t.UpdatedAt = now
	if status == StatusSucceeded {
		t.Progress = 100
	}
	return nil
}

// SetProgress updates progress monotonically: a lower value is
// rejected.
func (t *Task) SetProgress(pct int) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("task %s: progress %d out of range", t.ID, pct)
	}
	if pct < t.Progress {
		return fmt.Errorf("task %s: progress cannot move backward (%d -> %d)", t.ID, t.Progress, pct)
	}
	t.Progress = pct
	t.UpdatedAt = time.Now()
	return nil
}

// ResetForRetry moves a failed task back to queued so the controller's
// retry loop can re-dispatch it.
func (t *Task) ResetForRetry() error {
	if t.Status != StatusFailed {
		return fmt.Errorf("task %s: only a failed task can be reset for retry, got %s", t.ID, t.Status)
	}
	t.Status = StatusQueued
	t.CompletedAt = nil
	t.UpdatedAt = time.Now()
	return nil
}
