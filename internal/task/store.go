package task

import (
	"context"
	"sort"
	"time"

	"github.com/dastron/mediaworker/internal/external"
)

// Collection is the metadata-store collection Tasks are persisted in.
// Tasks are created externally; the store here only reads and patches
// them.
const Collection = "tasks"

// Store is the controller's sole view onto Task persistence, backed
// by the external.MetadataStore boundary interface. The controller is
// the only writer of Task.status and Task.attempts; Store only ever
// turns a *Task into field updates, it never invents field values of
// its own.
type Store struct {
	metadata external.MetadataStore
}

// NewStore wraps a MetadataStore as a Task Store.
func NewStore(metadata external.MetadataStore) *Store {
	return &Store{metadata: metadata}
}

// ListQueued returns up to limit queued Tasks in creation order.
func (s *Store) ListQueued(ctx context.Context, limit int) ([]*Task, error) {
	records, err := s.metadata.List(ctx, Collection, map[string]any{"status": string(StatusQueued)})
	if err != nil {
		return nil, err
	}

	tasks := make([]*Task, 0, len(records))
	for _, rec := range records {
		tasks = append(tasks, fromRecord(rec))
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })

	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// Create persists a brand-new Task, e.g. for tests and local/dev
// seeding (tasks are created externally in production, but the Store
// must still be able to round-trip one for that purpose).
func (s *Store) Create(ctx context.Context, t *Task) error {
	rec, err := s.metadata.Create(ctx, Collection, toFields(t))
	if err != nil {
		return err
	}
	t.ID = rec.ID
	return nil
}

// Save persists t's current mutable fields (status, attempts, progress,
// last-error, timestamps) back to the metadata store. The controller is
// the only caller.
func (s *Store) Save(ctx context.Context, t *Task) error {
	_, err := s.metadata.Update(ctx, Collection, t.ID, toFields(t))
	return err
}

func toFields(t *Task) map[string]any {
	fields := map[string]any{
		"kind":      string(t.Kind),
		"mediaId":   t.MediaID,
		"payload":   t.Payload,
		"priority":  t.Priority,
		"status":    string(t.Status),
		"attempts":  t.Attempts,
		"progress":  t.Progress,
		"lastError": t.LastError,
		"result":    t.Result,
		"createdAt": t.CreatedAt,
		"updatedAt": t.UpdatedAt,
	}
	if t.StartedAt != nil {
		fields["startedAt"] = *t.StartedAt
	}
	if t.CompletedAt != nil {
		fields["completedAt"] = *t.CompletedAt
	}
	return fields
}

func fromRecord(rec external.Record) *Task {
	t := &Task{ID: rec.ID}
	if v, ok := rec.Fields["kind"].(string); ok {
		t.Kind = Kind(v)
	}
	if v, ok := rec.Fields["mediaId"].(string); ok {
		t.MediaID = v
	}
	if v, ok := rec.Fields["payload"].(map[string]any); ok {
		t.Payload = v
	}
	if v, ok := rec.Fields["priority"].(int); ok {
		t.Priority = v
	}
	if v, ok := rec.Fields["status"].(string); ok {
		t.Status = Status(v)
	}
	if v, ok := rec.Fields["attempts"].(int); ok {
		t.Attempts = v
	}
	if v, ok := rec.Fields["progress"].(int); ok {
		t.Progress = v
	}
	if v, ok := rec.Fields["lastError"].(string); ok {
		t.LastError = v
	}
	if v, ok := rec.Fields["result"].(map[string]any); ok {
		t.Result = v
	}
	t.CreatedAt = asTime(rec.Fields["createdAt"])
	t.UpdatedAt = asTime(rec.Fields["updatedAt"])
	return t
}

// asTime accepts either a real time.Time (the in-memory fake store
// round-trips Go values as-is) or an RFC3339 string (a real metadata
// store serializes over the wire as JSON), so Store works against both.
func asTime(v any) time.Time {
	switch val := v.(type) {
	case time.Time:
		return val
	case string:
		if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
			return t
		}
	}
	return time.Time{}
}
