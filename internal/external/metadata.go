// Package external defines the boundary interfaces owned outside this
// engine — a metadata store, a blob store, and the media/analysis tool
// backends — plus deterministic in-memory fakes used by the engine's
// own tests and by local/dev runs.
package external

import (
	"context"
	"fmt"
	"sync"
)

// ErrNotFound is returned when a record lookup finds nothing.
var ErrNotFound = fmt.Errorf("record not found")

// ErrNotUnique reports a unique-constraint violation on a dedup field,
// the signal internal/upsert uses to fall back to an update-by-field
// race-safe retry.
type ErrNotUnique struct {
	Field string
}

func (e *ErrNotUnique) Error() string {
	return fmt.Sprintf("validation_not_unique: field %q already exists", e.Field)
}

// Record is the opaque metadata payload this engine persists: Media
// rows, Entity/Clip/CoarseClip/Track rows, etc. Callers key into Fields
// by the collection's documented schema.
type Record struct {
	ID         string
	Collection string
	Fields     map[string]any
}

// MetadataStore is the boundary interface onto the external metadata
// service: create/update/get/list plus file attachment.
type MetadataStore interface {
	Create(ctx context.Context, collection string, fields map[string]any) (Record, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) (Record, error)
	GetByID(ctx context.Context, collection, id string) (Record, error)
	List(ctx context.Context, collection string, filter map[string]any) ([]Record, error)
	CreateFileAttachment(ctx context.Context, collection, id, field, filename string, data []byte) error
}

// MemoryMetadataStore is a deterministic, race-safe fake used by this
// engine's own tests and by local/dev runs without a real backing
// service. It enforces uniqueness on any field named in uniqueFields
// for a collection, returning *ErrNotUnique the way a real store would
// surface a constraint violation.
type MemoryMetadataStore struct {
	mu           sync.Mutex
	seq          int
	records      map[string]map[string]Record // collection -> id -> Record
	uniqueFields map[string][]string          // collection -> field names enforced unique
	attachments  map[string]map[string][]byte // "collection/id/field" -> data
}

// NewMemoryMetadataStore constructs an empty fake store. uniqueFields
// declares, per collection, which fields must be unique — e.g.
// {"entities": {"hash"}, "clips": {"hash"}}.
func NewMemoryMetadataStore(uniqueFields map[string][]string) *MemoryMetadataStore {
	return &MemoryMetadataStore{
		records:      make(map[string]map[string]Record),
		uniqueFields: uniqueFields,
		attachments:  make(map[string]map[string][]byte),
	}
}

func (m *MemoryMetadataStore) Create(_ context.Context, collection string, fields map[string]any) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkUnique(collection, "", fields); err != nil {
		return Record{}, err
	}

	m.seq++
	id := fmt.Sprintf("%s-%d", collection, m.seq)
	rec := Record{ID: id, Collection: collection, Fields: cloneFields(fields)}

	if m.records[collection] == nil {
		m.records[collection] = make(map[string]Record)
	}
	m.records[collection][id] = rec
	return rec, nil
}

func (m *MemoryMetadataStore) Update(_ context.Context, collection, id string, fields map[string]any) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := m.records[collection]
	if bucket == nil {
		return Record{}, ErrNotFound
	}
	existing, ok := bucket[id]
	if !ok {
		return Record{}, ErrNotFound
	}

	if err := m.checkUnique(collection, id, fields); err != nil {
		return Record{}, err
	}

	merged := cloneFields(existing.Fields)
	for k, v := range fields {
		merged[k] = v
	}
	rec := Record{ID: id, Collection: collection, Fields: merged}
	bucket[id] = rec
	return rec, nil
}

func (m *MemoryMetadataStore) GetByID(_ context.Context, collection, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := m.records[collection]
	if bucket == nil {
		return Record{}, ErrNotFound
	}
	rec, ok := bucket[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryMetadataStore) List(_ context.Context, collection string, filter map[string]any) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, rec := range m.records[collection] {
		if matches(rec.Fields, filter) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryMetadataStore) CreateFileAttachment(_ context.Context, collection, id, field, filename string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[collection][id]; !ok {
		return ErrNotFound
	}
	key := fmt.Sprintf("%s/%s/%s", collection, id, field)
	if m.attachments[key] == nil {
		m.attachments[key] = make(map[string][]byte)
	}
	m.attachments[key][filename] = data
	return nil
}

func (m *MemoryMetadataStore) checkUnique(collection, excludeID string, fields map[string]any) error {
	for _, uf := range m.uniqueFields[collection] {
		val, ok := fields[uf]
		if !ok {
			continue
		}
		for id, rec := range m.records[collection] {
			if id == excludeID {
				continue
			}
			if rec.Fields[uf] == val {
				return &ErrNotUnique{Field: uf}
			}
		}
	}
	return nil
}

func matches(fields, filter map[string]any) bool {
	for k, v := range filter {
		if fields[k] != v {
			return false
		}
	}
	return true
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
