package upsert

import (
	"context"
	"testing"

	"github.com/dastron/mediaworker/internal/external"
)

type entityPayload struct {
	Hash string
	Name string
}

type entityComparator struct{}

func (entityComparator) Equal(existing external.Record, payload entityPayload) bool {
	return existing.Fields["name"] == payload.Name
}

func (entityComparator) Fields(payload entityPayload) map[string]any {
	return map[string]any{"hash": payload.Hash, "name": payload.Name}
}

func TestUpsertCreatesWhenAbsent(t *testing.T) {
	store := external.NewMemoryMetadataStore(map[string][]string{"entities": {"hash"}})
	ctx := context.Background()

	res, err := Upsert(ctx, store, "entities", "hash", "h1", entityPayload{Hash: "h1", Name: "car"}, entityComparator{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != ActionCreated {
		t.Fatalf("expected created, got %s", res.Action)
	}
}

func TestUpsertIsIdempotentOnRepeat(t *testing.T) {
	store := external.NewMemoryMetadataStore(map[string][]string{"entities": {"hash"}})
	ctx := context.Background()
	payload := entityPayload{Hash: "h1", Name: "car"}

	first, err := Upsert(ctx, store, "entities", "hash", "h1", payload, entityComparator{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := Upsert(ctx, store, "entities", "hash", "h1", payload, entityComparator{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Action != ActionUnchanged {
		t.Fatalf("expected unchanged on repeat, got %s", second.Action)
	}
	if second.ID != first.ID {
		t.Fatalf("expected stable id across repeat upserts, got %s vs %s", first.ID, second.ID)
	}

	recs, _ := store.List(ctx, "entities", nil)
	if len(recs) != 1 {
		t.Fatalf("expected exactly one record for the dedup hash, got %d", len(recs))
	}
}

func TestUpsertUpdatesWhenPayloadDiffers(t *testing.T) {
	store := external.NewMemoryMetadataStore(map[string][]string{"entities": {"hash"}})
	ctx := context.Background()

	first, _ := Upsert(ctx, store, "entities", "hash", "h1", entityPayload{Hash: "h1", Name: "car"}, entityComparator{})
	second, err := Upsert(ctx, store, "entities", "hash", "h1", entityPayload{Hash: "h1", Name: "red car"}, entityComparator{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Action != ActionUpdated {
		t.Fatalf("expected updated, got %s", second.Action)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same row to be updated, got %s vs %s", first.ID, second.ID)
	}

	rec, _ := store.GetByID(ctx, "entities", first.ID)
	if rec.Fields["name"] != "red car" {
		t.Fatalf("expected updated name, got %v", rec.Fields["name"])
	}
}

func TestUpsertReconcilesAgainstExistingRow(t *testing.T) {
	store := external.NewMemoryMetadataStore(map[string][]string{"entities": {"hash"}})
	ctx := context.Background()

	winner, err := store.Create(ctx, "entities", map[string]any{"hash": "h1", "name": "car"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := Upsert(ctx, store, "entities", "hash", "h1", entityPayload{Hash: "h1", Name: "car"}, entityComparator{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ID != winner.ID {
		t.Fatalf("expected reconciliation against the existing row, got %s vs %s", res.ID, winner.ID)
	}
	if res.Action != ActionUnchanged {
		t.Fatalf("expected unchanged when the row already reflects the payload, got %s", res.Action)
	}
}

// blindFirstQueryStore delegates to a real store but reports zero rows
// for the first n List calls, reproducing the window where a concurrent
// creator wins between this writer's query and its create.
type blindFirstQueryStore struct {
	external.MetadataStore
	misses int
}

func (s *blindFirstQueryStore) List(ctx context.Context, collection string, filter map[string]any) ([]external.Record, error) {
	if s.misses > 0 {
		s.misses--
		return nil, nil
	}
	return s.MetadataStore.List(ctx, collection, filter)
}

func TestUpsertCreateRaceRecoversViaRequery(t *testing.T) {
	inner := external.NewMemoryMetadataStore(map[string][]string{"entities": {"hash"}})
	ctx := context.Background()

	winner, err := inner.Create(ctx, "entities", map[string]any{"hash": "h1", "name": "car"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store := &blindFirstQueryStore{MetadataStore: inner, misses: 1}
	res, err := Upsert(ctx, store, "entities", "hash", "h1", entityPayload{Hash: "h1", Name: "car"}, entityComparator{})
	if err != nil {
		t.Fatalf("expected the race loser to recover via re-query, got %v", err)
	}
	if res.ID != winner.ID {
		t.Fatalf("expected the loser to adopt the winner's row, got %s vs %s", res.ID, winner.ID)
	}

	recs, _ := inner.List(ctx, "entities", nil)
	if len(recs) != 1 {
		t.Fatalf("expected exactly one record after the race, got %d", len(recs))
	}
}

func TestUpsertBatchCountsHardErrorsWithoutAborting(t *testing.T) {
	store := external.NewMemoryMetadataStore(map[string][]string{"entities": {"hash"}})
	ctx := context.Background()

	items := []Item[entityPayload]{
		{DedupField: "hash", DedupValue: "h1", Payload: entityPayload{Hash: "h1", Name: "car"}, Comparator: entityComparator{}},
		// Dedups on h3 but writes hash=h1: the create hits h1's unique
		// constraint and the re-query on h3 finds no row, a hard error.
		{DedupField: "hash", DedupValue: "h3", Payload: entityPayload{Hash: "h1", Name: "clash"}, Comparator: entityComparator{}},
		{DedupField: "hash", DedupValue: "h2", Payload: entityPayload{Hash: "h2", Name: "dog"}, Comparator: entityComparator{}},
	}

	results, summary := UpsertBatch(ctx, store, "entities", items, 0)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if summary.Created != 2 || summary.HardErrors != 1 || len(summary.Errors) != 1 {
		t.Fatalf("expected 2 created, 1 hard error, got %+v", summary)
	}
}
