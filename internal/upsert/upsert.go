// Package upsert implements the idempotent-upsert contract:
// get-by-dedup-field, then create-or-update, with a race-safe fallback
// when the store reports a unique-constraint violation on concurrent
// creators.
package upsert

import (
	"context"
	"errors"
	"fmt"

	"github.com/dastron/mediaworker/internal/external"
)

// Action describes what Upsert did to reconcile a payload.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Comparator decides whether payload differs from the existing record
// in a caller-meaningful way.
type Comparator[T any] interface {
	// Equal reports whether existing already reflects payload; when
	// false, Fields returns the field map to write on update.
	Equal(existing external.Record, payload T) bool
	Fields(payload T) map[string]any
}

// Result is the outcome of reconciling one payload.
type Result struct {
	ID     string
	Action Action
}

// Upsert guarantees at most one record exists in collection for the
// given dedupField/dedupValue, with fields reflecting payload.
func Upsert[T any](ctx context.Context, store external.MetadataStore, collection, dedupField, dedupValue string, payload T, cmp Comparator[T]) (Result, error) {
	existing, err := queryOne(ctx, store, collection, dedupField, dedupValue)
	if err != nil {
		return Result{}, fmt.Errorf("upsert %s: query: %w", collection, err)
	}

	if existing == nil {
		fields := cmp.Fields(payload)
		rec, err := store.Create(ctx, collection, fields)
		if err == nil {
			return Result{ID: rec.ID, Action: ActionCreated}, nil
		}

		var notUnique *external.ErrNotUnique
		if !errors.As(err, &notUnique) {
			return Result{}, fmt.Errorf("upsert %s: create: %w", collection, err)
		}

		// Race lost: another creator won. Re-query and reconcile
		// against the winner's row instead of raising.
		existing, err = queryOne(ctx, store, collection, dedupField, dedupValue)
		if err != nil {
			return Result{}, fmt.Errorf("upsert %s: re-query after race: %w", collection, err)
		}
		if existing == nil {
			return Result{}, fmt.Errorf("upsert %s: internal consistency error: unique-constraint raised but re-query found no row", collection)
		}
	}

	if cmp.Equal(*existing, payload) {
		return Result{ID: existing.ID, Action: ActionUnchanged}, nil
	}

	updated, err := store.Update(ctx, collection, existing.ID, cmp.Fields(payload))
	if err != nil {
		return Result{}, fmt.Errorf("upsert %s: update: %w", collection, err)
	}
	return Result{ID: updated.ID, Action: ActionUpdated}, nil
}

func queryOne(ctx context.Context, store external.MetadataStore, collection, field, value string) (*external.Record, error) {
	recs, err := store.List(ctx, collection, map[string]any{field: value})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// BatchSummary counts outcomes across a batch of upserts: individual
// failures are counted, not fatal to the batch.
type BatchSummary struct {
	Created    int
	Updated    int
	Unchanged  int
	HardErrors int
	Errors     []error
}

// DefaultBatchSize is the tuning knob's documented default.
const DefaultBatchSize = 100

// Item pairs a dedup identity with its payload and comparator for
// batch processing.
type Item[T any] struct {
	DedupField string
	DedupValue string
	Payload    T
	Comparator Comparator[T]
}

// UpsertBatch reconciles a list of items against collection, never
// aborting on an individual hard error — it counts and continues.
func UpsertBatch[T any](ctx context.Context, store external.MetadataStore, collection string, items []Item[T], batchSize int) ([]Result, BatchSummary) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var results []Result
	var summary BatchSummary

	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		for _, item := range items[start:end] {
			res, err := Upsert(ctx, store, collection, item.DedupField, item.DedupValue, item.Payload, item.Comparator)
			if err != nil {
				summary.HardErrors++
				summary.Errors = append(summary.Errors, err)
				continue
			}
			results = append(results, res)
			switch res.Action {
			case ActionCreated:
				summary.Created++
			case ActionUpdated:
				summary.Updated++
			case ActionUnchanged:
				summary.Unchanged++
			}
		}
	}

	return results, summary
}
