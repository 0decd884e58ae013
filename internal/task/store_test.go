package task

import (
	"context"
	"testing"
	"time"

	"github.com/dastron/mediaworker/internal/external"
)

func TestStoreListQueuedOrdersByCreation(t *testing.T) {
	ms := external.NewMemoryMetadataStore(nil)
	store := NewStore(ms)
	ctx := context.Background()

	older := New(KindTranscode, "m1", nil, 0)
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := New(KindTranscode, "m2", nil, 0)
	newer.CreatedAt = time.Now()

	if err := store.Create(ctx, newer); err != nil {
		t.Fatalf("create newer: %v", err)
	}
	if err := store.Create(ctx, older); err != nil {
		t.Fatalf("create older: %v", err)
	}

	queued, err := store.ListQueued(ctx, 10)
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("expected 2 queued tasks, got %d", len(queued))
	}
	if queued[0].MediaID != "m1" {
		t.Fatalf("expected the older task first, got %s", queued[0].MediaID)
	}
}

func TestStoreListQueuedRespectsLimit(t *testing.T) {
	ms := external.NewMemoryMetadataStore(nil)
	store := NewStore(ms)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tk := New(KindTranscode, "m", nil, 0)
		if err := store.Create(ctx, tk); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	queued, err := store.ListQueued(ctx, 2)
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(queued))
	}
}

func TestStoreSaveRoundTripsStatus(t *testing.T) {
	ms := external.NewMemoryMetadataStore(nil)
	store := NewStore(ms)
	ctx := context.Background()

	tk := New(KindTranscode, "m1", nil, 0)
	if err := store.Create(ctx, tk); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tk.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := store.Save(ctx, tk); err != nil {
		t.Fatalf("save: %v", err)
	}

	queued, err := store.ListQueued(ctx, 10)
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(queued) != 0 {
		t.Fatalf("expected no queued tasks after transitioning to running, got %d", len(queued))
	}
}
