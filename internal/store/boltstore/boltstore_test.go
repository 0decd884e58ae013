package boltstore

import "testing"

type fixture struct {
	Name  string
	Count int
}

func TestPutGetRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	want := fixture{Name: "probe", Count: 3}
	if err := store.Put(CacheEntriesBucket(), "k1", want); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got fixture
	found, err := store.Get(CacheEntriesBucket(), "k1", &got)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || got != want {
		t.Fatalf("expected %+v, got %+v (found=%v)", want, got, found)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	var got fixture
	found, err := store.Get(CacheEntriesBucket(), "missing", &got)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected not found")
	}
}

func TestPutOverwritesExistingValue(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	_ = store.Put(FlowResultsBucket(), "flow-1", fixture{Name: "a", Count: 1})
	_ = store.Put(FlowResultsBucket(), "flow-1", fixture{Name: "b", Count: 2})

	var got fixture
	_, _ = store.Get(FlowResultsBucket(), "flow-1", &got)
	if got.Name != "b" || got.Count != 2 {
		t.Fatalf("expected overwritten value, got %+v", got)
	}
}

func TestDeleteRemovesValue(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	_ = store.Put(CacheEntriesBucket(), "k1", fixture{Name: "a"})
	if err := store.Delete(CacheEntriesBucket(), "k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got fixture
	found, _ := store.Get(CacheEntriesBucket(), "k1", &got)
	if found {
		t.Fatalf("expected value to be gone after delete")
	}
}

func TestHotCacheServesWithoutReopeningTx(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	_ = store.Put(CacheEntriesBucket(), "k1", fixture{Name: "cached", Count: 7})

	var got fixture
	found, err := store.Get(CacheEntriesBucket(), "k1", &got)
	if err != nil || !found || got.Count != 7 {
		t.Fatalf("expected hot-cache hit to return the written value, got %+v found=%v err=%v", got, found, err)
	}
}
