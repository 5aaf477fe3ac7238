package recorder

import (
	"context"
	"testing"
)

func TestHashAttributes(t *testing.T) {
	a := map[string]any{"unit": "°C", "precision": 1, "nested": map[string]any{"x": 1}}
	b := map[string]any{"nested": map[string]any{"x": 1}, "precision": 1, "unit": "°C"}

	hashA, payloadA, err := hashAttributes(a)
	if err != nil {
		t.Fatalf("hashAttributes() error = %v", err)
	}
	hashB, _, err := hashAttributes(b)
	if err != nil {
		t.Fatalf("hashAttributes() error = %v", err)
	}

	if hashA != hashB {
		t.Errorf("equal payloads hashed differently: %s vs %s", hashA, hashB)
	}
	if payloadA == "" {
		t.Error("payload should not be empty")
	}

	hashC, _, err := hashAttributes(map[string]any{"unit": "°F"})
	if err != nil {
		t.Fatalf("hashAttributes() error = %v", err)
	}
	if hashC == hashA {
		t.Error("different payloads produced the same hash")
	}

	// nil and empty attributes are the same payload.
	hashNil, _, err := hashAttributes(nil)
	if err != nil {
		t.Fatalf("hashAttributes(nil) error = %v", err)
	}
	hashEmpty, _, err := hashAttributes(map[string]any{})
	if err != nil {
		t.Fatalf("hashAttributes(empty) error = %v", err)
	}
	if hashNil != hashEmpty {
		t.Error("nil and empty attributes should share a hash")
	}
}

func TestAttributesCache_GetOrCreate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := setupSchema(ctx, db, noopLogger{}); err != nil {
		t.Fatalf("setupSchema() error = %v", err)
	}

	cache := newAttributesCache()
	attrs := map[string]any{"brightness": 200}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}

	pending := make(map[string]int64)
	first, err := cache.getOrCreate(ctx, tx, attrs, pending)
	if err != nil {
		t.Fatalf("getOrCreate() error = %v", err)
	}
	second, err := cache.getOrCreate(ctx, tx, attrs, pending)
	if err != nil {
		t.Fatalf("getOrCreate() error = %v", err)
	}
	if first != second {
		t.Errorf("same payload got ids %d and %d", first, second)
	}

	other, err := cache.getOrCreate(ctx, tx, map[string]any{"brightness": 10}, pending)
	if err != nil {
		t.Fatalf("getOrCreate() error = %v", err)
	}
	if other == first {
		t.Error("different payload reused the same id")
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	cache.promote(pending)

	// A fresh cache must find the committed row instead of duplicating it.
	cold := newAttributesCache()
	tx, err = db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	found, err := cold.getOrCreate(ctx, tx, attrs, make(map[string]int64))
	if err != nil {
		t.Fatalf("getOrCreate() error = %v", err)
	}
	if found != first {
		t.Errorf("cold cache got id %d, want %d", found, first)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
}

// A rolled-back transaction must not leave its freshly inserted row ids
// in the cache; a later batch with the same payload would otherwise
// reference a row that never committed and fail its foreign key check
// forever.
func TestAttributesCache_RollbackNotCached(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := setupSchema(ctx, db, noopLogger{}); err != nil {
		t.Fatalf("setupSchema() error = %v", err)
	}

	cache := newAttributesCache()
	attrs := map[string]any{"brightness": 128}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	pending := make(map[string]int64)
	if _, err := cache.getOrCreate(ctx, tx, attrs, pending); err != nil {
		t.Fatalf("getOrCreate() error = %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	// The rollback path discards pending instead of promoting it.

	hash, _, err := hashAttributes(attrs)
	if err != nil {
		t.Fatalf("hashAttributes() error = %v", err)
	}
	cache.mu.Lock()
	_, cached := cache.ids[hash]
	cache.mu.Unlock()
	if cached {
		t.Fatal("rolled-back attributes id was promoted into the cache")
	}
}
