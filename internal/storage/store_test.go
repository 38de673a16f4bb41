package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "nested", "test.db"), 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SessionRoundTrip(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.LoadSession("stashsave-auth"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	payload := []byte(`{"access_token":"abc"}`)
	if err := store.SaveSession("stashsave-auth", payload); err != nil {
		t.Fatalf("failed to save session: %v", err)
	}

	got, err := store.LoadSession("stashsave-auth")
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("expected %s, got %s", payload, got)
	}

	if err := store.DeleteSession("stashsave-auth"); err != nil {
		t.Fatalf("failed to delete session: %v", err)
	}
	if _, err := store.LoadSession("stashsave-auth"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteSession("missing"); err != nil {
		t.Errorf("deleting a missing key should not fail: %v", err)
	}
}

func TestStore_SessionSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(dbPath, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSession("k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := NewStore(dbPath, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.LoadSession("k")
	if err != nil || string(got) != "v" {
		t.Errorf("expected persisted value, got %q (%v)", got, err)
	}
}

func TestStore_RecordQueryDeduplicates(t *testing.T) {
	store := setupTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	records := []QueryRecord{
		{UserID: "u1", Query: "vector db", SearchedAt: base},
		{UserID: "u1", Query: "http router", SearchedAt: base.Add(time.Minute)},
		{UserID: "u1", Query: "  Vector DB ", SearchedAt: base.Add(2 * time.Minute)},
		{UserID: "u2", Query: "other user", SearchedAt: base},
	}
	for _, rec := range records {
		if err := store.RecordQuery(rec); err != nil {
			t.Fatalf("failed to record query: %v", err)
		}
	}

	got, err := store.RecentQueries("u1", 10)
	if err != nil {
		t.Fatalf("failed to list queries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 queries for u1, got %d", len(got))
	}
	if got[0].Query != "Vector DB" {
		t.Errorf("expected newest query first, got %q", got[0].Query)
	}
	if got[1].Query != "http router" {
		t.Errorf("expected older query second, got %q", got[1].Query)
	}
}

func TestStore_RecordQueryRejectsEmpty(t *testing.T) {
	store := setupTestStore(t)
	if err := store.RecordQuery(QueryRecord{UserID: "u1", Query: "   "}); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestStore_RecentQueriesLimitAndPrune(t *testing.T) {
	store := setupTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := QueryRecord{UserID: "u1", Query: fmt.Sprintf("query %d", i), SearchedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.RecordQuery(rec); err != nil {
			t.Fatal(err)
		}
	}

	limited, err := store.RecentQueries("u1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 3 || limited[0].Query != "query 4" {
		t.Errorf("unexpected limited history: %+v", limited)
	}

	if err := store.PruneHistory("u1", 2); err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	all, err := store.RecentQueries("u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Query != "query 4" || all[1].Query != "query 3" {
		t.Errorf("unexpected history after prune: %+v", all)
	}
}

func TestStore_LastImport(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.LastImport("u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.SaveImport(ImportRecord{UserID: "u1", Ingested: 12}); err != nil {
		t.Fatal(err)
	}
	rec, err := store.LastImport("u1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Ingested != 12 || rec.ImportedAt.IsZero() {
		t.Errorf("unexpected import record: %+v", rec)
	}
}
