package storage

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"siteplan/domain"
)

func openTestSQLite(t *testing.T, projectID string) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "board.db"), projectID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := openTestSQLite(t, "p1")
	ctx := context.Background()

	empty, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no tasks, got %d", len(empty))
	}

	tasks := DefaultSeed().Tasks
	if err := s.SaveAll(ctx, tasks); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, tasks) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, tasks)
	}
}

func TestSQLiteStoreSaveAllReplaces(t *testing.T) {
	s := openTestSQLite(t, "p1")
	ctx := context.Background()

	first := []domain.Task{
		{ID: "a", Name: "A", StartDate: domain.MustParseDate("2024-01-01"), Duration: 1, Dependencies: []string{}},
		{ID: "b", Name: "B", StartDate: domain.MustParseDate("2024-01-02"), Duration: 1, Dependencies: []string{"a"}},
	}
	if err := s.SaveAll(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := []domain.Task{first[1], {ID: "c", Name: "C", StartDate: domain.MustParseDate("2024-01-03"), Duration: 2, Dependencies: nil}}
	if err := s.SaveAll(ctx, second); err != nil {
		t.Fatalf("save again: %v", err)
	}
	got, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("unexpected tasks %+v", got)
	}
	if got[1].Dependencies == nil {
		t.Fatal("expected empty dependency slice, got nil")
	}
}

func TestSQLiteStoreIsolatesProjects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	a, err := OpenSQLite(path, "a")
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer a.Close()
	b, err := OpenSQLite(path, "b")
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	if err := a.SaveAll(ctx, DefaultSeed().Tasks); err != nil {
		t.Fatalf("save a: %v", err)
	}
	got, err := b.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load b: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("project b sees %d tasks of project a", len(got))
	}
}
