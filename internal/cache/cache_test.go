// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pdiddy/metascrape/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache", "scrape.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDBFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "scrape.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestSaveAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	draft := &types.PaperDraft{ID: "vaswani2017", Title: "Attention Is All You Need", Type: types.TypeConference, PubTime: "2017"}

	if err := s.Save(ctx, "", draft, "crossref"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, "vaswani2017", "crossref")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Draft != *draft {
		t.Errorf("Draft = %+v, want %+v", got.Draft, *draft)
	}
	if got.Source != "crossref" || got.PaperID != "vaswani2017" {
		t.Errorf("key = (%q, %q)", got.PaperID, got.Source)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestGetNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Get(context.Background(), "missing", "crossref")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveUpserts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return first }

	draft := &types.PaperDraft{ID: "p1", Title: "T"}
	if err := s.Save(ctx, "", draft, "crossref"); err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return first.Add(time.Hour) }
	draft.Volume = "7"
	if err := s.Save(ctx, "", draft, "crossref"); err != nil {
		t.Fatal(err)
	}

	entries, err := s.List(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Draft.Volume != "7" {
		t.Errorf("Volume = %q, want 7", entries[0].Draft.Volume)
	}
	if !entries[0].UpdatedAt.Equal(first.Add(time.Hour)) {
		t.Errorf("UpdatedAt = %v", entries[0].UpdatedAt)
	}
}

func TestListOrdersBySource(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	draft := &types.PaperDraft{DOI: "10.1/ABC", Title: "T"}

	for _, src := range []string{"openalex", "crossref", "example"} {
		s.Put(draft.Identity(), draft, src)
	}

	entries, err := s.List(ctx, "doi:10.1/abc")
	if err != nil {
		t.Fatal(err)
	}
	var sources []string
	for _, e := range entries {
		sources = append(sources, e.Source)
	}
	want := []string{"crossref", "example", "openalex"}
	if len(sources) != len(want) {
		t.Fatalf("sources = %v, want %v", sources, want)
	}
	for i := range want {
		if sources[i] != want[i] {
			t.Errorf("sources = %v, want %v", sources, want)
			break
		}
	}
}

func TestSaveKeepsGivenPaperID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	draft := &types.PaperDraft{Title: "Attention Is All You Need", DOI: "10.5555/first"}

	if err := s.Save(ctx, "title:4a1c934d3d98f3ce", draft, "crossref"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "title:4a1c934d3d98f3ce", "crossref")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Draft.DOI != "10.5555/first" {
		t.Errorf("DOI = %q", got.Draft.DOI)
	}
	if _, err := s.Get(ctx, draft.Identity(), "crossref"); !errors.Is(err, ErrNotFound) {
		t.Errorf("entry also stored under %q: err = %v", draft.Identity(), err)
	}
}

func TestPutAfterCloseDoesNotPanic(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "scrape.db"))
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
	s.Put("p1", &types.PaperDraft{Title: "T"}, "crossref")
}
