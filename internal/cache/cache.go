// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cache records successful scrape outcomes in a SQLite database,
// one row per paper and source. Later writes for the same pair replace
// earlier ones.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/metascrape/pkg/types"
)

// ErrNotFound is returned by Get when no entry exists.
var ErrNotFound = errors.New("cache entry not found")

// Entry is one cached scrape outcome.
type Entry struct {
	PaperID   string           `json:"paper_id" yaml:"paper_id"`
	Source    string           `json:"source" yaml:"source"`
	Draft     types.PaperDraft `json:"draft" yaml:"draft"`
	UpdatedAt time.Time        `json:"updated_at" yaml:"updated_at"`
}

// Store is the SQLite-backed scrape cache.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the cache database at path, creating parent
// directories and the schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS scrape_cache (
			paper_id TEXT NOT NULL,
			source TEXT NOT NULL,
			draft_json TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (paper_id, source)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scrape_cache_source ON scrape_cache(source)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Put records draft as the latest outcome of source for paperID. Failures
// are logged and never returned, so a broken cache does not fail a scrape.
func (s *Store) Put(paperID string, draft *types.PaperDraft, source string) {
	if err := s.Save(context.Background(), paperID, draft, source); err != nil {
		slog.Warn("scrape cache write failed", "paper", paperID, "source", source, "err", err)
	}
}

// Save upserts the (paperID, source) entry. An empty paperID falls back to
// the draft's identity.
func (s *Store) Save(ctx context.Context, paperID string, draft *types.PaperDraft, source string) error {
	if paperID == "" {
		paperID = draft.Identity()
	}
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("encoding draft: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scrape_cache (paper_id, source, draft_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(paper_id, source) DO UPDATE SET
			draft_json = excluded.draft_json,
			updated_at = excluded.updated_at`,
		paperID, source, string(data), s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Get returns the entry for paperID and source, or ErrNotFound.
func (s *Store) Get(ctx context.Context, paperID, source string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT paper_id, source, draft_json, updated_at FROM scrape_cache
		WHERE paper_id = ? AND source = ?`, paperID, source)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// List returns every entry for paperID ordered by source.
func (s *Store) List(ctx context.Context, paperID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT paper_id, source, draft_json, updated_at FROM scrape_cache
		WHERE paper_id = ? ORDER BY source`, paperID)
	if err != nil {
		return nil, fmt.Errorf("querying cache: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e         Entry
		draftJSON string
		updated   string
	)
	if err := row.Scan(&e.PaperID, &e.Source, &draftJSON, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scanning cache entry: %w", err)
	}
	if err := json.Unmarshal([]byte(draftJSON), &e.Draft); err != nil {
		return Entry{}, fmt.Errorf("decoding cached draft: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	e.UpdatedAt = t
	return e, nil
}
