// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package scrape enriches paper drafts from external metadata sources.
// Every source implements the same request/parse contract; the Orchestrator
// runs all attached scrapers for a draft and merges what they find without
// overwriting fields the draft already has.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pdiddy/metascrape/internal/httputil"
	"github.com/pdiddy/metascrape/pkg/types"
)

// Request is what a scraper wants fetched for a draft. Enabled=false means
// the orchestrator skips the network call and leaves the draft unchanged.
type Request struct {
	URL     string
	Headers map[string]string
	Enabled bool

	// DirectLookup marks an identifier lookup whose response is a single
	// record rather than a ranked list of search hits.
	DirectLookup bool

	// Err records why a request could not be built (a broken custom
	// fragment). The orchestrator reports it instead of fetching.
	Err error

	// PaperID keys cache writes made while parsing this request's
	// response. The orchestrator pins it to the draft's identity before
	// any scraper runs; when empty the draft's current identity is used.
	PaperID string

	// pending, when set, collects cache writes so the orchestrator can
	// flush them after releasing the draft.
	pending *[]cacheWrite
}

// Scraper is the contract every source honors. PreProcess never fails and
// must not mutate the draft. Parse mutates the draft in place through the
// non-destructive merge policy and returns it; it returns a *ParseError and
// leaves the draft unchanged when the body does not match the schema.
type Scraper interface {
	Name() string
	PreProcess(draft *types.PaperDraft) Request
	Parse(body []byte, draft *types.PaperDraft, req Request) (*types.PaperDraft, error)
}

// FetchOptions are the network client parameters for one scraper.
type FetchOptions struct {
	RetryCount int
	UseCache   bool
	Timeout    time.Duration
}

// FetchOptioner is implemented by scrapers that pin their own fetch
// parameters instead of using the run defaults.
type FetchOptioner interface {
	FetchOptions() FetchOptions
}

// Overrider is implemented by scrapers whose whole request, fetch and parse
// flow can be replaced. ScrapeImpl works on a snapshot of the draft and
// returns the fields to merge; a nil result with a nil error means no
// override applies and the regular flow runs.
type Overrider interface {
	ScrapeImpl(ctx context.Context, snapshot *types.PaperDraft, force bool, net httputil.Getter) (*types.PaperDraft, error)
}

// Preferences is the read-only view of per-source user settings.
type Preferences interface {
	Scraper(name string) (types.ScraperConfig, bool)
}

// ProgressLogger receives transient human-readable status messages.
type ProgressLogger interface {
	Progress(msg string)
}

// Cache receives the draft after a successful merge, keyed by the paper
// identity the draft had when scraping started. Implementations must not
// block the caller on failure.
type Cache interface {
	Put(paperID string, draft *types.PaperDraft, source string)
}

type cacheWrite struct {
	cache   Cache
	paperID string
	source  string
	draft   types.PaperDraft
}

func (w cacheWrite) flush() {
	w.cache.Put(w.paperID, &w.draft, w.source)
}

// Base carries the collaborators shared by every scraper.
type Base struct {
	Prefs Preferences
	Log   ProgressLogger
	Cache Cache
}

// config returns the preference snapshot for name, or ErrConfiguration.
func (b Base) config(name string) (types.ScraperConfig, error) {
	if b.Prefs == nil {
		return types.ScraperConfig{}, ErrConfiguration
	}
	cfg, ok := b.Prefs.Scraper(name)
	if !ok {
		return types.ScraperConfig{}, ErrConfiguration
	}
	return cfg, nil
}

// enabled reports whether the source is switched on. A missing preference
// counts as disabled.
func (b Base) enabled(name string) bool {
	cfg, err := b.config(name)
	if err != nil {
		slog.Debug("scraper disabled", "source", name, "err", err)
		return false
	}
	return cfg.Enabled
}

func (b Base) progress(msg string) {
	if b.Log != nil {
		b.Log.Progress(msg)
	}
}

func (b Base) uploadCache(draft *types.PaperDraft, source string, req Request) {
	if b.Cache == nil {
		return
	}
	w := cacheWrite{cache: b.Cache, paperID: req.PaperID, source: source, draft: *draft}
	if w.paperID == "" {
		w.paperID = draft.Identity()
	}
	if req.pending != nil {
		*req.pending = append(*req.pending, w)
		return
	}
	w.flush()
}

// WriterLogger writes progress messages as lines to W. It is safe for
// concurrent use.
type WriterLogger struct {
	mu sync.Mutex
	W  io.Writer
}

// Progress writes msg followed by a newline.
func (l *WriterLogger) Progress(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.W, msg)
}

// hasTitleOrDOI is the minimum a draft needs before any source is queried.
func hasTitleOrDOI(draft *types.PaperDraft) bool {
	return strings.TrimSpace(draft.Title) != "" || strings.TrimSpace(draft.DOI) != ""
}

// preprintVenues are publication strings that mark a draft as a preprint.
var preprintVenues = []string{"arxiv", "biorxiv", "medrxiv", "ssrn", "openreview", "preprint", "chemrxiv"}

// IsPreprint reports whether the draft still looks like a preprint: no
// venue yet, an arXiv identifier, or a venue naming a preprint server.
func IsPreprint(draft *types.PaperDraft) bool {
	if draft.Arxiv != "" {
		return true
	}
	pub := strings.ToLower(strings.TrimSpace(draft.Publication))
	if pub == "" {
		return true
	}
	for _, v := range preprintVenues {
		if strings.Contains(pub, v) {
			return true
		}
	}
	return false
}

// formatQueryTitle collapses whitespace so a title can be sent as a query.
func formatQueryTitle(title string) string {
	return strings.Join(strings.Fields(title), " ")
}

// errorStatus extracts the HTTP status from a network client error.
func errorStatus(err error) int {
	var se *httputil.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
