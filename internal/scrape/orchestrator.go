// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pdiddy/metascrape/internal/httputil"
	"github.com/pdiddy/metascrape/pkg/types"
)

// State is where a scraper's run ended for one draft.
type State string

const (
	StateIdle    State = "idle"
	StateSkipped State = "skipped"
	StateFetched State = "fetched"
	StateParsed  State = "parsed"
	StateMerged  State = "merged"
	StateFailed  State = "failed"
)

// Outcome is the result of one scraper on one draft.
type Outcome struct {
	Source string
	State  State
	Err    error

	// Changed lists the draft fields this scraper filled.
	Changed []types.Field
}

// Report collects the outcomes of every scraper run on a draft, in the
// order the scrapers are attached.
type Report struct {
	DraftID  string
	Outcomes []Outcome
}

// Errors returns the errors recorded by failed scrapers.
func (r Report) Errors() []error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}

// Changed reports whether any scraper filled a field.
func (r Report) Changed() bool {
	for _, o := range r.Outcomes {
		if len(o.Changed) > 0 {
			return true
		}
	}
	return false
}

// Count returns how many outcomes ended in state.
func (r Report) Count(state State) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}

// merger is implemented by scrapers that merge override results
// themselves (and record them in their cache).
type merger interface {
	apply(draft *types.PaperDraft, src types.PaperDraft, req Request) error
}

// Orchestrator runs every attached scraper against a draft. Fetches run
// concurrently; parsing and merging into the draft are serialized so two
// sources never write the draft at the same time.
type Orchestrator struct {
	Scrapers []Scraper
	Net      httputil.Getter
	Cfg      types.ScrapeConfig
}

// New builds an orchestrator over net with the given scrapers attached.
func New(net httputil.Getter, cfg types.ScrapeConfig, scrapers ...Scraper) *Orchestrator {
	return &Orchestrator{Scrapers: scrapers, Net: net, Cfg: cfg.WithDefaults()}
}

// Scrape runs all scrapers on draft and returns their outcomes. With force
// set, the enable gate is bypassed; fields the draft already holds are
// still never overwritten. A failing scraper never affects the others.
// Cache entries are keyed by the draft's identity before any scraper ran,
// so a source that fills the DOI does not move later entries to a new key.
func (o *Orchestrator) Scrape(ctx context.Context, draft *types.PaperDraft, force bool) Report {
	report := Report{DraftID: draft.Identity(), Outcomes: make([]Outcome, len(o.Scrapers))}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, s := range o.Scrapers {
		i, s := i, s
		wg.Add(1)
		go func() {
			defer wg.Done()
			report.Outcomes[i] = o.run(ctx, s, draft, report.DraftID, &mu, force)
		}()
	}
	wg.Wait()
	return report
}

func (o *Orchestrator) run(ctx context.Context, s Scraper, draft *types.PaperDraft, paperID string, mu *sync.Mutex, force bool) (out Outcome) {
	out = Outcome{Source: s.Name(), State: StateIdle}
	defer func() {
		if r := recover(); r != nil {
			out.State = StateFailed
			out.Err = fmt.Errorf("%s: panic: %v", out.Source, r)
			slog.Error("scraper panicked", "source", out.Source, "panic", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return fail(out, err)
	}

	mu.Lock()
	snapshot := draft.Clone()
	mu.Unlock()

	var pending []cacheWrite
	keyed := Request{PaperID: paperID, pending: &pending}

	if ov, ok := s.(Overrider); ok {
		src, err := ov.ScrapeImpl(ctx, snapshot, force, o.Net)
		if err != nil {
			return fail(out, err)
		}
		if src != nil {
			out.State = StateFetched
			return o.merge(out, func() error {
				if m, ok := s.(merger); ok {
					return m.apply(draft, *src, keyed)
				}
				return draft.Merge(*src, false)
			}, draft, mu, &pending)
		}
	}

	req := s.PreProcess(snapshot)
	if req.Err != nil {
		return fail(out, req.Err)
	}
	// Force opens the gate only for requests that have somewhere to go.
	if !req.Enabled && (!force || req.URL == "") {
		out.State = StateSkipped
		return out
	}
	if req.URL == "" {
		return fail(out, fmt.Errorf("%s: %w", out.Source, ErrNoURL))
	}
	req.PaperID, req.pending = keyed.PaperID, keyed.pending

	opts := o.fetchOptions(s)
	resp, err := o.Net.Get(ctx, req.URL, req.Headers, opts.RetryCount, opts.UseCache, opts.Timeout)
	if err != nil {
		return fail(out, &TransportError{Source: out.Source, URL: req.URL, Status: errorStatus(err), Err: err})
	}
	out.State = StateFetched

	return o.merge(out, func() error {
		_, err := s.Parse(resp.Body, draft, req)
		return err
	}, draft, mu, &pending)
}

// merge runs apply with the draft locked and records which fields changed.
// Cache writes queued in *pending during apply are flushed after the draft
// is released.
func (o *Orchestrator) merge(out Outcome, apply func() error, draft *types.PaperDraft, mu *sync.Mutex, pending *[]cacheWrite) Outcome {
	before, after, err := lockedApply(mu, draft, apply)
	for _, w := range *pending {
		w.flush()
	}
	if err != nil {
		return fail(out, err)
	}
	out.Changed = ChangedFields(&before, &after)
	if len(out.Changed) > 0 {
		out.State = StateMerged
	} else {
		out.State = StateParsed
	}
	return out
}

// lockedApply holds mu for the duration of apply, including when it panics.
func lockedApply(mu *sync.Mutex, draft *types.PaperDraft, apply func() error) (before, after types.PaperDraft, err error) {
	mu.Lock()
	defer mu.Unlock()
	before = *draft
	err = apply()
	after = *draft
	return before, after, err
}

func (o *Orchestrator) fetchOptions(s Scraper) FetchOptions {
	if fo, ok := s.(FetchOptioner); ok {
		return fo.FetchOptions()
	}
	return FetchOptions{RetryCount: o.Cfg.RetryCount, Timeout: o.Cfg.Timeout}
}

func fail(out Outcome, err error) Outcome {
	out.State = StateFailed
	out.Err = err
	return out
}

// ChangedFields lists the fields whose values differ between two drafts.
func ChangedFields(before, after *types.PaperDraft) []types.Field {
	var changed []types.Field
	for _, f := range types.Fields {
		if before.Get(f) != after.Get(f) {
			changed = append(changed, f)
		}
	}
	return changed
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Reports   []Report
	Enriched  int
	Unchanged int
	Failed    int
}

// Total returns the number of drafts processed.
func (r BatchResult) Total() int {
	return r.Enriched + r.Unchanged + r.Failed
}

// ScrapeBatch processes drafts one after another, printing a status line
// per draft to w. It continues after individual failures and waits
// Cfg.DraftDelay between consecutive drafts. A draft counts as failed
// only when a scraper failed and none filled a field.
func (o *Orchestrator) ScrapeBatch(ctx context.Context, drafts []*types.PaperDraft, force bool, w io.Writer) BatchResult {
	var result BatchResult
	for i, d := range drafts {
		if i > 0 && o.Cfg.DraftDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(o.Cfg.DraftDelay):
			}
		}

		report := o.Scrape(ctx, d, force)
		result.Reports = append(result.Reports, report)

		label := d.Title
		if label == "" {
			label = report.DraftID
		}
		errs := report.Errors()
		switch {
		case report.Changed():
			result.Enriched++
			fmt.Fprintf(w, "enriched:  %s (%s)\n", label, changedSummary(report))
		case len(errs) > 0:
			result.Failed++
			fmt.Fprintf(w, "failed:    %s (%v)\n", label, errs[0])
		default:
			result.Unchanged++
			fmt.Fprintf(w, "unchanged: %s\n", label)
		}
		for _, err := range errs {
			slog.Warn("scraper failed", "draft", report.DraftID, "err", err)
		}
	}
	fmt.Fprintf(w, "\nBatch summary: %d enriched, %d unchanged, %d failed (total: %d)\n",
		result.Enriched, result.Unchanged, result.Failed, result.Total())
	return result
}

func changedSummary(r Report) string {
	var parts []string
	for _, o := range r.Outcomes {
		if len(o.Changed) == 0 {
			continue
		}
		names := make([]string, len(o.Changed))
		for i, f := range o.Changed {
			names[i] = string(f)
		}
		parts = append(parts, o.Source+": "+strings.Join(names, ", "))
	}
	return strings.Join(parts, "; ")
}
