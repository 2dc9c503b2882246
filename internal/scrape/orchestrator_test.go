// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/metascrape/internal/httputil"
	"github.com/pdiddy/metascrape/pkg/types"
)

// stubScraper requests a fixed URL and applies parse to the body.
type stubScraper struct {
	name  string
	req   Request
	parse func(body []byte, d *types.PaperDraft) error
}

func (s *stubScraper) Name() string { return s.name }

func (s *stubScraper) PreProcess(*types.PaperDraft) Request { return s.req }

func (s *stubScraper) Parse(body []byte, d *types.PaperDraft, _ Request) (*types.PaperDraft, error) {
	if s.parse == nil {
		return d, nil
	}
	return d, s.parse(body, d)
}

func setField(f types.Field, v string) func([]byte, *types.PaperDraft) error {
	return func(_ []byte, d *types.PaperDraft) error {
		d.SetValue(f, v, false)
		return nil
	}
}

func enabledReq(url string) Request {
	return Request{URL: url, Enabled: true}
}

func outcomeFor(t *testing.T, r Report, source string) Outcome {
	t.Helper()
	for _, o := range r.Outcomes {
		if o.Source == source {
			return o
		}
	}
	t.Fatalf("no outcome for %s in %+v", source, r.Outcomes)
	return Outcome{}
}

// withSourceServer points both built-in sources at one httptest server.
func withSourceServer(t *testing.T, handler http.HandlerFunc) *httputil.Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	origCrossRef, origOpenAlex := crossrefAPIBase, openAlexAPIBase
	crossrefAPIBase = ts.URL + "/crossref"
	openAlexAPIBase = ts.URL + "/openalex"
	t.Cleanup(func() {
		crossrefAPIBase = origCrossRef
		openAlexAPIBase = origOpenAlex
	})

	client, err := httputil.NewClient(types.HTTPConfig{}, httputil.WithHTTPClient(ts.Client()))
	require.NoError(t, err)
	return client
}

func TestOrchestratorBuiltInSources(t *testing.T) {
	var crossrefHits, openalexHits atomic.Int32
	client := withSourceServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/crossref/works"):
			crossrefHits.Add(1)
			fmt.Fprint(w, sampleCrossRefSearch)
		case strings.HasPrefix(r.URL.Path, "/openalex/works"):
			openalexHits.Add(1)
			fmt.Fprint(w, sampleOpenAlexSearch)
		default:
			http.NotFound(w, r)
		}
	})

	cache := &recordingCache{}
	base := Base{Prefs: enabledPrefs(CrossRefName, OpenAlexName), Cache: cache}
	cfg := types.ScrapeConfig{}.WithDefaults()
	o := New(client, cfg, NewCrossRef(base, cfg), NewOpenAlex(base, cfg))

	draft := &types.PaperDraft{Title: "Attention Is All You Need", Publisher: "X"}
	report := o.Scrape(context.Background(), draft, false)

	assert.Empty(t, report.Errors())
	assert.EqualValues(t, 1, crossrefHits.Load())
	assert.EqualValues(t, 1, openalexHits.Load())
	assert.Contains(t, []State{StateMerged, StateParsed}, outcomeFor(t, report, CrossRefName).State)
	assert.Equal(t, "X", draft.Publisher, "publisher set before the run is kept")
	assert.Equal(t, "2017", draft.PubTime)
	assert.NotEmpty(t, draft.DOI)
	assert.ElementsMatch(t, []string{CrossRefName, OpenAlexName}, cache.Sources())
	assert.True(t, report.Changed())
}

func TestOrchestratorSkipsDisabled(t *testing.T) {
	var hits atomic.Int32
	client := withSourceServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, sampleCrossRefSearch)
	})

	prefs := testPrefs{CrossRefName: {Name: CrossRefName, Enabled: false}}
	cfg := types.ScrapeConfig{}.WithDefaults()
	o := New(client, cfg, NewCrossRef(Base{Prefs: prefs}, cfg))

	draft := &types.PaperDraft{Title: "Attention Is All You Need"}
	report := o.Scrape(context.Background(), draft, false)

	assert.Equal(t, StateSkipped, outcomeFor(t, report, CrossRefName).State)
	assert.Zero(t, hits.Load())
	assert.Equal(t, types.PaperDraft{Title: "Attention Is All You Need"}, *draft)
}

func TestOrchestratorForceBypassesGate(t *testing.T) {
	client := withSourceServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleCrossRefSearch)
	})

	prefs := testPrefs{CrossRefName: {Name: CrossRefName, Enabled: false}}
	cfg := types.ScrapeConfig{}.WithDefaults()
	o := New(client, cfg, NewCrossRef(Base{Prefs: prefs}, cfg))

	// Published venue fails the preprint check as well as the preference.
	draft := &types.PaperDraft{Title: "Attention Is All You Need", Publication: "NeurIPS"}
	report := o.Scrape(context.Background(), draft, true)

	out := outcomeFor(t, report, CrossRefName)
	assert.Equal(t, StateMerged, out.State)
	assert.Equal(t, "NeurIPS", draft.Publication, "force never overwrites")
	assert.Equal(t, "10.5555/first", draft.DOI)
}

func TestOrchestratorTransportError(t *testing.T) {
	client := withSourceServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	cfg := types.ScrapeConfig{}.WithDefaults()
	o := New(client, cfg, NewCrossRef(Base{Prefs: enabledPrefs(CrossRefName)}, cfg))

	draft := &types.PaperDraft{Title: "Attention Is All You Need"}
	report := o.Scrape(context.Background(), draft, false)

	out := outcomeFor(t, report, CrossRefName)
	require.Equal(t, StateFailed, out.State)
	var te *TransportError
	require.ErrorAs(t, out.Err, &te)
	assert.Equal(t, http.StatusInternalServerError, te.Status)
	assert.Equal(t, CrossRefName, te.Source)
	assert.Equal(t, types.PaperDraft{Title: "Attention Is All You Need"}, *draft)
}

func TestOrchestratorIsolatesFailures(t *testing.T) {
	net := &fakeGetter{fn: okBody(`{}`)}
	scrapers := []Scraper{
		&stubScraper{name: "parse-fails", req: enabledReq("https://a.example"), parse: func([]byte, *types.PaperDraft) error {
			return &ParseError{Source: "parse-fails", Err: errors.New("bad shape")}
		}},
		&stubScraper{name: "panics", req: enabledReq("https://b.example"), parse: func([]byte, *types.PaperDraft) error {
			panic("nil map")
		}},
		&stubScraper{name: "no-url", req: Request{Enabled: true}},
		&stubScraper{name: "script", req: Request{Err: &CustomScriptError{Source: "script", Stage: "pre-process", Err: errors.New("syntax")}}},
		&stubScraper{name: "works", req: enabledReq("https://c.example"), parse: setField(types.FieldVolume, "12")},
	}
	o := New(net, types.ScrapeConfig{}, scrapers...)

	draft := &types.PaperDraft{Title: "T"}
	report := o.Scrape(context.Background(), draft, false)

	assert.Equal(t, StateFailed, outcomeFor(t, report, "parse-fails").State)
	assert.True(t, IsParse(outcomeFor(t, report, "parse-fails").Err))
	assert.Equal(t, StateFailed, outcomeFor(t, report, "panics").State)
	assert.ErrorIs(t, outcomeFor(t, report, "no-url").Err, ErrNoURL)
	assert.True(t, IsCustomScript(outcomeFor(t, report, "script").Err))

	works := outcomeFor(t, report, "works")
	assert.Equal(t, StateMerged, works.State)
	assert.Equal(t, []types.Field{types.FieldVolume}, works.Changed)
	assert.Equal(t, "12", draft.Volume)
	assert.Len(t, report.Errors(), 4)
	assert.Equal(t, 4, report.Count(StateFailed))
}

func TestOrchestratorConcurrentMerges(t *testing.T) {
	net := &fakeGetter{fn: okBody(`{}`)}
	fields := []types.Field{
		types.FieldDOI, types.FieldPublisher, types.FieldPages, types.FieldPublication,
		types.FieldPubTime, types.FieldAuthors, types.FieldNumber, types.FieldVolume,
	}
	var scrapers []Scraper
	for i, f := range fields {
		scrapers = append(scrapers, &stubScraper{
			name:  fmt.Sprintf("s%d", i),
			req:   enabledReq(fmt.Sprintf("https://example.org/%d", i)),
			parse: setField(f, fmt.Sprintf("v%d", i)),
		})
	}
	// A second writer for the same field only fills it when it is still empty.
	scrapers = append(scrapers, &stubScraper{name: "dup", req: enabledReq("https://example.org/dup"), parse: setField(types.FieldDOI, "other")})

	o := New(net, types.ScrapeConfig{}, scrapers...)
	draft := &types.PaperDraft{Title: "T"}
	report := o.Scrape(context.Background(), draft, false)

	assert.Empty(t, report.Errors())
	assert.Len(t, net.Calls(), len(scrapers))
	for i, f := range fields[1:] {
		assert.Equal(t, fmt.Sprintf("v%d", i+1), draft.Get(f))
	}
	assert.Contains(t, []string{"v0", "other"}, draft.DOI)
	assert.Equal(t, len(fields)+1, report.Count(StateMerged)+report.Count(StateParsed))
}

func TestOrchestratorOverride(t *testing.T) {
	net := &fakeGetter{fn: okBody(`{"venue": "Journal of Examples", "pages": "1-10"}`)}
	cache := &recordingCache{}
	custom := newTestCustom(types.ScraperConfig{
		Name:           "example",
		Enabled:        true,
		PreProcessCode: examplePreProcess,
		ScrapeImplCode: exampleImpl,
	}, cache, nil)

	o := New(net, types.ScrapeConfig{}, custom)
	draft := &types.PaperDraft{DOI: "10.1/x", Pages: "3"}
	report := o.Scrape(context.Background(), draft, false)

	out := outcomeFor(t, report, "example")
	assert.NoError(t, out.Err)
	assert.Equal(t, StateMerged, out.State)
	assert.Equal(t, []types.Field{types.FieldPublication}, out.Changed)
	assert.Equal(t, "Journal of Examples", draft.Publication)
	assert.Equal(t, "3", draft.Pages)
	assert.Equal(t, []string{"https://example.org/w/10.1%2Fx"}, net.Calls(), "override replaces the regular fetch")
	assert.Equal(t, []string{"example"}, cache.Sources())
}

func TestOrchestratorCachesUnderPreScrapeIdentity(t *testing.T) {
	client := withSourceServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleCrossRefSearch)
	})

	cache := &recordingCache{}
	cfg := types.ScrapeConfig{}.WithDefaults()
	o := New(client, cfg, NewCrossRef(Base{Prefs: enabledPrefs(CrossRefName), Cache: cache}, cfg))

	draft := &types.PaperDraft{Title: "Attention Is All You Need"}
	id := draft.Identity()
	report := o.Scrape(context.Background(), draft, false)

	require.Equal(t, StateMerged, outcomeFor(t, report, CrossRefName).State)
	assert.Equal(t, "10.5555/first", draft.DOI)
	assert.Equal(t, id, report.DraftID)
	assert.True(t, strings.HasPrefix(id, "title:"), id)
	assert.Equal(t, []string{CrossRefName + "@" + id}, cache.Keys())
}

func TestOrchestratorForceSkipsCustomWithoutPreProcess(t *testing.T) {
	net := &fakeGetter{fn: okBody(exampleRecord)}
	parseOnly := newTestCustom(types.ScraperConfig{Name: "example", Enabled: true, ParsingProcessCode: exampleParse}, nil, nil)
	o := New(net, types.ScrapeConfig{}, parseOnly)

	draft := &types.PaperDraft{Title: "T"}
	report := o.Scrape(context.Background(), draft, true)

	out := outcomeFor(t, report, "example")
	assert.Equal(t, StateSkipped, out.State)
	assert.NoError(t, out.Err)
	assert.Empty(t, net.Calls())

	var buf bytes.Buffer
	result := o.ScrapeBatch(context.Background(), []*types.PaperDraft{{Title: "T"}}, true, &buf)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1, result.Unchanged)
}

func TestOrchestratorForcedEnabledRequestWithoutURLFails(t *testing.T) {
	net := &fakeGetter{fn: okBody(`{}`)}
	o := New(net, types.ScrapeConfig{}, &stubScraper{name: "s", req: Request{Enabled: true}})

	report := o.Scrape(context.Background(), &types.PaperDraft{Title: "T"}, true)
	assert.ErrorIs(t, outcomeFor(t, report, "s").Err, ErrNoURL)
}

func TestOrchestratorCacheWriteOutsideDraftLock(t *testing.T) {
	putStarted := make(chan struct{})
	merged := make(chan struct{})
	var sawMerge atomic.Bool
	cache := &recordingCache{onPut: func() {
		close(putStarted)
		select {
		case <-merged:
			sawMerge.Store(true)
		case <-time.After(2 * time.Second):
		}
	}}

	// The second source's fetch completes only once the first source is
	// writing its cache entry, so its merge can finish only if the draft is
	// not locked during that write.
	net := &fakeGetter{fn: func(url string, _ map[string]string) (*httputil.Response, error) {
		if strings.HasSuffix(url, "/late") {
			select {
			case <-putStarted:
			case <-time.After(2 * time.Second):
			}
		}
		return &httputil.Response{URL: url, Status: 200, Body: []byte(exampleRecord)}, nil
	}}
	custom := newTestCustom(types.ScraperConfig{
		Name:               "example",
		Enabled:            true,
		PreProcessCode:     examplePreProcess,
		ParsingProcessCode: exampleParse,
	}, cache, nil)
	late := &stubScraper{name: "late", req: enabledReq("https://example.org/late"), parse: func(_ []byte, d *types.PaperDraft) error {
		close(merged)
		d.SetValue(types.FieldVolume, "7", false)
		return nil
	}}

	o := New(net, types.ScrapeConfig{}, custom, late)
	draft := &types.PaperDraft{Title: "Notes on the Analytical Engine"}
	report := o.Scrape(context.Background(), draft, false)

	assert.Empty(t, report.Errors())
	assert.True(t, sawMerge.Load(), "second merge waited on the cache write")
	assert.Equal(t, []string{"example"}, cache.Sources())
	assert.Equal(t, "7", draft.Volume)
	assert.Equal(t, "Ada Lovelace, Charles Babbage", draft.Authors)
}

func TestOrchestratorCanceledContext(t *testing.T) {
	net := &fakeGetter{fn: okBody(`{}`)}
	o := New(net, types.ScrapeConfig{}, &stubScraper{name: "s", req: enabledReq("https://example.org")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := o.Scrape(ctx, &types.PaperDraft{Title: "T"}, false)

	assert.ErrorIs(t, outcomeFor(t, report, "s").Err, context.Canceled)
	assert.Empty(t, net.Calls())
}

func TestScrapeBatch(t *testing.T) {
	net := &fakeGetter{fn: func(url string, _ map[string]string) (*httputil.Response, error) {
		if strings.Contains(url, "fail") {
			return nil, errors.New("connection reset")
		}
		return &httputil.Response{URL: url, Status: 200}, nil
	}}

	filler := &stubScraper{name: "filler", req: enabledReq("https://example.org/ok"), parse: setField(types.FieldVolume, "1")}
	o := New(net, types.ScrapeConfig{}, filler)

	drafts := []*types.PaperDraft{{Title: "Empty"}, {Title: "Full", Volume: "9"}}
	var buf bytes.Buffer
	result := o.ScrapeBatch(context.Background(), drafts, false, &buf)

	assert.Equal(t, 1, result.Enriched)
	assert.Equal(t, 1, result.Unchanged)
	assert.Equal(t, 2, result.Total())
	assert.Contains(t, buf.String(), "enriched:  Empty (filler: volume)")
	assert.Contains(t, buf.String(), "unchanged: Full")
	assert.Contains(t, buf.String(), "Batch summary: 1 enriched, 1 unchanged, 0 failed (total: 2)")

	failing := New(net, types.ScrapeConfig{}, &stubScraper{name: "down", req: enabledReq("https://example.org/fail")})
	buf.Reset()
	result = failing.ScrapeBatch(context.Background(), []*types.PaperDraft{{Title: "X"}}, false, &buf)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, buf.String(), "failed:    X")
}

func TestChangedFields(t *testing.T) {
	before := &types.PaperDraft{Title: "T"}
	after := &types.PaperDraft{Title: "T", Type: types.TypeBook, Volume: "2"}
	assert.Equal(t, []types.Field{types.FieldType, types.FieldVolume}, ChangedFields(before, after))
	assert.Nil(t, ChangedFields(before, before))
}
