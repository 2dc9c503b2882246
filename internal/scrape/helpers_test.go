// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scrape

import (
	"context"
	"sync"
	"time"

	"github.com/pdiddy/metascrape/internal/httputil"
	"github.com/pdiddy/metascrape/pkg/types"
)

type testPrefs map[string]types.ScraperConfig

func (p testPrefs) Scraper(name string) (types.ScraperConfig, bool) {
	c, ok := p[name]
	return c, ok
}

func enabledPrefs(names ...string) testPrefs {
	p := testPrefs{}
	for _, n := range names {
		p[n] = types.ScraperConfig{Name: n, Enabled: true}
	}
	return p
}

type recordingCache struct {
	mu      sync.Mutex
	sources []string
	keys    []string
	drafts  []types.PaperDraft

	// onPut, when set, runs before the write is recorded.
	onPut func()
}

func (c *recordingCache) Put(paperID string, d *types.PaperDraft, source string) {
	if c.onPut != nil {
		c.onPut()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, source)
	c.keys = append(c.keys, source+"@"+paperID)
	c.drafts = append(c.drafts, *d)
}

func (c *recordingCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.keys...)
}

func (c *recordingCache) Sources() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sources...)
}

type recordingLog struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLog) Progress(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

// fakeGetter answers requests from a function and records every URL asked for.
type fakeGetter struct {
	mu    sync.Mutex
	calls []string
	fn    func(url string, headers map[string]string) (*httputil.Response, error)
}

func (g *fakeGetter) Get(_ context.Context, url string, headers map[string]string, _ int, _ bool, _ time.Duration) (*httputil.Response, error) {
	g.mu.Lock()
	g.calls = append(g.calls, url)
	g.mu.Unlock()
	return g.fn(url, headers)
}

func (g *fakeGetter) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func okBody(body string) func(string, map[string]string) (*httputil.Response, error) {
	return func(url string, _ map[string]string) (*httputil.Response, error) {
		return &httputil.Response{URL: url, Status: 200, Body: []byte(body)}, nil
	}
}
