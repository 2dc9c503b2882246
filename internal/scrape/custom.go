// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scrape

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/pdiddy/metascrape/internal/httputil"
	"github.com/pdiddy/metascrape/internal/script"
	"github.com/pdiddy/metascrape/pkg/types"
)

// CustomScraper runs a user-defined source whose request building, parsing
// and optional full override are fragments stored in its preference record.
// The record is read fresh on every call, so edits apply to the next run.
type CustomScraper struct {
	Base
	name string

	// RetryCount is passed to the network client for override fetches.
	RetryCount int
}

// NewCustom builds the custom scraper registered under name.
func NewCustom(base Base, name string, cfg types.ScrapeConfig) *CustomScraper {
	return &CustomScraper{Base: base, name: name, RetryCount: cfg.RetryCount}
}

// Name returns the user-chosen source name.
func (s *CustomScraper) Name() string { return s.name }

// PreProcess evaluates the pre-process fragment. A missing fragment leaves
// the scraper disabled; a broken one yields a disabled request whose Err
// carries the *CustomScriptError.
func (s *CustomScraper) PreProcess(draft *types.PaperDraft) Request {
	cfg, err := s.config(s.name)
	if err != nil || cfg.PreProcessCode == "" {
		return Request{}
	}

	spec, err := script.PreProcess(cfg.PreProcessCode, s.name, draftEnv(draft), cfg.Enabled)
	if err != nil {
		return Request{Err: s.scriptError(script.StagePreProcess, err)}
	}

	req := Request{URL: spec.URL, Headers: spec.Headers, Enabled: spec.Enable}
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	if req.Enabled {
		s.progress(fmt.Sprintf("Scraping metadata by %s ...", s.name))
	}
	return req
}

// Parse evaluates the parsing fragment and merges the fields it returns.
// Without a parsing fragment the response is ignored.
func (s *CustomScraper) Parse(body []byte, draft *types.PaperDraft, req Request) (*types.PaperDraft, error) {
	cfg, err := s.config(s.name)
	if err != nil || cfg.ParsingProcessCode == "" {
		return draft, nil
	}

	fields, err := script.Parse(cfg.ParsingProcessCode, s.name, draftEnv(draft), 200, body)
	if err != nil {
		return draft, s.scriptError(script.StageParse, err)
	}
	src, err := draftFromFields(fields)
	if err != nil {
		return draft, s.scriptError(script.StageParse, err)
	}
	if err := s.apply(draft, src, req); err != nil {
		return draft, err
	}
	return draft, nil
}

// ScrapeImpl runs the full-override fragment when one is configured and
// the source is enabled or forced. The fragment's only network access is
// its fetch function, which goes through net.
func (s *CustomScraper) ScrapeImpl(ctx context.Context, snapshot *types.PaperDraft, force bool, net httputil.Getter) (*types.PaperDraft, error) {
	cfg, err := s.config(s.name)
	if err != nil || cfg.ScrapeImplCode == "" {
		return nil, nil
	}
	if !cfg.Enabled && !force {
		return nil, nil
	}

	fetch := func(ctx context.Context, rawURL string, headers map[string]string) (int, []byte, error) {
		resp, err := net.Get(ctx, rawURL, headers, s.RetryCount, false, 0)
		var se *httputil.StatusError
		if errors.As(err, &se) && resp != nil {
			return resp.Status, resp.Body, nil
		}
		if err != nil {
			return 0, nil, &TransportError{Source: s.name, URL: rawURL, Err: err}
		}
		return resp.Status, resp.Body, nil
	}

	s.progress(fmt.Sprintf("Scraping metadata by %s ...", s.name))
	fields, err := script.ScrapeImpl(ctx, cfg.ScrapeImplCode, s.name, draftEnv(snapshot), fetch)
	if err != nil {
		return nil, s.scriptError(script.StageScrapeImpl, err)
	}
	src, err := draftFromFields(fields)
	if err != nil {
		return nil, s.scriptError(script.StageScrapeImpl, err)
	}
	return &src, nil
}

// apply merges src into draft without overwriting and records the outcome
// in the cache under req.PaperID.
func (s *CustomScraper) apply(draft *types.PaperDraft, src types.PaperDraft, req Request) error {
	if src == (types.PaperDraft{}) {
		return nil
	}
	if err := draft.Merge(src, false); err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	s.uploadCache(draft, s.name, req)
	return nil
}

func (s *CustomScraper) scriptError(stage script.Stage, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	return &CustomScriptError{Source: s.name, Stage: string(stage), Err: err}
}

// draftEnv exposes the draft to fragments under its YAML field names.
func draftEnv(draft *types.PaperDraft) map[string]any {
	env := make(map[string]any, len(types.Fields)+1)
	env["id"] = draft.ID
	for _, f := range types.Fields {
		env[string(f)] = draft.Get(f)
	}
	return env
}

// draftFromFields converts a fragment's field map into a draft. Lists are
// joined with ", " (author lists); an unknown field name is an error so
// typos surface instead of silently dropping data.
func draftFromFields(fields map[string]any) (types.PaperDraft, error) {
	var out types.PaperDraft

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field, ok := types.ParseField(name)
		if !ok {
			return types.PaperDraft{}, fmt.Errorf("unknown field %q", name)
		}
		value, err := fieldString(fields[name])
		if err != nil {
			return types.PaperDraft{}, fmt.Errorf("field %q: %w", name, err)
		}
		out.SetValue(field, value, true)
	}
	return out, nil
}

func fieldString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case []any, []string:
		items, err := cast.ToStringSliceE(x)
		if err != nil {
			return "", err
		}
		kept := items[:0]
		for _, it := range items {
			if it = strings.TrimSpace(it); it != "" {
				kept = append(kept, it)
			}
		}
		return strings.Join(kept, ", "), nil
	case float64:
		// JSON numbers decode as float64; years and volumes are integers.
		if x == float64(int64(x)) {
			return cast.ToStringE(int64(x))
		}
	}
	return cast.ToStringE(v)
}
