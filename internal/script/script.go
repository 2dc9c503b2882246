// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package script evaluates user-authored scraper fragments.
//
// A fragment is a single expression in the expr language. It sees only the
// variables and helper functions its stage puts in scope, has no loops or
// assignments, and cannot reach the host process; the only network access
// is the fetch function handed to full-override fragments. Each stage
// expects a map literal back, for example:
//
//	{url: "https://example.org/api?q=" + queryEscape(draft.title), headers: {"Accept": "application/json"}}
//
// Parse and full-override fragments that receive HTML instead of JSON can
// pull values out with htmlText, htmlAll, htmlAttr and htmlMeta, which take
// the raw body and a CSS selector or meta tag name.
//
// Fragments are compiled before they run, so a syntax error is reported
// before any request is made.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/go-viper/mapstructure/v2"

	"github.com/pdiddy/metascrape/internal/match"
	"github.com/pdiddy/metascrape/pkg/types"
)

// Stage names the fragment slot being evaluated.
type Stage string

const (
	StagePreProcess Stage = "pre-process"
	StageParse      Stage = "parse"
	StageScrapeImpl Stage = "scrape-impl"
)

// Error wraps a compile or runtime failure of a fragment.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s fragment: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RequestSpec is the typed result of a pre-process fragment.
type RequestSpec struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Enable  bool              `mapstructure:"enable"`

	// ScrapeURL is accepted as a synonym for URL.
	ScrapeURL string `mapstructure:"scrapeURL"`
}

// Fetcher performs the GET behind a full-override fragment's fetch call.
type Fetcher func(ctx context.Context, url string, headers map[string]string) (status int, body []byte, err error)

// Helpers is the function surface every stage can call.
type Helpers struct {
	Similarity  func(a, b string) float64 `expr:"similarity"`
	Normalize   func(s string) string     `expr:"normalize"`
	Classify    func(s string) string     `expr:"classify"`
	QueryEscape func(s string) string     `expr:"queryEscape"`
	PathEscape  func(s string) string     `expr:"pathEscape"`
	FormatTitle func(s string) string     `expr:"formatTitle"`

	HTMLText func(body, selector string) string       `expr:"htmlText"`
	HTMLAll  func(body, selector string) []any        `expr:"htmlAll"`
	HTMLAttr func(body, selector, attr string) string `expr:"htmlAttr"`
	HTMLMeta func(body, name string) []any            `expr:"htmlMeta"`
}

func newHelpers() Helpers {
	return Helpers{
		Similarity: func(a, b string) float64 {
			return match.Similarity(match.Normalize(a), match.Normalize(b))
		},
		Normalize:   match.Normalize,
		Classify:    func(s string) string { return string(types.ClassifyType(s)) },
		QueryEscape: url.QueryEscape,
		PathEscape:  url.PathEscape,
		FormatTitle: cleanText,
		HTMLText:    htmlText,
		HTMLAll:     htmlAll,
		HTMLAttr:    htmlAttr,
		HTMLMeta:    htmlMeta,
	}
}

type preProcessEnv struct {
	Helpers
	Draft   map[string]any `expr:"draft"`
	Name    string         `expr:"name"`
	Enabled bool           `expr:"enabled"`
}

type parseEnv struct {
	Helpers
	Draft    map[string]any `expr:"draft"`
	Name     string         `expr:"name"`
	Status   int            `expr:"status"`
	Body     string         `expr:"body"`
	Response any            `expr:"response"`
}

type scrapeImplEnv struct {
	Helpers
	Draft     map[string]any                                             `expr:"draft"`
	Name      string                                                     `expr:"name"`
	Fetch     func(url string) (map[string]any, error)                   `expr:"fetch"`
	FetchWith func(url string, h map[string]any) (map[string]any, error) `expr:"fetchWith"`
}

// programs caches compiled fragments by stage and source text.
var programs sync.Map

func compile(stage Stage, code string) (*vm.Program, error) {
	key := string(stage) + "\x00" + code
	if p, ok := programs.Load(key); ok {
		return p.(*vm.Program), nil
	}

	var env any
	switch stage {
	case StagePreProcess:
		env = preProcessEnv{}
	case StageParse:
		env = parseEnv{}
	case StageScrapeImpl:
		env = scrapeImplEnv{}
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}

	program, err := expr.Compile(code, expr.Env(env))
	if err != nil {
		return nil, &Error{Stage: stage, Err: err}
	}
	programs.Store(key, program)
	return program, nil
}

// Check compiles a fragment against its stage's scope without running it.
func Check(stage Stage, code string) error {
	_, err := compile(stage, code)
	return err
}

func run(stage Stage, code string, env any) (any, error) {
	program, err := compile(stage, code)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, &Error{Stage: stage, Err: err}
	}
	return out, nil
}

// PreProcess evaluates a pre-process fragment. draft is the field map of
// the draft and enabled is the user's enable preference, which is also the
// default for the result's enable key.
func PreProcess(code, name string, draft map[string]any, enabled bool) (RequestSpec, error) {
	out, err := run(StagePreProcess, code, preProcessEnv{
		Helpers: newHelpers(),
		Draft:   draft,
		Name:    name,
		Enabled: enabled,
	})
	if err != nil {
		return RequestSpec{}, err
	}

	spec := RequestSpec{Enable: enabled}
	if err := decodeRequest(out, &spec); err != nil {
		return RequestSpec{}, &Error{Stage: StagePreProcess, Err: err}
	}
	if spec.URL == "" {
		spec.URL = spec.ScrapeURL
	}
	return spec, nil
}

// Parse evaluates a parse fragment against a response and returns the
// field map it produced.
func Parse(code, name string, draft map[string]any, status int, body []byte) (map[string]any, error) {
	out, err := run(StageParse, code, parseEnv{
		Helpers:  newHelpers(),
		Draft:    draft,
		Name:     name,
		Status:   status,
		Body:     string(body),
		Response: decodeJSON(body),
	})
	if err != nil {
		return nil, err
	}
	return fieldMap(StageParse, out)
}

// ScrapeImpl evaluates a full-override fragment. The fragment receives the
// draft and two functions, fetch(url) and fetchWith(url, headers), each
// returning {status, body, response}.
func ScrapeImpl(ctx context.Context, code, name string, draft map[string]any, fetch Fetcher) (map[string]any, error) {
	do := func(rawURL string, headers map[string]string) (map[string]any, error) {
		status, body, err := fetch(ctx, rawURL, headers)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"status":   status,
			"body":     string(body),
			"response": decodeJSON(body),
		}, nil
	}

	out, err := run(StageScrapeImpl, code, scrapeImplEnv{
		Helpers: newHelpers(),
		Draft:   draft,
		Name:    name,
		Fetch: func(rawURL string) (map[string]any, error) {
			return do(rawURL, nil)
		},
		FetchWith: func(rawURL string, h map[string]any) (map[string]any, error) {
			headers := make(map[string]string, len(h))
			for k, v := range h {
				headers[k] = fmt.Sprint(v)
			}
			return do(rawURL, headers)
		},
	})
	if err != nil {
		return nil, err
	}
	return fieldMap(StageScrapeImpl, out)
}

func fieldMap(stage Stage, out any) (map[string]any, error) {
	if out == nil {
		return map[string]any{}, nil
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, &Error{Stage: stage, Err: fmt.Errorf("expected a map of fields, got %T", out)}
	}
	return m, nil
}

func decodeRequest(out any, spec *RequestSpec) error {
	if _, ok := out.(map[string]any); !ok {
		return fmt.Errorf("expected a map with url, headers and enable, got %T", out)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           spec,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(out)
}

// decodeJSON returns the decoded body, or nil when it is not JSON.
func decodeJSON(body []byte) any {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil
	}
	return v
}
