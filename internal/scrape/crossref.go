// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scrape

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/metascrape/internal/match"
	"github.com/pdiddy/metascrape/pkg/types"
)

// CrossRefName is the preference key and cache source name for CrossRef.
const CrossRefName = "crossref"

// crossrefAPIBase is the CrossRef REST endpoint. Declared as a var so tests
// can substitute an httptest server.
var crossrefAPIBase = "https://api.crossref.org"

// crossrefRows is the number of search hits requested per title query.
const crossrefRows = 2

// CrossRefScraper looks up preprint drafts on CrossRef, by DOI when one is
// present and by bibliographic title search otherwise.
type CrossRefScraper struct {
	Base
	Resolver match.Resolver
	// Mailto is sent with search queries for polite pool access.
	Mailto string
}

// NewCrossRef builds the CrossRef scraper for a run.
func NewCrossRef(base Base, cfg types.ScrapeConfig) *CrossRefScraper {
	return &CrossRefScraper{
		Base:     base,
		Resolver: match.NewResolver(cfg),
		Mailto:   cfg.Mailto,
	}
}

// Name returns the source identifier.
func (s *CrossRefScraper) Name() string { return CrossRefName }

// FetchOptions pins a single retry, no response cache and a 10 s timeout.
func (s *CrossRefScraper) FetchOptions() FetchOptions {
	return FetchOptions{RetryCount: 1, UseCache: false, Timeout: 10 * time.Second}
}

// PreProcess builds a DOI lookup or a title search. It is enabled only for
// drafts that look like preprints.
func (s *CrossRefScraper) PreProcess(draft *types.PaperDraft) Request {
	enabled := s.enabled(CrossRefName) && hasTitleOrDOI(draft) && IsPreprint(draft)

	req := Request{Headers: map[string]string{}, Enabled: enabled}
	if doi := strings.TrimSpace(draft.DOI); doi != "" {
		req.URL = crossrefAPIBase + "/works/" + url.PathEscape(doi)
		req.DirectLookup = true
	} else {
		params := url.Values{
			"query.bibliographic": {formatQueryTitle(draft.Title)},
			"rows":                {strconv.Itoa(crossrefRows)},
		}
		if s.Mailto != "" {
			params.Set("mailto", s.Mailto)
		}
		req.URL = crossrefAPIBase + "/works?" + params.Encode()
	}

	if enabled {
		s.progress("Scraping metadata from crossref.org ...")
	}
	return req
}

// Parse selects the matching record and merges it into the draft. A DOI
// lookup's record is taken as is; search hits must clear the title
// similarity threshold, and the first one that does wins.
func (s *CrossRefScraper) Parse(body []byte, draft *types.PaperDraft, req Request) (*types.PaperDraft, error) {
	hit, err := s.selectHit(body, draft, req.DirectLookup)
	if err != nil {
		return draft, &ParseError{Source: CrossRefName, Err: err}
	}
	if hit == nil {
		return draft, nil
	}

	hit.apply(draft)
	s.uploadCache(draft, CrossRefName, req)
	return draft, nil
}

func (s *CrossRefScraper) selectHit(body []byte, draft *types.PaperDraft, direct bool) (*crossrefItem, error) {
	if direct {
		var resp crossrefWorkResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decoding work: %w", err)
		}
		if resp.Message == nil {
			return nil, errors.New("response has no message")
		}
		return resp.Message, nil
	}

	var resp crossrefSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding search results: %w", err)
	}
	if resp.Message == nil {
		return nil, errors.New("response has no message")
	}

	titles := make([]string, len(resp.Message.Items))
	for i, item := range resp.Message.Items {
		titles[i] = item.firstTitle()
	}
	idx := s.Resolver.FirstAbove(titles, draft.Title)
	if idx < 0 {
		return nil, nil
	}
	return &resp.Message.Items[idx], nil
}

// CrossRef API JSON structures.
type crossrefWorkResponse struct {
	Message *crossrefItem `json:"message"`
}

type crossrefSearchResponse struct {
	Message *struct {
		Items []crossrefItem `json:"items"`
	} `json:"message"`
}

type crossrefItem struct {
	Title          []string         `json:"title"`
	DOI            string           `json:"DOI"`
	Publisher      string           `json:"publisher"`
	Type           string           `json:"type"`
	Page           string           `json:"page"`
	Author         []crossrefAuthor `json:"author"`
	ContainerTitle []string         `json:"container-title"`
	Published      *crossrefDate    `json:"published"`
	Issue          string           `json:"issue"`
	Volume         string           `json:"volume"`
}

type crossrefAuthor struct {
	Given  string `json:"given"`
	Family string `json:"family"`
}

type crossrefDate struct {
	DateParts [][]int `json:"date-parts"`
}

func (it *crossrefItem) firstTitle() string {
	if len(it.Title) == 0 {
		return ""
	}
	return it.Title[0]
}

// year returns the first element of the first date-parts entry.
func (it *crossrefItem) year() string {
	if it.Published == nil || len(it.Published.DateParts) == 0 || len(it.Published.DateParts[0]) == 0 {
		return ""
	}
	return strconv.Itoa(it.Published.DateParts[0][0])
}

// authors joins "Given Family" pairs in source order.
func (it *crossrefItem) authors() string {
	names := make([]string, 0, len(it.Author))
	for _, a := range it.Author {
		names = append(names, strings.TrimSpace(a.Given+" "+a.Family))
	}
	return strings.Join(names, ", ")
}

// publication is the publisher for monographs and the joined container
// titles otherwise.
func (it *crossrefItem) publication() string {
	if strings.Contains(strings.ToLower(it.Type), "monograph") {
		return it.Publisher
	}
	return strings.Join(it.ContainerTitle, ", ")
}

func (it *crossrefItem) apply(draft *types.PaperDraft) {
	draft.SetValue(types.FieldTitle, it.firstTitle(), false)
	draft.SetValue(types.FieldDOI, it.DOI, false)
	draft.SetValue(types.FieldPublisher, it.Publisher, false)
	draft.SetValue(types.FieldType, string(types.ClassifyType(it.Type)), false)
	draft.SetValue(types.FieldPages, it.Page, false)
	draft.SetValue(types.FieldPublication, it.publication(), false)
	draft.SetValue(types.FieldPubTime, it.year(), false)
	draft.SetValue(types.FieldAuthors, it.authors(), false)
	draft.SetValue(types.FieldNumber, it.Issue, false)
	draft.SetValue(types.FieldVolume, it.Volume, false)
}
