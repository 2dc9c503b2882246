// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scrape

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pdiddy/metascrape/internal/match"
	"github.com/pdiddy/metascrape/pkg/types"
)

// OpenAlexName is the preference key and cache source name for OpenAlex.
const OpenAlexName = "openalex"

// openAlexAPIBase is the OpenAlex endpoint. Declared as a var so tests can
// substitute an httptest server.
var openAlexAPIBase = "https://api.openalex.org"

// OpenAlexScraper looks drafts up on OpenAlex. Unlike CrossRef it is not
// restricted to preprints.
type OpenAlexScraper struct {
	Base
	Resolver match.Resolver
	// Email is sent as mailto parameter for polite pool access.
	Email string
}

// NewOpenAlex builds the OpenAlex scraper for a run.
func NewOpenAlex(base Base, cfg types.ScrapeConfig) *OpenAlexScraper {
	return &OpenAlexScraper{
		Base:     base,
		Resolver: match.NewResolver(cfg),
		Email:    cfg.Mailto,
	}
}

// Name returns the source identifier.
func (s *OpenAlexScraper) Name() string { return OpenAlexName }

// PreProcess builds a DOI lookup or a title search.
func (s *OpenAlexScraper) PreProcess(draft *types.PaperDraft) Request {
	enabled := s.enabled(OpenAlexName) && hasTitleOrDOI(draft)

	params := url.Values{}
	if s.Email != "" {
		params.Set("mailto", s.Email)
	}

	req := Request{Headers: map[string]string{"Accept": "application/json"}, Enabled: enabled}
	if doi := strings.TrimSpace(draft.DOI); doi != "" {
		req.URL = openAlexAPIBase + "/works/doi:" + url.PathEscape(doi)
		req.DirectLookup = true
	} else {
		params.Set("search", formatQueryTitle(draft.Title))
		params.Set("per_page", "2")
		req.URL = openAlexAPIBase + "/works"
	}
	if q := params.Encode(); q != "" {
		req.URL += "?" + q
	}

	if enabled {
		s.progress("Scraping metadata from openalex.org ...")
	}
	return req
}

// Parse merges the matching work into the draft.
func (s *OpenAlexScraper) Parse(body []byte, draft *types.PaperDraft, req Request) (*types.PaperDraft, error) {
	work, err := s.selectWork(body, draft, req.DirectLookup)
	if err != nil {
		return draft, &ParseError{Source: OpenAlexName, Err: err}
	}
	if work == nil {
		return draft, nil
	}

	work.apply(draft)
	s.uploadCache(draft, OpenAlexName, req)
	return draft, nil
}

func (s *OpenAlexScraper) selectWork(body []byte, draft *types.PaperDraft, direct bool) (*openAlexWork, error) {
	if direct {
		var work openAlexWork
		if err := json.Unmarshal(body, &work); err != nil {
			return nil, fmt.Errorf("decoding work: %w", err)
		}
		if work.ID == "" && work.DisplayName == "" {
			return nil, errors.New("response is not a work record")
		}
		return &work, nil
	}

	var resp openAlexSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding search results: %w", err)
	}
	if resp.Results == nil {
		return nil, errors.New("response has no results")
	}

	titles := make([]string, len(resp.Results))
	for i, w := range resp.Results {
		titles[i] = w.DisplayName
	}
	idx := s.Resolver.FirstAbove(titles, draft.Title)
	if idx < 0 {
		return nil, nil
	}
	return &resp.Results[idx], nil
}

// OpenAlex API JSON structures.
type openAlexSearchResponse struct {
	Results []openAlexWork `json:"results"`
}

type openAlexWork struct {
	ID              string               `json:"id"`
	DisplayName     string               `json:"display_name"`
	DOI             string               `json:"doi"`
	Type            string               `json:"type"`
	PublicationYear int                  `json:"publication_year"`
	Authorships     []openAlexAuthorship `json:"authorships"`
	PrimaryLocation *openAlexLocation    `json:"primary_location"`
	Biblio          openAlexBiblio       `json:"biblio"`
}

type openAlexAuthorship struct {
	Author struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
}

type openAlexLocation struct {
	Source *struct {
		DisplayName          string `json:"display_name"`
		Type                 string `json:"type"`
		HostOrganizationName string `json:"host_organization_name"`
	} `json:"source"`
}

type openAlexBiblio struct {
	Volume    string `json:"volume"`
	Issue     string `json:"issue"`
	FirstPage string `json:"first_page"`
	LastPage  string `json:"last_page"`
}

// typeString folds the source type into the work type so the shared
// classifier sees "journal", "proceedings" or "book" where OpenAlex only
// says "article".
func (w *openAlexWork) typeString() string {
	if w.PrimaryLocation == nil || w.PrimaryLocation.Source == nil {
		return w.Type
	}
	src := w.PrimaryLocation.Source.Type
	if src == "conference" {
		src = "proceedings"
	}
	return src + "-" + w.Type
}

func (w *openAlexWork) venue() (venue, publisher string) {
	if w.PrimaryLocation == nil || w.PrimaryLocation.Source == nil {
		return "", ""
	}
	return w.PrimaryLocation.Source.DisplayName, w.PrimaryLocation.Source.HostOrganizationName
}

func (w *openAlexWork) pages() string {
	b := w.Biblio
	if b.FirstPage != "" && b.LastPage != "" && b.FirstPage != b.LastPage {
		return b.FirstPage + "-" + b.LastPage
	}
	return b.FirstPage
}

func (w *openAlexWork) authors() string {
	names := make([]string, 0, len(w.Authorships))
	for _, a := range w.Authorships {
		if a.Author.DisplayName != "" {
			names = append(names, a.Author.DisplayName)
		}
	}
	return strings.Join(names, ", ")
}

func (w *openAlexWork) apply(draft *types.PaperDraft) {
	venue, publisher := w.venue()
	paperType := types.ClassifyType(w.typeString())
	if paperType == types.TypeBook && venue == "" {
		venue = publisher
	}

	year := ""
	if w.PublicationYear > 0 {
		year = strconv.Itoa(w.PublicationYear)
	}

	draft.SetValue(types.FieldTitle, w.DisplayName, false)
	draft.SetValue(types.FieldDOI, strings.TrimPrefix(w.DOI, "https://doi.org/"), false)
	draft.SetValue(types.FieldPublisher, publisher, false)
	draft.SetValue(types.FieldType, string(paperType), false)
	draft.SetValue(types.FieldPages, w.pages(), false)
	draft.SetValue(types.FieldPublication, venue, false)
	draft.SetValue(types.FieldPubTime, year, false)
	draft.SetValue(types.FieldAuthors, w.authors(), false)
	draft.SetValue(types.FieldNumber, w.Biblio.Issue, false)
	draft.SetValue(types.FieldVolume, w.Biblio.Volume, false)
}
