// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// PaperType classifies the kind of publication a draft describes. The empty
// value means the type is not known yet and may be filled by a scraper.
type PaperType string

const (
	TypeJournal    PaperType = "journal"
	TypeConference PaperType = "conference"
	TypeOthers     PaperType = "others"
	TypeBook       PaperType = "book"
)

// PaperDraft is the mutable record under enrichment. It is owned by the
// caller of the orchestrator and passed by pointer through every scraper.
type PaperDraft struct {
	// ID is the caller's identity for the paper (e.g. a library key or file slug).
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Title is the paper title.
	Title string `json:"title" yaml:"title"`

	// DOI is the persistent identifier used for direct lookups.
	DOI string `json:"doi,omitempty" yaml:"doi,omitempty"`

	// Arxiv is the arXiv identifier when the paper is a preprint.
	Arxiv string `json:"arxiv,omitempty" yaml:"arxiv,omitempty"`

	Publisher string    `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	Type      PaperType `json:"type,omitempty" yaml:"type,omitempty"`
	Pages     string    `json:"pages,omitempty" yaml:"pages,omitempty"`

	// Publication is the venue: journal, proceedings or, for books, the publisher.
	Publication string `json:"publication,omitempty" yaml:"publication,omitempty"`

	// PubTime is the publication year as a string.
	PubTime string `json:"pub_time,omitempty" yaml:"pub_time,omitempty"`

	// Authors lists authors in source order as "Given Family, Given Family".
	Authors string `json:"authors,omitempty" yaml:"authors,omitempty"`

	// Number is the issue number.
	Number string `json:"number,omitempty" yaml:"number,omitempty"`
	Volume string `json:"volume,omitempty" yaml:"volume,omitempty"`
}

// AuthorList splits Authors back into an ordered slice of names.
func (p *PaperDraft) AuthorList() []string {
	if strings.TrimSpace(p.Authors) == "" {
		return nil
	}
	parts := strings.Split(p.Authors, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Identity returns a stable key for the paper: the caller-supplied ID, then
// the DOI, then a hash of the lowercased title.
func (p *PaperDraft) Identity() string {
	if p.ID != "" {
		return p.ID
	}
	if p.DOI != "" {
		return "doi:" + strings.ToLower(p.DOI)
	}
	title := strings.Join(strings.Fields(strings.ToLower(p.Title)), " ")
	h := sha256.Sum256([]byte(title))
	return fmt.Sprintf("title:%x", h[:8])
}

// Clone returns a copy of the draft.
func (p *PaperDraft) Clone() *PaperDraft {
	c := *p
	return &c
}

// ClassifyType buckets a free-text work type. Journal is checked first,
// then book or monograph, then proceedings; anything else is Others.
func ClassifyType(workType string) PaperType {
	t := strings.ToLower(workType)
	switch {
	case strings.Contains(t, "journal"):
		return TypeJournal
	case strings.Contains(t, "book"), strings.Contains(t, "monograph"):
		return TypeBook
	case strings.Contains(t, "proceedings"):
		return TypeConference
	default:
		return TypeOthers
	}
}
