// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package export renders enriched drafts for reference managers.
package export

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/metascrape/pkg/types"
)

// CSLItem is a bibliographic entry in CSL (Citation Style Language) form,
// consumable by Pandoc and reference managers.
type CSLItem struct {
	ID             string    `yaml:"id" json:"id"`
	Type           string    `yaml:"type" json:"type"`
	Title          string    `yaml:"title" json:"title"`
	Author         []CSLName `yaml:"author,omitempty" json:"author,omitempty"`
	Issued         *CSLDate  `yaml:"issued,omitempty" json:"issued,omitempty"`
	ContainerTitle string    `yaml:"container-title,omitempty" json:"container-title,omitempty"`
	Publisher      string    `yaml:"publisher,omitempty" json:"publisher,omitempty"`
	Page           string    `yaml:"page,omitempty" json:"page,omitempty"`
	Volume         string    `yaml:"volume,omitempty" json:"volume,omitempty"`
	Issue          string    `yaml:"issue,omitempty" json:"issue,omitempty"`
	DOI            string    `yaml:"DOI,omitempty" json:"DOI,omitempty"`
}

// CSLName is a person's name in CSL form.
type CSLName struct {
	Family  string `yaml:"family,omitempty" json:"family,omitempty"`
	Given   string `yaml:"given,omitempty" json:"given,omitempty"`
	Literal string `yaml:"literal,omitempty" json:"literal,omitempty"`
}

// CSLDate is a date in CSL date-parts form.
type CSLDate struct {
	DateParts [][]int `yaml:"date-parts" json:"date-parts"`
}

// cslTypes maps draft types onto CSL item types.
var cslTypes = map[types.PaperType]string{
	types.TypeJournal:    "article-journal",
	types.TypeConference: "paper-conference",
	types.TypeBook:       "book",
	types.TypeOthers:     "article",
}

// WriteCSL writes drafts as a CSL-YAML list to w.
func WriteCSL(drafts []*types.PaperDraft, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(toCSLItems(drafts))
}

// WriteCSLJSON writes drafts as a CSL-JSON array to w.
func WriteCSLJSON(drafts []*types.PaperDraft, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toCSLItems(drafts))
}

func toCSLItems(drafts []*types.PaperDraft) []CSLItem {
	items := make([]CSLItem, len(drafts))
	for i, d := range drafts {
		items[i] = ToCSLItem(d)
	}
	return items
}

// ToCSLItem converts a draft to a CSL item. The year is the only date part
// a draft carries.
func ToCSLItem(d *types.PaperDraft) CSLItem {
	item := CSLItem{
		ID:             d.Identity(),
		Type:           "article",
		Title:          d.Title,
		ContainerTitle: d.Publication,
		Publisher:      d.Publisher,
		Page:           d.Pages,
		Volume:         d.Volume,
		Issue:          d.Number,
		DOI:            d.DOI,
	}
	if t, ok := cslTypes[d.Type]; ok {
		item.Type = t
	}
	if item.Type == "book" && item.ContainerTitle == item.Publisher {
		item.ContainerTitle = ""
	}

	for _, a := range d.AuthorList() {
		item.Author = append(item.Author, parseAuthorName(a))
	}

	if year, err := strconv.Atoi(strings.TrimSpace(d.PubTime)); err == nil && year > 0 {
		item.Issued = &CSLDate{DateParts: [][]int{{year}}}
	}
	return item
}

// parseAuthorName splits a full name into CSL family/given parts on the
// last space. Single-token names use the literal field.
func parseAuthorName(name string) CSLName {
	name = strings.TrimSpace(name)
	if name == "" {
		return CSLName{}
	}
	idx := strings.LastIndex(name, " ")
	if idx < 0 {
		return CSLName{Literal: name}
	}
	return CSLName{
		Given:  name[:idx],
		Family: name[idx+1:],
	}
}
