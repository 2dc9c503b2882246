// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"

	"dario.cat/mergo"
)

// Field names a mergeable PaperDraft field. Values match the YAML keys.
type Field string

const (
	FieldTitle       Field = "title"
	FieldDOI         Field = "doi"
	FieldArxiv       Field = "arxiv"
	FieldPublisher   Field = "publisher"
	FieldType        Field = "type"
	FieldPages       Field = "pages"
	FieldPublication Field = "publication"
	FieldPubTime     Field = "pub_time"
	FieldAuthors     Field = "authors"
	FieldNumber      Field = "number"
	FieldVolume      Field = "volume"
)

// Fields lists every mergeable field in a fixed order.
var Fields = []Field{
	FieldTitle, FieldDOI, FieldArxiv, FieldPublisher, FieldType, FieldPages,
	FieldPublication, FieldPubTime, FieldAuthors, FieldNumber, FieldVolume,
}

// fieldAliases accepts camelCase spellings used in user-authored scraper
// fragments alongside the canonical snake_case keys.
var fieldAliases = map[string]Field{
	"pubtime": FieldPubTime,
	"issue":   FieldNumber,
	"venue":   FieldPublication,
	"page":    FieldPages,
}

// ParseField resolves a field name, case-insensitively, including aliases.
func ParseField(name string) (Field, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, f := range Fields {
		if string(f) == key {
			return f, true
		}
	}
	f, ok := fieldAliases[key]
	return f, ok
}

// Get returns the current value of field as a string.
func (p *PaperDraft) Get(field Field) string {
	if ptr := p.fieldPtr(field); ptr != nil {
		return *ptr
	}
	if field == FieldType {
		return string(p.Type)
	}
	return ""
}

// SetValue writes value into field. Unless overwrite is set, a field that
// already holds a non-blank value is left alone. It reports whether the
// draft changed.
func (p *PaperDraft) SetValue(field Field, value string, overwrite bool) bool {
	value = strings.TrimSpace(value)
	if field == FieldType {
		if p.Type != "" && !overwrite {
			return false
		}
		if PaperType(value) == p.Type {
			return false
		}
		p.Type = PaperType(value)
		return true
	}

	ptr := p.fieldPtr(field)
	if ptr == nil {
		return false
	}
	if strings.TrimSpace(*ptr) != "" && !overwrite {
		return false
	}
	if *ptr == value {
		return false
	}
	*ptr = value
	return true
}

// Merge applies every non-empty field of src onto the draft. With overwrite
// unset only empty fields are filled, so running the same source twice is
// a no-op. The caller's ID is never replaced.
func (p *PaperDraft) Merge(src PaperDraft, overwrite bool) error {
	src.ID = ""
	var opts []func(*mergo.Config)
	if overwrite {
		opts = append(opts, mergo.WithOverride)
	}
	if err := mergo.Merge(p, src, opts...); err != nil {
		return fmt.Errorf("merging draft fields: %w", err)
	}
	return nil
}

func (p *PaperDraft) fieldPtr(field Field) *string {
	switch field {
	case FieldTitle:
		return &p.Title
	case FieldDOI:
		return &p.DOI
	case FieldArxiv:
		return &p.Arxiv
	case FieldPublisher:
		return &p.Publisher
	case FieldPages:
		return &p.Pages
	case FieldPublication:
		return &p.Publication
	case FieldPubTime:
		return &p.PubTime
	case FieldAuthors:
		return &p.Authors
	case FieldNumber:
		return &p.Number
	case FieldVolume:
		return &p.Volume
	default:
		return nil
	}
}
