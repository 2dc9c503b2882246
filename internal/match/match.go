// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package match disambiguates search hits against a draft title using
// deterministic string similarity.
package match

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/cases"

	"github.com/pdiddy/metascrape/pkg/types"
)

// htmlAmp is the entity fragment some sources leave in titles ("Q&amp;A").
const htmlAmp = "&amp"

// Normalize prepares a title for comparison: the "&amp" entity fragment is
// removed, case is folded, and everything that is not a letter, digit or
// space is dropped. Runs of whitespace collapse to one space.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, htmlAmp, "")
	s = cases.Fold().String(s)

	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity returns the Dice coefficient of the bigram multisets of a and b,
// ignoring whitespace. The result is in [0,1], symmetric, and 1 for equal
// non-empty inputs. Two empty inputs score 0, so an untitled draft never
// matches an untitled search hit.
func Similarity(a, b string) float64 {
	a = stripSpace(a)
	b = stripSpace(b)

	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) < 2 || len(rb) < 2 {
		return 0
	}

	counts := make(map[string]int, len(ra)-1)
	for i := 0; i < len(ra)-1; i++ {
		counts[string(ra[i:i+2])]++
	}

	shared := 0
	for i := 0; i < len(rb)-1; i++ {
		bg := string(rb[i : i+2])
		if counts[bg] > 0 {
			counts[bg]--
			shared++
		}
	}

	return 2.0 * float64(shared) / float64(len(ra)+len(rb)-2)
}

// JaroWinkler is the alternative metric for sources whose titles carry
// heavy abbreviation. It is symmetric like Similarity.
func JaroWinkler(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return matchr.JaroWinkler(a, b, false)
}

// Func scores two normalized strings.
type Func func(a, b string) float64

// ForMetric returns the scoring function for metric, defaulting to Dice.
func ForMetric(metric types.MatchMetric) Func {
	if metric == types.MetricJaroWinkler {
		return JaroWinkler
	}
	return Similarity
}

// Resolver selects a candidate among ranked search hits.
type Resolver struct {
	Score     Func
	Threshold float64
}

// NewResolver builds a Resolver from the scrape configuration.
func NewResolver(cfg types.ScrapeConfig) Resolver {
	cfg = cfg.WithDefaults()
	return Resolver{Score: ForMetric(cfg.Metric), Threshold: cfg.SimilarityThreshold}
}

// FirstAbove returns the index of the first title, in the given order, whose
// normalized similarity to target strictly exceeds the threshold, or -1.
// Later hits are never consulted once one qualifies, even if they would
// score higher.
func (r Resolver) FirstAbove(titles []string, target string) int {
	score := r.Score
	if score == nil {
		score = Similarity
	}
	want := Normalize(target)
	for i, t := range titles {
		if score(Normalize(t), want) > r.Threshold {
			return i
		}
	}
	return -1
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
