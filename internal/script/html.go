// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package script

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// parseHTML returns nil when body cannot be parsed, and every helper below
// treats that as an empty document.
func parseHTML(body string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}
	return doc
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// htmlText returns the collapsed text of the first element matching selector.
func htmlText(body, selector string) string {
	doc := parseHTML(body)
	if doc == nil {
		return ""
	}
	return cleanText(doc.Find(selector).First().Text())
}

// htmlAll returns the collapsed text of every element matching selector,
// skipping empty ones.
func htmlAll(body, selector string) []any {
	doc := parseHTML(body)
	if doc == nil {
		return nil
	}
	var out []any
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if text := cleanText(s.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

// htmlAttr returns attr of the first element matching selector.
func htmlAttr(body, selector, attr string) string {
	doc := parseHTML(body)
	if doc == nil {
		return ""
	}
	v, _ := doc.Find(selector).First().Attr(attr)
	return strings.TrimSpace(v)
}

// htmlMeta returns the content of every <meta name=...> tag with the given
// name, such as the citation_author tags publisher landing pages carry.
func htmlMeta(body, name string) []any {
	doc := parseHTML(body)
	if doc == nil {
		return nil
	}
	var out []any
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		n, _ := s.Attr("name")
		if n == "" {
			n, _ = s.Attr("property")
		}
		if !strings.EqualFold(n, name) {
			return
		}
		if content := strings.TrimSpace(s.AttrOr("content", "")); content != "" {
			out = append(out, content)
		}
	})
	return out
}
