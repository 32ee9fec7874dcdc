// Package extract pulls named fields out of portal HTML using CSS selectors.
//
// Portal markup is not a stable contract: a selector that matches nothing, or
// that no longer parses, yields an empty value instead of an error. Only a
// failure to read the document at all is reported.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/overflow0verture/ku_portal/internal/logger"
)

// Rule describes how to obtain one field.
type Rule struct {
	Field         string
	Selector      string
	StripPrefixes []string
	StripSuffixes []string
	// Attr selects an attribute of the first match instead of its text.
	Attr string
}

var redirectPattern = regexp.MustCompile(`window\.location\s*=\s*"([^"]+)"`)

// Document is a parsed page that rules can be applied to repeatedly.
type Document struct {
	doc *goquery.Document
}

// Parse reads html into a Document.
func Parse(html string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("解析HTML失败: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Extract parses html and applies every rule to it.
func Extract(html string, rules []Rule) (map[string]string, error) {
	doc, err := Parse(html)
	if err != nil {
		return nil, err
	}
	return doc.Apply(rules), nil
}

// Apply runs the rules against the document. Every rule's field is present in
// the result.
func (d *Document) Apply(rules []Rule) map[string]string {
	out := make(map[string]string, len(rules))
	for _, r := range rules {
		out[r.Field] = d.Value(r)
	}
	return out
}

// Value returns the stripped value for a single rule.
func (d *Document) Value(r Rule) string {
	sel, err := cascadia.Compile(r.Selector)
	if err != nil {
		logger.Warning("字段 %s 的选择器无效 %q: %v", r.Field, r.Selector, err)
		return ""
	}
	first := d.doc.FindMatcher(sel).First()
	if first.Length() == 0 {
		return ""
	}

	var v string
	if r.Attr != "" {
		v = first.AttrOr(r.Attr, "")
	} else {
		v = first.Text()
	}
	return Strip(strings.TrimSpace(v), r.StripPrefixes, r.StripSuffixes)
}

// Exists reports whether selector matches at least one node.
func (d *Document) Exists(selector string) bool {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return false
	}
	return d.doc.FindMatcher(sel).Length() > 0
}

// Strip removes each prefix and then each suffix, in order, if present.
func Strip(s string, prefixes, suffixes []string) string {
	for _, p := range prefixes {
		s = strings.TrimPrefix(s, p)
	}
	for _, suf := range suffixes {
		s = strings.TrimSuffix(s, suf)
	}
	return s
}

// ParseFloat parses a numeric field, mapping anything unparsable to 0.
func ParseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

// FindRedirect scans raw page text for a window.location assignment.
func FindRedirect(body string) (string, bool) {
	m := redirectPattern.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return m[1], true
}
