// Package classify assigns categories and path tags to catalog entries.
//
// Classification is a pure lookup over an ordered rule table: the first rule
// whose extension list or content-type glob matches wins, and entries matched
// by no rule are "uncategorized". Tags are derived from the entry path alone.
package classify

import (
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"

	"magnolia/internal/catalog"
)

type compiledRule struct {
	extensions  map[string]struct{}
	contentType string
	category    string
}

// Classifier applies a validated rule table.
type Classifier struct {
	rules    []compiledRule
	tagDepth int
}

// New validates rules and returns a classifier. tagDepth is the number of
// trailing parent directories turned into tags; 0 disables tagging.
func New(rules []Rule, tagDepth int) (*Classifier, error) {
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	if tagDepth < 0 {
		tagDepth = 0
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		exts := make(map[string]struct{})
		for _, ext := range normalizeExtensions(rule.Extensions) {
			exts[ext] = struct{}{}
		}
		compiled = append(compiled, compiledRule{
			extensions:  exts,
			contentType: strings.ToLower(strings.TrimSpace(rule.ContentType)),
			category:    path.Clean(strings.TrimSpace(rule.Category)),
		})
	}
	return &Classifier{rules: compiled, tagDepth: tagDepth}, nil
}

// Category returns the category of the first matching rule.
func (c *Classifier) Category(entry catalog.Entry) string {
	ext := strings.ToLower(entry.Extension)
	contentType := strings.ToLower(entry.ContentType)
	for _, rule := range c.rules {
		if ext != "" {
			if _, ok := rule.extensions[ext]; ok {
				return rule.category
			}
		}
		if rule.contentType != "" && contentType != "" {
			if ok, _ := path.Match(rule.contentType, contentType); ok {
				return rule.category
			}
		}
	}
	return catalog.Uncategorized
}

// Tags returns the last tagDepth parent directory names of p, case-folded,
// outermost first, without duplicates.
func (c *Classifier) Tags(p string) []string {
	if c.tagDepth == 0 {
		return nil
	}
	dir := filepath.Dir(filepath.Clean(p))
	var parents []string
	for len(parents) < c.tagDepth {
		name := filepath.Base(dir)
		if name == "" || name == "." || name == string(filepath.Separator) {
			break
		}
		parents = append(parents, name)
		next := filepath.Dir(dir)
		if next == dir {
			break
		}
		dir = next
	}

	fold := cases.Fold()
	seen := make(map[string]struct{}, len(parents))
	tags := make([]string, 0, len(parents))
	for i := len(parents) - 1; i >= 0; i-- {
		tag := fold.String(parents[i])
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// Classify returns enriched copies of entries with Category and Tags set, and
// the path → category map used by the analysis report.
func (c *Classifier) Classify(entries []catalog.Entry) ([]catalog.Entry, map[string]string) {
	out := make([]catalog.Entry, len(entries))
	categories := make(map[string]string, len(entries))
	for i, entry := range entries {
		entry.Category = c.Category(entry)
		entry.Tags = c.Tags(entry.Path)
		out[i] = entry
		categories[entry.Path] = entry.Category
	}
	return out, categories
}
