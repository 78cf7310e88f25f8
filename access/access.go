// Package access evaluates vault paths and tags against a user-maintained
// blacklist.
//
// The blacklist is plain text, one rule per line. Lines starting with '#' are
// tag rules; every other non-blank line is a path-prefix rule:
//
//	Secret/
//	Private/journal
//	#secret
//
// Paths are normalized before comparison (see Normalize) so traversal
// segments and case variants cannot sidestep a rule. Every operation that
// touches note content checks twice: IsPathAllowed before any store lookup,
// then IsEntryAllowed once the entry's tags are known.
package access

import (
	"strings"
	"sync/atomic"
)

// TagMarker introduces a tag rule in the blacklist text.
const TagMarker = "#"

// ruleSet is immutable once built.
type ruleSet struct {
	paths []string
	tags  []string
}

// Rules is a concurrency-safe blacklist. The zero value allows everything.
type Rules struct {
	set atomic.Pointer[ruleSet]
}

// New returns Rules parsed from text.
func New(text string) *Rules {
	r := &Rules{}
	r.Reload(text)
	return r
}

// Reload re-parses text and swaps the rule set in one step. Concurrent
// evaluators see either the old or the new set, never a mix.
func (r *Rules) Reload(text string) {
	r.set.Store(parse(text))
}

func parse(text string) *ruleSet {
	rs := &ruleSet{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, TagMarker) {
			rs.tags = append(rs.tags, line)
			continue
		}
		if n := Normalize(line); n != "" {
			rs.paths = append(rs.paths, n)
		}
	}
	return rs
}

func (r *Rules) current() *ruleSet {
	if rs := r.set.Load(); rs != nil {
		return rs
	}
	return &ruleSet{}
}

// PathRules returns the normalized path rules currently in effect.
func (r *Rules) PathRules() []string {
	return append([]string(nil), r.current().paths...)
}

// TagRules returns the tag rules currently in effect.
func (r *Rules) TagRules() []string {
	return append([]string(nil), r.current().tags...)
}

// IsPathAllowed reports whether p escapes every path rule.
func (r *Rules) IsPathAllowed(p string) bool {
	return r.current().pathAllowed(p)
}

// IsEntryAllowed reports whether an entry at p carrying tags is visible.
func (r *Rules) IsEntryAllowed(p string, tags []string) bool {
	rs := r.current()
	if !rs.pathAllowed(p) {
		return false
	}
	for _, t := range tags {
		if !rs.tagAllowed(t) {
			return false
		}
	}
	return true
}

// IsTagAllowed reports whether tag may appear in listings.
func (r *Rules) IsTagAllowed(tag string) bool {
	return r.current().tagAllowed(tag)
}

func (rs *ruleSet) pathAllowed(p string) bool {
	n := Normalize(p)
	for _, rule := range rs.paths {
		if strings.HasPrefix(n, rule) {
			return false
		}
	}
	return true
}

func (rs *ruleSet) tagAllowed(tag string) bool {
	for _, rule := range rs.tags {
		if tagMatches(tag, rule) {
			return false
		}
	}
	return true
}

// tagMatches is case-sensitive and stops at nesting boundaries: "#secret"
// covers "#secret" and "#secret/x" but not "#secretary". A rule ending in
// '/' already names a boundary and matches as a plain prefix.
func tagMatches(tag, rule string) bool {
	if !strings.HasPrefix(tag, rule) {
		return false
	}
	if len(tag) == len(rule) || strings.HasSuffix(rule, "/") {
		return true
	}
	return tag[len(rule)] == '/'
}

// Normalize resolves p into the canonical form rules are compared against:
// segments split on '/', '.' and empty segments dropped, '..' pops the
// previous segment (never above the root), the result joined with '/' and
// lower-cased.
func Normalize(p string) string {
	segs := strings.Split(p, "/")
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		switch s {
		case "", ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, s)
		}
	}
	return strings.ToLower(strings.Join(out, "/"))
}

// Tags merges inline tags with the frontmatter "tags" property. Frontmatter
// values may be a list or a comma-separated string and gain a leading '#'
// when missing. Order is preserved and duplicates dropped.
func Tags(inline []string, frontmatter map[string]any) []string {
	seen := make(map[string]struct{}, len(inline))
	var out []string
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" || t == TagMarker {
			return
		}
		if !strings.HasPrefix(t, TagMarker) {
			t = TagMarker + t
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range inline {
		add(t)
	}
	switch v := frontmatter["tags"].(type) {
	case []any:
		for _, t := range v {
			if s, ok := t.(string); ok {
				add(s)
			}
		}
	case []string:
		for _, t := range v {
			add(t)
		}
	case string:
		for _, t := range strings.Split(v, ",") {
			add(t)
		}
	}
	return out
}
