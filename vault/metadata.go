package vault

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/mcp-vault-server/access"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

	wikilinkRe  = regexp.MustCompile(`(!?)\[\[([^\[\]\n]+?)\]\]`)
	inlineTagRe = regexp.MustCompile(`(?m)(?:^|[\s(])#([\p{L}\p{N}_/\-]+)`)
	allDigitsRe = regexp.MustCompile(`^[0-9/]+$`)
)

// ParseNote extracts frontmatter, inline tags, headings and links from a
// markdown document.
func ParseNote(src []byte) *Metadata {
	meta := &Metadata{}
	fm, body := SplitFrontmatter(src)
	if fm != nil {
		var m map[string]any
		if err := yaml.Unmarshal(fm, &m); err == nil {
			meta.Frontmatter = m
		}
	}

	doc := markdown.Parser().Parse(text.NewReader(body))
	masked := bytes.Clone(body)
	mask := func(seg text.Segment) {
		for i := seg.Start; i < seg.Stop && i < len(masked); i++ {
			if masked[i] != '\n' {
				masked[i] = ' '
			}
		}
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			var buf bytes.Buffer
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(body))
			}
			meta.Headings = append(meta.Headings, Heading{
				Level:   node.Level,
				Heading: strings.TrimSpace(buf.String()),
			})
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				mask(lines.At(i))
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeSpan:
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					mask(t.Segment)
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.Link:
			if target, ok := markdownLinkTarget(string(node.Destination)); ok {
				meta.Links = append(meta.Links, Link{Target: target, Original: string(node.Destination)})
			}
		}
		return ast.WalkContinue, nil
	})

	for _, m := range wikilinkRe.FindAllSubmatch(masked, -1) {
		if len(m[1]) > 0 {
			continue // embeds are not links
		}
		if target := wikilinkTarget(string(m[2])); target != "" {
			meta.Links = append(meta.Links, Link{Target: target, Original: string(m[0])})
		}
	}

	for _, m := range inlineTagRe.FindAllSubmatch(masked, -1) {
		tag := strings.TrimRight(string(m[1]), "/")
		if tag == "" || allDigitsRe.MatchString(tag) {
			continue
		}
		meta.Tags = append(meta.Tags, "#"+tag)
	}
	return meta
}

// SplitFrontmatter separates a leading "---" YAML block from the body.
// fm is nil when the document has none.
func SplitFrontmatter(src []byte) (fm, body []byte) {
	rest, ok := bytes.CutPrefix(src, []byte("---\n"))
	if !ok {
		rest, ok = bytes.CutPrefix(src, []byte("---\r\n"))
	}
	if !ok {
		return nil, src
	}
	for off := 0; off <= len(rest); {
		nl := bytes.IndexByte(rest[off:], '\n')
		line := rest[off:]
		next := len(rest)
		if nl >= 0 {
			line = rest[off : off+nl]
			next = off + nl + 1
		}
		if string(bytes.TrimRight(line, "\r")) == "---" {
			return rest[:off], rest[next:]
		}
		if nl < 0 {
			break
		}
		off = next
	}
	return nil, src
}

// WikilinkTarget strips "#heading" and "|alias" from the inside of a
// [[...]] link.
func wikilinkTarget(inner string) string {
	if i := strings.IndexByte(inner, '|'); i >= 0 {
		inner = inner[:i]
	}
	if i := strings.IndexByte(inner, '#'); i >= 0 {
		inner = inner[:i]
	}
	return strings.TrimSpace(inner)
}

func markdownLinkTarget(dest string) (string, bool) {
	if dest == "" || strings.HasPrefix(dest, "#") || strings.Contains(dest, "://") || strings.HasPrefix(dest, "mailto:") {
		return "", false
	}
	if i := strings.IndexByte(dest, '#'); i >= 0 {
		dest = dest[:i]
	}
	if u, err := url.PathUnescape(dest); err == nil {
		dest = u
	}
	dest = strings.TrimSpace(dest)
	return dest, dest != ""
}

type cachedMeta struct {
	mod  time.Time
	size int64
	meta *Metadata
}

type metaCache struct {
	mu      sync.Mutex
	entries map[string]cachedMeta
}

func (c *metaCache) get(rel string, mod time.Time, size int64) (*Metadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[rel]
	if !ok || e.size != size || !e.mod.Equal(mod) {
		return nil, false
	}
	return e.meta, true
}

func (c *metaCache) put(rel string, mod time.Time, size int64, m *Metadata) {
	c.mu.Lock()
	c.entries[rel] = cachedMeta{mod: mod, size: size, meta: m}
	c.mu.Unlock()
}

func (c *metaCache) forget(rel string) {
	c.mu.Lock()
	delete(c.entries, rel)
	c.mu.Unlock()
}

func (c *metaCache) forgetPrefix(rel string) {
	c.mu.Lock()
	for k := range c.entries {
		if k == rel || strings.HasPrefix(k, rel+"/") {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// MetadataFor returns the parsed metadata of the markdown note at p. Non
// markdown files have empty metadata.
func (d *Dir) MetadataFor(p string) (*Metadata, error) {
	rel, abs, err := d.resolve(p)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, notFound(err)
	}
	if fi.IsDir() {
		return nil, ErrIsDir
	}
	if !IsMarkdown(rel) {
		return &Metadata{}, nil
	}
	if m, ok := d.cache.get(rel, fi.ModTime(), fi.Size()); ok {
		return m, nil
	}
	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, notFound(err)
	}
	m := ParseNote(src)
	d.cache.put(rel, fi.ModTime(), fi.Size(), m)
	return m, nil
}

// TagsOf returns the de-duplicated inline and frontmatter tags of p.
func TagsOf(s Store, p string) []string {
	m, err := s.MetadataFor(p)
	if err != nil || m == nil {
		return nil
	}
	return access.Tags(m.Tags, m.Frontmatter)
}

// Tags counts tag usage across the notes keep accepts (all notes when keep
// is nil): each inline occurrence and each frontmatter tag once per note.
func (d *Dir) Tags(ctx context.Context, keep func(Entry) bool) (map[string]int, error) {
	files, err := d.markdownFiles(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, f := range files {
		if keep != nil && !keep(f) {
			continue
		}
		m, err := d.MetadataFor(f.Path)
		if err != nil {
			continue
		}
		for _, t := range m.Tags {
			counts[t]++
		}
		for _, t := range access.Tags(nil, m.Frontmatter) {
			counts[t]++
		}
	}
	return counts, nil
}

// linkIndex resolves link targets against a fixed set of files.
type linkIndex struct {
	byPath map[string]string   // lower-case path -> path
	byName map[string][]string // lower-case basename (and name) -> paths
}

func newLinkIndex(files []Entry) *linkIndex {
	idx := &linkIndex{
		byPath: make(map[string]string, len(files)),
		byName: make(map[string][]string, len(files)),
	}
	for _, f := range files {
		if f.IsDir {
			continue
		}
		idx.byPath[strings.ToLower(f.Path)] = f.Path
		name := strings.ToLower(f.Name)
		idx.byName[name] = append(idx.byName[name], f.Path)
		if IsMarkdown(f.Path) {
			base := strings.ToLower(f.Basename())
			idx.byName[base] = append(idx.byName[base], f.Path)
		}
	}
	for k := range idx.byName {
		sort.Slice(idx.byName[k], func(i, j int) bool {
			a, b := idx.byName[k][i], idx.byName[k][j]
			if len(a) != len(b) {
				return len(a) < len(b)
			}
			return a < b
		})
	}
	return idx
}

// resolve follows the usual wikilink rules: exact path (with or without
// ".md"), then relative to the source's folder, then by path suffix, then
// by unique-ish name preferring the shortest path.
func (idx *linkIndex) resolve(target, source string) (string, bool) {
	t, ok := Clean(target)
	if !ok || t == "" {
		return "", false
	}
	lt := strings.ToLower(t)
	candidates := []string{lt, lt + ".md"}
	if dir := Parent(source); dir != "" {
		rel := strings.ToLower(path.Join(dir, t))
		candidates = append(candidates, rel, rel+".md")
	}
	for _, c := range candidates {
		if p, ok := idx.byPath[c]; ok {
			return p, true
		}
	}
	if strings.Contains(lt, "/") {
		var best string
		for lp, p := range idx.byPath {
			if strings.HasSuffix(lp, "/"+lt) || strings.HasSuffix(lp, "/"+lt+".md") {
				if best == "" || len(p) < len(best) || (len(p) == len(best) && p < best) {
					best = p
				}
			}
		}
		return best, best != ""
	}
	if ps := idx.byName[lt]; len(ps) > 0 {
		return ps[0], true
	}
	return "", false
}

func (d *Dir) linkIndex(ctx context.Context) (*linkIndex, []Entry, error) {
	all, err := d.AllEntries(ctx)
	if err != nil {
		return nil, nil, err
	}
	return newLinkIndex(all), all, nil
}

// ResolveLink resolves a link written in source.
func (d *Dir) ResolveLink(target, source string) (string, bool) {
	idx, _, err := d.linkIndex(context.Background())
	if err != nil {
		return "", false
	}
	return idx.resolve(target, source)
}

// ResolvedLinks maps each note to the files it links to, with counts.
func (d *Dir) ResolvedLinks(ctx context.Context) (map[string]map[string]int, error) {
	idx, all, err := d.linkIndex(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]int)
	for _, f := range all {
		if f.IsDir || !IsMarkdown(f.Path) {
			continue
		}
		m, err := d.MetadataFor(f.Path)
		if err != nil {
			continue
		}
		for _, l := range m.Links {
			dst, ok := idx.resolve(l.Target, f.Path)
			if !ok {
				continue
			}
			if out[f.Path] == nil {
				out[f.Path] = make(map[string]int)
			}
			out[f.Path][dst]++
		}
	}
	return out, nil
}

// UnresolvedLinks returns the distinct link targets in p that do not
// resolve, in document order.
func (d *Dir) UnresolvedLinks(p string) ([]string, error) {
	m, err := d.MetadataFor(p)
	if err != nil {
		return nil, err
	}
	if len(m.Links) == 0 {
		return nil, nil
	}
	idx, _, err := d.linkIndex(context.Background())
	if err != nil {
		return nil, err
	}
	rel, _ := Clean(p)
	seen := map[string]bool{}
	var out []string
	for _, l := range m.Links {
		if seen[l.Target] {
			continue
		}
		seen[l.Target] = true
		if _, ok := idx.resolve(l.Target, rel); !ok {
			out = append(out, l.Target)
		}
	}
	return out, nil
}
