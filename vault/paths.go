package vault

import (
	"path"
	"strings"
)

// Clean turns user input into a vault-relative path. "", "/" and "." all
// mean the root, returned as "". ok is false when p climbs out of the root.
func Clean(p string) (string, bool) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" || p == "/" || p == "." {
		return "", true
	}
	c := path.Clean("/" + p)
	if strings.Contains(p, "..") {
		// path.Clean("/" + ...) silently clamps at the root; refuse instead.
		depth := 0
		for _, seg := range strings.Split(p, "/") {
			switch seg {
			case "", ".":
			case "..":
				depth--
			default:
				depth++
			}
			if depth < 0 {
				return "", false
			}
		}
	}
	return strings.TrimPrefix(c, "/"), true
}

// hidden reports whether any segment of a clean path is a dot entry.
func hidden(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func extOf(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return ""
	}
	return strings.ToLower(ext[1:])
}

func basenameOf(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}

// Parent returns the folder holding p, "" for top-level entries.
func Parent(p string) string {
	d := path.Dir(p)
	if d == "." || d == "/" {
		return ""
	}
	return d
}

// IsMarkdown reports whether p names a markdown note.
func IsMarkdown(p string) bool {
	return extOf(p) == "md"
}
