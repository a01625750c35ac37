package store

import (
	"sort"
	"strings"
)

// CleanPath validates and normalizes an object path: non-empty, relative,
// '/'-separated, no empty or '.'/'..' segments, no trailing slash. Backends
// apply it before touching storage so traversal can never escape a root.
func CleanPath(scheme, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", Errorf(KindInvalidPath, scheme, path, "empty path")
	}
	if strings.HasPrefix(path, "/") {
		return "", Errorf(KindInvalidPath, scheme, path, "absolute path")
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		switch s {
		case "":
			return "", Errorf(KindInvalidPath, scheme, path, "empty path segment")
		case ".", "..":
			return "", Errorf(KindInvalidPath, scheme, path, "relative path segment %q", s)
		}
	}
	return strings.Join(segs, "/"), nil
}

// Delimit folds a sorted prefix listing into a one-level delimited view:
// objects whose remainder after prefix contains no '/' are returned directly,
// the rest collapse into common prefixes ending in '/'.
func Delimit(metas []ObjectMeta, prefix string) ListResult {
	res := ListResult{CommonPrefixes: []string{}, Objects: []ObjectMeta{}}
	seen := make(map[string]bool)
	for _, m := range metas {
		rest := strings.TrimPrefix(m.Path, prefix)
		rest = strings.TrimPrefix(rest, "/")
		if i := strings.Index(rest, "/"); i >= 0 {
			cp := m.Path[:len(m.Path)-len(rest)+i+1]
			if !seen[cp] {
				seen[cp] = true
				res.CommonPrefixes = append(res.CommonPrefixes, cp)
			}
			continue
		}
		res.Objects = append(res.Objects, m)
	}
	sort.Strings(res.CommonPrefixes)
	return res
}

// UnderPrefix reports whether path lies under prefix using '/' boundaries.
// An empty prefix matches everything.
func UnderPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || strings.HasPrefix(rest, "/") || strings.HasSuffix(prefix, "/")
}
