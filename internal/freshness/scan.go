package freshness

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// filter decides which paths under a project root count as source files.
type filter struct {
	exts    map[string]struct{}
	exclude map[string]struct{}
}

func newFilter(extensions, excludeDirs []string) filter {
	f := filter{exts: make(map[string]struct{}), exclude: make(map[string]struct{})}
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		f.exts[e] = struct{}{}
	}
	for _, d := range excludeDirs {
		if d = strings.TrimSpace(d); d != "" {
			f.exclude[d] = struct{}{}
		}
	}
	return f
}

func (f filter) skipDir(name string) bool {
	_, ok := f.exclude[name]
	return ok
}

// match reports whether the slash-separated relative path is a tracked
// source file.
func (f filter) match(rel string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/") {
		if f.skipDir(seg) {
			return false
		}
	}
	if len(f.exts) == 0 {
		return true
	}
	_, ok := f.exts[strings.ToLower(filepath.Ext(rel))]
	return ok
}

// changedSince walks root and returns the relative paths of source files
// modified after t, sorted. ctx is checked between entries.
func changedSince(ctx context.Context, root string, t time.Time, f filter) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && f.skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !f.match(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(t) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
