// Package vcs reports file changes recorded by version control since a point
// in time.
package vcs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/models"
)

// Change is one path touched since the requested time.
type Change struct {
	Path string            `json:"path"`
	Type models.ChangeType `json:"type"`
}

// ChangeLog lists changes under root since t. Paths are relative to root.
type ChangeLog interface {
	Since(ctx context.Context, root string, t time.Time) ([]Change, error)
}

// Git implements ChangeLog with the git CLI.
type Git struct {
	// Binary defaults to "git".
	Binary string
}

// Since combines changes committed strictly after t with working tree
// changes made after t. A working tree entry counts only when the file, or
// for adds and deletes its directory, was modified after t. A zero t reports
// the whole working tree.
func (g Git) Since(ctx context.Context, root string, t time.Time) ([]Change, error) {
	prefix, err := g.run(ctx, root, "rev-parse", "--show-prefix")
	if err != nil {
		return nil, err
	}
	p := strings.TrimSpace(string(prefix))

	m := newMerger()
	if !t.IsZero() {
		out, err := g.run(ctx, root, "log", "--since="+t.UTC().Format(time.RFC3339),
			"--name-status", "--pretty=format:"+commitMarker+"%ct", "--reverse", "-M", "--", ".")
		if err != nil {
			return nil, err
		}
		for _, c := range ParseLog(out, t) {
			m.add(c)
		}
	}

	out, err := g.run(ctx, root, "status", "--porcelain", "--untracked-files=all", "--", ".")
	if err != nil {
		return nil, err
	}
	for _, c := range ParsePorcelain(out) {
		rel, ok := strings.CutPrefix(c.Path, p)
		if !ok {
			continue
		}
		if !t.IsZero() && !touchedAfter(filepath.Join(root, filepath.FromSlash(rel)), c.Type, t) {
			continue
		}
		m.add(c)
	}
	return m.result(p), nil
}

// touchedAfter reports whether a working tree change happened after t.
// Adding, removing or renaming a file updates its directory's mtime, which
// also covers moves that keep the file's own mtime.
func touchedAfter(path string, typ models.ChangeType, t time.Time) bool {
	if typ != models.ChangeDeleted {
		if fi, err := os.Lstat(path); err == nil && fi.ModTime().After(t) {
			return true
		}
	}
	if typ == models.ChangeModified {
		return false
	}
	fi, err := os.Stat(filepath.Dir(path))
	return err == nil && fi.ModTime().After(t)
}

func (g Git) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	bin := g.Binary
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, append([]string{"-C", dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("vcs: git %s: %w", args[0], ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("vcs: git %s: %s: %w", args[0], strings.TrimSpace(stderr.String()), apperr.ErrUnavailable)
		}
		return nil, fmt.Errorf("vcs: git %s: %w: %w", args[0], apperr.ErrUnavailable, err)
	}
	return stdout.Bytes(), nil
}

const commitMarker = "@commit "

// ParseNameStatus parses `git log --name-status` output. Renames and copies
// become a delete of the old path (renames only) and an add of the new one.
func ParseNameStatus(out []byte) []Change {
	var changes []Change
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		changes = appendNameStatus(changes, sc.Text())
	}
	return changes
}

// ParseLog parses `git log --name-status` output whose commits are headed by
// a commitMarker line carrying the commit's unix time. Only commits strictly
// after t, at one-second resolution, are kept.
func ParseLog(out []byte, t time.Time) []Change {
	var changes []Change
	after := t.Unix()
	keep := false
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if ts, ok := strings.CutPrefix(line, commitMarker); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
			keep = err == nil && n > after
			continue
		}
		if keep {
			changes = appendNameStatus(changes, line)
		}
	}
	return changes
}

func appendNameStatus(changes []Change, line string) []Change {
	fields := strings.Split(line, "\t")
	if len(fields) < 2 || fields[0] == "" {
		return changes
	}
	for i := 1; i < len(fields); i++ {
		fields[i] = unquote(fields[i])
	}
	switch fields[0][0] {
	case 'A':
		changes = append(changes, Change{Path: fields[1], Type: models.ChangeAdded})
	case 'M', 'T':
		changes = append(changes, Change{Path: fields[1], Type: models.ChangeModified})
	case 'D':
		changes = append(changes, Change{Path: fields[1], Type: models.ChangeDeleted})
	case 'R':
		if len(fields) >= 3 {
			changes = append(changes,
				Change{Path: fields[1], Type: models.ChangeDeleted},
				Change{Path: fields[2], Type: models.ChangeAdded})
		}
	case 'C':
		if len(fields) >= 3 {
			changes = append(changes, Change{Path: fields[2], Type: models.ChangeAdded})
		}
	}
	return changes
}

// ParsePorcelain parses `git status --porcelain` (v1) output.
func ParsePorcelain(out []byte) []Change {
	var changes []Change
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if len(line) < 4 {
			continue
		}
		xy, raw := line[:2], line[3:]
		path := unquote(raw)
		switch {
		case xy == "??":
			changes = append(changes, Change{Path: path, Type: models.ChangeAdded})
		case xy[0] == 'R' || xy[1] == 'R':
			oldPath, newPath, ok := strings.Cut(raw, " -> ")
			if !ok {
				continue
			}
			changes = append(changes,
				Change{Path: unquote(oldPath), Type: models.ChangeDeleted},
				Change{Path: unquote(newPath), Type: models.ChangeAdded})
		case xy[0] == 'D' || xy[1] == 'D':
			changes = append(changes, Change{Path: path, Type: models.ChangeDeleted})
		case xy[0] == 'A':
			changes = append(changes, Change{Path: path, Type: models.ChangeAdded})
		case strings.ContainsAny(xy, "MTU"):
			changes = append(changes, Change{Path: path, Type: models.ChangeModified})
		}
	}
	return changes
}

// unquote decodes a path git wrapped in quotes with C-style escapes, such
// as "caf\303\251.ts".
func unquote(p string) string {
	if len(p) >= 2 && p[0] == '"' && p[len(p)-1] == '"' {
		if s, err := strconv.Unquote(p); err == nil {
			return s
		}
	}
	return p
}

// merger folds a chronological stream of changes into one net change per
// path.
type merger struct {
	net map[string]models.ChangeType
}

func newMerger() *merger { return &merger{net: make(map[string]models.ChangeType)} }

func (m *merger) add(c Change) {
	prev, seen := m.net[c.Path]
	if !seen {
		m.net[c.Path] = c.Type
		return
	}
	switch {
	case prev == models.ChangeAdded && c.Type == models.ChangeDeleted:
		delete(m.net, c.Path)
	case prev == models.ChangeAdded:
		// still an add
	case prev == models.ChangeDeleted && c.Type == models.ChangeAdded:
		m.net[c.Path] = models.ChangeModified
	default:
		m.net[c.Path] = c.Type
	}
}

// result strips the repository-relative prefix and returns changes sorted by
// path. Paths outside prefix are dropped.
func (m *merger) result(prefix string) []Change {
	out := make([]Change, 0, len(m.net))
	for p, t := range m.net {
		if prefix != "" {
			rel, ok := strings.CutPrefix(p, prefix)
			if !ok {
				continue
			}
			p = rel
		}
		out = append(out, Change{Path: p, Type: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Delta groups changes by type.
func Delta(changes []Change) models.GitDelta {
	d := models.GitDelta{Added: []string{}, Modified: []string{}, Deleted: []string{}}
	for _, c := range changes {
		switch c.Type {
		case models.ChangeAdded:
			d.Added = append(d.Added, c.Path)
		case models.ChangeModified:
			d.Modified = append(d.Modified, c.Path)
		case models.ChangeDeleted:
			d.Deleted = append(d.Deleted, c.Path)
		}
	}
	return d
}
