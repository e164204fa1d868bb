package policy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/raphaelgruber/policy-debate/internal/debate"
)

// Library serves the Markdown policies found in a directory tree.
type Library struct {
	fsys fs.FS
	root string
}

// NewLibrary creates a library rooted at dir.
func NewLibrary(dir string) *Library {
	return &Library{fsys: os.DirFS(dir), root: dir}
}

// NewLibraryFS creates a library over an arbitrary file system.
func NewLibraryFS(fsys fs.FS) *Library {
	return &Library{fsys: fsys}
}

// LoadPolicy implements debate.PolicySource. It first tries <id>.md, then any
// document whose frontmatter declares the ID.
func (l *Library) LoadPolicy(ctx context.Context, id string) (debate.Policy, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return debate.Policy{}, fmt.Errorf("%w: invalid policy id %q", debate.ErrConfiguration, id)
	}
	if p, err := l.parse(id + ".md"); err == nil && p.ID == id {
		return p, nil
	}

	var found *debate.Policy
	err := l.walk(ctx, func(path string, p debate.Policy) bool {
		if p.ID == id {
			found = &p
			return false
		}
		return true
	})
	if err != nil {
		return debate.Policy{}, err
	}
	if found == nil {
		return debate.Policy{}, fmt.Errorf("%w: unknown policy %s", debate.ErrConfiguration, id)
	}
	return *found, nil
}

// ListPolicies returns a summary per parseable document, sorted by ID.
func (l *Library) ListPolicies(ctx context.Context) ([]debate.PolicySummary, error) {
	var out []debate.PolicySummary
	err := l.walk(ctx, func(path string, p debate.Policy) bool {
		out = append(out, debate.PolicySummary{ID: p.ID, Title: p.Title, Source: path, Origin: "library"})
		return true
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b debate.PolicySummary) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (l *Library) parse(path string) (debate.Policy, error) {
	data, err := fs.ReadFile(l.fsys, path)
	if err != nil {
		return debate.Policy{}, err
	}
	return Parse(path, string(data))
}

// walk visits every .md file until visit returns false. Unparseable documents
// are logged and skipped.
func (l *Library) walk(ctx context.Context, visit func(path string, p debate.Policy) bool) error {
	stop := fmt.Errorf("stop")
	err := fs.WalkDir(l.fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A missing library directory is an empty library.
			if path == "." && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		p, perr := l.parse(path)
		if perr != nil {
			slog.Warn("skipping policy document", "path", filepath.Join(l.root, path), "error", perr)
			return nil
		}
		if !visit(path, p) {
			return stop
		}
		return nil
	})
	if err == stop {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scan policy library: %w", err)
	}
	return nil
}
