// Package workspace enumerates and reads files under one or more workspace
// roots on behalf of debugging clients.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNotFound reports that a requested file could not be opened.
var ErrNotFound = errors.New("file not found")

// Accessor answers file queries against a set of workspace roots.
type Accessor struct {
	roots []string
	log   *zap.SugaredLogger
}

// New creates an Accessor over the given roots. Roots are made absolute;
// at least one root is required.
func New(roots []string, log *zap.SugaredLogger) (*Accessor, error) {
	if len(roots) == 0 {
		return nil, errors.New("workspace: at least one root required")
	}
	abs := make([]string, 0, len(roots))
	for _, r := range roots {
		a, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("workspace: resolving root %s: %w", r, err)
		}
		abs = append(abs, a)
	}
	return &Accessor{roots: abs, log: log}, nil
}

// Roots returns the absolute workspace roots.
func (a *Accessor) Roots() []string {
	return a.roots
}

// ListFiles walks every workspace root and returns the absolute paths of
// files matching the include patterns and not matching the exclude patterns.
// An empty include set includes everything; a nil exclude set applies
// DefaultExcludePatterns. Directories matching an exclude pattern are
// skipped entirely. Roots are walked concurrently; results keep root order.
func (a *Accessor) ListFiles(ctx context.Context, includePatterns, excludePatterns []string) ([]string, error) {
	if excludePatterns == nil {
		excludePatterns = DefaultExcludePatterns
	}

	perRoot := make([][]string, len(a.roots))
	g, ctx := errgroup.WithContext(ctx)
	for i, root := range a.roots {
		g.Go(func() error {
			matches, err := listRoot(ctx, root, includePatterns, excludePatterns)
			if err != nil {
				return fmt.Errorf("workspace: walking %s: %w", root, err)
			}
			perRoot[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	files := lo.Flatten(perRoot)
	a.log.Debugw("listed workspace files", "count", len(files))
	return files, nil
}

func listRoot(ctx context.Context, root string, includePatterns, excludePatterns []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if matchAny(excludePatterns, rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if len(includePatterns) > 0 && !matchAny(includePatterns, rel) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// GetFile reads the file at path and returns its text with every line
// prefixed by its 1-based number, in the form "N: <line>". A relative path
// is resolved against the first workspace root. Returns an error wrapping
// ErrNotFound when the file cannot be read.
func (a *Accessor) GetFile(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.roots[0], path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return numberLines(string(data)), nil
}

// numberLines prefixes each line with "N: ". A single trailing newline does
// not produce an extra empty numbered line.
func numberLines(content string) string {
	if content == "" {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d: %s", i+1, line)
	}
	return b.String()
}
