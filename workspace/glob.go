package workspace

import (
	"path/filepath"
	"strings"
)

// DefaultExcludePatterns are applied by ListFiles when the caller supplies no
// exclude set. They cover version-control metadata and dependency directories.
var DefaultExcludePatterns = []string{
	"**/.git/**",
	"**/.svn/**",
	"**/.hg/**",
	"**/node_modules/**",
	"**/bower_components/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/.DS_Store",
}

// matchPattern reports whether relPath (slash-separated, relative to a
// workspace root) matches a single glob pattern. Supported syntax: the
// filepath.Match set (*, ?, character classes) plus ** path components in the
// gitignore style: "**/name/**" matches name as any component, "**/name"
// matches any suffix, "prefix/**" matches anything under prefix.
func matchPattern(pattern, relPath string) bool {
	pattern = filepath.ToSlash(pattern)
	relPath = filepath.ToSlash(relPath)

	if strings.Contains(pattern, "**") {
		return matchDoubleGlob(pattern, relPath)
	}

	if strings.Contains(pattern, "/") {
		if ok, _ := filepath.Match(pattern, relPath); ok {
			return true
		}
		// Allow path-shaped patterns to match at any depth.
		parts := strings.Split(relPath, "/")
		for i := range parts {
			if ok, _ := filepath.Match(pattern, strings.Join(parts[i:], "/")); ok {
				return true
			}
		}
		return false
	}

	// Bare patterns match the basename or any single path component.
	if ok, _ := filepath.Match(pattern, filepath.Base(relPath)); ok {
		return true
	}
	for _, part := range strings.Split(relPath, "/") {
		if ok, _ := filepath.Match(pattern, part); ok {
			return true
		}
	}
	return false
}

func matchDoubleGlob(pattern, path string) bool {
	pathParts := strings.Split(path, "/")

	if strings.HasPrefix(pattern, "**/") {
		rest := strings.TrimPrefix(pattern, "**/")

		if middle, ok := strings.CutSuffix(rest, "/**"); ok {
			// **/name/** : name appears as any path component.
			for _, part := range pathParts {
				if ok, _ := filepath.Match(middle, part); ok {
					return true
				}
			}
			return false
		}

		// **/name : matches any path suffix.
		for i := range pathParts {
			if ok, _ := filepath.Match(rest, strings.Join(pathParts[i:], "/")); ok {
				return true
			}
			if !strings.Contains(rest, "/") {
				if ok, _ := filepath.Match(rest, pathParts[i]); ok {
					return true
				}
			}
		}
		return false
	}

	// prefix/**, prefix/**/suffix
	parts := strings.SplitN(pattern, "**", 2)
	prefix := strings.TrimSuffix(parts[0], "/")
	suffix := strings.TrimPrefix(parts[1], "/")

	if prefix != "" && path != prefix && !strings.HasPrefix(path, prefix+"/") {
		return false
	}
	if suffix == "" {
		return prefix == "" || path != prefix
	}
	if strings.HasSuffix(path, suffix) {
		return true
	}
	for i := range pathParts {
		if ok, _ := filepath.Match(suffix, strings.Join(pathParts[i:], "/")); ok {
			return true
		}
	}
	return false
}

// matchAny reports whether relPath matches any pattern in the set.
func matchAny(patterns []string, relPath string) bool {
	for _, p := range patterns {
		if matchPattern(p, relPath) {
			return true
		}
	}
	return false
}
