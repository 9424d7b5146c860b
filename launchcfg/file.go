// Package launchcfg reads debug launch configurations from a workspace and
// derives per-launch configurations from them.
package launchcfg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	primaryPath  = ".vscode/launch.json"
	fallbackPath = "launch.json"
)

// File reads launch configurations from the workspace's launch.json. It
// re-reads the file on every query, so edits are picked up without a
// restart. A missing file is not an error; it simply yields no
// configurations.
type File struct {
	root string
	log  *zap.SugaredLogger
}

// NewFile returns a File rooted at the given workspace directory.
func NewFile(root string, log *zap.SugaredLogger) *File {
	return &File{root: root, log: log}
}

// Configurations returns the entries of the "configurations" array, in file
// order, as raw JSON. Editor-style comments and trailing commas in the file
// are tolerated.
func (f *File) Configurations(ctx context.Context) ([]json.RawMessage, error) {
	data, path, err := f.read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	entries := gjson.GetBytes(stripJSONC(data), "configurations")
	if !entries.IsArray() {
		f.log.Debugw("launch file has no configurations array", "path", path)
		return nil, nil
	}
	var out []json.RawMessage
	for _, entry := range entries.Array() {
		out = append(out, json.RawMessage(entry.Raw))
	}
	f.log.Debugw("loaded launch configurations", "path", path, "count", len(out))
	return out, nil
}

func (f *File) read() ([]byte, string, error) {
	path := filepath.Join(f.root, primaryPath)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		path = filepath.Join(f.root, fallbackPath)
		data, err = os.ReadFile(path)
	}
	return data, path, err
}

// stripJSONC removes // and /* */ comments and trailing commas so that
// editor-managed launch files parse as plain JSON. String contents are left
// intact.
func stripJSONC(src []byte) []byte {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '"':
			j := skipString(src, i)
			out = append(out, src[i:j]...)
			i = j
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := bytes.Index(src[i+2:], []byte("*/"))
			if end < 0 {
				i = len(src)
			} else {
				i += 2 + end + 2
			}
		default:
			out = append(out, c)
			i++
		}
	}
	return stripTrailingCommas(out)
}

func stripTrailingCommas(src []byte) []byte {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		c := src[i]
		if c == '"' {
			j := skipString(src, i)
			out = append(out, src[i:j]...)
			i = j
			continue
		}
		if c == ',' {
			k := i + 1
			for k < len(src) && isJSONSpace(src[k]) {
				k++
			}
			if k < len(src) && (src[k] == '}' || src[k] == ']') {
				i++
				continue
			}
		}
		out = append(out, c)
		i++
	}
	return out
}

// skipString returns the index just past the string literal starting at
// src[start], which must be a double quote.
func skipString(src []byte, start int) int {
	j := start + 1
	for j < len(src) && src[j] != '"' {
		if src[j] == '\\' {
			j++
		}
		j++
	}
	if j < len(src) {
		j++
	}
	return j
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
