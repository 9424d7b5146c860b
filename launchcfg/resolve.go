package launchcfg

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	filePlaceholder = "${file}"
	rootPlaceholder = "${workspaceFolder}"
)

// pathEscaper escapes characters that gjson/sjson paths treat specially, so
// configuration keys address the literal field.
var pathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)

// Resolve derives a concrete launch configuration from a stored entry.
// ${file} is replaced in every top-level string field with the target file
// path, and ${workspaceFolder} is replaced inside the env map's string
// values with the workspace root. Nested and non-string fields otherwise
// pass through untouched.
func Resolve(entry json.RawMessage, file, workspaceRoot string) (json.RawMessage, error) {
	out := []byte(entry)
	var setErr error
	gjson.ParseBytes(entry).ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.String || !strings.Contains(value.Str, filePlaceholder) {
			return true
		}
		replaced := strings.ReplaceAll(value.Str, filePlaceholder, file)
		out, setErr = sjson.SetBytes(out, pathEscaper.Replace(key.Str), replaced)
		return setErr == nil
	})
	if setErr != nil {
		return nil, fmt.Errorf("substitute %s: %w", filePlaceholder, setErr)
	}

	if env := gjson.GetBytes(entry, "env"); env.IsObject() {
		env.ForEach(func(key, value gjson.Result) bool {
			if value.Type != gjson.String || !strings.Contains(value.Str, rootPlaceholder) {
				return true
			}
			replaced := strings.ReplaceAll(value.Str, rootPlaceholder, workspaceRoot)
			out, setErr = sjson.SetBytes(out, "env."+pathEscaper.Replace(key.Str), replaced)
			return setErr == nil
		})
		if setErr != nil {
			return nil, fmt.Errorf("substitute %s: %w", rootPlaceholder, setErr)
		}
	}
	return json.RawMessage(out), nil
}
