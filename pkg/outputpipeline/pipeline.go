// Package outputpipeline implements spec.md §4.7: parse the response body
// as JSON, optionally apply a trivial JQ-subset filter, then format as
// JSON/YAML/table.
package outputpipeline

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/tidwall/gjson"

	"github.com/kioku/aperture/internal/console"
	"github.com/kioku/aperture/internal/logging"
	"github.com/kioku/aperture/pkg/apertureerr"
)

var log = logging.New("outputpipeline")

// Format is one of the --format values of spec.md §4.7.
type Format string

const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatTable Format = "table"
)

// trivialJQ matches only: ".", ".a", ".a.b", ".a[0]", and chains thereof.
// Anything else is rejected with a Runtime "unsupported jq expression" error.
var trivialJQ = regexp.MustCompile(`^\.([A-Za-z_][A-Za-z0-9_]*(\[\d+\])?)(\.[A-Za-z_][A-Za-z0-9_]*(\[\d+\])?)*$`)

// ApplyJQ applies a trivial JQ-subset expression to raw JSON bytes.
func ApplyJQ(data []byte, expr string) ([]byte, error) {
	if expr == "" || expr == "." {
		return data, nil
	}
	if !trivialJQ.MatchString(expr) {
		return nil, apertureerr.New(apertureerr.Runtime, "unsupported jq expression").WithContext(expr).
			WithHint(`only ".", ".a", ".a.b" and ".a[N]" forms are supported`)
	}

	path := toGJSONPath(expr)
	result := gjson.GetBytes(data, path)
	if !result.Exists() {
		return []byte("null"), nil
	}
	return []byte(result.Raw), nil
}

// toGJSONPath converts ".a.b[0]" into gjson's "a.b.0" dot-path syntax.
func toGJSONPath(expr string) string {
	expr = strings.TrimPrefix(expr, ".")
	expr = strings.ReplaceAll(expr, "[", ".")
	expr = strings.ReplaceAll(expr, "]", "")
	return expr
}

// FormatBytes renders raw (already-filtered) JSON bytes per --format.
// interactive controls pretty-printing in json mode (spec.md §4.7: pretty
// if interactive, compact otherwise).
func FormatBytes(data []byte, format Format, interactive bool) ([]byte, error) {
	switch format {
	case "", FormatJSON:
		return formatJSON(data, interactive)
	case FormatYAML:
		return formatYAML(data)
	case FormatTable:
		return formatTable(data)
	default:
		return nil, apertureerr.New(apertureerr.Runtime, "unknown output format").WithContext(string(format))
	}
}

func formatJSON(data []byte, interactive bool) ([]byte, error) {
	if !interactive {
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return data, nil // already compact or not valid JSON: pass through
		}
		return buf.Bytes(), nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return data, nil
	}
	return buf.Bytes(), nil
}

func formatYAML(data []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, apertureerr.Wrap(apertureerr.Runtime, err, "parse response as JSON for yaml output")
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return nil, apertureerr.Wrap(apertureerr.Runtime, err, "marshal yaml output")
	}
	return out, nil
}

func formatTable(data []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, apertureerr.Wrap(apertureerr.Runtime, err, "parse response as JSON for table output")
	}

	rows, ok := v.([]any)
	if !ok {
		log.Printf("table format requires an array of objects; falling back to JSON")
		return formatJSON(data, true)
	}

	keySet := map[string]bool{}
	var keys []string
	var tableRows [][]string
	parsed := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		obj, ok := r.(map[string]any)
		if !ok {
			return formatJSON(data, true)
		}
		parsed = append(parsed, obj)
		for k := range obj {
			if !keySet[k] {
				keySet[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)

	for _, obj := range parsed {
		row := make([]string, len(keys))
		for i, k := range keys {
			row[i] = cellString(obj[k])
		}
		tableRows = append(tableRows, row)
	}

	return []byte(console.RenderTable(keys, tableRows)), nil
}

func cellString(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		data, _ := json.Marshal(t)
		return string(data)
	}
}
