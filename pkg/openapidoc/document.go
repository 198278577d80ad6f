// Package openapidoc decodes raw OpenAPI 3.x source bytes (JSON or YAML)
// into a loosely-typed navigable document and offers the primitives the
// Validator and Transformer need: bounded $ref resolution and content-type
// matching (security-scheme classification lives in pkg/secscheme). It deliberately does not
// build a fully-typed OpenAPI object model — the supported subset (spec.md
// §4.1) is narrow enough that a generic map walk, in the style of the
// frontmatter walking in the teacher's parser package, is simpler and lets
// Aperture enforce its own bounded-depth $ref semantics rather than
// inheriting whatever a general-purpose OpenAPI library chooses.
package openapidoc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/kioku/aperture/pkg/apertureerr"
)

// Document is a decoded OpenAPI source document.
type Document struct {
	root map[string]any
}

// Parse decodes JSON or YAML source bytes into a Document. goccy/go-yaml
// accepts JSON as a YAML subset, so one entry point covers both.
func Parse(source []byte) (*Document, error) {
	var root map[string]any
	if err := yaml.Unmarshal(source, &root); err != nil {
		return nil, apertureerr.Wrap(apertureerr.Specification, err, "could not parse OpenAPI source")
	}
	if root == nil {
		return nil, apertureerr.New(apertureerr.Specification, "OpenAPI source is empty")
	}
	return &Document{root: root}, nil
}

// Version returns the `openapi` field verbatim.
func (d *Document) Version() string { return getString(d.root, "openapi") }

// InfoTitle, InfoVersion, InfoDescription return the `info` block fields.
func (d *Document) InfoTitle() string { return getString(getMap(d.root, "info"), "title") }
func (d *Document) InfoVersion() string { return getString(getMap(d.root, "info"), "version") }
func (d *Document) InfoDescription() string {
	return getString(getMap(d.root, "info"), "description")
}

// Paths returns the `paths` block in deterministic (sorted) key order so
// callers get the stable command ordering invariant of spec.md §3.
func (d *Document) Paths() []string {
	paths := getMap(d.root, "paths")
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PathItem returns the raw map for one `paths.<path>` entry.
func (d *Document) PathItem(path string) map[string]any {
	return getMap(getMap(d.root, "paths"), path)
}

// httpMethods are the operation keys recognized inside a path item, in the
// fixed order commands are emitted when a path declares several.
var httpMethods = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

// Operations returns (method, operation-map) pairs for one path item.
func (d *Document) Operations(pathItem map[string]any) []MethodOp {
	var ops []MethodOp
	for _, m := range httpMethods {
		if op := getMap(pathItem, m); op != nil {
			ops = append(ops, MethodOp{Method: strings.ToUpper(m), Op: op})
		}
	}
	return ops
}

// MethodOp pairs an HTTP method with its raw operation object.
type MethodOp struct {
	Method string
	Op     map[string]any
}

// GlobalSecurity returns the document-level `security` array, raw.
func (d *Document) GlobalSecurity() []any { return getSlice(d.root, "security") }

// RawServers returns the document-level `servers` array, raw, for callers
// (the Transformer) that build the typed specmodel.Server slice themselves.
func (d *Document) RawServers() []any { return getSlice(d.root, "servers") }

// SecuritySchemes returns `components.securitySchemes`, raw.
func (d *Document) SecuritySchemes() map[string]any {
	return getMap(getMap(d.root, "components"), "securitySchemes")
}

// Schema resolves a top-level `components.schemas.<name>` reference one hop
// (spec.md §4.2 response-schema extraction rule); returns nil if absent.
func (d *Document) Schema(name string) map[string]any {
	components := getMap(d.root, "components")
	schemas := getMap(components, "schemas")
	if schemas == nil {
		return nil
	}
	return asMap(schemas[name])
}

const maxRefDepth = 10

// ResolveParameterRef follows a `#/components/parameters/<name>` $ref,
// chasing further $refs up to maxRefDepth hops. Returns
// Specification.CircularReference if a cycle or depth overrun is detected.
func (d *Document) ResolveParameterRef(ref string) (map[string]any, error) {
	seen := make(map[string]bool)
	current := ref
	for hop := 0; hop < maxRefDepth; hop++ {
		if seen[current] {
			return nil, apertureerr.New(apertureerr.Specification, "circular $ref in parameter chain").
				WithContext(current).WithDetails(map[string]any{"ref": current})
		}
		seen[current] = true

		name, ok := strings.CutPrefix(current, "#/components/parameters/")
		if !ok {
			return nil, apertureerr.New(apertureerr.Specification, "unsupported $ref target").WithContext(current)
		}
		params := getMap(getMap(d.root, "components"), "parameters")
		obj, ok := params[name].(map[string]any)
		if !ok {
			return nil, apertureerr.New(apertureerr.Specification, "unresolvable parameter $ref").WithContext(current)
		}
		next, hasRef := obj["$ref"].(string)
		if !hasRef {
			return obj, nil
		}
		current = next
	}
	return nil, apertureerr.New(apertureerr.Specification, "parameter $ref chain exceeds max depth").
		WithContext(ref).WithDetails(map[string]any{"max_depth": maxRefDepth})
}

// ContentTypeMatches implements the case-insensitive, parameter-stripped,
// `application/json`-or-`+json` matching rule of spec.md §4.1.
func ContentTypeMatches(mediaType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if idx := strings.Index(mt, ";"); idx >= 0 {
		mt = strings.TrimSpace(mt[:idx])
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// --- generic map navigation helpers ---

func getMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, ok := m[key]
	if !ok {
		return nil
	}
	return asMap(v)
}

func asMap(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out
	default:
		return nil
	}
}

func getString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func getBool(m map[string]any, key string) (bool, bool) {
	if m == nil {
		return false, false
	}
	b, ok := m[key].(bool)
	return b, ok
}

func getSlice(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	s, _ := m[key].([]any)
	return s
}
