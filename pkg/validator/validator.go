// Package validator implements the Spec Validator of spec.md §4.1: it walks
// a parsed OpenAPI document, decides per-endpoint fate, and either returns
// warnings plus a skip set (non-strict) or rejects with every offending
// endpoint named (strict).
package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/naming"
	"github.com/kioku/aperture/pkg/openapidoc"
	"github.com/kioku/aperture/pkg/secscheme"
	"github.com/kioku/aperture/pkg/specmodel"
)

// EndpointKey identifies one operation for skip-set membership.
type EndpointKey struct {
	Method string
	Path   string
}

// Result is the validator's non-strict-mode output.
type Result struct {
	Warnings []string
	Skip     map[EndpointKey]string // method+path -> human reason
	Skipped  []specmodel.SkippedEndpoint
}

func (r *Result) skip(method, path, reason string) {
	r.Skip[EndpointKey{Method: method, Path: path}] = reason
	r.Skipped = append(r.Skipped, specmodel.SkippedEndpoint{Method: method, Path: path, Reason: reason})
	r.Warnings = append(r.Warnings, fmt.Sprintf("%s %s skipped: %s", method, path, reason))
}

// Validate runs the full §4.1 pipeline. strict=true turns every infeasible
// endpoint into part of a single rejection instead of a skip entry.
func Validate(doc *openapidoc.Document, mapping specmodel.CommandMapping, strict bool) (*Result, error) {
	if err := checkVersion(doc); err != nil {
		return nil, err
	}

	schemes := doc.SecuritySchemes()
	if err := checkSecretExtensions(schemes); err != nil {
		return nil, err
	}

	ops := collectOperations(doc)
	globalSecurity := doc.GlobalSecurity()

	// Name collisions are unconditional regardless of strict mode: renaming
	// via a command mapping can create one just as easily as the spec
	// itself, and there is no mode-dependent "skip the loser" option — §8
	// Scenario 3 requires config add to fail, naming both operation IDs.
	if err := checkNameCollisions(ops, mapping); err != nil {
		return nil, err
	}

	result := &Result{Skip: make(map[EndpointKey]string)}
	var infeasible []string

	for _, op := range ops {
		reasons := feasibilityReasons(op, schemes, globalSecurity)
		if len(reasons) == 0 {
			continue
		}
		reason := strings.Join(reasons, "; ")
		if strict {
			infeasible = append(infeasible, fmt.Sprintf("%s %s: %s", op.Method, op.Path, reason))
			continue
		}
		result.skip(op.Method, op.Path, reason)
	}

	if strict && len(infeasible) > 0 {
		sort.Strings(infeasible)
		return nil, apertureerr.New(apertureerr.Specification, "strict mode: infeasible endpoints present").
			WithDetails(map[string]any{"endpoints": infeasible})
	}
	return result, nil
}

// checkNameCollisions rejects, unconditionally, two operations that derive
// to the same display group/name pair — the same check pkg/transformer
// performs over the surviving (non-skipped) operation set, run here early so
// a collision is reported before any per-endpoint feasibility skip decision.
func checkNameCollisions(ops []rawOperation, mapping specmodel.CommandMapping) error {
	seen := make(map[string]string) // "group/name" -> operationId
	for _, op := range ops {
		derived := naming.Derive(op.Tags, op.OperationID, op.Method, mapping)
		key := derived.DisplayGroup + "/" + derived.DisplayName
		if owner, dup := seen[key]; dup {
			return apertureerr.New(apertureerr.Validation, "command name collision").
				WithContext(fmt.Sprintf("%s vs %s", owner, op.OperationID))
		}
		seen[key] = op.OperationID
	}
	return nil
}

// rawOperation bundles one path+method operation with its decoded fields.
type rawOperation struct {
	Method      string
	Path        string
	OperationID string
	Tags        []string
	Raw         map[string]any
}

func collectOperations(doc *openapidoc.Document) []rawOperation {
	var ops []rawOperation
	for _, path := range doc.Paths() {
		item := doc.PathItem(path)
		for _, mo := range doc.Operations(item) {
			opID, _ := mo.Op["operationId"].(string)
			var tags []string
			for _, t := range sliceAny(mo.Op["tags"]) {
				if s, ok := t.(string); ok {
					tags = append(tags, s)
				}
			}
			ops = append(ops, rawOperation{Method: mo.Method, Path: path, OperationID: opID, Tags: tags, Raw: mo.Op})
		}
	}
	return ops
}

func sliceAny(v any) []any {
	s, _ := v.([]any)
	return s
}

// feasibilityReasons returns zero or more human-readable reasons an
// endpoint is infeasible, per spec.md §4.1's three feasibility checks
// (name feasibility is checked by the caller, which has cross-endpoint state).
func feasibilityReasons(op rawOperation, schemes map[string]any, globalSecurity []any) []string {
	var reasons []string
	if !requestBodyFeasible(op.Raw) {
		reasons = append(reasons, "request body has no application/json (or +json) content")
	}
	if !authFeasible(op.Raw, schemes, globalSecurity) {
		reasons = append(reasons, "no security requirement set resolves to only supported schemes")
	}
	return reasons
}

func requestBodyFeasible(op map[string]any) bool {
	body, ok := op["requestBody"].(map[string]any)
	if !ok {
		return true // no body at all: feasible
	}
	content, _ := body["content"].(map[string]any)
	for mediaType := range content {
		if openapidoc.ContentTypeMatches(mediaType) {
			return true
		}
	}
	return len(content) == 0 // a body with an empty content map is degenerate but not infeasible
}

func authFeasible(op map[string]any, schemes map[string]any, globalSecurity []any) bool {
	sets, hasOwn := op["security"].([]any)
	if !hasOwn {
		sets = globalSecurity
	}
	if len(sets) == 0 {
		return true // no auth required
	}
	for _, rawSet := range sets {
		reqSet, ok := rawSet.(map[string]any)
		if !ok {
			continue
		}
		if len(reqSet) == 0 {
			return true
		}
		allSupported := true
		for schemeName := range reqSet {
			schemeRaw, ok := schemes[schemeName].(map[string]any)
			if !ok || secscheme.Unsupported(schemeRaw) {
				allSupported = false
				break
			}
		}
		if allSupported {
			return true
		}
	}
	return false
}

func checkVersion(doc *openapidoc.Document) error {
	v := doc.Version()
	if strings.HasPrefix(v, "3.1") {
		return apertureerr.New(apertureerr.Specification, "OpenAPI 3.1.x is not supported").WithContext(v)
	}
	if !strings.HasPrefix(v, "3.0") {
		return apertureerr.New(apertureerr.Specification, "unsupported or missing openapi version").WithContext(v)
	}
	return nil
}

func checkSecretExtensions(schemes map[string]any) error {
	for name, raw := range schemes {
		rawMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if _, err := secscheme.ParseSecretExtension(rawMap); err != nil {
			return apertureerr.Wrap(apertureerr.Specification, err, "invalid x-aperture-secret").WithContext(name)
		}
	}
	return nil
}

var contextNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateContextName enforces spec.md §3's filesystem-safe character class
// for API context names: no path separators, no "..".
func ValidateContextName(name string) error {
	if name == "" || !contextNameRe.MatchString(name) || strings.Contains(name, "..") {
		return apertureerr.New(apertureerr.Specification, "invalid context name").WithContext(name).
			WithHint("use only letters, digits, '.', '_' and '-'")
	}
	return nil
}
