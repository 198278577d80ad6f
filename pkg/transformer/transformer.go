// Package transformer implements the Spec Transformer of spec.md §4.2: it
// turns a validated OpenAPI document plus a skip set and an Api Config's
// command mapping into a Cached Spec ready for gob serialization.
package transformer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kioku/aperture/internal/stringutil"
	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/naming"
	"github.com/kioku/aperture/pkg/openapidoc"
	"github.com/kioku/aperture/pkg/secscheme"
	"github.com/kioku/aperture/pkg/specmodel"
	"github.com/kioku/aperture/pkg/validator"
)

// Transform produces a Cached Spec from a validated document.
func Transform(name string, doc *openapidoc.Document, skip map[validator.EndpointKey]string, skipped []specmodel.SkippedEndpoint, mapping specmodel.CommandMapping) (*specmodel.CachedSpec, error) {
	spec := &specmodel.CachedSpec{
		FormatVersion:    specmodel.FormatVersion,
		Name:             name,
		InfoTitle:        doc.InfoTitle(),
		InfoVersion:      doc.InfoVersion(),
		InfoDesc:         doc.InfoDescription(),
		Servers:          transformServers(doc),
		SecuritySchemes:  transformSecuritySchemes(doc),
		GlobalSecurity:   transformSecurityRequirements(doc.GlobalSecurity()),
		SkippedEndpoints: skipped,
	}

	seen := make(map[string]string) // "group/name" -> operationId, for invariant 3
	seenAliases := make(map[string]string)

	for _, path := range doc.Paths() {
		item := doc.PathItem(path)
		for _, mo := range doc.Operations(item) {
			key := validator.EndpointKey{Method: mo.Method, Path: path}
			if _, skipped := skip[key]; skipped {
				continue
			}

			op, err := transformOperation(doc, mo.Method, path, mo.Op, mapping)
			if err != nil {
				return nil, err
			}

			dupKey := op.DisplayGroup + "/" + op.DisplayName
			if owner, dup := seen[dupKey]; dup {
				return nil, apertureerr.New(apertureerr.Validation, "command name collision").
					WithContext(fmt.Sprintf("%s vs %s", owner, op.OperationID))
			}
			seen[dupKey] = op.OperationID

			for _, alias := range op.Aliases {
				aliasKey := op.DisplayGroup + "/" + alias
				if owner, dup := seenAliases[aliasKey]; dup {
					return nil, apertureerr.New(apertureerr.Validation, "alias collision").
						WithContext(fmt.Sprintf("%s vs %s", owner, op.OperationID))
				}
				seenAliases[aliasKey] = op.OperationID
			}

			spec.Commands = append(spec.Commands, *op)
		}
	}

	return spec, nil
}

func transformServers(doc *openapidoc.Document) []specmodel.Server {
	var out []specmodel.Server
	for _, raw := range doc.RawServers() {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		urlTemplate, _ := obj["url"].(string)
		server := specmodel.Server{URLTemplate: urlTemplate, Variables: map[string]specmodel.ServerVariable{}}

		vars, _ := obj["variables"].(map[string]any)
		for name, rawVar := range vars {
			varObj, ok := rawVar.(map[string]any)
			if !ok {
				continue
			}
			sv := specmodel.ServerVariable{Description: stringField(varObj, "description")}
			if def, ok := varObj["default"].(string); ok {
				sv.Default = &def
			}
			for _, e := range sliceAny(varObj["enum"]) {
				if s, ok := e.(string); ok {
					sv.Enum = append(sv.Enum, s)
				}
			}
			server.Variables[name] = sv
		}
		out = append(out, server)
	}
	return out
}

func transformSecuritySchemes(doc *openapidoc.Document) map[string]specmodel.SecurityScheme {
	out := make(map[string]specmodel.SecurityScheme)
	for name, raw := range doc.SecuritySchemes() {
		rawMap, ok := raw.(map[string]any)
		if !ok || secscheme.Unsupported(rawMap) {
			continue
		}
		scheme, err := secscheme.Classify(rawMap)
		if err != nil {
			continue
		}
		secret, _ := secscheme.ParseSecretExtension(rawMap) // already validated by the Validator
		scheme.Secret = secret
		out[name] = scheme
	}
	return out
}

func transformSecurityRequirements(raw []any) []specmodel.SecurityRequirement {
	var out []specmodel.SecurityRequirement
	for _, r := range raw {
		set, ok := r.(map[string]any)
		if !ok {
			continue
		}
		req := specmodel.SecurityRequirement{}
		for schemeName := range set {
			req.Schemes = append(req.Schemes, schemeName)
		}
		sort.Strings(req.Schemes)
		out = append(out, req)
	}
	return out
}

func transformOperation(doc *openapidoc.Document, method, path string, raw map[string]any, mapping specmodel.CommandMapping) (*specmodel.CachedOperation, error) {
	operationID, _ := raw["operationId"].(string)

	var tags []string
	for _, t := range sliceAny(raw["tags"]) {
		if s, ok := t.(string); ok {
			tags = append(tags, s)
		}
	}
	kebabTags := make([]string, len(tags))
	for i, t := range tags {
		kebabTags[i] = stringutil.Kebab(t)
	}

	params, err := transformParameters(doc, raw)
	if err != nil {
		return nil, err
	}

	body, err := transformRequestBody(raw)
	if err != nil {
		return nil, err
	}

	derived := naming.Derive(tags, operationID, method, mapping)

	op := &specmodel.CachedOperation{
		Method:         method,
		PathTemplate:   path,
		OperationID:    operationID,
		Summary:        stringField(raw, "summary"),
		Description:    stringField(raw, "description"),
		Tags:           tags,
		TagsKebab:      kebabTags,
		Parameters:     params,
		RequestBody:    body,
		ResponseSchema: transformResponseSchema(doc, raw),
		Group:          derived.Group,
		Name:           derived.Name,
		DisplayGroup:   derived.DisplayGroup,
		DisplayName:    derived.DisplayName,
		Aliases:        derived.Aliases,
		Hidden:         derived.Hidden,
	}
	if sec, hasOwn := raw["security"]; hasOwn {
		op.Security = transformSecurityRequirements(sliceAny(sec))
	}
	return op, nil
}

func transformParameters(doc *openapidoc.Document, raw map[string]any) ([]specmodel.Parameter, error) {
	var out []specmodel.Parameter
	for _, item := range sliceAny(raw["parameters"]) {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if ref, hasRef := obj["$ref"].(string); hasRef {
			resolved, err := doc.ResolveParameterRef(ref)
			if err != nil {
				return nil, err
			}
			obj = resolved
		}

		name, _ := obj["name"].(string)
		location, _ := obj["in"].(string)
		required, _ := obj["required"].(bool)
		schema, _ := obj["schema"].(map[string]any)

		out = append(out, specmodel.Parameter{
			Name:        name,
			Location:    specmodel.ParamLocation(location),
			Required:    required,
			TypeHint:    typeHintOf(schema),
			Description: stringField(obj, "description"),
			SchemaJSON:  marshalOrEmpty(schema),
		})
	}
	return out, nil
}

func transformRequestBody(raw map[string]any) (*specmodel.RequestBody, error) {
	body, ok := raw["requestBody"].(map[string]any)
	if !ok {
		return nil, nil
	}
	content, _ := body["content"].(map[string]any)
	for mediaType, mv := range content {
		if !openapidoc.ContentTypeMatches(mediaType) {
			continue
		}
		mediaObj, _ := mv.(map[string]any)
		schema, _ := mediaObj["schema"].(map[string]any)
		required, _ := body["required"].(bool)
		return &specmodel.RequestBody{
			ContentType: "application/json",
			Required:    required,
			SchemaJSON:  marshalOrEmpty(schema),
			Description: stringField(body, "description"),
		}, nil
	}
	return nil, nil
}

var canonicalOrder = []string{"200", "201", "204"}

func transformResponseSchema(doc *openapidoc.Document, raw map[string]any) *specmodel.ResponseSchema {
	responses, _ := raw["responses"].(map[string]any)
	if responses == nil {
		return nil
	}

	status := ""
	for _, candidate := range canonicalOrder {
		if _, ok := responses[candidate]; ok {
			status = candidate
			break
		}
	}
	if status == "" {
		var twoXX []string
		for code := range responses {
			if strings.HasPrefix(code, "2") {
				twoXX = append(twoXX, code)
			}
		}
		sort.Strings(twoXX)
		if len(twoXX) == 0 {
			return nil
		}
		status = twoXX[0]
	}

	resp, _ := responses[status].(map[string]any)
	content, _ := resp["content"].(map[string]any)
	for mediaType, mv := range content {
		if !openapidoc.ContentTypeMatches(mediaType) {
			continue
		}
		mediaObj, _ := mv.(map[string]any)
		schema, _ := mediaObj["schema"].(map[string]any)
		if ref, hasRef := schema["$ref"].(string); hasRef {
			if name, ok := strings.CutPrefix(ref, "#/components/schemas/"); ok {
				if resolved := doc.Schema(name); resolved != nil {
					schema = resolved
				}
			}
		}
		return &specmodel.ResponseSchema{
			ContentType: "application/json",
			SchemaJSON:  marshalOrEmpty(schema),
			ExampleJSON: marshalOrEmpty(mediaObj["example"]),
		}
	}
	return nil
}

func typeHintOf(schema map[string]any) specmodel.TypeHint {
	t, _ := schema["type"].(string)
	switch t {
	case "integer":
		return specmodel.TypeInteger
	case "number":
		return specmodel.TypeNumber
	case "boolean":
		return specmodel.TypeBoolean
	case "array":
		return specmodel.TypeArray
	default:
		return specmodel.TypeString
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func sliceAny(v any) []any {
	s, _ := v.([]any)
	return s
}

func marshalOrEmpty(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
