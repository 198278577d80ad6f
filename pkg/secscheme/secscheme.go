// Package secscheme classifies raw OpenAPI `components.securitySchemes`
// entries into the flattened Cached Spec variant and validates the
// `x-aperture-secret` extension, grounded on spec.md §3/§4.1.
package secscheme

import (
	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/specmodel"
)

// Unsupported reports whether a raw scheme is one of the variants spec.md
// §4.1 excludes from authentication feasibility: oauth2, openIdConnect, or
// http with scheme negotiate/oauth.
func Unsupported(raw map[string]any) bool {
	t, _ := raw["type"].(string)
	switch t {
	case "oauth2", "openIdConnect":
		return true
	case "http":
		scheme, _ := raw["scheme"].(string)
		return scheme == "negotiate" || scheme == "oauth"
	}
	return false
}

// Classify converts one raw securitySchemes entry into the Cached Spec's
// flattened SecurityScheme variant. Caller must have already rejected
// Unsupported entries.
func Classify(raw map[string]any) (specmodel.SecurityScheme, error) {
	t, _ := raw["type"].(string)
	switch t {
	case "apiKey":
		loc, _ := raw["in"].(string)
		name, _ := raw["name"].(string)
		return specmodel.SecurityScheme{
			Type:     specmodel.SchemeApiKey,
			Location: specmodel.ParamLocation(loc),
			KeyName:  name,
		}, nil
	case "http":
		scheme, _ := raw["scheme"].(string)
		switch scheme {
		case "bearer":
			return specmodel.SecurityScheme{Type: specmodel.SchemeHttpBearer}, nil
		case "basic":
			return specmodel.SecurityScheme{Type: specmodel.SchemeHttpBasic}, nil
		default:
			return specmodel.SecurityScheme{Type: specmodel.SchemeHttpCustom, SchemeName: scheme}, nil
		}
	default:
		return specmodel.SecurityScheme{}, apertureerr.New(apertureerr.Specification, "unsupported security scheme type").WithContext(t)
	}
}

// ParseSecretExtension validates and extracts the x-aperture-secret
// extension block. A present-but-malformed block (source other than "env",
// or a missing name) is a hard rejection regardless of strict mode
// (spec.md §4.1, "Rejected unconditionally"). A wholly absent extension is
// not an error — it returns (nil, nil).
func ParseSecretExtension(raw map[string]any) (*specmodel.SecretBinding, error) {
	ext, ok := raw["x-aperture-secret"].(map[string]any)
	if !ok {
		return nil, nil
	}
	source, _ := ext["source"].(string)
	name, _ := ext["name"].(string)
	if source != "env" || name == "" {
		return nil, apertureerr.New(apertureerr.Specification, `x-aperture-secret must have source "env" and a non-empty name`)
	}
	return &specmodel.SecretBinding{Source: "env", Name: name}, nil
}
