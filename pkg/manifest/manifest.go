// Package manifest projects a Cached Spec into the Capability Manifest JSON
// of spec.md §4.9/§6 ("Capability manifest JSON"), grouped by effective
// display_group, for `--describe-json`.
package manifest

import (
	"encoding/json"

	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/specmodel"
)

// Scheme is the manifest's projection of a security scheme.
type Scheme struct {
	Type           specmodel.SchemeType  `json:"type"`
	Location       specmodel.ParamLocation `json:"location,omitempty"`
	KeyName        string                `json:"key_name,omitempty"`
	SchemeName     string                `json:"scheme_name,omitempty"`
	ApertureSecret *SecretExtension      `json:"x-aperture-secret,omitempty"`
}

// SecretExtension mirrors the x-aperture-secret extension shape.
type SecretExtension struct {
	Source string `json:"source"`
	Name   string `json:"name"`
}

// Command is the manifest's projection of a Cached Operation.
type Command struct {
	Name                 string                           `json:"name"`
	Method               string                           `json:"method"`
	Path                 string                           `json:"path"`
	Description          string                           `json:"description,omitempty"`
	Summary              string                           `json:"summary,omitempty"`
	OperationID          string                           `json:"operation_id,omitempty"`
	Parameters           []specmodel.Parameter            `json:"parameters,omitempty"`
	RequestBody          *specmodel.RequestBody           `json:"request_body,omitempty"`
	SecurityRequirements []specmodel.SecurityRequirement  `json:"security_requirements,omitempty"`
	Tags                 []string                         `json:"tags,omitempty"`
	ResponseSchema       *specmodel.ResponseSchema        `json:"response_schema,omitempty"`

	DisplayName  string   `json:"display_name,omitempty"`
	DisplayGroup string   `json:"display_group,omitempty"`
	Aliases      []string `json:"aliases,omitempty"`
	Hidden       bool     `json:"hidden,omitempty"`
}

// Api is the manifest's root "api" object.
type Api struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	BaseURL     string `json:"base_url,omitempty"`
}

// Manifest is the full root object of spec.md §6's "Capability manifest JSON".
type Manifest struct {
	Api             Api                  `json:"api"`
	Commands        map[string][]Command `json:"commands"`
	SecuritySchemes map[string]Scheme    `json:"security_schemes"`
}

// Build projects spec into a Manifest. baseURL is the resolved base URL for
// display purposes only (it plays no role in request assembly here).
func Build(spec *specmodel.CachedSpec, baseURL string) *Manifest {
	m := &Manifest{
		Api: Api{
			Name:        spec.Name,
			Version:     spec.InfoVersion,
			Description: spec.InfoDesc,
			BaseURL:     baseURL,
		},
		Commands:        map[string][]Command{},
		SecuritySchemes: map[string]Scheme{},
	}

	for _, op := range spec.Commands {
		if op.Hidden {
			continue
		}
		cmd := Command{
			Name:                 op.DisplayName,
			Method:               op.Method,
			Path:                 op.PathTemplate,
			Description:          op.Description,
			Summary:              op.Summary,
			OperationID:          op.OperationID,
			Parameters:           op.Parameters,
			RequestBody:          op.RequestBody,
			SecurityRequirements: effectiveSecurity(op, spec.GlobalSecurity),
			Tags:                 op.Tags,
			ResponseSchema:       op.ResponseSchema,
		}
		if op.DisplayName != op.Name {
			cmd.DisplayName = op.DisplayName
		}
		if op.DisplayGroup != op.Group {
			cmd.DisplayGroup = op.DisplayGroup
		}
		if len(op.Aliases) > 0 {
			cmd.Aliases = op.Aliases
		}
		m.Commands[op.DisplayGroup] = append(m.Commands[op.DisplayGroup], cmd)
	}

	for name, scheme := range spec.SecuritySchemes {
		projected := Scheme{
			Type:       scheme.Type,
			Location:   scheme.Location,
			KeyName:    scheme.KeyName,
			SchemeName: scheme.SchemeName,
		}
		if scheme.Secret != nil {
			projected.ApertureSecret = &SecretExtension{Source: scheme.Secret.Source, Name: scheme.Secret.Name}
		}
		m.SecuritySchemes[name] = projected
	}

	return m
}

func effectiveSecurity(op specmodel.CachedOperation, globalSecurity []specmodel.SecurityRequirement) []specmodel.SecurityRequirement {
	if op.Security != nil {
		return op.Security
	}
	return globalSecurity
}

// MarshalJSON renders m as compact JSON, per spec.md §4.9's short-circuit:
// apply --jq (by the caller, via outputpipeline) before formatting.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type alias Manifest
	data, err := json.Marshal((*alias)(m))
	if err != nil {
		return nil, apertureerr.Wrap(apertureerr.Runtime, err, "marshal capability manifest")
	}
	return data, nil
}
