package manifest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku/aperture/pkg/specmodel"
)

func TestBuildGroupsCommandsByDisplayGroup(t *testing.T) {
	spec := &specmodel.CachedSpec{
		Name:        "petstore",
		InfoVersion: "1.0.0",
		Commands: []specmodel.CachedOperation{
			{Method: "GET", PathTemplate: "/pets", Group: "pets", Name: "list", DisplayGroup: "pets", DisplayName: "list"},
			{Method: "POST", PathTemplate: "/pets", Group: "pets", Name: "create", DisplayGroup: "pets", DisplayName: "add", Aliases: []string{"new"}},
			{Method: "GET", PathTemplate: "/secret", Group: "ops", Name: "secret", DisplayGroup: "ops", DisplayName: "secret", Hidden: true},
		},
	}

	m := Build(spec, "https://api.example.com")
	require.Len(t, m.Commands["pets"], 2)
	require.Contains(t, m.Commands, "pets")
	assert.NotContains(t, m.Commands, "ops") // hidden command excluded entirely

	var created Command
	for _, c := range m.Commands["pets"] {
		if c.Method == "POST" {
			created = c
		}
	}
	assert.Equal(t, "add", created.DisplayName)
	assert.Equal(t, []string{"new"}, created.Aliases)
}

func TestBuildOmitsDisplayFieldsWhenEqualToDefaults(t *testing.T) {
	spec := &specmodel.CachedSpec{
		Commands: []specmodel.CachedOperation{
			{Method: "GET", PathTemplate: "/pets", Group: "pets", Name: "list", DisplayGroup: "pets", DisplayName: "list"},
		},
	}
	m := Build(spec, "")
	cmd := m.Commands["pets"][0]
	assert.Empty(t, cmd.DisplayName)
	assert.Empty(t, cmd.DisplayGroup)
}

func TestBuildProjectsSecuritySchemesWithExtension(t *testing.T) {
	spec := &specmodel.CachedSpec{
		SecuritySchemes: map[string]specmodel.SecurityScheme{
			"bearerAuth": {Type: specmodel.SchemeHttpBearer, Secret: &specmodel.SecretBinding{Source: "env", Name: "TOKEN"}},
		},
	}
	m := Build(spec, "")
	scheme := m.SecuritySchemes["bearerAuth"]
	assert.Equal(t, specmodel.SchemeHttpBearer, scheme.Type)
	require.NotNil(t, scheme.ApertureSecret)
	assert.Equal(t, "TOKEN", scheme.ApertureSecret.Name)
}

func TestManifestMarshalsToJSON(t *testing.T) {
	spec := &specmodel.CachedSpec{Name: "x"}
	m := Build(spec, "")
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"api"`)
}
