package requestbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku/aperture/pkg/specmodel"
)

func sampleSpec() *specmodel.CachedSpec {
	def := "v1"
	return &specmodel.CachedSpec{
		Servers: []specmodel.Server{
			{
				URLTemplate: "https://{env}.example.com",
				Variables: map[string]specmodel.ServerVariable{
					"env": {Default: &def, Enum: []string{"v1", "v2"}},
				},
			},
		},
		SecuritySchemes: map[string]specmodel.SecurityScheme{
			"apiKeyAuth": {Type: specmodel.SchemeApiKey, Location: specmodel.LocationHeader, KeyName: "X-Api-Key",
				Secret: &specmodel.SecretBinding{Source: "env", Name: "DEMO_API_KEY"}},
			"bearerAuth": {Type: specmodel.SchemeHttpBearer,
				Secret: &specmodel.SecretBinding{Source: "env", Name: "DEMO_TOKEN"}},
		},
		GlobalSecurity: []specmodel.SecurityRequirement{{Schemes: []string{"bearerAuth"}}},
	}
}

func sampleOp() *specmodel.CachedOperation {
	return &specmodel.CachedOperation{
		Method:       "GET",
		PathTemplate: "/pets/{id}",
		Parameters: []specmodel.Parameter{
			{Name: "id", Location: specmodel.LocationPath, Required: true, TypeHint: specmodel.TypeString},
			{Name: "tags", Location: specmodel.LocationQuery, TypeHint: specmodel.TypeArray},
			{Name: "X-Trace", Location: specmodel.LocationHeader, TypeHint: specmodel.TypeString},
		},
	}
}

func TestMatchFindsByGroupAndName(t *testing.T) {
	spec := &specmodel.CachedSpec{Commands: []specmodel.CachedOperation{
		{DisplayGroup: "pets", DisplayName: "get", Method: "GET"},
	}}
	op, alias, err := Match(spec, "pets", "get")
	require.NoError(t, err)
	assert.Equal(t, "GET", op.Method)
	assert.Contains(t, alias, "pets get")
}

func TestMatchFindsByAlias(t *testing.T) {
	spec := &specmodel.CachedSpec{Commands: []specmodel.CachedOperation{
		{DisplayGroup: "pets", DisplayName: "get", Aliases: []string{"show"}},
	}}
	op, _, err := Match(spec, "pets", "show")
	require.NoError(t, err)
	assert.Equal(t, "get", op.DisplayName)
}

func TestMatchNotFound(t *testing.T) {
	spec := &specmodel.CachedSpec{}
	_, _, err := Match(spec, "pets", "get")
	assert.Error(t, err)
}

func TestBuildResolvesServerVarDefaultAndPathAndQuery(t *testing.T) {
	spec := sampleSpec()
	op := sampleOp()
	req, err := Build(spec, op, specmodel.ApiConfig{}, Options{
		ParamValues: map[string]string{"id": "42", "tags": "a,b"},
		Env:         func(string) (string, bool) { return "tok", true },
	})
	require.NoError(t, err)
	assert.Equal(t, "https://v1.example.com/pets/42?tags=a&tags=b", req.URL)
	assert.True(t, req.HasAuth)
	assert.Equal(t, []string{"Bearer tok"}, req.Headers["Authorization"])
}

func TestBuildServerVarEnumRejectsInvalidValue(t *testing.T) {
	spec := sampleSpec()
	op := sampleOp()
	_, err := Build(spec, op, specmodel.ApiConfig{}, Options{
		ServerVars:  map[string]string{"env": "v9"},
		ParamValues: map[string]string{"id": "1"},
		Env:         func(string) (string, bool) { return "tok", true },
	})
	assert.Error(t, err)
}

func TestBuildMissingPathParamErrors(t *testing.T) {
	spec := sampleSpec()
	op := sampleOp()
	_, err := Build(spec, op, specmodel.ApiConfig{}, Options{
		Env: func(string) (string, bool) { return "tok", true },
	})
	assert.Error(t, err)
}

func TestBuildMissingSecretErrors(t *testing.T) {
	spec := sampleSpec()
	op := sampleOp()
	_, err := Build(spec, op, specmodel.ApiConfig{}, Options{
		ParamValues: map[string]string{"id": "1"},
		Env:         func(string) (string, bool) { return "", false },
	})
	assert.Error(t, err)
}

func TestBuildBaseURLPrecedenceFlagWins(t *testing.T) {
	spec := sampleSpec()
	op := sampleOp()
	req, err := Build(spec, op, specmodel.ApiConfig{BaseURLOverride: "https://override.example.com"}, Options{
		BaseURLFlag: "https://explicit.example.com",
		ParamValues: map[string]string{"id": "1"},
		Env:         func(string) (string, bool) { return "tok", true },
	})
	require.NoError(t, err)
	assert.Contains(t, req.URL, "https://explicit.example.com")
}

func TestBuildEnvironmentURLOverridesBaseURLOverride(t *testing.T) {
	spec := sampleSpec()
	op := sampleOp()
	apiCfg := specmodel.ApiConfig{
		BaseURLOverride: "https://override.example.com",
		EnvironmentURLs: map[string]string{"staging": "https://staging.example.com"},
	}
	req, err := Build(spec, op, apiCfg, Options{
		EnvName:     "staging",
		ParamValues: map[string]string{"id": "1"},
		Env:         func(string) (string, bool) { return "tok", true },
	})
	require.NoError(t, err)
	assert.Contains(t, req.URL, "https://staging.example.com")
}

func TestBuildHeaderParamAndExtraHeaderWithVarExpansion(t *testing.T) {
	spec := sampleSpec()
	op := sampleOp()
	req, err := Build(spec, op, specmodel.ApiConfig{}, Options{
		ParamValues:  map[string]string{"id": "1", "X-Trace": "trace-1"},
		ExtraHeaders: []string{"X-Custom: ${MY_VAR}"},
		Env: func(name string) (string, bool) {
			if name == "MY_VAR" {
				return "hello", true
			}
			return "tok", true
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"trace-1"}, req.Headers["X-Trace"])
	assert.Equal(t, []string{"hello"}, req.Headers["X-Custom"])
}

func TestBuildRejectsHeaderInjection(t *testing.T) {
	spec := sampleSpec()
	op := sampleOp()
	_, err := Build(spec, op, specmodel.ApiConfig{}, Options{
		ParamValues:  map[string]string{"id": "1"},
		ExtraHeaders: []string{"X-Evil: value\r\nX-Injected: yes"},
		Env:          func(string) (string, bool) { return "tok", true },
	})
	assert.Error(t, err)
}

func TestBuildBodyRequiresValidJSONAfterExpansion(t *testing.T) {
	spec := sampleSpec()
	op := sampleOp()
	op.Method = "POST"
	_, err := Build(spec, op, specmodel.ApiConfig{}, Options{
		ParamValues: map[string]string{"id": "1"},
		Body:        "{not json",
		Env:         func(string) (string, bool) { return "tok", true },
	})
	assert.Error(t, err)
}

func TestBuildBodyExpandsVarsThenParses(t *testing.T) {
	spec := sampleSpec()
	op := sampleOp()
	op.Method = "POST"
	req, err := Build(spec, op, specmodel.ApiConfig{}, Options{
		ParamValues: map[string]string{"id": "1"},
		Body:        `{"name": "${NAME}"}`,
		Env: func(name string) (string, bool) {
			if name == "NAME" {
				return "rex", true
			}
			return "tok", true
		},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"rex"}`, string(req.Body))
	assert.Equal(t, []string{"application/json"}, req.Headers["Content-Type"])
}

func TestDescribeRedactsAuthHeaders(t *testing.T) {
	req := &BuiltRequest{
		Method:  "GET",
		URL:     "https://example.com/x",
		Headers: map[string][]string{"Authorization": {"Bearer tok"}, "X-Trace": {"abc"}},
	}
	desc := Describe(req)
	headers := desc["headers"].(map[string][]string)
	assert.Equal(t, []string{"<redacted>"}, headers["Authorization"])
	assert.Equal(t, []string{"abc"}, headers["X-Trace"])
}

func TestApiKeyInQuery(t *testing.T) {
	spec := sampleSpec()
	spec.SecuritySchemes["queryKey"] = specmodel.SecurityScheme{
		Type: specmodel.SchemeApiKey, Location: specmodel.LocationQuery, KeyName: "api_key",
		Secret: &specmodel.SecretBinding{Source: "env", Name: "Q_KEY"},
	}
	spec.GlobalSecurity = []specmodel.SecurityRequirement{{Schemes: []string{"queryKey"}}}
	op := sampleOp()
	req, err := Build(spec, op, specmodel.ApiConfig{}, Options{
		ParamValues: map[string]string{"id": "1"},
		Env:         func(string) (string, bool) { return "secretval", true },
	})
	require.NoError(t, err)
	assert.Contains(t, req.URL, "api_key=secretval")
}
