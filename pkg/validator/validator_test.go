package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku/aperture/pkg/openapidoc"
	"github.com/kioku/aperture/pkg/specmodel"
)

const minimalDoc = `
openapi: "3.0.3"
info:
  title: Widgets
  version: "1.0.0"
paths:
  /widgets:
    get:
      operationId: listWidgets
      tags: [widgets]
      responses:
        "200":
          description: ok
  /widgets/{id}:
    delete:
      operationId: deleteWidget
      tags: [widgets]
      security:
        - oauth: []
      responses:
        "204":
          description: ok
components:
  securitySchemes:
    oauth:
      type: oauth2
`

func TestValidateNonStrictSkipsInfeasibleAuth(t *testing.T) {
	doc, err := openapidoc.Parse([]byte(minimalDoc))
	require.NoError(t, err)

	result, err := Validate(doc, specmodel.CommandMapping{}, false)
	require.NoError(t, err)

	assert.Contains(t, result.Skip, EndpointKey{Method: "DELETE", Path: "/widgets/{id}"})
	assert.NotContains(t, result.Skip, EndpointKey{Method: "GET", Path: "/widgets"})
}

func TestValidateStrictRejectsInfeasibleAuth(t *testing.T) {
	doc, err := openapidoc.Parse([]byte(minimalDoc))
	require.NoError(t, err)

	_, err = Validate(doc, specmodel.CommandMapping{}, true)
	require.Error(t, err)
}

func TestValidateRejects31(t *testing.T) {
	doc, err := openapidoc.Parse([]byte("openapi: \"3.1.0\"\ninfo:\n  title: x\n  version: \"1\"\npaths: {}\n"))
	require.NoError(t, err)

	_, err = Validate(doc, specmodel.CommandMapping{}, false)
	require.Error(t, err)
}

func TestValidateRejectsMalformedSecretExtension(t *testing.T) {
	src := `
openapi: "3.0.3"
info:
  title: x
  version: "1"
paths: {}
components:
  securitySchemes:
    apiKeyAuth:
      type: apiKey
      in: header
      name: X-Api-Key
      x-aperture-secret:
        source: vault
        name: FOO
`
	doc, err := openapidoc.Parse([]byte(src))
	require.NoError(t, err)

	_, err = Validate(doc, specmodel.CommandMapping{}, false)
	require.Error(t, err)
}

func TestValidateNameCollision(t *testing.T) {
	src := `
openapi: "3.0.3"
info:
  title: x
  version: "1"
paths:
  /a:
    get:
      operationId: get
      responses:
        "200": {description: ok}
  /b:
    get:
      operationId: get2
      responses:
        "200": {description: ok}
`
	doc, err := openapidoc.Parse([]byte(src))
	require.NoError(t, err)

	mapping := specmodel.CommandMapping{
		Operations: map[string]specmodel.CommandMappingOverride{
			"get2": {DisplayName: "get"},
		},
	}
	_, err = Validate(doc, mapping, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get")
	assert.Contains(t, err.Error(), "get2")
}

func TestValidateContextName(t *testing.T) {
	assert.NoError(t, ValidateContextName("github-api_v2"))
	assert.Error(t, ValidateContextName("../escape"))
	assert.Error(t, ValidateContextName("has/slash"))
	assert.Error(t, ValidateContextName(""))
}
