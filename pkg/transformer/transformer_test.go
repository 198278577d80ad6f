package transformer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku/aperture/pkg/openapidoc"
	"github.com/kioku/aperture/pkg/specmodel"
	"github.com/kioku/aperture/pkg/validator"
)

const petDoc = `
openapi: "3.0.3"
info:
  title: Pets
  version: "2.1.0"
  description: A pet store
servers:
  - url: "https://{region}.pets.example.com/v1"
    variables:
      region:
        default: "us"
        enum: ["us", "eu"]
security:
  - bearerAuth: []
paths:
  /pets/{petId}:
    get:
      operationId: getPet
      tags: [pets]
      parameters:
        - name: petId
          in: path
          required: true
          schema: {type: string}
        - name: verbose
          in: query
          required: false
          schema: {type: boolean}
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema: {type: object}
    post:
      operationId: updatePet
      tags: [pets]
      requestBody:
        required: true
        content:
          application/json:
            schema: {type: object}
      responses:
        "200":
          description: ok
components:
  securitySchemes:
    bearerAuth:
      type: http
      scheme: bearer
`

func TestTransformProducesCachedSpec(t *testing.T) {
	doc, err := openapidoc.Parse([]byte(petDoc))
	require.NoError(t, err)

	result, err := validator.Validate(doc, specmodel.CommandMapping{}, false)
	require.NoError(t, err)

	spec, err := transform(t, doc, result)
	require.NoError(t, err)

	assert.Equal(t, "Pets", spec.InfoTitle)
	require.Len(t, spec.Commands, 2)
	assert.Len(t, spec.Servers, 1)
	assert.Equal(t, "us", *spec.Servers[0].Variables["region"].Default)

	var getPet specmodel.CachedOperation
	for _, c := range spec.Commands {
		if c.OperationID == "getPet" {
			getPet = c
		}
	}
	assert.Equal(t, "pets", getPet.DisplayGroup)
	assert.Equal(t, "get-pet", getPet.DisplayName)
	require.Len(t, getPet.Parameters, 2)
}

func TestTransformDetectsSchemeAndBody(t *testing.T) {
	doc, err := openapidoc.Parse([]byte(petDoc))
	require.NoError(t, err)
	result, err := validator.Validate(doc, specmodel.CommandMapping{}, false)
	require.NoError(t, err)

	spec, err := transform(t, doc, result)
	require.NoError(t, err)

	require.Contains(t, spec.SecuritySchemes, "bearerAuth")
	assert.Equal(t, specmodel.SchemeHttpBearer, spec.SecuritySchemes["bearerAuth"].Type)

	var updatePet specmodel.CachedOperation
	for _, c := range spec.Commands {
		if c.OperationID == "updatePet" {
			updatePet = c
		}
	}
	require.NotNil(t, updatePet.RequestBody)
	assert.True(t, updatePet.RequestBody.Required)
}

func transform(t *testing.T, doc *openapidoc.Document, result *validator.Result) (*specmodel.CachedSpec, error) {
	t.Helper()
	return Transform("pets", doc, result.Skip, result.Skipped, specmodel.CommandMapping{})
}
