package outputpipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyJQIdentity(t *testing.T) {
	out, err := ApplyJQ([]byte(`{"a":1}`), ".")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(out))
}

func TestApplyJQField(t *testing.T) {
	out, err := ApplyJQ([]byte(`{"a":{"b":42}}`), ".a.b")
	require.NoError(t, err)
	assert.Equal(t, "42", string(out))
}

func TestApplyJQArrayIndex(t *testing.T) {
	out, err := ApplyJQ([]byte(`{"a":[10,20,30]}`), ".a[1]")
	require.NoError(t, err)
	assert.Equal(t, "20", string(out))
}

func TestApplyJQRejectsUnsupportedExpression(t *testing.T) {
	_, err := ApplyJQ([]byte(`{"a":1}`), ".a | select(.b)")
	require.Error(t, err)
}

func TestFormatBytesYAML(t *testing.T) {
	out, err := FormatBytes([]byte(`{"a":1}`), FormatYAML, false)
	require.NoError(t, err)
	assert.Contains(t, string(out), "a: 1")
}

func TestFormatBytesTableFallsBackOnNonArray(t *testing.T) {
	out, err := FormatBytes([]byte(`{"a":1}`), FormatTable, true)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"a"`)
}

func TestFormatBytesTableRendersArray(t *testing.T) {
	out, err := FormatBytes([]byte(`[{"id":1,"name":"x"},{"id":2,"name":"y"}]`), FormatTable, false)
	require.NoError(t, err)
	assert.Contains(t, string(out), "id")
	assert.Contains(t, string(out), "name")
}

func TestFormatBytesJSONCompactVsPretty(t *testing.T) {
	compact, err := FormatBytes([]byte(`{"a": 1}`), FormatJSON, false)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(compact))

	pretty, err := FormatBytes([]byte(`{"a": 1}`), FormatJSON, true)
	require.NoError(t, err)
	assert.Contains(t, string(pretty), "\n")
}
