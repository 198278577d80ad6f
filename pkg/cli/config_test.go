package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pingDoc = `
openapi: "3.0.3"
info:
  title: Ping API
  version: "1.0.0"
paths:
  /ping:
    get:
      operationId: ping
      responses:
        "200": {description: ok}
`

// runCLI builds a fresh root command (one per invocation, matching a real
// process run) and executes it with args, returning combined stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func withConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("APERTURE_CONFIG_DIR", dir)
	return dir
}

func writeSpecFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestConfigAddListRemove(t *testing.T) {
	withConfigDir(t)
	specFile := writeSpecFile(t, pingDoc)

	out, err := runCLI(t, "config", "add", "demo", specFile)
	require.NoError(t, err)
	assert.Contains(t, out, "registered \"demo\"")
	assert.Contains(t, out, "1 commands")

	out, err = runCLI(t, "config", "list")
	require.NoError(t, err)
	assert.Equal(t, "demo\n", out)

	_, err = runCLI(t, "config", "add", "demo", specFile)
	require.Error(t, err, "re-adding without --force must fail")

	out, err = runCLI(t, "config", "remove", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "removed demo")

	out, err = runCLI(t, "config", "list")
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestConfigSetGetURL(t *testing.T) {
	withConfigDir(t)
	specFile := writeSpecFile(t, pingDoc)
	_, err := runCLI(t, "config", "add", "demo", specFile)
	require.NoError(t, err)

	_, err = runCLI(t, "config", "set-url", "demo", "https://api.example.com")
	require.NoError(t, err)

	out, err := runCLI(t, "config", "get-url", "demo")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com\n", out)

	_, err = runCLI(t, "config", "set-url", "demo", "https://staging.example.com", "--env", "staging")
	require.NoError(t, err)

	out, err = runCLI(t, "config", "list-urls", "demo")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "(default)") && strings.Contains(out, "https://api.example.com"))
	assert.Contains(t, out, "staging\thttps://staging.example.com")
}

func TestConfigSettingsGetSet(t *testing.T) {
	withConfigDir(t)

	out, err := runCLI(t, "config", "get", "default_timeout_secs")
	require.NoError(t, err)
	assert.Equal(t, "30\n", out)

	_, err = runCLI(t, "config", "set", "default_timeout_secs", "90")
	require.NoError(t, err)

	out, err = runCLI(t, "config", "get", "default_timeout_secs")
	require.NoError(t, err)
	assert.Equal(t, "90\n", out)

	_, err = runCLI(t, "config", "get", "not-a-real-key")
	require.Error(t, err)
}

func TestConfigEditWithUnknownEditorFails(t *testing.T) {
	withConfigDir(t)
	specFile := writeSpecFile(t, pingDoc)
	_, err := runCLI(t, "config", "add", "demo", specFile)
	require.NoError(t, err)

	t.Setenv("EDITOR", "definitely-not-a-real-editor-binary")
	_, err = runCLI(t, "config", "edit", "demo")
	require.Error(t, err)
}

func TestConfigSetMapping(t *testing.T) {
	withConfigDir(t)
	specFile := writeSpecFile(t, pingDoc)
	_, err := runCLI(t, "config", "add", "demo", specFile)
	require.NoError(t, err)

	_, err = runCLI(t, "config", "set-mapping", "demo", "ping", "--name", "health-check", "--alias", "hc")
	require.NoError(t, err)

	out, err := runCLI(t, "config", "reinit", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "reinitialized \"demo\"")

	out, err = runCLI(t, "list-commands", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "health-check")
}
