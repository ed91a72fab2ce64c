package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cliSecret = "cli-test-secret-0123456789"

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "playsession.yaml")
	content := "database:\n  path: " + filepath.Join(dir, "cli.db") + "\nauth:\n  jwt_secret: " + cliSecret + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestMigrate(t *testing.T) {
	out, err := execute(t, "migrate", "--config", writeConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite store is up to date")
}

func TestToken(t *testing.T) {
	out, err := execute(t, "token", "host-1", "--admin", "--config", writeConfig(t))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "."), 3, "prints a JWT")
}

func TestImportGame_YAML(t *testing.T) {
	cfg := writeConfig(t)
	game := filepath.Join(t.TempDir(), "manor.yaml")
	require.NoError(t, os.WriteFile(game, []byte(`
id: game-cli
name: Mystery Manor
steps:
  - id: step-hall
    title: Hall
    order: 0
`), 0o600))

	out, err := execute(t, "import-game", game, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "imported game game-cli")
}

func TestImportGame_RejectsInvalid(t *testing.T) {
	game := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(game, []byte(`{"name": "no id"}`), 0o600))

	_, err := execute(t, "import-game", game, "--config", writeConfig(t))
	assert.Error(t, err)
}

func TestMissingSecretFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600))

	_, err := execute(t, "token", "host-1", "--config", path)
	assert.Error(t, err)
}
