package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.json", `{
		"mcpServers": {
			"echo": {
				"command": "node",
				"args": ["echo-server.js"],
				"env": {"API_KEY": "secret"}
			}
		}
	}`)

	cfg, err := Load([]string{path})
	require.NoError(t, err)
	require.Contains(t, cfg.Servers, "echo")

	echo := cfg.Servers["echo"]
	assert.Equal(t, "node", echo.Command)
	assert.Equal(t, []string{"echo-server.js"}, echo.Args)
	require.Contains(t, echo.Env, "API_KEY")
	require.NotNil(t, echo.Env["API_KEY"])
	assert.Equal(t, "secret", *echo.Env["API_KEY"])
	assert.Equal(t, path, echo.ConfigSource)
}

func TestLoadToleratesCommentsAndTrailingCommas(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.json", `{
		// local echo server
		"mcpServers": {
			"echo": {
				"command": "node",
				"args": ["echo-server.js",], // trailing comma
			},
		},
	}`)

	cfg, err := Load([]string{path})
	require.NoError(t, err)
	assert.Contains(t, cfg.Servers, "echo")
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
mcpServers:
  remote:
    url: https://mcp.example.com/mcp
    headers:
      Authorization: Bearer abc
`)

	cfg, err := Load([]string{path})
	require.NoError(t, err)
	require.Contains(t, cfg.Servers, "remote")
	assert.Equal(t, "https://mcp.example.com/mcp", cfg.Servers["remote"].URL)
	assert.Equal(t, "Bearer abc", cfg.Servers["remote"].Headers["Authorization"])
}

func TestLoadAcceptsServersAlias(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.json", `{
		"servers": {
			"alias-form": {"command": "python"}
		}
	}`)

	cfg, err := Load([]string{path})
	require.NoError(t, err)
	assert.Contains(t, cfg.Servers, "alias-form")
}

func TestLoadPrefersMCPServersOverAlias(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.json", `{
		"mcpServers": {"canonical": {"command": "node"}},
		"servers": {"ignored": {"command": "node"}}
	}`)

	cfg, err := Load([]string{path})
	require.NoError(t, err)
	assert.Contains(t, cfg.Servers, "canonical")
	assert.NotContains(t, cfg.Servers, "ignored")
}

func TestLoadLaterFileWinsPerServer(t *testing.T) {
	dir := t.TempDir()
	first := writeConfigFile(t, dir, "global.json", `{
		"mcpServers": {
			"shared": {"command": "node", "args": ["v1.js"]},
			"only-global": {"command": "node"}
		}
	}`)
	second := writeConfigFile(t, dir, "project.json", `{
		"mcpServers": {
			"shared": {"command": "node", "args": ["v2.js"]}
		}
	}`)

	cfg, err := Load([]string{first, second})
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 2)
	assert.Equal(t, []string{"v2.js"}, cfg.Servers["shared"].Args)
	assert.Equal(t, second, cfg.Servers["shared"].ConfigSource)
	assert.Equal(t, first, cfg.Servers["only-global"].ConfigSource)
}

func TestLoadSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	present := writeConfigFile(t, dir, "present.json", `{"mcpServers": {"a": {"command": "node"}}}`)
	missing := filepath.Join(dir, "never-written.json")

	cfg, err := Load([]string{missing, present})
	require.NoError(t, err)
	assert.Contains(t, cfg.Servers, "a")
}

func TestLoadAllFilesMissing(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load([]string{filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json")})
	require.NoError(t, err)
	assert.Empty(t, cfg.Servers)
}

func TestLoadMalformedFileFails(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "broken.json", `{"mcpServers": {`)

	_, err := Load([]string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.json")
}

func TestLoadNormalizesNilArgs(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.json", `{"mcpServers": {"bare": {"command": "node"}}}`)

	cfg, err := Load([]string{path})
	require.NoError(t, err)
	require.NotNil(t, cfg.Servers["bare"].Args)
	assert.Empty(t, cfg.Servers["bare"].Args)
}

func TestLoadNullEnvValue(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.json", `{
		"mcpServers": {"a": {"command": "node", "env": {"FROM_PROCESS": null}}}
	}`)

	cfg, err := Load([]string{path})
	require.NoError(t, err)
	require.Contains(t, cfg.Servers["a"].Env, "FROM_PROCESS")
	assert.Nil(t, cfg.Servers["a"].Env["FROM_PROCESS"])
}

func TestLoadExtraKeysReplacedWhole(t *testing.T) {
	dir := t.TempDir()
	first := writeConfigFile(t, dir, "a.json", `{
		"mcpServers": {"a": {"command": "node"}},
		"settings": {"theme": "dark", "verbose": true}
	}`)
	second := writeConfigFile(t, dir, "b.json", `{
		"mcpServers": {"b": {"command": "node"}},
		"settings": {"theme": "light"}
	}`)

	cfg, err := Load([]string{first, second})
	require.NoError(t, err)

	settings, ok := cfg.Extra["settings"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "light", settings["theme"])
	// Replacement is whole-key, not a deep merge.
	assert.NotContains(t, settings, "verbose")
}

func TestLoadValidationFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.json", `{
		"mcpServers": {"both": {"command": "node", "url": "https://example.com"}}
	}`)

	_, err := Load([]string{path})
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.True(t, verrs.HasErrors())
}

func TestLoadDevServer(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.json", `{
		"mcpServers": {
			"dev-server": {
				"command": "node",
				"args": ["server.js"],
				"dev": {"watch": ["src/**/*.js"], "cwd": "`+dir+`"}
			}
		}
	}`)

	cfg, err := Load([]string{path})
	require.NoError(t, err)

	sc := cfg.Servers["dev-server"]
	require.NotNil(t, sc.Dev)
	assert.True(t, sc.DevEnabled())
	assert.Equal(t, []string{"src/**/*.js"}, sc.Dev.Watch)
	assert.Equal(t, dir, sc.Dev.Cwd)
}
