package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"), env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[state]
dir = "/var/lib/papersync"
lock_stale_after = "30m"

[zotero]
user_id = "42"
api_key = "secret"
requests_per_second = 0.5

[device]
timeout = "45s"

[vault]
path = "/notes"

[retry]
max_attempts = 2

[sync]
import_existing = true
`)

	cfg, err := Load(path, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/papersync", cfg.State.Dir)
	assert.Equal(t, 30*time.Minute, cfg.State.LockStaleAfter)
	assert.Equal(t, "42", cfg.Zotero.UserID)
	assert.Equal(t, 0.5, cfg.Zotero.RequestsPerSecond)
	assert.Equal(t, 45*time.Second, cfg.Device.Timeout)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.Sync.ImportExisting)

	// Untouched keys keep their defaults.
	assert.Equal(t, "https://api.zotero.org", cfg.Zotero.BaseURL)
	assert.Equal(t, "inbox", cfg.Zotero.TagInbox)
	assert.Equal(t, "/Distillate", cfg.Device.Root)
	assert.Equal(t, 100.0, cfg.Merge.LineTolerance)
	assert.Equal(t, "/var/lib/papersync/state.json", cfg.State.StatePath())
	assert.Equal(t, "/var/lib/papersync/state.json.lock", cfg.State.LockPath())
	assert.Equal(t, "/var/lib/papersync/journal.db", cfg.State.JournalPath())
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentWins(t *testing.T) {
	path := writeConfig(t, "[zotero]\napi_key = \"from-file\"\nuser_id = \"1\"\n")

	cfg, err := Load(path, env(map[string]string{
		"PAPERSYNC_ZOTERO_API_KEY":  " from-env ",
		"PAPERSYNC_VAULT_PATH":      "/env/vault",
		"PAPERSYNC_IMPORT_EXISTING": "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Zotero.APIKey)
	assert.Equal(t, "1", cfg.Zotero.UserID)
	assert.Equal(t, "/env/vault", cfg.Vault.Path)
	assert.True(t, cfg.Sync.ImportExisting)
}

func TestLoad_BadEnvironmentValue(t *testing.T) {
	_, err := Load("", env(map[string]string{"PAPERSYNC_IMPORT_EXISTING": "maybe"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAPERSYNC_IMPORT_EXISTING")
}

func TestLoad_UnknownKeysRejected(t *testing.T) {
	path := writeConfig(t, "[zotero]\napikey = \"typo\"\n\n[extra]\nx = 1\n")

	_, err := Load(path, env(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zotero.apikey")
	assert.Contains(t, err.Error(), "extra.x")
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfig(t, "[zotero\n")
	_, err := Load(path, env(nil))
	require.Error(t, err)
}

func TestLoad_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg, err := Load("", env(map[string]string{"PAPERSYNC_VAULT_PATH": "~/Obsidian"}))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "Obsidian"), cfg.Vault.Path)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Zotero.TagRead = "inbox"
	cfg.Retry.MaxAttempts = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "zotero.user_id is required")
	assert.Contains(t, msg, "zotero.api_key is required")
	assert.Contains(t, msg, "vault.path is required")
	assert.Contains(t, msg, "must differ")
	assert.Contains(t, msg, "retry.max_attempts")
}
