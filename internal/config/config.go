// Package config loads papersync settings: built-in defaults, then a TOML
// file, then PAPERSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const appName = "papersync"

// Config is the complete runtime configuration.
type Config struct {
	State  StateConfig  `toml:"state"`
	Zotero ZoteroConfig `toml:"zotero"`
	Device DeviceConfig `toml:"device"`
	Vault  VaultConfig  `toml:"vault"`
	Retry  RetryConfig  `toml:"retry"`
	Merge  MergeConfig  `toml:"merge"`
	Sync   SyncConfig   `toml:"sync"`
}

type StateConfig struct {
	// Dir holds the state file, its lock and the journal.
	Dir            string        `toml:"dir"`
	LockStaleAfter time.Duration `toml:"lock_stale_after"`
}

// StatePath is the record store file.
func (s StateConfig) StatePath() string { return filepath.Join(s.Dir, "state.json") }

// LockPath is the advisory lock beside the state file.
func (s StateConfig) LockPath() string { return s.StatePath() + ".lock" }

// JournalPath is the SQLite transition journal.
func (s StateConfig) JournalPath() string { return filepath.Join(s.Dir, "journal.db") }

type ZoteroConfig struct {
	BaseURL           string        `toml:"base_url"`
	UserID            string        `toml:"user_id"`
	APIKey            string        `toml:"api_key"`
	Timeout           time.Duration `toml:"timeout"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	TagInbox          string        `toml:"tag_inbox"`
	TagRead           string        `toml:"tag_read"`
}

type DeviceConfig struct {
	RmapiPath string        `toml:"rmapi_path"`
	Timeout   time.Duration `toml:"timeout"`
	// Root is the device folder holding Inbox, Read and Saved.
	Root string `toml:"root"`
}

type VaultConfig struct {
	Path         string `toml:"path"`
	PapersFolder string `toml:"papers_folder"`
}

type RetryConfig struct {
	MaxAttempts int           `toml:"max_attempts"`
	BaseDelay   time.Duration `toml:"base_delay"`
	MaxDelay    time.Duration `toml:"max_delay"`
}

type MergeConfig struct {
	LineTolerance   float64 `toml:"line_tolerance"`
	HorizontalGap   float64 `toml:"horizontal_gap"`
	MaxOverlapWords int     `toml:"max_overlap_words"`
}

type SyncConfig struct {
	// ImportExisting makes the first run track the whole library.
	ImportExisting bool `toml:"import_existing"`
}

// Default returns the built-in settings. Credentials and the vault path
// have no default.
func Default() *Config {
	return &Config{
		State: StateConfig{
			Dir:            filepath.Join(userDir(os.UserConfigDir), appName),
			LockStaleAfter: 2 * time.Hour,
		},
		Zotero: ZoteroConfig{
			BaseURL:           "https://api.zotero.org",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 2,
			TagInbox:          "inbox",
			TagRead:           "read",
		},
		Device: DeviceConfig{
			RmapiPath: "rmapi",
			Timeout:   120 * time.Second,
			Root:      "/Distillate",
		},
		Vault: VaultConfig{PapersFolder: "Papers"},
		Retry: RetryConfig{MaxAttempts: 4, BaseDelay: 2 * time.Second, MaxDelay: time.Minute},
		Merge: MergeConfig{LineTolerance: 100, HorizontalGap: 10, MaxOverlapWords: 5},
	}
}

// DefaultPath is the config file read when --config is not given.
func DefaultPath() string {
	return filepath.Join(userDir(os.UserConfigDir), appName, "config.toml")
}

func userDir(fn func() (string, error)) string {
	if dir, err := fn(); err == nil {
		return dir
	}
	return "."
}

// Load layers path and the environment over the defaults. A missing file
// is not an error; keys the file sets that Config does not know are.
// lookupEnv is os.LookupEnv outside tests.
func Load(path string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("load config %s: %w", path, err)
		default:
			if undecoded := meta.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				sort.Strings(keys)
				return nil, fmt.Errorf("load config %s: unknown keys %s", path, strings.Join(keys, ", "))
			}
		}
	}

	if lookupEnv != nil {
		if err := cfg.applyEnv(lookupEnv); err != nil {
			return nil, err
		}
	}

	cfg.State.Dir = expandHome(cfg.State.Dir)
	cfg.Vault.Path = expandHome(cfg.Vault.Path)
	return cfg, nil
}

// envVar binds one PAPERSYNC_* variable to a setting.
type envVar struct {
	name  string
	apply func(c *Config, v string) error
}

var envVars = []envVar{
	{"PAPERSYNC_ZOTERO_API_KEY", func(c *Config, v string) error { c.Zotero.APIKey = v; return nil }},
	{"PAPERSYNC_ZOTERO_USER_ID", func(c *Config, v string) error { c.Zotero.UserID = v; return nil }},
	{"PAPERSYNC_ZOTERO_BASE_URL", func(c *Config, v string) error { c.Zotero.BaseURL = v; return nil }},
	{"PAPERSYNC_STATE_DIR", func(c *Config, v string) error { c.State.Dir = v; return nil }},
	{"PAPERSYNC_VAULT_PATH", func(c *Config, v string) error { c.Vault.Path = v; return nil }},
	{"PAPERSYNC_RMAPI_PATH", func(c *Config, v string) error { c.Device.RmapiPath = v; return nil }},
	{"PAPERSYNC_IMPORT_EXISTING", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Sync.ImportExisting = b
		return nil
	}},
}

func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookupEnv(ev.name)
		if !ok {
			continue
		}
		if err := ev.apply(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("environment %s: %w", ev.name, err)
		}
	}
	return nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate reports every missing or out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error
	require := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	require(c.Zotero.UserID != "", "zotero.user_id is required (or PAPERSYNC_ZOTERO_USER_ID)")
	require(c.Zotero.APIKey != "", "zotero.api_key is required (or PAPERSYNC_ZOTERO_API_KEY)")
	require(c.Zotero.BaseURL != "", "zotero.base_url must not be empty")
	require(c.Zotero.Timeout > 0, "zotero.timeout must be positive")
	require(c.Zotero.RequestsPerSecond > 0, "zotero.requests_per_second must be positive")
	require(c.Zotero.TagInbox != "" && c.Zotero.TagRead != "", "zotero workflow tags must not be empty")
	require(c.Zotero.TagInbox != c.Zotero.TagRead, "zotero.tag_inbox and zotero.tag_read must differ")
	require(c.Vault.Path != "", "vault.path is required (or PAPERSYNC_VAULT_PATH)")
	require(c.Vault.PapersFolder != "", "vault.papers_folder must not be empty")
	require(c.State.Dir != "", "state.dir must not be empty")
	require(c.State.LockStaleAfter > 0, "state.lock_stale_after must be positive")
	require(c.Device.RmapiPath != "", "device.rmapi_path must not be empty")
	require(c.Device.Timeout > 0, "device.timeout must be positive")
	require(strings.HasPrefix(c.Device.Root, "/"), "device.root must be an absolute device path")
	require(c.Retry.MaxAttempts >= 1, "retry.max_attempts must be at least 1")
	require(c.Retry.BaseDelay >= 0 && c.Retry.MaxDelay >= c.Retry.BaseDelay, "retry delays must satisfy 0 <= base_delay <= max_delay")
	require(c.Merge.LineTolerance > 0 && c.Merge.HorizontalGap >= 0, "merge tolerances must be positive")
	require(c.Merge.MaxOverlapWords >= 0, "merge.max_overlap_words must not be negative")

	return errors.Join(errs...)
}
