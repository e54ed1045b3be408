// Package engineconfig loads the engine's own configuration: page-store
// sizing, history depth, flush policy defaults, and the cache budget of
// spec.md §4.8. Adapted from the teacher's root config.go: the same
// defaults -> global config -> project config -> explicit-path -> CLI
// override precedence chain, the same JSONC-via-hujson parsing. A layer
// overrides only the fields it sets to a non-zero value; a config file
// cannot reset a default back to zero or empty. Unlike the teacher, every read and write goes through
// a pkg/fs.FS rather than the os package directly, so Load/Save can be
// exercised against a fake filesystem.
package engineconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/paprikadb/paprika/pkg/fs"
)

// ConfigFileName is the default project config file name.
const ConfigFileName = ".paprika.json"

// Config holds every tunable the engine itself reads at startup.
type Config struct {
	// PagestorePath is the backing file for pkg/pagestore.Open. Empty
	// means an anonymous, non-durable mapping (pkg/pagestore.OpenAnonymous).
	PagestorePath string `json:"pagestore_path,omitempty"`

	// HistoryDepth is the number of rotating metadata slots (spec.md §3:
	// H >= 2).
	HistoryDepth uint16 `json:"history_depth"`

	// NumPages is the total number of 4 KiB pages in the store's region.
	NumPages uint32 `json:"num_pages"`

	// FinalizationQueueLimit sizes the flusher's finalization channel; 0
	// selects the overlay's default capacity of 1024. The channel is always
	// bounded.
	FinalizationQueueLimit int `json:"finalization_queue_limit,omitempty"`

	// MinFlushDelayMillis is the flusher's cooperative batching window:
	// keep draining the finalization channel as long as less than this
	// many milliseconds have elapsed since the current drain started
	// (spec.md §4.7: "repeatedly read items as long as elapsed <
	// min_flush_delay").
	MinFlushDelayMillis int `json:"min_flush_delay_millis"`

	// CacheEntriesPerBlock and CacheFromDepth configure the transient
	// read-through cache budget of spec.md §4.8.
	CacheEntriesPerBlock int64 `json:"cache_entries_per_block"`
	CacheFromDepth       int  `json:"cache_from_depth"`
}

// DefaultConfig returns the engine's built-in defaults.
func DefaultConfig() Config {
	return Config{
		HistoryDepth:         2,
		NumPages:             1 << 16, // 256 MiB at 4 KiB pages
		MinFlushDelayMillis:  50,
		CacheEntriesPerBlock: 0,
		CacheFromDepth:       1,
	}
}

// ConfigSources tracks which config files contributed to a loaded Config.
type ConfigSources struct {
	Global  string
	Project string
}

// Load loads configuration with the following precedence (highest wins):
// defaults -> global user config -> project config (or an explicit
// configPath) -> cliOverrides. fsys is the filesystem to read config files
// from; pass fs.NewReal() in production.
func Load(fsys fs.FS, workDir, configPath string, cliOverrides Config, env []string) (Config, ConfigSources, error) {
	cfg := DefaultConfig()

	var sources ConfigSources

	globalCfg, globalPath, err := loadGlobalConfig(fsys, env)
	if err != nil {
		return Config{}, ConfigSources{}, err
	}

	sources.Global = globalPath
	cfg = mergeConfig(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(fsys, workDir, configPath)
	if err != nil {
		return Config{}, ConfigSources{}, err
	}

	sources.Project = projectPath
	cfg = mergeConfig(cfg, projectCfg)
	cfg = mergeConfig(cfg, cliOverrides)

	if err := validateConfig(cfg); err != nil {
		return Config{}, ConfigSources{}, err
	}

	return cfg, sources, nil
}

// Save atomically writes cfg as indented JSON to path through fsys, so an
// operator-triggered config save can never race a concurrent Load into
// observing a half-written file.
func Save(fsys fs.FS, path string, cfg Config) error {
	return fs.NewAtomicWriter(fsys).WriteJSON(path, cfg, 0o600)
}

func getGlobalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "paprika", "config.json")
		}
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "paprika", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "paprika", "config.json")
	}

	return ""
}

func loadGlobalConfig(fsys fs.FS, env []string) (Config, string, error) {
	path := getGlobalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadConfigFile(fsys, path, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, path, nil
}

func loadProjectConfig(fsys fs.FS, workDir, configPath string) (Config, string, error) {
	var cfgFile string

	var mustExist bool

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		if _, err := fsys.Stat(cfgFile); err != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	} else {
		cfgFile = filepath.Join(workDir, ConfigFileName)
		mustExist = false
	}

	cfg, loaded, err := loadConfigFile(fsys, cfgFile, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, cfgFile, nil
}

func loadConfigFile(fsys fs.FS, path string, mustExist bool) (Config, bool, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
		}

		return Config{}, false, nil
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

// mergeConfig overlays any non-zero field of overlay onto base.
func mergeConfig(base, overlay Config) Config {
	if overlay.PagestorePath != "" {
		base.PagestorePath = overlay.PagestorePath
	}

	if overlay.HistoryDepth != 0 {
		base.HistoryDepth = overlay.HistoryDepth
	}

	if overlay.NumPages != 0 {
		base.NumPages = overlay.NumPages
	}

	if overlay.FinalizationQueueLimit != 0 {
		base.FinalizationQueueLimit = overlay.FinalizationQueueLimit
	}

	if overlay.MinFlushDelayMillis != 0 {
		base.MinFlushDelayMillis = overlay.MinFlushDelayMillis
	}

	if overlay.CacheEntriesPerBlock != 0 {
		base.CacheEntriesPerBlock = overlay.CacheEntriesPerBlock
	}

	if overlay.CacheFromDepth != 0 {
		base.CacheFromDepth = overlay.CacheFromDepth
	}

	return base
}

func validateConfig(cfg Config) error {
	if cfg.HistoryDepth < 2 {
		return ErrHistoryDepthTooSmall
	}

	return nil
}

// FormatConfig renders cfg as indented JSON, for the bench CLI's
// diagnostic output.
func FormatConfig(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("engineconfig: format: %w", err)
	}

	return string(data), nil
}
