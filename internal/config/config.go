// Package config loads layered configuration for a rotator+recorder
// pair, the way the teacher's root config.go layers ticket-tracker
// settings: defaults, then global user config, then project config,
// then CLI overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
)

// ConfigFileName is the default project config file name, read from the
// working directory if present.
const ConfigFileName = ".statsrotator.json"

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigFileRead     = errors.New("cannot read config file")
	errConfigInvalid      = errors.New("invalid config file")
	errBasePathEmpty      = errors.New("base_path cannot be empty")
	errPrefixEmpty        = errors.New("prefix cannot be empty")
)

// Config holds the settings a [rotator.Config] and [netstats.Config] pair
// needs, per SPEC_FULL.md §4.8.
type Config struct {
	BasePath              string `json:"base_path"`
	Prefix                string `json:"prefix"`
	RotateAgeMillis       int64  `json:"rotate_age_ms"`
	DeleteAgeMillis       int64  `json:"delete_age_ms"`
	BucketDurationMillis  int64  `json:"bucket_duration_ms"`
	PersistThresholdBytes int    `json:"persist_threshold_bytes"`
	OnlyTags              bool   `json:"only_tags,omitempty"`
}

// DefaultConfig returns the built-in defaults, the lowest-precedence
// layer Load merges over.
func DefaultConfig() Config {
	return Config{
		BasePath:              "netstats",
		Prefix:                "netstats",
		RotateAgeMillis:       24 * 60 * 60 * 1000,      // 1 day
		DeleteAgeMillis:       30 * 24 * 60 * 60 * 1000, // 30 days
		BucketDurationMillis:  60 * 60 * 1000,           // 1 hour
		PersistThresholdBytes: 16 * 1024,
	}
}

// Sources tracks which config files were loaded, for operator diagnostics.
type Sources struct {
	Global  string
	Project string
}

// Load resolves configuration with the following precedence (highest
// wins): defaults -> global user config
// ($XDG_CONFIG_HOME/statsrotator/config.json or
// ~/.config/statsrotator/config.json) -> project config
// (.statsrotator.json in workDir, or an explicit configPath) -> CLI
// overrides. Matches SPEC_FULL.md §4.8.
func Load(workDir, configPath string, overrides Config, env []string) (Config, Sources, error) {
	cfg := DefaultConfig()

	var sources Sources

	globalCfg, globalPath, err := loadGlobalConfig(env)
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Global = globalPath
	cfg = merge(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, configPath)
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	cfg = merge(cfg, overrides)

	err = validate(cfg)
	if err != nil {
		return Config{}, Sources{}, err
	}

	return cfg, sources, nil
}

func loadGlobalConfig(env []string) (Config, string, error) {
	path := globalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadConfigFile(path, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, path, nil
}

func globalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "statsrotator", "config.json")
		}
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "statsrotator", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "statsrotator", "config.json")
	}

	return ""
}

func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	var (
		cfgFile   string
		mustExist bool
	)

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		_, statErr := os.Stat(cfgFile)
		if statErr != nil {
			return Config{}, "", fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
	} else {
		cfgFile = filepath.Join(workDir, ConfigFileName)
		mustExist = false
	}

	cfg, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, cfgFile, nil
}

// loadConfigFile loads and parses a JSONC config file. If mustExist is
// false, a missing file returns a zero Config with loaded=false.
func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally caller-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", errConfigFileRead, path)
		}

		return Config{}, false, nil
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

// merge overlays non-zero fields of overlay onto base.
func merge(base, overlay Config) Config {
	if overlay.BasePath != "" {
		base.BasePath = overlay.BasePath
	}

	if overlay.Prefix != "" {
		base.Prefix = overlay.Prefix
	}

	if overlay.RotateAgeMillis != 0 {
		base.RotateAgeMillis = overlay.RotateAgeMillis
	}

	if overlay.DeleteAgeMillis != 0 {
		base.DeleteAgeMillis = overlay.DeleteAgeMillis
	}

	if overlay.BucketDurationMillis != 0 {
		base.BucketDurationMillis = overlay.BucketDurationMillis
	}

	if overlay.PersistThresholdBytes != 0 {
		base.PersistThresholdBytes = overlay.PersistThresholdBytes
	}

	if overlay.OnlyTags {
		base.OnlyTags = overlay.OnlyTags
	}

	return base
}

func validate(cfg Config) error {
	if cfg.BasePath == "" {
		return errBasePathEmpty
	}

	if cfg.Prefix == "" {
		return errPrefixEmpty
	}

	return nil
}

// Format returns cfg as indented JSON, for "statsctl" diagnostics.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format config: %w", err)
	}

	return string(data), nil
}
