package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file and validates it. Unknown keys
// are fatal errors with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg.Path = path

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// the defaults, so firmsync runs with no config file at all.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		cfg.Path = path

		return cfg, nil
	}

	return Load(path)
}

// ConfigPath picks the config file location: CLI > env > default.
func ConfigPath(env EnvOverrides, cli CLIOverrides) string {
	if cli.ConfigPath != "" {
		return cli.ConfigPath
	}

	if env.ConfigPath != "" {
		return env.ConfigPath
	}

	return DefaultConfigPath()
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfg, err := LoadOrDefault(ConfigPath(env, cli))
	if err != nil {
		return nil, err
	}

	if err := env.apply(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if cli.DatabasePath != nil {
		cfg.DatabasePath = *cli.DatabasePath
	}

	if cli.OfflineMode != nil {
		cfg.OfflineMode = *cli.OfflineMode
	}

	cfg.DatabasePath = expandTilde(cfg.DatabasePath)
	cfg.LogFile = expandTilde(cfg.LogFile)

	// Env and CLI values bypassed the file-level check.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}
