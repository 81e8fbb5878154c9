// Package aliasing resolves search field aliases.
//
// Users type short names in the search box ("reason:error", "intent:refund").
// A YAML file maps those names, exactly or by pattern, to the registry's
// column names and column.key JSON paths.
package aliasing

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/callscope/callscope/internal/config"
)

type (
	// Config holds alias configuration loaded from .callscope.yaml.
	Config struct {
		// FieldAliases maps an alias to a field, matched case-insensitively.
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		FieldAliases map[string]string `yaml:"field_aliases"`
		// FieldPatterns are tried in order after exact aliases.
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		FieldPatterns []FieldPattern `yaml:"field_patterns"`
	}

	// FieldPattern rewrites fields matching Pattern into Field. {name}
	// captures one path segment; {name*} captures the rest of the path.
	FieldPattern struct {
		Pattern string `yaml:"pattern"`
		Field   string `yaml:"field"`
	}
)

// DefaultConfigPath is the default location of the alias file.
const DefaultConfigPath = ".callscope.yaml"

// ConfigPathEnvVar names the environment variable overriding DefaultConfigPath.
const ConfigPathEnvVar = "CALLSCOPE_CONFIG_PATH"

// LoadConfig loads alias configuration from the YAML file at path.
//
// Aliases are optional. A missing, unreadable or invalid file yields an empty
// config and a logged warning, never an error.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{FieldAliases: make(map[string]string)}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Config file not found, continuing without aliases",
				slog.String("path", path))

			return cfg, nil
		}

		slog.Warn("Failed to read config file, continuing without aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse config file, continuing without aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Config{FieldAliases: make(map[string]string)}, nil
	}

	if cfg.FieldAliases == nil {
		cfg.FieldAliases = make(map[string]string)
	}

	return cfg, nil
}

// LoadConfigFromEnv loads config from CALLSCOPE_CONFIG_PATH, falling back to
// .callscope.yaml in the working directory.
func LoadConfigFromEnv() (*Config, error) {
	return LoadConfig(config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath))
}
