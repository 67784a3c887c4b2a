// Package config loads codeindex settings from a project file, the
// environment and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the base name of the project config file, without extension.
const FileName = ".codeindex"

// Config is the full set of settings.
type Config struct {
	DataDir      string        `mapstructure:"data_dir"`
	Ignore       []string      `mapstructure:"ignore"`
	Languages    []string      `mapstructure:"languages"`
	Workers      int           `mapstructure:"workers"`
	MaxFileSize  int64         `mapstructure:"max_file_size"`
	BuildTimeout time.Duration `mapstructure:"build_timeout"`

	Log    LogConfig    `mapstructure:"log"`
	Graph  GraphConfig  `mapstructure:"graph"`
	Rank   RankConfig   `mapstructure:"rank"`
	Render RenderConfig `mapstructure:"render"`
	Watch  WatchConfig  `mapstructure:"watch"`
	Update UpdateConfig `mapstructure:"update"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GraphConfig struct {
	FanoutThreshold int     `mapstructure:"fanout_threshold"`
	AmbiguousFactor float64 `mapstructure:"ambiguous_factor"`
	PrivateFactor   float64 `mapstructure:"private_factor"`
}

type RankConfig struct {
	Damping       float64 `mapstructure:"damping"`
	MaxIterations int     `mapstructure:"max_iterations"`
	Tolerance     float64 `mapstructure:"tolerance"`
}

type RenderConfig struct {
	TokenBudget   int    `mapstructure:"token_budget"`
	MaxIterations int    `mapstructure:"max_iterations"`
	Format        string `mapstructure:"format"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

type UpdateConfig struct {
	// RescoreBudget skips rescoring after an update when the last scoring
	// run took longer. Zero always rescores.
	RescoreBudget time.Duration `mapstructure:"rescore_budget"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		DataDir:     ".codeindex",
		MaxFileSize: 1_000_000,
		Log:         LogConfig{Level: "info", Format: "console"},
		Graph:       GraphConfig{FanoutThreshold: 8, AmbiguousFactor: 0.5, PrivateFactor: 0.1},
		Rank:        RankConfig{Damping: 0.85, MaxIterations: 100, Tolerance: 1e-6},
		Render:      RenderConfig{TokenBudget: 1024, MaxIterations: 15, Format: "tree"},
		Watch:       WatchConfig{Debounce: 500 * time.Millisecond},
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("ignore", []string{})
	v.SetDefault("languages", []string{})
	v.SetDefault("workers", d.Workers)
	v.SetDefault("max_file_size", d.MaxFileSize)
	v.SetDefault("build_timeout", d.BuildTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("graph.fanout_threshold", d.Graph.FanoutThreshold)
	v.SetDefault("graph.ambiguous_factor", d.Graph.AmbiguousFactor)
	v.SetDefault("graph.private_factor", d.Graph.PrivateFactor)
	v.SetDefault("rank.damping", d.Rank.Damping)
	v.SetDefault("rank.max_iterations", d.Rank.MaxIterations)
	v.SetDefault("rank.tolerance", d.Rank.Tolerance)
	v.SetDefault("render.token_budget", d.Render.TokenBudget)
	v.SetDefault("render.max_iterations", d.Render.MaxIterations)
	v.SetDefault("render.format", d.Render.Format)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("update.rescore_budget", d.Update.RescoreBudget)
}

// Load reads configuration for the project at root. explicitPath, when set,
// names the config file to use and must exist; otherwise .codeindex.yaml
// (or .toml/.json) in root is used if present. Environment variables
// prefixed CODEINDEX_ override both, e.g. CODEINDEX_RENDER_TOKEN_BUDGET.
func Load(root, explicitPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CODEINDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(root)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicitPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal renders c as YAML that Load reads back unchanged.
func (c *Config) Marshal() ([]byte, error) {
	list := func(v []string) []string {
		if v == nil {
			return []string{}
		}
		return v
	}
	m := map[string]any{
		"data_dir":      c.DataDir,
		"ignore":        list(c.Ignore),
		"languages":     list(c.Languages),
		"workers":       c.Workers,
		"max_file_size": c.MaxFileSize,
		"build_timeout": c.BuildTimeout.String(),
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
		"graph": map[string]any{
			"fanout_threshold": c.Graph.FanoutThreshold,
			"ambiguous_factor": c.Graph.AmbiguousFactor,
			"private_factor":   c.Graph.PrivateFactor,
		},
		"rank": map[string]any{
			"damping":        c.Rank.Damping,
			"max_iterations": c.Rank.MaxIterations,
			"tolerance":      c.Rank.Tolerance,
		},
		"render": map[string]any{
			"token_budget":   c.Render.TokenBudget,
			"max_iterations": c.Render.MaxIterations,
			"format":         c.Render.Format,
		},
		"watch":  map[string]any{"debounce": c.Watch.Debounce.String()},
		"update": map[string]any{"rescore_budget": c.Update.RescoreBudget.String()},
	}
	return yaml.Marshal(m)
}

// DataPath resolves DataDir against root.
func (c *Config) DataPath(root string) string {
	if filepath.IsAbs(c.DataDir) {
		return c.DataDir
	}
	return filepath.Join(root, c.DataDir)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return &ConfigError{Field: "data_dir", Message: "must not be empty"}
	case c.Workers < 0:
		return &ConfigError{Field: "workers", Message: "must be >= 0"}
	case c.MaxFileSize < 0:
		return &ConfigError{Field: "max_file_size", Message: "must be >= 0"}
	case c.BuildTimeout < 0:
		return &ConfigError{Field: "build_timeout", Message: "must be >= 0"}
	case c.Graph.FanoutThreshold < 1:
		return &ConfigError{Field: "graph.fanout_threshold", Message: "must be >= 1"}
	case c.Graph.AmbiguousFactor <= 0 || c.Graph.AmbiguousFactor > 1:
		return &ConfigError{Field: "graph.ambiguous_factor", Message: "must be in (0, 1]"}
	case c.Graph.PrivateFactor <= 0 || c.Graph.PrivateFactor > 1:
		return &ConfigError{Field: "graph.private_factor", Message: "must be in (0, 1]"}
	case c.Rank.Damping <= 0 || c.Rank.Damping >= 1:
		return &ConfigError{Field: "rank.damping", Message: "must be in (0, 1)"}
	case c.Rank.MaxIterations < 1:
		return &ConfigError{Field: "rank.max_iterations", Message: "must be >= 1"}
	case c.Rank.Tolerance <= 0:
		return &ConfigError{Field: "rank.tolerance", Message: "must be > 0"}
	case c.Render.TokenBudget < 0:
		return &ConfigError{Field: "render.token_budget", Message: "must be >= 0"}
	case c.Render.MaxIterations < 1:
		return &ConfigError{Field: "render.max_iterations", Message: "must be >= 1"}
	case c.Render.Format != "tree" && c.Render.Format != "toon":
		return &ConfigError{Field: "render.format", Message: "must be tree or toon"}
	case c.Watch.Debounce < 0:
		return &ConfigError{Field: "watch.debounce", Message: "must be >= 0"}
	case c.Update.RescoreBudget < 0:
		return &ConfigError{Field: "update.rescore_budget", Message: "must be >= 0"}
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return &ConfigError{Field: "log.format", Message: "must be console or json"}
	}
	return nil
}

// ConfigError reports an invalid setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
