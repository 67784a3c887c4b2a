package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), "")
	require.NoError(t, err)
	d := Defaults()
	assert.Empty(t, cfg.Ignore)
	assert.Empty(t, cfg.Languages)
	cfg.Ignore, cfg.Languages = d.Ignore, d.Languages
	assert.Equal(t, d, cfg)
}

func TestLoadProjectFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `data_dir: .cache/idx
ignore:
  - "gen/**"
languages: [go, python]
workers: 4
build_timeout: 30s
render:
  token_budget: 2048
  format: toon
watch:
  debounce: 250ms
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".codeindex.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, ".cache/idx", cfg.DataDir)
	assert.Equal(t, []string{"gen/**"}, cfg.Ignore)
	assert.Equal(t, []string{"go", "python"}, cfg.Languages)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.BuildTimeout)
	assert.Equal(t, 2048, cfg.Render.TokenBudget)
	assert.Equal(t, "toon", cfg.Render.Format)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	// Untouched keys keep defaults.
	assert.Equal(t, 0.85, cfg.Rank.Damping)
	assert.Equal(t, filepath.Join(dir, ".cache/idx"), cfg.DataPath(dir))
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CODEINDEX_RENDER_TOKEN_BUDGET", "512")
	t.Setenv("CODEINDEX_LOG_LEVEL", "debug")

	cfg, err := Load(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Render.TokenBudget)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadExplicitMissing(t *testing.T) {
	_, err := Load(t.TempDir(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rank": {"damping": 1.5}}`), 0o644))

	_, err := Load(dir, path)
	require.Error(t, err)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "rank.damping", cfgErr.Field)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		field  string
		mutate func(*Config)
	}{
		{"workers", func(c *Config) { c.Workers = -1 }},
		{"graph.fanout_threshold", func(c *Config) { c.Graph.FanoutThreshold = 0 }},
		{"render.format", func(c *Config) { c.Render.Format = "xml" }},
		{"log.format", func(c *Config) { c.Log.Format = "text" }},
		{"update.rescore_budget", func(c *Config) { c.Update.RescoreBudget = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			err := cfg.Validate()
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
	assert.NoError(t, Defaults().Validate())
}

func TestDataPathAbsolute(t *testing.T) {
	cfg := Defaults()
	cfg.DataDir = "/var/lib/codeindex"
	assert.Equal(t, "/var/lib/codeindex", cfg.DataPath("/repo"))
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Defaults()
	cfg.Ignore = []string{"gen/**"}
	cfg.BuildTimeout = 90 * time.Second
	cfg.Render.Format = "toon"

	data, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "build_timeout: 1m30s")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".codeindex.yaml"), data, 0o644))
	loaded, err := Load(dir, "")
	require.NoError(t, err)
	loaded.Languages = nil
	assert.Equal(t, cfg, loaded)
}
