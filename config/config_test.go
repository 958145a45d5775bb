package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "recargo-engine", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "recargo.db", cfg.Database.Path)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "recargo.planillas", cfg.Redis.Channel)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSAllowOrigins)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	// GIVEN: RECARGO_* variables for several sections
	t.Setenv("RECARGO_APP_PORT", "9090")
	t.Setenv("RECARGO_DATABASE_PATH", ":memory:")
	t.Setenv("RECARGO_LOG_FORMAT", "json")
	t.Setenv("RECARGO_REDIS_ENABLED", "true")
	t.Setenv("RECARGO_REDIS_ADDR", "redis:6379")
	t.Setenv("RECARGO_HTTP_SHUTDOWN_TIMEOUT", "3s")

	// WHEN: Loading
	cfg, err := Load()
	require.NoError(t, err)

	// THEN: The environment wins over defaults
	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 3*time.Second, cfg.HTTP.ShutdownTimeout)
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("RECARGO_APP_ENV", "production")

	_, err := Load()
	assert.ErrorContains(t, err, "auth.secret")

	t.Setenv("RECARGO_AUTH_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestFromViper_ConfigFile(t *testing.T) {
	// GIVEN: A config.toml with a catalog path and CORS origins
	dir := t.TempDir()
	toml := `
[app]
port = "7000"

[catalog]
path = "catalog.json"

[http]
cors_allow_origins = ["https://ops.example.com"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(toml), 0o644))

	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, "config.toml"))
	setDefaults(v)
	require.NoError(t, v.ReadInConfig())

	// WHEN: Building the config
	cfg, err := fromViper(v)
	require.NoError(t, err)

	// THEN: File values override defaults and the rest stay defaulted
	assert.Equal(t, "7000", cfg.App.Port)
	assert.Equal(t, "catalog.json", cfg.Catalog.Path)
	assert.Equal(t, []string{"https://ops.example.com"}, cfg.HTTP.CORSAllowOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:      AppConfig{Port: "8080", Env: "development"},
			Database: DatabaseConfig{Path: ":memory:"},
			Log:      LogConfig{Format: "json"},
			Redis:    RedisConfig{Addr: "localhost:6379", Channel: "c"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing port", func(c *Config) { c.App.Port = "" }, "app.port"},
		{"missing database", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"redis without channel", func(c *Config) { c.Redis.Enabled = true; c.Redis.Channel = "" }, "redis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}
