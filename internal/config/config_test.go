package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.MinConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Server.RequestTimeoutSecs)
	assert.InDelta(t, 50.0, cfg.Server.RateLimitRPS, 0.001)
	assert.Equal(t, 100, cfg.Server.RateLimitBurst)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 10, cfg.Verification.Threshold)
	assert.Equal(t, 2, cfg.Verification.AccurateTrustDelta)
	assert.Equal(t, -1, cfg.Verification.InaccurateTrustDelta)
	assert.Equal(t, int64(10), cfg.Verification.AuthorRewardTrue)
	assert.Equal(t, int64(3), cfg.Verification.AuthorRewardPartial)
	assert.Equal(t, int64(5), cfg.Daily.BaseAward)
	assert.Equal(t, 30, cfg.Leaderboard.CacheTTLSecs)
	assert.Equal(t, 64, cfg.Leaderboard.CacheEntries)
	assert.Equal(t, 0, cfg.Leaderboard.RefreshIntervalSecs)
	assert.Equal(t, 10, cfg.Leaderboard.DefaultLimit)
	assert.Equal(t, 100, cfg.Leaderboard.MaxLimit)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, 50, cfg.Retry.InitialBackoffMs)
	assert.Equal(t, 500, cfg.Retry.MaxBackoffMs)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: engine.db
log:
  level: debug
  format: console
server:
  port: 9090
verification:
  threshold: 5
leaderboard:
  cache_ttl_secs: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "engine.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Verification.Threshold)
	assert.Equal(t, 0, cfg.Leaderboard.CacheTTLSecs)
	// Defaults still apply for unset values
	assert.Equal(t, int64(5), cfg.Daily.BaseAward)
	assert.Equal(t, 100, cfg.Leaderboard.MaxLimit)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("VIURL_STORE_DRIVER", "postgres")
	t.Setenv("VIURL_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("VIURL_SERVER_PORT", "3000")
	t.Setenv("VIURL_DAILY_BASE_AWARD", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, int64(7), cfg.Daily.BaseAward)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("VIURL_VERIFICATION_THRESHOLD=3\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("VIURL_VERIFICATION_THRESHOLD") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Verification.Threshold)
}

func TestLoadDotEnvDoesNotOverrideEnv(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("VIURL_LOG_LEVEL=debug\n"), 0644))
	t.Setenv("VIURL_LOG_LEVEL", "error")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoadMalformedYAML(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Server.Port = 8080
	cfg.Verification.Threshold = 10
	cfg.Daily.BaseAward = 5
	cfg.Leaderboard.DefaultLimit = 10
	cfg.Leaderboard.MaxLimit = 100
	return cfg
}

func TestValidateServe_ValidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 9090

	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateCLI_IgnoresPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	assert.NoError(t, cfg.Validate("cli"))
}

func TestValidatePostgres_RequiresURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("cli")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/viurl"
	assert.NoError(t, cfg.Validate("cli"))
}

func TestValidateUnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("cli")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Verification.Threshold = 0
	cfg.Daily.BaseAward = 0
	cfg.Leaderboard.DefaultLimit = 200

	err := cfg.Validate("cli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verification.threshold")
	assert.Contains(t, err.Error(), "daily.base_award")
	assert.Contains(t, err.Error(), "default_limit <= max_limit")
}
