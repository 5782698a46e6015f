package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "wastewatch.db", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 60, cfg.Server.RequestTimeoutSecs)
	assert.Contains(t, cfg.Sources.CountyURL, "nwsssc2sitemappointsnocoordscsv.csv")
	assert.Contains(t, cfg.Sources.StateURL, "SC2StateLevelDownloadCSV.csv")
	assert.Equal(t, 3, cfg.Sources.MaxRetries)
	assert.True(t, cfg.Ingest.LatestOnly)
	assert.Equal(t, 4, cfg.Forecast.Window)
	assert.Equal(t, 4, cfg.Forecast.Horizon)
	assert.InDelta(t, 0.325, cfg.Notify.Threshold, 0.0001)
	assert.True(t, cfg.Notify.UseForecasts)
	assert.Equal(t, "noreply@wastewatchers.com", cfg.Notify.From)
	assert.Equal(t, "Recent COVID Trends", cfg.Notify.Subject)
	assert.Equal(t, 587, cfg.Notify.SMTP.Port)
	assert.Empty(t, cfg.Notify.SMTP.Host)
	assert.Equal(t, "California", cfg.API.NationalProxy)
	assert.Equal(t, map[string]string{
		"S":  "Alabama",
		"W":  "California",
		"MW": "Illinois",
		"NE": "New York",
	}, cfg.API.RegionProxies)
	assert.False(t, cfg.Schedule.Enabled)
	assert.Equal(t, 1440, cfg.Schedule.IntervalMins)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/wastewatch
log:
  level: debug
  format: console
server:
  port: 9090
api:
  region_proxies:
    s: Texas
notify:
  threshold: 0.5
  smtp:
    host: smtp.example.com
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/wastewatch", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "Texas", cfg.API.RegionProxies["S"])
	assert.InDelta(t, 0.5, cfg.Notify.Threshold, 0.0001)
	assert.Equal(t, "smtp.example.com", cfg.Notify.SMTP.Host)
	// Defaults still apply for unset values
	assert.Equal(t, 587, cfg.Notify.SMTP.Port)
	assert.Equal(t, 4, cfg.Forecast.Window)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("WASTEWATCH_STORE_DRIVER", "sqlite")
	t.Setenv("WASTEWATCH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("WASTEWATCH_SERVER_PORT", "3000")
	t.Setenv("WASTEWATCH_NOTIFY_SMTP_HOST", "smtp.example.com")
	t.Setenv("WASTEWATCH_NOTIFY_SMTP_USERNAME", "alerts")
	t.Setenv("WASTEWATCH_NOTIFY_SMTP_PASSWORD", "hunter2")
	t.Setenv("WASTEWATCH_INGEST_LATEST_ONLY", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "smtp.example.com", cfg.Notify.SMTP.Host)
	assert.Equal(t, "alerts", cfg.Notify.SMTP.Username)
	assert.Equal(t, "hunter2", cfg.Notify.SMTP.Password)
	assert.False(t, cfg.Ingest.LatestOnly)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

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
	cfg.Store.DatabaseURL = "wastewatch.db"
	cfg.Server.Port = 8000
	cfg.Sources.CountyURL = "https://example.com/county.csv"
	cfg.Sources.StateURL = "https://example.com/state.csv"
	cfg.Forecast.Window = 4
	cfg.Forecast.Horizon = 4
	cfg.Notify.Threshold = 0.325
	cfg.Notify.From = "noreply@wastewatchers.com"
	cfg.Schedule.IntervalMins = 60
	return cfg
}

func TestValidate_AllModesPass(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"", "serve", "ingest", "forecast", "notify"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidate_PostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `got "mysql"`)
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be between 1 and 65535")
}

func TestValidateServe_ScheduleChecksJobs(t *testing.T) {
	cfg := validDefaults()
	cfg.Schedule.Enabled = true
	cfg.Schedule.IntervalMins = 0
	cfg.Sources.StateURL = ""
	cfg.Forecast.Horizon = 9

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "schedule.interval_mins must be positive")
	assert.Contains(t, err.Error(), "sources.state_url is required")
	assert.Contains(t, err.Error(), "forecast.horizon must be between 1 and 4")

	cfg.Schedule.Enabled = false
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateIngest_MissingSources(t *testing.T) {
	cfg := validDefaults()
	cfg.Sources.CountyURL = ""

	err := cfg.Validate("ingest")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sources.county_url is required")
}

func TestValidateForecast_Bounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Forecast.Window = 1
	err := cfg.Validate("forecast")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "forecast.window must be at least 2")

	cfg.Forecast.Window = 4
	cfg.Forecast.Horizon = 0
	err = cfg.Validate("forecast")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "forecast.horizon must be between 1 and 4")

	cfg.Forecast.Horizon = 1
	assert.NoError(t, cfg.Validate("forecast"))
}

func TestValidateNotify(t *testing.T) {
	cfg := validDefaults()
	cfg.Notify.SMTP.Host = "smtp.example.com"
	cfg.Notify.From = ""

	err := cfg.Validate("notify")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "notify.from is required")

	cfg.Notify.From = "alerts@example.com"
	cfg.Notify.Threshold = 0
	err = cfg.Validate("notify")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "notify.threshold must be positive")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestRedacted(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://ww:s3cret@db:5432/wastewatch"
	cfg.Notify.SMTP.Password = "hunter2"

	red := cfg.Redacted()
	assert.Equal(t, "postgres://ww:********@db:5432/wastewatch", red.Store.DatabaseURL)
	assert.Equal(t, "********", red.Notify.SMTP.Password)
	// Original untouched
	assert.Equal(t, "hunter2", cfg.Notify.SMTP.Password)
}

func TestRedactURL_NoPassword(t *testing.T) {
	assert.Equal(t, "postgres://ww@db/x", redactURL("postgres://ww@db/x"))
	assert.Equal(t, "wastewatch.db", redactURL("wastewatch.db"))
}
