package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://earthengine.googleapis.com", cfg.Provider.BaseURL)
	assert.Equal(t, 2*time.Minute, cfg.Provider.Timeout)
	assert.Empty(t, cfg.Provider.ResponseFile)

	assert.Equal(t, "MODIS/061/MOD11A1", cfg.Query.Collection)
	assert.Equal(t, []string{"LST_Day_1km"}, cfg.Query.Bands)
	assert.Equal(t, "LST_Day_1km", cfg.Query.FitBand)
	assert.Equal(t, "Madison, WI", cfg.Query.LocationName)
	assert.Equal(t, -89.4012, cfg.Query.Longitude)
	assert.Equal(t, 43.0730, cfg.Query.Latitude)
	assert.Equal(t, 1000.0, cfg.Query.Scale)
	assert.Equal(t, "2000-02-24", cfg.Query.StartDate)
	assert.Equal(t, "2023-04-28", cfg.Query.EndDate)

	guess := cfg.SeasonalGuess()
	assert.Equal(t, 20.0, guess.Baseline)
	assert.Equal(t, 40.0, guess.Amplitude)
	assert.Equal(t, 31536000000.0, guess.Period)
	assert.InDelta(t, 2*math.Pi*4*30.5*3600*1000/31536000000, guess.Phase, 1e-15)
	assert.Equal(t, 200, cfg.Fit.MaxIterations)

	assert.Equal(t, "lst.csv", cfg.Export.CSVPath)
	assert.Equal(t, "lst.png", cfg.Plot.Path)
	assert.Equal(t, -30.0, cfg.Plot.YMin)
	assert.Equal(t, 50.0, cfg.Plot.YMax)
	assert.Equal(t, "lst_analysis", cfg.Metrics.Job)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	query := cfg.RegionQuery()
	assert.Equal(t, cfg.Query.Collection, query.Collection)
	assert.Equal(t, cfg.Query.Bands, query.Bands)
	assert.Equal(t, cfg.Query.Scale, query.Scale)
}

func TestLoad_File(t *testing.T) {
	content := `
provider:
  project: "lst-research"
  timeout: 30s
  response_file: "testdata/region.json"

query:
  bands:
    - LST_Day_1km
    - LST_Night_1km
  fit_band: LST_Night_1km
  location_name: "Denver, CO"
  longitude: -104.9903
  latitude: 39.7392

fit:
  baseline: 5
  max_iterations: 50

logging:
  level: debug
  format: console
`
	path := filepath.Join(t.TempDir(), "lst.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "lst-research", cfg.Provider.Project)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, "testdata/region.json", cfg.Provider.ResponseFile)
	assert.Equal(t, []string{"LST_Day_1km", "LST_Night_1km"}, cfg.Query.Bands)
	assert.Equal(t, "LST_Night_1km", cfg.Query.FitBand)
	assert.Equal(t, "Denver, CO", cfg.Query.LocationName)
	assert.Equal(t, 5.0, cfg.Fit.Baseline)
	assert.Equal(t, 40.0, cfg.Fit.Amplitude)
	assert.Equal(t, 50, cfg.Fit.MaxIterations)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched keys keep their defaults.
	assert.Equal(t, "MODIS/061/MOD11A1", cfg.Query.Collection)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("LST_QUERY_BANDS", "LST_Day_1km,LST_Night_1km")
	t.Setenv("LST_QUERY_FIT_BAND", "LST_Night_1km")
	t.Setenv("LST_FIT_PERIOD_MS", "31557600000")
	t.Setenv("LST_EXPORT_CSV_PATH", "/tmp/out.csv")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"LST_Day_1km", "LST_Night_1km"}, cfg.Query.Bands)
	assert.Equal(t, "LST_Night_1km", cfg.Query.FitBand)
	assert.Equal(t, 31557600000.0, cfg.Fit.PeriodMS)
	assert.Equal(t, "/tmp/out.csv", cfg.Export.CSVPath)
	assert.InDelta(t, DefaultPhase(31557600000), cfg.Fit.Phase, 1e-15)
}

func TestLoad_ExplicitPhase(t *testing.T) {
	t.Setenv("LST_FIT_PHASE", "1.25")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1.25, cfg.Fit.Phase)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LST_PLOT_PATH=from-dotenv.png\n"), 0o644))
	t.Chdir(dir)
	t.Cleanup(func() { os.Unsetenv("LST_PLOT_PATH") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv.png", cfg.Plot.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"fit band not queried", func(c *Config) { c.Query.FitBand = "LST_Night_1km" }, "query.fit_band"},
		{"no bands", func(c *Config) { c.Query.Bands = nil }, "Bands"},
		{"empty band name", func(c *Config) { c.Query.Bands = []string{"LST_Day_1km", ""} }, "Bands[1]"},
		{"start after end", func(c *Config) { c.Query.StartDate = "2024-01-01" }, "query.start_date"},
		{"malformed date", func(c *Config) { c.Query.EndDate = "28/04/2023" }, "EndDate"},
		{"latitude out of range", func(c *Config) { c.Query.Latitude = 91 }, "Latitude"},
		{"non-positive scale", func(c *Config) { c.Query.Scale = 0 }, "Scale"},
		{"non-positive period", func(c *Config) { c.Fit.PeriodMS = 0 }, "PeriodMS"},
		{"zero iterations", func(c *Config) { c.Fit.MaxIterations = 0 }, "MaxIterations"},
		{"inverted y range", func(c *Config) { c.Plot.YMin = 60 }, "plot.y_min"},
		{"missing csv path", func(c *Config) { c.Export.CSVPath = "" }, "CSVPath"},
		{"bad pushgateway url", func(c *Config) { c.Metrics.PushgatewayURL = "not a url" }, "PushgatewayURL"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, "Level"},
		{"no endpoint and no replay", func(c *Config) { c.Provider.BaseURL = "" }, "provider.base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReplayWithoutEndpoint(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Provider.BaseURL = ""
	cfg.Provider.ResponseFile = "region.json"
	assert.NoError(t, cfg.Validate())
}
