package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"lst-platform/internal/models"
)

// EnvPrefix prefixes every environment override, e.g. LST_QUERY_FIT_BAND
const EnvPrefix = "LST"

// ConfigFileEnv names the environment variable holding the config file path
const ConfigFileEnv = "LST_CONFIG_FILE"

const dateLayout = "2006-01-02"

// Config represents the complete application configuration
type Config struct {
	Provider ProviderConfig `mapstructure:"provider"`
	Query    QueryConfig    `mapstructure:"query"`
	Fit      FitConfig      `mapstructure:"fit"`
	Export   ExportConfig   `mapstructure:"export"`
	Plot     PlotConfig     `mapstructure:"plot"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ProviderConfig holds Earth Engine access configuration
type ProviderConfig struct {
	BaseURL         string        `mapstructure:"base_url" validate:"omitempty,url"`
	Project         string        `mapstructure:"project"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	// ResponseFile replays a saved region response instead of calling the API.
	ResponseFile string `mapstructure:"response_file"`
}

// QueryConfig describes the point time series to analyze
type QueryConfig struct {
	Collection   string   `mapstructure:"collection" validate:"required"`
	Bands        []string `mapstructure:"bands" validate:"required,min=1,dive,required"`
	FitBand      string   `mapstructure:"fit_band" validate:"required"`
	LocationName string   `mapstructure:"location_name"`
	Longitude    float64  `mapstructure:"longitude" validate:"gte=-180,lte=180"`
	Latitude     float64  `mapstructure:"latitude" validate:"gte=-90,lte=90"`
	Scale        float64  `mapstructure:"scale" validate:"gt=0"`
	StartDate    string   `mapstructure:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate      string   `mapstructure:"end_date" validate:"required,datetime=2006-01-02"`
}

// FitConfig holds the initial guess and solver limits of the seasonal fit
type FitConfig struct {
	Baseline      float64 `mapstructure:"baseline"`
	Amplitude     float64 `mapstructure:"amplitude"`
	PeriodMS      float64 `mapstructure:"period_ms" validate:"gt=0"`
	Phase         float64 `mapstructure:"phase"`
	MaxIterations int     `mapstructure:"max_iterations" validate:"min=1"`
}

// ExportConfig holds the CSV export destination
type ExportConfig struct {
	CSVPath string `mapstructure:"csv_path" validate:"required"`
}

// PlotConfig holds the figure destination and axis range
type PlotConfig struct {
	Path string  `mapstructure:"path" validate:"required"`
	YMin float64 `mapstructure:"y_min"`
	YMax float64 `mapstructure:"y_max"`
}

// MetricsConfig controls how the run's metrics are flushed
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" validate:"omitempty,url"`
	TextfilePath   string `mapstructure:"textfile_path"`
	Job            string `mapstructure:"job" validate:"required"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text console"`
}

// Load reads configuration from defaults, an optional file and environment
// variables, in increasing precedence. A .env file in the working directory
// is loaded into the environment first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if !v.IsSet("fit.phase") && cfg.Fit.PeriodMS > 0 {
		cfg.Fit.Phase = DefaultPhase(cfg.Fit.PeriodMS)
	}

	return &cfg, nil
}

// DefaultPhase is the initial phase guess for a period of periodMS
func DefaultPhase(periodMS float64) float64 {
	return 2 * math.Pi * 4 * 30.5 * 3600 * 1000 / periodMS
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Provider defaults
	v.SetDefault("provider.base_url", "https://earthengine.googleapis.com")
	v.SetDefault("provider.project", "")
	v.SetDefault("provider.credentials_file", "")
	v.SetDefault("provider.timeout", "2m")
	v.SetDefault("provider.response_file", "")

	// Query defaults
	v.SetDefault("query.collection", "MODIS/061/MOD11A1")
	v.SetDefault("query.bands", []string{"LST_Day_1km"})
	v.SetDefault("query.fit_band", "LST_Day_1km")
	v.SetDefault("query.location_name", "Madison, WI")
	v.SetDefault("query.longitude", -89.4012)
	v.SetDefault("query.latitude", 43.0730)
	v.SetDefault("query.scale", 1000)
	v.SetDefault("query.start_date", "2000-02-24")
	v.SetDefault("query.end_date", "2023-04-28")

	// Fit defaults
	period := 365.0 * 24 * 3600 * 1000
	v.SetDefault("fit.baseline", 20)
	v.SetDefault("fit.amplitude", 40)
	v.SetDefault("fit.period_ms", period)
	// fit.phase has no static default, it follows fit.period_ms.
	_ = v.BindEnv("fit.phase")
	v.SetDefault("fit.max_iterations", 200)

	// Output defaults
	v.SetDefault("export.csv_path", "lst.csv")
	v.SetDefault("plot.path", "lst.png")
	v.SetDefault("plot.y_min", -30)
	v.SetDefault("plot.y_max", 50)

	// Metrics defaults
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.textfile_path", "")
	v.SetDefault("metrics.job", "lst_analysis")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks field constraints and the relations between fields
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.ActualTag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	found := false
	for _, band := range c.Query.Bands {
		if band == c.Query.FitBand {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("query.fit_band %q must be one of query.bands %v", c.Query.FitBand, c.Query.Bands)
	}

	start, _ := time.Parse(dateLayout, c.Query.StartDate)
	end, _ := time.Parse(dateLayout, c.Query.EndDate)
	if !start.Before(end) {
		return fmt.Errorf("query.start_date must be before query.end_date")
	}

	if c.Plot.YMin >= c.Plot.YMax {
		return fmt.Errorf("plot.y_min must be less than plot.y_max")
	}

	if c.Provider.ResponseFile == "" && c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required unless provider.response_file is set")
	}

	return nil
}

// RegionQuery returns the provider query described by the configuration
func (c *Config) RegionQuery() models.RegionQuery {
	return models.RegionQuery{
		Collection: c.Query.Collection,
		Bands:      append([]string(nil), c.Query.Bands...),
		Longitude:  c.Query.Longitude,
		Latitude:   c.Query.Latitude,
		Scale:      c.Query.Scale,
		StartDate:  c.Query.StartDate,
		EndDate:    c.Query.EndDate,
	}
}

// SeasonalGuess returns the initial parameters of the seasonal fit
func (c *Config) SeasonalGuess() models.SeasonalParams {
	return models.SeasonalParams{
		Baseline:  c.Fit.Baseline,
		Amplitude: c.Fit.Amplitude,
		Period:    c.Fit.PeriodMS,
		Phase:     c.Fit.Phase,
	}
}
