package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"lst-platform/internal/analysis"
	"lst-platform/internal/config"
	"lst-platform/internal/models"
	"lst-platform/internal/provider"
	"lst-platform/internal/services"
	"lst-platform/internal/units"
	"lst-platform/pkg/export"
	"lst-platform/pkg/logging"
	"lst-platform/pkg/metrics"
	"lst-platform/pkg/plotting"
)

const (
	version = "1.0.0"
	dayMS   = 24 * 3600 * 1000
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv(config.ConfigFileEnv))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("lst-analysis", version, logging.ParseLevel(cfg.Logging.Level))
	logger.SetOutput(os.Stderr)
	logger.SetFormat(cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.ContextWithRunID(ctx, uuid.NewString())

	metricsCollector := metrics.NewCollector("lst")

	err = run(ctx, cfg, logger, metricsCollector)
	flushMetrics(ctx, cfg.Metrics, logger, metricsCollector)
	if err != nil {
		logger.Error(ctx, "[ANALYSIS_ERROR] Analysis failed", logging.Fields{}, err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) error {
	logger.Info(ctx, "[STARTUP] Starting LST analysis run", logging.Fields{
		"version":     version,
		"collection":  cfg.Query.Collection,
		"location":    cfg.Query.LocationName,
		"replay_file": cfg.Provider.ResponseFile,
	})

	// Initialize provider and session
	var (
		regionProvider provider.RegionProvider
		session        *provider.Session
	)
	if cfg.Provider.ResponseFile != "" {
		regionProvider = provider.NewFileProvider(cfg.Provider.ResponseFile, logger)
	} else {
		var err error
		session, err = provider.OpenSession(ctx, provider.SessionConfig{
			Project:         cfg.Provider.Project,
			BaseURL:         cfg.Provider.BaseURL,
			CredentialsFile: cfg.Provider.CredentialsFile,
			Timeout:         cfg.Provider.Timeout,
		})
		if err != nil {
			return fmt.Errorf("failed to open provider session: %w", err)
		}
		defer session.Close()

		logger.Info(ctx, "[SESSION_OPEN] Provider session opened", logging.Fields{
			"project":  session.Project(),
			"base_url": session.BaseURL(),
		})
		regionProvider = provider.NewEarthEngineProvider(logger, metricsCollector)
	}

	registry := units.DefaultRegistry()
	for _, band := range cfg.Query.Bands {
		if _, ok := registry.Lookup(band); !ok {
			logger.Warn(ctx, "[UNIT_PASSTHROUGH] Band has no unit transform, raw values are kept", logging.Fields{
				"band":        band,
				"transformed": registry.Bands(),
			})
		}
	}

	// Initialize services
	analysisService := services.NewAnalysisService(
		regionProvider,
		analysis.NewNormalizer(registry),
		analysis.NewSeasonalFitter(analysis.FitOptions{MaxIterations: cfg.Fit.MaxIterations}),
		export.NewCSVSink(),
		plotting.NewPNGRenderer(cfg.Plot.YMin, cfg.Plot.YMax),
		logger,
		metricsCollector,
	)

	result, err := analysisService.Run(ctx, session, services.AnalysisRequest{
		Query:        cfg.RegionQuery(),
		FitBand:      cfg.Query.FitBand,
		LocationName: cfg.Query.LocationName,
		Guess:        cfg.SeasonalGuess(),
		CSVPath:      cfg.Export.CSVPath,
		PlotPath:     cfg.Plot.Path,
	})
	if err != nil {
		return err
	}

	printResult(os.Stdout, cfg, registry, result)
	return nil
}

func printResult(w io.Writer, cfg *config.Config, registry *units.Registry, result *services.AnalysisResult) {
	fit := result.Fit
	params := fit.Model.SeasonalParams
	unit := registry.Unit(fit.Band)

	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "LST ANALYSIS COMPLETE: %s (%.4f, %.4f)\n", cfg.Query.LocationName, cfg.Query.Longitude, cfg.Query.Latitude)
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "Raw Rows:           %d\n", result.Report.RawRows)
	fmt.Fprintf(w, "Samples:            %d\n", result.Series.Len())
	fmt.Fprintf(w, "Dropped Rows:       %d\n", result.Report.DroppedTotal())
	if result.Series.Len() > 0 {
		fmt.Fprintf(w, "Date Range:         %s to %s\n",
			result.Summary.First.Format(time.DateOnly), result.Summary.Last.Format(time.DateOnly))
	}
	if bs, ok := result.Summary.Band(cfg.Query.FitBand); ok {
		fmt.Fprintf(w, "Average %s at point: %.2f %s\n", units.Describe(bs.Band).Short, bs.Mean, unit)
	}

	fmt.Fprintf(w, "\nSeasonal fit of %s (%d iterations):\n", fit.Band, fit.Iterations)
	stdErr := fit.StdErrors()
	if stdErr == nil {
		stdErr = &models.SeasonalParams{Baseline: math.NaN(), Amplitude: math.NaN(), Period: math.NaN(), Phase: math.NaN()}
	}
	fmt.Fprintf(w, "  Baseline:          %.4f ± %.4f %s\n", params.Baseline, stdErr.Baseline, unit)
	fmt.Fprintf(w, "  Amplitude:         %.4f ± %.4f %s\n", params.Amplitude, stdErr.Amplitude, unit)
	fmt.Fprintf(w, "  Period:            %.4f ± %.4f days\n", params.Period/dayMS, stdErr.Period/dayMS)
	fmt.Fprintf(w, "  Phase:             %.4f ± %.4f rad\n", params.Phase, stdErr.Phase)
	fmt.Fprintf(w, "  RMSE:              %.4f %s\n", fit.RMSE, unit)
	fmt.Fprintf(w, "  R²:                %.4f\n", fit.RSquared)

	if result.Series.Len() > 0 {
		fmt.Fprintf(w, "  Model at %s: %.2f %s\n",
			result.Summary.Last.Format(time.DateOnly), fit.Model.EvaluateTime(result.Summary.Last), unit)
	}

	fmt.Fprintf(w, "\nCSV:                %s\n", result.CSVPath)
	fmt.Fprintf(w, "Plot:               %s\n", result.PlotPath)
	fmt.Fprintf(w, "Duration:           %v\n", result.Duration)
}

func flushMetrics(ctx context.Context, cfg config.MetricsConfig, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) {
	if cfg.PushgatewayURL != "" {
		if err := metricsCollector.Push(ctx, cfg.PushgatewayURL, cfg.Job); err != nil {
			logger.Warn(ctx, "[METRICS_PUSH_ERROR] Failed to push metrics", logging.Fields{
				"url":   cfg.PushgatewayURL,
				"error": err.Error(),
			})
		}
	}
	if cfg.TextfilePath != "" {
		if err := metricsCollector.WriteTextfile(cfg.TextfilePath); err != nil {
			logger.Warn(ctx, "[METRICS_TEXTFILE_ERROR] Failed to write metrics textfile", logging.Fields{
				"path":  cfg.TextfilePath,
				"error": err.Error(),
			})
		}
	}
}
