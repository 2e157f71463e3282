package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lst-platform/internal/analysis"
	"lst-platform/internal/models"
	"lst-platform/internal/provider"
	"lst-platform/internal/units"
	"lst-platform/pkg/logging"
	"lst-platform/pkg/metrics"
	"lst-platform/pkg/plotting"
)

// DefaultPreviewRows is how many raw rows, header included, are logged at debug level
const DefaultPreviewRows = 5

// Exporter persists a normalized series
type Exporter interface {
	Export(series *models.TimeSeries, path string) error
}

// Renderer draws a series and its fitted curve
type Renderer interface {
	Render(series *models.TimeSeries, band string, eval func(t float64) float64, labels plotting.Labels, path string) error
}

// AnalysisRequest describes one end-to-end run
type AnalysisRequest struct {
	Query        models.RegionQuery
	FitBand      string
	LocationName string
	Guess        models.SeasonalParams
	CSVPath      string
	PlotPath     string
	PreviewRows  int
}

// AnalysisResult contains everything a run produced
type AnalysisResult struct {
	Series   *models.TimeSeries
	Report   *analysis.NormalizeReport
	Summary  *analysis.SeriesSummary
	Fit      *models.SeasonalFit
	CSVPath  string
	PlotPath string
	Duration time.Duration
}

// AnalysisService runs fetch, normalize, summarize, export, fit and render
// in sequence. Any failure stops the run; nothing is retried.
type AnalysisService struct {
	provider   provider.RegionProvider
	normalizer *analysis.Normalizer
	fitter     *analysis.SeasonalFitter
	exporter   Exporter
	renderer   Renderer
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// NewAnalysisService creates a new analysis service
func NewAnalysisService(
	regionProvider provider.RegionProvider,
	normalizer *analysis.Normalizer,
	fitter *analysis.SeasonalFitter,
	exporter Exporter,
	renderer Renderer,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *AnalysisService {
	return &AnalysisService{
		provider:   regionProvider,
		normalizer: normalizer,
		fitter:     fitter,
		exporter:   exporter,
		renderer:   renderer,
		logger:     logger,
		metrics:    metricsCollector,
	}
}

// Run executes the analysis once
func (s *AnalysisService) Run(ctx context.Context, session *provider.Session, req AnalysisRequest) (*AnalysisResult, error) {
	startTime := time.Now()

	s.stage("INITIALIZATION").Info(ctx, "[ANALYSIS_START] Starting LST analysis", logging.Fields{
		"collection": req.Query.Collection,
		"bands":      req.Query.Bands,
		"fit_band":   req.FitBand,
		"location":   req.LocationName,
		"longitude":  req.Query.Longitude,
		"latitude":   req.Query.Latitude,
		"start_date": req.Query.StartDate,
		"end_date":   req.Query.EndDate,
	})

	// Fetch
	fetchStart := time.Now()
	raw, err := s.provider.GetRegion(ctx, session, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch region: %w", err)
	}
	s.metrics.RecordProcessingTime("fetch", time.Since(fetchStart))
	s.preview(ctx, raw, req.PreviewRows)

	// Normalize
	normalizeStart := time.Now()
	series, report, err := s.normalizer.NormalizeWithReport(raw, req.Query.Bands)
	if err != nil {
		s.stage("NORMALIZE").Error(ctx, "[NORMALIZE_ERROR] Response could not be normalized", logging.Fields{
			"raw_elements": len(raw),
		}, err)
		return nil, fmt.Errorf("failed to normalize response: %w", err)
	}
	s.recordNormalization(ctx, report)
	s.metrics.RecordProcessingTime("normalize", time.Since(normalizeStart))

	result := &AnalysisResult{
		Series:   series,
		Report:   report,
		Summary:  analysis.Summarize(series),
		CSVPath:  req.CSVPath,
		PlotPath: req.PlotPath,
	}

	if bs, ok := result.Summary.Band(req.FitBand); ok {
		s.stage("SUMMARIZE").Info(ctx, "[SERIES_SUMMARY] Series summarized", logging.Fields{
			"band":    bs.Band,
			"samples": bs.Count,
			"mean":    bs.Mean,
			"stddev":  bs.StdDev,
			"min":     bs.Min,
			"max":     bs.Max,
			"first":   result.Summary.First,
			"last":    result.Summary.Last,
		})
	}

	// Export
	exportStart := time.Now()
	if err := s.exporter.Export(series, req.CSVPath); err != nil {
		return nil, fmt.Errorf("failed to export series: %w", err)
	}
	s.metrics.ExportRowsTotal.Add(float64(series.Len()))
	s.metrics.RecordProcessingTime("export", time.Since(exportStart))
	s.stage("EXPORT").Info(ctx, "[EXPORT_COMPLETE] Series exported", logging.Fields{
		"path": req.CSVPath,
		"rows":  series.Len(),
	})

	// Fit
	timer := s.metrics.NewTimer(s.metrics.FitDuration)
	fit, err := s.fitter.Fit(series, req.FitBand, req.Guess)
	fitDuration := timer.ObserveDuration()
	if err != nil {
		s.metrics.RecordFitError(fitErrorReason(err))
		s.stage("FIT").Error(ctx, "[FIT_ERROR] Seasonal fit failed", logging.Fields{
			"band":    req.FitBand,
			"samples": series.Len(),
		}, err)
		return nil, fmt.Errorf("failed to fit seasonal model: %w", err)
	}
	result.Fit = fit

	params := fit.Model.SeasonalParams
	s.metrics.RecordFit(req.FitBand, params.Baseline, params.Amplitude, params.Period, params.Phase, fit.RMSE, fit.Iterations)
	s.stage("FIT").Info(ctx, "[FIT_COMPLETE] Seasonal model fitted", logging.Fields{
		"band":        req.FitBand,
		"baseline":    params.Baseline,
		"amplitude":   params.Amplitude,
		"period_ms":   params.Period,
		"phase":       params.Phase,
		"rmse":        fit.RMSE,
		"r_squared":   fit.RSquared,
		"iterations":  fit.Iterations,
		"duration_ms": fitDuration.Milliseconds(),
	})

	// Render
	renderStart := time.Now()
	labels := plotting.Labels{
		Title:      fmt.Sprintf("%s %s", units.Describe(req.FitBand).Title, req.LocationName),
		XLabel:     "Date",
		YLabel:     "Temperature [C]",
		DataLegend: fmt.Sprintf("%s (data)", req.FitBand),
		FitLegend:  fmt.Sprintf("%s (fitted)", req.FitBand),
	}
	if err := s.renderer.Render(series, req.FitBand, fit.Model.Evaluate, labels, req.PlotPath); err != nil {
		return nil, fmt.Errorf("failed to render plot: %w", err)
	}
	s.metrics.RecordProcessingTime("render", time.Since(renderStart))

	result.Duration = time.Since(startTime)

	s.stage("COMPLETE").Info(ctx, "[ANALYSIS_COMPLETE] LST analysis completed", logging.Fields{
		"samples":          series.Len(),
		"dropped_rows":     report.DroppedTotal(),
		"csv_path":         req.CSVPath,
		"plot_path":        req.PlotPath,
		"duration_seconds": result.Duration.Seconds(),
	})

	return result, nil
}

// preview logs the first rows of the raw response for inspection
func (s *AnalysisService) preview(ctx context.Context, raw models.RawResponse, rows int) {
	if rows <= 0 {
		rows = DefaultPreviewRows
	}
	if rows > len(raw) {
		rows = len(raw)
	}
	log := s.stage("FETCH")
	for i, record := range raw[:rows] {
		log.Debug(ctx, "[FETCH_PREVIEW] Raw response row", logging.Fields{
			"index":  i,
			"values": []interface{}(record),
		})
	}
}

func (s *AnalysisService) recordNormalization(ctx context.Context, report *analysis.NormalizeReport) {
	s.metrics.RowsProcessedTotal.Add(float64(report.RawRows))
	s.metrics.SamplesEmitted.Set(float64(report.Samples))

	for reason, n := range report.Dropped {
		s.metrics.RecordDroppedRows(reason, n)
	}

	fields := logging.Fields{
		"raw_rows": report.RawRows,
		"samples":  report.Samples,
		"dropped":  report.DroppedTotal(),
	}
	log := s.stage("NORMALIZE")
	if report.DroppedTotal() == 0 {
		log.Info(ctx, "[NORMALIZE_COMPLETE] Response normalized", fields)
		return
	}

	for reason, n := range report.Dropped {
		fields["dropped_"+reason] = n
	}
	if len(report.Errors) > 0 {
		fields["first_drop"] = report.Errors[0].Error()
	}
	log.Warn(ctx, "[NORMALIZE_DROPPED] Rows dropped during normalization", fields)
}

// stage scopes the service logger to one pipeline stage
func (s *AnalysisService) stage(name string) *logging.ContextLogger {
	return s.logger.WithFields(logging.Fields{"stage": name})
}

func fitErrorReason(err error) string {
	switch {
	case errors.Is(err, models.ErrUnknownBand):
		return "unknown_band"
	case errors.Is(err, models.ErrInsufficientSamples):
		return "insufficient_samples"
	case errors.Is(err, models.ErrInvalidGuess):
		return "invalid_guess"
	case errors.Is(err, models.ErrNotConverged):
		return "not_converged"
	case errors.Is(err, models.ErrNonFinite):
		return "non_finite"
	default:
		return "other"
	}
}
