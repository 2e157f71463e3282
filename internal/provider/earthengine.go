package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"lst-platform/internal/models"
	"lst-platform/pkg/logging"
	"lst-platform/pkg/metrics"
)

// OpGetRegion names the region extraction call in errors and metrics
const OpGetRegion = "getRegion"

// timeProperty is the image property holding acquisition time in ms
const timeProperty = "system:time_start"

// maxErrorBody caps how much of a failed response is read
const maxErrorBody = 1 << 16

// RegionProvider returns the raw tabular time series at a point
type RegionProvider interface {
	GetRegion(ctx context.Context, session *Session, query models.RegionQuery) (models.RawResponse, error)
}

// EarthEngineProvider extracts point time series through the Earth Engine
// REST value:compute endpoint
type EarthEngineProvider struct {
	logger  *logging.ContextLogger
	metrics *metrics.Collector
}

// NewEarthEngineProvider creates a new Earth Engine provider
func NewEarthEngineProvider(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *EarthEngineProvider {
	return &EarthEngineProvider{
		logger:  logger.WithFields(logging.Fields{"stage": "FETCH", "provider": "earthengine"}),
		metrics: metricsCollector,
	}
}

// Expression graph wire types of the Earth Engine REST API.
type computeRequest struct {
	Expression expression `json:"expression"`
}

type expression struct {
	Result string               `json:"result"`
	Values map[string]valueNode `json:"values"`
}

type valueNode struct {
	ConstantValue           interface{}         `json:"constantValue,omitempty"`
	FunctionInvocationValue *functionInvocation `json:"functionInvocationValue,omitempty"`
}

type functionInvocation struct {
	FunctionName string               `json:"functionName"`
	Arguments    map[string]valueNode `json:"arguments"`
}

type computeResponse struct {
	Result models.RawResponse `json:"result"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func constant(v interface{}) valueNode {
	return valueNode{ConstantValue: v}
}

func invoke(name string, args map[string]valueNode) valueNode {
	return valueNode{FunctionInvocationValue: &functionInvocation{FunctionName: name, Arguments: args}}
}

// regionExpression builds getRegion over the date-filtered collection at the
// query point. Every band of the collection is returned.
func regionExpression(q models.RegionQuery) expression {
	collection := invoke("Collection.filter", map[string]valueNode{
		"collection": invoke("ImageCollection.load", map[string]valueNode{
			"id": constant(q.Collection),
		}),
		"filter": invoke("Filter.dateRangeContains", map[string]valueNode{
			"leftValue": invoke("DateRange", map[string]valueNode{
				"start": constant(q.StartDate),
				"end":   constant(q.EndDate),
			}),
			"rightField": constant(timeProperty),
		}),
	})

	region := invoke("ImageCollection.getRegion", map[string]valueNode{
		"collection": collection,
		"geometry": invoke("GeometryConstructors.Point", map[string]valueNode{
			"coordinates": constant([]float64{q.Longitude, q.Latitude}),
		}),
		"scale": constant(q.Scale),
	})

	return expression{Result: "0", Values: map[string]valueNode{"0": region}}
}

// GetRegion fetches the region table for query. Failures are returned as
// *models.ProviderError and never retried.
func (p *EarthEngineProvider) GetRegion(ctx context.Context, session *Session, query models.RegionQuery) (models.RawResponse, error) {
	start := time.Now()
	raw, err := p.getRegion(ctx, session, query)
	duration := time.Since(start)

	if err != nil {
		p.metrics.RecordProviderRequest(OpGetRegion, "error", duration)
		p.logger.Error(ctx, "[PROVIDER_ERROR] Region request failed", logging.Fields{
			"collection":  query.Collection,
			"duration_ms": duration.Milliseconds(),
		}, err)
		return nil, err
	}

	p.metrics.RecordProviderRequest(OpGetRegion, "success", duration)
	p.logger.Info(ctx, "[PROVIDER_RESPONSE] Region table received", logging.Fields{
		"collection":  query.Collection,
		"rows":        len(raw),
		"duration_ms": duration.Milliseconds(),
	})
	return raw, nil
}

func (p *EarthEngineProvider) getRegion(ctx context.Context, session *Session, query models.RegionQuery) (models.RawResponse, error) {
	fail := func(err error) error {
		return &models.ProviderError{Op: OpGetRegion, Err: err}
	}

	client, err := session.httpClient()
	if err != nil {
		return nil, fail(err)
	}

	body, err := json.Marshal(computeRequest{Expression: regionExpression(query)})
	if err != nil {
		return nil, fail(fmt.Errorf("failed to encode expression: %w", err))
	}

	endpoint := fmt.Sprintf("%s/v1/projects/%s/value:compute", session.BaseURL(), url.PathEscape(session.Project()))
	p.logger.Debug(ctx, "[PROVIDER_REQUEST] Requesting region table", logging.Fields{
		"endpoint":   endpoint,
		"collection": query.Collection,
		"longitude":  query.Longitude,
		"latitude":   query.Latitude,
		"start_date": query.StartDate,
		"end_date":   query.EndDate,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fail(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	raw, err := decodeResult(resp.Body)
	if err != nil {
		return nil, &models.ProviderError{Op: OpGetRegion, StatusCode: resp.StatusCode, Err: err}
	}
	return raw, nil
}

func apiError(resp *http.Response) error {
	perr := &models.ProviderError{Op: OpGetRegion, StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var apiErr apiErrorResponse
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
		perr.Status = apiErr.Error.Status
		perr.Message = apiErr.Error.Message
		return perr
	}

	perr.Message = http.StatusText(resp.StatusCode)
	return perr
}

// decodeResult reads {"result": [...]} keeping numbers exact.
func decodeResult(r io.Reader) (models.RawResponse, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var out computeResponse
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Result == nil {
		return nil, fmt.Errorf("response has no result")
	}
	return out.Result, nil
}
