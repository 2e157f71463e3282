package analysis

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"lst-platform/internal/models"
	"lst-platform/internal/units"
)

// Reasons a raw row is dropped by the normalizer.
const (
	DropMalformed    = "malformed"
	DropMissingField = "missing_field"
	DropInvalidTime  = "invalid_time"
	DropInvalidBand  = "invalid_band"
)

// maxReportedErrors bounds the coercion errors kept in a NormalizeReport.
const maxReportedErrors = 10

// NormalizeReport describes what normalization did with the raw rows
type NormalizeReport struct {
	RawRows int
	Samples int
	Dropped map[string]int
	// Errors holds the first few row-local failures, in row order.
	Errors []*models.CoercionError
}

// DroppedTotal returns the number of dropped rows over all reasons
func (r *NormalizeReport) DroppedTotal() int {
	total := 0
	for _, n := range r.Dropped {
		total += n
	}
	return total
}

// Normalizer turns raw region responses into clean time series
type Normalizer struct {
	transforms *units.Registry
}

// NewNormalizer creates a normalizer applying transforms per band.
// A nil registry leaves every band value unconverted.
func NewNormalizer(transforms *units.Registry) *Normalizer {
	return &Normalizer{transforms: transforms}
}

// Normalize converts raw into a TimeSeries holding bands
func (n *Normalizer) Normalize(raw models.RawResponse, bands []string) (*models.TimeSeries, error) {
	ts, _, err := n.NormalizeWithReport(raw, bands)
	return ts, err
}

// NormalizeWithReport converts raw into a TimeSeries and reports dropped rows.
//
// raw[0] is the header. Rows missing longitude, latitude or time, rows with a
// non-integral time and rows where any band is not a finite number are
// dropped whole. A band absent from the header fails the call with a
// *models.SchemaError and no series.
func (n *Normalizer) NormalizeWithReport(raw models.RawResponse, bands []string) (*models.TimeSeries, *NormalizeReport, error) {
	bands = dedupe(bands)
	if len(bands) == 0 {
		return nil, nil, &models.SchemaError{Reason: "no bands requested"}
	}

	report := &NormalizeReport{Dropped: make(map[string]int)}
	ts := &models.TimeSeries{Bands: bands, Samples: []models.Sample{}}

	if len(raw) < 2 {
		return ts, report, nil
	}

	header, err := parseHeader(raw[0])
	if err != nil {
		return nil, nil, err
	}

	cols, err := resolveColumns(header, bands)
	if err != nil {
		return nil, nil, err
	}

	rows := raw[1:]
	report.RawRows = len(rows)
	ts.Samples = make([]models.Sample, 0, len(rows))

	for i, row := range rows {
		sample, cerr := n.normalizeRow(i+1, row, header, cols, bands)
		if cerr != nil {
			report.Dropped[cerr.Reason]++
			if len(report.Errors) < maxReportedErrors {
				report.Errors = append(report.Errors, cerr)
			}
			continue
		}
		ts.Samples = append(ts.Samples, sample)
	}

	report.Samples = len(ts.Samples)
	return ts, report, nil
}

type columnIndex struct {
	longitude int
	latitude  int
	time      int
	bands     []int
}

func parseHeader(row models.RawRecord) (models.Header, error) {
	header := make(models.Header, len(row))
	for i, cell := range row {
		name, ok := cell.(string)
		if !ok {
			return nil, &models.SchemaError{
				Reason: fmt.Sprintf("header column %d is %T, not a name", i, cell),
			}
		}
		header[i] = name
	}
	return header, nil
}

func resolveColumns(header models.Header, bands []string) (columnIndex, error) {
	cols := columnIndex{
		longitude: header.Index(models.ColumnLongitude),
		latitude:  header.Index(models.ColumnLatitude),
		time:      header.Index(models.ColumnTime),
		bands:     make([]int, len(bands)),
	}

	var missing []string
	for _, required := range []struct {
		name string
		idx  int
	}{
		{models.ColumnLongitude, cols.longitude},
		{models.ColumnLatitude, cols.latitude},
		{models.ColumnTime, cols.time},
	} {
		if required.idx < 0 {
			missing = append(missing, required.name)
		}
	}

	for i, band := range bands {
		cols.bands[i] = header.Index(band)
		if cols.bands[i] < 0 {
			missing = append(missing, band)
		}
	}

	if len(missing) > 0 {
		return columnIndex{}, &models.SchemaError{Missing: missing, Header: header}
	}
	return cols, nil
}

func (n *Normalizer) normalizeRow(rowNum int, row models.RawRecord, header models.Header, cols columnIndex, bands []string) (models.Sample, *models.CoercionError) {
	if len(row) != len(header) {
		return models.Sample{}, &models.CoercionError{
			Row:    rowNum,
			Value:  len(row),
			Reason: DropMalformed,
		}
	}

	for _, idx := range []int{cols.longitude, cols.latitude, cols.time} {
		if row[idx] == nil {
			return models.Sample{}, &models.CoercionError{
				Row:    rowNum,
				Column: header[idx],
				Reason: DropMissingField,
			}
		}
	}

	timeMS, ok := toMillis(row[cols.time])
	if !ok {
		return models.Sample{}, &models.CoercionError{
			Row:    rowNum,
			Column: models.ColumnTime,
			Value:  row[cols.time],
			Reason: DropInvalidTime,
		}
	}

	values := make(map[string]float64, len(bands))
	for i, band := range bands {
		raw := row[cols.bands[i]]
		v, ok := toFloat(raw)
		if ok {
			v = n.transforms.Apply(band, v)
			ok = isFinite(v)
		}
		if !ok {
			return models.Sample{}, &models.CoercionError{
				Row:    rowNum,
				Column: band,
				Value:  raw,
				Reason: DropInvalidBand,
			}
		}
		values[band] = v
	}

	return models.NewSample(timeMS, values), nil
}

// numberLike matches json.Number from encoding/json and goccy/go-json.
type numberLike interface {
	Float64() (float64, error)
	String() string
}

// toFloat coerces a raw cell into a finite float64.
func toFloat(v interface{}) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case numberLike:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	return f, isFinite(f)
}

// toMillis coerces a raw time cell into integral milliseconds.
func toMillis(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case numberLike:
		if i, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return i, true
		}
	}

	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func dedupe(bands []string) []string {
	seen := make(map[string]bool, len(bands))
	out := make([]string, 0, len(bands))
	for _, b := range bands {
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out
}
