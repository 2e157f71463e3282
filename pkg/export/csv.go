package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"lst-platform/internal/models"
)

// DatetimeLayout renders sample datetimes: RFC 3339, milliseconds, UTC
const DatetimeLayout = "2006-01-02T15:04:05.000Z07:00"

const datetimeColumn = "datetime"

// CSVSink writes a time series as delimited text with a header row
type CSVSink struct {
	Comma rune
}

// NewCSVSink creates a comma separated sink
func NewCSVSink() *CSVSink {
	return &CSVSink{Comma: ','}
}

// Export writes series to path, replacing any existing file
func (s *CSVSink) Export(series *models.TimeSeries, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}

	if err := s.Write(file, series); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close export file: %w", err)
	}
	return nil
}

// Write encodes series as `time,datetime,<band...>` rows
func (s *CSVSink) Write(w io.Writer, series *models.TimeSeries) error {
	if series == nil {
		return errors.New("export: nil series")
	}

	cw := csv.NewWriter(w)
	if s.Comma != 0 {
		cw.Comma = s.Comma
	}

	header := append([]string{models.ColumnTime, datetimeColumn}, series.Bands...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(header))
	for _, sample := range series.Samples {
		record[0] = strconv.FormatInt(sample.Time, 10)
		record[1] = sample.Datetime.UTC().Format(DatetimeLayout)
		for i, band := range series.Bands {
			record[i+2] = strconv.FormatFloat(sample.Bands[band], 'f', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row at %d: %w", sample.Time, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush export: %w", err)
	}
	return nil
}

// ReadCSV loads a file written by CSVSink. The first row is the header; every
// column other than time and datetime is a band.
func ReadCSV(path string) (*models.TimeSeries, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}
	defer file.Close()

	return Read(file)
}

// Read decodes rows produced by CSVSink.Write
func Read(r io.Reader) (*models.TimeSeries, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	timeIdx := models.Header(header).Index(models.ColumnTime)
	if timeIdx < 0 {
		return nil, &models.SchemaError{Missing: []string{models.ColumnTime}, Header: header}
	}

	type bandColumn struct {
		name string
		idx  int
	}
	var columns []bandColumn
	series := &models.TimeSeries{}
	for i, name := range header {
		if i == timeIdx || name == datetimeColumn {
			continue
		}
		columns = append(columns, bandColumn{name: name, idx: i})
		series.Bands = append(series.Bands, name)
	}

	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		t, err := strconv.ParseInt(record[timeIdx], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid time %q: %w", line, record[timeIdx], err)
		}

		bands := make(map[string]float64, len(columns))
		for _, col := range columns {
			v, err := strconv.ParseFloat(record[col.idx], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid %s value %q: %w", line, col.name, record[col.idx], err)
			}
			bands[col.name] = v
		}
		series.Samples = append(series.Samples, models.NewSample(t, bands))
	}

	return series, nil
}
