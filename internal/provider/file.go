package provider

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"

	"lst-platform/internal/models"
	"lst-platform/pkg/logging"
)

// OpReplay names the offline replay in errors
const OpReplay = "replay"

// FileProvider replays a saved region response instead of calling the
// remote service. The query and session are ignored.
type FileProvider struct {
	path   string
	logger *logging.ContextLogger
}

// NewFileProvider creates a provider reading path on every request
func NewFileProvider(path string, logger *logging.StructuredLogger) *FileProvider {
	return &FileProvider{
		path:   path,
		logger: logger.WithFields(logging.Fields{"stage": "FETCH", "provider": "replay"}),
	}
}

// GetRegion loads either {"result": [...]} or a bare array from the file
func (p *FileProvider) GetRegion(ctx context.Context, _ *Session, query models.RegionQuery) (models.RawResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, &models.ProviderError{Op: OpReplay, Err: err}
	}

	start := time.Now()
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, &models.ProviderError{Op: OpReplay, Err: err}
	}

	raw, err := decodeSaved(data)
	if err != nil {
		return nil, &models.ProviderError{Op: OpReplay, Message: p.path, Err: err}
	}

	p.logger.Info(ctx, "[PROVIDER_REPLAY] Region table loaded from file", logging.Fields{
		"path":        p.path,
		"collection":  query.Collection,
		"rows":        len(raw),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return raw, nil
}

func decodeSaved(data []byte) (models.RawResponse, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var raw models.RawResponse
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return raw, nil
	}
	return decodeResult(bytes.NewReader(trimmed))
}
