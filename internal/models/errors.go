package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrUnknownBand         = errors.New("band not present in series")
	ErrInsufficientSamples = errors.New("insufficient samples")
	ErrInvalidGuess        = errors.New("invalid initial guess")
	ErrNotConverged        = errors.New("optimizer did not converge")
	ErrNonFinite           = errors.New("non-finite residuals or parameters")
)

// SchemaError reports columns required by the caller that the provider's
// header does not contain. It is fatal to normalization.
type SchemaError struct {
	Missing []string
	Header  Header
	Reason  string
}

func (e *SchemaError) Error() string {
	if e.Reason != "" {
		return "schema error: " + e.Reason
	}
	return fmt.Sprintf("schema error: columns %s not found in header [%s]",
		strings.Join(e.Missing, ", "), strings.Join(e.Header, ", "))
}

// IsTransient returns false as schema errors are permanent
func (e *SchemaError) IsTransient() bool {
	return false
}

// CoercionError describes one row dropped during normalization.
// It is row-local and never returned from Normalize.
type CoercionError struct {
	Row    int
	Column string
	Value  interface{}
	Reason string
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("row %d: column %q value %v: %s", e.Row, e.Column, e.Value, e.Reason)
}

// IsTransient returns false as coercion errors are permanent
func (e *CoercionError) IsTransient() bool {
	return false
}

// FitError reports a failed seasonal fit; no fallback model is produced
type FitError struct {
	Band       string
	Samples    int
	Iterations int
	Err        error
}

func (e *FitError) Error() string {
	return fmt.Sprintf("fit of band %q over %d samples failed after %d iterations: %v",
		e.Band, e.Samples, e.Iterations, e.Err)
}

func (e *FitError) Unwrap() error {
	return e.Err
}

// IsTransient returns false as a fit is deterministic for its input
func (e *FitError) IsTransient() bool {
	return false
}

// ProviderError wraps any failure of the remote data provider
type ProviderError struct {
	Op         string
	StatusCode int
	Status     string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString("provider ")
	b.WriteString(e.Op)
	b.WriteString(" failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d", e.StatusCode)
		if e.Status != "" {
			fmt.Fprintf(&b, " %s", e.Status)
		}
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the failure might succeed on another run.
// Nothing in this module retries.
func (e *ProviderError) IsTransient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
