// Package export encodes merged tables and hands them to sinks.
package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/et-gather/pkg/client"
)

// ErrUnsupportedFormat is returned for an unknown export format, wrapped in
// a *client.ConfigurationError so it also matches client.ErrConfiguration.
var ErrUnsupportedFormat = errors.New("unsupported export format")

func unsupported(format string) error {
	return &client.ConfigurationError{Field: "export format", Err: fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)}
}

// Format is an export encoding.
type Format string

const (
	CSV     Format = "csv"
	JSON    Format = "json"
	Pickle  Format = "pickle"
	Parquet Format = "parquet"
)

// ParseFormat accepts a format name or file extension. Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "csv":
		return CSV, nil
	case "json":
		return JSON, nil
	case "pickle", "pkl", "gob":
		return Pickle, nil
	case "parquet":
		return Parquet, nil
	}
	return "", unsupported(s)
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	switch f {
	case Pickle:
		return ".pkl"
	default:
		return "." + string(f)
	}
}

// ContentType returns the MIME type used for uploads.
func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv"
	case JSON:
		return "application/json"
	case Parquet:
		return "application/x-parquet"
	default:
		return "application/octet-stream"
	}
}

// FileName appends the format's extension to base unless already present.
func FileName(base string, f Format) string {
	if strings.HasSuffix(base, f.Extension()) {
		return base
	}
	return base + f.Extension()
}
