package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/et-gather/pkg/table"
)

// Exporter encodes a table once and puts it to every sink.
type Exporter struct {
	sinks  []Sink
	logger zerolog.Logger
}

// New returns an Exporter. logger may be nil.
func New(logger *zerolog.Logger, sinks ...Sink) *Exporter {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "export").Logger()
	}
	return &Exporter{sinks: sinks, logger: l}
}

// Export writes t as name to every sink. A failing sink does not stop the
// others; all failures are returned together.
func (e *Exporter) Export(ctx context.Context, t *table.Table, name string, format Format) error {
	var buf bytes.Buffer
	if err := Encode(&buf, t, format); err != nil {
		return err
	}
	if err := e.Put(ctx, name, buf.Bytes(), format.ContentType()); err != nil {
		return err
	}
	e.logger.Info().
		Str("name", name).
		Str("format", string(format)).
		Int("rows", t.Len()).
		Msg("Exported table")
	return nil
}

// Put stores already encoded data under name in every sink.
func (e *Exporter) Put(ctx context.Context, name string, data []byte, contentType string) error {
	var errs *multierror.Error
	for _, s := range e.sinks {
		if err := s.Put(ctx, name, bytes.NewReader(data), contentType); err != nil {
			e.logger.Error().Err(err).Str("sink", fmt.Sprint(s)).Str("name", name).Msg("Export failed")
			errs = multierror.Append(errs, fmt.Errorf("%v: %w", s, err))
			continue
		}
		e.logger.Debug().Str("sink", fmt.Sprint(s)).Str("name", name).Int("bytes", len(data)).Msg("Stored")
	}
	return errs.ErrorOrNil()
}

// Export is a shorthand for New(nil, sinks...).Export.
func Export(ctx context.Context, t *table.Table, name string, format Format, sinks ...Sink) error {
	return New(nil, sinks...).Export(ctx, t, name, format)
}
