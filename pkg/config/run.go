package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/et-gather/pkg/export"
	"github.com/Sternrassler/et-gather/pkg/fetch"
	"github.com/Sternrassler/et-gather/pkg/reference"
)

// DateLayout is the layout of forecast dates.
const DateLayout = "2006-01-02"

// Run is one YAML run file.
type Run struct {
	Reference   ReferenceSource     `mapstructure:"reference"`
	Fields      []string            `mapstructure:"fields"`
	Frequency   string              `mapstructure:"frequency"`
	Packets     bool                `mapstructure:"packets"`
	Requests    []fetch.RequestSpec `mapstructure:"requests"`
	Output      Output              `mapstructure:"output"`
	Climatology *Summary            `mapstructure:"climatology"`
	Averages    *Summary            `mapstructure:"averages"`
	Forecast    *Forecast           `mapstructure:"forecast"`
}

// ReferenceSource is the field reference CSV and its column names.
type ReferenceSource struct {
	Path              string `mapstructure:"path"`
	reference.Options `mapstructure:",squash"`
}

// Output is where the merged table goes. Path has no extension; the format
// adds it.
type Output struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"`
}

// Summary configures a climatology or yearly averages table derived from
// the merged table.
type Summary struct {
	Path    string   `mapstructure:"path"`
	Columns []string `mapstructure:"columns"`
	Year    int      `mapstructure:"year"`
}

// Forecast repeats the run for every forecasting date from Start to End.
// Each date replaces the end of the request date ranges and the merged
// table is written to Dir/<date>_forecast.<ext>.
type Forecast struct {
	Start     string `mapstructure:"start"`
	End       string `mapstructure:"end"`
	EveryDays int    `mapstructure:"every_days"`
	Dir       string `mapstructure:"dir"`
}

// Dates lists the forecasting dates, Start first.
func (f Forecast) Dates() ([]string, error) {
	start, err := time.Parse(DateLayout, f.Start)
	if err != nil {
		return nil, fmt.Errorf("forecast start: %w", err)
	}
	end, err := time.Parse(DateLayout, f.End)
	if err != nil {
		return nil, fmt.Errorf("forecast end: %w", err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("forecast end %s is before start %s", f.End, f.Start)
	}
	every := f.EveryDays
	if every <= 0 {
		every = 7
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, every) {
		dates = append(dates, d.Format(DateLayout))
	}
	return dates, nil
}

// OutputFormat parses Output.Format.
func (r Run) OutputFormat() (export.Format, error) {
	return export.ParseFormat(r.Output.Format)
}

// Validate checks the run and applies defaults.
func (r *Run) Validate() error {
	if r.Reference.Path == "" {
		return errors.New("reference.path is required")
	}
	if len(r.Requests) == 0 {
		return errors.New("at least one request is required")
	}
	names := make(map[string]bool, len(r.Requests))
	for i := range r.Requests {
		r.Requests[i] = r.Requests[i].WithDefaults()
		if err := r.Requests[i].Validate(); err != nil {
			return fmt.Errorf("requests[%d]: %w", i, err)
		}
		if names[r.Requests[i].Name] {
			return fmt.Errorf("requests[%d]: duplicate name %q", i, r.Requests[i].Name)
		}
		names[r.Requests[i].Name] = true
	}

	if _, err := r.OutputFormat(); err != nil {
		return err
	}
	if r.Output.Path == "" && r.Forecast == nil {
		r.Output.Path = "output"
	}
	if r.Averages != nil && r.Averages.Year == 0 {
		return errors.New("averages.year is required")
	}
	if r.Forecast != nil {
		if _, err := r.Forecast.Dates(); err != nil {
			return err
		}
		if r.Forecast.Dir == "" {
			r.Forecast.Dir = "."
		}
	}
	return nil
}

// DecodeRun decodes a run from YAML.
func DecodeRun(data []byte) (*Run, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse run file: %w", err)
	}

	var run Run
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &run,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode run file: %w", err)
	}
	if err := run.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run file: %w", err)
	}
	return &run, nil
}

// LoadRun reads and validates a run file. A relative reference path is
// resolved against the run file's directory.
func LoadRun(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	run, err := DecodeRun(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !filepath.IsAbs(run.Reference.Path) {
		run.Reference.Path = filepath.Join(filepath.Dir(path), run.Reference.Path)
	}
	return run, nil
}
