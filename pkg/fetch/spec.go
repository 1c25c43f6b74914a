package fetch

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Defaults applied by RequestSpec.WithDefaults.
const (
	DefaultModel     = "Ensemble"
	DefaultUnits     = "mm"
	DefaultReference = "gridMET"
)

// RequestSpec describes one parameterized request issued for every field.
// Name becomes the value column of the merged table.
type RequestSpec struct {
	Name          string   `mapstructure:"name" yaml:"name"`
	Endpoint      string   `mapstructure:"endpoint" yaml:"endpoint"`
	DateRange     []string `mapstructure:"date_range" yaml:"date_range"`
	Variable      string   `mapstructure:"variable" yaml:"variable"`
	Model         string   `mapstructure:"model" yaml:"model"`
	Units         string   `mapstructure:"units" yaml:"units"`
	Reference     string   `mapstructure:"reference_et" yaml:"reference_et"`
	Reducer       string   `mapstructure:"reducer" yaml:"reducer"`
	MatchVariable string   `mapstructure:"match_variable" yaml:"match_variable"`
	MatchWindow   int      `mapstructure:"match_window" yaml:"match_window"`
	Align         bool     `mapstructure:"align" yaml:"align"`
}

// WithDefaults returns a copy with model, units and reference filled in.
func (s RequestSpec) WithDefaults() RequestSpec {
	if s.Model == "" {
		s.Model = DefaultModel
	}
	if s.Units == "" {
		s.Units = DefaultUnits
	}
	if s.Reference == "" {
		s.Reference = DefaultReference
	}
	if s.DateRange != nil {
		s.DateRange = append([]string(nil), s.DateRange...)
	}
	return s
}

// Validate checks the fields every request needs.
func (s RequestSpec) Validate() error {
	switch {
	case s.Name == "":
		return errors.New("name is required")
	case s.Endpoint == "":
		return fmt.Errorf("%s: endpoint is required", s.Name)
	case s.Variable == "":
		return fmt.Errorf("%s: variable is required", s.Name)
	case len(s.DateRange) != 0 && len(s.DateRange) != 2:
		return fmt.Errorf("%s: date range needs a start and an end, got %d values", s.Name, len(s.DateRange))
	}
	return nil
}

// Payload builds the request body for one field. Optional members are only
// present when set; interval is omitted when empty.
func (s RequestSpec) Payload(geometry json.RawMessage, interval string) map[string]any {
	p := map[string]any{
		"geometry":     geometry,
		"variable":     s.Variable,
		"file_format":  "JSON",
		"align":        s.Align,
		"model":        s.Model,
		"units":        s.Units,
		"reference_et": s.Reference,
	}
	if len(s.DateRange) > 0 {
		p["date_range"] = s.DateRange
	}
	if s.Reducer != "" {
		p["reducer"] = s.Reducer
	}
	if s.MatchVariable != "" {
		p["match_variable"] = s.MatchVariable
	}
	if s.MatchWindow != 0 {
		p["match_window"] = s.MatchWindow
	}
	if interval != "" {
		p["interval"] = interval
	}
	return p
}

// WithEndDate returns a copy whose date range ends at date. Specs without a
// date range get [date, date].
func (s RequestSpec) WithEndDate(date string) RequestSpec {
	s = s.WithDefaults()
	if len(s.DateRange) == 2 {
		s.DateRange[1] = date
	} else {
		s.DateRange = []string{date, date}
	}
	return s
}
