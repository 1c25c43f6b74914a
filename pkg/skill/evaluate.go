package skill

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/Sternrassler/et-gather/pkg/table"
)

// Pair names an observed column and its forecast column.
type Pair struct {
	Variable string `mapstructure:"variable" yaml:"variable"`
	Actual   string `mapstructure:"actual" yaml:"actual"`
	Expected string `mapstructure:"expected" yaml:"expected"`
}

// DefaultPairs scores ET, ETo and ETof.
var DefaultPairs = []Pair{
	{Variable: "ET", Actual: "actual_et", Expected: "expected_et"},
	{Variable: "ETo", Actual: "actual_eto", Expected: "expected_eto"},
	{Variable: "ETof", Actual: "actual_etof", Expected: "expected_etof"},
}

// Options controls Evaluate.
type Options struct {
	// Normalize divides MAE, RMSE and bias by the field's yearly average of
	// the actual column.
	Normalize bool
}

// Result is the score of one variable for one field.
type Result struct {
	FieldID  string
	Crop     string
	Variable string
	Metrics
}

// Evaluate scores every pair for every (field_id, crop) group of merged.
//
// Rows missing either value are skipped. A group that cannot be scored is
// reported in the returned error and left out; the other results are still
// returned. avgs may be nil unless opts.Normalize is set.
func Evaluate(merged *table.Table, clim *Climatology, avgs *Averages, pairs []Pair, opts Options) ([]Result, error) {
	if len(pairs) == 0 {
		pairs = DefaultPairs
	}
	if clim == nil {
		return nil, fmt.Errorf("%w: no climatology", ErrMissingClimatology)
	}
	if opts.Normalize && avgs == nil {
		return nil, fmt.Errorf("%w: no averages", ErrMissingAverage)
	}

	groups := make(map[GroupKey][]table.Row)
	for _, r := range merged.Rows {
		k := GroupKey{r.FieldID, r.Crop}
		groups[k] = append(groups[k], r)
	}
	keys := make([]GroupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].FieldID != keys[j].FieldID {
			return keys[i].FieldID < keys[j].FieldID
		}
		return keys[i].Crop < keys[j].Crop
	})

	var (
		results []Result
		errs    *multierror.Error
	)
	for _, p := range pairs {
		ai, ei := merged.ColumnIndex(p.Actual), merged.ColumnIndex(p.Expected)
		if ai < 0 || ei < 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w: %s or %s", p.Variable, ErrMissingColumn, p.Actual, p.Expected))
			continue
		}

		for _, k := range keys {
			m, err := evaluateGroup(groups[k], k, p, ai, ei, clim, avgs, opts)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s %s/%s: %w", p.Variable, k.FieldID, k.Crop, err))
				continue
			}
			results = append(results, Result{FieldID: k.FieldID, Crop: k.Crop, Variable: p.Variable, Metrics: m})
		}
	}
	return results, errs.ErrorOrNil()
}

func evaluateGroup(rows []table.Row, key GroupKey, p Pair, ai, ei int, clim *Climatology, avgs *Averages, opts Options) (Metrics, error) {
	samples := make([]Sample, 0, len(rows))
	for _, r := range rows {
		actual, expected := r.Values[ai], r.Values[ei]
		if actual == nil || expected == nil {
			continue
		}
		ts, err := ParseTime(r.Time)
		if err != nil {
			return Metrics{}, err
		}
		c, ok := clim.Value(key, ts.YearDay(), p.Actual)
		if !ok {
			return Metrics{}, fmt.Errorf("%w: day %d", ErrMissingClimatology, ts.YearDay())
		}
		samples = append(samples, Sample{Actual: *actual, Expected: *expected, Climatology: c})
	}

	var average *float64
	if opts.Normalize {
		avg, ok := avgs.Value(key, p.Actual)
		if !ok {
			return Metrics{}, ErrMissingAverage
		}
		average = &avg
	}
	return Calculate(samples, average)
}

// WriteResultsCSV writes one row per result. NaN metrics are left empty.
func WriteResultsCSV(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	header := []string{table.FieldIDColumn, "variable", table.CropColumn, "mae", "rmse", "corr", "bias", "skill_score"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range results {
		rec := []string{
			r.FieldID, r.Variable, r.Crop,
			formatFloat(r.MAE), formatFloat(r.RMSE), formatFloat(r.Corr),
			formatFloat(r.Bias), formatFloat(r.SkillScore),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
