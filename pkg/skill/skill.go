// Package skill scores forecasts against observed values and a historical
// climatology.
//
// The skill score is 1 - MSE_forecast / MSE_climatology with the ratio
// clipped to [-1, 2], so a perfect forecast scores 1 and a forecast no
// better than the seasonal average scores 0 or less.
package skill

import (
	"errors"
	"math"
)

var (
	// ErrNoSamples is returned when a group has no complete samples.
	ErrNoSamples = errors.New("no samples")

	// ErrMissingColumn is returned when a table lacks a requested column.
	ErrMissingColumn = errors.New("missing column")

	// ErrMissingClimatology is returned when a sample has no climatology value.
	ErrMissingClimatology = errors.New("missing climatology")

	// ErrMissingAverage is returned when normalization has no average.
	ErrMissingAverage = errors.New("missing average")
)

// Sample is one observed value, its forecast and the climatology for the
// same day of year.
type Sample struct {
	Actual      float64
	Expected    float64
	Climatology float64
}

// Metrics are rounded to two decimals. Corr is NaN when either series is
// constant.
type Metrics struct {
	MAE        float64
	RMSE       float64
	Corr       float64
	Bias       float64
	SkillScore float64
}

// Calculate scores samples. When average is non-nil MAE, RMSE and bias are
// normalized by it.
func Calculate(samples []Sample, average *float64) (Metrics, error) {
	n := float64(len(samples))
	if n == 0 {
		return Metrics{}, ErrNoSamples
	}

	var absErr, sqErr, climSqErr, bias float64
	for _, s := range samples {
		d := s.Expected - s.Actual
		absErr += math.Abs(d)
		sqErr += d * d
		bias += d

		c := s.Climatology - s.Actual
		climSqErr += c * c
	}
	mae := absErr / n
	mse := sqErr / n
	climMSE := climSqErr / n
	bias /= n

	rmse := math.Sqrt(mse)
	skill := 1 - math.Max(math.Min(mse/climMSE, 2), -1)

	if average != nil {
		mae /= *average
		rmse = math.Sqrt(mse / *average)
		bias /= *average
	}

	return Metrics{
		MAE:        round2(mae),
		RMSE:       round2(rmse),
		Corr:       round2(pearson(samples)),
		Bias:       round2(bias),
		SkillScore: round2(skill),
	}, nil
}

func pearson(samples []Sample) float64 {
	n := float64(len(samples))
	if n < 2 {
		return math.NaN()
	}

	var meanA, meanE float64
	for _, s := range samples {
		meanA += s.Actual
		meanE += s.Expected
	}
	meanA /= n
	meanE /= n

	var cov, varA, varE float64
	for _, s := range samples {
		da, de := s.Actual-meanA, s.Expected-meanE
		cov += da * de
		varA += da * da
		varE += de * de
	}
	if varA == 0 || varE == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(varA*varE)
}

// round2 rounds half to even at two decimals.
func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return math.RoundToEven(v*100) / 100
}
