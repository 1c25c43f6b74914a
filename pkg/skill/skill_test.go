package skill

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var forecastSamples = []Sample{
	{Actual: 1, Expected: 1.5, Climatology: 2},
	{Actual: 2, Expected: 2, Climatology: 2},
	{Actual: 3, Expected: 2.5, Climatology: 2},
	{Actual: 4, Expected: 5, Climatology: 2},
}

func TestCalculate(t *testing.T) {
	m, err := Calculate(forecastSamples, nil)
	require.NoError(t, err)

	assert.Equal(t, Metrics{MAE: 0.5, RMSE: 0.61, Corr: 0.91, Bias: 0.25, SkillScore: 0.75}, m)
}

func TestCalculate_Normalized(t *testing.T) {
	avg := 2.0
	m, err := Calculate(forecastSamples, &avg)
	require.NoError(t, err)

	assert.Equal(t, 0.25, m.MAE)
	assert.Equal(t, 0.43, m.RMSE)
	// 0.125 rounds half to even.
	assert.Equal(t, 0.12, m.Bias)
	assert.Equal(t, 0.75, m.SkillScore)
}

func TestCalculate_SkillClipping(t *testing.T) {
	perfectClimatology := []Sample{
		{Actual: 1, Expected: 3, Climatology: 1},
		{Actual: 2, Expected: 0, Climatology: 2},
	}
	m, err := Calculate(perfectClimatology, nil)
	require.NoError(t, err)
	assert.Equal(t, -1.0, m.SkillScore)

	perfectForecast := []Sample{
		{Actual: 1, Expected: 1, Climatology: 2},
		{Actual: 2, Expected: 2, Climatology: 3},
	}
	m, err = Calculate(perfectForecast, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.SkillScore)
	assert.Equal(t, 1.0, m.Corr)
}

func TestCalculate_ConstantSeries(t *testing.T) {
	m, err := Calculate([]Sample{
		{Actual: 2, Expected: 1, Climatology: 1},
		{Actual: 2, Expected: 3, Climatology: 1},
	}, nil)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(m.Corr))
}

func TestCalculate_NoSamples(t *testing.T) {
	_, err := Calculate(nil, nil)
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 0.12, round2(0.125))
	assert.Equal(t, 0.38, round2(0.375))
	assert.Equal(t, -0.5, round2(-0.5))
	assert.True(t, math.IsNaN(round2(math.NaN())))
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{"2023-06-01", "2023-06-01 00:00:00", "2023-06-01T00:00:00", "2023-06-01T00:00:00Z"} {
		ts, err := ParseTime(s)
		require.NoError(t, err, s)
		assert.Equal(t, 152, ts.YearDay(), s)
	}

	_, err := ParseTime("June 1st")
	assert.Error(t, err)
}
