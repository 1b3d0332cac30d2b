package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ============================================================================
// TEST SUITE 1: MEDIAN / MAD
// ============================================================================

func TestMedian_Empty(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil), "Median of empty input should be 0")
	assert.Equal(t, 0.0, MAD([]float64{}), "MAD of empty input should be 0")
}

func TestMedian_OddAndEven(t *testing.T) {
	assert.Equal(t, 3.0, Median([]float64{5, 1, 3}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
}

func TestMedian_DoesNotMutateInput(t *testing.T) {
	in := []float64{3, 1, 2}
	Median(in)
	assert.Equal(t, []float64{3, 1, 2}, in, "Input order should be preserved")
}

func TestMAD_Values(t *testing.T) {
	// median=3, |dev| = 2,1,0,1,2 -> median 1
	assert.Equal(t, 1.0, MAD([]float64{1, 2, 3, 4, 5}))
	assert.Equal(t, 0.0, MAD([]float64{7, 7, 7}), "Constant series has zero spread")
}

// ============================================================================
// TEST SUITE 2: PERCENTILE / MOMENTS
// ============================================================================

func TestPercentile_LinearInterpolation(t *testing.T) {
	values := []float64{10, 20, 30, 40, 50}
	assert.InDelta(t, 14.0, Percentile(values, 10), 1e-9, "rank 0.4 between 10 and 20")
	assert.Equal(t, 30.0, Percentile(values, 50))
	assert.Equal(t, 50.0, Percentile(values, 100))
	assert.Equal(t, 0.0, Percentile(nil, 10))
	assert.Equal(t, 7.0, Percentile([]float64{7}, 10))
}

func TestStdDev_PopulationAndSample(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 2.0, StdDev(values), 1e-9)
	assert.InDelta(t, 2.138, SampleStdDev(values), 1e-3)
	assert.Equal(t, 0.0, SampleStdDev([]float64{1}))
}

// ============================================================================
// TEST SUITE 3: CUSUM
// ============================================================================

func TestDetectCUSUM_FlatSeries(t *testing.T) {
	series := []float64{50, 50, 50, 50, 50}
	assert.Equal(t, 0, DetectCUSUM(series, 0.5, 5, 5), "Flat series must not fire")
}

func TestDetectCUSUM_SustainedShift(t *testing.T) {
	series := make([]float64, 0, 40)
	for i := 0; i < 30; i++ {
		series = append(series, 50)
	}
	for i := 0; i < 10; i++ {
		series = append(series, 400)
	}
	assert.Equal(t, 1, DetectCUSUM(series, 0.5, 5, 5), "Level shift should fire")
}

func TestDetectCUSUM_ZeroMADFiresOnAnyPositiveExcess(t *testing.T) {
	// limit is 0, any positive excursion above the mean exceeds it
	assert.Equal(t, 1, DetectCUSUM([]float64{1, 1, 5}, 0.5, 5, 0))
	assert.Equal(t, 0, DetectCUSUM([]float64{3, 3, 3}, 0.5, 5, 0))
	assert.Equal(t, 0, DetectCUSUM(nil, 0.5, 5, 1))
}

func TestDetectCUSUM_FlatSeriesIgnoresRounding(t *testing.T) {
	// summing repeated 0.1 or 0.6 leaves the mean a few ulps off the value
	for _, v := range []float64{0.1, 0.6, 0.7} {
		flat := make([]float64, 20)
		for i := range flat {
			flat[i] = v
		}
		assert.Equal(t, 0, DetectCUSUM(flat, 0.5, 5, MAD(flat)), "value %v", v)
	}

	nightFlow := make([]float64, 18)
	for i := range nightFlow {
		nightFlow[i] = 50
	}
	assert.Equal(t, 0, DetectCUSUM(nightFlow, 0.5, 5, 0))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-1))
	assert.Equal(t, 1.0, Clamp01(2))
	assert.Equal(t, 0.4, Clamp01(0.4))
}
