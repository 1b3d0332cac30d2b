package stats

import (
	"math"
	"sort"
)

// Median returns the sample median of values, or 0 when values is empty.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := sortedCopy(values)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// MAD returns the median absolute deviation from the median, or 0 when values is empty.
func MAD(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	med := Median(values)
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - med)
	}
	return Median(deviations)
}

// Mean returns the arithmetic mean, or 0 when values is empty.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	sq := 0.0
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)))
}

// SampleStdDev returns the n-1 standard deviation, 0 for fewer than two values.
func SampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	sq := 0.0
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

// Percentile returns the p-th percentile (0..100) using linear interpolation
// between closest ranks. Returns 0 for empty input.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := sortedCopy(values)
	if len(sorted) == 1 {
		return sorted[0]
	}
	p = Clamp(p, 0, 100)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

const cusumEpsilon = 1e-9

// DetectCUSUM runs a one-sided upper CUSUM over series and reports 1 when the
// cumulative statistic ever exceeds h*mad, 0 otherwise. The reference mean is
// taken over the whole series on every call. Excursions within float rounding
// of the mean are ignored, so a flat series never fires.
func DetectCUSUM(series []float64, k, h, mad float64) int {
	if len(series) == 0 {
		return 0
	}
	mean := Mean(series)
	limit := h*mad + cusumEpsilon*math.Max(1, math.Abs(mean))
	// s[0] is pinned at 0
	s := 0.0
	for i := 1; i < len(series); i++ {
		s = math.Max(0, s+(series[i]-mean-k*mad))
		if s > limit {
			return 1
		}
	}
	return 0
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}
