package detector

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/config"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/stats"
)

var (
	ErrNoData            = errors.New("no flow readings")
	ErrIrregularSampling = errors.New("data frequency too irregular")
)

const (
	maxInterpolatedHours = 3
	outlierPercentile    = 99.9
)

// CheckFrequency inspects the median sampling interval of sorted readings.
// Above the hard limit the site is rejected; above the warn limit a warning is logged.
func CheckFrequency(siteID string, readings []models.FlowReading, cfg *config.DetectionConfig) error {
	if len(readings) < 2 {
		return nil
	}
	gaps := make([]float64, 0, len(readings)-1)
	for i := 1; i < len(readings); i++ {
		gaps = append(gaps, readings[i].Timestamp.Sub(readings[i-1].Timestamp).Hours())
	}
	median := stats.Median(gaps)
	medianDur := time.Duration(median * float64(time.Hour))

	switch {
	case median > cfg.MaxMedianIntervalHours:
		slog.Error("Data frequency too irregular, cannot proceed", "site_id", siteID, "median_interval", medianDur)
		return fmt.Errorf("%w for %s (median %s)", ErrIrregularSampling, siteID, medianDur)
	case median > cfg.WarnMedianIntervalHours:
		slog.Warn("Data frequency irregular, results may be unreliable", "site_id", siteID, "median_interval", medianDur)
	default:
		slog.Info("Data frequency OK", "site_id", siteID, "median_interval", medianDur)
	}
	return nil
}

// Preprocess buckets readings into hourly sums, fills short gaps by linear
// interpolation, zero-fills longer gaps, clips negatives and flags outliers.
// Readings after upTo are dropped when upTo is non-nil.
func Preprocess(readings []models.FlowReading, upTo *time.Time) ([]models.HourlySample, error) {
	buckets := make(map[time.Time]float64)
	for _, r := range readings {
		ts := naive(r.Timestamp)
		if upTo != nil && ts.After(naive(*upTo)) {
			continue
		}
		buckets[ts.Truncate(time.Hour)] += r.Flow
	}
	if len(buckets) == 0 {
		return nil, ErrNoData
	}

	hours := make([]time.Time, 0, len(buckets))
	for h := range buckets {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	first, last := hours[0], hours[len(hours)-1]
	n := int(last.Sub(first).Hours()) + 1
	samples := make([]models.HourlySample, n)
	observed := make([]bool, n)
	for i := 0; i < n; i++ {
		ts := first.Add(time.Duration(i) * time.Hour)
		samples[i].Time = ts
		if v, ok := buckets[ts]; ok {
			samples[i].Flow = v
			observed[i] = true
		}
	}

	fillGaps(samples, observed)

	flows := make([]float64, n)
	for i := range samples {
		if samples[i].Flow < 0 {
			samples[i].Flow = 0
		}
		flows[i] = samples[i].Flow
	}
	q := stats.Percentile(flows, outlierPercentile)
	for i := range samples {
		samples[i].Outlier = samples[i].Flow > q
	}
	return samples, nil
}

// fillGaps interpolates interior runs of missing hours no longer than
// maxInterpolatedHours and leaves longer runs at zero.
func fillGaps(samples []models.HourlySample, observed []bool) {
	i := 0
	for i < len(samples) {
		if observed[i] {
			i++
			continue
		}
		start := i
		for i < len(samples) && !observed[i] {
			i++
		}
		runLen := i - start
		if start == 0 || i == len(samples) || runLen > maxInterpolatedHours {
			continue
		}
		left, right := samples[start-1].Flow, samples[i].Flow
		step := (right - left) / float64(runLen+1)
		for k := 0; k < runLen; k++ {
			samples[start+k].Flow = left + step*float64(k+1)
		}
	}
}

// naive drops the zone, keeping the wall-clock reading.
func naive(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
