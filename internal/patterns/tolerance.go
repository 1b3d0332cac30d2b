package patterns

import (
	"log/slog"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/stats"
)

// MNF tolerance bounds and defaults.
const (
	DefaultMNFTolerance = 0.30
	MinMNFTolerance     = 0.15
	MaxMNFTolerance     = 0.50
	MinMNFSamples       = 30

	ToleranceSourceDefault  = "default"
	ToleranceSourceHistory  = "historical_data"
	ToleranceSourcePatterns = "pattern_history"
)

var cvToleranceMap = []struct {
	below     float64
	tolerance float64
}{
	{0.10, 0.15},
	{0.20, 0.25},
	{0.35, 0.40},
}

// CVToTolerance maps a coefficient of variation onto a tolerance band.
func CVToTolerance(cv float64) float64 {
	for _, entry := range cvToleranceMap {
		if cv < entry.below {
			return entry.tolerance
		}
	}
	return MaxMNFTolerance
}

// AdaptiveTolerance derives a site's MNF tolerance from positive history
// samples, topped up from the site's pattern MNF values when history is short.
func AdaptiveTolerance(siteID string, history []float64, sitePatterns []models.Pattern) (float64, models.ToleranceStats) {
	st := models.ToleranceStats{Source: ToleranceSourceDefault}

	values := make([]float64, 0, len(history))
	for _, v := range history {
		if v > 0 {
			values = append(values, v)
		}
	}
	if len(values) > 0 {
		st.Source = ToleranceSourceHistory
	}

	if len(values) < MinMNFSamples {
		for _, p := range sitePatterns {
			if p.SiteID != siteID {
				continue
			}
			if mnf := p.SignalFingerprint.MNFValueLph; mnf != nil && *mnf > 0 {
				values = append(values, *mnf)
			}
		}
		if len(values) >= MinMNFSamples {
			st.Source = ToleranceSourcePatterns
		}
	}

	st.SampleCount = len(values)
	if len(values) < MinMNFSamples {
		slog.Debug("Insufficient MNF data, using default tolerance",
			"site_id", siteID, "samples", len(values), "tolerance", DefaultMNFTolerance)
		return DefaultMNFTolerance, st
	}

	mean := stats.Mean(values)
	if mean <= 0 {
		return DefaultMNFTolerance, st
	}
	std := stats.StdDev(values)
	cv := std / mean

	st.CV = ptr(round(cv, 4))
	st.MeanMNF = ptr(round(mean, 2))
	st.StdMNF = ptr(round(std, 2))

	tolerance := CVToTolerance(cv)
	slog.Info("Adaptive MNF tolerance", "site_id", siteID, "cv", cv,
		"tolerance", tolerance, "mean", mean, "std", std, "n", len(values))
	return tolerance, st
}
