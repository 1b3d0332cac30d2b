package patterns

import (
	"math"
	"time"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
)

// Signal-similarity feature weights.
const (
	weightJaccard   = 0.30
	weightIntensity = 0.20
	weightMNF       = 0.20
	weightVolume    = 0.15
	weightDuration  = 0.15
)

// SignalSimilarity blends the fingerprint features both sides carry and
// renormalises by the weights actually used. The result is in [0,1].
func SignalSimilarity(a, b models.SignalFingerprint, mnfTolerance float64) float64 {
	if a.IsEmpty() || b.IsEmpty() {
		return 0
	}
	var score, used float64

	if len(a.SignalsActive) > 0 || len(b.SignalsActive) > 0 {
		score += jaccard(a.SignalsActive, b.SignalsActive) * weightJaccard
		used += weightJaccard
	}

	if len(a.SignalScores) > 0 && len(b.SignalScores) > 0 {
		var diff float64
		common := 0
		for name, sa := range a.SignalScores {
			if sb, ok := b.SignalScores[name]; ok {
				diff += math.Abs(sa - sb)
				common++
			}
		}
		if common > 0 {
			score += math.Max(0, 1-diff/float64(common)) * weightIntensity
			used += weightIntensity
		}
	}

	if a.MNFValueLph != nil && b.MNFValueLph != nil && *a.MNFValueLph > 0 && *b.MNFValueLph > 0 {
		score += MNFSimilarity(*a.MNFValueLph, *b.MNFValueLph, mnfTolerance) * weightMNF
		used += weightMNF
	}

	if sim, ok := rangeOverlap(a.VolumeRange, b.VolumeRange); ok {
		score += sim * weightVolume
		used += weightVolume
	}
	if sim, ok := rangeOverlap(a.DurationRange, b.DurationRange); ok {
		score += sim * weightDuration
		used += weightDuration
	}

	if used == 0 {
		return 0
	}
	return clamp01(score / used)
}

func jaccard(a, b []string) float64 {
	set := make(map[string]int, len(a)+len(b))
	for _, s := range a {
		set[s] |= 1
	}
	for _, s := range b {
		set[s] |= 2
	}
	if len(set) == 0 {
		return 0
	}
	inter := 0
	for _, bits := range set {
		if bits == 3 {
			inter++
		}
	}
	return float64(inter) / float64(len(set))
}

// rangeOverlap is the overlap length over the combined span of two [lo, hi] ranges.
func rangeOverlap(a, b []float64) (float64, bool) {
	if len(a) != 2 || len(b) != 2 {
		return 0, false
	}
	total := math.Max(a[1], b[1]) - math.Min(a[0], b[0])
	if total <= 0 {
		return 0, false
	}
	overlap := math.Max(0, math.Min(a[1], b[1])-math.Max(a[0], b[0]))
	return overlap / total, true
}

// MNFSimilarity scores candidate against a pattern MNF using a relative
// tolerance band: 1.0 at the centre, 0.7 at the band edge, and decaying from
// 0.5 to 0 over one more band width outside it.
func MNFSimilarity(pattern, candidate, tolerance float64) float64 {
	if pattern <= 0 || candidate <= 0 {
		return 0
	}
	tolerance = math.Max(MinMNFTolerance, math.Min(MaxMNFTolerance, tolerance))
	width := pattern * tolerance
	lower, upper := pattern-width, pattern+width

	if candidate >= lower && candidate <= upper {
		return 1 - 0.3*math.Abs(candidate-pattern)/width
	}
	var overshoot float64
	if candidate < lower {
		overshoot = lower - candidate
	} else {
		overshoot = candidate - upper
	}
	penalty := math.Min(1, overshoot/width)
	return math.Max(0, 0.5-0.5*penalty)
}

// TimeSimilarity compares the incident start weekday against the pattern's
// days and gives partial credit for a defined time window.
func TimeSimilarity(start time.Time, p *models.Pattern) float64 {
	if p.TimeFingerprint.IsEmpty() && p.RecurrenceRule.IsEmpty() {
		return 0.5
	}
	var score, used float64

	days := p.TimeFingerprint.DaysOfWeek
	if len(days) == 0 {
		days = p.RecurrenceRule.DaysOfWeek
	}
	if !start.IsZero() && len(days) > 0 {
		dow := Weekday(start)
		for _, d := range days {
			if d == dow {
				score += 0.5
				break
			}
		}
		used += 0.5
	}

	if p.TimeFingerprint.TimeWindowStart != nil && p.TimeFingerprint.TimeWindowEnd != nil {
		score += 0.25
		used += 0.5
	}

	if used == 0 {
		return 0.5
	}
	return score / used
}
