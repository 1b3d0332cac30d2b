package detector

import (
	"time"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/stats"
)

// Residual gating.
const (
	residualPositiveFraction = 0.7
	madMultiplier            = 3.0
)

// ScoreDay computes the five sub-scores and leak score for day from the
// current history. It bypasses the frozen cache; Snapshot is the cached entry point.
func (d *Detector) ScoreDay(day time.Time) models.SignalSnapshot {
	agg, ok := d.aggregate(day)
	if !ok {
		return models.SignalSnapshot{}
	}

	rawDelta, nfBase, _ := d.nightDelta(day)
	if nfBase.N == 0 {
		// No trailing history yet: nothing to compare against.
		return models.SignalSnapshot{NF: agg.NF}
	}
	deltaNF := max(0, rawDelta)

	scores := models.SubScores{
		MNF:      d.scoreMNF(deltaNF, nfBase.MAD),
		Residual: d.scoreResidual(day),
		CUSUM:    d.scoreCUSUM(day),
		AfterHrs: d.scoreAfterHours(day),
		BurstBF:  d.scoreBurstBF(day),
	}

	return models.SignalSnapshot{
		SubScores: scores,
		LeakScore: d.leakScore(scores),
		DeltaNF:   deltaNF,
		NFMAD:     nfBase.MAD,
		NF:        agg.NF,
	}
}

func (d *Detector) scoreMNF(deltaNF, mad float64) float64 {
	floor := d.cfg.AbsFloorLph
	thresh := max(madMultiplier*mad, floor)
	if deltaNF <= thresh {
		return 0
	}
	return stats.Clamp01((deltaNF - thresh) / (thresh + floor))
}

func (d *Detector) scoreResidual(day time.Time) float64 {
	var residuals, mads []float64
	for _, s := range d.byDay[models.DayKey(day)] {
		if !d.cfg.IsAfterHours(s.Hour()) {
			continue
		}
		profile := d.hourlyProfile(s.Hour(), day)
		residuals = append(residuals, s.Flow-profile.Median)
		mads = append(mads, profile.MAD)
	}
	if len(residuals) == 0 {
		return 0
	}

	positive := 0
	for _, r := range residuals {
		if r > 0 {
			positive++
		}
	}
	posFrac := float64(positive) / float64(len(residuals))
	medRes := stats.Median(residuals)
	threshR := max(madMultiplier*stats.Median(mads), d.cfg.AbsFloorLph)

	if posFrac >= residualPositiveFraction && medRes > threshR {
		return 1
	}
	return stats.Clamp01(medRes / (2 * threshR))
}

func (d *Detector) scoreCUSUM(day time.Time) float64 {
	nf := d.nightFlowHistory(day)
	a := d.afterHoursHistory(day)
	flagNF := stats.DetectCUSUM(nf, d.cfg.CUSUMK, d.cfg.CUSUMH, stats.MAD(nf))
	flagA := stats.DetectCUSUM(a, d.cfg.CUSUMK, d.cfg.CUSUMH, stats.MAD(a))
	return float64(max(flagNF, flagA))
}

// afterHoursDelta returns deltaA and threshA for day.
func (d *Detector) afterHoursDelta(day time.Time) (float64, float64, bool) {
	agg, ok := d.aggregate(day)
	if !ok {
		return 0, 0, false
	}
	base := d.rollingBaseline(day, metricA)
	thresh := max(madMultiplier*base.MAD, d.cfg.SustainedAfterHoursDeltaKL)
	return agg.A - base.Median, thresh, true
}

func (d *Detector) scoreAfterHours(day time.Time) float64 {
	deltaA, threshA, _ := d.afterHoursDelta(day)
	prevDelta, prevThresh, ok := d.afterHoursDelta(day.AddDate(0, 0, -1))
	if !ok {
		return 0
	}
	if deltaA > threshA && prevDelta > prevThresh {
		return 1
	}
	return stats.Clamp01(deltaA / (2 * threshA))
}

// spikeCount counts hours on day above spike_multiplier times their profile median.
func (d *Detector) spikeCount(day time.Time) int {
	count := 0
	for _, s := range d.byDay[models.DayKey(day)] {
		if s.Flow > d.cfg.SpikeMultiplier*d.hourlyProfile(s.Hour(), day).Median {
			count++
		}
	}
	return count
}

// nextDayShift reports whether the day after day exists and its NF delta
// clears max(3*MAD, abs_floor_lph).
func (d *Detector) nextDayShift(day time.Time) (met bool, present bool) {
	next := day.AddDate(0, 0, 1)
	delta, base, ok := d.nightDelta(next)
	if !ok {
		return false, false
	}
	return delta > max(madMultiplier*base.MAD, d.cfg.AbsFloorLph), true
}

// scoreBurstBF is 0 for the last available day since the next night is unknown.
func (d *Detector) scoreBurstBF(day time.Time) float64 {
	if d.spikeCount(day) == 0 {
		return 0
	}
	if met, _ := d.nextDayShift(day); met {
		return 1
	}
	return 0
}

func (d *Detector) leakScore(s models.SubScores) float64 {
	total := 0.0
	for _, name := range models.AllSignals {
		total += d.cfg.Weight(string(name)) * s.Get(name)
	}
	return stats.Clamp(100*total, 0, 100)
}
