package detector

import (
	"time"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
)

type HourlySpike struct {
	Hour           int     `json:"hour"`
	ActualFlow     float64 `json:"actual_flow"`
	HourlyProfile  float64 `json:"hourly_profile"`
	SpikeThreshold float64 `json:"spike_threshold"`
	IsSpike        bool    `json:"is_spike"`
	ExceedsBy      float64 `json:"exceeds_by"`
}

type NextDayCheck struct {
	NextDate          string  `json:"next_date,omitempty"`
	NextDayNF         float64 `json:"next_day_NF"`
	BaselineNF        float64 `json:"baseline_NF"`
	DeltaNF           float64 `json:"delta_NF"`
	MAD               float64 `json:"MAD"`
	RequiredThreshold float64 `json:"required_threshold"`
	ThresholdMet      bool    `json:"threshold_met"`
	Error             string  `json:"error,omitempty"`
}

// BurstDiagnosis explains how the BURSTBF score for a date was reached.
type BurstDiagnosis struct {
	Date            string        `json:"date"`
	HasSpikes       bool          `json:"has_spikes_detected"`
	SpikeCount      int           `json:"spike_count"`
	SpikeMultiplier float64       `json:"spike_multiplier_config"`
	HourlyDetails   []HourlySpike `json:"hourly_details"`
	NextDayCheck    *NextDayCheck `json:"next_day_check"`
	FinalBurstBF    float64       `json:"final_BURSTBF_score"`
}

// DiagnoseBurstBF recomputes the BURSTBF inputs for day. It does not touch the frozen caches.
func (d *Detector) DiagnoseBurstBF(day time.Time) (*BurstDiagnosis, error) {
	day = models.TruncateDay(day)
	hours := d.byDay[models.DayKey(day)]
	if len(hours) == 0 {
		return nil, ErrNoData
	}

	diag := &BurstDiagnosis{
		Date:            models.DayKey(day),
		SpikeMultiplier: d.cfg.SpikeMultiplier,
		HourlyDetails:   make([]HourlySpike, 0, len(hours)),
	}
	for _, s := range hours {
		profile := d.hourlyProfile(s.Hour(), day).Median
		threshold := profile * d.cfg.SpikeMultiplier
		spike := s.Flow > threshold
		if spike {
			diag.SpikeCount++
		}
		diag.HourlyDetails = append(diag.HourlyDetails, HourlySpike{
			Hour:           s.Hour(),
			ActualFlow:     s.Flow,
			HourlyProfile:  profile,
			SpikeThreshold: threshold,
			IsSpike:        spike,
			ExceedsBy:      s.Flow - threshold,
		})
	}
	diag.HasSpikes = diag.SpikeCount > 0
	if !diag.HasSpikes {
		return diag, nil
	}

	next := day.AddDate(0, 0, 1)
	agg, ok := d.aggregate(next)
	if !ok {
		diag.NextDayCheck = &NextDayCheck{Error: "Next day not in data"}
		return diag, nil
	}
	base := d.rollingBaseline(next, metricNF)
	check := &NextDayCheck{
		NextDate:          models.DayKey(next),
		NextDayNF:         agg.NF,
		BaselineNF:        base.Median,
		DeltaNF:           agg.NF - base.Median,
		MAD:               base.MAD,
		RequiredThreshold: max(madMultiplier*base.MAD, d.cfg.AbsFloorLph),
	}
	check.ThresholdMet = check.DeltaNF > check.RequiredThreshold
	if check.ThresholdMet {
		diag.FinalBurstBF = 1
	}
	diag.NextDayCheck = check
	return diag, nil
}
