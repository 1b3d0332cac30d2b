package detector

import (
	"fmt"
	"sort"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/stats"
)

// EventID is the stable identifier "{site}__{start}__{end}".
func EventID(siteID string, inc *models.Incident) string {
	return fmt.Sprintf("%s__%s__%s", siteID, models.DayKey(inc.StartDay), models.DayKey(inc.LastDay))
}

// CanonicalizeIncident converts a tracked incident into its export shape.
// A missing alert date is derived from the persistence gate, then from the end day.
func CanonicalizeIncident(inc *models.Incident) models.IncidentRecord {
	alert := inc.AlertDate
	if alert.IsZero() {
		if inc.DaysNeeded > 0 {
			alert = inc.StartDay.AddDate(0, 0, inc.DaysNeeded-1)
		} else {
			alert = inc.LastDay
		}
	}
	codes := make([]string, len(inc.ReasonCodes))
	for i, c := range inc.ReasonCodes {
		codes[i] = string(c)
	}
	sort.Strings(codes)

	return models.IncidentRecord{
		EventID:                EventID(inc.SiteID, inc),
		SiteID:                 inc.SiteID,
		Status:                 inc.Status,
		StartTime:              inc.StartDay,
		EndTime:                inc.LastDay,
		AlertDate:              alert,
		SeverityMax:            inc.SeverityMax,
		Confidence:             inc.Confidence,
		MaxDeltaNF:             inc.MaxDeltaNF,
		VolumeLostKL:           inc.VolumeLostKL,
		TotalVolumeL:           inc.VolumeLostKL * 1000,
		DurationHours:          inc.DurationHours(),
		DaysPersisted:          inc.DaysPersisted,
		DaysNeeded:             inc.DaysNeeded,
		ReasonCodes:            codes,
		Closed:                 inc.Closed,
		CloseReason:            inc.CloseReason,
		SuppressedBy:           inc.SuppressedBy,
		Category:               inc.Category,
		SignalComponentsByDate: inc.SignalComponentsByDate,
	}
}

// PatternIncident builds the pattern-engine view of inc. Sub-scores are the
// per-signal maximum over the incident's dates; MNF is the mean night flow.
func (d *Detector) PatternIncident(inc *models.Incident) models.PatternIncident {
	scores := make(map[string]float64, len(models.AllSignals))
	nf := make([]float64, 0, len(inc.SignalComponentsByDate))
	for _, comp := range inc.SignalComponentsByDate {
		for name, v := range comp.SubScores.Map() {
			scores[name] = max(scores[name], v)
		}
		nf = append(nf, comp.NF)
	}

	out := models.PatternIncident{
		EventID:   EventID(d.SiteID, inc),
		SiteID:    d.SiteID,
		StartDay:  inc.StartDay,
		SubScores: scores,
	}
	if len(nf) > 0 {
		mnf := stats.Mean(nf)
		out.MNFLph = &mnf
	}
	if flows := d.incidentFlows(inc); len(flows) > 0 {
		avg := stats.Mean(flows)
		peak := flows[0]
		for _, f := range flows[1:] {
			peak = max(peak, f)
		}
		out.AvgFlowLph = &avg
		out.PeakFlowLph = &peak
	}
	volume := inc.VolumeLostKL
	duration := inc.DurationHours()
	out.VolumeKL = &volume
	out.DurationHours = &duration
	return out
}

// NightFlowHistory returns every observed daily night flow, for tolerance estimation.
func (d *Detector) NightFlowHistory() []float64 {
	if len(d.daily) == 0 {
		return nil
	}
	return d.nightFlowHistory(d.daily[len(d.daily)-1].Date)
}
