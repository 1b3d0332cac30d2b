package detector

import (
	"log/slog"
	"time"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/config"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
)

const leakScoreTrigger = 30.0

// DaySource supplies frozen per-day signals and the raw next-night delta.
type DaySource interface {
	Snapshot(day time.Time) models.SignalSnapshot
	NextDayDelta(day time.Time) (float64, bool)
}

// StateMachine tracks zero or one active incident for a single site.
type StateMachine struct {
	siteID   string
	cfg      *config.DetectionConfig
	thetaMin float64
	source   DaySource
	caches   *models.FrozenCaches

	active        *models.Incident
	lastCommitted *models.Incident
	incidents     []*models.Incident
}

func NewStateMachine(siteID string, cfg *config.DetectionConfig, thetaMin float64, source DaySource, caches *models.FrozenCaches) *StateMachine {
	if caches.Signals == nil || caches.Confidence == nil {
		*caches = models.NewFrozenCaches()
	}
	return &StateMachine{
		siteID:   siteID,
		cfg:      cfg,
		thetaMin: thetaMin,
		source:   source,
		caches:   caches,
	}
}

func (sm *StateMachine) Incidents() []*models.Incident {
	return sm.incidents
}

// Run processes days in ascending order and returns one record per day.
// Days inside the initial baseline window are reported OK without scoring.
func (sm *StateMachine) Run(days []time.Time) []models.DailyStatus {
	out := make([]models.DailyStatus, 0, len(days))
	if len(days) == 0 {
		return out
	}
	first := days[0]
	for _, day := range days {
		if models.DaysBetween(first, day) < sm.cfg.BaselineWindowDays {
			out = append(out, sm.okRecord(day, ""))
			continue
		}
		out = append(out, sm.step(day))
	}
	return out
}

func (sm *StateMachine) step(day time.Time) models.DailyStatus {
	key := models.DayKey(day)
	snap := sm.source.Snapshot(day)
	severity := Severity(snap.DeltaNF, sm.cfg.SeverityBands())
	fired := snap.SubScores.Fired()

	if sm.episodicFill(day, snap) {
		slog.Info("Suppressed episodic fill", "site_id", sm.siteID, "date", key)
		return sm.okRecord(day, models.EpisodicFill)
	}

	confidence := sm.confidence(day, snap)

	trigger := snap.LeakScore >= leakScoreTrigger ||
		(SeverityRank(severity) > 1 && snap.DeltaNF > sm.thetaMin)

	if trigger {
		switch {
		case sm.active != nil:
			sm.bridge(day)
			sm.accumulate(day, snap, severity, fired, confidence)
		case sm.reopen(day):
			sm.accumulate(day, snap, severity, fired, confidence)
		default:
			sm.open(day, snap, severity, fired, confidence)
		}

		if sm.active != nil && !sm.active.Status.IsConfirmed() {
			closeThresh := max(madMultiplier*snap.NFMAD, sm.thetaMin)
			if snap.DeltaNF <= closeThresh {
				sm.close(day)
			}
		}
	} else if sm.active != nil && !sm.active.Status.IsConfirmed() {
		sm.close(day)
	}

	return sm.record(day, snap, confidence)
}

// episodicFill reports a one-night burst that does not persist into the next night.
func (sm *StateMachine) episodicFill(day time.Time, snap models.SignalSnapshot) bool {
	if snap.SubScores.BurstBF <= 0 {
		return false
	}
	next, ok := sm.source.NextDayDelta(day)
	return ok && next <= sm.thetaMin
}

// confidence returns the frozen value for day, computing it on first use.
func (sm *StateMachine) confidence(day time.Time, snap models.SignalSnapshot) float64 {
	key := models.DayKey(day)
	if c, ok := sm.caches.Confidence[key]; ok {
		slog.Debug("Using frozen confidence", "site_id", sm.siteID, "date", key, "confidence", c)
		return c
	}
	persistence := 1
	if sm.active != nil {
		persistence = sm.active.DaysPersisted + 1
	}
	c := Confidence(snap.SubScores, persistence, snap.DeltaNF, snap.NFMAD)
	sm.caches.Confidence[key] = c
	slog.Debug("Calculated new confidence", "site_id", sm.siteID, "date", key, "confidence", c)
	return c
}

// open starts a fresh WATCH incident seeded with today's values.
func (sm *StateMachine) open(day time.Time, snap models.SignalSnapshot, severity string, fired []models.SignalName, confidence float64) {
	inc := &models.Incident{
		SiteID:                 sm.siteID,
		Status:                 models.StatusWatch,
		StartDay:               day,
		LastDay:                day,
		MaxDeltaNF:             snap.DeltaNF,
		SeverityMax:            severity,
		DaysPersisted:          1,
		VolumeLostKL:           snap.DeltaNF * 24 / 1000,
		Confidence:             confidence,
		SignalComponentsByDate: make(map[string]models.DateComponents),
	}
	inc.AddReasonCodes(fired)
	inc.SignalComponentsByDate[models.DayKey(day)] = components(snap, confidence)
	inc.DaysNeeded = PersistenceNeeded(snap.DeltaNF, len(fired), confidence, sm.cfg.PersistenceGates)
	inc.AlertDate = day.AddDate(0, 0, inc.DaysNeeded-1)

	sm.incidents = append(sm.incidents, inc)
	sm.active = inc
	sm.lastCommitted = inc
	slog.Info("Opened incident", "site_id", sm.siteID, "start_day", models.DayKey(day),
		"deltaNF", snap.DeltaNF, "severity", severity, "confidence", confidence)
}

// reopen merges today into the last committed incident when it closed within
// merge_gap_days. It reports whether a merge happened. This covers a trigger
// with no active incident: a WATCH closed by a quiet day is revived instead of
// opening a second incident, so triggers on days 1, 2 and 4 stay one episode.
func (sm *StateMachine) reopen(day time.Time) bool {
	last := sm.lastCommitted
	if last == nil {
		return false
	}
	gap := models.DaysBetween(last.LastDay, day)
	if gap <= 0 || gap > sm.cfg.MergeGapDays {
		return false
	}
	last.DaysPersisted += gap
	last.LastDay = day
	last.Closed = false
	last.CloseReason = ""
	sm.active = last
	slog.Info("Merged trigger into recent incident", "site_id", sm.siteID,
		"start_day", models.DayKey(last.StartDay), "date", models.DayKey(day), "gap_days", gap)
	return true
}

// bridge extends the active incident to day, counting bridged gap days.
func (sm *StateMachine) bridge(day time.Time) {
	inc := sm.active
	gap := models.DaysBetween(inc.LastDay, day)
	switch {
	case gap == 1:
		inc.LastDay = day
		inc.DaysPersisted++
	case gap > 1 && gap <= sm.cfg.MergeGapDays:
		inc.DaysPersisted += gap
		inc.LastDay = day
	default:
		if sm.reopenCommitted(day) {
			return
		}
		fresh := &models.Incident{
			SiteID:                 sm.siteID,
			Status:                 models.StatusWatch,
			StartDay:               day,
			LastDay:                day,
			SeverityMax:            "S1",
			DaysPersisted:          1,
			SignalComponentsByDate: make(map[string]models.DateComponents),
		}
		sm.incidents = append(sm.incidents, fresh)
		sm.active = fresh
		sm.lastCommitted = fresh
		slog.Info("Opened incident after long gap", "site_id", sm.siteID,
			"start_day", models.DayKey(day), "previous_start", models.DayKey(inc.StartDay))
	}
}

func (sm *StateMachine) reopenCommitted(day time.Time) bool {
	if sm.lastCommitted == nil || sm.lastCommitted == sm.active {
		return false
	}
	return sm.reopen(day)
}

// accumulate folds today's values into the active incident and re-evaluates
// the persistence gate and escalation.
func (sm *StateMachine) accumulate(day time.Time, snap models.SignalSnapshot, severity string, fired []models.SignalName, confidence float64) {
	inc := sm.active
	inc.MaxDeltaNF = max(inc.MaxDeltaNF, snap.DeltaNF)
	if SeverityRank(severity) > SeverityRank(inc.SeverityMax) {
		inc.SeverityMax = severity
	}
	inc.AddReasonCodes(fired)
	inc.VolumeLostKL += snap.DeltaNF * 24 / 1000
	inc.SignalComponentsByDate[models.DayKey(day)] = components(snap, confidence)
	inc.Confidence = confidence

	inc.DaysNeeded = PersistenceNeeded(inc.MaxDeltaNF, len(inc.ReasonCodes), inc.Confidence, sm.cfg.PersistenceGates)
	inc.AlertDate = inc.StartDay.AddDate(0, 0, inc.DaysNeeded-1)

	slog.Info("Updated incident", "site_id", sm.siteID,
		"start_day", models.DayKey(inc.StartDay), "date", models.DayKey(day),
		"days_persisted", inc.DaysPersisted, "days_needed", inc.DaysNeeded,
		"confidence", confidence, "deltaNF", snap.DeltaNF, "NF_MAD", snap.NFMAD)

	if inc.DaysPersisted < inc.DaysNeeded {
		return
	}
	target := inc.Status
	rank := SeverityRank(inc.SeverityMax)
	if rank <= 3 {
		target = models.StatusInvestigate
	}
	if rank >= 4 || (rank >= 2 && inc.Confidence >= fastGateMinConfidence) {
		target = models.StatusCall
	}
	if target.Rank() > inc.Status.Rank() {
		slog.Info("Escalated incident", "site_id", sm.siteID,
			"start_day", models.DayKey(inc.StartDay), "from", inc.Status, "to", target)
		inc.Status = target
	}
}

func (sm *StateMachine) close(day time.Time) {
	inc := sm.active
	inc.Closed = true
	inc.CloseReason = models.CloseReasonSelfResolved
	sm.active = nil
	slog.Info("Closed incident", "site_id", sm.siteID,
		"start_day", models.DayKey(inc.StartDay), "date", models.DayKey(day), "reason", inc.CloseReason)
}

func (sm *StateMachine) okRecord(day time.Time, suppressed string) models.DailyStatus {
	return models.DailyStatus{
		SiteID:     sm.siteID,
		Date:       day,
		Status:     models.StatusOK,
		NextAction: models.StatusOK.NextAction(),
		Suppressed: suppressed,
	}
}

func (sm *StateMachine) record(day time.Time, snap models.SignalSnapshot, confidence float64) models.DailyStatus {
	rec := sm.okRecord(day, "")
	rec.Confidence = confidence
	rec.DeltaNF = snap.DeltaNF
	if inc := sm.active; inc != nil {
		rec.Status = inc.Status
		rec.Severity = inc.SeverityMax
		rec.DaysPersisted = inc.DaysPersisted
		rec.EstVolumeLostKL = inc.VolumeLostKL
		rec.ReasonCodes = inc.JoinedReasonCodes()
		rec.NextAction = inc.Status.NextAction()
	}
	return rec
}

func components(snap models.SignalSnapshot, confidence float64) models.DateComponents {
	return models.DateComponents{
		SubScores:  snap.SubScores,
		DeltaNF:    snap.DeltaNF,
		NFMAD:      snap.NFMAD,
		NF:         snap.NF,
		Confidence: confidence,
	}
}
