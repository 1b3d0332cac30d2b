package patterns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
)

// ============================================================================
// THRESHOLDS
// ============================================================================

const (
	SignalMatchThreshold = 0.7
	returnMatchThreshold = SignalMatchThreshold * 0.5

	signalMatchWeight = 0.7
	timeMatchWeight   = 0.3

	InitialConfidence      = 0.6
	ReactivationConfidence = 0.5
	MinConfidence          = 0.1
	MaxConfidence          = 1.0
	confirmStep            = 0.05
	realLeakPenalty        = 0.2

	updateSimilarity     = 0.8
	reactivateSimilarity = 0.7

	StalenessThresholdDays = 120
	DecayPeriodDays        = 30
	ConfidenceDecayRate    = 0.95
	ConfidenceFloor        = 0.10
)

// FalseAlarmRequest carries what an operator supplies when marking an incident benign.
type FalseAlarmRequest struct {
	SiteID         string                 `json:"site_id"`
	EventID        string                 `json:"event_id"`
	Incident       models.PatternIncident `json:"incident"`
	Category       string                 `json:"category"`
	Description    string                 `json:"description"`
	IsRecurring    bool                   `json:"is_recurring"`
	RecurrenceType *string                `json:"recurrence_type"`
	RecurrenceDays []int                  `json:"recurrence_days"`
	WindowStart    *string                `json:"time_window_start"`
	WindowEnd      *string                `json:"time_window_end"`
	AutoSuppress   bool                   `json:"auto_suppress"`
	Notes          string                 `json:"notes"`
	User           string                 `json:"user"`
	// SeasonTags nil means detect from the incident start day.
	SeasonTags []string `json:"season_tags"`
}

// Engine manages the false-alarm pattern library on top of a Store.
type Engine struct {
	store    Store
	matchLog MatchLog
	now      func() time.Time
}

func NewEngine(store Store, matchLog MatchLog) *Engine {
	return &Engine{store: store, matchLog: matchLog, now: time.Now}
}

// WithClock replaces the engine's time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ============================================================================
// MATCHING
// ============================================================================

// Match scores inc against the active patterns of siteID and the wildcard site.
// An empty siteID matches every active pattern.
func (e *Engine) Match(ctx context.Context, inc models.PatternIncident, siteID string) ([]models.PatternMatch, error) {
	all, err := e.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}
	return matchAgainst(all, inc, siteID), nil
}

func matchAgainst(all []models.Pattern, inc models.PatternIncident, siteID string) []models.PatternMatch {
	fp := BuildSignalFingerprint(inc)
	matches := []models.PatternMatch{}

	for i := range all {
		p := &all[i]
		if !p.IsActive {
			continue
		}
		if siteID != "" && p.SiteID != siteID && p.SiteID != models.WildcardSite {
			continue
		}

		tolerance := DefaultMNFTolerance
		if p.MNFToleranceFactor != nil {
			tolerance = *p.MNFToleranceFactor
		}
		sig := SignalSimilarity(fp, p.SignalFingerprint, tolerance)
		tsim := TimeSimilarity(inc.StartDay, p)

		boost := SeasonNeutral
		if !inc.StartDay.IsZero() {
			boost = SeasonalFactor(inc.StartDay, p.SeasonTags)
		}
		combined := sig*signalMatchWeight + tsim*timeMatchWeight
		final := clamp01(combined * boost)

		if combined < returnMatchThreshold {
			continue
		}
		tags := p.SeasonTags
		if tags == nil {
			tags = []models.Season{}
		}
		matches = append(matches, models.PatternMatch{
			PatternID:         p.PatternID,
			SiteID:            p.SiteID,
			Category:          p.Category,
			Description:       p.Description,
			SignalSimilarity:  round(sig, 3),
			TimeSimilarity:    round(tsim, 3),
			SeasonalBoost:     round(boost, 2),
			CombinedScore:     round(combined, 3),
			PatternConfidence: round(p.Confidence, 3),
			FinalScore:        round(final, 3),
			AutoSuppress:      p.AutoSuppress,
			TimesMatched:      p.TimesMatched,
			IsStrongMatch:     final >= SignalMatchThreshold,
			SeasonTags:        tags,
			MNFToleranceUsed:  round(tolerance, 2),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].FinalScore > matches[j].FinalScore
	})
	return matches
}

// ShouldSuppress reports whether the best strong match auto-suppresses inc.
// A suppressing match bumps the pattern's match counter and is written to the match log.
func (e *Engine) ShouldSuppress(ctx context.Context, inc models.PatternIncident, siteID string) (bool, *models.PatternMatch, error) {
	var hit *models.PatternMatch

	err := e.store.Mutate(ctx, func(all []models.Pattern) ([]models.Pattern, error) {
		for _, m := range matchAgainst(all, inc, siteID) {
			if !m.IsStrongMatch {
				continue
			}
			if !m.AutoSuppress {
				// Best strong match wins; a flagged-only best match does not suppress.
				return nil, ErrNoChange
			}
			match := m
			hit = &match
			idx := indexOf(all, m.PatternID)
			now := e.now()
			all[idx].TimesMatched++
			all[idx].LastMatchedAt = &now
			all[idx].DecayPeriodsApplied = 0
			return all, nil
		}
		return nil, ErrNoChange
	})
	if err != nil && !errors.Is(err, ErrNoChange) {
		return false, nil, fmt.Errorf("failed to check suppression: %w", err)
	}
	if hit == nil {
		return false, nil, nil
	}

	slog.Info("Incident suppressed by false-alarm pattern",
		"site_id", siteID, "event_id", inc.EventID, "pattern_id", hit.PatternID, "score", hit.FinalScore)
	if err := e.LogMatch(ctx, inc.EventID, hit.PatternID, hit.FinalScore, models.MatchSuppressed, siteID); err != nil {
		slog.Error("Failed to log pattern match", "pattern_id", hit.PatternID, "error", err)
	}
	return true, hit, nil
}

// LogMatch appends an audit row for a match decision.
func (e *Engine) LogMatch(ctx context.Context, incidentID, patternID string, score float64, action models.MatchAction, siteID string) error {
	if e.matchLog == nil {
		return nil
	}
	return e.matchLog.Append(ctx, models.MatchLogEntry{
		Timestamp:   e.now(),
		IncidentID:  incidentID,
		PatternID:   patternID,
		MatchScore:  score,
		ActionTaken: action,
		SiteID:      siteID,
	})
}

// MatchHistory lists recent match log rows for a site, newest first.
func (e *Engine) MatchHistory(ctx context.Context, siteID string, limit int) ([]models.MatchLogEntry, error) {
	if e.matchLog == nil {
		return []models.MatchLogEntry{}, nil
	}
	return e.matchLog.List(ctx, siteID, limit)
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// RecordFalseAlarm updates an active near-duplicate, reactivates a retired
// near-duplicate, or creates a new pattern, in that order.
func (e *Engine) RecordFalseAlarm(ctx context.Context, req FalseAlarmRequest) (models.RecordResult, error) {
	sig := BuildSignalFingerprint(req.Incident)
	tfp := BuildTimeFingerprint(req.Incident)

	var tags []models.Season
	if req.SeasonTags == nil {
		tags = []models.Season{}
		if !req.Incident.StartDay.IsZero() {
			tags = append(tags, DetectSeason(req.Incident.StartDay))
		}
	} else {
		tags = FilterSeasonTags(req.SeasonTags)
	}

	if len(req.RecurrenceDays) > 0 {
		tfp.DaysOfWeek = req.RecurrenceDays
	}
	if req.WindowStart != nil && *req.WindowStart != "" {
		tfp.TimeWindowStart = req.WindowStart
	}
	if req.WindowEnd != nil && *req.WindowEnd != "" {
		tfp.TimeWindowEnd = req.WindowEnd
	}
	rule := models.RecurrenceRule{
		IsRecurring: req.IsRecurring,
		Type:        req.RecurrenceType,
		DaysOfWeek:  req.RecurrenceDays,
	}
	if len(rule.DaysOfWeek) == 0 {
		rule.DaysOfWeek = tfp.DaysOfWeek
	}

	id, err := PatternID(req.SiteID, req.Category, sig)
	if err != nil {
		return models.RecordResult{}, err
	}

	var result models.RecordResult
	err = e.store.Mutate(ctx, func(all []models.Pattern) ([]models.Pattern, error) {
		now := e.now()

		for i := range all {
			p := &all[i]
			if p.SiteID != req.SiteID || p.Category != req.Category || !p.IsActive {
				continue
			}
			if sim := SignalSimilarity(sig, p.SignalFingerprint, DefaultMNFTolerance); sim > updateSimilarity {
				slog.Info("Updating existing pattern", "pattern_id", p.PatternID, "similarity", sim)
				p.TimesConfirmedFalse++
				p.Confidence = math.Min(MaxConfidence, p.Confidence+confirmStep)
				p.LastUpdatedAt = &now
				p.AutoSuppress = req.AutoSuppress
				p.DecayPeriodsApplied = 0
				result = models.RecordResult{
					PatternID: p.PatternID,
					Action:    models.RecordUpdated,
					Message:   fmt.Sprintf("Updated existing pattern %s", p.PatternID),
				}
				return all, nil
			}
		}

		for i := range all {
			p := &all[i]
			if p.SiteID != req.SiteID || p.Category != req.Category || p.IsActive {
				continue
			}
			if sim := SignalSimilarity(sig, p.SignalFingerprint, DefaultMNFTolerance); sim > reactivateSimilarity {
				slog.Info("Reactivated deactivated pattern", "pattern_id", p.PatternID, "similarity", sim)
				p.IsActive = true
				p.Confidence = ReactivationConfidence
				p.LastUpdatedAt = &now
				p.DecayPeriodsApplied = 0
				p.Notes = fmt.Sprintf("Reactivated with %.0f%% confidence (%s)", ReactivationConfidence*100, now.Format(models.DateLayout))
				result = models.RecordResult{
					PatternID: p.PatternID,
					Action:    models.RecordReactivated,
					Message:   fmt.Sprintf("Reactivated pattern %s", p.PatternID),
				}
				return all, nil
			}
		}

		created := models.Pattern{
			PatternID:           id,
			SiteID:              req.SiteID,
			Category:            req.Category,
			Description:         req.Description,
			SignalFingerprint:   sig,
			TimeFingerprint:     tfp,
			RecurrenceRule:      rule,
			AutoSuppress:        req.AutoSuppress,
			Confidence:          InitialConfidence,
			TimesConfirmedFalse: 1,
			CreatedAt:           now,
			CreatedBy:           req.User,
			LastUpdatedAt:       &now,
			IsActive:            true,
			Notes:               req.Notes,
			SeasonTags:          tags,
		}
		if idx := indexOf(all, id); idx >= 0 {
			// Same site, category and fingerprint hash: refresh the row in place.
			created.TimesMatched = all[idx].TimesMatched
			created.TimesConfirmedFalse = all[idx].TimesConfirmedFalse + 1
			created.TimesWasRealLeak = all[idx].TimesWasRealLeak
			created.CreatedAt = all[idx].CreatedAt
			all[idx] = created
			result = models.RecordResult{
				PatternID: id,
				Action:    models.RecordUpdated,
				Message:   fmt.Sprintf("Updated existing pattern %s", id),
			}
			return all, nil
		}
		all = append(all, created)
		result = models.RecordResult{
			PatternID: id,
			Action:    models.RecordCreated,
			Message:   fmt.Sprintf("Created new pattern %s", id),
		}
		return all, nil
	})
	if err != nil {
		return models.RecordResult{}, fmt.Errorf("failed to record false alarm: %w", err)
	}

	slog.Info("Recorded false alarm pattern",
		"site_id", req.SiteID, "event_id", req.EventID, "pattern_id", result.PatternID, "action", result.Action)
	return result, nil
}

// update applies fn to one pattern and stamps last_updated_at. Any update
// restarts the idle clock, so the decay period count restarts with it.
func (e *Engine) update(ctx context.Context, id string, fn func(p *models.Pattern)) (*models.Pattern, error) {
	var out models.Pattern
	err := e.store.Mutate(ctx, func(all []models.Pattern) ([]models.Pattern, error) {
		idx := indexOf(all, id)
		if idx < 0 {
			return nil, ErrPatternNotFound
		}
		fn(&all[idx])
		now := e.now()
		all[idx].LastUpdatedAt = &now
		all[idx].DecayPeriodsApplied = 0
		out = all[idx]
		return all, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmFalse records another benign confirmation and raises confidence.
func (e *Engine) ConfirmFalse(ctx context.Context, id string) (*models.Pattern, error) {
	return e.update(ctx, id, func(p *models.Pattern) {
		p.TimesConfirmedFalse++
		p.Confidence = math.Min(MaxConfidence, p.Confidence+confirmStep)
	})
}

// ReportRealLeak penalises a pattern that hid a real leak and retires it when
// real leaks exceed 2 and 30% of its confirmations.
func (e *Engine) ReportRealLeak(ctx context.Context, id string) (*models.Pattern, error) {
	return e.update(ctx, id, func(p *models.Pattern) {
		p.TimesWasRealLeak++
		p.Confidence = math.Max(MinConfidence, p.Confidence-realLeakPenalty)
		real := float64(p.TimesWasRealLeak)
		if p.TimesWasRealLeak > 2 && real/(real+float64(p.TimesConfirmedFalse)) > 0.3 {
			p.IsActive = false
			slog.Warn("Deactivated pattern due to high false negative rate", "pattern_id", p.PatternID)
		}
	})
}

func (e *Engine) ToggleActive(ctx context.Context, id string) (*models.Pattern, error) {
	return e.update(ctx, id, func(p *models.Pattern) {
		p.IsActive = !p.IsActive
	})
}

func (e *Engine) ToggleAutoSuppress(ctx context.Context, id string) (*models.Pattern, error) {
	return e.update(ctx, id, func(p *models.Pattern) {
		p.AutoSuppress = !p.AutoSuppress
	})
}

// SetSeasonTags replaces a pattern's tags; unknown tags are dropped.
func (e *Engine) SetSeasonTags(ctx context.Context, id string, tags []string) (*models.Pattern, error) {
	valid := FilterSeasonTags(tags)
	p, err := e.update(ctx, id, func(p *models.Pattern) {
		p.SeasonTags = valid
	})
	if err == nil {
		slog.Info("Updated pattern season tags", "pattern_id", id, "season_tags", valid)
	}
	return p, err
}

func (e *Engine) SetBaselineUsage(ctx context.Context, id string, termKL, holidayKL float64) (*models.Pattern, error) {
	p, err := e.update(ctx, id, func(p *models.Pattern) {
		p.BaselineTermUsageKL = ptr(termKL)
		p.BaselineHolidayUsageKL = ptr(holidayKL)
	})
	if err == nil {
		slog.Info("Updated pattern baseline", "pattern_id", id, "term_kL", termKL, "holiday_kL", holidayKL)
	}
	return p, err
}

// SetTolerance stores tolerance on one pattern. A nil tolerance derives it
// from history using the site's patterns.
func (e *Engine) SetTolerance(ctx context.Context, id string, tolerance *float64, history []float64) (*models.Pattern, error) {
	var out models.Pattern
	err := e.store.Mutate(ctx, func(all []models.Pattern) ([]models.Pattern, error) {
		idx := indexOf(all, id)
		if idx < 0 {
			return nil, ErrPatternNotFound
		}
		tol := 0.0
		if tolerance != nil {
			tol = *tolerance
		} else {
			tol, _ = AdaptiveTolerance(all[idx].SiteID, history, all)
		}
		now := e.now()
		all[idx].MNFToleranceFactor = ptr(tol)
		all[idx].LastUpdatedAt = &now
		all[idx].DecayPeriodsApplied = 0
		out = all[idx]
		return all, nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Pattern tolerance updated", "pattern_id", id, "tolerance", *out.MNFToleranceFactor)
	return &out, nil
}

// RecalculateSiteTolerances sets every pattern of each site to the site's
// adaptive tolerance. histories maps site id to MNF history; a nil map
// recalculates every site in the library with no history.
func (e *Engine) RecalculateSiteTolerances(ctx context.Context, histories map[string][]float64) (map[string]float64, error) {
	results := map[string]float64{}
	err := e.store.Mutate(ctx, func(all []models.Pattern) ([]models.Pattern, error) {
		sites := make([]string, 0, len(histories))
		if histories == nil {
			seen := map[string]bool{}
			for _, p := range all {
				if !seen[p.SiteID] {
					seen[p.SiteID] = true
					sites = append(sites, p.SiteID)
				}
			}
		} else {
			for site := range histories {
				sites = append(sites, site)
			}
		}
		sort.Strings(sites)

		now := e.now()
		for _, site := range sites {
			tol, _ := AdaptiveTolerance(site, histories[site], all)
			results[site] = tol
			for i := range all {
				if all[i].SiteID == site {
					all[i].MNFToleranceFactor = ptr(tol)
					all[i].LastUpdatedAt = &now
					all[i].DecayPeriodsApplied = 0
				}
			}
		}
		return all, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to recalculate tolerances: %w", err)
	}
	slog.Info("Recalculated MNF tolerances", "sites", len(results))
	return results, nil
}

func (e *Engine) Delete(ctx context.Context, id string) error {
	err := e.store.Mutate(ctx, func(all []models.Pattern) ([]models.Pattern, error) {
		idx := indexOf(all, id)
		if idx < 0 {
			return nil, ErrPatternNotFound
		}
		return append(all[:idx], all[idx+1:]...), nil
	})
	if err != nil {
		return err
	}
	slog.Info("Deleted pattern", "pattern_id", id)
	return nil
}

func (e *Engine) Get(ctx context.Context, id string) (*models.Pattern, error) {
	all, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	idx := indexOf(all, id)
	if idx < 0 {
		return nil, ErrPatternNotFound
	}
	return &all[idx], nil
}

func (e *Engine) Patterns(ctx context.Context) ([]models.Pattern, error) {
	return e.store.Load(ctx)
}

// SitePatterns returns the patterns of siteID plus the wildcard ones.
func (e *Engine) SitePatterns(ctx context.Context, siteID string) ([]models.Pattern, error) {
	all, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := []models.Pattern{}
	for _, p := range all {
		if p.SiteID == siteID || p.SiteID == models.WildcardSite {
			out = append(out, p)
		}
	}
	return out, nil
}

// ============================================================================
// STALENESS
// ============================================================================

// Cleanup deactivates patterns idle for StalenessThresholdDays and decays the
// confidence of those idle for at least one DecayPeriodDays. Each elapsed
// period is applied once, so repeated runs on the same day are no-ops.
func (e *Engine) Cleanup(ctx context.Context) (models.CleanupStats, error) {
	var st models.CleanupStats
	err := e.store.Mutate(ctx, func(all []models.Pattern) ([]models.Pattern, error) {
		st = models.CleanupStats{}
		now := e.now()

		for i := range all {
			p := &all[i]
			if !p.IsActive {
				continue
			}
			daysInactive := int(now.Sub(p.LastActivity()).Hours() / 24)

			switch {
			case daysInactive >= StalenessThresholdDays:
				p.IsActive = false
				p.Notes = fmt.Sprintf("Auto-deactivated after %d days inactive (%s)", daysInactive, now.Format(models.DateLayout))
				slog.Info("Deactivated stale pattern", "pattern_id", p.PatternID, "days_inactive", daysInactive)
				st.Deactivated++
			case daysInactive >= DecayPeriodDays:
				periods := daysInactive / DecayPeriodDays
				pending := periods - p.DecayPeriodsApplied
				if pending <= 0 {
					st.Unchanged++
					continue
				}
				old := p.Confidence
				next := math.Max(ConfidenceFloor, old*math.Pow(ConfidenceDecayRate, float64(pending)))
				if math.Abs(old-next) > 0.01 {
					p.Confidence = round(next, 3)
					p.DecayPeriodsApplied = periods
					slog.Debug("Pattern confidence decayed", "pattern_id", p.PatternID, "from", old, "to", p.Confidence)
					st.Decayed++
				} else {
					st.Unchanged++
				}
			default:
				st.Unchanged++
			}
		}
		if st.Deactivated == 0 && st.Decayed == 0 {
			return nil, ErrNoChange
		}
		return all, nil
	})
	if err != nil && !errors.Is(err, ErrNoChange) {
		return st, fmt.Errorf("failed to clean up patterns: %w", err)
	}
	slog.Info("Staleness cleanup complete",
		"deactivated", st.Deactivated, "decayed", st.Decayed, "unchanged", st.Unchanged)
	return st, nil
}

// ============================================================================
// DISPLAY
// ============================================================================

var categoryNames = map[string]string{
	"false_alarm": "False Alarm",
	"pool_fill":   "Pool Fill",
	"fire_test":   "Fire System Test",
	"maintenance": "Planned Maintenance",
	"data_error":  "Data Error / Sensor Issue",
	"temp_usage":  "Known Temporary Usage",
	"irrigation":  "Irrigation Schedule",
	"hvac":        "HVAC System",
	"cleaning":    "Cleaning Schedule",
	"event":       "Scheduled Event",
	"other":       "Other",
}

// CategoryDisplayName maps a category key to its label, title-casing unknown keys.
func CategoryDisplayName(category string) string {
	if name, ok := categoryNames[category]; ok {
		return name
	}
	words := strings.Fields(strings.ReplaceAll(category, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

var dayNames = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// Summary renders a one-line description of a pattern for operators.
func Summary(p *models.Pattern) string {
	parts := []string{"Category: " + CategoryDisplayName(p.Category)}

	if p.RecurrenceRule.IsRecurring {
		recType := "unknown"
		if p.RecurrenceRule.Type != nil {
			recType = *p.RecurrenceRule.Type
		}
		var days []string
		for _, d := range p.RecurrenceRule.DaysOfWeek {
			if d >= 0 && d < len(dayNames) {
				days = append(days, dayNames[d])
			}
		}
		if len(days) > 0 {
			parts = append(parts, fmt.Sprintf("Recurs: %s (%s)", recType, strings.Join(days, ", ")))
		} else {
			parts = append(parts, "Recurs: "+recType)
		}
	}

	tf := p.TimeFingerprint
	if tf.TimeWindowStart != nil && tf.TimeWindowEnd != nil && *tf.TimeWindowStart != "" && *tf.TimeWindowEnd != "" {
		parts = append(parts, fmt.Sprintf("Time: %s - %s", *tf.TimeWindowStart, *tf.TimeWindowEnd))
	}

	parts = append(parts, fmt.Sprintf("Confidence: %.0f%%", p.Confidence*100))
	if p.AutoSuppress {
		parts = append(parts, "Auto-suppress ON")
	}
	return strings.Join(parts, " | ")
}
