package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// FALSE-ALARM PATTERNS
// ============================================================================

// SignalFingerprint is the compact signal and flow summary of an incident.
// JSON names are kept stable for the flat pattern table.
type SignalFingerprint struct {
	SignalsActive   []string           `json:"signals_active"`
	SignalScores    map[string]float64 `json:"signal_scores"`
	MNFRange        []float64          `json:"mnf_range"`
	MNFValueLph     *float64           `json:"mnf_value_Lph"`
	AvgFlowRateLph  *float64           `json:"avg_flow_rate_Lph"`
	PeakFlowRateLph *float64           `json:"peak_flow_rate_Lph"`
	VolumeRange     []float64          `json:"volume_range"`
	VolumeKL        *float64           `json:"volume_kL"`
	DurationRange   []float64          `json:"duration_range"`
	DurationHours   *float64           `json:"duration_hours"`
}

// IsEmpty reports whether the fingerprint carries no comparable feature.
func (f SignalFingerprint) IsEmpty() bool {
	return len(f.SignalsActive) == 0 && len(f.SignalScores) == 0 &&
		f.MNFValueLph == nil && f.VolumeRange == nil && f.DurationRange == nil
}

type TimeFingerprint struct {
	// DaysOfWeek uses 0=Monday .. 6=Sunday.
	DaysOfWeek           []int    `json:"days_of_week"`
	TimeWindowStart      *string  `json:"time_window_start"`
	TimeWindowEnd        *string  `json:"time_window_end"`
	TypicalDurationHours *float64 `json:"typical_duration_hours"`
}

func (t TimeFingerprint) IsEmpty() bool {
	return len(t.DaysOfWeek) == 0 && t.TimeWindowStart == nil && t.TimeWindowEnd == nil && t.TypicalDurationHours == nil
}

type RecurrenceRule struct {
	IsRecurring bool    `json:"is_recurring"`
	Type        *string `json:"type"`
	DaysOfWeek  []int   `json:"days_of_week"`
}

func (r RecurrenceRule) IsEmpty() bool {
	return !r.IsRecurring && r.Type == nil && len(r.DaysOfWeek) == 0
}

// Pattern is one entry in the false-alarm library.
type Pattern struct {
	PatternID         string            `json:"pattern_id"`
	SiteID            string            `json:"site_id"`
	Category          string            `json:"category"`
	Description       string            `json:"description"`
	SignalFingerprint SignalFingerprint `json:"signal_fingerprint"`
	TimeFingerprint   TimeFingerprint   `json:"time_fingerprint"`
	RecurrenceRule    RecurrenceRule    `json:"recurrence_rule"`
	AutoSuppress      bool              `json:"auto_suppress"`
	Confidence        float64           `json:"confidence"`

	TimesMatched        int `json:"times_matched"`
	TimesConfirmedFalse int `json:"times_confirmed_false"`
	TimesWasRealLeak    int `json:"times_was_real_leak"`

	CreatedAt     time.Time  `json:"created_at"`
	CreatedBy     string     `json:"created_by"`
	LastMatchedAt *time.Time `json:"last_matched_at"`
	LastUpdatedAt *time.Time `json:"last_updated_at"`
	IsActive      bool       `json:"is_active"`
	Notes         string     `json:"notes"`

	SeasonTags             []Season `json:"season_tags"`
	BaselineTermUsageKL    *float64 `json:"baseline_term_usage_kL"`
	BaselineHolidayUsageKL *float64 `json:"baseline_holiday_usage_kL"`
	MNFToleranceFactor     *float64 `json:"mnf_tolerance_factor"`

	// DecayPeriodsApplied counts the inactivity periods already folded into Confidence.
	DecayPeriodsApplied int `json:"decay_periods_applied"`
}

// LastActivity is the most recent of created, matched and updated timestamps.
func (p *Pattern) LastActivity() time.Time {
	last := p.CreatedAt
	if p.LastMatchedAt != nil && p.LastMatchedAt.After(last) {
		last = *p.LastMatchedAt
	}
	if p.LastUpdatedAt != nil && p.LastUpdatedAt.After(last) {
		last = *p.LastUpdatedAt
	}
	return last
}

// PatternIncident is the normalised incident shape the pattern engine consumes.
type PatternIncident struct {
	EventID       string             `json:"event_id"`
	SiteID        string             `json:"site_id"`
	StartDay      time.Time          `json:"start_day"`
	SubScores     map[string]float64 `json:"subscores"`
	MNFLph        *float64           `json:"mnf_Lph,omitempty"`
	AvgFlowLph    *float64           `json:"avg_flow_Lph,omitempty"`
	PeakFlowLph   *float64           `json:"peak_flow_Lph,omitempty"`
	VolumeKL      *float64           `json:"volume_kL,omitempty"`
	DurationHours *float64           `json:"duration_hours,omitempty"`
}

// PatternMatch is one scored comparison of an incident against a pattern.
type PatternMatch struct {
	PatternID         string   `json:"pattern_id"`
	SiteID            string   `json:"site_id"`
	Category          string   `json:"category"`
	Description       string   `json:"description"`
	SignalSimilarity  float64  `json:"signal_similarity"`
	TimeSimilarity    float64  `json:"time_similarity"`
	SeasonalBoost     float64  `json:"seasonal_boost"`
	CombinedScore     float64  `json:"combined_score"`
	PatternConfidence float64  `json:"pattern_confidence"`
	FinalScore        float64  `json:"final_score"`
	AutoSuppress      bool     `json:"auto_suppress"`
	TimesMatched      int      `json:"times_matched"`
	IsStrongMatch     bool     `json:"is_strong_match"`
	SeasonTags        []Season `json:"season_tags"`
	MNFToleranceUsed  float64  `json:"mnf_tolerance_used"`
}

// RecordResult reports what recording a false alarm did to the library.
type RecordResult struct {
	PatternID string       `json:"pattern_id"`
	Action    RecordAction `json:"action"`
	Message   string       `json:"message"`
}

// CleanupStats summarises one staleness maintenance pass.
type CleanupStats struct {
	Deactivated int `json:"deactivated"`
	Decayed     int `json:"decayed"`
	Unchanged   int `json:"unchanged"`
}

// MatchLogEntry is an audit row for a pattern match decision.
type MatchLogEntry struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	Timestamp   time.Time   `json:"timestamp" db:"matched_at"`
	IncidentID  string      `json:"incident_id" db:"incident_id"`
	PatternID   string      `json:"pattern_id" db:"pattern_id"`
	MatchScore  float64     `json:"match_score" db:"match_score"`
	ActionTaken MatchAction `json:"action_taken" db:"action_taken"`
	SiteID      string      `json:"site_id" db:"site_id"`
}

// ToleranceStats describes how a site's MNF tolerance was derived.
type ToleranceStats struct {
	CV          *float64 `json:"cv"`
	MeanMNF     *float64 `json:"mean_mnf"`
	StdMNF      *float64 `json:"std_mnf"`
	SampleCount int      `json:"sample_count"`
	Source      string   `json:"source"`
}
