package models

import (
	"sort"
	"strings"
	"time"
)

// ============================================================================
// SIGNALS
// ============================================================================

// SubScores holds the five per-day signal scores, each in [0,1].
type SubScores struct {
	MNF      float64 `json:"MNF"`
	Residual float64 `json:"RESIDUAL"`
	CUSUM    float64 `json:"CUSUM"`
	AfterHrs float64 `json:"AFTERHRS"`
	BurstBF  float64 `json:"BURSTBF"`
}

func (s SubScores) Get(name SignalName) float64 {
	switch name {
	case SignalMNF:
		return s.MNF
	case SignalResidual:
		return s.Residual
	case SignalCUSUM:
		return s.CUSUM
	case SignalAfterHrs:
		return s.AfterHrs
	case SignalBurstBF:
		return s.BurstBF
	default:
		return 0
	}
}

// Fired returns the signals with a non-zero score.
func (s SubScores) Fired() []SignalName {
	fired := make([]SignalName, 0, len(AllSignals))
	for _, name := range AllSignals {
		if s.Get(name) > 0 {
			fired = append(fired, name)
		}
	}
	return fired
}

// Agreeing counts the signals scoring at least threshold.
func (s SubScores) Agreeing(threshold float64) int {
	count := 0
	for _, name := range AllSignals {
		if s.Get(name) >= threshold {
			count++
		}
	}
	return count
}

func (s SubScores) Map() map[string]float64 {
	out := make(map[string]float64, len(AllSignals))
	for _, name := range AllSignals {
		out[string(name)] = s.Get(name)
	}
	return out
}

// SignalSnapshot is the frozen signal output for one (site, date).
type SignalSnapshot struct {
	SubScores SubScores `json:"sub_scores"`
	LeakScore float64   `json:"leak_score"`
	DeltaNF   float64   `json:"deltaNF"`
	NFMAD     float64   `json:"NF_MAD"`
	// NF is the observed night flow for the day, kept for fingerprinting.
	NF float64 `json:"nf_lph"`
}

// FrozenCaches are the append-only per-date snapshot maps carried across replays.
type FrozenCaches struct {
	Signals    map[string]SignalSnapshot `json:"signals"`
	Confidence map[string]float64        `json:"confidence"`
}

func NewFrozenCaches() FrozenCaches {
	return FrozenCaches{
		Signals:    make(map[string]SignalSnapshot),
		Confidence: make(map[string]float64),
	}
}

// Clone returns an independent copy.
func (c FrozenCaches) Clone() FrozenCaches {
	out := NewFrozenCaches()
	for k, v := range c.Signals {
		out.Signals[k] = v
	}
	for k, v := range c.Confidence {
		out.Confidence[k] = v
	}
	return out
}

// ============================================================================
// INCIDENTS
// ============================================================================

// DateComponents is the per-date archive entry kept on an incident.
type DateComponents struct {
	SubScores  SubScores `json:"sub_scores"`
	DeltaNF    float64   `json:"deltaNF"`
	NFMAD      float64   `json:"NF_MAD"`
	NF         float64   `json:"nf_lph"`
	Confidence float64   `json:"confidence"`
}

// Incident is one leak episode at a site, owned by that site's detector.
type Incident struct {
	SiteID        string         `json:"site_id"`
	Status        IncidentStatus `json:"status"`
	StartDay      time.Time      `json:"start_day"`
	LastDay       time.Time      `json:"last_day"`
	MaxDeltaNF    float64        `json:"max_deltaNF"`
	SeverityMax   string         `json:"severity_max"`
	DaysPersisted int            `json:"days_persisted"`
	ReasonCodes   []SignalName   `json:"reason_codes"`
	VolumeLostKL  float64        `json:"volume_lost_kL"`
	Confidence    float64        `json:"confidence"`
	DaysNeeded    int            `json:"days_needed"`
	AlertDate     time.Time      `json:"alert_date"`

	SignalComponentsByDate map[string]DateComponents `json:"signal_components_by_date"`

	Closed       bool   `json:"closed"`
	CloseReason  string `json:"close_reason,omitempty"`
	SuppressedBy string `json:"suppressed_by,omitempty"`

	Category            string `json:"category,omitempty"`
	CategoryDescription string `json:"category_description,omitempty"`
}

// AddReasonCodes merges codes into the sorted reason-code set.
func (i *Incident) AddReasonCodes(codes []SignalName) {
	seen := make(map[SignalName]struct{}, len(i.ReasonCodes)+len(codes))
	for _, c := range i.ReasonCodes {
		seen[c] = struct{}{}
	}
	for _, c := range codes {
		seen[c] = struct{}{}
	}
	merged := make([]SignalName, 0, len(seen))
	for c := range seen {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(a, b int) bool { return merged[a] < merged[b] })
	i.ReasonCodes = merged
}

// JoinedReasonCodes renders the set as a comma-joined sorted string.
func (i *Incident) JoinedReasonCodes() string {
	parts := make([]string, len(i.ReasonCodes))
	for idx, c := range i.ReasonCodes {
		parts[idx] = string(c)
	}
	return strings.Join(parts, ", ")
}

// DurationHours is the calendar span covered by the incident.
func (i *Incident) DurationHours() float64 {
	return float64(DaysBetween(i.StartDay, i.LastDay)+1) * 24
}

// IncidentRecord is the canonical, export-facing shape of an incident.
type IncidentRecord struct {
	EventID       string         `json:"event_id"`
	SiteID        string         `json:"site_id"`
	Status        IncidentStatus `json:"status"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	AlertDate     time.Time      `json:"alert_date"`
	SeverityMax   string         `json:"severity_max"`
	Confidence    float64        `json:"confidence"`
	MaxDeltaNF    float64        `json:"max_deltaNF"`
	VolumeLostKL  float64        `json:"volume_lost_kL"`
	TotalVolumeL  float64        `json:"total_volume_L"`
	DurationHours float64        `json:"duration_hours"`
	DaysPersisted int            `json:"days_persisted"`
	DaysNeeded    int            `json:"days_needed"`
	ReasonCodes   []string       `json:"reason_codes"`
	Closed        bool           `json:"closed"`
	CloseReason   string         `json:"close_reason,omitempty"`
	SuppressedBy  string         `json:"suppressed_by,omitempty"`
	Category      string         `json:"category,omitempty"`

	SignalComponentsByDate map[string]DateComponents `json:"signal_components_by_date"`
}

// IsConfirmed reports whether the record escalated past WATCH.
func (r IncidentRecord) IsConfirmed() bool {
	return r.Status.IsConfirmed()
}

// DailyStatus is the per-day UI record emitted by the state machine.
type DailyStatus struct {
	SiteID          string         `json:"site_id"`
	Date            time.Time      `json:"date"`
	Status          IncidentStatus `json:"status"`
	Severity        string         `json:"severity,omitempty"`
	Confidence      float64        `json:"confidence"`
	DeltaNF         float64        `json:"deltaNF"`
	DaysPersisted   int            `json:"days_persisted"`
	EstVolumeLostKL float64        `json:"est_volume_lost_kL"`
	ReasonCodes     string         `json:"reason_codes"`
	NextAction      string         `json:"next_action"`
	Suppressed      string         `json:"suppressed,omitempty"`
}
