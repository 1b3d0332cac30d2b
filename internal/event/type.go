package event

import (
	"time"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
)

const LeakIncidentQueue string = "leak_incident_events"

type IncidentEventType string

const (
	IncidentOpened     IncidentEventType = "incident.opened"
	IncidentEscalated  IncidentEventType = "incident.escalated"
	IncidentClosed     IncidentEventType = "incident.closed"
	IncidentSuppressed IncidentEventType = "incident.suppressed"
)

// IncidentEvent is the message body published for every incident a replay produces.
type IncidentEvent struct {
	Type         IncidentEventType     `json:"type"`
	RunID        string                `json:"run_id"`
	SiteID       string                `json:"site_id"`
	EventID      string                `json:"event_id"`
	Status       models.IncidentStatus `json:"status"`
	SeverityMax  string                `json:"severity_max"`
	Confidence   float64               `json:"confidence"`
	MaxDeltaNF   float64               `json:"max_deltaNF"`
	VolumeLostKL float64               `json:"volume_lost_kL"`
	StartTime    time.Time             `json:"start_time"`
	EndTime      time.Time             `json:"end_time"`
	AlertDate    time.Time             `json:"alert_date"`
	NextAction   string                `json:"next_action"`
	SuppressedBy string                `json:"suppressed_by,omitempty"`
	Category     string                `json:"category,omitempty"`
	PublishedAt  time.Time             `json:"published_at"`
}

// TypeFor classifies a canonical incident record.
func TypeFor(rec models.IncidentRecord) IncidentEventType {
	switch {
	case rec.SuppressedBy != "":
		return IncidentSuppressed
	case rec.Closed:
		return IncidentClosed
	case rec.Status.IsConfirmed():
		return IncidentEscalated
	default:
		return IncidentOpened
	}
}

// NewIncidentEvent builds the message for rec.
func NewIncidentEvent(runID string, rec models.IncidentRecord, now time.Time) IncidentEvent {
	return IncidentEvent{
		Type:         TypeFor(rec),
		RunID:        runID,
		SiteID:       rec.SiteID,
		EventID:      rec.EventID,
		Status:       rec.Status,
		SeverityMax:  rec.SeverityMax,
		Confidence:   rec.Confidence,
		MaxDeltaNF:   rec.MaxDeltaNF,
		VolumeLostKL: rec.VolumeLostKL,
		StartTime:    rec.StartTime,
		EndTime:      rec.EndTime,
		AlertDate:    rec.AlertDate,
		NextAction:   rec.Status.NextAction(),
		SuppressedBy: rec.SuppressedBy,
		Category:     rec.Category,
		PublishedAt:  now,
	}
}
