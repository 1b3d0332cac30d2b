package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/utils"
)

type incidentRow struct {
	EventID          string                                        `db:"event_id"`
	SiteID           string                                        `db:"site_id"`
	Status           string                                        `db:"status"`
	StartTime        time.Time                                     `db:"start_time"`
	EndTime          time.Time                                     `db:"end_time"`
	AlertDate        time.Time                                     `db:"alert_date"`
	SeverityMax      string                                        `db:"severity_max"`
	Confidence       float64                                       `db:"confidence"`
	MaxDeltaNF       float64                                       `db:"max_delta_nf"`
	VolumeLostKL     float64                                       `db:"volume_lost_kl"`
	TotalVolumeL     float64                                       `db:"total_volume_l"`
	DurationHours    float64                                       `db:"duration_hours"`
	DaysPersisted    int                                           `db:"days_persisted"`
	DaysNeeded       int                                           `db:"days_needed"`
	ReasonCodes      pq.StringArray                                `db:"reason_codes"`
	Closed           bool                                          `db:"closed"`
	CloseReason      string                                        `db:"close_reason"`
	SuppressedBy     string                                        `db:"suppressed_by"`
	Category         string                                        `db:"category"`
	SignalComponents utils.JSONB[map[string]models.DateComponents] `db:"signal_components_by_date"`
}

type dailyStatusRow struct {
	SiteID          string    `db:"site_id"`
	Date            time.Time `db:"status_date"`
	Status          string    `db:"status"`
	Severity        string    `db:"severity"`
	Confidence      float64   `db:"confidence"`
	DeltaNF         float64   `db:"delta_nf"`
	DaysPersisted   int       `db:"days_persisted"`
	EstVolumeLostKL float64   `db:"est_volume_lost_kl"`
	ReasonCodes     string    `db:"reason_codes"`
	NextAction      string    `db:"next_action"`
	Suppressed      string    `db:"suppressed"`
}

const incidentColumns = `
	event_id, site_id, status, start_time, end_time, alert_date, severity_max, confidence,
	max_delta_nf, volume_lost_kl, total_volume_l, duration_hours, days_persisted, days_needed,
	reason_codes, closed, close_reason, suppressed_by, category, signal_components_by_date`

// IncidentRepository persists canonical incidents and daily status records.
type IncidentRepository struct {
	db *sqlx.DB
}

func NewIncidentRepository(db *sqlx.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// SaveSiteResult upserts a site's incidents and daily records in one transaction.
func (r *IncidentRepository) SaveSiteResult(ctx context.Context, siteID string, incidents []models.IncidentRecord, daily []models.DailyStatus) error {
	slog.Info("Saving site result", "site_id", siteID, "incidents", len(incidents), "days", len(daily))
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	incidentQuery := `
		INSERT INTO leak_incident (` + incidentColumns + `
		) VALUES (
			:event_id, :site_id, :status, :start_time, :end_time, :alert_date, :severity_max, :confidence,
			:max_delta_nf, :volume_lost_kl, :total_volume_l, :duration_hours, :days_persisted, :days_needed,
			:reason_codes, :closed, :close_reason, :suppressed_by, :category, :signal_components_by_date
		)
		ON CONFLICT (event_id) DO UPDATE SET
			status = EXCLUDED.status,
			alert_date = EXCLUDED.alert_date,
			severity_max = EXCLUDED.severity_max,
			confidence = EXCLUDED.confidence,
			max_delta_nf = EXCLUDED.max_delta_nf,
			volume_lost_kl = EXCLUDED.volume_lost_kl,
			total_volume_l = EXCLUDED.total_volume_l,
			duration_hours = EXCLUDED.duration_hours,
			days_persisted = EXCLUDED.days_persisted,
			days_needed = EXCLUDED.days_needed,
			reason_codes = EXCLUDED.reason_codes,
			closed = EXCLUDED.closed,
			close_reason = EXCLUDED.close_reason,
			suppressed_by = EXCLUDED.suppressed_by,
			category = EXCLUDED.category,
			signal_components_by_date = EXCLUDED.signal_components_by_date,
			updated_at = NOW()`
	for _, rec := range incidents {
		if _, err := tx.NamedExecContext(ctx, incidentQuery, incidentToRow(rec)); err != nil {
			return fmt.Errorf("failed to upsert incident %s: %w", rec.EventID, err)
		}
	}

	dailyQuery := `
		INSERT INTO leak_daily_status (
			site_id, status_date, status, severity, confidence, delta_nf, days_persisted,
			est_volume_lost_kl, reason_codes, next_action, suppressed
		) VALUES (
			:site_id, :status_date, :status, :severity, :confidence, :delta_nf, :days_persisted,
			:est_volume_lost_kl, :reason_codes, :next_action, :suppressed
		)
		ON CONFLICT (site_id, status_date) DO UPDATE SET
			status = EXCLUDED.status,
			severity = EXCLUDED.severity,
			confidence = EXCLUDED.confidence,
			delta_nf = EXCLUDED.delta_nf,
			days_persisted = EXCLUDED.days_persisted,
			est_volume_lost_kl = EXCLUDED.est_volume_lost_kl,
			reason_codes = EXCLUDED.reason_codes,
			next_action = EXCLUDED.next_action,
			suppressed = EXCLUDED.suppressed`
	for _, ds := range daily {
		if _, err := tx.NamedExecContext(ctx, dailyQuery, dailyToRow(ds)); err != nil {
			return fmt.Errorf("failed to upsert daily status %s: %w", models.DayKey(ds.Date), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit site result: %w", err)
	}
	return nil
}

func (r *IncidentRepository) GetIncidentsBySite(ctx context.Context, siteID string) ([]models.IncidentRecord, error) {
	var rows []incidentRow
	query := `SELECT ` + incidentColumns + ` FROM leak_incident WHERE site_id = $1 ORDER BY start_time`
	if err := r.db.SelectContext(ctx, &rows, query, siteID); err != nil {
		return nil, fmt.Errorf("failed to get incidents for site %s: %w", siteID, err)
	}
	out := make([]models.IncidentRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToIncident(row))
	}
	return out, nil
}

func (r *IncidentRepository) GetDailyStatusBySite(ctx context.Context, siteID string) ([]models.DailyStatus, error) {
	var rows []dailyStatusRow
	query := `
		SELECT site_id, status_date, status, severity, confidence, delta_nf, days_persisted,
			est_volume_lost_kl, reason_codes, next_action, suppressed
		FROM leak_daily_status WHERE site_id = $1 ORDER BY status_date`
	if err := r.db.SelectContext(ctx, &rows, query, siteID); err != nil {
		return nil, fmt.Errorf("failed to get daily status for site %s: %w", siteID, err)
	}
	out := make([]models.DailyStatus, len(rows))
	for i, row := range rows {
		out[i] = models.DailyStatus{
			SiteID:          row.SiteID,
			Date:            row.Date,
			Status:          models.IncidentStatus(row.Status),
			Severity:        row.Severity,
			Confidence:      row.Confidence,
			DeltaNF:         row.DeltaNF,
			DaysPersisted:   row.DaysPersisted,
			EstVolumeLostKL: row.EstVolumeLostKL,
			ReasonCodes:     row.ReasonCodes,
			NextAction:      row.NextAction,
			Suppressed:      row.Suppressed,
		}
	}
	return out, nil
}

func incidentToRow(rec models.IncidentRecord) incidentRow {
	return incidentRow{
		EventID:          rec.EventID,
		SiteID:           rec.SiteID,
		Status:           string(rec.Status),
		StartTime:        rec.StartTime,
		EndTime:          rec.EndTime,
		AlertDate:        rec.AlertDate,
		SeverityMax:      rec.SeverityMax,
		Confidence:       rec.Confidence,
		MaxDeltaNF:       rec.MaxDeltaNF,
		VolumeLostKL:     rec.VolumeLostKL,
		TotalVolumeL:     rec.TotalVolumeL,
		DurationHours:    rec.DurationHours,
		DaysPersisted:    rec.DaysPersisted,
		DaysNeeded:       rec.DaysNeeded,
		ReasonCodes:      pq.StringArray(rec.ReasonCodes),
		Closed:           rec.Closed,
		CloseReason:      rec.CloseReason,
		SuppressedBy:     rec.SuppressedBy,
		Category:         rec.Category,
		SignalComponents: utils.NewJSONB(rec.SignalComponentsByDate),
	}
}

func rowToIncident(row incidentRow) models.IncidentRecord {
	return models.IncidentRecord{
		EventID:       row.EventID,
		SiteID:        row.SiteID,
		Status:        models.IncidentStatus(row.Status),
		StartTime:     row.StartTime,
		EndTime:       row.EndTime,
		AlertDate:     row.AlertDate,
		SeverityMax:   row.SeverityMax,
		Confidence:    row.Confidence,
		MaxDeltaNF:    row.MaxDeltaNF,
		VolumeLostKL:  row.VolumeLostKL,
		TotalVolumeL:  row.TotalVolumeL,
		DurationHours: row.DurationHours,
		DaysPersisted: row.DaysPersisted,
		DaysNeeded:    row.DaysNeeded,
		ReasonCodes:   []string(row.ReasonCodes),
		Closed:        row.Closed,
		CloseReason:   row.CloseReason,
		SuppressedBy:  row.SuppressedBy,
		Category:      row.Category,

		SignalComponentsByDate: row.SignalComponents.V,
	}
}

func dailyToRow(ds models.DailyStatus) dailyStatusRow {
	return dailyStatusRow{
		SiteID:          ds.SiteID,
		Date:            ds.Date,
		Status:          string(ds.Status),
		Severity:        ds.Severity,
		Confidence:      ds.Confidence,
		DeltaNF:         ds.DeltaNF,
		DaysPersisted:   ds.DaysPersisted,
		EstVolumeLostKL: ds.EstVolumeLostKL,
		ReasonCodes:     ds.ReasonCodes,
		NextAction:      ds.NextAction,
		Suppressed:      ds.Suppressed,
	}
}
