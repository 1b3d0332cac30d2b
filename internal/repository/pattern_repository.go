package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/patterns"
)

// patternLockKey serialises pattern mutations across service instances.
const patternLockKey = 7_301_442

type patternRow struct {
	PatternID              string         `db:"pattern_id"`
	SiteID                 string         `db:"site_id"`
	Category               string         `db:"category"`
	Description            string         `db:"description"`
	SignalFingerprint      types.JSONText `db:"signal_fingerprint"`
	TimeFingerprint        types.JSONText `db:"time_fingerprint"`
	RecurrenceRule         types.JSONText `db:"recurrence_rule"`
	AutoSuppress           bool           `db:"auto_suppress"`
	Confidence             float64        `db:"confidence"`
	TimesMatched           int            `db:"times_matched"`
	TimesConfirmedFalse    int            `db:"times_confirmed_false"`
	TimesWasRealLeak       int            `db:"times_was_real_leak"`
	CreatedAt              time.Time      `db:"created_at"`
	CreatedBy              string         `db:"created_by"`
	LastMatchedAt          *time.Time     `db:"last_matched_at"`
	LastUpdatedAt          *time.Time     `db:"last_updated_at"`
	IsActive               bool           `db:"is_active"`
	Notes                  string         `db:"notes"`
	SeasonTags             pq.StringArray `db:"season_tags"`
	BaselineTermUsageKL    *float64       `db:"baseline_term_usage_kl"`
	BaselineHolidayUsageKL *float64       `db:"baseline_holiday_usage_kl"`
	MNFToleranceFactor     *float64       `db:"mnf_tolerance_factor"`
	DecayPeriodsApplied    int            `db:"decay_periods_applied"`
}

const patternColumns = `
	pattern_id, site_id, category, description, signal_fingerprint, time_fingerprint,
	recurrence_rule, auto_suppress, confidence, times_matched, times_confirmed_false,
	times_was_real_leak, created_at, created_by, last_matched_at, last_updated_at,
	is_active, notes, season_tags, baseline_term_usage_kl, baseline_holiday_usage_kl,
	mnf_tolerance_factor, decay_periods_applied`

const upsertPatternQuery = `
	INSERT INTO false_alarm_pattern (` + patternColumns + `
	) VALUES (
		:pattern_id, :site_id, :category, :description, :signal_fingerprint, :time_fingerprint,
		:recurrence_rule, :auto_suppress, :confidence, :times_matched, :times_confirmed_false,
		:times_was_real_leak, :created_at, :created_by, :last_matched_at, :last_updated_at,
		:is_active, :notes, :season_tags, :baseline_term_usage_kl, :baseline_holiday_usage_kl,
		:mnf_tolerance_factor, :decay_periods_applied
	)
	ON CONFLICT (pattern_id) DO UPDATE SET
		site_id = EXCLUDED.site_id,
		category = EXCLUDED.category,
		description = EXCLUDED.description,
		signal_fingerprint = EXCLUDED.signal_fingerprint,
		time_fingerprint = EXCLUDED.time_fingerprint,
		recurrence_rule = EXCLUDED.recurrence_rule,
		auto_suppress = EXCLUDED.auto_suppress,
		confidence = EXCLUDED.confidence,
		times_matched = EXCLUDED.times_matched,
		times_confirmed_false = EXCLUDED.times_confirmed_false,
		times_was_real_leak = EXCLUDED.times_was_real_leak,
		created_by = EXCLUDED.created_by,
		last_matched_at = EXCLUDED.last_matched_at,
		last_updated_at = EXCLUDED.last_updated_at,
		is_active = EXCLUDED.is_active,
		notes = EXCLUDED.notes,
		season_tags = EXCLUDED.season_tags,
		baseline_term_usage_kl = EXCLUDED.baseline_term_usage_kl,
		baseline_holiday_usage_kl = EXCLUDED.baseline_holiday_usage_kl,
		mnf_tolerance_factor = EXCLUDED.mnf_tolerance_factor,
		decay_periods_applied = EXCLUDED.decay_periods_applied`

// PatternRepository keeps the false-alarm library in Postgres. It implements patterns.Store.
type PatternRepository struct {
	db *sqlx.DB
}

func NewPatternRepository(db *sqlx.DB) *PatternRepository {
	return &PatternRepository{db: db}
}

var _ patterns.Store = (*PatternRepository)(nil)

func (r *PatternRepository) Load(ctx context.Context) ([]models.Pattern, error) {
	var rows []patternRow
	query := `SELECT ` + patternColumns + ` FROM false_alarm_pattern ORDER BY created_at, pattern_id`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		slog.Error("Failed to load patterns", "error", err)
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}
	return rowsToPatterns(rows)
}

// Mutate runs fn inside one transaction holding an advisory lock and row locks
// on the whole table, then writes back the changed set.
func (r *PatternRepository) Mutate(ctx context.Context, fn func([]models.Pattern) ([]models.Pattern, error)) error {
	start := time.Now()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, patternLockKey); err != nil {
		return fmt.Errorf("failed to lock patterns: %w", err)
	}

	var rows []patternRow
	query := `SELECT ` + patternColumns + ` FROM false_alarm_pattern ORDER BY created_at, pattern_id FOR UPDATE`
	if err := tx.SelectContext(ctx, &rows, query); err != nil {
		return fmt.Errorf("failed to select patterns for update: %w", err)
	}
	before, err := rowsToPatterns(rows)
	if err != nil {
		return err
	}

	after, err := fn(clonePatterns(before))
	if err != nil {
		return err
	}

	if removed := removedIDs(before, after); len(removed) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM false_alarm_pattern WHERE pattern_id = ANY($1)`, pq.Array(removed)); err != nil {
			return fmt.Errorf("failed to delete patterns: %w", err)
		}
	}
	for i := range after {
		row, err := patternToRow(&after[i])
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, upsertPatternQuery, row); err != nil {
			return fmt.Errorf("failed to upsert pattern %s: %w", row.PatternID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pattern transaction: %w", err)
	}
	slog.Info("Saved patterns", "count", len(after), "duration", time.Since(start))
	return nil
}

func rowsToPatterns(rows []patternRow) ([]models.Pattern, error) {
	out := make([]models.Pattern, 0, len(rows))
	for i := range rows {
		p, err := rowToPattern(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func patternToRow(p *models.Pattern) (patternRow, error) {
	sig, err := json.Marshal(p.SignalFingerprint)
	if err != nil {
		return patternRow{}, fmt.Errorf("failed to marshal signal fingerprint: %w", err)
	}
	tfp, err := json.Marshal(p.TimeFingerprint)
	if err != nil {
		return patternRow{}, fmt.Errorf("failed to marshal time fingerprint: %w", err)
	}
	rule, err := json.Marshal(p.RecurrenceRule)
	if err != nil {
		return patternRow{}, fmt.Errorf("failed to marshal recurrence rule: %w", err)
	}
	tags := make(pq.StringArray, len(p.SeasonTags))
	for i, s := range p.SeasonTags {
		tags[i] = string(s)
	}
	return patternRow{
		PatternID:              p.PatternID,
		SiteID:                 p.SiteID,
		Category:               p.Category,
		Description:            p.Description,
		SignalFingerprint:      types.JSONText(sig),
		TimeFingerprint:        types.JSONText(tfp),
		RecurrenceRule:         types.JSONText(rule),
		AutoSuppress:           p.AutoSuppress,
		Confidence:             p.Confidence,
		TimesMatched:           p.TimesMatched,
		TimesConfirmedFalse:    p.TimesConfirmedFalse,
		TimesWasRealLeak:       p.TimesWasRealLeak,
		CreatedAt:              p.CreatedAt,
		CreatedBy:              p.CreatedBy,
		LastMatchedAt:          p.LastMatchedAt,
		LastUpdatedAt:          p.LastUpdatedAt,
		IsActive:               p.IsActive,
		Notes:                  p.Notes,
		SeasonTags:             tags,
		BaselineTermUsageKL:    p.BaselineTermUsageKL,
		BaselineHolidayUsageKL: p.BaselineHolidayUsageKL,
		MNFToleranceFactor:     p.MNFToleranceFactor,
		DecayPeriodsApplied:    p.DecayPeriodsApplied,
	}, nil
}

func rowToPattern(row *patternRow) (models.Pattern, error) {
	p := models.Pattern{
		PatternID:              row.PatternID,
		SiteID:                 row.SiteID,
		Category:               row.Category,
		Description:            row.Description,
		AutoSuppress:           row.AutoSuppress,
		Confidence:             row.Confidence,
		TimesMatched:           row.TimesMatched,
		TimesConfirmedFalse:    row.TimesConfirmedFalse,
		TimesWasRealLeak:       row.TimesWasRealLeak,
		CreatedAt:              row.CreatedAt,
		CreatedBy:              row.CreatedBy,
		LastMatchedAt:          row.LastMatchedAt,
		LastUpdatedAt:          row.LastUpdatedAt,
		IsActive:               row.IsActive,
		Notes:                  row.Notes,
		SeasonTags:             make([]models.Season, len(row.SeasonTags)),
		BaselineTermUsageKL:    row.BaselineTermUsageKL,
		BaselineHolidayUsageKL: row.BaselineHolidayUsageKL,
		MNFToleranceFactor:     row.MNFToleranceFactor,
		DecayPeriodsApplied:    row.DecayPeriodsApplied,
	}
	for i, s := range row.SeasonTags {
		p.SeasonTags[i] = models.Season(s)
	}
	if err := unmarshalJSONText(row.SignalFingerprint, &p.SignalFingerprint); err != nil {
		return p, fmt.Errorf("pattern %s signal_fingerprint: %w", row.PatternID, err)
	}
	if err := unmarshalJSONText(row.TimeFingerprint, &p.TimeFingerprint); err != nil {
		return p, fmt.Errorf("pattern %s time_fingerprint: %w", row.PatternID, err)
	}
	if err := unmarshalJSONText(row.RecurrenceRule, &p.RecurrenceRule); err != nil {
		return p, fmt.Errorf("pattern %s recurrence_rule: %w", row.PatternID, err)
	}
	return p, nil
}

func unmarshalJSONText(text types.JSONText, out any) error {
	if len(text) == 0 {
		return nil
	}
	return text.Unmarshal(out)
}

func removedIDs(before, after []models.Pattern) []string {
	kept := make(map[string]struct{}, len(after))
	for _, p := range after {
		kept[p.PatternID] = struct{}{}
	}
	var removed []string
	for _, p := range before {
		if _, ok := kept[p.PatternID]; !ok {
			removed = append(removed, p.PatternID)
		}
	}
	return removed
}

func clonePatterns(in []models.Pattern) []models.Pattern {
	out := make([]models.Pattern, len(in))
	copy(out, in)
	return out
}
