package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/patterns"
)

// PatternMatchRepository stores the pattern match audit trail. It implements patterns.MatchLog.
type PatternMatchRepository struct {
	db *sqlx.DB
}

func NewPatternMatchRepository(db *sqlx.DB) *PatternMatchRepository {
	return &PatternMatchRepository{db: db}
}

var _ patterns.MatchLog = (*PatternMatchRepository)(nil)

func (r *PatternMatchRepository) Append(ctx context.Context, entry models.MatchLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	query := `
		INSERT INTO pattern_match_log (id, matched_at, incident_id, pattern_id, match_score, action_taken, site_id)
		VALUES (:id, :matched_at, :incident_id, :pattern_id, :match_score, :action_taken, :site_id)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		slog.Error("Failed to insert pattern match", "pattern_id", entry.PatternID, "error", err)
		return fmt.Errorf("failed to insert pattern match: %w", err)
	}
	return nil
}

// List returns the newest entries first, optionally filtered by site. A
// non-positive limit returns everything.
func (r *PatternMatchRepository) List(ctx context.Context, siteID string, limit int) ([]models.MatchLogEntry, error) {
	query, args := matchLogQuery(siteID, limit)
	var entries []models.MatchLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list pattern matches: %w", err)
	}
	return entries, nil
}

func matchLogQuery(siteID string, limit int) (string, []any) {
	query := `SELECT id, matched_at, incident_id, pattern_id, match_score, action_taken, site_id FROM pattern_match_log`
	var args []any
	if siteID != "" {
		args = append(args, siteID)
		query += fmt.Sprintf(" WHERE site_id = $%d", len(args))
	}
	query += " ORDER BY matched_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}
