package patterns

import (
	"context"
	"errors"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
)

var (
	ErrPatternNotFound = errors.New("pattern not found")
	// ErrNoChange aborts a Mutate cycle without writing.
	ErrNoChange = errors.New("no pattern change")
)

// Store persists the false-alarm library. Mutate runs fn over the full table
// as one serialised read-modify-write cycle; concurrent callers never lose updates.
type Store interface {
	Load(ctx context.Context) ([]models.Pattern, error)
	Mutate(ctx context.Context, fn func(patterns []models.Pattern) ([]models.Pattern, error)) error
}

// MatchLog records pattern match decisions for auditing.
type MatchLog interface {
	Append(ctx context.Context, entry models.MatchLogEntry) error
	List(ctx context.Context, siteID string, limit int) ([]models.MatchLogEntry, error)
}

func indexOf(patterns []models.Pattern, id string) int {
	for i := range patterns {
		if patterns[i].PatternID == id {
			return i
		}
	}
	return -1
}
