package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
)

// SnapshotRepository keeps each site's frozen caches in two Redis hashes keyed
// by date. Fields are only ever added, so a frozen day can never be rewritten.
type SnapshotRepository struct {
	redisClient *redis.Client
}

func NewSnapshotRepository(redisClient *redis.Client) *SnapshotRepository {
	return &SnapshotRepository{redisClient: redisClient}
}

func signalKey(siteID string) string {
	return "leak:snapshots:signal:" + siteID
}

func confidenceKey(siteID string) string {
	return "leak:snapshots:confidence:" + siteID
}

func (r *SnapshotRepository) Load(ctx context.Context, siteID string) (models.FrozenCaches, error) {
	out := models.NewFrozenCaches()

	signals, err := r.redisClient.HGetAll(ctx, signalKey(siteID)).Result()
	if err != nil {
		return out, fmt.Errorf("failed to load signal snapshots for %s: %w", siteID, err)
	}
	confidence, err := r.redisClient.HGetAll(ctx, confidenceKey(siteID)).Result()
	if err != nil {
		return out, fmt.Errorf("failed to load confidence snapshots for %s: %w", siteID, err)
	}
	if err := decodeSnapshots(signals, confidence, &out); err != nil {
		return models.NewFrozenCaches(), fmt.Errorf("site %s: %w", siteID, err)
	}
	return out, nil
}

// Save adds every date not yet frozen for the site.
func (r *SnapshotRepository) Save(ctx context.Context, siteID string, caches models.FrozenCaches) error {
	signals, confidence, err := encodeSnapshots(caches)
	if err != nil {
		return err
	}
	pipe := r.redisClient.Pipeline()
	for date, body := range signals {
		pipe.HSetNX(ctx, signalKey(siteID), date, body)
	}
	for date, v := range confidence {
		pipe.HSetNX(ctx, confidenceKey(siteID), date, v)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save snapshots for %s: %w", siteID, err)
	}
	slog.Info("Saved frozen snapshots", "site_id", siteID, "signals", len(signals), "confidence", len(confidence))
	return nil
}

func encodeSnapshots(caches models.FrozenCaches) (map[string]string, map[string]string, error) {
	signals := make(map[string]string, len(caches.Signals))
	for date, snap := range caches.Signals {
		body, err := json.Marshal(snap)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal snapshot %s: %w", date, err)
		}
		signals[date] = string(body)
	}
	confidence := make(map[string]string, len(caches.Confidence))
	for date, v := range caches.Confidence {
		confidence[date] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return signals, confidence, nil
}

func decodeSnapshots(signals, confidence map[string]string, out *models.FrozenCaches) error {
	for date, body := range signals {
		var snap models.SignalSnapshot
		if err := json.Unmarshal([]byte(body), &snap); err != nil {
			return fmt.Errorf("invalid signal snapshot %s: %w", date, err)
		}
		out.Signals[date] = snap
	}
	for date, raw := range confidence {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid confidence snapshot %s: %w", date, err)
		}
		out.Confidence[date] = v
	}
	return nil
}
