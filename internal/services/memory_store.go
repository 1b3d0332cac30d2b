package services

import (
	"context"
	"sync"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
)

// MemorySnapshotStore keeps frozen caches in process. Dates already frozen
// are never overwritten.
type MemorySnapshotStore struct {
	mu    sync.Mutex
	sites map[string]models.FrozenCaches
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{sites: make(map[string]models.FrozenCaches)}
}

func (m *MemorySnapshotStore) Load(_ context.Context, siteID string) (models.FrozenCaches, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	caches, ok := m.sites[siteID]
	if !ok {
		return models.NewFrozenCaches(), nil
	}
	return caches.Clone(), nil
}

func (m *MemorySnapshotStore) Save(_ context.Context, siteID string, caches models.FrozenCaches) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sites[siteID]
	if !ok {
		current = models.NewFrozenCaches()
	}
	for k, v := range caches.Signals {
		if _, frozen := current.Signals[k]; !frozen {
			current.Signals[k] = v
		}
	}
	for k, v := range caches.Confidence {
		if _, frozen := current.Confidence[k]; !frozen {
			current.Confidence[k] = v
		}
	}
	m.sites[siteID] = current
	return nil
}
