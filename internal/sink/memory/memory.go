// Package memory provides an in-process HotStore. It backs local runs
// without external dependencies and the package tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loglens/loglens/internal/model"
)

type HotStore struct {
	mu     sync.RWMutex
	events map[string]model.LogEvent
}

func NewHotStore() *HotStore {
	return &HotStore{events: make(map[string]model.LogEvent)}
}

// Upsert stores the event keyed by ID. Replaying the same ID overwrites the
// identical row, so the visible state never changes.
func (s *HotStore) Upsert(_ context.Context, ev model.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID] = ev
	return nil
}

// QueryWindow scans for events with timestamp in [start, end), sorted by
// timestamp then ID for a deterministic order.
func (s *HotStore) QueryWindow(_ context.Context, service string, start, end time.Time) ([]model.LogEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.LogEvent
	for _, ev := range s.events {
		if service != "" && ev.Service != service {
			continue
		}
		if ev.Timestamp.Before(start) || !ev.Timestamp.Before(end) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Len returns the number of distinct events stored.
func (s *HotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
