package repository

import (
	"sort"
	"sync"
	"time"

	"parkwatch/internal/entities"
)

// MonitorRecord is a running or finished monitor held in the registry.
type MonitorRecord interface {
	ID() string
	View() entities.MonitorView
	Cancel()
}

// MonitorRepository is the in-memory registry of monitors.
type MonitorRepository struct {
	mu    sync.RWMutex
	items map[string]MonitorRecord
}

func NewMonitorRepository() *MonitorRepository {
	return &MonitorRepository{items: make(map[string]MonitorRecord)}
}

func (r *MonitorRepository) Add(m MonitorRecord) {
	r.mu.Lock()
	r.items[m.ID()] = m
	r.mu.Unlock()
}

func (r *MonitorRepository) Get(id string) (MonitorRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.items[id]
	return m, ok
}

// List returns views of all monitors, newest first. A non-empty state
// filters the result.
func (r *MonitorRepository) List(state entities.MonitorState) []entities.MonitorView {
	r.mu.RLock()
	views := make([]entities.MonitorView, 0, len(r.items))
	for _, m := range r.items {
		v := m.View()
		if state != "" && v.State != state {
			continue
		}
		views = append(views, v)
	}
	r.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		if !views[i].StartedAt.Equal(views[j].StartedAt) {
			return views[i].StartedAt.After(views[j].StartedAt)
		}
		return views[i].ID < views[j].ID
	})
	return views
}

// Sweep removes finished monitors that ended before cutoff and returns how
// many were removed.
func (r *MonitorRepository) Sweep(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, m := range r.items {
		v := m.View()
		if v.State.Terminal() && v.EndedAt != nil && v.EndedAt.Before(cutoff) {
			delete(r.items, id)
			removed++
		}
	}
	return removed
}

// Counts returns the number of monitors per state.
func (r *MonitorRepository) Counts() map[entities.MonitorState]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[entities.MonitorState]int)
	for _, m := range r.items {
		out[m.View().State]++
	}
	return out
}
