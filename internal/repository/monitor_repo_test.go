package repository

import (
	"testing"
	"time"

	"parkwatch/internal/entities"
)

type stubMonitor struct {
	view      entities.MonitorView
	cancelled bool
}

func (s *stubMonitor) ID() string                 { return s.view.ID }
func (s *stubMonitor) View() entities.MonitorView { return s.view }
func (s *stubMonitor) Cancel()                    { s.cancelled = true }

func TestMonitorRepositoryListAndSweep(t *testing.T) {
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	ended := base.Add(10 * time.Minute)

	repo := NewMonitorRepository()
	repo.Add(&stubMonitor{view: entities.MonitorView{ID: "a", State: entities.MonitorNotified, StartedAt: base, EndedAt: &ended}})
	repo.Add(&stubMonitor{view: entities.MonitorView{ID: "b", State: entities.MonitorPolling, StartedAt: base.Add(time.Minute)}})
	repo.Add(&stubMonitor{view: entities.MonitorView{ID: "c", State: entities.MonitorTimedOut, StartedAt: base.Add(2 * time.Minute), EndedAt: &ended}})

	all := repo.List("")
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("List() order = %v", ids(all))
	}
	if polling := repo.List(entities.MonitorPolling); len(polling) != 1 || polling[0].ID != "b" {
		t.Fatalf("List(polling) = %v", ids(polling))
	}
	if got := repo.Counts()[entities.MonitorNotified]; got != 1 {
		t.Fatalf("Counts()[notified] = %d", got)
	}

	if n := repo.Sweep(ended); n != 0 {
		t.Fatalf("Sweep(at end) removed %d, want 0", n)
	}
	if n := repo.Sweep(ended.Add(time.Second)); n != 2 {
		t.Fatalf("Sweep() removed %d, want 2", n)
	}
	if _, ok := repo.Get("b"); !ok {
		t.Fatal("running monitor was swept")
	}
	if _, ok := repo.Get("a"); ok {
		t.Fatal("finished monitor was kept")
	}
}

func ids(views []entities.MonitorView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}

func TestAdminAuthRepository(t *testing.T) {
	repo := NewAdminAuthRepository("ops", "hash")
	admin, err := repo.GetByUsername("ops")
	if err != nil || admin == nil || admin.PasswordHash != "hash" {
		t.Fatalf("GetByUsername(ops) = %+v, %v", admin, err)
	}
	if admin, err := repo.GetByUsername("other"); err != nil || admin != nil {
		t.Fatalf("GetByUsername(other) = %+v, %v", admin, err)
	}
	if _, err := NewAdminAuthRepository("", "").GetByUsername("ops"); err != ErrNoAdmin {
		t.Fatalf("disabled repo error = %v, want ErrNoAdmin", err)
	}
}
