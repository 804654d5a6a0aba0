package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"parkwatch/internal/config"
	"parkwatch/internal/entities"
	perrors "parkwatch/internal/errors"
	"parkwatch/internal/logging"
	"parkwatch/internal/repository"
	"parkwatch/internal/retry"
)

// SnapshotSource returns the available spots for a query.
type SnapshotSource interface {
	Snapshot(ctx context.Context, query string) (entities.Snapshot, error)
}

// Monitor watches one query until a new spot shows up or its window ends.
type Monitor struct {
	id        string
	query     string
	recipient string
	startedAt time.Time
	deadline  time.Time
	done      chan struct{}

	mu            sync.Mutex
	state         entities.MonitorState
	endedAt       *time.Time
	polls         int
	baselineCount int
	newSpots      []entities.ClassifiedSpot
	lastErr       string
	cancel        context.CancelFunc
}

func (m *Monitor) ID() string { return m.id }

// Done is closed once the monitor has stopped and any notification was
// handed to the sender.
func (m *Monitor) Done() <-chan struct{} { return m.done }

func (m *Monitor) View() entities.MonitorView {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := entities.MonitorView{
		ID:            m.id,
		Query:         m.query,
		Recipient:     m.recipient,
		State:         m.state,
		StartedAt:     m.startedAt,
		Deadline:      m.deadline,
		Polls:         m.polls,
		BaselineCount: m.baselineCount,
		NewSpots:      append([]entities.ClassifiedSpot(nil), m.newSpots...),
		LastError:     m.lastErr,
	}
	if m.endedAt != nil {
		t := *m.endedAt
		v.EndedAt = &t
	}
	return v
}

// Cancel stops a running monitor. It is a no-op once the monitor finished.
func (m *Monitor) Cancel() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Monitor) setState(s entities.MonitorState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Monitor) recordPoll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls++
	if err != nil {
		m.lastErr = err.Error()
	}
}

func (m *Monitor) finish(state entities.MonitorState, at time.Time, err error, spots []entities.ClassifiedSpot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.endedAt = &at
	m.newSpots = spots
	if err != nil {
		m.lastErr = err.Error()
	}
}

// MonitorOption customizes a MonitorService.
type MonitorOption func(*MonitorService)

// WithMonitorClock replaces the wall clock and the poll sleep.
func WithMonitorClock(now func() time.Time, sleep retry.SleepFunc) MonitorOption {
	return func(s *MonitorService) {
		s.now = now
		s.sleep = sleep
	}
}

// WithMonitorIDs replaces the monitor id generator.
func WithMonitorIDs(next func() string) MonitorOption {
	return func(s *MonitorService) { s.newID = next }
}

// MonitorService starts and tracks monitors. Each monitor polls in its own
// goroutine whose lifetime is bound to the service, not to the request that
// started it.
type MonitorService struct {
	source SnapshotSource
	sender *SenderService
	repo   *repository.MonitorRepository
	cfg    config.MonitorConfig

	now   func() time.Time
	sleep retry.SleepFunc
	newID func() string

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	log     *logging.Logger
}

func NewMonitorService(source SnapshotSource, sender *SenderService, repo *repository.MonitorRepository, cfg config.MonitorConfig, log *logging.Logger, opts ...MonitorOption) *MonitorService {
	ctx, stop := context.WithCancel(context.Background())
	s := &MonitorService{
		source:  source,
		sender:  sender,
		repo:    repo,
		cfg:     cfg,
		now:     time.Now,
		sleep:   retry.Sleep,
		newID:   uuid.NewString,
		baseCtx: ctx,
		stop:    stop,
		log:     log.With("component", "monitor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// window applies the default and the ceiling to a requested duration.
func (s *MonitorService) window(requested time.Duration) (time.Duration, error) {
	switch {
	case requested < 0:
		return 0, perrors.New(perrors.InvalidRequest, "監控時間不可為負數。")
	case requested == 0:
		requested = s.cfg.DefaultDuration
	}
	if s.cfg.MaxDuration > 0 && requested > s.cfg.MaxDuration {
		requested = s.cfg.MaxDuration
	}
	return requested, nil
}

// Start takes the baseline synchronously and then polls in the background.
// A baseline failure is returned to the caller and the monitor is kept in
// the registry as failed.
func (s *MonitorService) Start(ctx context.Context, req entities.MonitorRequest) (*Monitor, error) {
	if err := s.sender.CheckRecipient(req.Recipient); err != nil {
		return nil, err
	}
	window, err := s.window(req.MaxDuration)
	if err != nil {
		return nil, err
	}

	started := s.now()
	m := &Monitor{
		id:        s.newID(),
		query:     strings.TrimSpace(req.Query),
		recipient: strings.TrimSpace(req.Recipient),
		startedAt: started,
		deadline:  started.Add(window),
		done:      make(chan struct{}),
		state:     entities.MonitorBaseline,
	}
	log := s.log.With("monitor", m.id)

	baseline, err := s.source.Snapshot(ctx, m.query)
	if err != nil {
		m.finish(entities.MonitorFailed, s.now(), err, nil)
		close(m.done)
		s.repo.Add(m)
		log.Warn("baseline failed", "query", m.query, "error", err)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	m.mu.Lock()
	m.baselineCount = len(baseline)
	m.state = entities.MonitorPolling
	m.cancel = cancel
	m.mu.Unlock()
	s.repo.Add(m)
	log.Info("monitor started", "query", m.query, "baseline", len(baseline), "window", window)

	s.wg.Add(1)
	go s.run(runCtx, m, baseline, window, log)
	return m, nil
}

func (s *MonitorService) run(ctx context.Context, m *Monitor, baseline entities.Snapshot, window time.Duration, log *logging.Logger) {
	defer s.wg.Done()
	defer close(m.done)
	defer func() {
		m.mu.Lock()
		cancel := m.cancel
		m.cancel = nil
		m.mu.Unlock()
		cancel()
	}()

	for {
		if err := s.sleep(ctx, s.cfg.Interval); err != nil {
			m.finish(entities.MonitorCancelled, s.now(), nil, nil)
			log.Info("monitor cancelled")
			return
		}

		current, err := s.source.Snapshot(ctx, m.query)
		m.recordPoll(err)
		switch {
		case err != nil && ctx.Err() != nil:
			m.finish(entities.MonitorCancelled, s.now(), nil, nil)
			log.Info("monitor cancelled")
			return
		case err != nil:
			log.Warn("poll failed", "error", err)
		default:
			if fresh := current.Diff(baseline); len(fresh) > 0 {
				m.finish(entities.MonitorNotified, s.now(), nil, fresh)
				log.Info("new spots found", "count", len(fresh))
				s.sender.Send(ctx, NewSpotsNotification(m.id, m.recipient, m.query, fresh))
				return
			}
		}

		if s.now().Sub(m.startedAt) >= window {
			m.finish(entities.MonitorTimedOut, s.now(), nil, nil)
			log.Info("monitor timed out")
			s.sender.Send(ctx, TimeoutNotification(m.id, m.recipient, m.query, window))
			return
		}
	}
}

// Get returns the current view of a monitor.
func (s *MonitorService) Get(id string) (entities.MonitorView, error) {
	m, ok := s.repo.Get(id)
	if !ok {
		return entities.MonitorView{}, perrors.New(perrors.NotFound, fmt.Sprintf("找不到監控 %s。", id))
	}
	return m.View(), nil
}

func (s *MonitorService) List(state entities.MonitorState) []entities.MonitorView {
	return s.repo.List(state)
}

// Cancel stops a running monitor and returns its view.
func (s *MonitorService) Cancel(id string) (entities.MonitorView, error) {
	m, ok := s.repo.Get(id)
	if !ok {
		return entities.MonitorView{}, perrors.New(perrors.NotFound, fmt.Sprintf("找不到監控 %s。", id))
	}
	m.Cancel()
	if mon, ok := m.(*Monitor); ok {
		<-mon.Done()
	}
	return m.View(), nil
}

// Sweep drops finished monitors older than the retention period.
func (s *MonitorService) Sweep() int {
	removed := s.repo.Sweep(s.now().Add(-s.cfg.Retention))
	if removed > 0 {
		s.log.Debug("monitor registry swept", "removed", removed)
	}
	return removed
}

// Shutdown cancels every running monitor and waits for them to stop.
func (s *MonitorService) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("monitors still running"), ctx.Err())
	}
}
