package entities

import "time"

// MonitorState is the lifecycle state of a monitor.
type MonitorState string

const (
	MonitorIdle      MonitorState = "idle"
	MonitorBaseline  MonitorState = "baseline"
	MonitorPolling   MonitorState = "polling"
	MonitorNotified  MonitorState = "notified"
	MonitorTimedOut  MonitorState = "timed_out"
	MonitorFailed    MonitorState = "failed"
	MonitorCancelled MonitorState = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s MonitorState) Terminal() bool {
	switch s {
	case MonitorNotified, MonitorTimedOut, MonitorFailed, MonitorCancelled:
		return true
	default:
		return false
	}
}

// MonitorRequest asks to watch a query until a new spot appears.
type MonitorRequest struct {
	Query       string
	Recipient   string
	MaxDuration time.Duration
}

// MonitorView is a point-in-time copy of a monitor's state.
type MonitorView struct {
	ID            string           `json:"id"`
	Query         string           `json:"query"`
	Recipient     string           `json:"recipient"`
	State         MonitorState     `json:"state"`
	StartedAt     time.Time        `json:"started_at"`
	Deadline      time.Time        `json:"deadline"`
	EndedAt       *time.Time       `json:"ended_at,omitempty"`
	Polls         int              `json:"polls"`
	BaselineCount int              `json:"baseline_count"`
	NewSpots      []ClassifiedSpot `json:"new_spots,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
}

// Notification is a message queued for delivery to a recipient.
type Notification struct {
	MonitorID string
	Recipient string
	Subject   string
	Text      string
}
