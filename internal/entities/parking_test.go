package entities

import "testing"

func TestSpotStatusFromCode(t *testing.T) {
	tests := []struct {
		code int
		want SpotStatus
	}{
		{1, StatusOccupied},
		{2, StatusAvailable},
		{3, StatusDisabled},
		{0, StatusUnknown},
		{9, StatusUnknown},
	}
	for _, tt := range tests {
		if got := SpotStatusFromCode(tt.code); got != tt.want {
			t.Errorf("SpotStatusFromCode(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestSnapshotDiff(t *testing.T) {
	base := Snapshot{
		"A1": {SpotID: "A1", SegmentID: "S", Number: "1"},
	}
	current := Snapshot{
		"A1":   {SpotID: "A1", SegmentID: "S", Number: "1"},
		"A10":  {SpotID: "A10", SegmentID: "S", Number: "10"},
		"A061": {SpotID: "A061A", SegmentID: "S", Number: "61A"},
		"A2":   {SpotID: "A2", SegmentID: "S", Number: "2"},
	}

	got := current.Diff(base)
	want := []string{"2", "10", "61A"}
	if len(got) != len(want) {
		t.Fatalf("Diff() len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Number != w {
			t.Errorf("Diff()[%d].Number = %q, want %q", i, got[i].Number, w)
		}
	}
	if len(base.Diff(current)) != 0 {
		t.Errorf("base.Diff(current) should be empty")
	}
}

func TestSpotNumberLess(t *testing.T) {
	a := SpotNumber{Token: "62", Numeric: 62, OK: true}
	b := SpotNumber{Token: "62A", Numeric: 62, OK: true}
	c := SpotNumber{Token: "9", Numeric: 9, OK: true}
	if !a.Less(b) || b.Less(a) {
		t.Errorf("62 should sort before 62A")
	}
	if !c.Less(a) {
		t.Errorf("9 should sort before 62")
	}
}

func TestMonitorStateTerminal(t *testing.T) {
	for _, s := range []MonitorState{MonitorNotified, MonitorTimedOut, MonitorFailed, MonitorCancelled} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false", s)
		}
	}
	for _, s := range []MonitorState{MonitorIdle, MonitorBaseline, MonitorPolling} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true", s)
		}
	}
}
