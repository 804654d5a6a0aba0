package tables

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultTables(t *testing.T) {
	tb, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	refs, ok := tb.Lookup("明德路337巷")
	if !ok || len(refs) != 1 || refs[0].ID != "1124337" {
		t.Fatalf("Lookup(明德路337巷) = %+v, %v", refs, ok)
	}

	home, ok := tb.Lookup("回家")
	if !ok || len(home) != 9 {
		t.Fatalf("Lookup(回家) len = %d, want 9", len(home))
	}

	counted, _ := tb.Lookup("回家計次")
	for _, r := range counted {
		if len(r.Zones) == 0 {
			t.Errorf("回家計次 segment %s has no zone restriction", r.ID)
		}
	}

	if _, ok := tb.Lookup("青年公园"); !ok {
		t.Errorf("alias 青年公园 not found")
	}

	keys := tb.Keys()
	if len(keys) != 22 {
		t.Errorf("len(Keys()) = %d, want 22", len(keys))
	}
	if keys[0] != "明德路337巷" || keys[len(keys)-1] != "青年公園" {
		t.Errorf("Keys() order = %v", keys)
	}
}

func TestDefaultZoneMembership(t *testing.T) {
	tb, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		segment string
		token   string
		zone    string
	}{
		{"1124337", "12", "前段北護側"},
		{"1124337", "26", "前段北護側"},
		{"1124337", "43", "中段北護側"},
		{"114100A", "62A", "全聯一側"},
		{"40730A0", "10A", "國興國宅段"},
		{"4091000", "70", "公園一側"},
		{"4091000", "60", "最遠的網球段"},
		{"4091000", "63", "公園一側"},
		{"4091000", "73", "公園一側"},
		{"4091000", "77", "公園一側"},
		{"4091000", "80", "公園一側"},
		{"4091000", "66", "最遠的網球段"},
		{"4091000", "67", "最遠的網球段"},
		{"4091000", "78", "最遠的網球段"},
		{"4091000", "79", "最遠的網球段"},
	}
	for _, tt := range tests {
		var got string
		for _, z := range tb.Zones(tt.segment) {
			if z.Contains(tt.token) {
				got = z.Name
				break
			}
		}
		if got != tt.zone {
			t.Errorf("segment %s spot %s zone = %q, want %q", tt.segment, tt.token, got, tt.zone)
		}
	}

	if tb.Zones("1124337")[0].Contains("27") {
		t.Errorf("spot 27 should not be in 前段北護側")
	}
}

func TestZoneOrder(t *testing.T) {
	tb, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	if got := tb.ZoneOrder("1124337", "中段北護側"); got != 1 {
		t.Errorf("ZoneOrder = %d, want 1", got)
	}
	if got := tb.ZoneOrder("1124337", "未知分組"); got != 6 {
		t.Errorf("ZoneOrder(unknown) = %d, want 6", got)
	}
}

func TestParseRejectsOverlap(t *testing.T) {
	data := `
segments:
  - id: "S1"
    zones:
      - name: A
        spots: ["1-10"]
      - name: B
        spots: ["10", "11"]
places:
  - key: x
    segments: [{id: "S1"}]
`
	_, err := Parse([]byte(data), FormatYAML)
	if err == nil || !strings.Contains(err.Error(), "spot 10") {
		t.Fatalf("Parse() error = %v, want overlap on spot 10", err)
	}
}

func TestParseRejectsUnknownRestriction(t *testing.T) {
	data := `
segments:
  - id: "S1"
    zones:
      - name: A
        spots: ["1"]
places:
  - key: x
    segments: [{id: "S1", zones: [B]}]
  - key: y
    segments: [{id: "S2", zones: [A]}]
`
	_, err := Parse([]byte(data), FormatYAML)
	if err == nil {
		t.Fatal("Parse() error = nil")
	}
	for _, want := range []string{`no zone "B"`, "S2 restricts zones"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestExpandSpots(t *testing.T) {
	got, err := expandSpots([]string{"3-5", "062A", " 7 "})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"3", "4", "5", "62A", "7"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expandSpots = %v, want %v", got, want)
	}

	for _, bad := range []string{"9-3", "abc", "1234", "12a"} {
		if _, err := expandSpots([]string{bad}); err == nil {
			t.Errorf("expandSpots(%q) error = nil", bad)
		}
	}
}

func TestLoadTOML(t *testing.T) {
	data := `
version = "test"

[[segments]]
id = "S1"
name = "Test Road"

  [[segments.zones]]
  name = "North"
  spots = ["1-3", "4A"]

[[places]]
key = "test"
segments = [{ id = "S1", name = "Test Road", zones = ["North"] }]
`
	path := filepath.Join(t.TempDir(), "tables.toml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	tb, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if tb.Version() != "test" {
		t.Errorf("Version() = %q", tb.Version())
	}
	refs, ok := tb.Lookup("test")
	if !ok || refs[0].Zones[0] != "North" {
		t.Fatalf("Lookup(test) = %+v", refs)
	}
	if !tb.Zones("S1")[0].Contains("4A") {
		t.Errorf("zone North should contain 4A")
	}
	if name, _ := tb.SegmentName("S1"); name != "Test Road" {
		t.Errorf("SegmentName = %q", name)
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	tb, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	refs, _ := tb.Lookup("回家計次")
	refs[0].Zones[0] = "changed"
	again, _ := tb.Lookup("回家計次")
	if again[0].Zones[0] == "changed" {
		t.Fatal("Lookup exposed internal state")
	}
}
