package entities

import (
	"sort"
	"strconv"
	"time"
)

// Fixed labels used when a spot or segment cannot be named.
const (
	UnclassifiedZone   = "未知分組"
	UnknownSegmentName = "未知路段"
)

// SpotStatus is the availability state reported by the provider.
type SpotStatus int

const (
	StatusUnknown SpotStatus = iota
	StatusOccupied
	StatusAvailable
	StatusDisabled
)

// SpotStatusFromCode maps the provider's numeric status code.
func SpotStatusFromCode(code int) SpotStatus {
	switch code {
	case 1:
		return StatusOccupied
	case 2:
		return StatusAvailable
	case 3:
		return StatusDisabled
	default:
		return StatusUnknown
	}
}

func (s SpotStatus) String() string {
	switch s {
	case StatusOccupied:
		return "occupied"
	case StatusAvailable:
		return "available"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

func (s SpotStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Zone is a named subset of a segment's spots.
type Zone struct {
	Name  string
	Spots map[string]struct{}
}

// NewZone builds a Zone from its member tokens.
func NewZone(name string, tokens ...string) Zone {
	z := Zone{Name: name, Spots: make(map[string]struct{}, len(tokens))}
	for _, t := range tokens {
		z.Spots[t] = struct{}{}
	}
	return z
}

func (z Zone) Contains(token string) bool {
	_, ok := z.Spots[token]
	return ok
}

// Segment is a street stretch tracked by the provider with its zone layout.
type Segment struct {
	ID    string
	Name  string
	Zones []Zone
}

// SegmentRef is a resolved segment with an optional zone restriction. An
// empty Zones slice means every zone of the segment is kept.
type SegmentRef struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Zones []string `json:"zones,omitempty"`
}

// SegmentInfo is one entry of the provider's segment directory.
type SegmentInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpotRecord is one spot as returned by the availability endpoint.
type SpotRecord struct {
	SpotID      string
	SegmentID   string
	Status      SpotStatus
	CollectedAt time.Time
}

// SpotNumber is the parsed spot-number token of a spot identifier.
// OK is false when the identifier has no recognisable number.
type SpotNumber struct {
	Token   string
	Numeric int
	OK      bool
}

func (n SpotNumber) String() string {
	if !n.OK {
		return "?"
	}
	return n.Token
}

// Less orders spot numbers by numeric portion, then by token.
func (n SpotNumber) Less(o SpotNumber) bool {
	if n.Numeric != o.Numeric {
		return n.Numeric < o.Numeric
	}
	return n.Token < o.Token
}

// ClassifiedSpot is an available spot placed in its segment and zone.
type ClassifiedSpot struct {
	SpotID      string `json:"spot_id"`
	SegmentID   string `json:"segment_id"`
	SegmentName string `json:"segment_name"`
	Zone        string `json:"zone"`
	Number      string `json:"number"`
}

// Snapshot is the set of available spots at one point in time, keyed by
// spot id.
type Snapshot map[string]ClassifiedSpot

// Diff returns the spots of s that are not in base, ordered by spot id.
func (s Snapshot) Diff(base Snapshot) []ClassifiedSpot {
	var out []ClassifiedSpot
	for id, spot := range s {
		if _, ok := base[id]; !ok {
			out = append(out, spot)
		}
	}
	sortClassified(out)
	return out
}

func sortClassified(spots []ClassifiedSpot) {
	sort.Slice(spots, func(i, j int) bool {
		return classifiedLess(spots[i], spots[j])
	})
}

func classifiedLess(a, b ClassifiedSpot) bool {
	if a.SegmentID != b.SegmentID {
		return a.SegmentID < b.SegmentID
	}
	an, aerr := strconv.Atoi(trimSuffixLetter(a.Number))
	bn, berr := strconv.Atoi(trimSuffixLetter(b.Number))
	if aerr == nil && berr == nil && an != bn {
		return an < bn
	}
	return a.SpotID < b.SpotID
}

func trimSuffixLetter(s string) string {
	if n := len(s); n > 0 && s[n-1] >= 'A' && s[n-1] <= 'Z' {
		return s[:n-1]
	}
	return s
}

// Resolution is the outcome of resolving a free-text query.
type Resolution struct {
	Query         string       `json:"query"`
	City          string       `json:"city"`
	CityName      string       `json:"city_name"`
	Fragment      string       `json:"fragment"`
	Segments      []SegmentRef `json:"segments"`
	Aggregate     bool         `json:"aggregate"`
	FromGazetteer bool         `json:"from_gazetteer"`
}
