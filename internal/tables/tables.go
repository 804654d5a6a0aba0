// Package tables loads the gazetteer and per-segment zone layout.
//
// The artifact is read once at startup and is read-only afterwards; callers
// share a single *Tables by reference.
package tables

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"parkwatch/internal/entities"
)

//go:embed default_tables.yaml
var defaultTables []byte

// Format is the encoding of a tables artifact.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

type fileTables struct {
	Version  string        `yaml:"version" toml:"version"`
	Segments []fileSegment `yaml:"segments" toml:"segments"`
	Places   []filePlace   `yaml:"places" toml:"places"`
}

type fileSegment struct {
	ID    string     `yaml:"id" toml:"id"`
	Name  string     `yaml:"name" toml:"name"`
	Zones []fileZone `yaml:"zones" toml:"zones"`
}

type fileZone struct {
	Name  string   `yaml:"name" toml:"name"`
	Spots []string `yaml:"spots" toml:"spots"`
}

type filePlace struct {
	Key      string           `yaml:"key" toml:"key"`
	Aliases  []string         `yaml:"aliases" toml:"aliases"`
	Segments []filePlaceEntry `yaml:"segments" toml:"segments"`
}

type filePlaceEntry struct {
	ID    string   `yaml:"id" toml:"id"`
	Name  string   `yaml:"name" toml:"name"`
	Zones []string `yaml:"zones" toml:"zones"`
}

// Tables is the immutable gazetteer and zone lookup.
type Tables struct {
	version   string
	segments  map[string]entities.Segment
	zoneIndex map[string]map[string]int
	places    map[string][]entities.SegmentRef
	keys      []string
}

// Load reads the artifact at path, choosing YAML or TOML by extension. An
// empty path loads the embedded defaults.
func Load(path string) (*Tables, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tables file: %w", err)
	}
	format := FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = FormatTOML
	}
	t, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Default returns the embedded tables.
func Default() (*Tables, error) {
	return Parse(defaultTables, FormatYAML)
}

// Parse decodes and validates an artifact.
func Parse(data []byte, format Format) (*Tables, error) {
	var raw fileTables
	var err error
	switch format {
	case FormatTOML:
		err = toml.Unmarshal(data, &raw)
	case FormatYAML:
		err = yaml.Unmarshal(data, &raw)
	default:
		return nil, fmt.Errorf("unsupported tables format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing tables: %w", err)
	}
	return build(raw)
}

func build(raw fileTables) (*Tables, error) {
	t := &Tables{
		version:   raw.Version,
		segments:  make(map[string]entities.Segment, len(raw.Segments)),
		zoneIndex: make(map[string]map[string]int, len(raw.Segments)),
		places:    make(map[string][]entities.SegmentRef, len(raw.Places)),
	}
	var errs []error

	for _, fs := range raw.Segments {
		if fs.ID == "" {
			errs = append(errs, fmt.Errorf("segment %q: id is required", fs.Name))
			continue
		}
		if _, dup := t.segments[fs.ID]; dup {
			errs = append(errs, fmt.Errorf("segment %s: defined more than once", fs.ID))
			continue
		}

		seg := entities.Segment{ID: fs.ID, Name: fs.Name}
		index := make(map[string]int, len(fs.Zones))
		owner := make(map[string]string)
		for _, fz := range fs.Zones {
			if fz.Name == "" {
				errs = append(errs, fmt.Errorf("segment %s: zone name is required", fs.ID))
				continue
			}
			if _, dup := index[fz.Name]; dup {
				errs = append(errs, fmt.Errorf("segment %s: zone %q defined more than once", fs.ID, fz.Name))
				continue
			}
			tokens, err := expandSpots(fz.Spots)
			if err != nil {
				errs = append(errs, fmt.Errorf("segment %s zone %q: %w", fs.ID, fz.Name, err))
				continue
			}
			for _, tok := range tokens {
				if prev, taken := owner[tok]; taken && prev != fz.Name {
					errs = append(errs, fmt.Errorf("segment %s: spot %s is in both %q and %q", fs.ID, tok, prev, fz.Name))
					continue
				}
				owner[tok] = fz.Name
			}
			index[fz.Name] = len(seg.Zones)
			seg.Zones = append(seg.Zones, entities.NewZone(fz.Name, tokens...))
		}
		t.segments[fs.ID] = seg
		t.zoneIndex[fs.ID] = index
	}

	for _, fp := range raw.Places {
		if fp.Key == "" {
			errs = append(errs, errors.New("place key is required"))
			continue
		}
		if len(fp.Segments) == 0 {
			errs = append(errs, fmt.Errorf("place %q: at least one segment is required", fp.Key))
			continue
		}
		refs := make([]entities.SegmentRef, 0, len(fp.Segments))
		for _, e := range fp.Segments {
			if e.ID == "" {
				errs = append(errs, fmt.Errorf("place %q: segment id is required", fp.Key))
				continue
			}
			if len(e.Zones) > 0 {
				index, known := t.zoneIndex[e.ID]
				if !known {
					errs = append(errs, fmt.Errorf("place %q: segment %s restricts zones but has no zone table", fp.Key, e.ID))
					continue
				}
				for _, z := range e.Zones {
					if _, ok := index[z]; !ok {
						errs = append(errs, fmt.Errorf("place %q: segment %s has no zone %q", fp.Key, e.ID, z))
					}
				}
			}
			name := e.Name
			if name == "" {
				name = t.segments[e.ID].Name
			}
			refs = append(refs, entities.SegmentRef{
				ID:    e.ID,
				Name:  name,
				Zones: append([]string(nil), e.Zones...),
			})
		}
		for _, key := range append([]string{fp.Key}, fp.Aliases...) {
			if _, dup := t.places[key]; dup {
				errs = append(errs, fmt.Errorf("place %q: defined more than once", key))
				continue
			}
			t.places[key] = refs
		}
		t.keys = append(t.keys, fp.Key)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid tables: %w", errors.Join(errs...))
	}
	return t, nil
}

var (
	tokenPattern = regexp.MustCompile(`^(\d{1,3})([A-Z]?)$`)
	rangePattern = regexp.MustCompile(`^(\d{1,3})\s*-\s*(\d{1,3})$`)
)

// expandSpots turns spot entries into normalised tokens. An entry is either a
// token ("7", "62A") or an inclusive range ("1-26").
func expandSpots(entries []string) ([]string, error) {
	var out []string
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if m := rangePattern.FindStringSubmatch(entry); m != nil {
			lo, _ := strconv.Atoi(m[1])
			hi, _ := strconv.Atoi(m[2])
			if lo > hi {
				return nil, fmt.Errorf("range %q is reversed", raw)
			}
			for n := lo; n <= hi; n++ {
				out = append(out, strconv.Itoa(n))
			}
			continue
		}
		m := tokenPattern.FindStringSubmatch(entry)
		if m == nil {
			return nil, fmt.Errorf("invalid spot %q", raw)
		}
		n, _ := strconv.Atoi(m[1])
		out = append(out, strconv.Itoa(n)+m[2])
	}
	return out, nil
}

// Version is the artifact revision label.
func (t *Tables) Version() string {
	return t.version
}

// Lookup returns the segments of a gazetteer key or alias.
func (t *Tables) Lookup(key string) ([]entities.SegmentRef, bool) {
	refs, ok := t.places[key]
	if !ok {
		return nil, false
	}
	out := make([]entities.SegmentRef, len(refs))
	for i, r := range refs {
		out[i] = entities.SegmentRef{ID: r.ID, Name: r.Name, Zones: append([]string(nil), r.Zones...)}
	}
	return out, true
}

// Keys lists the canonical gazetteer keys in artifact order.
func (t *Tables) Keys() []string {
	return append([]string(nil), t.keys...)
}

// Segment returns the zone layout of a segment.
func (t *Tables) Segment(id string) (entities.Segment, bool) {
	s, ok := t.segments[id]
	return s, ok
}

// Zones returns the zones of a segment in configured order. Zone sets are
// shared and must not be modified.
func (t *Tables) Zones(segmentID string) []entities.Zone {
	return t.segments[segmentID].Zones
}

// ZoneOrder is the configured position of a zone within its segment.
// Unknown zones, including the unclassified zone, sort after all others.
func (t *Tables) ZoneOrder(segmentID, zone string) int {
	if i, ok := t.zoneIndex[segmentID][zone]; ok {
		return i
	}
	return len(t.segments[segmentID].Zones)
}

// SegmentName returns the configured display name of a segment.
func (t *Tables) SegmentName(id string) (string, bool) {
	s, ok := t.segments[id]
	if !ok || s.Name == "" {
		return "", false
	}
	return s.Name, true
}

// Stats summarises the artifact for operators.
type Stats struct {
	Version  string `json:"version"`
	Segments int    `json:"segments"`
	Places   int    `json:"places"`
}

func (t *Tables) Stats() Stats {
	return Stats{Version: t.version, Segments: len(t.segments), Places: len(t.keys)}
}
