package service

import (
	"fmt"
	"math"
	"sort"
	"time"

	"parkwatch/internal/entities"
	perrors "parkwatch/internal/errors"
)

// DefaultDisplayCap is the number of spots listed per zone.
const DefaultDisplayCap = 5

// AggregateInput is everything needed to build a report.
type AggregateInput struct {
	Resolution *entities.Resolution
	Records    []entities.SpotRecord
	Names      map[string]string
	Invalid    int
	Errors     map[string]*perrors.Error
	Now        time.Time
}

// Aggregator groups classified spots into a ranked report.
type Aggregator struct {
	classifier *SpotClassifier
	tables     ZoneTable
	displayCap int
}

func NewAggregator(classifier *SpotClassifier, tables ZoneTable, displayCap int) *Aggregator {
	if displayCap <= 0 {
		displayCap = DefaultDisplayCap
	}
	return &Aggregator{classifier: classifier, tables: tables, displayCap: displayCap}
}

type keptSpot struct {
	entities.ClassifiedSpot
	number entities.SpotNumber
	age    int
}

// sift classifies the available records that fall inside the resolution's
// scope and counts everything it leaves out.
func (a *Aggregator) sift(in AggregateInput, diag *entities.Diagnostics) []keptSpot {
	res := in.Resolution
	allowed := make(map[string]map[string]bool, len(res.Segments))
	for _, ref := range res.Segments {
		if len(ref.Zones) == 0 {
			allowed[ref.ID] = nil
			continue
		}
		set := make(map[string]bool, len(ref.Zones))
		for _, z := range ref.Zones {
			set[z] = true
		}
		allowed[ref.ID] = set
	}

	var kept []keptSpot
	for _, rec := range in.Records {
		if rec.Status != entities.StatusAvailable {
			diag.NonAvailable++
			continue
		}
		zones, inScope := allowed[rec.SegmentID]
		if !inScope {
			diag.Filtered++
			continue
		}
		cls := a.classifier.Classify(rec)
		if !cls.Parsed {
			diag.Unparseable++
			continue
		}
		if cls.Zone == entities.UnclassifiedZone {
			diag.Unclassified++
		}
		if zones != nil && !zones[cls.Zone] {
			diag.Filtered++
			continue
		}
		if res.Aggregate && cls.Zone == entities.UnclassifiedZone {
			diag.Filtered++
			continue
		}

		age := in.Now.Sub(rec.CollectedAt)
		if age < 0 {
			age = 0
		}
		kept = append(kept, keptSpot{
			ClassifiedSpot: entities.ClassifiedSpot{
				SpotID:      rec.SpotID,
				SegmentID:   rec.SegmentID,
				SegmentName: segmentName(rec.SegmentID, res, in.Names),
				Zone:        cls.Zone,
				Number:      cls.Number.Token,
			},
			number: cls.Number,
			age:    int(math.Round(age.Minutes())),
		})
	}
	return kept
}

// Snapshot returns the available in-scope spots keyed by spot id.
func (a *Aggregator) Snapshot(in AggregateInput) entities.Snapshot {
	var diag entities.Diagnostics
	snap := make(entities.Snapshot)
	for _, s := range a.sift(in, &diag) {
		snap[s.SpotID] = s.ClassifiedSpot
	}
	return snap
}

// Aggregate builds the report. It returns a NoAvailability error when no
// spot survives filtering.
func (a *Aggregator) Aggregate(in AggregateInput) (*entities.Report, error) {
	res := in.Resolution
	report := &entities.Report{
		Query:       res.Query,
		City:        res.City,
		CityName:    res.CityName,
		GeneratedAt: in.Now,
		Diagnostics: entities.Diagnostics{Invalid: in.Invalid},
	}
	if len(in.Errors) > 0 {
		report.Diagnostics.SegmentErrors = make(map[string]string, len(in.Errors))
		for id, e := range in.Errors {
			report.Diagnostics.SegmentErrors[id] = fmt.Sprintf("%s: %s", e.Kind, e.Message)
		}
	}

	kept := a.sift(in, &report.Diagnostics)

	order := make(map[string]int, len(res.Segments))
	for i, ref := range res.Segments {
		if _, dup := order[ref.ID]; !dup {
			order[ref.ID] = i
		}
	}

	bySegment := make(map[string]map[string][]keptSpot)
	for _, s := range kept {
		zones := bySegment[s.SegmentID]
		if zones == nil {
			zones = make(map[string][]keptSpot)
			bySegment[s.SegmentID] = zones
		}
		zones[s.Zone] = append(zones[s.Zone], s)
	}

	for segID, zones := range bySegment {
		seg := entities.SegmentReport{ID: segID, Name: segmentName(segID, res, in.Names)}
		for zoneName, spots := range zones {
			sort.Slice(spots, func(i, j int) bool {
				if spots[i].number != spots[j].number {
					return spots[i].number.Less(spots[j].number)
				}
				return spots[i].SpotID < spots[j].SpotID
			})
			zr := entities.ZoneReport{Name: zoneName, Count: len(spots)}
			for i, s := range spots {
				if i == a.displayCap {
					break
				}
				zr.Spots = append(zr.Spots, entities.SpotEntry{Number: s.Number, SpotID: s.SpotID, AgeMinutes: s.age})
			}
			seg.Total += zr.Count
			seg.Zones = append(seg.Zones, zr)
		}
		sort.Slice(seg.Zones, func(i, j int) bool {
			zi, zj := seg.Zones[i], seg.Zones[j]
			if zi.Count != zj.Count {
				return zi.Count > zj.Count
			}
			oi, oj := a.tables.ZoneOrder(segID, zi.Name), a.tables.ZoneOrder(segID, zj.Name)
			if oi != oj {
				return oi < oj
			}
			return zi.Name < zj.Name
		})
		report.Total += seg.Total
		report.Segments = append(report.Segments, seg)
	}

	sort.Slice(report.Segments, func(i, j int) bool {
		si, sj := report.Segments[i], report.Segments[j]
		if si.Total != sj.Total {
			return si.Total > sj.Total
		}
		return order[si.ID] < order[sj.ID]
	})

	if report.Total == 0 {
		return report, perrors.New(perrors.NoAvailability, fmt.Sprintf("目前 %s 無空車位資料，請稍後再試。", res.Query))
	}
	return report, nil
}

func segmentName(id string, res *entities.Resolution, names map[string]string) string {
	for _, ref := range res.Segments {
		if ref.ID == id && ref.Name != "" {
			return ref.Name
		}
	}
	if name := names[id]; name != "" {
		return name
	}
	return entities.UnknownSegmentName
}
