package service

import (
	"parkwatch/internal/entities"
	"parkwatch/internal/utils"
)

// ZoneTable exposes the configured zones of each segment.
type ZoneTable interface {
	Zones(segmentID string) []entities.Zone
	ZoneOrder(segmentID, zone string) int
}

// Classification is the zone placement of one spot. Parsed is false when the
// spot id carries no spot number; Zone is empty in that case.
type Classification struct {
	Number entities.SpotNumber
	Zone   string
	Parsed bool
}

// SpotClassifier places spots into zones by spot-number token.
type SpotClassifier struct {
	tables ZoneTable
}

func NewSpotClassifier(tables ZoneTable) *SpotClassifier {
	return &SpotClassifier{tables: tables}
}

// Classify returns the first zone, in configured order, containing the spot's
// number, or the unclassified zone when none does.
func (c *SpotClassifier) Classify(rec entities.SpotRecord) Classification {
	num := utils.ParseSpotNumber(rec.SpotID, rec.SegmentID)
	if !num.OK {
		return Classification{Number: num}
	}
	for _, z := range c.tables.Zones(rec.SegmentID) {
		if z.Contains(num.Token) {
			return Classification{Number: num, Zone: z.Name, Parsed: true}
		}
	}
	return Classification{Number: num, Zone: entities.UnclassifiedZone, Parsed: true}
}
