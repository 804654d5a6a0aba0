package utils

import (
	"regexp"
	"strconv"
	"strings"

	"parkwatch/internal/entities"
)

// Spot numbers are the last one to three digits of the identifier, optionally
// followed by one uppercase letter.
var spotNumberPattern = regexp.MustCompile(`(\d{1,3})([A-Z]?)$`)

// ParseSpotNumber extracts the spot-number token from a provider spot id.
// The segment id prefix is stripped when present. Leading zeros are dropped
// ("062A" becomes "62A"). It never fails; identifiers without a trailing
// number, including one that is only the segment id, yield a SpotNumber
// with OK false.
func ParseSpotNumber(spotID, segmentID string) entities.SpotNumber {
	rest := strings.TrimSpace(spotID)
	if segmentID != "" && strings.HasPrefix(rest, segmentID) {
		rest = rest[len(segmentID):]
		if rest == "" {
			return entities.SpotNumber{}
		}
	}

	m := spotNumberPattern.FindStringSubmatch(rest)
	if m == nil {
		return entities.SpotNumber{}
	}

	digits := strings.TrimLeft(m[1], "0")
	if digits == "" {
		digits = "0"
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return entities.SpotNumber{}
	}
	return entities.SpotNumber{Token: digits + m[2], Numeric: n, OK: true}
}
