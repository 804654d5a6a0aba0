package entities

import "time"

// Report is the aggregated availability for one query.
type Report struct {
	Query       string          `json:"query"`
	City        string          `json:"city"`
	CityName    string          `json:"city_name"`
	GeneratedAt time.Time       `json:"generated_at"`
	Total       int             `json:"total"`
	Segments    []SegmentReport `json:"segments"`
	Diagnostics Diagnostics     `json:"diagnostics"`
}

type SegmentReport struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Total int          `json:"total"`
	Zones []ZoneReport `json:"zones"`
}

// ZoneReport lists at most the display cap of spots; Count is the full total.
type ZoneReport struct {
	Name  string      `json:"name"`
	Count int         `json:"count"`
	Spots []SpotEntry `json:"spots"`
}

type SpotEntry struct {
	Number     string `json:"number"`
	SpotID     string `json:"spot_id"`
	AgeMinutes int    `json:"age_minutes"`
}

// Diagnostics counts records left out of the grouped output.
type Diagnostics struct {
	NonAvailable  int               `json:"non_available"`
	Unparseable   int               `json:"unparseable"`
	Unclassified  int               `json:"unclassified"`
	Filtered      int               `json:"filtered"`
	Invalid       int               `json:"invalid"`
	SegmentErrors map[string]string `json:"segment_errors,omitempty"`
}

// AvailabilityResponse is the API body for a parking query.
type AvailabilityResponse struct {
	Available bool    `json:"available"`
	Message   string  `json:"message,omitempty"`
	Text      string  `json:"text,omitempty"`
	Report    *Report `json:"report,omitempty"`
}
