// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// PricePeriod is the billing period a price is quoted in.
type PricePeriod string

// Supported price periods. PeriodUnknown marks unset or unrecognised periods.
const (
	PeriodUnknown PricePeriod = ""
	PeriodDay     PricePeriod = "day"
	PeriodWeek    PricePeriod = "week"
	PeriodMonth   PricePeriod = "month"
)

// periodAliases maps the spellings found on listing sites to a canonical period.
var periodAliases = map[string]PricePeriod{ //nolint:gochecknoglobals // read-only lookup table
	"day":     PeriodDay,
	"night":   PeriodDay,
	"daily":   PeriodDay,
	"week":    PeriodWeek,
	"wk":      PeriodWeek,
	"weekly":  PeriodWeek,
	"month":   PeriodMonth,
	"mo":      PeriodMonth,
	"monthly": PeriodMonth,
}

// ParsePricePeriod normalizes s to a PricePeriod. Unknown values map to PeriodUnknown.
func ParsePricePeriod(s string) PricePeriod {
	return periodAliases[strings.ToLower(strings.TrimSpace(s))]
}

// Valid reports whether p is one of day, week or month.
func (p PricePeriod) Valid() bool {
	return p == PeriodDay || p == PeriodWeek || p == PeriodMonth
}

// ListingType classifies what is being rented.
type ListingType string

// Supported listing types.
const (
	ListingSublet      ListingType = "sublet"
	ListingRental      ListingType = "rental"
	ListingRoom        ListingType = "room"
	ListingEntirePlace ListingType = "entire_place"
)

// Valid reports whether t is a known listing type.
func (t ListingType) Valid() bool {
	switch t {
	case ListingSublet, ListingRental, ListingRoom, ListingEntirePlace:
		return true
	default:
		return false
	}
}

// Listing is an ingested rental listing. Listings are owned by the ingestion
// subsystem and treated as read-only here.
type Listing struct {
	ID               string      `json:"id"`
	URL              string      `json:"url"`
	Title            string      `json:"title"`
	Price            *float64    `json:"price,omitempty"`
	PricePeriod      PricePeriod `json:"price_period"`
	StartDate        *time.Time  `json:"start_date,omitempty"`
	EndDate          *time.Time  `json:"end_date,omitempty"`
	ListingType      ListingType `json:"listing_type"`
	Neighborhood     string      `json:"neighborhood,omitempty"`
	BriefDescription string      `json:"brief_description,omitempty"`
	FullDescription  string      `json:"full_description,omitempty"`
	ContactName      string      `json:"contact_name,omitempty"`
	SourceSite       string      `json:"source_site"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Description returns the most complete description available.
func (l *Listing) Description() string {
	if strings.TrimSpace(l.FullDescription) != "" {
		return l.FullDescription
	}
	return l.BriefDescription
}
