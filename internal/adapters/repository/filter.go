package repository

import (
	"github.com/dwellhq/dwell/internal/domain/model"
	"github.com/dwellhq/dwell/internal/domain/pricing"
)

// matchesFilters applies the hard filters to one listing in Go. It mirrors
// candidateQuery and backs the in-memory store.
func matchesFilters(f model.HardFilters, l model.Listing) bool {
	if f.Normalized() {
		if l.Price == nil {
			return false
		}
		total := pricing.RoundCents(pricing.TotalCost(*l.Price, l.PricePeriod, f.StayDurationDays))
		if total <= 0 {
			return false
		}
		if f.MinTotalCost != nil && total < *f.MinTotalCost {
			return false
		}
		if f.MaxTotalCost != nil && total > *f.MaxTotalCost {
			return false
		}
	} else if f.RawPriceFallback() {
		if l.Price == nil {
			return false
		}
		if f.MinPrice != nil && *l.Price < *f.MinPrice {
			return false
		}
		if f.MaxPrice != nil && *l.Price > *f.MaxPrice {
			return false
		}
	}

	if f.HasDateWindow() {
		latestStart, earliestEnd := f.AvailabilityWindow()
		if l.StartDate == nil || l.StartDate.After(latestStart) {
			return false
		}
		if l.EndDate == nil || l.EndDate.Before(earliestEnd) {
			return false
		}
	}

	if f.ListingType != nil && l.ListingType != *f.ListingType {
		return false
	}
	return true
}
