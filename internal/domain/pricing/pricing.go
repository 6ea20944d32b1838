// Package pricing converts listing prices between billing periods and
// derives the total-cost bounds used by candidate selection.
package pricing

import (
	"math"

	"github.com/dwellhq/dwell/internal/domain/model"
)

// Days per billing period used by TotalCost.
const (
	daysPerWeek  = 7.0
	daysPerMonth = 30.0
)

// TotalCost returns the cost of staying durationDays at price per period.
// It returns 0 when the price, period or duration is unusable; callers must
// read 0 as unknown rather than free.
func TotalCost(price float64, period model.PricePeriod, durationDays int) float64 {
	if price <= 0 || durationDays <= 0 {
		return 0
	}
	d := float64(durationDays)
	switch period {
	case model.PeriodDay:
		return price * d
	case model.PeriodWeek:
		return price * (d / daysPerWeek)
	case model.PeriodMonth:
		return price * (d / daysPerMonth)
	default:
		return 0
	}
}

// RoundCents rounds v to two decimals.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Bounds converts a user's price preference into total-cost bounds for a stay
// of durationDays. Each bound is nil when the matching preference is nil or
// cannot be converted.
func Bounds(minPrice, maxPrice *float64, period model.PricePeriod, durationDays int) (minTotal, maxTotal *float64) {
	conv := func(p *float64) *float64 {
		if p == nil || !period.Valid() || durationDays <= 0 {
			return nil
		}
		if *p == 0 {
			zero := 0.0
			return &zero
		}
		v := TotalCost(*p, period, durationDays)
		if v == 0 {
			return nil
		}
		v = RoundCents(v)
		return &v
	}
	return conv(minPrice), conv(maxPrice)
}

// Filters builds the hard filter bundle for u. Total-cost bounds are only
// filled when the user has a positive stay duration.
func Filters(u model.User) model.HardFilters {
	f := model.HardFilters{
		MinPrice:            u.MinPrice,
		MaxPrice:            u.MaxPrice,
		PricePeriod:         u.PricePeriod,
		PreferredStartDate:  u.PreferredStartDate,
		PreferredEndDate:    u.PreferredEndDate,
		DateFlexibilityDays: max(u.DateFlexibilityDays, 0),
		ListingType:         u.PreferredListingType,
	}
	if days, ok := u.StayDurationDays(); ok {
		f.StayDurationDays = days
		f.MinTotalCost, f.MaxTotalCost = Bounds(u.MinPrice, u.MaxPrice, u.PricePeriod, days)
	}
	return f
}
