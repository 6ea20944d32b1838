package repository

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dwellhq/dwell/internal/domain/model"
)

const listingColumns = `l.id, l.url, l.title, l.price, l.price_period, l.start_date, l.end_date,
	l.listing_type, l.neighborhood, l.brief_description, l.full_description, l.contact_name,
	l.source_site, l.created_at`

// queryArgs numbers positional parameters as they are added.
type queryArgs []any

func (a *queryArgs) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

// candidateQuery builds the candidate selection SQL for userID. Listing
// totals use the same per-period formula as pricing.TotalCost, with the day
// multipliers passed as parameters and the result rounded to cents.
func candidateQuery(f model.HardFilters, userID string, limit int) (string, []any) {
	var args queryArgs
	var b strings.Builder

	fmt.Fprintf(&b, `SELECT %s
FROM listings l
LEFT JOIN listing_evaluations e ON e.listing_id = l.id AND e.user_id = %s
WHERE e.id IS NULL`, listingColumns, args.add(userID))

	switch {
	case f.Normalized():
		d := float64(f.StayDurationDays)
		total := fmt.Sprintf(
			"ROUND((CASE l.price_period WHEN 'day' THEN l.price * %s WHEN 'week' THEN l.price * %s WHEN 'month' THEN l.price * %s END)::numeric, 2)",
			args.add(d), args.add(d/7), args.add(d/30))
		fmt.Fprintf(&b, "\n  AND %s > 0", total)
		if f.MinTotalCost != nil {
			fmt.Fprintf(&b, "\n  AND %s >= %s", total, args.add(*f.MinTotalCost))
		}
		if f.MaxTotalCost != nil {
			fmt.Fprintf(&b, "\n  AND %s <= %s", total, args.add(*f.MaxTotalCost))
		}
	case f.RawPriceFallback():
		if f.MinPrice != nil {
			fmt.Fprintf(&b, "\n  AND l.price >= %s", args.add(*f.MinPrice))
		}
		if f.MaxPrice != nil {
			fmt.Fprintf(&b, "\n  AND l.price <= %s", args.add(*f.MaxPrice))
		}
	}

	if f.HasDateWindow() {
		latestStart, earliestEnd := f.AvailabilityWindow()
		fmt.Fprintf(&b, "\n  AND l.start_date <= %s\n  AND l.end_date >= %s", args.add(latestStart), args.add(earliestEnd))
	}

	if f.ListingType != nil {
		fmt.Fprintf(&b, "\n  AND l.listing_type = %s", args.add(string(*f.ListingType)))
	}

	fmt.Fprintf(&b, "\nORDER BY l.created_at DESC, l.id DESC\nLIMIT %s", args.add(limit))
	return b.String(), args
}
