package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/dwellhq/dwell/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCandidateQuery(t *testing.T) {
	Convey("Given filters for a 14 day stay with total cost bounds", t, func() {
		lo, hi := 1400.0, 2450.0
		start := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 0, 14)
		room := model.ListingRoom
		f := model.HardFilters{
			StayDurationDays:    14,
			MinTotalCost:        &lo,
			MaxTotalCost:        &hi,
			PreferredStartDate:  &start,
			PreferredEndDate:    &end,
			DateFlexibilityDays: 2,
			ListingType:         &room,
		}

		Convey("When the query is built", func() {
			sql, args := candidateQuery(f, "u1", 25)

			Convey("Then it should exclude evaluated listings for the user", func() {
				So(sql, ShouldContainSubstring, "e.user_id = $1")
				So(sql, ShouldContainSubstring, "WHERE e.id IS NULL")
			})

			Convey("Then it should compare normalized totals, not raw prices", func() {
				So(sql, ShouldContainSubstring, "WHEN 'week' THEN l.price * $3")
				So(sql, ShouldContainSubstring, ">= $5")
				So(sql, ShouldContainSubstring, "<= $6")
				So(sql, ShouldNotContainSubstring, "l.price >=")
			})

			Convey("Then it should widen the date window and bind parameters in order", func() {
				So(sql, ShouldContainSubstring, "l.start_date <= $7")
				So(sql, ShouldContainSubstring, "l.end_date >= $8")
				So(sql, ShouldContainSubstring, "l.listing_type = $9")
				So(strings.HasSuffix(sql, "LIMIT $10"), ShouldBeTrue)
				So(len(args), ShouldEqual, 10)
				So(args[0], ShouldEqual, "u1")
				So(args[1], ShouldEqual, 14.0)
				So(args[2], ShouldEqual, 2.0)
				So(args[3], ShouldAlmostEqual, 14.0/30, 1e-12)
				So(args[6], ShouldEqual, start.AddDate(0, 0, 2))
				So(args[7], ShouldEqual, end.AddDate(0, 0, -2))
				So(args[8], ShouldEqual, "room")
				So(args[9], ShouldEqual, 25)
			})
		})
	})

	Convey("Given only raw price bounds", t, func() {
		hi := 2000.0
		sql, args := candidateQuery(model.HardFilters{MaxPrice: &hi}, "u1", 5)

		Convey("Then raw prices should be compared", func() {
			So(sql, ShouldContainSubstring, "l.price <= $2")
			So(sql, ShouldNotContainSubstring, "CASE l.price_period")
			So(sql, ShouldNotContainSubstring, "start_date")
			So(args, ShouldResemble, []any{"u1", 2000.0, 5})
		})
	})

	Convey("Given a stay duration whose price bounds could not be converted", t, func() {
		hi := 2000.0
		sql, args := candidateQuery(model.HardFilters{MaxPrice: &hi, StayDurationDays: 14}, "u1", 5)

		Convey("Then no price comparison should be emitted", func() {
			So(sql, ShouldNotContainSubstring, "l.price <=")
			So(sql, ShouldNotContainSubstring, "CASE l.price_period")
			So(args, ShouldResemble, []any{"u1", 5})
		})
	})
}
