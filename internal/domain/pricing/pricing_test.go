package pricing_test

import (
	"testing"
	"time"

	"github.com/dwellhq/dwell/internal/domain/model"
	"github.com/dwellhq/dwell/internal/domain/pricing"
	. "github.com/smartystreets/goconvey/convey"
)

func ptr(v float64) *float64 { return &v }

func TestTotalCost(t *testing.T) {
	Convey("Given equivalent rates quoted in different periods", t, func() {
		Convey("When costing a 30 day stay", func() {
			day := pricing.TotalCost(150, model.PeriodDay, 30)
			week := pricing.TotalCost(1050, model.PeriodWeek, 30)
			month := pricing.TotalCost(4500, model.PeriodMonth, 30)

			Convey("Then every total should be about 4500", func() {
				So(day, ShouldAlmostEqual, 4500.0, 0.01)
				So(week, ShouldAlmostEqual, 4500.0, 0.01)
				So(month, ShouldAlmostEqual, 4500.0, 0.01)
			})
		})

		Convey("When costing any stay length", func() {
			Convey("Then the totals should agree within a cent", func() {
				for d := 1; d <= 400; d++ {
					day := pricing.TotalCost(150, model.PeriodDay, d)
					So(pricing.TotalCost(1050, model.PeriodWeek, d), ShouldAlmostEqual, day, 0.01)
					So(pricing.TotalCost(4500, model.PeriodMonth, d), ShouldAlmostEqual, day, 0.01)
				}
			})
		})
	})

	Convey("Given unusable inputs", t, func() {
		Convey("Then the total should be zero", func() {
			So(pricing.TotalCost(150, model.PeriodUnknown, 30), ShouldEqual, 0)
			So(pricing.TotalCost(150, model.PricePeriod("fortnight"), 30), ShouldEqual, 0)
			So(pricing.TotalCost(0, model.PeriodDay, 30), ShouldEqual, 0)
			So(pricing.TotalCost(150, model.PeriodDay, 0), ShouldEqual, 0)
		})
	})
}

func TestBounds(t *testing.T) {
	Convey("Given a monthly budget of 3000 to 5000 over 31 days", t, func() {
		minTotal, maxTotal := pricing.Bounds(ptr(3000), ptr(5000), model.PeriodMonth, 31)

		Convey("Then the bounds should be rounded to cents", func() {
			So(minTotal, ShouldNotBeNil)
			So(maxTotal, ShouldNotBeNil)
			So(*minTotal, ShouldAlmostEqual, 3100.0, 0.001)
			So(*maxTotal, ShouldAlmostEqual, 5166.67, 0.001)
		})
	})

	Convey("Given only a maximum price", t, func() {
		minTotal, maxTotal := pricing.Bounds(nil, ptr(175), model.PeriodDay, 14)

		Convey("Then only the upper bound should be set", func() {
			So(minTotal, ShouldBeNil)
			So(*maxTotal, ShouldAlmostEqual, 2450.0, 0.001)
		})
	})

	Convey("Given a user without a price period", t, func() {
		minTotal, maxTotal := pricing.Bounds(ptr(100), ptr(200), model.PeriodUnknown, 14)

		Convey("Then no bounds should be produced", func() {
			So(minTotal, ShouldBeNil)
			So(maxTotal, ShouldBeNil)
		})
	})
}

func TestFilters(t *testing.T) {
	Convey("Given a user with dates and a daily budget", t, func() {
		start := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 0, 14)
		room := model.ListingRoom
		u := model.User{
			MinPrice:             ptr(100),
			MaxPrice:             ptr(175),
			PricePeriod:          model.PeriodDay,
			PreferredStartDate:   &start,
			PreferredEndDate:     &end,
			DateFlexibilityDays:  3,
			PreferredListingType: &room,
		}

		f := pricing.Filters(u)

		Convey("Then the filters should carry normalized bounds", func() {
			So(f.Normalized(), ShouldBeTrue)
			So(f.StayDurationDays, ShouldEqual, 14)
			So(*f.MinTotalCost, ShouldAlmostEqual, 1400.0, 0.001)
			So(*f.MaxTotalCost, ShouldAlmostEqual, 2450.0, 0.001)
			So(*f.ListingType, ShouldEqual, model.ListingRoom)
			So(f.DateFlexibilityDays, ShouldEqual, 3)
		})

		Convey("When the user has no end date", func() {
			u.PreferredEndDate = nil
			f := pricing.Filters(u)

			Convey("Then price filtering should fall back to raw prices", func() {
				So(f.Normalized(), ShouldBeFalse)
				So(f.RawPriceFallback(), ShouldBeTrue)
				So(f.HasDateWindow(), ShouldBeFalse)
				So(*f.MaxPrice, ShouldEqual, 175)
			})
		})

		Convey("When the price period is unknown", func() {
			u.PricePeriod = model.PeriodUnknown
			f := pricing.Filters(u)

			Convey("Then price should not be filtered although dates still are", func() {
				So(f.StayDurationDays, ShouldEqual, 14)
				So(f.MinTotalCost, ShouldBeNil)
				So(f.MaxTotalCost, ShouldBeNil)
				So(f.Normalized(), ShouldBeFalse)
				So(f.RawPriceFallback(), ShouldBeFalse)
				So(f.HasDateWindow(), ShouldBeTrue)
			})
		})
	})
}

func TestConvert(t *testing.T) {
	Convey("Given the monthly conversion table", t, func() {
		Convey("Then daily and weekly prices should scale to a month", func() {
			So(pricing.ToMonthly(50, model.PeriodDay), ShouldEqual, 1500)
			So(pricing.ToMonthly(500, model.PeriodWeek), ShouldAlmostEqual, 2165, 0.001)
			So(pricing.ToMonthly(2000, model.PeriodMonth), ShouldEqual, 2000)
		})

		Convey("Then converting month to day should divide by thirty", func() {
			So(pricing.Convert(3000, model.PeriodMonth, model.PeriodDay), ShouldEqual, 100)
		})
	})
}

func TestParsePriceString(t *testing.T) {
	Convey("Given scraped price strings", t, func() {
		Convey("When the period is explicit", func() {
			amount, period, ok := pricing.ParsePriceString("$1,200 per month")

			Convey("Then amount and period should be extracted", func() {
				So(ok, ShouldBeTrue)
				So(amount, ShouldEqual, 1200)
				So(period, ShouldEqual, model.PeriodMonth)
			})
		})

		Convey("When an alias is used", func() {
			amount, period, ok := pricing.ParsePriceString("Only $ 85/Night!")

			Convey("Then it should map to the canonical period", func() {
				So(ok, ShouldBeTrue)
				So(amount, ShouldEqual, 85)
				So(period, ShouldEqual, model.PeriodDay)
			})
		})

		Convey("When no period is given", func() {
			_, period, ok := pricing.ParsePriceString("$950")

			Convey("Then it should default to month", func() {
				So(ok, ShouldBeTrue)
				So(period, ShouldEqual, model.PeriodMonth)
			})
		})

		Convey("When there is no price", func() {
			_, _, ok := pricing.ParsePriceString("contact for price")
			So(ok, ShouldBeFalse)
		})
	})
}

func TestFormatMonthly(t *testing.T) {
	Convey("Given prices in several periods", t, func() {
		So(pricing.FormatMonthly(2000, model.PeriodMonth), ShouldEqual, "$2,000/month")
		So(pricing.FormatMonthly(500, model.PeriodWeek), ShouldEqual, "$2,165/month (from $500/week)")
		So(pricing.FormatMonthly(1500, model.PeriodDay), ShouldEqual, "$45,000/month (from $1,500/day)")
		So(pricing.FormatMonthly(0, model.PeriodDay), ShouldEqual, "Price not available")
	})
}
