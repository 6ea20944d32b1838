package pricing

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dwellhq/dwell/internal/domain/model"
)

// Monthly multipliers. A week is 52/12 weeks per month rounded to 4.33.
const (
	dayToMonth  = 30.0
	weekToMonth = 4.33
)

var priceRE = regexp.MustCompile(`(?i)\$\s?([\d,]+)(?:\s?(?:/|per)\s?(day|night|week|wk|month|mo|monthly))?`)

func monthlyMultiplier(period model.PricePeriod) float64 {
	switch period {
	case model.PeriodDay:
		return dayToMonth
	case model.PeriodWeek:
		return weekToMonth
	default:
		return 1
	}
}

// ToMonthly returns the monthly equivalent of amount quoted per period.
// Unknown periods are treated as monthly.
func ToMonthly(amount float64, period model.PricePeriod) float64 {
	return amount * monthlyMultiplier(period)
}

// Convert moves amount from one billing period to another via its monthly
// equivalent.
func Convert(amount float64, from, to model.PricePeriod) float64 {
	return ToMonthly(amount, from) / monthlyMultiplier(to)
}

// ParsePriceString extracts an amount and period from strings such as
// "$500/week" or "$1,200 per month". The period defaults to month.
func ParsePriceString(s string) (amount float64, period model.PricePeriod, ok bool) {
	m := priceRE.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, model.PeriodUnknown, false
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, model.PeriodUnknown, false
	}
	period = model.PeriodMonth
	if m[2] != "" {
		period = model.ParsePricePeriod(m[2])
	}
	return amount, period, true
}

// FormatMonthly renders amount as a monthly price, annotated with the source
// rate when it was quoted in another period, e.g. "$2,165/month (from $500/week)".
func FormatMonthly(amount float64, period model.PricePeriod) string {
	if amount == 0 {
		return "Price not available"
	}
	if !period.Valid() {
		return "$" + groupThousands(amount)
	}
	monthly := ToMonthly(amount, period)
	if period == model.PeriodMonth {
		return fmt.Sprintf("$%s/month", groupThousands(monthly))
	}
	return fmt.Sprintf("$%s/month (from $%s/%s)", groupThousands(monthly), groupThousands(amount), period)
}

// groupThousands formats v with no decimals and comma separators.
func groupThousands(v float64) string {
	s := strconv.FormatFloat(math.Abs(math.Round(v)), 'f', 0, 64)
	var b strings.Builder
	if v < 0 && s != "0" {
		b.WriteByte('-')
	}
	lead := len(s) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(s[:lead])
	for i := lead; i < len(s); i += 3 {
		b.WriteByte(',')
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
