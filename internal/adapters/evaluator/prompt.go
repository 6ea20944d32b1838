package evaluator

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/dwellhq/dwell/internal/domain/model"
	"github.com/dwellhq/dwell/internal/domain/pricing"
)

const (
	// MaxDescriptionLength caps the listing description sent upstream.
	MaxDescriptionLength = 500

	systemPrompt = "You are a helpful apartment hunting assistant. Evaluate listings based on user preferences."
	dateLayout   = "2006-01-02"

	instructions = `Evaluate how well this listing matches the user's preferences and requirements.

Consider:
1. How well the listing aligns with the user's lifestyle and preferences
2. Whether the location fits their needs
3. If the price offers good value for what's described
4. How the dates align with their needs
5. Overall quality and appeal of the listing

Provide a score from 1-10 where:
- 1-3: Poor match, significant issues or misalignment
- 4-6: Moderate match, some concerns but potentially workable
- 7-8: Good match, meets most requirements well
- 9-10: Excellent match, exceeds expectations

Include a brief explanation of your score focusing on the key factors that influenced your rating.`
)

// PromptBuilder renders the user message for one (user, listing) pair.
type PromptBuilder struct {
	md *converter.Converter
}

// NewPromptBuilder returns a builder that flattens HTML descriptions to
// markdown before truncation.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Build returns the prompt text.
func (p *PromptBuilder) Build(u model.User, l model.Listing) string {
	var b strings.Builder

	b.WriteString("USER PROFILE:\n")
	fmt.Fprintf(&b, "- Name: %s\n", orDefault(u.Name(), "Not specified"))
	fmt.Fprintf(&b, "- Occupation: %s\n", orDefault(u.Occupation, "Not specified"))
	fmt.Fprintf(&b, "- Bio: %s\n\n", orDefault(u.Bio, "Not specified"))

	b.WriteString("HARD REQUIREMENTS (already filtered):\n")
	fmt.Fprintf(&b, "- Price range: %s - %s per %s\n",
		money(u.MinPrice, "no min"), money(u.MaxPrice, "no max"), orDefault(string(u.PricePeriod), string(model.PeriodMonth)))
	fmt.Fprintf(&b, "- Dates: %s to %s\n", date(u.PreferredStartDate, "flexible"), date(u.PreferredEndDate, "flexible"))
	if u.DateFlexibilityDays > 0 {
		fmt.Fprintf(&b, "- Date flexibility: %d days\n", u.DateFlexibilityDays)
	}
	listingType := "any"
	if u.PreferredListingType != nil {
		listingType = string(*u.PreferredListingType)
	}
	fmt.Fprintf(&b, "- Listing type: %s\n\n", listingType)

	b.WriteString("DETAILED PREFERENCES:\n")
	b.WriteString(orDefault(u.PreferenceProfile, "No specific preferences provided"))
	b.WriteString("\n\n")

	b.WriteString("LISTING TO EVALUATE:\n")
	fmt.Fprintf(&b, "- Title: %s\n", orDefault(l.Title, "No title"))
	fmt.Fprintf(&b, "- Price: %s\n", listingPrice(l))
	fmt.Fprintf(&b, "- Dates: %s to %s\n", date(l.StartDate, "unknown"), date(l.EndDate, "unknown"))
	if l.ListingType != "" {
		fmt.Fprintf(&b, "- Type: %s\n", l.ListingType)
	}
	fmt.Fprintf(&b, "- Neighborhood: %s\n", orDefault(l.Neighborhood, "Not specified"))
	fmt.Fprintf(&b, "- Contact: %s\n", orDefault(l.ContactName, "Anonymous"))
	fmt.Fprintf(&b, "- Description: %s\n", p.description(l))
	fmt.Fprintf(&b, "- URL: %s\n\n", l.URL)

	b.WriteString(instructions)
	return b.String()
}

// description returns the listing text as markdown, capped at
// MaxDescriptionLength runes.
func (p *PromptBuilder) description(l model.Listing) string {
	text := strings.TrimSpace(l.Description())
	if text == "" {
		return "No description available"
	}
	if strings.Contains(text, "<") {
		if md, err := p.md.ConvertString(text, converter.WithDomain(l.URL)); err == nil && strings.TrimSpace(md) != "" {
			text = strings.TrimSpace(md)
		}
	}
	return truncate(text, MaxDescriptionLength)
}

func listingPrice(l model.Listing) string {
	if l.Price == nil {
		return "Price not available"
	}
	if !l.PricePeriod.Valid() {
		return fmt.Sprintf("$%.2f (period unknown)", *l.Price)
	}
	if l.PricePeriod == model.PeriodMonth {
		return fmt.Sprintf("$%.2f/month (month rate)", *l.Price)
	}
	return fmt.Sprintf("$%.2f/%s (%s rate, about $%.0f/month)",
		*l.Price, l.PricePeriod, l.PricePeriod, pricing.ToMonthly(*l.Price, l.PricePeriod))
}

func money(v *float64, fallback string) string {
	if v == nil {
		return fallback
	}
	return fmt.Sprintf("$%.2f", *v)
}

func date(t *time.Time, fallback string) string {
	if t == nil {
		return fallback
	}
	return t.Format(dateLayout)
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
