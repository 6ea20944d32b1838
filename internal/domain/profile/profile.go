// Package profile validates changes to a user's matching preferences.
package profile

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dwellhq/dwell/internal/domain/model"
	"github.com/dwellhq/dwell/internal/domain/types"
)

// Validation limits.
const (
	MaxFlexibilityDays   = 30
	MinPreferenceProfile = 100
)

// PreferenceUpdates holds the fields a caller wants to change. Nil fields
// are left untouched.
type PreferenceUpdates struct {
	MinPrice             *float64
	MaxPrice             *float64
	PricePeriod          *model.PricePeriod
	PreferredStartDate   *time.Time
	PreferredEndDate     *time.Time
	DateFlexibilityDays  *int
	PreferredListingType *model.ListingType
	PreferenceProfile    *string
}

// ApplyPreferences validates upd against u and returns the updated user with
// its preference version bumped.
func ApplyPreferences(u model.User, upd PreferenceUpdates, now time.Time) types.Outcome[model.User] {
	if msg := validate(u, upd); msg != "" {
		return types.Failure[model.User](types.ReasonValidation, msg)
	}

	if upd.MinPrice != nil {
		u.MinPrice = upd.MinPrice
	}
	if upd.MaxPrice != nil {
		u.MaxPrice = upd.MaxPrice
	}
	if upd.PricePeriod != nil {
		u.PricePeriod = *upd.PricePeriod
	}
	if upd.PreferredStartDate != nil {
		u.PreferredStartDate = upd.PreferredStartDate
	}
	if upd.PreferredEndDate != nil {
		u.PreferredEndDate = upd.PreferredEndDate
	}
	if upd.DateFlexibilityDays != nil {
		u.DateFlexibilityDays = *upd.DateFlexibilityDays
	}
	if upd.PreferredListingType != nil {
		u.PreferredListingType = upd.PreferredListingType
	}
	if upd.PreferenceProfile != nil {
		u.PreferenceProfile = *upd.PreferenceProfile
	}

	u.PreferenceVersion++
	u.LastPreferenceUpdate = &now
	return types.Success(u)
}

func validate(u model.User, upd PreferenceUpdates) string {
	minPrice, maxPrice := pick(upd.MinPrice, u.MinPrice), pick(upd.MaxPrice, u.MaxPrice)
	if (minPrice != nil && *minPrice < 0) || (maxPrice != nil && *maxPrice < 0) {
		return "Prices cannot be negative"
	}
	if minPrice != nil && maxPrice != nil && *minPrice > *maxPrice {
		return "Minimum price cannot exceed maximum price"
	}

	start, end := pick(upd.PreferredStartDate, u.PreferredStartDate), pick(upd.PreferredEndDate, u.PreferredEndDate)
	if start != nil && end != nil && !start.Before(*end) {
		return "End date must be after start date"
	}

	if upd.DateFlexibilityDays != nil && (*upd.DateFlexibilityDays < 0 || *upd.DateFlexibilityDays > MaxFlexibilityDays) {
		return fmt.Sprintf("Date flexibility must be between 0 and %d days", MaxFlexibilityDays)
	}
	if upd.PricePeriod != nil && !upd.PricePeriod.Valid() {
		return fmt.Sprintf("Unknown price period %q", *upd.PricePeriod)
	}
	if upd.PreferredListingType != nil && !upd.PreferredListingType.Valid() {
		return fmt.Sprintf("Unknown listing type %q", *upd.PreferredListingType)
	}
	return ""
}

func pick[T any](update, current *T) *T {
	if update != nil {
		return update
	}
	return current
}

// MissingRequirements lists what u still needs before its profile can be
// marked complete.
func MissingRequirements(u model.User) []string {
	var missing []string
	if utf8.RuneCountInString(u.PreferenceProfile) < MinPreferenceProfile {
		missing = append(missing, fmt.Sprintf("detailed preferences (min %d characters)", MinPreferenceProfile))
	}
	if u.MinPrice == nil {
		missing = append(missing, "minimum budget")
	}
	if u.MaxPrice == nil {
		missing = append(missing, "maximum budget")
	}
	if u.PreferredStartDate == nil && u.DateFlexibilityDays == 0 {
		missing = append(missing, "move-in timeline or date flexibility")
	}
	return missing
}

// MarkComplete flags the profile complete when every requirement is met.
func MarkComplete(u model.User, now time.Time) types.Outcome[model.User] {
	if missing := MissingRequirements(u); len(missing) > 0 {
		return types.Failure[model.User](types.ReasonValidation,
			"Cannot mark profile complete. Missing: "+strings.Join(missing, ", "))
	}
	u.ProfileCompleted = true
	u.ProfileCompletedAt = &now
	return types.Success(u)
}

// ResetCompletion clears the completion flag.
func ResetCompletion(u model.User) model.User {
	u.ProfileCompleted = false
	u.ProfileCompletedAt = nil
	return u
}
