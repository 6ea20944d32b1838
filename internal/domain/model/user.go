package model

import "time"

const hoursPerDay = 24

// User is the subset of a profile the matching engine reads, plus the
// evaluation wallet it mutates.
type User struct {
	ID         string `json:"id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Occupation string `json:"occupation,omitempty"`
	Bio        string `json:"bio,omitempty"`

	// Hard filters.
	MinPrice             *float64     `json:"min_price,omitempty"`
	MaxPrice             *float64     `json:"max_price,omitempty"`
	PricePeriod          PricePeriod  `json:"price_period"`
	PreferredStartDate   *time.Time   `json:"preferred_start_date,omitempty"`
	PreferredEndDate     *time.Time   `json:"preferred_end_date,omitempty"`
	DateFlexibilityDays  int          `json:"date_flexibility_days"`
	PreferredListingType *ListingType `json:"preferred_listing_type,omitempty"`

	// Soft preferences interpreted by the evaluator.
	PreferenceProfile    string     `json:"preference_profile,omitempty"`
	PreferenceVersion    int        `json:"preference_version"`
	LastPreferenceUpdate *time.Time `json:"last_preference_update,omitempty"`

	ProfileCompleted   bool       `json:"profile_completed"`
	ProfileCompletedAt *time.Time `json:"profile_completed_at,omitempty"`

	EvaluationCredits float64 `json:"evaluation_credits"`
}

// Name returns the display name of the user.
func (u *User) Name() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// StayDurationDays returns the number of whole days between the preferred
// start and end dates. ok is false when either date is missing or the window
// is empty.
func (u *User) StayDurationDays() (days int, ok bool) {
	if u.PreferredStartDate == nil || u.PreferredEndDate == nil {
		return 0, false
	}
	days = int(u.PreferredEndDate.Sub(*u.PreferredStartDate).Hours() / hoursPerDay)
	if days <= 0 {
		return 0, false
	}
	return days, true
}

// HardFilters is the deterministic filter bundle applied at the storage layer
// before any scoring happens.
type HardFilters struct {
	MinPrice            *float64
	MaxPrice            *float64
	PricePeriod         PricePeriod
	PreferredStartDate  *time.Time
	PreferredEndDate    *time.Time
	DateFlexibilityDays int
	ListingType         *ListingType

	// StayDurationDays is zero when no stay duration is known. The total cost
	// bounds are only set alongside a duration.
	StayDurationDays int
	MinTotalCost     *float64
	MaxTotalCost     *float64
}

// HasDateWindow reports whether both preferred dates are present.
func (f *HardFilters) HasDateWindow() bool {
	return f.PreferredStartDate != nil && f.PreferredEndDate != nil
}

// Normalized reports whether price filtering uses total-cost bounds rather
// than the raw price fallback.
func (f *HardFilters) Normalized() bool {
	return f.StayDurationDays > 0 && (f.MinTotalCost != nil || f.MaxTotalCost != nil)
}

// RawPriceFallback reports whether raw listing prices are compared against
// the user's price range. That only happens without a stay duration; with a
// duration whose bounds cannot be converted, price is not filtered at all.
func (f *HardFilters) RawPriceFallback() bool {
	return f.StayDurationDays <= 0 && (f.MinPrice != nil || f.MaxPrice != nil)
}

// AvailabilityWindow returns the flex-adjusted bounds a listing must cover:
// available no later than latestStart and until at least earliestEnd.
func (f *HardFilters) AvailabilityWindow() (latestStart, earliestEnd time.Time) {
	flex := time.Duration(f.DateFlexibilityDays) * hoursPerDay * time.Hour
	return f.PreferredStartDate.Add(flex), f.PreferredEndDate.Add(-flex)
}
