package participation

import (
	"strings"
	"unicode/utf8"

	"britepool/pkg/errutil"

	"github.com/shopspring/decimal"
)

const (
	maxDescriptionLength    = 2000
	maxIdempotencyKeyLength = 128
	hoursScale              = 2
)

var maxHours = decimal.NewFromInt(24)

// validateEntry checks a record request and returns the normalised category
// and description. All violations are reported together.
func validateEntry(req RecordEntryRequest) (Category, string, error) {
	var details []errutil.Detail

	if strings.TrimSpace(req.MemberID) == "" {
		details = append(details, errutil.Detail{Field: "memberId", Message: "is required"})
	}

	switch {
	case !req.Hours.IsPositive():
		details = append(details, errutil.Detail{Field: "hours", Message: "must be greater than 0"})
	case req.Hours.GreaterThan(maxHours):
		details = append(details, errutil.Detail{Field: "hours", Message: "must not exceed 24"})
	case !req.Hours.Equal(req.Hours.Truncate(hoursScale)):
		details = append(details, errutil.Detail{Field: "hours", Message: "must have at most 2 decimal places"})
	}

	category, ok := ParseCategory(req.Category)
	if !ok {
		details = append(details, errutil.Detail{Field: "category", Message: "must be one of " + categoryList()})
	}

	description := strings.TrimSpace(req.Description)
	switch {
	case description == "":
		details = append(details, errutil.Detail{Field: "description", Message: "must not be empty"})
	case utf8.RuneCountInString(description) > maxDescriptionLength:
		details = append(details, errutil.Detail{Field: "description", Message: "must be at most 2000 characters"})
	}

	if len(req.IdempotencyKey) > maxIdempotencyKeyLength {
		details = append(details, errutil.Detail{Field: "idempotencyKey", Message: "must be at most 128 characters"})
	}

	if len(details) > 0 {
		return "", "", errutil.ValidationFailed("invalid participation entry", nil, errutil.WithDetails(details...))
	}

	return category, description, nil
}

func validateTransition(status Status) error {
	if !status.IsTerminal() {
		return errutil.ValidationFailed("invalid status transition", nil, errutil.WithDetails(errutil.Detail{
			Field:   "status",
			Message: "must be APPROVED or REJECTED",
		}))
	}
	return nil
}

func categoryList() string {
	cs := Categories()
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
