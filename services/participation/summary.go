package participation

import (
	"github.com/shopspring/decimal"
)

// HoursPerUnit is the number of approved hours that earn one equity unit.
const HoursPerUnit = 10

var unitSize = decimal.NewFromInt(HoursPerUnit)

// Summary is derived from a member's entries on every read and never stored.
type Summary struct {
	MemberID           string
	TotalHours         decimal.Decimal
	PendingHours       decimal.Decimal
	RejectedHours      decimal.Decimal
	EquityUnits        int64
	ProgressToNextUnit decimal.Decimal
	HoursRemaining     decimal.Decimal
	EntryCounts        map[Status]int
}

// Summarize folds entries into a Summary. Entries of other members are
// ignored.
func Summarize(memberID string, entries []*Entry) Summary {
	total := decimal.Zero
	pending := decimal.Zero
	rejected := decimal.Zero
	counts := map[Status]int{
		StatusPending:  0,
		StatusApproved: 0,
		StatusRejected: 0,
	}

	for _, e := range entries {
		if e == nil || e.MemberID != memberID {
			continue
		}
		counts[e.Status]++
		switch e.Status {
		case StatusApproved:
			total = total.Add(e.Hours)
		case StatusPending:
			pending = pending.Add(e.Hours)
		case StatusRejected:
			rejected = rejected.Add(e.Hours)
		}
	}

	remainder := total.Mod(unitSize)

	return Summary{
		MemberID:           memberID,
		TotalHours:         total,
		PendingHours:       pending,
		RejectedHours:      rejected,
		EquityUnits:        total.Div(unitSize).Floor().IntPart(),
		ProgressToNextUnit: remainder.Div(unitSize),
		HoursRemaining:     unitSize.Sub(remainder),
		EntryCounts:        counts,
	}
}
