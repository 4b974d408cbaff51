package participation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func entryOf(member string, hours string, status Status) *Entry {
	return &Entry{MemberID: member, Hours: decimal.RequireFromString(hours), Status: status}
}

func TestSummarize(t *testing.T) {
	cases := []struct {
		name      string
		entries   []*Entry
		total     string
		pending   string
		units     int64
		progress  string
		remaining string
	}{
		{
			name:      "no entries",
			total:     "0",
			pending:   "0",
			units:     0,
			progress:  "0",
			remaining: "10",
		},
		{
			name: "three four three approved",
			entries: []*Entry{
				entryOf("m", "3", StatusApproved),
				entryOf("m", "4", StatusApproved),
				entryOf("m", "3", StatusApproved),
			},
			total:     "10",
			pending:   "0",
			units:     1,
			progress:  "0",
			remaining: "10",
		},
		{
			name:      "single seven approved",
			entries:   []*Entry{entryOf("m", "7", StatusApproved)},
			total:     "7",
			pending:   "0",
			units:     0,
			progress:  "0.7",
			remaining: "3",
		},
		{
			name: "pending never counts toward units",
			entries: []*Entry{
				entryOf("m", "9.5", StatusApproved),
				entryOf("m", "24", StatusPending),
				entryOf("m", "5", StatusRejected),
			},
			total:     "9.5",
			pending:   "24",
			units:     0,
			progress:  "0.95",
			remaining: "0.5",
		},
		{
			name: "floor not round",
			entries: []*Entry{
				entryOf("m", "19.99", StatusApproved),
			},
			total:     "19.99",
			pending:   "0",
			units:     1,
			progress:  "0.999",
			remaining: "0.01",
		},
		{
			name: "other members ignored",
			entries: []*Entry{
				entryOf("m", "4", StatusApproved),
				entryOf("x", "20", StatusApproved),
			},
			total:     "4",
			pending:   "0",
			units:     0,
			progress:  "0.4",
			remaining: "6",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Summarize("m", tc.entries)
			requireDecimal(t, tc.total, s.TotalHours)
			requireDecimal(t, tc.pending, s.PendingHours)
			require.Equal(t, tc.units, s.EquityUnits)
			requireDecimal(t, tc.progress, s.ProgressToNextUnit)
			requireDecimal(t, tc.remaining, s.HoursRemaining)
			require.True(t, s.ProgressToNextUnit.GreaterThanOrEqual(decimal.Zero))
			require.True(t, s.ProgressToNextUnit.LessThan(decimal.NewFromInt(1)))
		})
	}
}

func TestSummarizeQuarterHoursExact(t *testing.T) {
	entries := make([]*Entry, 0, 40)
	for i := 0; i < 40; i++ {
		entries = append(entries, entryOf("m", "0.25", StatusApproved))
	}
	s := Summarize("m", entries)
	requireDecimal(t, "10", s.TotalHours)
	require.Equal(t, int64(1), s.EquityUnits)
	requireDecimal(t, "0", s.ProgressToNextUnit)
	require.Equal(t, 40, s.EntryCounts[StatusApproved])
	require.Equal(t, 0, s.EntryCounts[StatusPending])
}
