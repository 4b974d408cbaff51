package participation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"britepool/pkg/access"
	"britepool/pkg/config"
	"britepool/pkg/db/pagination"
	"britepool/pkg/errutil"
	"britepool/pkg/events"
	"britepool/pkg/gen"
	"britepool/pkg/idempotency"
	"britepool/pkg/identity"
	"britepool/pkg/rediskey"
	"britepool/services/testutil"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

var (
	steward    = identity.Actor{MemberID: "steward-1", Role: identity.RoleSteward}
	adminActor = identity.Actor{MemberID: "admin-1", Role: identity.RoleAdmin}
)

func newTestService(t *testing.T, mutators ...func(*ServiceParams)) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, Models()...)

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	node, err := gen.NewNode(1)
	require.NoError(t, err)

	approver, err := access.NewDefault()
	require.NoError(t, err)

	p := ServiceParams{
		DB:        db,
		Node:      node,
		Config:    cfg,
		Approver:  approver,
		Store:     idempotency.NopStore{},
		Publisher: events.NopPublisher{},
	}
	for _, m := range mutators {
		m(&p)
	}
	return NewService(p)
}

func record(t *testing.T, svc *Service, member, hours string) *Entry {
	t.Helper()
	entry, replayed, err := svc.RecordEntry(context.Background(), RecordEntryRequest{
		MemberID:    member,
		Hours:       decimal.RequireFromString(hours),
		Category:    "Community Service",
		Description: "park cleanup",
	})
	require.NoError(t, err)
	require.False(t, replayed)
	return entry
}

func approve(t *testing.T, svc *Service, entryID string) *Entry {
	t.Helper()
	entry, err := svc.TransitionStatus(context.Background(), steward, entryID, StatusApproved, "")
	require.NoError(t, err)
	return entry
}

func countEntries(t *testing.T, svc *Service) int64 {
	t.Helper()
	var n int64
	require.NoError(t, svc.db.Model(&Entry{}).Count(&n).Error)
	return n
}

func TestRecordEntryValid(t *testing.T) {
	svc := newTestService(t)

	for _, hours := range []string{"0.01", "0.25", "1", "7.5", "24"} {
		t.Run(hours, func(t *testing.T) {
			entry, replayed, err := svc.RecordEntry(context.Background(), RecordEntryRequest{
				MemberID:    "m-1",
				Hours:       decimal.RequireFromString(hours),
				Category:    "mentoring",
				Description: "  tutoring session  ",
			})
			require.NoError(t, err)
			require.False(t, replayed)
			require.NotEmpty(t, entry.ID)
			require.Equal(t, StatusPending, entry.Status)
			require.Nil(t, entry.ApprovedAt)
			require.Nil(t, entry.DecidedAt)
			require.Equal(t, CategoryMentoring, entry.Category)
			require.Equal(t, "tutoring session", entry.Description)
			require.False(t, entry.CreatedAt.IsZero())

			stored, err := svc.GetEntry(context.Background(), entry.ID)
			require.NoError(t, err)
			requireDecimal(t, hours, stored.Hours)
		})
	}
}

func TestRecordEntryValidation(t *testing.T) {
	svc := newTestService(t)

	cases := []struct {
		name  string
		req   RecordEntryRequest
		field string
	}{
		{"zero hours", RecordEntryRequest{MemberID: "m", Hours: decimal.Zero, Category: "OTHER", Description: "x"}, "hours"},
		{"negative hours", RecordEntryRequest{MemberID: "m", Hours: decimal.NewFromInt(-1), Category: "OTHER", Description: "x"}, "hours"},
		{"over a day", RecordEntryRequest{MemberID: "m", Hours: decimal.RequireFromString("24.01"), Category: "OTHER", Description: "x"}, "hours"},
		{"three decimals", RecordEntryRequest{MemberID: "m", Hours: decimal.RequireFromString("1.125"), Category: "OTHER", Description: "x"}, "hours"},
		{"unknown category", RecordEntryRequest{MemberID: "m", Hours: decimal.NewFromInt(1), Category: "gardening", Description: "x"}, "category"},
		{"blank description", RecordEntryRequest{MemberID: "m", Hours: decimal.NewFromInt(1), Category: "OTHER", Description: " \t\n"}, "description"},
		{"missing member", RecordEntryRequest{Hours: decimal.NewFromInt(1), Category: "OTHER", Description: "x"}, "memberId"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.RecordEntry(context.Background(), tc.req)
			require.Error(t, err)
			require.True(t, errutil.Is(err, errutil.StatusValidationFailed), err)

			var be errutil.BaseError
			require.True(t, errors.As(err, &be))
			require.NotEmpty(t, be.Details)
			require.Equal(t, tc.field, be.Details[0].Field)
		})
	}

	require.Zero(t, countEntries(t, svc))
}

func TestRecordEntryReportsAllViolations(t *testing.T) {
	svc := newTestService(t)

	_, _, err := svc.RecordEntry(context.Background(), RecordEntryRequest{MemberID: "m", Hours: decimal.NewFromInt(30)})
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))

	fields := make([]string, 0, len(be.Details))
	for _, d := range be.Details {
		fields = append(fields, d.Field)
	}
	require.ElementsMatch(t, []string{"hours", "category", "description"}, fields)
}

func TestComputeSummaryFromLedger(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, h := range []string{"3", "4", "3"} {
		approve(t, svc, record(t, svc, "m-1", h).ID)
	}
	record(t, svc, "m-1", "5")

	s, err := svc.ComputeSummary(ctx, "m-1")
	require.NoError(t, err)
	requireDecimal(t, "10", s.TotalHours)
	requireDecimal(t, "5", s.PendingHours)
	require.Equal(t, int64(1), s.EquityUnits)
	requireDecimal(t, "0", s.ProgressToNextUnit)

	again, err := svc.ComputeSummary(ctx, "m-1")
	require.NoError(t, err)
	require.Equal(t, s.EquityUnits, again.EquityUnits)
	require.True(t, s.TotalHours.Equal(again.TotalHours))
	require.True(t, s.PendingHours.Equal(again.PendingHours))
	require.True(t, s.ProgressToNextUnit.Equal(again.ProgressToNextUnit))
	require.Equal(t, s.EntryCounts, again.EntryCounts)
}

func TestComputeSummarySevenHours(t *testing.T) {
	svc := newTestService(t)

	approve(t, svc, record(t, svc, "m-1", "7").ID)

	s, err := svc.ComputeSummary(context.Background(), "m-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), s.EquityUnits)
	requireDecimal(t, "0.7", s.ProgressToNextUnit)
	requireDecimal(t, "3", s.HoursRemaining)
}

func TestComputeSummaryEmptyMember(t *testing.T) {
	svc := newTestService(t)

	s, err := svc.ComputeSummary(context.Background(), "nobody")
	require.NoError(t, err)
	require.True(t, s.TotalHours.IsZero())
	require.True(t, s.PendingHours.IsZero())
	require.Zero(t, s.EquityUnits)
	require.True(t, s.ProgressToNextUnit.IsZero())
}

func TestTransitionStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	entry := record(t, svc, "m-1", "2")

	approved, err := svc.TransitionStatus(ctx, steward, entry.ID, StatusApproved, "thanks")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)
	require.NotNil(t, approved.DecidedAt)
	require.Equal(t, steward.MemberID, *approved.DecidedBy)

	_, err = svc.TransitionStatus(ctx, steward, entry.ID, StatusApproved, "")
	require.True(t, errutil.Is(err, errutil.StatusConflict), err)

	_, err = svc.TransitionStatus(ctx, adminActor, entry.ID, StatusRejected, "")
	require.True(t, errutil.Is(err, errutil.StatusConflict), err)

	decisions, err := svc.ListDecisions(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Equal(t, StatusPending, decisions[0].FromStatus)
	require.Equal(t, StatusApproved, decisions[0].ToStatus)
	require.Equal(t, "thanks", decisions[0].Note)
	require.JSONEq(t, `{"hours":"2","category":"COMMUNITY_SERVICE"}`, string(decisions[0].Metadata))
}

func TestTransitionReject(t *testing.T) {
	svc := newTestService(t)

	entry := record(t, svc, "m-1", "2")
	rejected, err := svc.TransitionStatus(context.Background(), steward, entry.ID, StatusRejected, "duplicate")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Nil(t, rejected.ApprovedAt)
	require.NotNil(t, rejected.DecidedAt)

	stored, err := svc.GetEntry(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Nil(t, stored.ApprovedAt)

	s, err := svc.ComputeSummary(context.Background(), "m-1")
	require.NoError(t, err)
	require.True(t, s.TotalHours.IsZero())
	requireDecimal(t, "2", s.RejectedHours)
}

func TestTransitionErrors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	entry := record(t, svc, "m-1", "2")

	_, err := svc.TransitionStatus(ctx, steward, "does-not-exist", StatusApproved, "")
	require.True(t, errutil.Is(err, errutil.StatusNotFound), err)

	_, err = svc.TransitionStatus(ctx, steward, entry.ID, StatusPending, "")
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed), err)

	_, err = svc.TransitionStatus(ctx, identity.Actor{MemberID: "m-2", Role: identity.RoleMember}, entry.ID, StatusApproved, "")
	require.True(t, errutil.Is(err, errutil.StatusForbidden), err)

	_, err = svc.TransitionStatus(ctx, identity.Actor{MemberID: "m-1", Role: identity.RoleAdmin}, entry.ID, StatusApproved, "")
	require.True(t, errutil.Is(err, errutil.StatusForbidden), err)

	decisions, err := svc.ListDecisions(ctx, entry.ID)
	require.NoError(t, err)
	require.Empty(t, decisions)

	stored, err := svc.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
}

func TestConcurrentTransitionsOneWins(t *testing.T) {
	svc := newTestService(t)
	entry := record(t, svc, "m-1", "2")

	statuses := []Status{StatusApproved, StatusRejected, StatusApproved, StatusRejected}
	errs := make([]error, len(statuses))

	var wg sync.WaitGroup
	for i, st := range statuses {
		wg.Add(1)
		go func(i int, st Status) {
			defer wg.Done()
			_, errs[i] = svc.TransitionStatus(context.Background(), steward, entry.ID, st, "")
		}(i, st)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.True(t, errutil.Is(err, errutil.StatusConflict), err)
	}
	require.Equal(t, 1, wins)

	decisions, err := svc.ListDecisions(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
}

func TestListEntries(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first := record(t, svc, "m-1", "1")
	second := record(t, svc, "m-1", "2")
	record(t, svc, "m-2", "3")
	approve(t, svc, first.ID)

	latest := record(t, svc, "m-1", "4")

	page, err := svc.ListEntries(ctx, "m-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	require.Equal(t, latest.ID, page.Entries[0].ID)
	require.Equal(t, second.ID, page.Entries[1].ID)
	require.Equal(t, first.ID, page.Entries[2].ID)
	require.False(t, page.PageInfo.HasMore)

	page, err = svc.ListEntries(ctx, "m-1", ListOptions{Statuses: []Status{StatusApproved}})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	require.Equal(t, first.ID, page.Entries[0].ID)

	page, err = svc.ListEntries(ctx, "m-1", ListOptions{Pagination: pagination.Pagination{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	require.True(t, page.PageInfo.HasMore)

	page, err = svc.ListEntries(ctx, "m-1", ListOptions{Pagination: pagination.Pagination{Offset: 2, Limit: 2}})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	require.Equal(t, first.ID, page.Entries[0].ID)

	page, err = svc.ListEntries(ctx, "m-1", ListOptions{Pagination: pagination.Pagination{Offset: 50}})
	require.NoError(t, err)
	require.Empty(t, page.Entries)

	_, err = svc.ListEntries(ctx, "m-1", ListOptions{Statuses: []Status{"ARCHIVED"}})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed), err)
}

func TestListPendingOldestFirst(t *testing.T) {
	svc := newTestService(t)

	a := record(t, svc, "m-1", "1")
	b := record(t, svc, "m-2", "1")
	c := record(t, svc, "m-3", "1")
	approve(t, svc, b.ID)

	page, err := svc.ListPending(context.Background(), pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	require.Equal(t, a.ID, page.Entries[0].ID)
	require.Equal(t, c.ID, page.Entries[1].ID)
}

func TestMemberOverview(t *testing.T) {
	svc := newTestService(t)

	approve(t, svc, record(t, svc, "m-1", "6").ID)
	record(t, svc, "m-1", "1.5")

	ov, err := svc.MemberOverview(context.Background(), "m-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, ov.Entries, 2)
	requireDecimal(t, "6", ov.Summary.TotalHours)
	requireDecimal(t, "1.5", ov.Summary.PendingHours)
}

func TestRecordEntryIdempotentReplay(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	req := RecordEntryRequest{
		MemberID:       "m-1",
		Hours:          decimal.RequireFromString("2.5"),
		Category:       "OUTREACH",
		Description:    "flyers",
		IdempotencyKey: "key-1",
	}

	first, replayed, err := svc.RecordEntry(ctx, req)
	require.NoError(t, err)
	require.False(t, replayed)

	again, replayed, err := svc.RecordEntry(ctx, req)
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, int64(1), countEntries(t, svc))

	s, err := svc.ComputeSummary(ctx, "m-1")
	require.NoError(t, err)
	requireDecimal(t, "2.5", s.PendingHours)

	other := req
	other.Hours = decimal.NewFromInt(3)
	_, _, err = svc.RecordEntry(ctx, other)
	require.True(t, errutil.Is(err, errutil.StatusConflict), err)

	// the same key is independent per member
	otherMember := req
	otherMember.MemberID = "m-2"
	created, replayed, err := svc.RecordEntry(ctx, otherMember)
	require.NoError(t, err)
	require.False(t, replayed)
	require.NotEqual(t, first.ID, created.ID)
}

func TestRecordEntryIdempotencyInFlight(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := idempotency.NewMockStore(ctrl)

	svc := newTestService(t, func(p *ServiceParams) { p.Store = store })

	store.EXPECT().
		Reserve(gomock.Any(), rediskey.BuildIdempotencyKey("m-1", "key-1"), gomock.Any(), svc.idempotencyTTL).
		Return("entry-in-flight", false, nil)

	_, _, err := svc.RecordEntry(context.Background(), RecordEntryRequest{
		MemberID:       "m-1",
		Hours:          decimal.NewFromInt(1),
		Category:       "OTHER",
		Description:    "x",
		IdempotencyKey: "key-1",
	})
	require.True(t, errutil.Is(err, errutil.StatusConflict), err)
	require.Zero(t, countEntries(t, svc))
}

func TestRecordEntryIdempotencyReplayFromStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := idempotency.NewMockStore(ctrl)

	svc := newTestService(t, func(p *ServiceParams) { p.Store = store })
	existing := record(t, svc, "m-1", "1")

	store.EXPECT().
		Reserve(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(existing.ID, false, nil)

	got, replayed, err := svc.RecordEntry(context.Background(), RecordEntryRequest{
		MemberID:       "m-1",
		Hours:          decimal.NewFromInt(1),
		Category:       "Community Service",
		Description:    "park cleanup",
		IdempotencyKey: "key-2",
	})
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, existing.ID, got.ID)
	require.Equal(t, int64(1), countEntries(t, svc))
}

func TestRecordEntryIdempotencyStoreDown(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := idempotency.NewMockStore(ctrl)

	svc := newTestService(t, func(p *ServiceParams) { p.Store = store })

	store.EXPECT().
		Reserve(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", false, errors.New("connection refused"))

	req := RecordEntryRequest{
		MemberID:       "m-1",
		Hours:          decimal.NewFromInt(1),
		Category:       "OTHER",
		Description:    "x",
		IdempotencyKey: "key-3",
	}
	first, replayed, err := svc.RecordEntry(context.Background(), req)
	require.NoError(t, err)
	require.False(t, replayed)

	again, replayed, err := svc.RecordEntry(context.Background(), req)
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, first.ID, again.ID)
}

func TestTransitionPublishesDecision(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := events.NewMockPublisher(ctrl)

	svc := newTestService(t, func(p *ServiceParams) { p.Publisher = publisher })
	entry := record(t, svc, "m-1", "3")

	publisher.EXPECT().
		PublishDecision(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, evt events.DecisionEvent) error {
			require.Equal(t, events.TypeEntryDecided, evt.Type)
			require.Equal(t, entry.ID, evt.EntryID)
			require.Equal(t, "m-1", evt.MemberID)
			require.Equal(t, steward.MemberID, evt.ReviewerID)
			require.Equal(t, string(StatusPending), evt.FromStatus)
			require.Equal(t, string(StatusApproved), evt.ToStatus)
			require.Equal(t, "3", evt.Hours)
			return errors.New("broker unavailable")
		})

	// a failed publish does not undo the committed decision
	decided, err := svc.TransitionStatus(context.Background(), steward, entry.ID, StatusApproved, "")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, decided.Status)
}

func TestEntryWithDecisions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	entry := record(t, svc, "m-1", "4")

	_, err := svc.TransitionStatus(ctx, steward, entry.ID, StatusApproved, "ok")
	require.NoError(t, err)

	got, decisions, err := svc.EntryWithDecisions(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got.Status)
	require.Len(t, decisions, 1)
	require.Equal(t, StatusPending, decisions[0].FromStatus)
	require.Equal(t, StatusApproved, decisions[0].ToStatus)
	require.Equal(t, "ok", decisions[0].Note)

	_, _, err = svc.EntryWithDecisions(ctx, "missing")
	require.True(t, errutil.Is(err, errutil.StatusNotFound), err)
}
