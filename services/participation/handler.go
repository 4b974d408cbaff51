package participation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"britepool/pkg/db/pagination"
	"britepool/pkg/errutil"
	"britepool/pkg/identity"
	"britepool/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	HeaderIdempotencyKey     = "Idempotency-Key"
	HeaderIdempotentReplayed = "Idempotent-Replayed"
)

var hundred = decimal.NewFromInt(100)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the member and reviewer routes. Every route requires a
// verified bearer token.
func (h *Handler) Register(r gin.IRouter, verifier middleware.TokenVerifier) {
	auth := middleware.Authenticate(verifier)

	member := r.Group("/participation", auth)
	member.GET("", h.getOwn)
	member.POST("", h.record)

	admin := r.Group("/admin/participation", auth, h.requireReviewer)
	admin.GET("/pending", h.listPending)
	admin.GET("/members/:memberId", h.getMember)
	admin.GET("/entries/:id", h.getEntry)
	admin.POST("/entries/:id/approve", h.decide(StatusApproved))
	admin.POST("/entries/:id/reject", h.decide(StatusRejected))
}

type entryView struct {
	ID            string      `json:"id"`
	MemberID      string      `json:"memberId"`
	Hours         json.Number `json:"hours"`
	Category      Category    `json:"category"`
	CategoryLabel string      `json:"categoryLabel"`
	Description   string      `json:"description"`
	Status        Status      `json:"status"`
	CreatedAt     time.Time   `json:"createdAt"`
	ApprovedAt    *time.Time  `json:"approvedAt"`
	DecidedAt     *time.Time  `json:"decidedAt,omitempty"`
	DecidedBy     *string     `json:"decidedBy,omitempty"`
}

func newEntryView(e *Entry) entryView {
	return entryView{
		ID:            e.ID,
		MemberID:      e.MemberID,
		Hours:         json.Number(e.Hours.String()),
		Category:      e.Category,
		CategoryLabel: e.Category.Label(),
		Description:   e.Description,
		Status:        e.Status,
		CreatedAt:     e.CreatedAt,
		ApprovedAt:    e.ApprovedAt,
		DecidedAt:     e.DecidedAt,
		DecidedBy:     e.DecidedBy,
	}
}

func newEntryViews(entries []*Entry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, newEntryView(e))
	}
	return out
}

type summaryView struct {
	TotalHours         json.Number    `json:"totalHours"`
	PendingHours       json.Number    `json:"pendingHours"`
	RejectedHours      json.Number    `json:"rejectedHours"`
	EquityUnits        int64          `json:"equityUnits"`
	ProgressToNextUnit json.Number    `json:"progressToNextUnit"`
	ProgressPercent    json.Number    `json:"progressPercent"`
	HoursRemaining     json.Number    `json:"hoursRemaining"`
	EntryCounts        map[Status]int `json:"entryCounts"`
}

func newSummaryView(s Summary) summaryView {
	return summaryView{
		TotalHours:         json.Number(s.TotalHours.String()),
		PendingHours:       json.Number(s.PendingHours.String()),
		RejectedHours:      json.Number(s.RejectedHours.String()),
		EquityUnits:        s.EquityUnits,
		ProgressToNextUnit: json.Number(s.ProgressToNextUnit.String()),
		ProgressPercent:    json.Number(s.ProgressToNextUnit.Mul(hundred).String()),
		HoursRemaining:     json.Number(s.HoursRemaining.String()),
		EntryCounts:        s.EntryCounts,
	}
}

type decisionView struct {
	ID         string          `json:"id"`
	ReviewerID string          `json:"reviewerId"`
	FromStatus Status          `json:"fromStatus"`
	ToStatus   Status          `json:"toStatus"`
	Note       string          `json:"note,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type overviewResponse struct {
	Logs     []entryView         `json:"logs"`
	Summary  summaryView         `json:"summary"`
	PageInfo pagination.PageInfo `json:"pageInfo"`
}

type listQuery struct {
	Status []string `form:"status"`
	pagination.Pagination
}

func (q listQuery) options() (ListOptions, error) {
	opts := ListOptions{Pagination: q.Pagination}
	var details []errutil.Detail
	for _, raw := range q.Status {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			st, ok := ParseStatus(part)
			if !ok {
				details = append(details, errutil.Detail{Field: "status", Message: fmt.Sprintf("unknown status %q", part)})
				continue
			}
			opts.Statuses = append(opts.Statuses, st)
		}
	}
	if len(details) > 0 {
		return ListOptions{}, errutil.BadRequest("invalid query", nil, errutil.WithDetails(details...))
	}
	return opts, nil
}

type recordEntryBody struct {
	Hours       json.RawMessage `json:"hours"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
}

// hours accepts a JSON number or numeric string. A missing value is zero and
// left to entry validation.
func (b recordEntryBody) hours() (decimal.Decimal, error) {
	raw := bytes.TrimSpace(b.Hours)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, nil
	}

	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, errutil.ValidationFailed("invalid participation entry", err,
			errutil.WithDetails(errutil.Detail{Field: "hours", Message: "must be a decimal number"}))
	}
	return d, nil
}

type decideBody struct {
	Note string `json:"note" binding:"max=2000"`
}

func bindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]errutil.Detail, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, errutil.Detail{
				Field:   lowerFirst(fe.Field()),
				Message: fmt.Sprintf("failed on the '%s' rule", fe.Tag()),
			})
		}
		return errutil.BadRequest("invalid request", err, errutil.WithDetails(details...))
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return errutil.ValidationFailed("invalid request", err, errutil.WithDetails(errutil.Detail{
			Field:   typeErr.Field,
			Message: fmt.Sprintf("must be a %s", typeErr.Type),
		}))
	}
	return errutil.BadRequest("malformed request", err)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func actorFrom(c *gin.Context) (identity.Actor, bool) {
	actor, err := identity.FromContext(c.Request.Context())
	if err != nil {
		_ = c.Error(errutil.Unauthorized("authentication required", err))
		return identity.Actor{}, false
	}
	return actor, true
}

func (h *Handler) requireReviewer(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		c.Abort()
		return
	}
	if err := h.svc.CanReview(c.Request.Context(), actor); err != nil {
		_ = c.Error(err)
		c.Abort()
		return
	}
	c.Next()
}

func (h *Handler) overview(c *gin.Context, memberID string) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	opts, err := q.options()
	if err != nil {
		_ = c.Error(err)
		return
	}

	ov, err := h.svc.MemberOverview(c.Request.Context(), memberID, opts)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, overviewResponse{
		Logs:     newEntryViews(ov.Entries),
		Summary:  newSummaryView(ov.Summary),
		PageInfo: ov.PageInfo,
	})
}

func (h *Handler) getOwn(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	h.overview(c, actor.MemberID)
}

func (h *Handler) getMember(c *gin.Context) {
	h.overview(c, c.Param("memberId"))
}

func (h *Handler) record(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var body recordEntryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	hours, err := body.hours()
	if err != nil {
		_ = c.Error(err)
		return
	}

	entry, replayed, err := h.svc.RecordEntry(c.Request.Context(), RecordEntryRequest{
		MemberID:       actor.MemberID,
		Hours:          hours,
		Category:       body.Category,
		Description:    body.Description,
		IdempotencyKey: strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	if replayed {
		c.Header(HeaderIdempotentReplayed, "true")
		c.JSON(http.StatusOK, newEntryView(entry))
		return
	}
	c.JSON(http.StatusCreated, newEntryView(entry))
}

func (h *Handler) listPending(c *gin.Context) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	page, err := h.svc.ListPending(c.Request.Context(), p)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries":  newEntryViews(page.Entries),
		"pageInfo": page.PageInfo,
	})
}

func (h *Handler) getEntry(c *gin.Context) {
	entry, decisions, err := h.svc.EntryWithDecisions(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	views := make([]decisionView, 0, len(decisions))
	for _, d := range decisions {
		views = append(views, decisionView{
			ID:         d.ID,
			ReviewerID: d.ReviewerID,
			FromStatus: d.FromStatus,
			ToStatus:   d.ToStatus,
			Note:       d.Note,
			Metadata:   json.RawMessage(d.Metadata),
			CreatedAt:  d.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"entry":     newEntryView(entry),
		"decisions": views,
	})
}

func (h *Handler) decide(status Status) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}

		var body decideBody
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			_ = c.Error(bindError(err))
			return
		}

		entry, err := h.svc.TransitionStatus(c.Request.Context(), actor, c.Param("id"), status, body.Note)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusOK, newEntryView(entry))
	}
}
