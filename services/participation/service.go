package participation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"britepool/pkg/access"
	"britepool/pkg/config"
	"britepool/pkg/db/option"
	"britepool/pkg/db/pagination"
	"britepool/pkg/errutil"
	"britepool/pkg/events"
	"britepool/pkg/gen"
	"britepool/pkg/idempotency"
	"britepool/pkg/identity"
	"britepool/pkg/logger"
	"britepool/pkg/rediskey"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxNoteLength  = 2000
	publishTimeout = 5 * time.Second
)

var tracer = otel.Tracer("britepool/services/participation")

// RecordEntryRequest is the input of RecordEntry. Category may be a code, a
// label or a slug.
type RecordEntryRequest struct {
	MemberID       string
	Hours          decimal.Decimal
	Category       string
	Description    string
	IdempotencyKey string
}

type ListOptions struct {
	Statuses []Status
	pagination.Pagination
}

type EntryPage struct {
	Entries  []*Entry
	PageInfo pagination.PageInfo
}

// Overview is a page of a member's entries together with their summary.
type Overview struct {
	EntryPage
	Summary Summary
}

type Service struct {
	db        *gorm.DB
	node      *gen.SnowflakeNode
	repo      Repository
	approver  access.Approver
	store     idempotency.Store
	publisher events.Publisher

	idempotencyTTL time.Duration
	defaultLimit   int
	maxLimit       int
	now            func() time.Time
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *gen.SnowflakeNode
	Config    *config.Config
	Approver  access.Approver
	Store     idempotency.Store
	Publisher events.Publisher
}

func NewService(p ServiceParams) *Service {
	pc := p.Config.Participation
	return &Service{
		db:        p.DB,
		node:      p.Node,
		repo:      NewRepository(p.DB),
		approver:  p.Approver,
		store:     p.Store,
		publisher: p.Publisher,

		idempotencyTTL: pc.IdempotencyTTL,
		defaultLimit:   pc.DefaultPageSize,
		maxLimit:       pc.MaxPageSize,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func fail(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// RecordEntry creates a PENDING entry. With an idempotency key, a repeated
// request returns the entry created by the first one and replayed is true.
func (s *Service) RecordEntry(ctx context.Context, req RecordEntryRequest) (entry *Entry, replayed bool, err error) {
	ctx, span := tracer.Start(ctx, "participation.RecordEntry",
		trace.WithAttributes(attribute.String("member_id", req.MemberID)))
	defer span.End()

	zapLog := logger.Ctx(ctx).With(zap.String("member_id", req.MemberID))

	category, description, err := validateEntry(req)
	if err != nil {
		return nil, false, fail(span, err)
	}

	entry = &Entry{
		ID:          s.node.NextID(),
		MemberID:    req.MemberID,
		Hours:       req.Hours,
		Category:    category,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   s.now(),
	}

	key := req.IdempotencyKey
	reserved := false
	if key != "" {
		entry.IdempotencyKey = &key

		existing, err := s.findReplay(ctx, entry)
		if err != nil || existing != nil {
			return existing, existing != nil, fail(span, err)
		}

		existing, reserved, err = s.reserve(ctx, zapLog, entry)
		if err != nil || existing != nil {
			return existing, existing != nil, fail(span, err)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.WithTrx(tx).Create(ctx, entry)
	})
	if err != nil {
		if reserved {
			if rerr := s.store.Release(ctx, rediskey.BuildIdempotencyKey(entry.MemberID, key)); rerr != nil {
				zapLog.Warn("failed to release idempotency key", zap.Error(rerr))
			}
		}

		if key != "" && errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, ferr := s.findReplay(ctx, entry)
			if ferr != nil || existing != nil {
				return existing, existing != nil, fail(span, ferr)
			}
		}

		zapLog.Error("failed to record participation entry", zap.Error(err))
		return nil, false, fail(span, errutil.Internal("failed to record participation entry", err))
	}

	entriesRecorded.WithLabelValues(string(entry.Category)).Inc()
	hoursRecorded.Add(entry.Hours.InexactFloat64())

	zapLog.Info("participation entry recorded",
		zap.String("entry_id", entry.ID),
		zap.String("hours", entry.Hours.String()),
		zap.String("category", string(entry.Category)),
	)

	return entry, false, nil
}

// findReplay returns the entry previously stored under the idempotency key
// of want, or nil when there is none.
func (s *Service) findReplay(ctx context.Context, want *Entry) (*Entry, error) {
	existing, err := s.repo.GetByIdempotencyKey(ctx, want.MemberID, *want.IdempotencyKey)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errutil.Internal("failed to look up idempotency key", err)
	}
	return s.replay(existing, want)
}

func (s *Service) replay(existing, want *Entry) (*Entry, error) {
	if !existing.Hours.Equal(want.Hours) || existing.Category != want.Category || existing.Description != want.Description {
		return nil, errutil.Conflict("idempotency key was already used for a different entry", nil,
			errutil.WithDetails(errutil.Detail{Field: "idempotencyKey", Message: "reused with a different payload"}))
	}
	idempotentReplays.Inc()
	return existing, nil
}

// reserve claims the idempotency key for want.ID. It returns the replayed
// entry when another request already created one under the key.
func (s *Service) reserve(ctx context.Context, zapLog *zap.Logger, want *Entry) (*Entry, bool, error) {
	redisKey := rediskey.BuildIdempotencyKey(want.MemberID, *want.IdempotencyKey)

	holder, reserved, err := s.store.Reserve(ctx, redisKey, want.ID, s.idempotencyTTL)
	if err != nil {
		// the unique index on (member_id, idempotency_key) still rejects duplicates
		zapLog.Warn("idempotency store unavailable, relying on database constraint", zap.Error(err))
		return nil, false, nil
	}
	if reserved {
		return nil, true, nil
	}

	existing, err := s.repo.GetByID(ctx, holder)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, errutil.Conflict("a request with this idempotency key is still in progress", nil)
	}
	if err != nil {
		return nil, false, errutil.Internal("failed to load idempotent entry", err)
	}
	if existing.MemberID != want.MemberID {
		return nil, false, errutil.Conflict("idempotency key belongs to another member", nil)
	}

	replayed, err := s.replay(existing, want)
	return replayed, false, err
}

// TransitionStatus moves a PENDING entry to APPROVED or REJECTED on behalf of
// actor and writes the decision audit row in the same transaction.
func (s *Service) TransitionStatus(ctx context.Context, actor identity.Actor, entryID string, status Status, note string) (*Entry, error) {
	ctx, span := tracer.Start(ctx, "participation.TransitionStatus", trace.WithAttributes(
		attribute.String("entry_id", entryID),
		attribute.String("status", string(status)),
		attribute.String("actor_id", actor.MemberID),
	))
	defer span.End()

	zapLog := logger.Ctx(ctx).With(
		zap.String("entry_id", entryID),
		zap.String("actor_id", actor.MemberID),
		zap.String("status", string(status)),
	)

	if err := validateTransition(status); err != nil {
		return nil, fail(span, err)
	}

	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > maxNoteLength {
		return nil, fail(span, errutil.ValidationFailed("invalid status transition", nil,
			errutil.WithDetails(errutil.Detail{Field: "note", Message: "must be at most 2000 characters"})))
	}

	var decided *Entry
	var decision *Decision
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)

		entry, err := repo.GetByID(ctx, entryID, option.WithLockingUpdate())
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound("participation entry not found", err)
		}
		if err != nil {
			return errutil.Internal("failed to load participation entry", err)
		}

		allowed, err := s.approver.CanApprove(ctx, actor, entry)
		if err != nil {
			return errutil.Internal("failed to evaluate approval policy", err)
		}
		if !allowed {
			return errutil.Forbidden("not allowed to decide this entry", nil)
		}

		if entry.Status != StatusPending {
			return alreadyDecided(entry.Status, nil)
		}

		now := s.now()
		update := StatusUpdate{
			Status:    status,
			DecidedAt: now,
			DecidedBy: actor.MemberID,
		}
		if status == StatusApproved {
			update.ApprovedAt = &now
		}

		if err := repo.UpdateStatusIfPending(ctx, entry.ID, update); err != nil {
			if errors.Is(err, ErrNotPending) {
				return alreadyDecided("", err)
			}
			return errutil.Internal("failed to update participation entry", err)
		}

		metadata, err := json.Marshal(map[string]string{
			"hours":    entry.Hours.String(),
			"category": string(entry.Category),
		})
		if err != nil {
			return errutil.Internal("failed to encode decision metadata", err)
		}

		decision = &Decision{
			ID:         s.node.NextID(),
			EntryID:    entry.ID,
			MemberID:   entry.MemberID,
			ReviewerID: actor.MemberID,
			FromStatus: entry.Status,
			ToStatus:   status,
			Note:       note,
			Metadata:   datatypes.JSON(metadata),
			CreatedAt:  now,
		}
		if err := repo.CreateDecision(ctx, decision); err != nil {
			return errutil.Internal("failed to record decision", err)
		}

		entry.Status = status
		entry.ApprovedAt = update.ApprovedAt
		entry.DecidedAt = &now
		entry.DecidedBy = &actor.MemberID
		decided = entry
		return nil
	})
	if err != nil {
		if errutil.Is(err, errutil.StatusConflict) {
			transitionConflicts.Inc()
		}
		if errutil.Is(err, errutil.StatusInternal) {
			zapLog.Error("failed to transition participation entry", zap.Error(err))
		} else {
			zapLog.Info("participation transition refused", zap.Error(err))
		}
		return nil, fail(span, err)
	}

	decisionsTotal.WithLabelValues(string(status)).Inc()
	zapLog.Info("participation entry decided", zap.String("member_id", decided.MemberID))

	s.publishDecision(ctx, zapLog, decided, decision)

	return decided, nil
}

func alreadyDecided(current Status, err error) error {
	msg := "participation entry was already decided"
	if current != "" {
		msg = fmt.Sprintf("participation entry was already %s", strings.ToLower(string(current)))
	}
	return errutil.Conflict(msg, err)
}

// publishDecision is best effort; the decision is already committed.
func (s *Service) publishDecision(ctx context.Context, zapLog *zap.Logger, entry *Entry, d *Decision) {
	if s.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := s.publisher.PublishDecision(ctx, events.DecisionEvent{
		Type:       events.TypeEntryDecided,
		EntryID:    entry.ID,
		MemberID:   entry.MemberID,
		ReviewerID: d.ReviewerID,
		FromStatus: string(d.FromStatus),
		ToStatus:   string(d.ToStatus),
		Hours:      entry.Hours.String(),
		Category:   string(entry.Category),
		Note:       d.Note,
		DecidedAt:  d.CreatedAt,
	})
	if err != nil {
		zapLog.Warn("failed to publish decision event", zap.Error(err))
	}
}

func (s *Service) normalize(p pagination.Pagination) pagination.Pagination {
	return p.Normalize(s.defaultLimit, s.maxLimit)
}

// ListEntries returns the member's entries, most recent first.
func (s *Service) ListEntries(ctx context.Context, memberID string, opts ListOptions) (*EntryPage, error) {
	ctx, span := tracer.Start(ctx, "participation.ListEntries",
		trace.WithAttributes(attribute.String("member_id", memberID)))
	defer span.End()

	for _, st := range opts.Statuses {
		if !st.Valid() {
			return nil, fail(span, errutil.ValidationFailed("invalid list options", nil,
				errutil.WithDetails(errutil.Detail{Field: "status", Message: fmt.Sprintf("unknown status %q", st)})))
		}
	}

	page := s.normalize(opts.Pagination)
	entries, err := s.repo.List(ctx, EntryFilter{MemberID: memberID, Statuses: opts.Statuses},
		option.WithSortBy(
			option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"},
			option.QuerySortBy{SortBy: "id", OrderBy: "desc"},
		),
		option.ApplyPagination(page),
	)
	if err != nil {
		logger.Ctx(ctx).Error("failed to list participation entries",
			zap.String("member_id", memberID), zap.Error(err))
		return nil, fail(span, errutil.Internal("failed to list participation entries", err))
	}

	entries, info := pagination.BuildPageInfo(entries, page)
	return &EntryPage{Entries: entries, PageInfo: info}, nil
}

// ListPending returns the review queue across all members, oldest first.
func (s *Service) ListPending(ctx context.Context, p pagination.Pagination) (*EntryPage, error) {
	ctx, span := tracer.Start(ctx, "participation.ListPending")
	defer span.End()

	page := s.normalize(p)
	entries, err := s.repo.List(ctx, EntryFilter{Statuses: []Status{StatusPending}},
		option.WithSortBy(
			option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"},
			option.QuerySortBy{SortBy: "id", OrderBy: "asc"},
		),
		option.ApplyPagination(page),
	)
	if err != nil {
		logger.Ctx(ctx).Error("failed to list pending entries", zap.Error(err))
		return nil, fail(span, errutil.Internal("failed to list pending entries", err))
	}

	entries, info := pagination.BuildPageInfo(entries, page)
	return &EntryPage{Entries: entries, PageInfo: info}, nil
}

// ComputeSummary derives the member summary from a single read transaction.
func (s *Service) ComputeSummary(ctx context.Context, memberID string) (Summary, error) {
	ctx, span := tracer.Start(ctx, "participation.ComputeSummary",
		trace.WithAttributes(attribute.String("member_id", memberID)))
	defer span.End()

	var entries []*Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entries, err = s.repo.WithTrx(tx).List(ctx, EntryFilter{MemberID: memberID})
		return err
	})
	if err != nil {
		logger.Ctx(ctx).Error("failed to compute participation summary",
			zap.String("member_id", memberID), zap.Error(err))
		return Summary{}, fail(span, errutil.Internal("failed to compute participation summary", err))
	}

	return Summarize(memberID, entries), nil
}

// MemberOverview loads a page of entries and the summary concurrently.
func (s *Service) MemberOverview(ctx context.Context, memberID string, opts ListOptions) (*Overview, error) {
	var page *EntryPage
	var summary Summary

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		page, err = s.ListEntries(gctx, memberID, opts)
		return err
	})
	g.Go(func() error {
		var err error
		summary, err = s.ComputeSummary(gctx, memberID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Overview{EntryPage: *page, Summary: summary}, nil
}

func (s *Service) GetEntry(ctx context.Context, entryID string) (*Entry, error) {
	ctx, span := tracer.Start(ctx, "participation.GetEntry",
		trace.WithAttributes(attribute.String("entry_id", entryID)))
	defer span.End()

	entry, err := s.repo.GetByID(ctx, entryID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fail(span, errutil.NotFound("participation entry not found", err))
	}
	if err != nil {
		return nil, fail(span, errutil.Internal("failed to load participation entry", err))
	}
	return entry, nil
}

// EntryWithDecisions loads an entry and its audit trail, oldest decision
// first, from one read transaction.
func (s *Service) EntryWithDecisions(ctx context.Context, entryID string) (*Entry, []*Decision, error) {
	ctx, span := tracer.Start(ctx, "participation.EntryWithDecisions",
		trace.WithAttributes(attribute.String("entry_id", entryID)))
	defer span.End()

	var entry *Entry
	var decisions []*Decision
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)

		var err error
		entry, err = repo.GetByID(ctx, entryID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound("participation entry not found", err)
		}
		if err != nil {
			return errutil.Internal("failed to load participation entry", err)
		}

		decisions, err = repo.ListDecisions(ctx, entryID)
		if err != nil {
			return errutil.Internal("failed to list decisions", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fail(span, err)
	}
	return entry, decisions, nil
}

// ListDecisions returns the audit trail of an entry, oldest first.
func (s *Service) ListDecisions(ctx context.Context, entryID string) ([]*Decision, error) {
	_, decisions, err := s.EntryWithDecisions(ctx, entryID)
	return decisions, err
}

// CanReview reports whether actor may read other members' entries.
func (s *Service) CanReview(ctx context.Context, actor identity.Actor) error {
	ok, err := s.approver.CanReview(ctx, actor)
	if err != nil {
		return errutil.Internal("failed to evaluate review policy", err)
	}
	if !ok {
		return errutil.Forbidden("reviewer role required", nil)
	}
	return nil
}
