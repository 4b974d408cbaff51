package participation

import (
	"context"
	"errors"
	"time"

	"britepool/pkg/db/option"

	"gorm.io/gorm"
)

// ErrNotPending is returned by UpdateStatusIfPending when the entry already
// left PENDING.
var ErrNotPending = errors.New("entry is not pending")

// EntryFilter describes filters applied when listing entries.
type EntryFilter struct {
	MemberID string
	Statuses []Status
}

// StatusUpdate carries the columns written by a terminal transition.
type StatusUpdate struct {
	Status     Status
	ApprovedAt *time.Time
	DecidedAt  time.Time
	DecidedBy  string
}

// Repository describes database operations available for participation
// entries and their decisions.
type Repository interface {
	WithTrx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *Entry) error
	GetByID(ctx context.Context, id string, opts ...option.QueryOption) (*Entry, error)
	GetByIdempotencyKey(ctx context.Context, memberID, key string) (*Entry, error)
	List(ctx context.Context, filter EntryFilter, opts ...option.QueryOption) ([]*Entry, error)
	UpdateStatusIfPending(ctx context.Context, id string, update StatusUpdate) error
	CreateDecision(ctx context.Context, decision *Decision) error
	ListDecisions(ctx context.Context, entryID string) ([]*Decision, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTrx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{db: tx}
}

func (r *gormRepository) Create(ctx context.Context, entry *Entry) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *gormRepository) GetByID(ctx context.Context, id string, opts ...option.QueryOption) (*Entry, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var entry Entry
	query := option.Apply(r.db.WithContext(ctx).Model(&Entry{}), opts...)
	if err := query.Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *gormRepository) GetByIdempotencyKey(ctx context.Context, memberID, key string) (*Entry, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var entry Entry
	err := r.db.WithContext(ctx).
		Where("member_id = ? AND idempotency_key = ?", memberID, key).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *gormRepository) List(ctx context.Context, filter EntryFilter, opts ...option.QueryOption) ([]*Entry, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).Model(&Entry{})
	if filter.MemberID != "" {
		query = query.Where("member_id = ?", filter.MemberID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	query = option.Apply(query, opts...)

	var entries []*Entry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// UpdateStatusIfPending only matches rows still in PENDING, so of two racing
// transitions exactly one updates a row.
func (r *gormRepository) UpdateStatusIfPending(ctx context.Context, id string, update StatusUpdate) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).Model(&Entry{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{
			"status":      update.Status,
			"approved_at": update.ApprovedAt,
			"decided_at":  update.DecidedAt,
			"decided_by":  update.DecidedBy,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotPending
	}
	return nil
}

func (r *gormRepository) CreateDecision(ctx context.Context, decision *Decision) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(decision).Error
}

func (r *gormRepository) ListDecisions(ctx context.Context, entryID string) ([]*Decision, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var decisions []*Decision
	err := r.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&decisions).Error
	if err != nil {
		return nil, err
	}
	return decisions, nil
}
