package option

import (
	"strings"

	"britepool/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a query before it is executed.
type QueryOption func(*gorm.DB) *gorm.DB

// Apply runs opts against db in order.
func Apply(db *gorm.DB, opts ...QueryOption) *gorm.DB {
	for _, opt := range opts {
		if opt != nil {
			db = opt(db)
		}
	}
	return db
}

// LockingUpdate is a scope adding SELECT ... FOR UPDATE. Dialects without row
// locks (sqlite) drop the clause.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
}

// WithSortBy orders by each SortBy in turn. OrderBy defaults to asc.
func WithSortBy(sorts ...QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, s := range sorts {
			if s.SortBy == "" {
				continue
			}
			desc := strings.EqualFold(s.OrderBy, "desc")
			db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: s.SortBy}, Desc: desc})
		}
		return db
	}
}

// ApplyPagination fetches one row past the limit so callers can tell whether
// another page exists.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if p.Offset > 0 {
			db = db.Offset(p.Offset)
		}
		if p.Limit > 0 {
			db = db.Limit(p.Limit + 1)
		}
		return db
	}
}
