package participation

import (
	"sort"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s Status) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// ParseStatus accepts the status code in any case.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	return st, st.Valid()
}

type Category string

const (
	CategoryCommitteeWork      Category = "COMMITTEE_WORK"
	CategoryCommunityService   Category = "COMMUNITY_SERVICE"
	CategoryEventOrganization  Category = "EVENT_ORGANIZATION"
	CategoryMentoring          Category = "MENTORING"
	CategoryProjectDevelopment Category = "PROJECT_DEVELOPMENT"
	CategoryAdministrative     Category = "ADMINISTRATIVE"
	CategoryOutreach           Category = "OUTREACH"
	CategoryOther              Category = "OTHER"
)

var categoryLabels = map[Category]string{
	CategoryCommitteeWork:      "Committee Work",
	CategoryCommunityService:   "Community Service",
	CategoryEventOrganization:  "Event Organization",
	CategoryMentoring:          "Mentoring",
	CategoryProjectDevelopment: "Project Development",
	CategoryAdministrative:     "Administrative",
	CategoryOutreach:           "Outreach",
	CategoryOther:              "Other",
}

// slug -> category, filled from the codes and labels above
var categoryBySlug = map[string]Category{}

func init() {
	for c, label := range categoryLabels {
		categoryBySlug[categoryKey(string(c))] = c
		categoryBySlug[categoryKey(label)] = c
	}
}

func categoryKey(s string) string {
	return strings.ReplaceAll(slug.Make(s), "_", "-")
}

// ParseCategory accepts the code (COMMITTEE_WORK), the label (Committee Work)
// or the slug (committee-work).
func ParseCategory(s string) (Category, bool) {
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	c, ok := categoryBySlug[categoryKey(s)]
	return c, ok
}

func (c Category) Label() string {
	return categoryLabels[c]
}

// Categories returns every category sorted by code.
func Categories() []Category {
	out := make([]Category, 0, len(categoryLabels))
	for c := range categoryLabels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Entry is one self-reported block of participation hours.
type Entry struct {
	ID             string          `gorm:"column:id;primaryKey;size:32"`
	MemberID       string          `gorm:"column:member_id;size:64;not null;index:idx_participation_entries_member_created,priority:1;uniqueIndex:idx_participation_entries_member_idem,priority:1"`
	Hours          decimal.Decimal `gorm:"column:hours;type:decimal(5,2);not null"`
	Category       Category        `gorm:"column:category;size:32;not null"`
	Description    string          `gorm:"column:description;type:text;not null"`
	Status         Status          `gorm:"column:status;size:16;not null;index:idx_participation_entries_status"`
	IdempotencyKey *string         `gorm:"column:idempotency_key;size:128;uniqueIndex:idx_participation_entries_member_idem,priority:2"`
	CreatedAt      time.Time       `gorm:"column:created_at;not null;index:idx_participation_entries_member_created,priority:2"`
	ApprovedAt     *time.Time      `gorm:"column:approved_at"`
	DecidedAt      *time.Time      `gorm:"column:decided_at"`
	DecidedBy      *string         `gorm:"column:decided_by;size:64"`
}

func (Entry) TableName() string {
	return "participation_entries"
}

func (e *Entry) OwnerID() string {
	return e.MemberID
}

// Decision is the audit row written for every status transition.
type Decision struct {
	ID         string         `gorm:"column:id;primaryKey;size:32"`
	EntryID    string         `gorm:"column:entry_id;size:32;not null;index:idx_participation_decisions_entry"`
	MemberID   string         `gorm:"column:member_id;size:64;not null"`
	ReviewerID string         `gorm:"column:reviewer_id;size:64;not null"`
	FromStatus Status         `gorm:"column:from_status;size:16;not null"`
	ToStatus   Status         `gorm:"column:to_status;size:16;not null"`
	Note       string         `gorm:"column:note;type:text"`
	Metadata   datatypes.JSON `gorm:"column:metadata"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null"`
}

func (Decision) TableName() string {
	return "participation_decisions"
}

// Models lists the tables owned by this package, in migration order.
func Models() []any {
	return []any{&Entry{}, &Decision{}}
}
