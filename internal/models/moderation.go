package models

import "time"

const (
	ContentTypeNotice  = "notice"
	ContentTypeReport  = "report"
	ContentTypeMessage = "message"
	ContentTypeAll     = "all"

	ActionApprove = "approve"
	ActionArchive = "archive"
	ActionRemove  = "remove"
)

// AuditEntry is an append-only record of an administrative action.
type AuditEntry struct {
	ID         string    `db:"id" json:"id"`
	AdminID    string    `db:"admin_id" json:"adminId"`
	Action     string    `db:"action" json:"action"`
	TargetType string    `db:"target_type" json:"targetType"`
	TargetID   string    `db:"target_id" json:"targetId"`
	Reason     string    `db:"reason" json:"reason"`
	Details    JSONMap   `db:"details" json:"details"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// FlaggedContent is the moderation-queue view of any flaggable item.
type FlaggedContent struct {
	ContentID   string    `db:"id"`
	ContentType string    `db:"content_type"`
	AuthorID    string    `db:"author_id"`
	Title       string    `db:"title"`
	Body        string    `db:"body"`
	ChatID      *string   `db:"chat_id"`
	Status      string    `db:"status"`
	Reports     Reports   `db:"reports"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// FlaggedAt is the time of the earliest report, or CreatedAt when none carry a time.
func (f FlaggedContent) FlaggedAt() time.Time {
	var first time.Time
	for _, r := range f.Reports {
		if !r.ReportedAt.IsZero() && (first.IsZero() || r.ReportedAt.Before(first)) {
			first = r.ReportedAt
		}
	}
	if first.IsZero() {
		return f.CreatedAt
	}
	return first
}

// ModerationChange is the post-state written by a moderation transition.
type ModerationChange struct {
	ContentType string
	ContentID   string
	Action      string
	Status      string
	Reason      *string
	ModeratorID string
	At          time.Time
	// ClearReports empties the report list and clears the flag marker.
	ClearReports bool
}
