package models

import "time"

const (
	GroupTypePublic       = "public"
	GroupTypePrivate      = "private"
	GroupTypeAnnouncement = "announcement"

	MemberRoleAdmin  = "admin"
	MemberRoleMember = "member"
)

// Group is a neighbourhood-scoped chat room.
type Group struct {
	ID              string    `db:"id" json:"id"`
	NeighbourhoodID string    `db:"neighbourhood_id" json:"neighbourhoodId"`
	Name            string    `db:"name" json:"name"`
	Description     string    `db:"description" json:"description"`
	Type            string    `db:"type" json:"type"`
	CreatedBy       string    `db:"created_by" json:"createdBy"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	LastActivity    time.Time `db:"last_activity" json:"lastActivity"`
	IsActive        bool      `db:"is_active" json:"isActive"`
}

// GroupMember is one entry of a group's ordered membership.
type GroupMember struct {
	GroupID  string    `db:"group_id" json:"-"`
	UserID   string    `db:"user_id" json:"userId"`
	Role     string    `db:"role" json:"role"`
	JoinedAt time.Time `db:"joined_at" json:"joinedAt"`
}

// GroupWithMembers is a group loaded together with its membership.
type GroupWithMembers struct {
	Group
	Members []GroupMember
}

// Member returns the membership entry of userID, if any.
func (g GroupWithMembers) Member(userID string) (GroupMember, bool) {
	for _, m := range g.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return GroupMember{}, false
}

// GroupMembership pairs a group with the caller's role in it.
type GroupMembership struct {
	Group
	MemberRole string `db:"member_role"`
}

// MemberProfile is a member enriched with directory data.
type MemberProfile struct {
	UserID          string    `db:"user_id" json:"userId"`
	Role            string    `db:"role" json:"role"`
	JoinedAt        time.Time `db:"joined_at" json:"joinedAt"`
	FirstName       string    `db:"first_name" json:"firstName"`
	LastName        string    `db:"last_name" json:"lastName"`
	ProfileImageURL *string   `db:"profile_image_url" json:"profileImageUrl"`
}
