package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"neighbourhood-chat/internal/models"
)

var (
	ErrGroupNotFound      = errors.New("group not found")
	ErrDuplicateGroupName = errors.New("group name already used in neighbourhood")
	ErrAlreadyMember      = errors.New("user already a member")
	ErrNotMember          = errors.New("user not a member")
)

// LeaveOutcome describes the membership state after a member left.
type LeaveOutcome struct {
	Remaining      int
	Deactivated    bool
	PromotedUserID string
}

// GroupRepository abstracts group and membership persistence.
type GroupRepository interface {
	CreateGroup(ctx context.Context, group models.Group) (models.Group, error)
	NameTaken(ctx context.Context, neighbourhoodID, name string) (bool, error)
	GetGroup(ctx context.Context, groupID string) (models.Group, error)
	GetGroupWithMembers(ctx context.Context, groupID string) (models.GroupWithMembers, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]models.GroupMembership, error)
	CountMembers(ctx context.Context, groupID string) (int, error)
	ListMembers(ctx context.Context, groupID string) ([]models.MemberProfile, error)
	AddMember(ctx context.Context, groupID, userID, role string, joinedAt time.Time) error
	RemoveMember(ctx context.Context, groupID, userID string) (LeaveOutcome, error)
	TouchActivity(ctx context.Context, groupID string, at time.Time) error
}

// GroupRepo is a sqlx implementation of GroupRepository.
type GroupRepo struct {
	db *sqlx.DB
}

// NewGroupRepo constructs a GroupRepo.
func NewGroupRepo(db *sqlx.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

const groupColumns = `g.id, g.neighbourhood_id, g.name, g.description, g.type, g.created_by, g.created_at, g.last_activity, g.is_active`

// CreateGroup inserts the group and its creator as admin atomically.
func (r *GroupRepo) CreateGroup(ctx context.Context, group models.Group) (created models.Group, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Group{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.NamedExecContext(ctx, `INSERT INTO groups (id, neighbourhood_id, name, description, type, created_by, created_at, last_activity, is_active)
        VALUES (:id, :neighbourhood_id, :name, :description, :type, :created_by, :created_at, :last_activity, TRUE)`, group); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			err = ErrDuplicateGroupName
		}
		return models.Group{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
		group.ID, group.CreatedBy, models.MemberRoleAdmin, group.CreatedAt); err != nil {
		return models.Group{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Group{}, err
	}
	group.IsActive = true
	return group, nil
}

// NameTaken reports whether an active group in the neighbourhood already uses name, ignoring case.
func (r *GroupRepo) NameTaken(ctx context.Context, neighbourhoodID, name string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM groups WHERE neighbourhood_id=$1 AND lower(name)=lower($2) AND is_active)`, neighbourhoodID, name)
	return exists, err
}

// GetGroup fetches a single group.
func (r *GroupRepo) GetGroup(ctx context.Context, groupID string) (models.Group, error) {
	var group models.Group
	err := r.db.GetContext(ctx, &group, `SELECT `+groupColumns+` FROM groups g WHERE g.id=$1`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	return group, err
}

// GetGroupWithMembers fetches a group and its members in join order.
func (r *GroupRepo) GetGroupWithMembers(ctx context.Context, groupID string) (models.GroupWithMembers, error) {
	group, err := r.GetGroup(ctx, groupID)
	if err != nil {
		return models.GroupWithMembers{}, err
	}
	var members []models.GroupMember
	if err := r.db.SelectContext(ctx, &members, `SELECT group_id, user_id, role, joined_at FROM group_members WHERE group_id=$1 ORDER BY joined_at, seq`, groupID); err != nil {
		return models.GroupWithMembers{}, err
	}
	return models.GroupWithMembers{Group: group, Members: members}, nil
}

// IsMember checks membership of an active group.
func (r *GroupRepo) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM group_members gm INNER JOIN groups g ON g.id = gm.group_id
        WHERE gm.group_id=$1 AND gm.user_id=$2 AND g.is_active)`, groupID, userID)
	return exists, err
}

// ListGroupsForUser returns active groups that include the user, most recently active first.
func (r *GroupRepo) ListGroupsForUser(ctx context.Context, userID string) ([]models.GroupMembership, error) {
	var groups []models.GroupMembership
	err := r.db.SelectContext(ctx, &groups, `SELECT `+groupColumns+`, gm.role AS member_role FROM groups g
        INNER JOIN group_members gm ON gm.group_id = g.id
        WHERE gm.user_id=$1 AND g.is_active ORDER BY g.last_activity DESC`, userID)
	return groups, err
}

// CountMembers returns the size of the membership.
func (r *GroupRepo) CountMembers(ctx context.Context, groupID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM group_members WHERE group_id=$1`, groupID)
	return count, err
}

// ListMembers returns members in join order with directory details.
func (r *GroupRepo) ListMembers(ctx context.Context, groupID string) ([]models.MemberProfile, error) {
	var members []models.MemberProfile
	err := r.db.SelectContext(ctx, &members, `SELECT gm.user_id, gm.role, gm.joined_at,
        COALESCE(u.first_name, '') AS first_name, COALESCE(u.last_name, '') AS last_name, u.profile_image_url
        FROM group_members gm LEFT JOIN users u ON u.id = gm.user_id
        WHERE gm.group_id=$1 ORDER BY gm.joined_at, gm.seq`, groupID)
	return members, err
}

// AddMember appends a member to the group.
func (r *GroupRepo) AddMember(ctx context.Context, groupID, userID, role string, joinedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)
        ON CONFLICT (group_id, user_id) DO NOTHING`, groupID, userID, role, joinedAt)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrAlreadyMember
	}
	return nil
}

// RemoveMember deletes a membership. An emptied group is deactivated; a group
// left without an admin promotes its longest-standing member.
func (r *GroupRepo) RemoveMember(ctx context.Context, groupID, userID string) (out LeaveOutcome, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return LeaveOutcome{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// serialize concurrent leaves of the same group
	if _, err = tx.ExecContext(ctx, `SELECT id FROM groups WHERE id=$1 FOR UPDATE`, groupID); err != nil {
		return LeaveOutcome{}, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=$1 AND user_id=$2`, groupID, userID)
	if err != nil {
		return LeaveOutcome{}, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return LeaveOutcome{}, err
	}
	if removed == 0 {
		err = ErrNotMember
		return LeaveOutcome{}, err
	}

	if err = tx.GetContext(ctx, &out.Remaining, `SELECT COUNT(*) FROM group_members WHERE group_id=$1`, groupID); err != nil {
		return LeaveOutcome{}, err
	}

	if out.Remaining == 0 {
		if _, err = tx.ExecContext(ctx, `UPDATE groups SET is_active = FALSE WHERE id=$1`, groupID); err != nil {
			return LeaveOutcome{}, err
		}
		out.Deactivated = true
	} else {
		var admins int
		if err = tx.GetContext(ctx, &admins, `SELECT COUNT(*) FROM group_members WHERE group_id=$1 AND role=$2`, groupID, models.MemberRoleAdmin); err != nil {
			return LeaveOutcome{}, err
		}
		if admins == 0 {
			if err = tx.GetContext(ctx, &out.PromotedUserID, `UPDATE group_members SET role=$2
                WHERE group_id=$1 AND user_id = (SELECT user_id FROM group_members WHERE group_id=$1 ORDER BY joined_at, seq LIMIT 1)
                RETURNING user_id`, groupID, models.MemberRoleAdmin); err != nil {
				return LeaveOutcome{}, err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return LeaveOutcome{}, err
	}
	return out, nil
}

// TouchActivity bumps the group's last activity time; it never moves backwards.
func (r *GroupRepo) TouchActivity(ctx context.Context, groupID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE groups SET last_activity = GREATEST(last_activity, $2) WHERE id=$1`, groupID, at)
	return err
}
