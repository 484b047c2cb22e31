package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"neighbourhood-chat/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads the user directory.
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
	GetUsers(ctx context.Context, userIDs []string) ([]models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, first_name, last_name, profile_image_url, neighbourhood_id, role, is_active`

func (r *UserRepo) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

func (r *UserRepo) GetUsers(ctx context.Context, userIDs []string) ([]models.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE id::text = ANY($1)`, pq.Array(userIDs))
	return users, err
}
