// Package cache keeps hot directory lookups in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"neighbourhood-chat/internal/logger"
	"neighbourhood-chat/internal/models"
	"neighbourhood-chat/internal/repositories"
)

const (
	PrefixUser = "chat:user:"
	TTLUser    = 5 * time.Minute
)

// Users is a read-through Redis cache in front of the user directory. With a
// nil client every call goes straight to the directory.
type Users struct {
	next   repositories.UserRepository
	client *redis.Client
	ttl    time.Duration
}

// NewUsers wraps next. A non-positive ttl selects TTLUser.
func NewUsers(next repositories.UserRepository, client *redis.Client, ttl time.Duration) *Users {
	if ttl <= 0 {
		ttl = TTLUser
	}
	return &Users{next: next, client: client, ttl: ttl}
}

func (c *Users) GetUser(ctx context.Context, userID string) (models.User, error) {
	if c.client != nil {
		if user, ok := c.lookup(ctx, userID); ok {
			return user, nil
		}
	}
	user, err := c.next.GetUser(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	c.store(ctx, user)
	return user, nil
}

func (c *Users) GetUsers(ctx context.Context, userIDs []string) ([]models.User, error) {
	if c.client == nil {
		return c.next.GetUsers(ctx, userIDs)
	}
	out := make([]models.User, 0, len(userIDs))
	var missing []string
	for _, id := range userIDs {
		if user, ok := c.lookup(ctx, id); ok {
			out = append(out, user)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}
	loaded, err := c.next.GetUsers(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, user := range loaded {
		c.store(ctx, user)
	}
	return append(out, loaded...), nil
}

func (c *Users) lookup(ctx context.Context, userID string) (models.User, bool) {
	data, err := c.client.Get(ctx, PrefixUser+userID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.FromContext(ctx).Warn().Err(err).Str("user_id", userID).Msg("user cache read failed")
		}
		return models.User{}, false
	}
	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		return models.User{}, false
	}
	return user, true
}

func (c *Users) store(ctx context.Context, user models.User) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, PrefixUser+user.ID, data, c.ttl).Err(); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("user_id", user.ID).Msg("user cache write failed")
	}
}
