// Package services implements the chat, group, reaction and moderation use
// cases on top of the repositories, the realtime hub and the post-commit
// dispatcher.
package services

import (
	"context"
	"errors"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"neighbourhood-chat/internal/apperrors"
	"neighbourhood-chat/internal/dataaccess"
	"neighbourhood-chat/internal/models"
	"neighbourhood-chat/internal/repositories"
)

var tracer = otel.Tracer("neighbourhood-chat/services")

var validate = validator.New(validator.WithRequiredStructEnabled())

// EventPublisher sends domain events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// fail records err on the span and returns it classified.
func fail(span trace.Span, err error) error {
	classified := apperrors.Classify(err)
	span.RecordError(classified)
	span.SetStatus(codes.Error, classified.Code)
	return classified
}

// keyedMutex serializes work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// requireMember fails with GROUP_ACCESS_DENIED unless userID belongs to the
// active group.
func requireMember(ctx context.Context, exec *dataaccess.Executor, groups repositories.GroupRepository, groupID, userID string) error {
	ok, err := dataaccess.Get(ctx, exec, "groups.is_member", func(ctx context.Context) (bool, error) {
		return groups.IsMember(ctx, groupID, userID)
	})
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Forbidden(apperrors.CodeGroupAccessDenied, "You are not a member of this group")
	}
	return nil
}

func usersByID(users []models.User) map[string]*models.User {
	out := make(map[string]*models.User, len(users))
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out
}

func messagesByID(msgs []models.Message) map[string]*models.Message {
	out := make(map[string]*models.Message, len(msgs))
	for i := range msgs {
		out[msgs[i].ID] = &msgs[i]
	}
	return out
}

// fieldErrors flattens validator failures into client-visible details.
func fieldErrors(err error) []map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]map[string]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, map[string]string{"field": fe.Namespace(), "rule": fe.Tag()})
	}
	return out
}
