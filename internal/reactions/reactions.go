// Package reactions holds the per-message reaction state machine.
package reactions

import (
	"slices"
	"time"

	"neighbourhood-chat/internal/models"
)

// Toggle flips userID's reaction of kind reactionType and returns the new
// entry list along with whether the user now reacts with that kind. The input
// is never modified. Entries left without users are dropped.
func Toggle(entries models.Reactions, reactionType, userID string, now time.Time) (models.Reactions, bool) {
	want := !Has(entries, reactionType, userID)
	out, _ := Set(entries, reactionType, userID, want, now)
	return out, want
}

// Has reports whether userID reacts with reactionType.
func Has(entries models.Reactions, reactionType, userID string) bool {
	for _, entry := range entries {
		if entry.Type == reactionType {
			return slices.Contains(entry.Users, userID)
		}
	}
	return false
}

// Set makes userID's reaction of kind reactionType present or absent. It is
// idempotent: changed is false when entries already hold the requested state.
// The input is never modified.
func Set(entries models.Reactions, reactionType, userID string, present bool, now time.Time) (models.Reactions, bool) {
	out := make(models.Reactions, 0, len(entries)+1)
	found := false
	changed := false

	for _, entry := range entries {
		if entry.Type != reactionType {
			out = append(out, cloneEntry(entry))
			continue
		}
		found = true
		users := slices.Clone(entry.Users)
		i := slices.Index(users, userID)
		switch {
		case present && i < 0:
			users = append(users, userID)
			changed = true
		case !present && i >= 0:
			users = slices.Delete(users, i, i+1)
			changed = true
		}
		if len(users) == 0 {
			continue
		}
		entry.Users = users
		entry.Count = len(users)
		out = append(out, entry)
	}

	if !found && present {
		out = append(out, models.Reaction{Type: reactionType, Users: []string{userID}, Count: 1, CreatedAt: now})
		changed = true
	}
	return out, changed
}

// Clear removes every reaction.
func Clear() models.Reactions {
	return models.Reactions{}
}

// Valid reports whether entries satisfy the at-rest invariants: allowed
// type, unique users, count equal to the number of users and no empty entry.
func Valid(entries models.Reactions) bool {
	for _, entry := range entries {
		if !models.IsReactionType(entry.Type) || len(entry.Users) == 0 || entry.Count != len(entry.Users) {
			return false
		}
		seen := make(map[string]struct{}, len(entry.Users))
		for _, u := range entry.Users {
			if _, dup := seen[u]; dup {
				return false
			}
			seen[u] = struct{}{}
		}
	}
	return true
}

func cloneEntry(entry models.Reaction) models.Reaction {
	entry.Users = slices.Clone(entry.Users)
	return entry
}
