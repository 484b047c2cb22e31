package models

import "strings"

// User is the read-only directory view of an account.
type User struct {
	ID              string  `db:"id"`
	FirstName       string  `db:"first_name"`
	LastName        string  `db:"last_name"`
	ProfileImageURL *string `db:"profile_image_url"`
	NeighbourhoodID *string `db:"neighbourhood_id"`
	Role            string  `db:"role"`
	IsActive        bool    `db:"is_active"`
}

// DisplayName joins first and last name, or returns "" when both are blank.
func (u User) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}
