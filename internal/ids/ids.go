package ids

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// New returns a fresh opaque identifier.
func New() string {
	return uuid.NewString()
}

// Valid reports whether id is a syntactically valid identifier.
func Valid(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// Clock issues wall-clock timestamps that never go backwards.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewClock returns a Clock backed by time.Now.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockFunc returns a Clock backed by fn, for tests.
func NewClockFunc(fn func() time.Time) *Clock {
	return &Clock{now: fn}
}

// Now returns the current UTC time truncated to microseconds (Postgres precision),
// never earlier than any value previously returned by this clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}
