package model

import (
	"time"

	"github.com/google/uuid"
)

// Clock is the time source injected into use cases.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers for new rows.
type IDGenerator interface {
	NewID() string
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Used by tests and replays.
type FixedClock struct{ At time.Time }

// Now returns At.
func (c *FixedClock) Now() time.Time { return c.At }

// UUIDGenerator returns random v4 UUIDs.
type UUIDGenerator struct{}

// NewID returns a random UUID.
func (UUIDGenerator) NewID() string { return uuid.NewString() }

// SequenceGenerator hands out a predefined list of ids, then falls back to
// random UUIDs.
type SequenceGenerator struct {
	IDs  []string
	next int
}

// NewID returns the next configured ID.
func (g *SequenceGenerator) NewID() string {
	if g.next < len(g.IDs) {
		id := g.IDs[g.next]
		g.next++
		return id
	}
	return uuid.NewString()
}
