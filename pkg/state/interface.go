package state

import (
	"github.com/google/uuid"
)

// Registry maps room keys to the connections currently inside them.
//
// Implementations carry no locking of their own: a Registry is owned by a
// single goroutine (the broker loop) and must not be shared across goroutines.
type Registry interface {
	// Join adds connID to room. It reports false when the connection was
	// already a member; membership is unchanged in that case.
	Join(room string, connID uuid.UUID) bool
	// Leave removes connID from room. Leaving a room one is not in is a no-op
	// and reports false.
	Leave(room string, connID uuid.UUID) bool
	// Members returns the connections in room. An empty room and an unknown
	// room are indistinguishable.
	Members(room string) []uuid.UUID
	// Size is len(Members(room)) without the allocation.
	Size(room string) int
	// RoomsOf lists every room connID is in, sorted.
	RoomsOf(connID uuid.UUID) []string
	// Purge removes connID from every room and returns those rooms, sorted.
	Purge(connID uuid.UUID) []string
}
