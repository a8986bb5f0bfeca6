package statemanager_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/m0nds/teamflow-pro/pkg/state"
	"github.com/m0nds/teamflow-pro/pkg/state/statemanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestRegistry() *statemanager.InMemoryRegistry {
	return statemanager.NewInMemoryRegistry(newTestLogger())
}

// --- Membership Tests ---

func TestJoinThenMembersObservesJoiner(t *testing.T) {
	r := newTestRegistry()
	conn := uuid.New()
	room := state.ProjectRoom("p1")

	assert.True(t, r.Join(room, conn))
	assert.Equal(t, []uuid.UUID{conn}, r.Members(room))
	assert.Equal(t, 1, r.Size(room))
}

func TestJoinThenLeaveExcludesConnection(t *testing.T) {
	r := newTestRegistry()
	a, b := uuid.New(), uuid.New()
	room := state.ProjectRoom("p1")

	r.Join(room, a)
	r.Join(room, b)
	require.True(t, r.Leave(room, a))

	assert.NotContains(t, r.Members(room), a)
	assert.Contains(t, r.Members(room), b)
	assert.Empty(t, r.RoomsOf(a))
}

func TestDuplicateJoinKeepsSingleMembership(t *testing.T) {
	r := newTestRegistry()
	conn := uuid.New()
	room := state.ProjectRoom("p1")

	assert.True(t, r.Join(room, conn))
	assert.False(t, r.Join(room, conn))
	assert.Equal(t, 1, r.Size(room))
}

func TestLeaveNonMemberIsNoop(t *testing.T) {
	r := newTestRegistry()
	a, b := uuid.New(), uuid.New()
	room := state.ProjectRoom("p1")

	assert.False(t, r.Leave(room, a), "unknown room")
	r.Join(room, b)
	assert.False(t, r.Leave(room, a), "known room, not a member")
	assert.Equal(t, []uuid.UUID{b}, r.Members(room))
}

func TestEmptyRoomIsIndistinguishableFromMissing(t *testing.T) {
	r := newTestRegistry()
	conn := uuid.New()
	room := state.ProjectRoom("p1")

	r.Join(room, conn)
	r.Leave(room, conn)
	assert.Empty(t, r.Members(room))
	assert.Equal(t, 0, r.Size(room))
	assert.Equal(t, 0, r.Size(state.ProjectRoom("never-created")))
}

func TestRoomsAreIsolated(t *testing.T) {
	r := newTestRegistry()
	a, b := uuid.New(), uuid.New()

	r.Join(state.ProjectRoom("p1"), a)
	r.Join(state.ProjectRoom("p2"), b)

	assert.Equal(t, []uuid.UUID{a}, r.Members(state.ProjectRoom("p1")))
	assert.Equal(t, []uuid.UUID{b}, r.Members(state.ProjectRoom("p2")))
}

func TestPurgeRemovesEveryMembership(t *testing.T) {
	r := newTestRegistry()
	conn, other := uuid.New(), uuid.New()
	rooms := []string{state.ProjectRoom("p2"), state.ProjectRoom("p1"), state.NotificationRoom("u1")}
	for _, room := range rooms {
		r.Join(room, conn)
		r.Join(room, other)
	}

	purged := r.Purge(conn)
	assert.Equal(t, []string{"notify:u1", "project:p1", "project:p2"}, purged)
	for _, room := range rooms {
		assert.NotContains(t, r.Members(room), conn)
		assert.Contains(t, r.Members(room), other)
	}
	assert.Empty(t, r.RoomsOf(conn))
	assert.Empty(t, r.Purge(conn), "second purge finds nothing")
}

func TestRoomKeys(t *testing.T) {
	id, ok := state.ProjectIDFrom(state.ProjectRoom("abc"))
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = state.ProjectIDFrom(state.NotificationRoom("u1"))
	assert.False(t, ok)
	assert.True(t, state.IsNotificationRoom("notify:u1"))
	assert.False(t, state.IsNotificationRoom("project:p1"))
}

func TestConnectionLabelAndOwner(t *testing.T) {
	id := uuid.MustParse("abcd1234-0000-0000-0000-000000000000")
	assert.Equal(t, "User-abcd", state.ConnectionLabel(id))
	assert.Equal(t, "u1", state.OwnerKey("u1", "1.2.3.4"))
	assert.Equal(t, "ip:1.2.3.4", state.OwnerKey("", "1.2.3.4"))
}
