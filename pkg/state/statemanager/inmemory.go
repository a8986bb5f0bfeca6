package statemanager

import (
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/m0nds/teamflow-pro/pkg/state"
)

type set map[uuid.UUID]struct{}

// InMemoryRegistry is the default Registry. It holds no mutex; see
// state.Registry for the ownership rule.
type InMemoryRegistry struct {
	rooms       map[string]set
	memberships map[uuid.UUID]map[string]struct{}

	logger *slog.Logger
}

func NewInMemoryRegistry(logger *slog.Logger) *InMemoryRegistry {
	return &InMemoryRegistry{
		rooms:       make(map[string]set),
		memberships: make(map[uuid.UUID]map[string]struct{}),
		logger:      logger.With(slog.String("component", "room_registry_inmemory")),
	}
}

// compile-time check to ensure InMemoryRegistry implements Registry.
var _ state.Registry = (*InMemoryRegistry)(nil)

func (m *InMemoryRegistry) Join(room string, connID uuid.UUID) bool {
	members, ok := m.rooms[room]
	if !ok {
		members = make(set)
		m.rooms[room] = members
	}
	if _, exists := members[connID]; exists {
		return false
	}
	members[connID] = struct{}{}

	joined, ok := m.memberships[connID]
	if !ok {
		joined = make(map[string]struct{})
		m.memberships[connID] = joined
	}
	joined[room] = struct{}{}

	m.logger.Debug("Connection joined room", slog.String("connID", connID.String()), slog.String("room", room))
	return true
}

func (m *InMemoryRegistry) Leave(room string, connID uuid.UUID) bool {
	members, ok := m.rooms[room]
	if !ok {
		return false
	}
	if _, exists := members[connID]; !exists {
		return false
	}
	delete(members, connID)
	// an empty room is the same as no room
	if len(members) == 0 {
		delete(m.rooms, room)
	}

	if joined, ok := m.memberships[connID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(m.memberships, connID)
		}
	}
	m.logger.Debug("Connection left room", slog.String("connID", connID.String()), slog.String("room", room))
	return true
}

func (m *InMemoryRegistry) Members(room string) []uuid.UUID {
	members := m.rooms[room]
	out := make([]uuid.UUID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

func (m *InMemoryRegistry) Size(room string) int {
	return len(m.rooms[room])
}

func (m *InMemoryRegistry) RoomsOf(connID uuid.UUID) []string {
	joined := m.memberships[connID]
	out := make([]string, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

func (m *InMemoryRegistry) Purge(connID uuid.UUID) []string {
	rooms := m.RoomsOf(connID)
	for _, room := range rooms {
		m.Leave(room, connID)
	}
	if len(rooms) > 0 {
		m.logger.Debug("Purged connection from rooms", slog.String("connID", connID.String()), slog.Int("rooms", len(rooms)))
	}
	return rooms
}
