package broker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/m0nds/teamflow-pro/internal/metrics"
	"github.com/m0nds/teamflow-pro/pkg/protocol"
	"github.com/m0nds/teamflow-pro/pkg/state"
)

// Sender is the broker's view of a client connection.
type Sender interface {
	ID() uuid.UUID
	// Send must not block; it reports false when the message was dropped.
	Send(msg []byte) bool
	Close(err error)
}

type member struct {
	sender Sender
	info   state.ConnInfo
}

// Hub is the broker's state: the connection table and the room registry.
// Only code running on the broker goroutine (an Op) may use it.
type Hub struct {
	registry state.Registry
	conns    map[uuid.UUID]*member
	now      func() time.Time
	metrics  *metrics.Collectors
	logger   *slog.Logger
}

// Attach records an open connection. It reports false if the id is taken.
func (h *Hub) Attach(s Sender, info state.ConnInfo) bool {
	if _, exists := h.conns[s.ID()]; exists {
		return false
	}
	info.ID = s.ID()
	if info.CreatedAt.IsZero() {
		info.CreatedAt = h.now()
	}
	h.conns[s.ID()] = &member{sender: s, info: info}
	h.metrics.ConnectionsActive.Inc()
	h.logger.Debug("Connection attached", slog.String("connID", info.ID.String()), slog.String("owner", info.Owner))
	return true
}

// Detach forgets a connection and removes it from every room, returning the
// rooms it was in.
func (h *Hub) Detach(id uuid.UUID) ([]string, bool) {
	if _, ok := h.conns[id]; !ok {
		return nil, false
	}
	rooms := h.registry.Purge(id)
	delete(h.conns, id)
	h.metrics.ConnectionsActive.Dec()
	h.logger.Debug("Connection detached", slog.String("connID", id.String()), slog.Int("rooms", len(rooms)))
	return rooms, true
}

func (h *Hub) Connected(id uuid.UUID) bool {
	_, ok := h.conns[id]
	return ok
}

func (h *Hub) Info(id uuid.UUID) (state.ConnInfo, bool) {
	m, ok := h.conns[id]
	if !ok {
		return state.ConnInfo{}, false
	}
	return m.info, true
}

// Join adds an attached connection to room. The bool is false for a repeat join.
func (h *Hub) Join(room string, id uuid.UUID) (bool, error) {
	if !h.Connected(id) {
		return false, fmt.Errorf("join %s: %w", room, ErrUnknownConnection)
	}
	return h.registry.Join(room, id), nil
}

func (h *Hub) Leave(room string, id uuid.UUID) bool {
	return h.registry.Leave(room, id)
}

func (h *Hub) RoomsOf(id uuid.UUID) []string {
	return h.registry.RoomsOf(id)
}

func (h *Hub) RoomSize(room string) int {
	return h.registry.Size(room)
}

// Broadcast encodes ev once and hands it to every member of room except the
// given connection (uuid.Nil excludes no one). It returns how many members
// accepted the message.
func (h *Hub) Broadcast(room string, ev protocol.Outbound, except uuid.UUID) (int, error) {
	msg, err := protocol.Encode(ev)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, id := range h.registry.Members(room) {
		if id == except {
			continue
		}
		m, ok := h.conns[id]
		if !ok {
			continue
		}
		if m.sender.Send(msg) {
			delivered++
		} else {
			h.metrics.SendsDropped.Inc()
		}
	}
	h.metrics.OutboundMessages.WithLabelValues(string(ev.Name())).Add(float64(delivered))
	return delivered, nil
}

// SendTo pushes ev to one connection.
func (h *Hub) SendTo(id uuid.UUID, ev protocol.Outbound) error {
	m, ok := h.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	msg, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	if !m.sender.Send(msg) {
		h.metrics.SendsDropped.Inc()
		return nil
	}
	h.metrics.OutboundMessages.WithLabelValues(string(ev.Name())).Inc()
	return nil
}

// CountOwned is the number of attached connections with the given owner key.
func (h *Hub) CountOwned(owner string) int {
	n := 0
	for _, m := range h.conns {
		if m.info.Owner == owner {
			n++
		}
	}
	return n
}

// Oldest returns the earliest attached connection of owner.
func (h *Hub) Oldest(owner string) (Sender, bool) {
	var oldest *member
	for _, m := range h.conns {
		if m.info.Owner != owner {
			continue
		}
		if oldest == nil || m.info.CreatedAt.Before(oldest.info.CreatedAt) {
			oldest = m
		}
	}
	if oldest == nil {
		return nil, false
	}
	return oldest.sender, true
}

func (h *Hub) Len() int {
	return len(h.conns)
}

func (h *Hub) Now() time.Time {
	return h.now()
}

func (h *Hub) senders() []Sender {
	out := make([]Sender, 0, len(h.conns))
	for _, m := range h.conns {
		out = append(out, m.sender)
	}
	return out
}
