package broker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/m0nds/teamflow-pro/internal/broker"
	"github.com/m0nds/teamflow-pro/pkg/logging"
	"github.com/m0nds/teamflow-pro/pkg/protocol"
	"github.com/m0nds/teamflow-pro/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	id uuid.UUID

	mu     sync.Mutex
	msgs   [][]byte
	full   bool
	closed error
}

func newFakeSender() *fakeSender { return &fakeSender{id: uuid.New()} }

func (f *fakeSender) ID() uuid.UUID { return f.id }

func (f *fakeSender) Send(msg []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full || f.closed != nil {
		return false
	}
	f.msgs = append(f.msgs, msg)
	return true
}

func (f *fakeSender) Close(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func startBroker(t *testing.T, opts broker.Options) *broker.Broker {
	t.Helper()
	b := broker.New(logging.Discard(), opts)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-b.Done()
	})
	return b
}

func attach(t *testing.T, b *broker.Broker, s broker.Sender, owner string) {
	t.Helper()
	require.NoError(t, b.Do(context.Background(), func(h *broker.Hub) {
		require.True(t, h.Attach(s, state.ConnInfo{Owner: owner}))
	}))
}

func TestBroadcastSkipsOriginAndOtherRooms(t *testing.T) {
	b := startBroker(t, broker.Options{})
	a, c, outsider := newFakeSender(), newFakeSender(), newFakeSender()
	for _, s := range []*fakeSender{a, c, outsider} {
		attach(t, b, s, "u")
	}

	var delivered int
	require.NoError(t, b.Do(context.Background(), func(h *broker.Hub) {
		_, _ = h.Join(state.ProjectRoom("p1"), a.ID())
		_, _ = h.Join(state.ProjectRoom("p1"), c.ID())
		_, _ = h.Join(state.ProjectRoom("p2"), outsider.ID())
		var err error
		delivered, err = h.Broadcast(state.ProjectRoom("p1"), protocol.UserLeft{UserID: "x", ProjectID: "p1"}, a.ID())
		require.NoError(t, err)
	}))

	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, c.count())
	assert.Equal(t, 0, outsider.count())
}

func TestJoinRequiresAttachedConnection(t *testing.T) {
	b := startBroker(t, broker.Options{})
	var err error
	require.NoError(t, b.Do(context.Background(), func(h *broker.Hub) {
		_, err = h.Join(state.ProjectRoom("p1"), uuid.New())
	}))
	assert.ErrorIs(t, err, broker.ErrUnknownConnection)
}

func TestDetachPurgesRooms(t *testing.T) {
	b := startBroker(t, broker.Options{})
	s := newFakeSender()
	attach(t, b, s, "u")

	var rooms []string
	require.NoError(t, b.Do(context.Background(), func(h *broker.Hub) {
		_, _ = h.Join(state.ProjectRoom("p1"), s.ID())
		_, _ = h.Join(state.NotificationRoom("u1"), s.ID())
		rooms, _ = h.Detach(s.ID())
	}))
	assert.Equal(t, []string{"notify:u1", "project:p1"}, rooms)

	size, err := b.RoomSize(context.Background(), state.ProjectRoom("p1"))
	require.NoError(t, err)
	assert.Zero(t, size)

	n, err := b.ConnectionCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFullBufferDropsWithoutBlocking(t *testing.T) {
	b := startBroker(t, broker.Options{})
	slow, ok := newFakeSender(), newFakeSender()
	slow.full = true
	attach(t, b, slow, "u")
	attach(t, b, ok, "u")

	var delivered int
	require.NoError(t, b.Do(context.Background(), func(h *broker.Hub) {
		_, _ = h.Join("notify:u1", slow.ID())
		_, _ = h.Join("notify:u1", ok.ID())
		delivered, _ = h.Broadcast("notify:u1", protocol.NewNotification{ID: "n1"}, uuid.Nil)
	}))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, ok.count())
}

func TestOpsRunInSubmissionOrder(t *testing.T) {
	b := startBroker(t, broker.Options{})
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, b.Submit(context.Background(), func(h *broker.Hub) { got = append(got, i) }))
	}
	require.NoError(t, b.Do(context.Background(), func(*broker.Hub) {}))
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPanickingOpDoesNotStopLoop(t *testing.T) {
	b := startBroker(t, broker.Options{})
	require.NoError(t, b.Submit(context.Background(), func(*broker.Hub) { panic("boom") }))

	err := b.Do(context.Background(), func(*broker.Hub) { panic("boom again") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	assert.NoError(t, b.Do(context.Background(), func(*broker.Hub) {}))
}

func TestTrySubmitReportsFullQueue(t *testing.T) {
	// not running: nothing drains the queue
	b := broker.New(logging.Discard(), broker.Options{QueueSize: 1})
	require.NoError(t, b.TrySubmit(func(*broker.Hub) {}))
	assert.ErrorIs(t, b.TrySubmit(func(*broker.Hub) {}), broker.ErrQueueFull)
}

func TestStoppedBrokerRejectsWorkAndClosesConnections(t *testing.T) {
	b := broker.New(logging.Discard(), broker.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = b.Run(ctx) }()

	s := newFakeSender()
	attach(t, b, s, "u")
	cancel()
	<-b.Done()

	s.mu.Lock()
	assert.Error(t, s.closed)
	s.mu.Unlock()
	assert.ErrorIs(t, b.Submit(context.Background(), func(*broker.Hub) {}), broker.ErrStopped)
	assert.ErrorIs(t, b.TrySubmit(func(*broker.Hub) {}), broker.ErrStopped)
	assert.ErrorIs(t, b.Do(context.Background(), func(*broker.Hub) {}), broker.ErrStopped)
	assert.ErrorIs(t, b.Run(context.Background()), broker.ErrAlreadyRunning)
}

func TestOwnerCountingAndCycling(t *testing.T) {
	now := time.Unix(1000, 0)
	b := startBroker(t, broker.Options{Now: func() time.Time { now = now.Add(time.Second); return now }})
	first, second, other := newFakeSender(), newFakeSender(), newFakeSender()
	attach(t, b, first, "u1")
	attach(t, b, second, "u1")
	attach(t, b, other, "u2")

	n, err := b.CountOwned(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	reason := errors.New("cycled")
	closed, err := b.CloseOldest(context.Background(), "u1", reason)
	require.NoError(t, err)
	assert.True(t, closed)
	first.mu.Lock()
	assert.Equal(t, reason, first.closed)
	first.mu.Unlock()

	closed, err = b.CloseOldest(context.Background(), "nobody", reason)
	require.NoError(t, err)
	assert.False(t, closed)
}
