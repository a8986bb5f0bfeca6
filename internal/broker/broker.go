// Package broker runs the single-process realtime broker.
//
// Every mutation of presence state and every fan-out happens on one goroutine
// (Run), in the order operations were queued. Handlers therefore need no
// locks, and a slow operation delays everyone: ops must not block.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/m0nds/teamflow-pro/internal/metrics"
	"github.com/m0nds/teamflow-pro/pkg/state"
	"github.com/m0nds/teamflow-pro/pkg/state/statemanager"
)

var (
	ErrStopped           = errors.New("broker stopped")
	ErrQueueFull         = errors.New("broker queue full")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrAlreadyRunning    = errors.New("broker already running")

	errShutdown = errors.New("broker shutting down")
)

// Op is a unit of work executed on the broker goroutine.
type Op func(h *Hub)

type Options struct {
	QueueSize int
	Registry  state.Registry
	Metrics   *metrics.Collectors
	Now       func() time.Time
}

type Broker struct {
	id      uuid.UUID
	hub     *Hub
	ops     chan Op
	stopped chan struct{}
	running atomic.Bool
	logger  *slog.Logger
}

func New(logger *slog.Logger, opts Options) *Broker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	id := uuid.New()
	logger = logger.With(slog.String("component", "broker"), slog.String("brokerID", id.String()))
	if opts.Registry == nil {
		opts.Registry = statemanager.NewInMemoryRegistry(logger)
	}

	return &Broker{
		id: id,
		hub: &Hub{
			registry: opts.Registry,
			conns:    make(map[uuid.UUID]*member),
			now:      opts.Now,
			metrics:  opts.Metrics,
			logger:   logger,
		},
		ops:     make(chan Op, opts.QueueSize),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

func (b *Broker) ID() uuid.UUID {
	return b.id
}

// Run processes queued ops until ctx is cancelled, then closes every attached
// connection. It may be called once.
func (b *Broker) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	b.logger.Info("Broker started")
	for {
		select {
		case op := <-b.ops:
			b.exec(op)
		case <-ctx.Done():
			b.shutdown()
			return nil
		}
	}
}

func (b *Broker) exec(op Op) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Broker op panicked", slog.Any("panic", r))
		}
	}()
	op(b.hub)
}

func (b *Broker) shutdown() {
	// mark stopped first so close callbacks that try to queue work return at once
	close(b.stopped)
	senders := b.hub.senders()
	for _, s := range senders {
		s.Close(errShutdown)
	}
	b.logger.Info("Broker stopped", slog.Int("closed_connections", len(senders)))
}

// Done is closed once the broker has stopped.
func (b *Broker) Done() <-chan struct{} {
	return b.stopped
}

// Submit queues op, blocking while the queue is full.
func (b *Broker) Submit(ctx context.Context, op Op) error {
	select {
	case <-b.stopped:
		return ErrStopped
	default:
	}
	select {
	case b.ops <- op:
		return nil
	case <-b.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues op or fails immediately with ErrQueueFull.
func (b *Broker) TrySubmit(op Op) error {
	select {
	case <-b.stopped:
		return ErrStopped
	default:
	}
	select {
	case b.ops <- op:
		return nil
	default:
		return ErrQueueFull
	}
}

// Do queues op and waits for it to finish. Because ops run in order, Do also
// acts as a barrier for everything queued before it.
func (b *Broker) Do(ctx context.Context, op Op) error {
	done := make(chan struct{})
	var opErr error
	wrapped := func(h *Hub) {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				opErr = fmt.Errorf("broker op panicked: %v", r)
			}
		}()
		op(h)
	}
	if err := b.Submit(ctx, wrapped); err != nil {
		return err
	}
	select {
	case <-done:
		return opErr
	case <-b.stopped:
		select {
		case <-done:
			return opErr
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RoomSize reports how many connections are in room.
func (b *Broker) RoomSize(ctx context.Context, room string) (int, error) {
	var n int
	err := b.Do(ctx, func(h *Hub) { n = h.RoomSize(room) })
	return n, err
}

// ConnectionCount reports how many connections are attached.
func (b *Broker) ConnectionCount(ctx context.Context) (int, error) {
	var n int
	err := b.Do(ctx, func(h *Hub) { n = h.Len() })
	return n, err
}

// CountOwned reports how many connections belong to owner.
func (b *Broker) CountOwned(ctx context.Context, owner string) (int, error) {
	var n int
	err := b.Do(ctx, func(h *Hub) { n = h.CountOwned(owner) })
	return n, err
}

// CloseOldest closes the earliest connection of owner, if any. The close runs
// off the broker goroutine; its disconnect purge is queued like any other op.
func (b *Broker) CloseOldest(ctx context.Context, owner string, reason error) (bool, error) {
	var oldest Sender
	err := b.Do(ctx, func(h *Hub) {
		oldest, _ = h.Oldest(owner)
	})
	if err != nil || oldest == nil {
		return false, err
	}
	b.logger.Info("Cycling connection: closing oldest", slog.String("owner", owner), slog.String("connID", oldest.ID().String()))
	oldest.Close(reason)
	return true, nil
}
