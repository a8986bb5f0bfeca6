// Package locator holds the process-wide broker instance so that code paths
// with no connection context (HTTP mutation handlers) can reach it.
package locator

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m0nds/teamflow-pro/internal/broker"
	"github.com/m0nds/teamflow-pro/internal/metrics"
	"golang.org/x/sync/singleflight"
)

var ErrNoFactory = errors.New("locator has no broker factory")

// Factory constructs and starts a broker.
type Factory func(ctx context.Context) (*broker.Broker, error)

type Locator struct {
	current atomic.Pointer[broker.Broker]
	group   singleflight.Group
	factory Factory
	metrics *metrics.Collectors
	logger  *slog.Logger
}

// New returns an empty locator. factory may be nil, in which case only Set
// can populate it.
func New(logger *slog.Logger, factory Factory, m *metrics.Collectors) *Locator {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Locator{
		factory: factory,
		metrics: m,
		logger:  logger.With(slog.String("component", "locator")),
	}
}

// Set publishes b and returns whatever was published before it.
func (l *Locator) Set(b *broker.Broker) *broker.Broker {
	prev := l.current.Swap(b)
	if prev != nil && prev != b {
		l.logger.Warn("Replacing published broker", slog.String("previous", prev.ID().String()), slog.String("next", b.ID().String()))
	}
	return prev
}

// Get never blocks and never constructs.
func (l *Locator) Get() (*broker.Broker, bool) {
	b := l.current.Load()
	return b, b != nil
}

// Ensure returns the published broker, constructing it with the factory if
// there is none yet. Concurrent callers share a single construction.
func (l *Locator) Ensure(ctx context.Context) (*broker.Broker, error) {
	if b, ok := l.Get(); ok {
		return b, nil
	}
	if l.factory == nil {
		return nil, ErrNoFactory
	}
	v, err, _ := l.group.Do("broker", func() (any, error) {
		// another caller may have finished between Get and Do
		if b, ok := l.Get(); ok {
			return b, nil
		}
		b, err := l.factory(ctx)
		if err != nil {
			return nil, err
		}
		l.current.Store(b)
		l.metrics.BrokerBootstraps.Inc()
		l.logger.Info("Broker bootstrapped", slog.String("brokerID", b.ID().String()))
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*broker.Broker), nil
}
