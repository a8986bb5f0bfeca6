package locator_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m0nds/teamflow-pro/internal/broker"
	"github.com/m0nds/teamflow-pro/internal/locator"
	"github.com/m0nds/teamflow-pro/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOnEmptyLocator(t *testing.T) {
	l := locator.New(logging.Discard(), nil, nil)
	b, ok := l.Get()
	assert.False(t, ok)
	assert.Nil(t, b)

	_, err := l.Ensure(context.Background())
	assert.ErrorIs(t, err, locator.ErrNoFactory)
}

func TestSetReturnsPrevious(t *testing.T) {
	l := locator.New(logging.Discard(), nil, nil)
	first := broker.New(logging.Discard(), broker.Options{})
	second := broker.New(logging.Discard(), broker.Options{})

	assert.Nil(t, l.Set(first))
	assert.Same(t, first, l.Set(second))

	got, ok := l.Get()
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestConcurrentEnsureConstructsOnce(t *testing.T) {
	var built atomic.Int32
	release := make(chan struct{})
	factory := func(context.Context) (*broker.Broker, error) {
		built.Add(1)
		<-release
		return broker.New(logging.Discard(), broker.Options{}), nil
	}
	l := locator.New(logging.Discard(), factory, nil)

	const racers = 20
	results := make([]*broker.Broker, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := l.Ensure(context.Background())
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), built.Load())
	for _, b := range results {
		assert.Same(t, results[0], b)
	}
}

func TestEnsureRetriesAfterFactoryError(t *testing.T) {
	calls := 0
	factory := func(context.Context) (*broker.Broker, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("boom")
		}
		return broker.New(logging.Discard(), broker.Options{}), nil
	}
	l := locator.New(logging.Discard(), factory, nil)

	_, err := l.Ensure(context.Background())
	require.Error(t, err)
	_, ok := l.Get()
	assert.False(t, ok)

	b, err := l.Ensure(context.Background())
	require.NoError(t, err)
	got, _ := l.Get()
	assert.Same(t, b, got)
}

func TestEnsureKeepsPublishedInstance(t *testing.T) {
	l := locator.New(logging.Discard(), func(context.Context) (*broker.Broker, error) {
		t.Fatal("factory must not run when an instance is published")
		return nil, nil
	}, nil)
	b := broker.New(logging.Discard(), broker.Options{})
	l.Set(b)

	got, err := l.Ensure(context.Background())
	require.NoError(t, err)
	assert.Same(t, b, got)
}
