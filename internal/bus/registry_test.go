package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/motorctl/motor-bot/internal/errors"
)

const (
	testInterval = 10 * time.Millisecond
	waitFor      = 2 * time.Second
	tick         = 5 * time.Millisecond
)

func noop(context.Context, Message) error { return nil }

func newTestRegistry(t *testing.T) (*Registry, *MemoryBroker) {
	t.Helper()
	broker := NewMemoryBroker()
	r := NewRegistry(broker, testInterval)
	t.Cleanup(r.Close)
	return r, broker
}

func awaitListening(t *testing.T, r *Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, r.AwaitListening(ctx))
}

func TestRegistry_LoopLifecycle(t *testing.T) {
	t.Run("loop runs only while registrations exist", func(t *testing.T) {
		r, broker := newTestRegistry(t)
		assert.False(t, r.Running())

		a := NewSubscription("a", noop)
		b := NewSubscription("b", noop)

		require.NoError(t, r.Register("SN-1/pair", a))
		assert.True(t, r.Running())
		awaitListening(t, r)
		assert.Equal(t, 1, broker.ActiveConns())

		require.NoError(t, r.Register("SN-2/pair", b))
		require.NoError(t, r.Unregister("SN-1/pair", a))
		assert.True(t, r.Running())

		require.NoError(t, r.Unregister("SN-2/pair", b))
		assert.False(t, r.Running())
		assert.Equal(t, StateStopped, r.State())

		assert.Eventually(t, func() bool { return broker.ActiveConns() == 0 }, waitFor, tick)
	})

	t.Run("restarts after becoming empty", func(t *testing.T) {
		r, broker := newTestRegistry(t)
		sub := NewSubscription("a", noop)

		require.NoError(t, r.Register("SN-1/pair", sub))
		awaitListening(t, r)
		require.NoError(t, r.Unregister("SN-1/pair", sub))
		assert.False(t, r.Running())

		require.NoError(t, r.Register("SN-1/pair", sub))
		awaitListening(t, r)
		assert.Eventually(t, func() bool { return broker.ActiveConns() == 1 }, waitFor, tick)
		assert.Equal(t, 2, broker.Dials())
	})

	t.Run("await listening fails when stopped", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		err := r.AwaitListening(context.Background())
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBusUnavailable))
	})
}

func TestRegistry_Register(t *testing.T) {
	t.Run("registering the same handle twice is idempotent", func(t *testing.T) {
		r, broker := newTestRegistry(t)

		var calls atomic.Int32
		sub := NewSubscription("counter", func(context.Context, Message) error {
			calls.Add(1)
			return nil
		})
		require.NoError(t, r.Register("SN-1/pair", sub))
		require.NoError(t, r.Register("SN-1/pair", sub))
		awaitListening(t, r)

		require.NoError(t, broker.Publish(context.Background(), "SN-1/pair", []byte("{}")))
		assert.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())

		// One removal undoes it.
		require.NoError(t, r.Unregister("SN-1/pair", sub))
		assert.False(t, r.Has("SN-1/pair"))
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		err := r.Register("", NewSubscription("a", noop))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidArgument))

		err = r.Register("#/pair", NewSubscription("a", noop))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidArgument))

		err = r.Register("SN-1/pair", nil)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidArgument))

		err = r.Register("SN-1/pair", NewSubscription("nil", nil))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidArgument))

		assert.False(t, r.Running())
		assert.Zero(t, r.Len())
	})
}

func TestRegistry_Unregister(t *testing.T) {
	t.Run("nil handle removes the whole pattern", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		require.NoError(t, r.Register("SN-1/pair", NewSubscription("a", noop)))
		require.NoError(t, r.Register("SN-1/pair", NewSubscription("b", noop)))

		require.NoError(t, r.Unregister("SN-1/pair", nil))
		assert.Zero(t, r.Len())
		assert.False(t, r.Running())
	})

	t.Run("empty pattern removes handle everywhere", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		shared := NewSubscription("shared", noop)
		other := NewSubscription("other", noop)
		require.NoError(t, r.Register("SN-1/pair", shared))
		require.NoError(t, r.Register("SN-2/pair", shared))
		require.NoError(t, r.Register("SN-2/pair", other))

		require.NoError(t, r.Unregister("", shared))
		assert.False(t, r.Has("SN-1/pair"))
		assert.True(t, r.Has("SN-2/pair"))
		assert.True(t, r.Running())
	})

	t.Run("unknown registrations are a no-op", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		require.NoError(t, r.Register("SN-1/pair", NewSubscription("a", noop)))

		require.NoError(t, r.Unregister("SN-9/pair", nil))
		require.NoError(t, r.Unregister("SN-1/pair", NewSubscription("stranger", noop)))
		assert.True(t, r.Has("SN-1/pair"))
		assert.True(t, r.Running())
	})

	t.Run("requires pattern or handle", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		err := r.Unregister("", nil)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidArgument))
	})
}

func TestRegistry_Dispatch(t *testing.T) {
	t.Run("routes by wildcard and delivers once per handle", func(t *testing.T) {
		r, broker := newTestRegistry(t)

		var mu sync.Mutex
		got := map[string][]string{}
		record := func(name string) *Subscription {
			return NewSubscription(name, func(_ context.Context, msg Message) error {
				mu.Lock()
				defer mu.Unlock()
				got[name] = append(got[name], msg.Topic)
				return nil
			})
		}

		exact := record("exact")
		anyPair := record("any-pair")
		require.NoError(t, r.Register("SN-1/pair", exact))
		require.NoError(t, r.Register("+/pair", anyPair))
		// Same handle under two matching patterns still fires once.
		require.NoError(t, r.Register("SN-1/#", anyPair))
		awaitListening(t, r)

		ctx := context.Background()
		require.NoError(t, broker.Publish(ctx, "SN-1/pair", nil))
		require.NoError(t, broker.Publish(ctx, "SN-2/pair", nil))
		require.NoError(t, broker.Publish(ctx, "SN-3/status", nil))

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got["any-pair"]) == 2
		}, waitFor, tick)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"SN-1/pair"}, got["exact"])
		assert.Equal(t, []string{"SN-1/pair", "SN-2/pair"}, got["any-pair"])
	})

	t.Run("failing callbacks do not affect others", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		var ok atomic.Int32
		require.NoError(t, r.Register("SN-1/pair", NewSubscription("panics", func(context.Context, Message) error {
			panic("boom")
		})))
		require.NoError(t, r.Register("SN-1/pair", NewSubscription("errors", func(context.Context, Message) error {
			return errors.New("bad payload")
		})))
		require.NoError(t, r.Register("SN-1/pair", NewSubscription("ok", func(context.Context, Message) error {
			ok.Add(1)
			return nil
		})))

		assert.NotPanics(t, func() {
			r.Dispatch(context.Background(), Message{Topic: "SN-1/pair"})
			r.Dispatch(context.Background(), Message{Topic: "SN-1/pair"})
		})
		assert.Equal(t, int32(2), ok.Load())
	})

	t.Run("callback may unregister itself", func(t *testing.T) {
		r, broker := newTestRegistry(t)

		fired := make(chan struct{})
		var sub *Subscription
		sub = NewSubscription("once", func(context.Context, Message) error {
			require.NoError(t, r.Unregister("SN-1/pair", sub))
			close(fired)
			return nil
		})
		require.NoError(t, r.Register("SN-1/pair", sub))
		awaitListening(t, r)

		require.NoError(t, broker.Publish(context.Background(), "SN-1/pair", nil))
		select {
		case <-fired:
		case <-time.After(waitFor):
			t.Fatal("callback not invoked")
		}

		assert.False(t, r.Running())
		assert.Eventually(t, func() bool { return broker.ActiveConns() == 0 }, waitFor, tick)
	})
}
