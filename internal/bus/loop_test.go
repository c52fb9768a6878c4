package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_Reconnect(t *testing.T) {
	t.Run("retries failed dials", func(t *testing.T) {
		broker := NewMemoryBroker()
		broker.FailDials(errors.New("connection refused"), errors.New("connection refused"))

		loop := NewLoop(broker, func(context.Context, Message) {}, testInterval)
		loop.Start()
		t.Cleanup(func() {
			loop.Stop()
			loop.Wait()
		})

		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		require.NoError(t, loop.AwaitListening(ctx))
		assert.Equal(t, 3, broker.Dials())
		assert.Equal(t, StateListening, loop.State())
	})

	t.Run("resubscribes after connection loss", func(t *testing.T) {
		broker := NewMemoryBroker()
		got := make(chan Message, 1)

		loop := NewLoop(broker, func(_ context.Context, msg Message) { got <- msg }, testInterval)
		loop.Start()
		t.Cleanup(func() {
			loop.Stop()
			loop.Wait()
		})

		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		require.NoError(t, loop.AwaitListening(ctx))

		broker.DropConnections(errors.New("broker restarted"))
		assert.Eventually(t, func() bool { return broker.Dials() == 2 && loop.State() == StateListening }, waitFor, tick)

		require.NoError(t, broker.Publish(ctx, "SN-1/status", []byte("up")))
		select {
		case msg := <-got:
			assert.Equal(t, "SN-1/status", msg.Topic)
			assert.Equal(t, []byte("up"), msg.Payload)
		case <-time.After(waitFor):
			t.Fatal("message not dispatched after reconnect")
		}
	})

	t.Run("stop interrupts backoff", func(t *testing.T) {
		broker := NewMemoryBroker()
		broker.FailDials(errors.New("connection refused"))

		loop := NewLoop(broker, func(context.Context, Message) {}, time.Hour)
		loop.Start()
		assert.Eventually(t, func() bool { return broker.Dials() == 1 }, waitFor, tick)

		loop.Stop()
		done := make(chan struct{})
		go func() {
			loop.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(waitFor):
			t.Fatal("loop did not exit")
		}
		assert.Equal(t, StateStopped, loop.State())
	})

	t.Run("start is idempotent", func(t *testing.T) {
		broker := NewMemoryBroker()
		loop := NewLoop(broker, func(context.Context, Message) {}, testInterval)
		loop.Start()
		loop.Start()
		t.Cleanup(func() {
			loop.Stop()
			loop.Wait()
		})

		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		require.NoError(t, loop.AwaitListening(ctx))
		assert.Equal(t, 1, broker.Dials())
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "listening", StateListening.String())
}
