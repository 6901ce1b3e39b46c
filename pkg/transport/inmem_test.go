package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPairDeliversInOrder(t *testing.T) {
	a, b := NewInMemoryPair()

	received := make(chan []byte, 64)
	b.SetReceiveHandler(func(data []byte) { received <- data })
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { a.Close() })

	for i := 0; i < 10; i++ {
		require.NoError(t, a.Send(context.Background(), []byte(fmt.Sprintf("msg-%d", i))))
	}
	for i := 0; i < 10; i++ {
		select {
		case data := <-received:
			assert.Equal(t, fmt.Sprintf("msg-%d", i), string(data))
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d never arrived", i)
		}
	}
}

func TestInMemoryCloseSignalsPeer(t *testing.T) {
	a, b := NewInMemoryPair()

	closed := make(chan error, 1)
	b.SetCloseHandler(func(err error) { closed <- err })
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, a.Close())

	select {
	case err := <-closed:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("peer close handler never fired")
	}

	assert.ErrorIs(t, a.Send(context.Background(), []byte("late")), ErrClosed)
}

func TestExponentialBackoff(t *testing.T) {
	b := DefaultBackoff()

	d1, ok := b.NextDelay(1)
	require.True(t, ok)
	assert.Equal(t, time.Second, d1)

	d2, ok := b.NextDelay(2)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d2)

	// Capped at Max.
	d6, ok := b.NextDelay(5)
	require.True(t, ok)
	assert.LessOrEqual(t, d6, 30*time.Second)

	_, ok = b.NextDelay(6)
	assert.False(t, ok, "policy should give up past MaxAttempts")

	_, ok = NoReconnect{}.NextDelay(1)
	assert.False(t, ok)
}
