package session

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_WaitRequiresClear(t *testing.T) {
	g := NewGate()
	_, err := g.Wait(context.Background())
	require.ErrorIs(t, err, ErrGateNotArmed)
}

func TestGate_SignalWakesWaiterWithPayload(t *testing.T) {
	g := NewGate()
	g.Clear()

	got := make(chan json.RawMessage, 1)
	go func() {
		p, err := g.Wait(context.Background())
		if err == nil {
			got <- p
		}
	}()

	require.Eventually(t, g.Waiting, time.Second, 5*time.Millisecond)
	g.Signal(json.RawMessage(`"auto"`))

	select {
	case p := <-got:
		assert.JSONEq(t, `"auto"`, string(p))
	case <-time.After(time.Second):
		t.Fatal("waiter not woken")
	}
	assert.False(t, g.Open(), "wake consumes the signal")
}

func TestGate_LastWriteWins(t *testing.T) {
	g := NewGate()
	g.Clear()
	g.Signal(json.RawMessage(`"manual"`))
	g.Signal(json.RawMessage(`"auto"`))

	p, err := g.Wait(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `"auto"`, string(p))
}

func TestGate_SingleResumePerCycle(t *testing.T) {
	g := NewGate()
	g.Clear()
	g.Signal(json.RawMessage(`1`))
	g.Signal(json.RawMessage(`2`))

	_, err := g.Wait(context.Background())
	require.NoError(t, err)

	// The gate is disarmed after a wake; a second wait in the same cycle is refused.
	_, err = g.Wait(context.Background())
	require.ErrorIs(t, err, ErrGateNotArmed)

	// A new cycle does not see the payloads from the previous one.
	g.Clear()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGate_ClearDropsStaleSignal(t *testing.T) {
	g := NewGate()
	g.Signal(json.RawMessage(`"stale"`))
	g.Clear()
	assert.False(t, g.Open())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := g.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGate_DoubleWaitIsRejected(t *testing.T) {
	g := NewGate()
	g.Clear()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = g.Wait(ctx) }()
	require.Eventually(t, g.Waiting, time.Second, 5*time.Millisecond)

	_, err := g.Wait(context.Background())
	require.ErrorIs(t, err, ErrGateBusy)
}

func TestGate_CancelReleasesWaiter(t *testing.T) {
	g := NewGate()
	g.Clear()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Wait(ctx)
		done <- err
	}()
	require.Eventually(t, g.Waiting, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancel did not release wait")
	}
	assert.False(t, g.Waiting())
}

func TestGate_ConcurrentSignalsWakeOnce(t *testing.T) {
	g := NewGate()
	g.Clear()

	var wakes atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := g.Wait(context.Background()); err == nil {
			wakes.Add(1)
		}
	}()
	require.Eventually(t, g.Waiting, time.Second, 5*time.Millisecond)

	for i := 0; i < 20; i++ {
		go g.Signal(json.RawMessage(`"auto"`))
	}
	<-done
	assert.Equal(t, int32(1), wakes.Load())
}
