package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var (
	// ErrGateNotArmed is returned by Wait when Clear was not called first.
	ErrGateNotArmed = errors.New("gate not armed: call Clear before Wait")
	// ErrGateBusy is returned when a second Wait is attempted while one is pending.
	ErrGateBusy = errors.New("gate already has a waiter")
)

// Gate suspends a pipeline until an operator command arrives. It holds a
// single-slot mailbox: a later Signal overwrites an unconsumed payload.
//
// Each wait cycle is Clear, then Wait. Clear discards anything signalled
// before it, so a stale command is never replayed into a new checkpoint.
type Gate struct {
	mu      sync.Mutex
	armed   bool
	waiting bool
	open    bool
	payload json.RawMessage
	wake    chan struct{}
}

// NewGate creates an unarmed, unsignalled gate.
func NewGate() *Gate {
	return &Gate{wake: make(chan struct{}, 1)}
}

// Clear resets the gate to unsignalled and arms it for one Wait.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
	g.open = false
	g.payload = nil
	select {
	case <-g.wake:
	default:
	}
}

// Signal stores payload and opens the gate. It never blocks; if nobody is
// waiting the payload stays buffered until the next Wait or Clear.
func (g *Gate) Signal(payload json.RawMessage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payload = append(json.RawMessage(nil), payload...)
	g.open = true
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until the gate is signalled or ctx is done, then returns the
// latest payload and disarms the gate.
func (g *Gate) Wait(ctx context.Context) (json.RawMessage, error) {
	g.mu.Lock()
	if !g.armed {
		g.mu.Unlock()
		return nil, ErrGateNotArmed
	}
	if g.waiting {
		g.mu.Unlock()
		return nil, ErrGateBusy
	}
	g.waiting = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.waiting = false
		g.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.wake:
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	payload := g.payload
	g.armed = false
	g.open = false
	return payload, nil
}

// Open reports whether a signal is pending.
func (g *Gate) Open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Waiting reports whether a pipeline is currently blocked in Wait.
func (g *Gate) Waiting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting
}
