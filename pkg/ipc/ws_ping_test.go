package ipc

import (
	"context"
	"testing"
	"time"
)

func TestStartWSPingNilConn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Returns without starting a goroutine; a nil conn would panic otherwise.
	startWSPing(ctx, nil, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
}

func TestWSPingConstants(t *testing.T) {
	if wsPingInterval < 10*time.Second {
		t.Errorf("wsPingInterval too short: %v", wsPingInterval)
	}
	if wsPingTimeout < 1*time.Second {
		t.Errorf("wsPingTimeout too short: %v", wsPingTimeout)
	}
	if wsPingTimeout >= wsPingInterval {
		t.Errorf("wsPingTimeout (%v) should be less than wsPingInterval (%v)", wsPingTimeout, wsPingInterval)
	}
}
