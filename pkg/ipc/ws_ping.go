package ipc

import (
	"context"
	"time"

	"nhooyr.io/websocket"
)

// startWSPing pings conn every interval until ctx ends so idle dashboards
// stay connected through proxies.
func startWSPing(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, wsPingTimeout)
				err := conn.Ping(pingCtx)
				cancel()
				if err != nil {
					return
				}
			}
		}
	}()
}
