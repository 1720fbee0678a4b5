package ipc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"nhooyr.io/websocket"

	"github.com/chrisalpuerto/parallel-sessions/pkg/logging"
	"github.com/chrisalpuerto/parallel-sessions/pkg/session"
)

const (
	observerQueueSize    = 16
	observerWriteTimeout = 10 * time.Second
)

// SnapshotForwarder receives every snapshot the hub publishes.
type SnapshotForwarder interface {
	ForwardSnapshot(snapshot session.Snapshot)
}

// Hub fans the current run's snapshot out to websocket observers. Publish
// never blocks: an observer that cannot keep up is dropped.
type Hub struct {
	mu         sync.RWMutex
	observers  map[*Observer]struct{}
	forwarders []SnapshotForwarder
	latest     []byte
	logger     *logging.Logger
}

// NewHub creates a Hub. Until the first Publish, observers receive an empty snapshot.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		observers: make(map[*Observer]struct{}),
		latest:    []byte("{}"),
		logger:    logging.OrDiscard(logger).Component("hub"),
	}
}

// AddForwarder registers f to receive every published snapshot.
func (h *Hub) AddForwarder(f SnapshotForwarder) {
	h.mu.Lock()
	h.forwarders = append(h.forwarders, f)
	h.mu.Unlock()
}

// Publish sends snapshot to every observer and forwarder.
func (h *Hub) Publish(snapshot session.Snapshot) {
	if snapshot == nil {
		snapshot = session.Snapshot{}
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		h.logger.Error("snapshot marshal failed", "error", err)
		return
	}

	h.mu.Lock()
	h.latest = data
	var dropped []*Observer
	for o := range h.observers {
		if !o.enqueue(data) {
			dropped = append(dropped, o)
		}
	}
	for _, o := range dropped {
		h.removeLocked(o)
	}
	forwarders := append([]SnapshotForwarder(nil), h.forwarders...)
	h.mu.Unlock()

	for _, o := range dropped {
		h.logger.ObserverDropped(o.id, "queue full")
		observersDropped.WithLabelValues("queue_full").Inc()
		go o.close(websocket.StatusPolicyViolation, "observer too slow")
	}
	for _, f := range forwarders {
		f.ForwardSnapshot(snapshot)
	}
}

// Attach registers conn as an observer. The latest snapshot is queued before
// the observer joins so it is always the first message sent.
func (h *Hub) Attach(conn wsConn) *Observer {
	o := &Observer{
		id:   ulid.Make().String(),
		conn: conn,
		send: make(chan []byte, observerQueueSize),
	}
	h.mu.Lock()
	o.enqueue(h.latest)
	h.observers[o] = struct{}{}
	h.mu.Unlock()
	observersActive.Inc()
	h.logger.Debug("observer attached", "observer_id", o.id)
	return o
}

// Detach removes o. It is safe to call more than once.
func (h *Hub) Detach(o *Observer) {
	h.mu.Lock()
	h.removeLocked(o)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(o *Observer) {
	if _, ok := h.observers[o]; ok {
		delete(h.observers, o)
		close(o.send)
		observersActive.Dec()
	}
}

// Observers reports how many observers are attached.
func (h *Hub) Observers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

type wsConn interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
	Close(status websocket.StatusCode, reason string) error
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
}

// Observer is one attached websocket connection.
type Observer struct {
	id   string
	conn wsConn
	send chan []byte
}

// ID returns the observer's ulid.
func (o *Observer) ID() string { return o.id }

func (o *Observer) enqueue(data []byte) bool {
	select {
	case o.send <- data:
		return true
	default:
		return false
	}
}

// writeLoop drains the queue until it is closed or a write fails.
func (o *Observer) writeLoop(ctx context.Context) error {
	for {
		select {
		case data, ok := <-o.send:
			if !ok {
				return nil
			}
			writeCtx, cancel := context.WithTimeout(ctx, observerWriteTimeout)
			err := o.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *Observer) close(status websocket.StatusCode, reason string) {
	_ = o.conn.Close(status, reason)
}
