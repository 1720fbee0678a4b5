package ipc

import (
	"context"
	"encoding/json"
	stdliberrors "errors"
	"sync"

	"github.com/chrisalpuerto/parallel-sessions/pkg/bus"
	"github.com/chrisalpuerto/parallel-sessions/pkg/logging"
	"github.com/chrisalpuerto/parallel-sessions/pkg/session"
	"github.com/chrisalpuerto/parallel-sessions/pkg/supervisor"
)

// DefaultSubjectPrefix is the subject namespace for the bus mirror.
const DefaultSubjectPrefix = "parallel-sessions"

// Bus subjects under the prefix.
const (
	SnapshotSubject = "snapshot"
	CommandsSubject = "commands"
)

// BusBridge mirrors published snapshots onto a MessageBus and feeds commands
// published on <prefix>.commands into the controller, so remote operators get
// the same surface as websocket observers.
type BusBridge struct {
	bus    bus.MessageBus
	ctrl   Controller
	prefix string
	logger *logging.Logger

	ctx  context.Context
	mu   sync.Mutex
	subs []bus.Subscription
}

// NewBusBridge creates a bridge. An empty prefix uses DefaultSubjectPrefix.
func NewBusBridge(b bus.MessageBus, ctrl Controller, prefix string, logger *logging.Logger) *BusBridge {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &BusBridge{
		bus:    b,
		ctrl:   ctrl,
		prefix: prefix,
		logger: logging.OrDiscard(logger).Component("bus"),
		ctx:    context.Background(),
	}
}

// Start subscribes to the command subject. Snapshots are mirrored once the
// bridge is registered as a hub forwarder.
func (br *BusBridge) Start(ctx context.Context) error {
	br.mu.Lock()
	br.ctx = ctx
	br.mu.Unlock()

	sub, err := br.bus.Subscribe(ctx, bus.Subject(br.prefix, CommandsSubject), br.handleCommand)
	if err != nil {
		return err
	}
	br.mu.Lock()
	br.subs = append(br.subs, sub)
	br.mu.Unlock()
	return nil
}

// Stop unsubscribes from all subjects.
func (br *BusBridge) Stop() {
	br.mu.Lock()
	defer br.mu.Unlock()

	for _, sub := range br.subs {
		_ = sub.Unsubscribe()
	}
	br.subs = nil
}

// ForwardSnapshot publishes snapshot to <prefix>.snapshot.
func (br *BusBridge) ForwardSnapshot(snapshot session.Snapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		br.logger.Error("snapshot marshal failed", "error", err)
		return
	}
	br.mu.Lock()
	ctx := br.ctx
	br.mu.Unlock()
	if err := br.bus.Publish(ctx, bus.Subject(br.prefix, SnapshotSubject), data); err != nil {
		br.logger.Warn("snapshot mirror failed", "error", err)
	}
}

func (br *BusBridge) handleCommand(msg *bus.Message) {
	cmd, err := parseCommand(msg.Data)
	if err != nil {
		br.logger.Warn("ignoring malformed bus command", "subject", msg.Subject, "error", err)
		return
	}
	if err := br.ctrl.Deliver(cmd.SessionID, cmd.Command); err != nil && !stdliberrors.Is(err, supervisor.ErrUnknownSession) {
		br.logger.Warn("bus command delivery failed", "session_id", cmd.SessionID, "error", err)
	}
}
