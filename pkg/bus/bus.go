// Package bus mirrors session state onto a message bus and carries remote
// commands back. The default implementation uses NATS. The URL "memory://"
// selects an in-process bus for tests and single-process runs.
package bus

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MemoryURL selects the in-process bus in Open.
const MemoryURL = "memory://"

// ErrClosed is returned when operating on a closed bus or subscription.
var ErrClosed = errors.New("bus or subscription closed")

// MessageBus is the publish/subscribe surface the server mirrors onto.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends data to all subscribers of subject without waiting for delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers handler for subject. Supports "*" (one token) and
	// ">" (the rest) wildcards.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes one incoming message.
type MessageHandler func(msg *Message)

// Message is an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription is an active subscription that can be cancelled.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// Config holds connection settings for the NATS bus.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is a client identifier shown in server monitoring.
	Name string

	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "parallel-sessions",
		Timeout: 10 * time.Second,
	}
}

// Subject joins a prefix and a suffix into a dotted subject.
func Subject(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + "." + suffix
}

// Open returns an in-process bus for MemoryURL and a NATS bus otherwise.
func Open(cfg Config) (MessageBus, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.URL), MemoryURL) {
		return NewMemoryBus(), nil
	}
	return NewNATSBus(cfg)
}
