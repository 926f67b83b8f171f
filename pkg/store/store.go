// Package store defines the capability surface over the backing log store
// (Redis Streams) that Publisher and Consumer depend on, plus a
// process-wide SharedStore that lazily connects a single Client.
//
// Any implementation satisfying Client is acceptable, including the
// in-memory fake in pkg/store/adapters/memory used by tests — the
// dependency is a typed interface, not a duck-typed method probe.
package store

import (
	"context"
	"fmt"
	"time"
)

// MessageID is the opaque, monotonically ordered identifier the store
// assigns on append. Once appended, (stream, MessageID) uniquely
// identifies an item; the payload is immutable.
type MessageID string

// Payload is a flat record of fields. The reserved field OrderingKeyField
// marks the item as keyed for the Consumer's per-key serializer.
type Payload map[string]any

// OrderingKeyField is the reserved payload field carrying the ordering
// key. Consumers must not treat any other field specially.
const OrderingKeyField = "_orderingKey"

// Entry pairs a delivered message's id with its payload.
type Entry struct {
	ID      MessageID
	Payload Payload
}

// ConnState is a StoreClient's connection state machine position:
// Disconnected -> Connecting -> Ready -> Closing -> Disconnected.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateReady
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// StartAt selects where a newly created consumer group begins reading.
type StartAt string

const (
	// StartAtTail delivers only messages appended after group creation.
	StartAtTail StartAt = "$"
	// StartAtBeginning delivers the stream's full history to the group.
	StartAtBeginning StartAt = "0"
)

// Client is the capability surface over the backing store. Implementations
// must serialize concurrent Connect attempts into one outcome and must not
// allow commands to be issued while Connecting.
type Client interface {
	// Connect is idempotent: a no-op when Ready, awaits any in-flight
	// attempt when Connecting, otherwise opens a new connection.
	Connect(ctx context.Context) error

	// Disconnect tears down the connection. Safe to call when already
	// disconnected.
	Disconnect(ctx context.Context) error

	// Status reports the current connection state.
	Status() ConnState

	// Append writes payload to stream and returns the server-assigned id.
	// Requires Ready.
	Append(ctx context.Context, stream string, payload Payload) (MessageID, error)

	// CreateGroup ensures a consumer group exists on stream, implicitly
	// creating the stream if needed. "Already exists" is treated as
	// success.
	CreateGroup(ctx context.Context, stream, group string, startAt StartAt) error

	// ReadGroup blocks up to block for up to count never-before-delivered
	// messages for consumer within group. Returns (nil, nil) on timeout.
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error)

	// Ack marks id acknowledged, removing it from the group's pending set.
	Ack(ctx context.Context, stream, group string, id MessageID) error

	// Get/Set provide opaque scalar access for callers outside the core
	// consumer/publisher path.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error

	// RawHandle returns the underlying driver handle, or nil.
	RawHandle() interface{}
}

// Config is the connection configuration for a Client.
type Config struct {
	Host     string `env:"STORE_HOST" env-default:"127.0.0.1"`
	Port     string `env:"STORE_PORT" env-default:"6379"`
	DB       int    `env:"STORE_DB" env-default:"0"`
	User     string `env:"STORE_USER"`
	Password string `env:"STORE_PASSWORD"`
}

// Equal compares two configs field by field. Absent and empty-string
// credentials compare equal because both fields are plain Go strings
// (the zero value already is "").
func (c Config) Equal(o Config) bool {
	return c.Host == o.Host &&
		c.Port == o.Port &&
		c.DB == o.DB &&
		c.User == o.User &&
		c.Password == o.Password
}

// key renders a Config into a string suitable for deduplicating
// concurrent connection attempts against the same target.
func (c Config) key() string {
	return fmt.Sprintf("%s:%s:%d:%s:%s", c.Host, c.Port, c.DB, c.User, c.Password)
}
