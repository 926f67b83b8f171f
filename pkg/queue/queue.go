// Package queue is the core engine: Publisher validates and tags outgoing
// work items, Consumer drives the poll/dispatch loop, the per-key FIFO
// serializer, at-least-once acknowledgment, and graceful shutdown.
package queue

import (
	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
)

// Payload is a job's field set. Re-exported from pkg/store so callers
// building payloads don't need to import both packages.
type Payload = store.Payload

// MessageID is the store-assigned identifier for a published item.
type MessageID = store.MessageID

// OrderingKeyField is the reserved field marking a payload as keyed for
// the Consumer's per-key FIFO.
const OrderingKeyField = store.OrderingKeyField

// orderingKey extracts the ordering key from payload, if it is a non-empty
// string. The value is returned as stored, without trimming.
func orderingKey(p Payload) (string, bool) {
	v, ok := p[OrderingKeyField]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
