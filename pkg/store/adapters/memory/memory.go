// Package memory implements store.Client in process, for unit tests that
// exercise Consumer/Publisher/SharedStore semantics without a real Redis.
// It reproduces the subset of Redis Streams consumer-group behavior the
// spec depends on: a ">"-pointer per group, a pending set, and blocking
// reads bounded by a timeout.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/fazpi-ai/fazpi-qbull/pkg/errors"
	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
)

type entry struct {
	id      store.MessageID
	payload store.Payload
}

type group struct {
	// delivered is how many of stream.entries have been handed out by
	// this group's ">" pointer so far.
	delivered int
	pending   map[store.MessageID]bool
}

type streamState struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries []entry
	groups  map[string]*group
}

// Client is an in-memory store.Client.
type Client struct {
	mu      sync.Mutex
	state   store.ConnState
	seq     int64
	streams map[string]*streamState
	kv      map[string]string
}

// New constructs a ready-to-connect in-memory Client.
func New() *Client {
	return &Client{
		state:   store.StateDisconnected,
		streams: make(map[string]*streamState),
		kv:      make(map[string]string),
	}
}

// NewFactory adapts New to store.Factory's shape (Config is ignored; the
// fake has nothing to connect to).
func NewFactory() store.Factory {
	return func(store.Config) store.Client { return New() }
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = store.StateReady
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = store.StateDisconnected
	return nil
}

func (c *Client) Status() store.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) RawHandle() interface{} { return c }

func (c *Client) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != store.StateReady {
		return store.ErrNotReady()
	}
	return nil
}

func (c *Client) stream(name string) *streamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[name]
	if !ok {
		s = &streamState{groups: make(map[string]*group)}
		s.cond = sync.NewCond(&s.mu)
		c.streams[name] = s
	}
	return s
}

func (c *Client) nextID() store.MessageID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return store.MessageID(fmt.Sprintf("%d-0", c.seq))
}

func (c *Client) Append(ctx context.Context, streamName string, payload store.Payload) (store.MessageID, error) {
	if err := c.ready(); err != nil {
		return "", err
	}

	cp := make(store.Payload, len(payload))
	for k, v := range payload {
		cp[k] = v
	}

	s := c.stream(streamName)
	id := c.nextID()

	s.mu.Lock()
	s.entries = append(s.entries, entry{id: id, payload: cp})
	s.cond.Broadcast()
	s.mu.Unlock()

	return id, nil
}

func (c *Client) CreateGroup(ctx context.Context, streamName, groupName string, startAt store.StartAt) error {
	if err := c.ready(); err != nil {
		return err
	}

	s := c.stream(streamName)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[groupName]; exists {
		return nil
	}

	delivered := len(s.entries)
	if startAt == store.StartAtBeginning {
		delivered = 0
	}
	s.groups[groupName] = &group{delivered: delivered, pending: make(map[store.MessageID]bool)}
	return nil
}

func (c *Client) ReadGroup(ctx context.Context, streamName, groupName, consumer string, count int64, block time.Duration) ([]store.Entry, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	s := c.stream(streamName)
	deadline := time.Now().Add(block)

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupName]
	if !ok {
		return nil, store.ErrOp("read_group", fmt.Errorf("unknown group %q", groupName))
	}

	for {
		if g.delivered < len(s.entries) {
			n := int64(len(s.entries) - g.delivered)
			if n > count {
				n = count
			}
			out := make([]store.Entry, 0, n)
			for i := int64(0); i < n; i++ {
				e := s.entries[g.delivered]
				g.delivered++
				g.pending[e.id] = true
				out = append(out, store.Entry{ID: e.id, Payload: e.payload})
			}
			return out, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, nil
		}

		timer := time.AfterFunc(remaining, func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		s.cond.Wait()
		timer.Stop()
	}
}

func (c *Client) Ack(ctx context.Context, streamName, groupName string, id store.MessageID) error {
	if err := c.ready(); err != nil {
		return err
	}

	s := c.stream(streamName)
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupName]
	if !ok {
		return store.ErrOp("ack", fmt.Errorf("unknown group %q", groupName))
	}
	delete(g.pending, id)
	return nil
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.kv[key]
	if !ok {
		return "", apperrors.New(apperrors.CodeNotFound, "key not found", nil)
	}
	return v, nil
}

func (c *Client) Set(ctx context.Context, key, value string) error {
	if err := c.ready(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kv[key] = value
	return nil
}

// PendingCount returns the number of unacknowledged messages for group on
// stream. Exposed for tests asserting at-least-once redelivery behavior.
func (c *Client) PendingCount(streamName, groupName string) int {
	s := c.stream(streamName)
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupName]
	if !ok {
		return 0
	}
	return len(g.pending)
}
