// Package redis implements store.Client over Redis Streams using
// github.com/redis/go-redis/v9.
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	apperrors "github.com/fazpi-ai/fazpi-qbull/pkg/errors"
	"github.com/fazpi-ai/fazpi-qbull/pkg/logger"
	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
)

// connectTimeout bounds the initial handshake, per §4.1.
const connectTimeout = 10 * time.Second

// Client is a store.Client backed by a single Redis connection.
type Client struct {
	cfg store.Config
	log logger.Logger

	mu         sync.Mutex
	state      store.ConnState
	rdb        *goredis.Client
	connecting chan struct{}
}

// New constructs a store.Client talking to the Redis instance described by
// cfg. The connection is not established until Connect is called.
func New(cfg store.Config) store.Client {
	return &Client{cfg: cfg, state: store.StateDisconnected, log: logger.Named("store/redis")}
}

// Connect implements store.Client.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case store.StateReady:
		c.mu.Unlock()
		return nil
	case store.StateConnecting:
		ch := c.connecting
		c.mu.Unlock()
		<-ch
		c.mu.Lock()
		ready := c.state == store.StateReady
		c.mu.Unlock()
		if !ready {
			return store.ErrConnectFailed(fmt.Errorf("concurrent connect attempt did not reach ready"))
		}
		return nil
	}

	if c.rdb != nil {
		_ = c.rdb.Close()
		c.rdb = nil
	}
	ch := make(chan struct{})
	c.connecting = ch
	c.state = store.StateConnecting
	c.mu.Unlock()

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%s", c.cfg.Host, c.cfg.Port),
		Username: c.cfg.User,
		Password: c.cfg.Password,
		DB:       c.cfg.DB,
	})

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	err := rdb.Ping(connectCtx).Err()

	c.mu.Lock()
	if err != nil {
		_ = rdb.Close()
		c.state = store.StateDisconnected
	} else {
		c.rdb = rdb
		c.state = store.StateReady
	}
	c.connecting = nil
	c.mu.Unlock()
	close(ch)

	if err != nil {
		return store.ErrConnectFailed(err)
	}
	return nil
}

// Disconnect implements store.Client.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == store.StateDisconnected {
		return nil
	}
	c.state = store.StateClosing

	var err error
	if c.rdb != nil {
		err = c.rdb.Close()
		c.rdb = nil
	}
	c.state = store.StateDisconnected
	return err
}

// Status implements store.Client.
func (c *Client) Status() store.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RawHandle implements store.Client.
func (c *Client) RawHandle() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb == nil {
		return nil
	}
	return c.rdb
}

func (c *Client) ready() (*goredis.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != store.StateReady {
		return nil, store.ErrNotReady()
	}
	return c.rdb, nil
}

// Append implements store.Client. Payload fields are flattened into an
// alternating key/value sequence; Redis stores every field value as a
// string. Payload is a Go map, so the order of the fields in the entry is
// not defined and does not follow the order in which they were set.
func (c *Client) Append(ctx context.Context, stream string, payload store.Payload) (store.MessageID, error) {
	rdb, err := c.ready()
	if err != nil {
		return "", err
	}

	values := make([]interface{}, 0, len(payload)*2)
	for k, v := range payload {
		values = append(values, k, fmt.Sprintf("%v", v))
	}

	id, err := rdb.XAdd(ctx, &goredis.XAddArgs{Stream: stream, Values: values}).Result()
	if err != nil {
		return "", store.ErrOp("append", err)
	}
	return store.MessageID(id), nil
}

// CreateGroup implements store.Client. The stream is implicitly created via
// MKSTREAM; "BUSYGROUP" (already exists) is absorbed as success.
func (c *Client) CreateGroup(ctx context.Context, stream, group string, startAt store.StartAt) error {
	rdb, err := c.ready()
	if err != nil {
		return err
	}

	start := string(store.StartAtTail)
	if startAt == store.StartAtBeginning {
		start = string(store.StartAtBeginning)
	}

	err = rdb.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return store.ErrOp("create_group", err)
	}
	return nil
}

// ReadGroup implements store.Client. Returns (nil, nil) on timeout.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]store.Entry, error) {
	rdb, err := c.ready()
	if err != nil {
		return nil, err
	}

	res, err := rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, store.ErrOp("read_group", err)
	}

	var entries []store.Entry
	for _, s := range res {
		for _, msg := range s.Messages {
			payload := make(store.Payload, len(msg.Values))
			for k, v := range msg.Values {
				payload[k] = v
			}
			entries = append(entries, store.Entry{ID: store.MessageID(msg.ID), Payload: payload})
		}
	}
	return entries, nil
}

// Ack implements store.Client.
func (c *Client) Ack(ctx context.Context, stream, group string, id store.MessageID) error {
	rdb, err := c.ready()
	if err != nil {
		return err
	}
	if err := rdb.XAck(ctx, stream, group, string(id)).Err(); err != nil {
		return store.ErrOp("ack", err)
	}
	return nil
}

// Get implements store.Client.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	rdb, err := c.ready()
	if err != nil {
		return "", err
	}
	val, err := rdb.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", apperrors.New(apperrors.CodeNotFound, "key not found", nil)
	}
	if err != nil {
		return "", store.ErrOp("get", err)
	}
	return val, nil
}

// Set implements store.Client.
func (c *Client) Set(ctx context.Context, key, value string) error {
	rdb, err := c.ready()
	if err != nil {
		return err
	}
	if err := rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return store.ErrOp("set", err)
	}
	return nil
}
