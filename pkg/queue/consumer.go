package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fazpi-ai/fazpi-qbull/pkg/logger"
	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
)

// Handler processes one message. Returning a non-nil error leaves the
// message unacknowledged in the group's pending set. The Consumer reads
// only never-delivered messages and does not reclaim pending ones, so it
// does not run the handler for that message again.
type Handler func(ctx context.Context, payload Payload, id MessageID) error

// State is a Consumer's lifecycle position: Idle -> Running -> Stopping ->
// Stopped.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type keyedJob struct {
	id      MessageID
	payload Payload
}

// Consumer is the core engine: it owns the poll loop, the concurrency
// semaphore, the per-key serializer, handler invocation, acknowledgment,
// and graceful shutdown for a single stream.
type Consumer struct {
	client  store.Client
	stream  string
	handler Handler
	opts    ConsumerOptions
	log     logger.Logger
	tracer  trace.Tracer

	mu             sync.Mutex
	state          State
	inFlight       int
	orderingQueues map[string][]keyedJob
	busyKeys       map[string]bool

	cancelPoll context.CancelFunc
}

// NewConsumer validates its inputs and builds a Consumer for stream. The
// handler must be non-nil and stream non-empty after trimming; these
// fail at construction time per spec §7. The store client's capability
// surface (CreateGroup/ReadGroup/Ack) is enforced by the store.Client
// interface type at compile time, not by a runtime probe.
func NewConsumer(client store.Client, stream string, handler Handler, opts ...ConsumerOption) (*Consumer, error) {
	stream = strings.TrimSpace(stream)
	if stream == "" {
		return nil, ErrInvalidArgument("stream must be a non-empty string")
	}
	if handler == nil {
		return nil, ErrInvalidArgument("handler must not be nil")
	}
	if client == nil {
		return nil, ErrInvalidArgument("store client must not be nil")
	}

	cfg, warnings := resolveOptions(stream, opts)

	c := &Consumer{
		client:         client,
		stream:         stream,
		handler:        handler,
		opts:           cfg,
		log:            cfg.Logger,
		tracer:         otel.Tracer("pkg/queue"),
		state:          StateIdle,
		orderingQueues: make(map[string][]keyedJob),
		busyKeys:       make(map[string]bool),
	}

	for _, w := range warnings {
		c.log.Warn(w)
	}

	return c, nil
}

// State reports the Consumer's current lifecycle position.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start creates the consumer group (absorbing "already exists") and begins
// the poll loop. Only valid from Idle; calling it from Stopping/Stopped is
// a no-op with a warning.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		c.log.Warn("start called from non-idle state", logger.Fields{"state": state.String()})
		return nil
	}
	c.mu.Unlock()

	if err := c.client.CreateGroup(ctx, c.stream, c.opts.GroupName, store.StartAtTail); err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.state = StateRunning
	c.cancelPoll = cancel
	c.mu.Unlock()

	go c.pollLoop(pollCtx)
	return nil
}

func (c *Consumer) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delay := c.doPoll(ctx)
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// doPoll executes one poll cycle and returns how long the loop should wait
// before the next cycle (0 means immediately).
func (c *Consumer) doPoll(ctx context.Context) time.Duration {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return idlePollDelay
	}
	avail := c.opts.Concurrency - c.inFlight
	ordering := c.opts.ProcessOrderedByKey
	c.mu.Unlock()

	if !ordering && avail <= 0 {
		return idlePollDelay
	}

	fetchCount := int64(c.opts.Concurrency)
	if !ordering {
		fetchCount = int64(avail)
		if fetchCount < 1 {
			fetchCount = 1
		}
	}

	entries, err := c.client.ReadGroup(ctx, c.stream, c.opts.GroupName, c.opts.ConsumerName, fetchCount, c.opts.BlockTime)
	if err != nil {
		c.log.Error("readGroup failed", err, logger.Fields{"stream": c.stream})
		return errorPollDelay
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		// Messages in entries were never classified; they remain pending
		// in the group's pending set and are not read again by ReadGroup.
		return 0
	}

	for _, e := range entries {
		key, hasKey := orderingKey(e.Payload)
		if ordering && hasKey {
			c.orderingQueues[key] = append(c.orderingQueues[key], keyedJob{id: e.ID, payload: e.Payload})
			continue
		}

		if c.inFlight < c.opts.Concurrency {
			c.inFlight++
			go c.executeJob(e.ID, e.Payload, "")
		} else {
			// Pool is full: stop consuming this batch. The remaining
			// messages stay unacknowledged in the group's pending set.
			// ReadGroup returns only never-delivered messages and this
			// package has no reclaim, so they are not read again here.
			break
		}
	}

	if ordering {
		c.dispatchOrderedLocked()
	}

	return 0
}

// dispatchOrderedLocked admits one job per eligible, non-busy key while a
// pool slot is free. Must be called with c.mu held.
func (c *Consumer) dispatchOrderedLocked() {
	for key, jobs := range c.orderingQueues {
		if c.inFlight >= c.opts.Concurrency {
			return
		}
		if len(jobs) == 0 || c.busyKeys[key] {
			continue
		}

		head := jobs[0]
		remaining := jobs[1:]
		if len(remaining) == 0 {
			delete(c.orderingQueues, key)
		} else {
			c.orderingQueues[key] = remaining
		}

		c.busyKeys[key] = true
		c.inFlight++
		go c.executeJob(head.id, head.payload, key)
	}
}

// executeJob runs the handler and, on success, acknowledges the message.
// Handler failures (including panics) are logged and leave the message
// unacknowledged.
func (c *Consumer) executeJob(id MessageID, payload Payload, key string) {
	ctx, span := c.tracer.Start(context.Background(), "queue.HandleMessage", trace.WithAttributes(
		attribute.String("queue.stream", c.stream),
		attribute.String("queue.message_id", string(id)),
	))

	err := c.runHandler(ctx, payload, id)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Error("handler failed, message left unacknowledged", err, logger.Fields{
			"stream": c.stream, "message_id": string(id),
		})
	} else {
		if ackErr := c.client.Ack(ctx, c.stream, c.opts.GroupName, id); ackErr != nil {
			c.log.Error("ack failed; message left in the pending set", ackErr, logger.Fields{
				"stream": c.stream, "message_id": string(id),
			})
		}
	}
	span.End()

	c.mu.Lock()
	c.inFlight--
	if key != "" {
		delete(c.busyKeys, key)
	}
	if c.opts.ProcessOrderedByKey {
		c.dispatchOrderedLocked()
	}
	c.mu.Unlock()
}

func (c *Consumer) runHandler(ctx context.Context, payload Payload, id MessageID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return c.handler(ctx, payload, id)
}

// Stop transitions to Stopping, cancels scheduling of further poll cycles,
// and waits for in-flight handlers to drain (checking every 250ms) up to
// GracefulShutdownTimeout. Idempotent.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateStopping || c.state == StateStopped {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	cancel := c.cancelPoll
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	deadline := time.Now().Add(c.opts.GracefulShutdownTimeout)
drain:
	for {
		c.mu.Lock()
		inFlight := c.inFlight
		c.mu.Unlock()

		if inFlight == 0 {
			break
		}
		if time.Now().After(deadline) {
			c.log.Warn("graceful shutdown timed out with handlers still in flight", logger.Fields{
				"stream": c.stream, "in_flight": inFlight,
			})
			break
		}

		select {
		case <-ctx.Done():
			c.log.Warn("graceful shutdown canceled by caller context", logger.Fields{"stream": c.stream})
			break drain
		case <-time.After(shutdownPollInterval):
		}
	}

	c.mu.Lock()
	if c.opts.ProcessOrderedByKey {
		remaining := 0
		for _, jobs := range c.orderingQueues {
			remaining += len(jobs)
		}
		if remaining > 0 {
			c.log.Warn("undispatched keyed messages remain pending in the store", logger.Fields{
				"stream": c.stream, "count": remaining,
			})
		}
	}
	c.state = StateStopped
	c.mu.Unlock()

	return nil
}
