package queue

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fazpi-ai/fazpi-qbull/pkg/logger"
	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
)

// appender is the subset of SharedStore the Publisher needs. Publisher
// depends on this narrow interface rather than *store.SharedStore so tests
// can substitute a stub.
type appender interface {
	Append(ctx context.Context, stream string, payload store.Payload) (store.MessageID, error)
}

// PublishOptions configures a single publish call.
type PublishOptions struct {
	// OrderingKey, once trimmed non-empty, is written into the payload's
	// reserved _orderingKey field.
	OrderingKey string
}

// PublishOption mutates PublishOptions.
type PublishOption func(*PublishOptions)

// WithOrderingKey sets the ordering key for a published item.
func WithOrderingKey(key string) PublishOption {
	return func(o *PublishOptions) { o.OrderingKey = key }
}

// Publisher validates and tags outgoing work items before delegating the
// append to the shared store.
type Publisher struct {
	store  appender
	log    logger.Logger
	tracer trace.Tracer
}

// NewPublisher builds a Publisher over store.
func NewPublisher(s appender, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.Named("queue/publisher")
	}
	return &Publisher{store: s, log: log, tracer: otel.Tracer("pkg/queue")}
}

// Publish validates stream and payload, optionally tags payload with an
// ordering key, and appends it to the store. The caller-supplied payload
// is never mutated.
func (p *Publisher) Publish(ctx context.Context, stream string, payload Payload, opts ...PublishOption) (MessageID, error) {
	stream = strings.TrimSpace(stream)
	if stream == "" {
		return "", ErrInvalidArgument("stream must be a non-empty string")
	}
	if payload == nil {
		return "", ErrInvalidArgument("payload must be a structured record")
	}

	var cfg PublishOptions
	for _, opt := range opts {
		opt(&cfg)
	}

	tagged := make(Payload, len(payload)+1)
	for k, v := range payload {
		tagged[k] = v
	}
	if key := strings.TrimSpace(cfg.OrderingKey); key != "" {
		tagged[OrderingKeyField] = key
	}

	ctx, span := p.tracer.Start(ctx, "queue.Publish", trace.WithAttributes(
		attribute.String("queue.stream", stream),
	))
	defer span.End()

	id, err := p.store.Append(ctx, stream, tagged)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.log.Error("publish failed", err, logger.Fields{"stream": stream})
		return "", err
	}

	span.SetAttributes(attribute.String("queue.message_id", string(id)))
	p.log.Debug("published message", logger.Fields{"stream": stream, "message_id": string(id)})
	return id, nil
}
