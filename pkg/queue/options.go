package queue

import (
	"fmt"
	"os"
	"time"

	"github.com/fazpi-ai/fazpi-qbull/pkg/logger"
)

const (
	defaultConcurrency             = 1
	defaultBlockTime               = 5 * time.Second
	defaultGracefulShutdownTimeout = 30 * time.Second
	shutdownPollInterval           = 250 * time.Millisecond
	idlePollDelay                  = 1 * time.Second
	errorPollDelay                 = 5 * time.Second
)

// ConsumerOptions configures a Consumer. Zero values are replaced with the
// defaults documented in spec §4.4's option table.
type ConsumerOptions struct {
	Concurrency             int
	ProcessOrderedByKey     bool
	GroupName               string
	ConsumerName            string
	BlockTime               time.Duration
	GracefulShutdownTimeout time.Duration
	Logger                  logger.Logger
}

// ConsumerOption mutates ConsumerOptions.
type ConsumerOption func(*ConsumerOptions)

// WithConcurrency sets the upper bound on in-flight handler invocations.
func WithConcurrency(n int) ConsumerOption {
	return func(o *ConsumerOptions) { o.Concurrency = n }
}

// WithOrderedByKey enables the per-key FIFO serializer.
func WithOrderedByKey(enabled bool) ConsumerOption {
	return func(o *ConsumerOptions) { o.ProcessOrderedByKey = enabled }
}

// WithGroupName overrides the default "group:<stream>" consumer group name.
func WithGroupName(name string) ConsumerOption {
	return func(o *ConsumerOptions) { o.GroupName = name }
}

// WithConsumerName overrides the default generated consumer identity.
func WithConsumerName(name string) ConsumerOption {
	return func(o *ConsumerOptions) { o.ConsumerName = name }
}

// WithBlockTime sets the max blocking time per ReadGroup call.
func WithBlockTime(d time.Duration) ConsumerOption {
	return func(o *ConsumerOptions) { o.BlockTime = d }
}

// WithGracefulShutdownTimeout bounds Stop's wait for in-flight drain.
func WithGracefulShutdownTimeout(d time.Duration) ConsumerOption {
	return func(o *ConsumerOptions) { o.GracefulShutdownTimeout = d }
}

// WithLogger injects a Logger; defaults to a module-named logger.Named sink.
func WithLogger(log logger.Logger) ConsumerOption {
	return func(o *ConsumerOptions) { o.Logger = log }
}

func resolveOptions(stream string, opts []ConsumerOption) (ConsumerOptions, []string) {
	var cfg ConsumerOptions
	for _, opt := range opts {
		opt(&cfg)
	}

	var warnings []string

	if cfg.Concurrency < 1 {
		warnings = append(warnings, fmt.Sprintf("concurrency coerced to 1 (got %d)", cfg.Concurrency))
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.GroupName == "" {
		cfg.GroupName = "group:" + stream
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = fmt.Sprintf("consumer:%s-%d-%d", stream, os.Getpid(), time.Now().UnixMilli())
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = defaultBlockTime
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = defaultGracefulShutdownTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Named("queue/consumer")
	}

	return cfg, warnings
}
