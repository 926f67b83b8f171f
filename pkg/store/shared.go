package store

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/fazpi-ai/fazpi-qbull/pkg/logger"
)

// Factory constructs a new Client for the given Config. Adapters expose
// their own New(Config) Client function matching this shape, e.g.
// redis.New.
type Factory func(Config) Client

// SharedStore is a process-wide handle that owns exactly one Client,
// lazily (re)connecting it with the current configuration. Consumer and
// Publisher hold non-owning references obtained through it.
type SharedStore struct {
	mu     sync.Mutex
	client Client
	cfg    *Config

	pendingDone chan struct{}
	sf          singleflight.Group
	newClient   Factory
	log         logger.Logger
}

// New builds a SharedStore that constructs clients with factory.
func New(factory Factory, log logger.Logger) *SharedStore {
	if log == nil {
		log = logger.Named("store/shared")
	}
	return &SharedStore{newClient: factory, log: log}
}

// Connect (re)connects the shared client. With cfg nil, the ambient
// (previously used, or environment-default) configuration is reused. A
// single in-flight connection attempt collapses concurrent callers using
// the same resolved configuration.
func (s *SharedStore) Connect(ctx context.Context, cfg *Config) error {
	resolved := s.resolveConfig(cfg)

	s.mu.Lock()
	if s.cfg != nil && s.cfg.Equal(resolved) && s.client != nil && s.client.Status() == StateReady {
		s.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	s.pendingDone = done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.pendingDone == done {
			s.pendingDone = nil
		}
		s.mu.Unlock()
		close(done)
	}()

	_, err, _ := s.sf.Do(resolved.key(), func() (interface{}, error) {
		return nil, s.doConnect(ctx, resolved)
	})
	return err
}

func (s *SharedStore) doConnect(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	if s.cfg != nil && s.cfg.Equal(cfg) && s.client != nil && s.client.Status() == StateReady {
		s.mu.Unlock()
		return nil
	}
	old := s.client
	s.mu.Unlock()

	if old != nil {
		s.log.Info("reconfiguring shared store, disconnecting previous client")
		if err := old.Disconnect(ctx); err != nil {
			s.log.Warn("error disconnecting previous client", logger.Fields{"error": err.Error()})
		}
	}

	client := s.newClient(cfg)
	err := client.Connect(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.log.Error("failed to connect shared store", err)
		return err
	}
	s.client = client
	cfgCopy := cfg
	s.cfg = &cfgCopy
	return nil
}

// Disconnect tears down the current client and clears the cached config.
func (s *SharedStore) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.cfg = nil
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

// Client returns the owned Client, ensuring a connect attempt (if any) has
// resolved first. Fails NotConnected if Connect was never called and
// nothing is in flight.
func (s *SharedStore) Client(ctx context.Context) (Client, error) {
	return s.ensureReady()
}

func (s *SharedStore) ensureReady() (Client, error) {
	s.mu.Lock()
	client := s.client
	pending := s.pendingDone
	s.mu.Unlock()

	if pending != nil {
		<-pending
		s.mu.Lock()
		client = s.client
		s.mu.Unlock()
	}

	if client == nil {
		return nil, ErrNotConnected()
	}
	return client, nil
}

// Append delegates to the owned client after ensuring it is ready.
func (s *SharedStore) Append(ctx context.Context, stream string, payload Payload) (MessageID, error) {
	client, err := s.ensureReady()
	if err != nil {
		return "", err
	}
	return client.Append(ctx, stream, payload)
}

// Get delegates to the owned client after ensuring it is ready.
func (s *SharedStore) Get(ctx context.Context, key string) (string, error) {
	client, err := s.ensureReady()
	if err != nil {
		return "", err
	}
	return client.Get(ctx, key)
}

// Set delegates to the owned client after ensuring it is ready.
func (s *SharedStore) Set(ctx context.Context, key, value string) error {
	client, err := s.ensureReady()
	if err != nil {
		return err
	}
	return client.Set(ctx, key, value)
}

// RawHandle returns the owned client's driver handle, or nil if no client
// has been constructed yet.
func (s *SharedStore) RawHandle() interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	return s.client.RawHandle()
}

func (s *SharedStore) resolveConfig(cfg *Config) Config {
	if cfg != nil {
		return *cfg
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg != nil {
		return *s.cfg
	}
	return Config{Host: "127.0.0.1", Port: "6379"}
}
