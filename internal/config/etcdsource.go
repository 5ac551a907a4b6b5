package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/pingsix/pingsix/internal/logging"
)

// defaultEtcdConfigKey is the etcd key holding the whole configuration
// document when EtcdConfig.Key is left unset.
const defaultEtcdConfigKey = "/pingsix/config"

// EtcdSource is a dynamic config source backed by a single etcd key holding
// the whole YAML configuration document - the etcd-watch counterpart to
// Watcher's fsnotify-based file watching, generalized from the teacher's
// internal/registry/etcd.Registry.watchService (which watches a
// service-instance prefix) to whole-catalog-revision watching. Both
// sources feed the same OnChange(*Config) callback contract, so the
// caller's reload handler is oblivious to which backend produced the
// candidate config.
type EtcdSource struct {
	client *clientv3.Client
	key    string
	loader *Loader

	mu        sync.RWMutex
	callbacks []func(*Config)
}

// NewEtcdSource dials etcd. Start performs the initial load and begins
// watching.
func NewEtcdSource(cfg EtcdConfig) (*EtcdSource, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd config source: no endpoints configured")
	}

	key := cfg.Key
	if key == "" {
		key = defaultEtcdConfigKey
	}

	etcdCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: 5 * time.Second,
	}
	if cfg.Username != "" {
		etcdCfg.Username = cfg.Username
		etcdCfg.Password = cfg.Password
	}

	client, err := clientv3.New(etcdCfg)
	if err != nil {
		return nil, fmt.Errorf("etcd config source: dial: %w", err)
	}

	return &EtcdSource{client: client, key: key, loader: NewLoader()}, nil
}

// OnChange registers a callback for config changes, mirroring Watcher.OnChange.
func (s *EtcdSource) OnChange(callback func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, callback)
}

// Start loads the current value of the configured key, notifies callbacks
// with it, then watches the key for the lifetime of ctx, reconnecting with
// exponential backoff (github.com/cenkalti/backoff/v4) whenever etcd drops
// the watch stream.
func (s *EtcdSource) Start(ctx context.Context) error {
	if err := s.loadAndNotify(ctx); err != nil {
		return err
	}
	go s.watch(ctx)
	return nil
}

func (s *EtcdSource) loadAndNotify(ctx context.Context) error {
	resp, err := s.client.Get(ctx, s.key)
	if err != nil {
		return fmt.Errorf("etcd config source: get %s: %w", s.key, err)
	}
	if len(resp.Kvs) == 0 {
		return fmt.Errorf("etcd config source: key %s not found", s.key)
	}
	cfg, err := s.loader.Parse(resp.Kvs[0].Value)
	if err != nil {
		return fmt.Errorf("etcd config source: parse %s: %w", s.key, err)
	}
	s.notify(cfg)
	return nil
}

func (s *EtcdSource) notify(cfg *Config) {
	s.mu.RLock()
	callbacks := make([]func(*Config), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.RUnlock()

	for _, cb := range callbacks {
		go cb(cfg)
	}
}

// watch re-establishes an etcd watch on s.key for as long as ctx is alive,
// backing off exponentially between reconnect attempts rather than the
// teacher's watchService, which just returns on a closed channel and never
// reconnects.
func (s *EtcdSource) watch(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry for as long as ctx allows

	for ctx.Err() == nil {
		watchCh := s.client.Watch(ctx, s.key)
		err := s.consume(ctx, watchCh)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			bo.Reset()
			continue
		}

		wait := bo.NextBackOff()
		logging.Error("etcd watch dropped, reconnecting",
			zap.Error(err), zap.Duration("backoff", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// consume drains watchCh until it closes or ctx is cancelled, reloading the
// config on every event. It returns a non-nil error when the channel
// reports one (clientv3 surfaces both transport drops and compaction
// errors this way), so watch knows to back off before reconnecting.
func (s *EtcdSource) consume(ctx context.Context, watchCh clientv3.WatchChan) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case resp, ok := <-watchCh:
			if !ok {
				return fmt.Errorf("etcd config source: watch channel closed")
			}
			if err := resp.Err(); err != nil {
				return err
			}
			if err := s.loadAndNotify(ctx); err != nil {
				logging.Error("etcd config source: reload failed", zap.Error(err))
			}
		}
	}
}

// Close releases the etcd client connection.
func (s *EtcdSource) Close() error {
	return s.client.Close()
}
