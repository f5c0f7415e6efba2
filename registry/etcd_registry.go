package registry

// EtcdRegistry stores instances in etcd:
//
//	Key:   /hashrpc/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Registration uses TTL-based leases: if the server crashes, the lease expires and the entry
// is removed automatically.

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const (
	KeyPrefix          = "/hashrpc/"
	DefaultDialTimeout = 5 * time.Second
)

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client  *clientv3.Client // thread-safe, shared across goroutines
	logger  *zap.Logger
	timeout time.Duration // per-operation deadline

	mu     sync.Mutex
	leases map[string]context.CancelFunc // key → stops its keep-alive
	ctx    context.Context
	cancel context.CancelFunc
}

type EtcdOption func(*clientv3.Config, *EtcdRegistry)

func WithEtcdLogger(logger *zap.Logger) EtcdOption {
	return func(cfg *clientv3.Config, r *EtcdRegistry) {
		if logger != nil {
			cfg.Logger = logger.Named("etcd")
			r.logger = logger
		}
	}
}

func WithDialTimeout(d time.Duration) EtcdOption {
	return func(cfg *clientv3.Config, r *EtcdRegistry) {
		if d > 0 {
			cfg.DialTimeout = d
			r.timeout = d
		}
	}
}

// NewEtcdRegistry creates a registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, opts ...EtcdOption) (*EtcdRegistry, error) {
	r := &EtcdRegistry{
		logger:  zap.NewNop(),
		timeout: DefaultDialTimeout,
		leases:  make(map[string]context.CancelFunc),
	}
	cfg := clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: DefaultDialTimeout,
		Logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg, r)
	}

	c, err := clientv3.New(cfg)
	if err != nil {
		return nil, err
	}
	r.client = c
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r, nil
}

func serviceKey(serviceName, addr string) string {
	return KeyPrefix + serviceName + "/" + addr
}

func servicePrefix(serviceName string) string {
	return KeyPrefix + serviceName + "/"
}

// Register adds a service instance with a TTL lease and keeps the lease alive until
// Deregister or Close.
//
// Note: the lease ID stays local to this call so several servers can share one registry.
func (r *EtcdRegistry) Register(serviceName string, instance ServiceInstance, ttl int64) error {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := serviceKey(serviceName, instance.Addr)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// keep-alive outlives this call, so it gets its own context
	kaCtx, stop := context.WithCancel(r.ctx)
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		stop()
		return err
	}

	r.mu.Lock()
	if prev, ok := r.leases[key]; ok {
		prev()
	}
	r.leases[key] = stop
	r.mu.Unlock()

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keep-alive stopped", zap.String("key", key))
	}()
	r.logger.Debug("registered", zap.String("key", key), zap.Int64("ttl", ttl))
	return nil
}

// Deregister removes a service instance and stops renewing its lease.
func (r *EtcdRegistry) Deregister(serviceName string, addr string) error {
	key := serviceKey(serviceName, addr)
	r.mu.Lock()
	if stop, ok := r.leases[key]; ok {
		stop()
		delete(r.leases, key)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	_, err := r.client.Delete(ctx, key)
	return err
}

// Watch monitors a service prefix and emits the re-fetched instance list whenever it changes
// (registrations, deregistrations, lease expirations). The channel is closed by Close.
func (r *EtcdRegistry) Watch(serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(r.ctx, servicePrefix(serviceName), clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(serviceName)
			if err != nil {
				r.logger.Warn("discover after watch event", zap.String("service", serviceName), zap.Error(err))
				continue
			}
			select {
			case <-ch:
			default:
			}
			ch <- instances
		}
	}()

	return ch
}

// Discover returns all currently registered instances for a service.
func (r *EtcdRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	resp, err := r.client.Get(ctx, servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skip malformed instance", zap.ByteString("key", kv.Key))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close stops all keep-alives and watches and closes the etcd client. Leases expire on
// their own after their TTL.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	r.mu.Lock()
	r.leases = make(map[string]context.CancelFunc)
	r.mu.Unlock()
	return r.client.Close()
}
