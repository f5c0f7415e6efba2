package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"hashrpc/loadbalance"
	"hashrpc/registry"
	"hashrpc/transport"
)

// Caller is the call surface shared by a Client bound to one server and a Router spreading
// calls over many.
type Caller interface {
	CallFunction(ctx context.Context, name string, args ...any) (*Result, error)
	CreateObject(ctx context.Context, typeName, objectName string, args ...any) error
	CallMethod(ctx context.Context, methodName, objectName string, args ...any) (*Result, error)
	DestroyObject(ctx context.Context, objectName string) error
	Close() error
}

var (
	_ Caller = (*Client)(nil)
	_ Caller = (*Router)(nil)
)

// Router spreads calls over the instances registered for one service.
//
// Function calls go to the instance chosen by the Balancer. Object operations are routed by
// object name on a consistent hash ring, so every call naming one object reaches the server
// holding it. One Client is kept per instance address, dialed with the framing the instance
// published.
type Router struct {
	registry registry.Registry
	service  string
	balancer loadbalance.Balancer
	ring     loadbalance.KeyBalancer
	opts     []Option
	logger   *zap.Logger

	mu        sync.Mutex
	instances []registry.ServiceInstance
	clients   map[string]*Client
	done      chan struct{}
	closeOnce sync.Once
}

// NewRouter discovers the instances of service and follows changes through Watch. A nil
// balancer means round robin.
func NewRouter(reg registry.Registry, service string, bal loadbalance.Balancer, opts ...Option) (*Router, error) {
	if bal == nil {
		bal = &loadbalance.RoundRobinBalancer{}
	}
	r := &Router{
		registry: reg,
		service:  service,
		balancer: bal,
		ring:     loadbalance.NewConsistentHashBalancer(),
		opts:     opts,
		logger:   newOptions(opts).logger.With(zap.String("service", service)),
		clients:  make(map[string]*Client),
		done:     make(chan struct{}),
	}

	instances, err := reg.Discover(service)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", service, err)
	}
	r.update(instances)

	go r.watch(reg.Watch(service))
	return r, nil
}

func (r *Router) watch(ch <-chan []registry.ServiceInstance) {
	for {
		select {
		case <-r.done:
			return
		case instances, ok := <-ch:
			if !ok {
				return
			}
			r.update(instances)
		}
	}
}

// update swaps the instance set and drops clients of instances that left.
func (r *Router) update(instances []registry.ServiceInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = instances
	r.ring.Update(instances)

	live := make(map[string]bool, len(instances))
	for _, inst := range instances {
		live[inst.Addr] = true
	}
	for addr, c := range r.clients {
		if !live[addr] {
			c.Close()
			delete(r.clients, addr)
		}
	}
	r.logger.Debug("instances updated", zap.Int("count", len(instances)))
}

// Instances returns the current instance set.
func (r *Router) Instances() []registry.ServiceInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registry.ServiceInstance(nil), r.instances...)
}

func (r *Router) pick() (registry.ServiceInstance, error) {
	r.mu.Lock()
	instances := r.instances
	r.mu.Unlock()
	inst, err := r.balancer.Pick(instances)
	if err != nil {
		return registry.ServiceInstance{}, fmt.Errorf("%s: %w", r.service, err)
	}
	return *inst, nil
}

func (r *Router) pickObject(objectName string) (registry.ServiceInstance, error) {
	inst, err := r.ring.PickKey(objectName)
	if err != nil {
		return registry.ServiceInstance{}, fmt.Errorf("%s: %w", r.service, err)
	}
	return *inst, nil
}

func (r *Router) client(ctx context.Context, inst registry.ServiceInstance) (*Client, error) {
	addr := inst.Addr
	r.mu.Lock()
	c, ok := r.clients[addr]
	r.mu.Unlock()
	if ok {
		return c, nil
	}

	framing, err := transport.ParseFraming(inst.Framing)
	if err != nil {
		return nil, fmt.Errorf("%s at %s: %w", r.service, addr, err)
	}
	opts := append(append([]Option(nil), r.opts...), WithFraming(framing))
	c, err = Dial(ctx, addr, opts...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[addr]; ok {
		c.Close()
		return existing, nil
	}
	r.clients[addr] = c
	return c, nil
}

// forget drops a client whose connection broke so the next call redials.
func (r *Router) forget(addr string, c *Client, err error) {
	if !errors.Is(err, ErrConnection) {
		return
	}
	r.mu.Lock()
	if r.clients[addr] == c {
		delete(r.clients, addr)
	}
	r.mu.Unlock()
	r.logger.Warn("dropping client", zap.String("addr", addr), zap.Error(err))
}

func (r *Router) CallFunction(ctx context.Context, name string, args ...any) (*Result, error) {
	inst, err := r.pick()
	if err != nil {
		return nil, err
	}
	c, err := r.client(ctx, inst)
	if err != nil {
		return nil, err
	}
	res, err := c.CallFunction(ctx, name, args...)
	r.forget(inst.Addr, c, err)
	return res, err
}

func (r *Router) CreateObject(ctx context.Context, typeName, objectName string, args ...any) error {
	inst, err := r.pickObject(objectName)
	if err != nil {
		return err
	}
	c, err := r.client(ctx, inst)
	if err != nil {
		return err
	}
	err = c.CreateObject(ctx, typeName, objectName, args...)
	r.forget(inst.Addr, c, err)
	return err
}

func (r *Router) CallMethod(ctx context.Context, methodName, objectName string, args ...any) (*Result, error) {
	inst, err := r.pickObject(objectName)
	if err != nil {
		return nil, err
	}
	c, err := r.client(ctx, inst)
	if err != nil {
		return nil, err
	}
	res, err := c.CallMethod(ctx, methodName, objectName, args...)
	r.forget(inst.Addr, c, err)
	return res, err
}

func (r *Router) DestroyObject(ctx context.Context, objectName string) error {
	inst, err := r.pickObject(objectName)
	if err != nil {
		return err
	}
	c, err := r.client(ctx, inst)
	if err != nil {
		return err
	}
	err = c.DestroyObject(ctx, objectName)
	r.forget(inst.Addr, c, err)
	return err
}

// Close stops following the registry and closes every client.
func (r *Router) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	r.mu.Lock()
	defer r.mu.Unlock()
	for addr, c := range r.clients {
		c.Close()
		delete(r.clients, addr)
	}
	return nil
}
