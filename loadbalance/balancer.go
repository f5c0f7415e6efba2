// Package loadbalance picks the server instance a client connects to.
//
// Three strategies are implemented:
//   - RoundRobin:      stateless function calls, equal-capacity instances
//   - WeightedRandom:  heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  object affinity; every call naming one object reaches the server
//     holding it
package loadbalance

import (
	"errors"

	"hashrpc/registry"
)

var ErrNoInstances = errors.New("no instances available")

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance from the available list. Must be goroutine-safe.
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// KeyBalancer maps a key to a stable instance.
type KeyBalancer interface {
	// Update replaces the instance set.
	Update(instances []registry.ServiceInstance)
	PickKey(key string) (*registry.ServiceInstance, error)
	Name() string
}

// New returns the balancer named by strategy: "round_robin" (default), "weighted_random".
func New(strategy string) (Balancer, error) {
	switch strategy {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	}
	return nil, errors.New("loadbalance: unknown strategy " + strategy)
}
