package loadbalance

import (
	"sync/atomic"

	"hashrpc/registry"
)

// RoundRobinBalancer hands out instances in turn. The zero value starts at the first one.
type RoundRobinBalancer struct {
	next atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	n := uint64(len(instances))
	if n == 0 {
		return nil, ErrNoInstances
	}
	return &instances[(b.next.Add(1)-1)%n], nil
}

func (b *RoundRobinBalancer) Name() string { return "round_robin" }
