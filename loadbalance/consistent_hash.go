package loadbalance

import (
	"slices"
	"strconv"
	"sync"

	"hashrpc/ident"
	"hashrpc/registry"
)

// DefaultReplicas is the number of virtual nodes per instance.
const DefaultReplicas = 100

// ConsistentHashBalancer pins object identifiers to instances on a hash ring. An identifier
// maps to the same instance until the ring changes, and a change only moves the identifiers
// owned by instances that joined or left.
//
// Ring positions are identifiers too: each instance owns the virtual nodes ident.Of("addr#i"),
// so an object named on the wire by ident.Of(name) is routed without re-hashing its name.
//
//	      0 ─────────────────────► 2^64
//	  A#7 ●     ◆ obj     ● B#2     ● A#31 ...
//	            └──────────► B      (first node at or after the object)
type ConsistentHashBalancer struct {
	mu       sync.RWMutex
	replicas int
	ring     []ident.ID
	nodes    map[ident.ID]*registry.ServiceInstance
}

func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: DefaultReplicas,
		nodes:    make(map[ident.ID]*registry.ServiceInstance),
	}
}

// Add places an instance onto the ring.
func (b *ConsistentHashBalancer) Add(instance *registry.ServiceInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.place(instance)
	slices.Sort(b.ring)
}

func (b *ConsistentHashBalancer) place(instance *registry.ServiceInstance) {
	for i := 0; i < b.replicas; i++ {
		pos := ident.Of(instance.Addr + "#" + strconv.Itoa(i))
		if _, taken := b.nodes[pos]; !taken {
			b.ring = append(b.ring, pos)
		}
		b.nodes[pos] = instance
	}
}

// Update rebuilds the ring from instances.
func (b *ConsistentHashBalancer) Update(instances []registry.ServiceInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring = b.ring[:0]
	b.nodes = make(map[ident.ID]*registry.ServiceInstance, len(instances)*b.replicas)
	for i := range instances {
		inst := instances[i]
		b.place(&inst)
	}
	slices.Sort(b.ring)
}

// PickKey routes the object named key.
func (b *ConsistentHashBalancer) PickKey(key string) (*registry.ServiceInstance, error) {
	return b.PickID(ident.Of(key))
}

// PickID returns the owner of the first virtual node at or after id, wrapping around.
func (b *ConsistentHashBalancer) PickID(id ident.ID) (*registry.ServiceInstance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) == 0 {
		return nil, ErrNoInstances
	}
	idx, _ := slices.BinarySearch(b.ring, id)
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string { return "consistent_hash" }
