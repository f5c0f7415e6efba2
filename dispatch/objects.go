package dispatch

import (
	"fmt"
	"io"
	"reflect"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"hashrpc/ident"
)

// DefaultMaxObjects bounds an ObjectStore when no capacity is configured.
const DefaultMaxObjects = 4096

// Object is a server-side instance built by a registered constructor. It remembers the
// concrete value, so methods can check their receiver type before running.
type Object struct {
	Type  ident.ID
	Value reflect.Value
}

// Interface returns the underlying instance.
func (o *Object) Interface() any {
	if !o.Value.IsValid() {
		return nil
	}
	return o.Value.Interface()
}

func (o *Object) typeName() string {
	if !o.Value.IsValid() {
		return "<nil>"
	}
	return o.Value.Type().String()
}

// release closes instances that hold resources.
func (o *Object) release() {
	if c, ok := o.Interface().(io.Closer); ok {
		c.Close()
	}
}

// ObjectStore maps object identifiers to instances for one connection.
//
// It is bounded: inserting past capacity evicts the least recently used object. Objects that
// leave the store (evicted, overwritten, destroyed or purged on Close) are closed if they
// implement io.Closer.
type ObjectStore struct {
	mu     sync.Mutex
	cache  *lru.Cache
	closed bool
}

// NewObjectStore creates a store holding at most capacity objects.
func NewObjectStore(capacity int) (*ObjectStore, error) {
	if capacity <= 0 {
		capacity = DefaultMaxObjects
	}
	cache, err := lru.NewWithEvict(capacity, func(_, value interface{}) {
		value.(*Object).release()
	})
	if err != nil {
		return nil, err
	}
	return &ObjectStore{cache: cache}, nil
}

// Insert stores obj under id, replacing (and releasing) any previous object. After Close,
// obj is released at once.
func (s *ObjectStore) Insert(id ident.ID, obj *Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// a handler finishing after its connection is gone
		obj.release()
		return
	}
	if s.cache.Contains(id) {
		s.cache.Remove(id)
	}
	s.cache.Add(id, obj)
}

// Get looks up an object.
func (s *ObjectStore) Get(id ident.ID) (*Object, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	return v.(*Object), nil
}

// Remove destroys an object.
func (s *ObjectStore) Remove(id ident.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cache.Contains(id) {
		return fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	s.cache.Remove(id)
	return nil
}

func (s *ObjectStore) Len() int { return s.cache.Len() }

// Close releases every object.
func (s *ObjectStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cache.Purge()
}
