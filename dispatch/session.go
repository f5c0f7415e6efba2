package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hashrpc/ident"
	"hashrpc/message"
	"hashrpc/wire"
)

// Session routes the requests of one connection. Objects created through it live in its
// ObjectStore and are released when the session is closed.
type Session struct {
	registry *Registry
	objects  *ObjectStore

	mu      sync.Mutex
	running int
	idle    chan struct{} // closed when running drops to zero
}

func NewSession(reg *Registry, objects *ObjectStore) *Session {
	return &Session{registry: reg, objects: objects}
}

func (s *Session) Objects() *ObjectStore { return s.objects }

// Handle routes a request by opcode. It never fails: every error becomes a status response.
func (s *Session) Handle(ctx context.Context, req *message.Request) *message.Response {
	s.begin()
	defer s.end()

	var (
		value *wire.Buffer
		err   error
	)
	switch req.Op {
	case message.OpCallFunction:
		value, err = s.CallFunction(req.ID, req.Args)
	case message.OpCallMethod:
		value, err = s.CallMethod(req.ID, req.Object, req.Args)
	case message.OpCreateObject:
		err = s.CreateObject(req.ID, req.Object, req.Args)
	case message.OpDestroyObject:
		err = s.DestroyObject(req.Object)
	default:
		err = fmt.Errorf("%w: unknown opcode %d", ErrBadArguments, uint8(req.Op))
	}
	if err != nil {
		return &message.Response{Status: StatusOf(err), Error: err.Error()}
	}
	return message.OK(value)
}

// CallFunction runs the function registered under id.
func (s *Session) CallFunction(id ident.ID, args *wire.Buffer) (*wire.Buffer, error) {
	f, err := s.registry.Function(id)
	if err != nil {
		return nil, err
	}
	return f.Call(args)
}

// CreateObject constructs an object of the type registered under typeID and stores it as
// objectID, replacing any object already stored there.
func (s *Session) CreateObject(typeID, objectID ident.ID, args *wire.Buffer) error {
	t, err := s.registry.Type(typeID)
	if err != nil {
		return err
	}
	obj, err := t.Construct(args)
	if err != nil {
		return err
	}
	s.objects.Insert(objectID, obj)
	return nil
}

// CallMethod runs the method registered under methodID on the object stored as objectID.
func (s *Session) CallMethod(methodID, objectID ident.ID, args *wire.Buffer) (*wire.Buffer, error) {
	m, err := s.registry.Method(methodID)
	if err != nil {
		return nil, err
	}
	obj, err := s.objects.Get(objectID)
	if err != nil {
		return nil, err
	}
	return m.Call(obj, args)
}

// DestroyObject removes and releases the object stored as objectID.
func (s *Session) DestroyObject(objectID ident.ID) error {
	return s.objects.Remove(objectID)
}

func (s *Session) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == 0 {
		s.idle = make(chan struct{})
	}
	s.running++
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--
	if s.running == 0 {
		close(s.idle)
	}
}

// Drain waits at most timeout for running handlers to return, for instance one abandoned by
// a timeout. It reports whether none is left.
func (s *Session) Drain(timeout time.Duration) bool {
	s.mu.Lock()
	if s.running == 0 {
		s.mu.Unlock()
		return true
	}
	idle := s.idle
	s.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-idle:
		return true
	case <-t.C:
		return false
	}
}

// Close releases every object of the session. Objects created by a handler still running
// are released as soon as it stores them.
func (s *Session) Close() {
	s.objects.Close()
}
