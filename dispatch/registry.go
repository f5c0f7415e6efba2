// Package dispatch binds wire identifiers to Go code and routes decoded requests to it.
//
// A Registry holds three tables, all keyed by ident.ID:
//
//	functions: id → func(args...) results          call_function
//	types:     id → constructor func(args...) T    create_object
//	methods:   id → method expression (T).M        call_method
//
// Registration inspects each func once with reflection and records how to decode its
// parameters; the wire carries no type information. A Session pairs the shared Registry with
// the ObjectStore of a single connection.
package dispatch

import (
	"fmt"
	"reflect"
	"sync"

	"hashrpc/ident"
)

// Registry is normally filled during setup and only read while serving, but it is safe for
// concurrent use either way.
type Registry struct {
	mu        sync.RWMutex
	functions map[ident.ID]*Function
	types     map[ident.ID]*Type
	methods   map[ident.ID]*Method
}

func NewRegistry() *Registry {
	return &Registry{
		functions: make(map[ident.ID]*Function),
		types:     make(map[ident.ID]*Type),
		methods:   make(map[ident.ID]*Method),
	}
}

// RegisterFunction binds fn under ident.Of(name).
//
// fn may take any parameters the codec supports and return nothing, a value, an error, or a
// value and an error. Registering a second func under the same identifier replaces the first;
// this includes distinct names whose hashes collide.
func (r *Registry) RegisterFunction(name string, fn any) error {
	return r.registerFunction(ident.Of(name), name, fn)
}

func (r *Registry) RegisterFunctionID(id ident.ID, fn any) error {
	return r.registerFunction(id, id.String(), fn)
}

func (r *Registry) registerFunction(id ident.ID, name string, fn any) error {
	c, err := newCallable(name, fn, kindFunction)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.functions[id] = &Function{c: c}
	r.mu.Unlock()
	return nil
}

// RegisterType binds a constructor under ident.Of(name). ctor returns the new object, or the
// object and an error. The object itself never crosses the wire.
func (r *Registry) RegisterType(name string, ctor any) error {
	return r.registerType(ident.Of(name), name, ctor)
}

func (r *Registry) RegisterTypeID(id ident.ID, ctor any) error {
	return r.registerType(id, id.String(), ctor)
}

func (r *Registry) registerType(id ident.ID, name string, ctor any) error {
	c, err := newCallable(name, ctor, kindConstructor)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.types[id] = &Type{id: id, c: c}
	r.mu.Unlock()
	return nil
}

// RegisterMethod binds a method expression such as (*Counter).Add under ident.Of(name).
// The first parameter is the receiver; calls on objects of any other type are rejected.
func (r *Registry) RegisterMethod(name string, method any) error {
	return r.registerMethod(ident.Of(name), name, method)
}

func (r *Registry) RegisterMethodID(id ident.ID, method any) error {
	return r.registerMethod(id, id.String(), method)
}

func (r *Registry) registerMethod(id ident.ID, name string, method any) error {
	c, err := newCallable(name, method, kindMethod)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.methods[id] = &Method{c: c}
	r.mu.Unlock()
	return nil
}

// RegisterMethods scans the exported methods of sample's type and registers each one whose
// signature can travel on the wire as "<typeName>.<Method>". Other methods are skipped.
// It returns the names registered.
func (r *Registry) RegisterMethods(typeName string, sample any) ([]string, error) {
	typ := reflect.TypeOf(sample)
	if typ == nil {
		return nil, fmt.Errorf("dispatch: %s: nil sample", typeName)
	}

	var names []string
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		name := typeName + "." + m.Name
		if err := r.RegisterMethod(name, m.Func.Interface()); err != nil {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("dispatch: %s: %s has no methods usable over the wire", typeName, typ)
	}
	return names, nil
}

func (r *Registry) Function(id ident.ID) (*Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.functions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, id)
	}
	return f, nil
}

func (r *Registry) Type(id ident.ID) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, id)
	}
	return t, nil
}

func (r *Registry) Method(id ident.ID) (*Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, id)
	}
	return m, nil
}

// Counts reports the size of each table.
func (r *Registry) Counts() (functions, types, methods int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.functions), len(r.types), len(r.methods)
}
