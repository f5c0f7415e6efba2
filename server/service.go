package server

import (
	"fmt"
	"reflect"
)

// Register publishes the exported methods of a service receiver (e.g. &Arith{}) as functions
// named "<Type>.<Method>", all bound to that one receiver. Methods whose signatures cannot
// travel on the wire are skipped. It returns the names registered.
func (s *Server) Register(rcvr any) ([]string, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpc: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	name := typ.Elem().Name()
	val := reflect.ValueOf(rcvr)

	var names []string
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		fn := val.Method(i).Interface()
		if err := s.registry.RegisterFunction(name+"."+method.Name, fn); err != nil {
			continue
		}
		names = append(names, name+"."+method.Name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("rpc: %s has no methods usable over the wire", name)
	}
	return names, nil
}

// RegisterClass registers ctor as the constructor of typeName together with every usable
// method of the type it returns, named "<typeName>.<Method>".
func (s *Server) RegisterClass(typeName string, ctor any) ([]string, error) {
	ft := reflect.TypeOf(ctor)
	if ft == nil || ft.Kind() != reflect.Func || ft.NumOut() == 0 {
		return nil, fmt.Errorf("rpc: %s: constructor must be a func returning the object", typeName)
	}
	if err := s.registry.RegisterType(typeName, ctor); err != nil {
		return nil, err
	}
	if ft.Out(0).Kind() == reflect.Interface {
		return nil, fmt.Errorf("rpc: %s: constructor returns an interface, register methods explicitly", typeName)
	}
	return s.registry.RegisterMethods(typeName, reflect.Zero(ft.Out(0)).Interface())
}
