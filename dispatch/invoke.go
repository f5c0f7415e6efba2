package dispatch

import (
	"fmt"
	"reflect"

	"hashrpc/codec"
	"hashrpc/ident"
	"hashrpc/wire"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

type callableKind int

const (
	kindFunction callableKind = iota
	kindMethod
	kindConstructor
)

// callable is a Go func whose wire shape was resolved once, at registration.
// Requests only ever decode into the parameter types recorded here.
type callable struct {
	name   string
	fn     reflect.Value
	recv   reflect.Type   // methods only
	in     []reflect.Type // wire parameters, receiver excluded
	result reflect.Type   // nil when nothing but an optional error is returned
	hasErr bool
}

func newCallable(name string, fn any, kind callableKind) (*callable, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("dispatch: %s: expect a func, got %T", name, fn)
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, fmt.Errorf("dispatch: %s: variadic funcs are not supported", name)
	}

	c := &callable{name: name, fn: v}
	first := 0
	if kind == kindMethod {
		if t.NumIn() == 0 {
			return nil, fmt.Errorf("dispatch: %s: method needs a receiver parameter", name)
		}
		c.recv = t.In(0)
		first = 1
	}
	for i := first; i < t.NumIn(); i++ {
		if err := codec.Check(t.In(i)); err != nil {
			return nil, fmt.Errorf("dispatch: %s: parameter %d: %w", name, i, err)
		}
		c.in = append(c.in, t.In(i))
	}

	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			c.hasErr = true
		} else {
			c.result = t.Out(0)
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, fmt.Errorf("dispatch: %s: second result must be error", name)
		}
		c.result, c.hasErr = t.Out(0), true
	default:
		return nil, fmt.Errorf("dispatch: %s: too many results", name)
	}

	if kind == kindConstructor {
		// constructors return a handle that stays on the server, never encoded
		if c.result == nil {
			return nil, fmt.Errorf("dispatch: %s: constructor must return the new object", name)
		}
	} else if c.result != nil {
		if err := codec.Check(c.result); err != nil {
			return nil, fmt.Errorf("dispatch: %s: result: %w", name, err)
		}
	}
	return c, nil
}

// decode reads every wire parameter in declaration order. The arguments must be consumed
// exactly; leftovers mean the caller and the registration disagree about the signature.
func (c *callable) decode(args *wire.Buffer, in []reflect.Value) ([]reflect.Value, error) {
	if args == nil {
		args = wire.New(0)
	}
	cursor := 0
	for _, t := range c.in {
		v, err := codec.Decode(args, &cursor, t)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadArguments, c.name, err)
		}
		in = append(in, v)
	}
	if cursor != args.Len() {
		return nil, fmt.Errorf("%w: %s: %d unread argument bytes", ErrBadArguments, c.name, args.Len()-cursor)
	}
	return in, nil
}

func (c *callable) call(in []reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrPanic, c.name, r)
		}
	}()
	out = c.fn.Call(in)
	if c.hasErr {
		if e := out[len(out)-1]; !e.IsNil() {
			return nil, fmt.Errorf("%w: %s: %v", ErrHandler, c.name, e.Interface())
		}
	}
	return out, nil
}

func (c *callable) encode(out []reflect.Value) (*wire.Buffer, error) {
	if c.result == nil {
		return nil, nil
	}
	v := out[0]
	b := wire.New(codec.Size(v))
	if err := codec.Encode(b, v); err != nil {
		return nil, fmt.Errorf("%s: encode result: %w", c.name, err)
	}
	return b, nil
}

// Function is a registered free function.
type Function struct {
	c *callable
}

func (f *Function) Name() string { return f.c.name }

// Call decodes the arguments, invokes the function and encodes its result.
func (f *Function) Call(args *wire.Buffer) (*wire.Buffer, error) {
	in, err := f.c.decode(args, nil)
	if err != nil {
		return nil, err
	}
	out, err := f.c.call(in)
	if err != nil {
		return nil, err
	}
	return f.c.encode(out)
}

// Type is a registered constructor.
type Type struct {
	id ident.ID
	c  *callable
}

func (t *Type) Name() string { return t.c.name }

// Construct decodes the constructor arguments and builds a new object.
func (t *Type) Construct(args *wire.Buffer) (*Object, error) {
	in, err := t.c.decode(args, nil)
	if err != nil {
		return nil, err
	}
	out, err := t.c.call(in)
	if err != nil {
		return nil, err
	}
	v := out[0]
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	return &Object{Type: t.id, Value: v}, nil
}

// Method is a registered method expression; its first parameter is the receiver.
type Method struct {
	c *callable
}

func (m *Method) Name() string { return m.c.name }

// Receiver is the type the target object must have.
func (m *Method) Receiver() reflect.Type { return m.c.recv }

// Call invokes the method on obj.
func (m *Method) Call(obj *Object, args *wire.Buffer) (*wire.Buffer, error) {
	if !obj.Value.IsValid() || !obj.Value.Type().AssignableTo(m.c.recv) {
		return nil, fmt.Errorf("%w: %s wants %s, object is %s", ErrTypeMismatch, m.c.name, m.c.recv, obj.typeName())
	}
	in, err := m.c.decode(args, []reflect.Value{obj.Value})
	if err != nil {
		return nil, err
	}
	out, err := m.c.call(in)
	if err != nil {
		return nil, err
	}
	return m.c.encode(out)
}
