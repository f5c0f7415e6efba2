// Package client calls functions and objects on a hashrpc server.
//
// A Client owns one connection and sends one request at a time, waiting for its response.
// Objects created through a Client live on the server for as long as the connection does.
//
//	c, _ := client.Dial(ctx, "127.0.0.1:9000")
//	sum, err := client.As[float32](c.CallFunction(ctx, "add", float32(3), float32(4)))
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"hashrpc/ident"
	"hashrpc/message"
	"hashrpc/protocol"
	"hashrpc/transport"
	"hashrpc/wire"
)

const (
	DefaultReceiveBufferSize = 64 * 1024
	DefaultDialRetries       = 3
	DefaultRetryBackoff      = 100 * time.Millisecond
)

type options struct {
	framing   transport.Framing
	logger    *zap.Logger
	recvSize  int
	retries   int
	backoff   time.Duration
	heartbeat time.Duration
}

type Option func(*options)

func WithFraming(f transport.Framing) Option {
	return func(o *options) { o.framing = f }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithReceiveBufferSize bounds the size of one response packet.
func WithReceiveBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.recvSize = n
		}
	}
}

// WithDialRetry sets how often Dial retries a failed connect and the first wait between
// attempts; each further wait doubles.
func WithDialRetry(retries int, backoff time.Duration) Option {
	return func(o *options) {
		if retries >= 0 {
			o.retries = retries
		}
		if backoff > 0 {
			o.backoff = backoff
		}
	}
}

// WithHeartbeat makes framed connections send keep-alive frames.
func WithHeartbeat(interval time.Duration) Option {
	return func(o *options) { o.heartbeat = interval }
}

func newOptions(opts []Option) *options {
	o := &options{
		framing:  transport.FramingRaw,
		logger:   zap.NewNop(),
		recvSize: DefaultReceiveBufferSize,
		retries:  DefaultDialRetries,
		backoff:  DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Client is safe for concurrent use; calls are serialized on its single connection.
type Client struct {
	mu     sync.Mutex
	conn   transport.Conn
	recv   *wire.Buffer
	logger *zap.Logger
	broken error // set once the stream can no longer be trusted
}

// Dial connects to addr, retrying with exponential backoff.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := newOptions(opts)
	logger := o.logger.With(zap.String("addr", addr))

	wait := o.backoff
	for attempt := 0; ; attempt++ {
		conn, err := transport.Dial(ctx, addr, o.framing)
		if err == nil {
			return newClient(conn, o, logger), nil
		}
		if attempt >= o.retries {
			return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, addr, err)
		}
		logger.Debug("dial failed, retrying", zap.Int("attempt", attempt+1), zap.Duration("wait", wait), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, addr, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// NewClient wraps an established connection.
func NewClient(conn transport.Conn, opts ...Option) *Client {
	o := newOptions(opts)
	return newClient(conn, o, o.logger)
}

func newClient(conn transport.Conn, o *options, logger *zap.Logger) *Client {
	if hb, ok := conn.(transport.Heartbeater); ok {
		hb.StartHeartbeat(o.heartbeat)
	}
	return &Client{
		conn:   conn,
		recv:   wire.New(o.recvSize),
		logger: logger,
	}
}

// CallFunction invokes the function registered under name with args and returns its
// encoded result.
func (c *Client) CallFunction(ctx context.Context, name string, args ...any) (*Result, error) {
	return c.CallFunctionID(ctx, ident.Of(name), args...)
}

func (c *Client) CallFunctionID(ctx context.Context, fn ident.ID, args ...any) (*Result, error) {
	packet, err := protocol.CallFunction(fn, args...)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, packet)
}

// CreateObject constructs an object of typeName on the server, stored as objectName, and
// waits for the server to confirm it.
func (c *Client) CreateObject(ctx context.Context, typeName, objectName string, args ...any) error {
	return c.CreateObjectID(ctx, ident.Of(typeName), ident.Of(objectName), args...)
}

func (c *Client) CreateObjectID(ctx context.Context, typ, object ident.ID, args ...any) error {
	packet, err := protocol.CreateObject(typ, object, args...)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, packet)
	return err
}

// CallMethod invokes methodName ("Type.Method") on the object stored as objectName.
func (c *Client) CallMethod(ctx context.Context, methodName, objectName string, args ...any) (*Result, error) {
	return c.CallMethodID(ctx, ident.Of(methodName), ident.Of(objectName), args...)
}

func (c *Client) CallMethodID(ctx context.Context, method, object ident.ID, args ...any) (*Result, error) {
	packet, err := protocol.CallMethod(method, object, args...)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, packet)
}

// DestroyObject releases the object stored as objectName.
func (c *Client) DestroyObject(ctx context.Context, objectName string) error {
	return c.DestroyObjectID(ctx, ident.Of(objectName))
}

func (c *Client) DestroyObjectID(ctx context.Context, object ident.ID) error {
	packet, err := protocol.DestroyObject(object)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, packet)
	return err
}

func (c *Client) call(ctx context.Context, packet *wire.Buffer) (*Result, error) {
	resp, err := c.roundTrip(ctx, packet)
	if err != nil {
		return nil, err
	}
	if resp.Status != message.StatusGood {
		return nil, &StatusError{Status: resp.Status, Message: resp.Error}
	}
	return &Result{value: resp.Value}, nil
}

// roundTrip sends one packet and waits for its response. The context's deadline and
// cancellation are applied to the connection; a call interrupted halfway leaves a response
// in flight, so the connection is closed and every later call fails with ErrConnection.
func (c *Client) roundTrip(ctx context.Context, packet *wire.Buffer) (*message.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return nil, c.broken
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, c.fail(ctx, err)
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		// unblock the pending read or write
		c.conn.SetDeadline(time.Unix(1, 0))
		close(fired)
	})
	defer func() {
		if !stop() {
			<-fired
		}
	}()

	if err := c.conn.Send(packet.Bytes()); err != nil {
		return nil, c.fail(ctx, err)
	}
	for {
		n, err := c.conn.Receive(c.recv)
		if err != nil {
			return nil, c.fail(ctx, err)
		}
		if n > 0 {
			break
		}
	}
	resp, err := protocol.DecodeResponse(c.recv)
	if err != nil {
		return nil, c.fail(ctx, err)
	}
	return resp, nil
}

func (c *Client) fail(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
		// the connection deadline can fire just before the context's timer
		err = context.DeadlineExceeded
	}
	c.broken = fmt.Errorf("%w: %v", ErrConnection, err)
	c.logger.Warn("connection broken", zap.Error(err))
	c.conn.Close()
	return c.broken
}

// Close closes the connection; the server releases every object created through it.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken == nil {
		c.broken = ErrClosed
		return c.conn.Close()
	}
	return nil
}
