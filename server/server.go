// Package server runs the hashrpc dispatcher over a listener.
//
// Request processing pipeline, per connection:
//
//	Accept conn → handleConn (one goroutine, one Session)
//	  → Receive packet → protocol.DecodeRequest → Middleware Chain → Session.Handle
//	  → protocol.EncodeResponse → Send
//
// Requests on one connection are handled strictly in order; every request gets exactly one
// response. Objects created on a connection are released when it closes.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/zap"

	"hashrpc/dispatch"
	"hashrpc/message"
	"hashrpc/middleware"
	"hashrpc/protocol"
	"hashrpc/registry"
	"hashrpc/transport"
	"hashrpc/wire"
)

const (
	DefaultAddr              = ":9000"
	DefaultReceiveBufferSize = 10 * 1024
	DefaultMaxConns          = 1
	DefaultServiceTTL        = 10
	DefaultDrainTimeout      = 5 * time.Second
)

// Server owns the registries and serves any number of listeners.
type Server struct {
	registry    *dispatch.Registry
	logger      *zap.Logger
	framing     transport.Framing
	recvSize    int
	maxObjects  int
	heartbeat   time.Duration
	drain       time.Duration
	middlewares []middleware.Middleware

	discovery registry.Registry // nil if not using discovery
	service   string
	advertise string // address published to discovery, must be routable
	ttl       int64

	sem      chan struct{} // admission for maxConns connection loops
	done     chan struct{}
	shutdown atomic.Bool
	wg       sync.WaitGroup // connection loops

	mu       sync.Mutex
	listener net.Listener
	conns    map[transport.Conn]struct{}
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithFraming(f transport.Framing) Option {
	return func(s *Server) { s.framing = f }
}

// WithReceiveBufferSize bounds the size of one request packet.
func WithReceiveBufferSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.recvSize = n
		}
	}
}

// WithMaxConns sets how many connections are served at once. Further connections wait in
// the listen backlog.
func WithMaxConns(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithMaxObjects bounds the object store of each connection.
func WithMaxObjects(n int) Option {
	return func(s *Server) { s.maxObjects = n }
}

// WithHeartbeat makes framed connections send keep-alive frames to the client.
func WithHeartbeat(interval time.Duration) Option {
	return func(s *Server) { s.heartbeat = interval }
}

// WithDrainTimeout bounds how long a closing connection waits for handlers still running,
// such as one abandoned by a timeout, before it releases its objects.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.drain = d
		}
	}
}

// WithMiddleware is Use in option form.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Server) { s.middlewares = append(s.middlewares, mws...) }
}

// WithDispatchRegistry shares an existing set of registries.
func WithDispatchRegistry(reg *dispatch.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// WithDiscovery publishes the server under service while it serves. advertise defaults to the
// listener address; ttl is in seconds.
func WithDiscovery(reg registry.Registry, service, advertise string, ttl int64) Option {
	return func(s *Server) {
		s.discovery = reg
		s.service = service
		s.advertise = advertise
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		registry:   dispatch.NewRegistry(),
		logger:     zap.NewNop(),
		framing:    transport.FramingRaw,
		recvSize:   DefaultReceiveBufferSize,
		maxObjects: dispatch.DefaultMaxObjects,
		ttl:        DefaultServiceTTL,
		drain:      DefaultDrainTimeout,
		sem:        make(chan struct{}, DefaultMaxConns),
		done:       make(chan struct{}),
		conns:      make(map[transport.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the function, type and method tables.
func (s *Server) Registry() *dispatch.Registry { return s.registry }

func (s *Server) RegisterFunction(name string, fn any) error {
	return s.registry.RegisterFunction(name, fn)
}

func (s *Server) RegisterType(name string, ctor any) error {
	return s.registry.RegisterType(name, ctor)
}

func (s *Server) RegisterMethod(name string, method any) error {
	return s.registry.RegisterMethod(name, method)
}

// Use registers a middleware. Middlewares are applied in the order they are added. Call it
// before Serve.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Addr returns the address of the listener being served, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe listens on the TCP address addr and serves it.
func (s *Server) ListenAndServe(addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Shutdown is called. It returns nil after Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	if err := s.publish(l.Addr()); err != nil {
		l.Close()
		return err
	}
	s.logger.Info("serving",
		zap.Stringer("addr", l.Addr()),
		zap.String("framing", string(s.framing)),
		zap.Int("maxConns", cap(s.sem)))

	for {
		select {
		case s.sem <- struct{}{}:
		case <-s.done:
			return nil
		}

		nc, err := l.Accept()
		if err != nil {
			<-s.sem
			// Shutdown closes the listener, which surfaces here as an Accept error
			if s.shutdown.Load() {
				return nil
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer func() {
				<-s.sem
				s.wg.Done()
			}()
			s.handleConn(nc)
		}()
	}
}

func (s *Server) publish(addr net.Addr) error {
	if s.discovery == nil {
		return nil
	}
	if s.advertise == "" {
		s.advertise = addr.String()
	}
	instance := registry.ServiceInstance{Addr: s.advertise, Weight: 1, Framing: string(s.framing)}
	if err := s.discovery.Register(s.service, instance, s.ttl); err != nil {
		return fmt.Errorf("server: register %s at %s: %w", s.service, s.advertise, err)
	}
	s.logger.Info("registered", zap.String("service", s.service), zap.String("advertise", s.advertise))
	return nil
}

func (s *Server) track(c transport.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.shutdown.Load() {
			return false
		}
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
	return true
}

// handleConn runs the receive/dispatch/respond loop of one connection.
func (s *Server) handleConn(nc net.Conn) {
	conn := transport.NewConn(nc, s.framing)
	defer conn.Close()
	if !s.track(conn, true) {
		return
	}
	defer s.track(conn, false)

	logger := s.logger.With(
		zap.String("conn", uuid.NewV4().String()),
		zap.Stringer("remote", conn.RemoteAddr()))
	logger.Debug("connection accepted")

	objects, err := dispatch.NewObjectStore(s.maxObjects)
	if err != nil {
		logger.Error("create object store", zap.Error(err))
		return
	}
	session := dispatch.NewSession(s.registry, objects)
	defer func() {
		if !session.Drain(s.drain) {
			logger.Warn("handlers still running, releasing objects anyway", zap.Duration("waited", s.drain))
		}
		n := objects.Len()
		session.Close()
		logger.Debug("connection closed", zap.Int("released", n))
	}()

	if hb, ok := conn.(transport.Heartbeater); ok {
		hb.StartHeartbeat(s.heartbeat)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := middleware.Chain(s.middlewares...)(session.Handle)

	buf := wire.New(s.recvSize)
	for {
		n, err := conn.Receive(buf)
		var resp *message.Response
		switch {
		case errors.Is(err, transport.ErrFrameTooLarge):
			resp = message.Fail(message.StatusBadRequest, "%v", err)
		case err != nil:
			if isClosed(err) || s.shutdown.Load() {
				return
			}
			logger.Warn("receive failed", zap.Error(err))
			return
		case n == 0:
			continue
		default:
			resp = s.handlePacket(ctx, handler, buf)
		}

		if err := s.reply(conn, resp); err != nil {
			if !isClosed(err) {
				logger.Warn("send failed", zap.Error(err))
			}
			return
		}
	}
}

// handlePacket decodes one request and runs it through the handler chain. A packet that
// cannot be decoded is answered with StatusBadRequest.
func (s *Server) handlePacket(ctx context.Context, handler middleware.HandlerFunc, buf *wire.Buffer) *message.Response {
	req, err := protocol.DecodeRequest(buf)
	if err != nil {
		return message.Fail(message.StatusBadRequest, "%v", err)
	}
	return handler(ctx, req)
}

func (s *Server) reply(conn transport.Conn, resp *message.Response) error {
	out, err := protocol.EncodeResponse(resp)
	if err != nil {
		// the value did not fit; the client still gets an answer
		out, err = protocol.EncodeResponse(message.Fail(message.StatusInternal, "encode response: %v", err))
		if err != nil {
			return err
		}
	}
	return conn.Send(out.Bytes())
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// Shutdown performs graceful shutdown:
//  1. Deregister from discovery so routers stop picking this server
//  2. Stop accepting and close the listener
//  3. Close open connections, which releases their objects
//  4. Wait for connection loops to exit, at most timeout
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.discovery != nil && s.advertise != "" {
		if err := s.discovery.Deregister(s.service, s.advertise); err != nil {
			s.logger.Warn("deregister failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	if s.shutdown.Swap(true) {
		s.mu.Unlock()
		return nil
	}
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("shut down")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for connections to finish")
	}
}
