// Package transport adapts a connection-oriented byte stream to the three things the RPC
// core needs: send a packet, receive a packet into a wire buffer, and close.
//
// Two framings exist and both ends must agree on one:
//
//   - FramingRaw sends packets exactly as the protocol defines them. One Read is one packet,
//     which holds because every request waits for its response before the next is sent.
//   - FramingFramed wraps each packet in a 14-byte header (see frame.go) and adds
//     heartbeats; packets larger than a single segment survive intact.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"hashrpc/wire"
)

type Framing string

const (
	FramingRaw    Framing = "raw"
	FramingFramed Framing = "framed"
)

// ParseFraming accepts "raw", "framed" or "" (raw).
func ParseFraming(s string) (Framing, error) {
	switch Framing(s) {
	case "", FramingRaw:
		return FramingRaw, nil
	case FramingFramed:
		return FramingFramed, nil
	}
	return "", fmt.Errorf("transport: unknown framing %q", s)
}

// Conn is one established stream.
type Conn interface {
	// Send writes a whole packet.
	Send(p []byte) error
	// Receive reads one packet into b, replacing its contents, and returns its size.
	// (0, nil) is a non-event; callers should simply receive again.
	Receive(b *wire.Buffer) (int, error)
	SetDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// Heartbeater is implemented by connections able to send keep-alive probes.
type Heartbeater interface {
	StartHeartbeat(interval time.Duration)
}

// NewConn wraps an established net.Conn.
func NewConn(nc net.Conn, f Framing) Conn {
	if f == FramingFramed {
		return newFramedConn(nc)
	}
	return &rawConn{nc: nc}
}

// Dial connects to addr over TCP.
func Dial(ctx context.Context, addr string, f Framing) (Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(nc, f), nil
}

type rawConn struct {
	nc net.Conn
}

func (c *rawConn) Send(p []byte) error {
	_, err := c.nc.Write(p)
	return err
}

func (c *rawConn) Receive(b *wire.Buffer) (int, error) {
	b.Clear()
	n, err := c.nc.Read(b.Space())
	if n > 0 {
		// a trailing error resurfaces on the next Read
		return n, b.SetLen(n)
	}
	return 0, err
}

func (c *rawConn) SetDeadline(t time.Time) error { return c.nc.SetDeadline(t) }
func (c *rawConn) RemoteAddr() net.Addr          { return c.nc.RemoteAddr() }
func (c *rawConn) Close() error                  { return c.nc.Close() }
