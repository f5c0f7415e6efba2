package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"hashrpc/wire"
)

// framedConn carries one packet per frame.
//
// Each direction numbers its packet frames 1, 2, 3 ...; a gap or repeat on receive means the
// stream is corrupt and the connection must be dropped. Heartbeat frames carry seq 0, are
// written under the same lock as packets and are skipped by Receive.
type framedConn struct {
	nc      net.Conn
	sending sync.Mutex // whole frames only, heartbeats share the conn with packets
	sendSeq uint32     // protected by sending
	recvSeq uint32     // only touched by the single reader

	done      chan struct{}
	closeOnce sync.Once
}

func newFramedConn(nc net.Conn) *framedConn {
	return &framedConn{nc: nc, done: make(chan struct{})}
}

func (c *framedConn) Send(p []byte) error {
	c.sending.Lock()
	defer c.sending.Unlock()

	c.sendSeq++
	header := &Header{Kind: FramePacket, Seq: c.sendSeq, BodyLen: uint32(len(p))}
	return WriteFrame(c.nc, header, p)
}

func (c *framedConn) Receive(b *wire.Buffer) (int, error) {
	b.Clear()
	for {
		header, n, err := ReadFrame(c.nc, b.Space())
		if header != nil && header.Kind == FramePacket {
			// an oversized frame still consumed a sequence number
			c.recvSeq++
			if header.Seq != c.recvSeq {
				return 0, fmt.Errorf("transport: frame seq %d, expect %d", header.Seq, c.recvSeq)
			}
		}
		if err != nil {
			return 0, err
		}
		if header.Kind == FrameHeartbeat {
			continue
		}
		return n, b.SetLen(n)
	}
}

// StartHeartbeat sends an empty heartbeat frame every interval until the connection is
// closed or a write fails.
func (c *framedConn) StartHeartbeat(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go c.heartbeatLoop(interval)
}

func (c *framedConn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
		c.sending.Lock()
		err := WriteFrame(c.nc, &Header{Kind: FrameHeartbeat}, nil)
		c.sending.Unlock()
		if err != nil {
			return
		}
	}
}

func (c *framedConn) SetDeadline(t time.Time) error { return c.nc.SetDeadline(t) }
func (c *framedConn) RemoteAddr() net.Addr          { return c.nc.RemoteAddr() }

func (c *framedConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.nc.Close()
}
