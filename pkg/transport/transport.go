// Package transport defines the connection abstraction used by the wireprobe
// probes: a client-side byte stream that can be written, read with a
// deadline, half-closed, and closed.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/strand-protocol/wireprobe/pkg/probe"
)

// Conn is the bidirectional stream a probe owns for one invocation.
// *net.TCPConn and *net.UnixConn satisfy it.
type Conn interface {
	io.ReadWriteCloser

	// CloseWrite shuts down the write direction only. Reads keep working
	// until the peer closes its side.
	CloseWrite() error

	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
}

// Dialer opens raw connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ErrNoHalfClose is returned when the dialer produced a connection that
// cannot shut down its write side independently.
var ErrNoHalfClose = errors.New("wireprobe transport: connection does not support half-close")

// Dial connects to addr over TCP. Any failure to establish the connection is
// reported as a *probe.ConnectError. A connection that was established but
// cannot half-close is closed again and reported as ErrNoHalfClose.
func Dial(ctx context.Context, d Dialer, addr string) (Conn, error) {
	if d == nil {
		d = &net.Dialer{}
	}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &probe.ConnectError{Addr: addr, Err: err}
	}
	conn, ok := nc.(Conn)
	if !ok {
		nc.Close()
		return nil, fmt.Errorf("transport: dial %s: %T: %w", addr, nc, ErrNoHalfClose)
	}
	return &trackedConn{Conn: conn}, nil
}

// trackedConn makes Close idempotent so that early-return paths and the
// deferred release can both call it.
type trackedConn struct {
	Conn
	mu     sync.Mutex
	closed bool
}

func (c *trackedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Conn.Close()
}

// WriteAll writes p in full, honouring the context deadline and
// cancellation.
func WriteAll(ctx context.Context, c Conn, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetWriteDeadline(time.Now())
	})
	defer stop()

	for len(p) > 0 {
		n, err := c.Write(p)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		p = p[n:]
	}
	return nil
}

// Read performs a single read that unblocks when ctx is done.
func Read(ctx context.Context, c Conn, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetReadDeadline(time.Now())
	})
	defer stop()

	n, err := c.Read(buf)
	if err != nil && ctx.Err() != nil {
		return n, ctx.Err()
	}
	return n, err
}

// PeerGone reports whether err means the remote end has gone away: an
// orderly close, a reset, or a broken pipe.
func PeerGone(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED)
}

// Addr joins host and port into a dialable address.
func Addr(host string, port int) string {
	return net.JoinHostPort(host, fmt.Sprint(port))
}
