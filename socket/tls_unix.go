//go:build linux
// +build linux

package socket

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// tlsTransport routes the two primitive I/O operations through a TLS record
// layer. Buffered I/O, stats and equality semantics are unchanged and
// observed in plaintext terms. The underlying descriptor stays in blocking
// mode; would-block semantics come from zero read deadlines instead.
type tlsTransport struct {
	conn     *tls.Conn
	raw      net.Conn
	rawFd    int
	nonblock bool
}

func (t *tlsTransport) read(p []byte) (int, error) {
	if t.conn == nil {
		return 0, unix.EBADF
	}
	if t.nonblock {
		t.conn.SetReadDeadline(time.Now())
	} else {
		t.conn.SetReadDeadline(time.Time{})
	}
	n, err := t.conn.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, unix.EAGAIN
	}
	return n, err
}

func (t *tlsTransport) peek(p []byte) (int, error) {
	// MSG_PEEK would expose ciphertext, not the record payload.
	return 0, unix.EOPNOTSUPP
}

func (t *tlsTransport) write(p []byte) (int, error) {
	if t.conn == nil {
		return 0, unix.EBADF
	}
	return t.conn.Write(p)
}

func (t *tlsTransport) close() error {
	if t.conn == nil {
		return nil
	}
	// Close sends the TLS close-notify alert before releasing the transport.
	err := t.conn.Close()
	t.conn = nil
	t.raw = nil
	t.rawFd = -1
	return err
}

func (t *tlsTransport) drop() error {
	if t.conn == nil {
		return nil
	}
	// Release the transport without a close-notify.
	err := t.raw.Close()
	t.conn = nil
	t.raw = nil
	t.rawFd = -1
	return err
}

func (t *tlsTransport) setBlocking(blocking bool) error {
	t.nonblock = !blocking
	return nil
}

func (t *tlsTransport) fd() int {
	return t.rawFd
}

// DialTLS opens a TCP connection to host:port and completes a full TLS
// handshake before the Connection is considered usable. Handshake failure
// leaves the Connection disconnected with Error set; it is never retried.
// cfg is accepted, not constructed; nil gets a default config with the
// server name filled in.
func DialTLS(host string, port int, nonblock bool, cfg *tls.Config) *Connection {
	c := New()
	raw, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		c.fail(fmt.Sprintf("connect to %s:%d failed: %v", host, port, err))
		return c
	}
	if cfg == nil {
		cfg = &tls.Config{}
	}
	cfg = cfg.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	tlsConn := tls.Client(raw, cfg)
	if err := tlsConn.Handshake(); err != nil {
		raw.Close()
		c.fail(fmt.Sprintf("tls handshake with %s:%d failed: %v", host, port, err))
		return c
	}
	rawFd := -1
	if sc, ok := raw.(syscall.Conn); ok {
		if rc, rcErr := sc.SyscallConn(); rcErr == nil {
			rc.Control(func(f uintptr) { rawFd = int(f) })
		}
	}
	// Handshake is complete here; an open TLS Connection always has a
	// negotiated session behind it.
	c.tr = &tlsTransport{conn: tlsConn, raw: raw, rawFd: rawFd}
	c.open = true
	c.remoteHost = host
	if ra, ok := raw.RemoteAddr().(*net.TCPAddr); ok {
		if v4 := ra.IP.To4(); v4 != nil {
			c.remoteBin = []byte(v4)
		} else {
			c.remoteBin = []byte(ra.IP.To16())
		}
	}
	if nonblock {
		c.SetBlocking(false)
	}
	return c
}
