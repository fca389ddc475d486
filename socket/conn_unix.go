//go:build linux
// +build linux

package socket

import (
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/streamkit/sockets/log"
)

const readChunkSize = 4096

// transport is the primitive I/O capability behind a Connection. There are
// three implementations: a stream socket descriptor, a pipe pair simulating a
// socket, and a TLS session. Connection's buffered contract is the same over
// all of them.
type transport interface {
	// read performs one incremental read. A zero-length read with nil error
	// means orderly peer shutdown.
	read(p []byte) (int, error)

	// peek performs one non-consuming read, when the transport supports it.
	peek(p []byte) (int, error)

	// write performs one incremental write and may accept fewer bytes than
	// supplied.
	write(p []byte) (int, error)

	// close releases the descriptor after an orderly shutdown; drop releases
	// it without one. Both are idempotent.
	close() error
	drop() error

	setBlocking(blocking bool) error
	fd() int
}

// sockTransport drives a connected stream socket descriptor.
type sockTransport struct {
	sock int
}

func (t *sockTransport) read(p []byte) (int, error) {
	return unix.Read(t.sock, p)
}

func (t *sockTransport) peek(p []byte) (int, error) {
	n, _, err := unix.Recvfrom(t.sock, p, unix.MSG_PEEK)
	return n, err
}

func (t *sockTransport) write(p []byte) (int, error) {
	return unix.Write(t.sock, p)
}

func (t *sockTransport) close() error {
	if t.sock < 0 {
		return nil
	}
	// Half-close first so the peer observes end-of-stream before the
	// descriptor goes away.
	unix.Shutdown(t.sock, unix.SHUT_RDWR)
	return t.drop()
}

func (t *sockTransport) drop() error {
	if t.sock < 0 {
		return nil
	}
	err := closeFd(t.sock)
	t.sock = -1
	return err
}

func (t *sockTransport) setBlocking(blocking bool) error {
	return unix.SetNonblock(t.sock, !blocking)
}

func (t *sockTransport) fd() int {
	return t.sock
}

// pipeTransport simulates a socket over two pipe descriptors, one per
// direction. Used to wrap inherited stdio before process replacement and in
// tests that need a transport without a network.
type pipeTransport struct {
	w, r int
}

func (t *pipeTransport) read(p []byte) (int, error) {
	if t.r < 0 {
		return 0, unix.EBADF
	}
	return unix.Read(t.r, p)
}

func (t *pipeTransport) peek(p []byte) (int, error) {
	// Pipes have no MSG_PEEK equivalent.
	return 0, unix.ENOTSOCK
}

func (t *pipeTransport) write(p []byte) (int, error) {
	if t.w < 0 {
		return 0, unix.EBADF
	}
	return unix.Write(t.w, p)
}

func (t *pipeTransport) close() error {
	// No shutdown handshake exists for pipes.
	return t.drop()
}

func (t *pipeTransport) drop() error {
	var errs MultiError
	if t.w >= 0 {
		if err := closeFd(t.w); err != nil {
			errs = append(errs, err)
		}
		t.w = -1
	}
	if t.r >= 0 {
		if err := closeFd(t.r); err != nil {
			errs = append(errs, err)
		}
		t.r = -1
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (t *pipeTransport) setBlocking(blocking bool) error {
	var errs MultiError
	if t.w >= 0 {
		if err := unix.SetNonblock(t.w, !blocking); err != nil {
			errs = append(errs, err)
		}
	}
	if t.r >= 0 {
		if err := unix.SetNonblock(t.r, !blocking); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (t *pipeTransport) fd() int {
	return t.r
}

// Connection is a buffered bidirectional transport handle over TCP, a
// Unix-domain socket, a pipe pair or a TLS session. It owns its descriptor
// exclusively; the descriptor is released exactly once, on Close or Drop.
//
// Inbound data is pulled incrementally with Spool or Peek into the receive
// Buffer and consumed through Received. Outbound data goes out through
// SendNow, which always blocks until fully written. A handle is driven by one
// goroutine at a time; nothing here is safe for concurrent use.
type Connection struct {
	tr         transport
	remoteHost string
	remoteBin  []byte // binary remote address, 4 or 16 bytes
	up         uint64
	down       uint64
	created    time.Time
	buffer     *Buffer
	lastErr    string
	open       bool

	// Error is set when an unrecoverable failure happened. Would-block is
	// never an error.
	Error bool

	// Blocking reflects the last-requested blocking mode. It is not
	// re-queried from the OS.
	Blocking bool
}

// New returns a disconnected Connection.
func New() *Connection {
	return &Connection{
		buffer:   NewBuffer(),
		created:  time.Now(),
		Blocking: true,
	}
}

// NewFromFd wraps an existing connected socket descriptor. The Connection
// takes exclusive ownership of the descriptor.
func NewFromFd(fd int) *Connection {
	c := New()
	c.tr = &sockTransport{sock: fd}
	c.open = true
	if sa, err := unix.Getpeername(fd); err == nil {
		c.remoteHost, c.remoteBin = sockaddrToHost(sa)
	}
	return c
}

// NewPair simulates a socket using two pipe descriptors: writeFd carries
// outbound data, readFd inbound. Pass -1 for a missing direction.
func NewPair(writeFd, readFd int) *Connection {
	c := New()
	c.tr = &pipeTransport{w: writeFd, r: readFd}
	c.open = true
	c.remoteHost = "pipe"
	return c
}

// Dial opens a TCP connection to host:port. On failure the returned
// Connection is disconnected with Error set and a retrievable message.
func Dial(host string, port int, nonblock bool) *Connection {
	c := New()
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		c.fail(fmt.Sprintf("could not resolve %s: %v", host, err))
		return c
	}
	var lastErr error
	for _, ip := range ips {
		fd, sa, sockErr := tcpSockaddr(ip, port)
		if sockErr != nil {
			lastErr = sockErr
			continue
		}
		if connErr := unix.Connect(fd, sa); connErr != nil {
			unix.Close(fd)
			lastErr = connErr
			continue
		}
		c.tr = &sockTransport{sock: fd}
		c.open = true
		c.remoteHost = host
		if v4 := ip.To4(); v4 != nil {
			c.remoteBin = []byte(v4)
		} else {
			c.remoteBin = []byte(ip.To16())
		}
		if nonblock {
			c.SetBlocking(false)
		}
		return c
	}
	c.fail(fmt.Sprintf("connect to %s:%d failed: %v", host, port, lastErr))
	return c
}

// DialUnix opens a Unix-domain stream connection to the given filesystem
// path.
func DialUnix(path string, nonblock bool) *Connection {
	c := New()
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		c.fail(fmt.Sprintf("unix socket: %v", err))
		return c
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		c.fail(fmt.Sprintf("connect to %s failed: %v", path, err))
		return c
	}
	c.tr = &sockTransport{sock: fd}
	c.open = true
	c.remoteHost = path
	if nonblock {
		c.SetBlocking(false)
	}
	return c
}

func tcpSockaddr(ip net.IP, port int) (int, unix.Sockaddr, error) {
	if v4 := ip.To4(); v4 != nil {
		fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			return -1, nil, err
		}
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], v4)
		return fd, sa, nil
	}
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, nil, err
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return fd, sa, nil
}

func sockaddrToHost(sa unix.Sockaddr) (string, []byte) {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3])
		return ip.String(), []byte(ip.To4())
	case *unix.SockaddrInet6:
		bin := make([]byte, net.IPv6len)
		copy(bin, addr.Addr[:])
		return HostBytesToStr(bin), bin
	case *unix.SockaddrUnix:
		return addr.Name, nil
	}
	return "", nil
}

func (c *Connection) fail(msg string) {
	c.Error = true
	c.lastErr = msg
	log.Logger.Debug("connection failure", zap.String("err", msg))
}

// Close performs an orderly shutdown and releases the descriptor. Safe to
// call more than once.
func (c *Connection) Close() {
	if c.tr != nil {
		if err := c.tr.close(); err != nil {
			log.Logger.Debug("close failed", zap.Error(err))
		}
	}
	c.open = false
}

// Drop releases the descriptor without a shutdown handshake. Used when the
// instance does not own the protocol-level relationship, such as detaching
// inherited stdio descriptors before process replacement.
func (c *Connection) Drop() {
	if c.tr != nil {
		if err := c.tr.drop(); err != nil {
			log.Logger.Debug("drop failed", zap.Error(err))
		}
	}
	c.open = false
}

// SetBlocking toggles the descriptor's blocking mode. SendNow always blocks
// until complete regardless of this mode; only Spool and Peek change
// behavior.
func (c *Connection) SetBlocking(blocking bool) {
	c.Blocking = blocking
	if c.tr != nil {
		if err := c.tr.setBlocking(blocking); err != nil {
			log.Logger.Debug("set blocking mode failed", zap.Error(err))
		}
	}
}

// IsBlocking reports the last-requested blocking mode.
func (c *Connection) IsBlocking() bool {
	return c.Blocking
}

// Host returns the remote hostname or path, when known.
func (c *Connection) Host() string {
	return c.remoteHost
}

// SetHost overrides the stored remote hostname.
func (c *Connection) SetHost(host string) {
	c.remoteHost = host
	if forms := GetBinForms(host); len(forms) > 0 {
		c.remoteBin = forms[0]
	}
}

// BinHost returns the remote address in binary form (4 or 16 bytes), or nil
// for transports without one.
func (c *Connection) BinHost() []byte {
	return c.remoteBin
}

// Fd returns the transport's descriptor value, or -1 when disconnected. For
// pipe pairs this is the read end.
func (c *Connection) Fd() int {
	if c.tr == nil {
		return -1
	}
	return c.tr.fd()
}

// LastError returns a description of the last error that occurred.
func (c *Connection) LastError() string {
	return c.lastErr
}

// Connected reports current liveness. It never blocks.
func (c *Connection) Connected() bool {
	return c.open && c.tr != nil
}

// Live reports whether the handle is connected with no unrecovered error,
// the single-expression validity check.
func (c *Connection) Live() bool {
	return c.Connected() && !c.Error
}

// IsAddress reports whether the stored remote address satisfies the given
// textual pattern (see IsBinAddress).
func (c *Connection) IsAddress(addr string) bool {
	return IsBinAddress(c.remoteBin, addr)
}

// IsLocal reports whether the remote address belongs to the local machine.
func (c *Connection) IsLocal() bool {
	return isLocalAddress(c.remoteBin)
}

// Spool performs one incremental read into the receive buffer. It returns
// true when bytes arrived, false on would-block (not an error). Orderly peer
// shutdown closes the connection without setting Error; a hard error sets
// Error and closes.
func (c *Connection) Spool() bool {
	if !c.Connected() {
		return false
	}
	buf := make([]byte, readChunkSize)
	n, err := c.tr.read(buf)
	if n > 0 {
		c.buffer.AppendBytes(buf[:n])
		c.down += uint64(n)
		return true
	}
	c.handleReadEnd(err)
	return false
}

// Peek clears the receive buffer and refills it with a non-consuming read,
// for inspecting pending bytes without committing to consumption. Counters
// are untouched. Not supported on pipe transports.
func (c *Connection) Peek() bool {
	if !c.Connected() {
		return false
	}
	c.buffer.Clear()
	buf := make([]byte, readChunkSize)
	n, err := c.tr.peek(buf)
	if n > 0 {
		c.buffer.AppendBytes(buf[:n])
		return true
	}
	if err == unix.ENOTSOCK || err == unix.EOPNOTSUPP {
		// Transport has no non-consuming read; the connection stays usable.
		c.lastErr = "peek not supported on this transport"
		return false
	}
	c.handleReadEnd(err)
	return false
}

func (c *Connection) handleReadEnd(err error) {
	if err == nil || err == io.EOF {
		// Zero-length read: orderly peer shutdown, not a fault.
		c.Close()
		return
	}
	if isTemporaryError(err) {
		return
	}
	c.Error = true
	c.lastErr = err.Error()
	log.Logger.Debug("read failed", zap.String("host", c.remoteHost), zap.Error(err))
	c.Close()
}

// Received returns the receive buffer for framing and parsing by the caller.
// Payload contents are never interpreted here.
func (c *Connection) Received() *Buffer {
	return c.buffer
}

// SendNow writes data fully before returning, retrying partial writes,
// regardless of the handle's blocking mode. On an unrecoverable error the
// connection is marked failed and dropped.
func (c *Connection) SendNow(data string) {
	c.SendNowBytes([]byte(data))
}

// SendNowBytes is SendNow for a raw byte slice.
func (c *Connection) SendNowBytes(data []byte) {
	if !c.Connected() {
		return
	}
	sent := 0
	for sent < len(data) {
		n, err := c.tr.write(data[sent:])
		if n > 0 {
			sent += n
			c.up += uint64(n)
			continue
		}
		if err != nil && isTemporaryError(err) {
			if werr := waitWritable(c.tr.fd()); werr != nil {
				err = werr
			} else {
				continue
			}
		}
		c.Error = true
		c.lastErr = fmt.Sprintf("send failed: %v", err)
		log.Logger.Debug("send failed", zap.String("host", c.remoteHost), zap.Error(err))
		c.Drop()
		return
	}
}

// ConnTime returns whole seconds since construction.
func (c *Connection) ConnTime() uint64 {
	return uint64(time.Since(c.created) / time.Second)
}

// DataUp returns total bytes sent since the last counter reset.
func (c *Connection) DataUp() uint64 {
	return c.up
}

// DataDown returns total bytes received since the last counter reset.
func (c *Connection) DataDown() uint64 {
	return c.down
}

// ResetCounter zeroes both byte counters.
func (c *Connection) ResetCounter() {
	c.up = 0
	c.down = 0
}

// AddUp credits bytes sent outside the handle's own write path.
func (c *Connection) AddUp(n uint32) {
	c.up += uint64(n)
}

// AddDown credits bytes received outside the handle's own read path.
func (c *Connection) AddDown(n uint32) {
	c.down += uint64(n)
}

// Stats renders a newline-terminated summary line: tag, remote host, seconds
// connected, bytes up, bytes down. The layout is an internal reporting
// format, not a wire contract.
func (c *Connection) Stats(tag string) string {
	return fmt.Sprintf("%s %s %d %d %d\n", tag, c.remoteHost, c.ConnTime(), c.up, c.down)
}

// Equal compares by underlying descriptor value, not remote-address
// identity: two handles wrapping the same descriptor compare equal.
func (c *Connection) Equal(o *Connection) bool {
	if o == nil {
		return false
	}
	return c.Fd() == o.Fd()
}
