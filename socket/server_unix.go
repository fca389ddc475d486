//go:build linux
// +build linux

package socket

import (
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/streamkit/sockets/log"
)

const listenBacklog = 100

// Server is a listening-socket factory producing accepted Connections.
// Construction walks an ordered list of bind strategies; for TCP an IPv6
// dual-stack bind is tried first with an IPv4 fallback, for a filesystem path
// a Unix-domain bind. The first strategy that succeeds wins; when all fail
// the Server is left unbound with the aggregated failures retrievable
// through LastError.
type Server struct {
	sock     int
	errs     string
	blocking bool
}

// NewServer returns an unbound Server.
func NewServer() *Server {
	return &Server{sock: -1, blocking: true}
}

// Listen binds a TCP listening socket on host:port. host may be empty to
// bind every interface. Port 0 requests an ephemeral port; use Port to read
// the assignment.
func Listen(port int, host string, nonblock bool) *Server {
	s := NewServer()
	var errs MultiError
	if err := s.bindIPv6(port, host, nonblock); err == nil {
		return s
	} else {
		errs = append(errs, fmt.Errorf("ipv6 bind: %w", err))
	}
	if err := s.bindIPv4(port, host, nonblock); err == nil {
		return s
	} else {
		errs = append(errs, fmt.Errorf("ipv4 bind: %w", err))
	}
	s.errs = errs.Error()
	log.Logger.Error("listen failed", zap.Int("port", port), zap.String("host", host), zap.Error(errs))
	return s
}

// ListenUnix binds a Unix-domain listening socket on the given filesystem
// path, replacing a stale socket file if one exists.
func ListenUnix(path string, nonblock bool) *Server {
	s := NewServer()
	unix.Unlink(path)
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		s.errs = os.NewSyscallError("socket", err).Error()
		return s
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		s.errs = fmt.Sprintf("bind %s: %v", path, err)
		log.Logger.Error("unix listen failed", zap.String("path", path), zap.Error(err))
		return s
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		s.errs = os.NewSyscallError("listen", err).Error()
		return s
	}
	s.adopt(fd, nonblock)
	return s
}

func (s *Server) bindIPv6(port int, host string, nonblock bool) error {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return os.NewSyscallError("socket", err)
	}
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	// Dual-stack: accept mapped IPv4 clients on the same descriptor.
	unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
	sa := &unix.SockaddrInet6{Port: port}
	if ip := bindIP(host); ip != nil {
		if ip.To4() != nil && !ip.IsUnspecified() {
			unix.Close(fd)
			return fmt.Errorf("%s is not an ipv6 address", host)
		}
		copy(sa.Addr[:], ip.To16())
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return os.NewSyscallError("listen", err)
	}
	s.adopt(fd, nonblock)
	return nil
}

func (s *Server) bindIPv4(port int, host string, nonblock bool) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return os.NewSyscallError("socket", err)
	}
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	sa := &unix.SockaddrInet4{Port: port}
	if ip := bindIP(host); ip != nil {
		v4 := ip.To4()
		if v4 == nil {
			unix.Close(fd)
			return fmt.Errorf("%s is not an ipv4 address", host)
		}
		copy(sa.Addr[:], v4)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return os.NewSyscallError("listen", err)
	}
	s.adopt(fd, nonblock)
	return nil
}

// bindIP resolves a bind host to an IP, treating the catch-all spellings as
// "bind everything" (nil).
func bindIP(host string) net.IP {
	switch host {
	case "", "0.0.0.0", "::":
		return nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip
	}
	if ips, err := net.LookupIP(host); err == nil && len(ips) > 0 {
		return ips[0]
	}
	return nil
}

func (s *Server) adopt(fd int, nonblock bool) {
	s.sock = fd
	s.blocking = true
	if nonblock {
		s.SetBlocking(false)
	}
}

// Accept waits for and returns one accepted Connection. With the listening
// socket in non-blocking mode and no client pending it returns immediately
// with a Connection that is not connected, rather than blocking or raising
// an error. The nonblock argument sets the blocking mode of the accepted
// Connection, not of the listening socket.
func (s *Server) Accept(nonblock bool) *Connection {
	if s.sock < 0 {
		return New()
	}
	connFd, sa, err := unix.Accept4(s.sock, unix.SOCK_CLOEXEC)
	if err != nil {
		if !isTemporaryError(err) {
			s.errs = os.NewSyscallError("accept", err).Error()
			log.Logger.Error("accept failed", zap.Error(err))
		}
		return New()
	}
	c := New()
	c.tr = &sockTransport{sock: connFd}
	c.open = true
	c.remoteHost, c.remoteBin = sockaddrToHost(sa)
	if nonblock {
		c.SetBlocking(false)
	}
	log.Logger.Debug("accepted connection", zap.Int("fd", connFd), zap.String("host", c.remoteHost))
	return c
}

// SetBlocking toggles the listening descriptor's blocking mode.
func (s *Server) SetBlocking(blocking bool) {
	s.blocking = blocking
	if s.sock >= 0 {
		if err := unix.SetNonblock(s.sock, !blocking); err != nil {
			log.Logger.Debug("set blocking mode failed", zap.Error(err))
		}
	}
}

// IsBlocking reports the last-requested blocking mode.
func (s *Server) IsBlocking() bool {
	return s.blocking
}

// Connected reports whether the Server holds a bound, listening descriptor.
func (s *Server) Connected() bool {
	return s.sock >= 0
}

// Port returns the locally bound TCP port, or 0 when unbound or not TCP.
// Useful after requesting an ephemeral port.
func (s *Server) Port() int {
	if s.sock < 0 {
		return 0
	}
	sa, err := unix.Getsockname(s.sock)
	if err != nil {
		return 0
	}
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return addr.Port
	case *unix.SockaddrInet6:
		return addr.Port
	}
	return 0
}

// LastError returns the aggregated failure text from construction or the
// last accept error.
func (s *Server) LastError() string {
	return s.errs
}

// Close releases the listening descriptor.
func (s *Server) Close() {
	s.Drop()
}

// Drop releases the listening descriptor without ceremony.
func (s *Server) Drop() {
	if s.sock >= 0 {
		if err := closeFd(s.sock); err != nil {
			log.Logger.Debug("close listener failed", zap.Error(err))
		}
		s.sock = -1
	}
}

// Fd returns the listening descriptor value, -1 when unbound.
func (s *Server) Fd() int {
	return s.sock
}
