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

const maxDatagramSize = 65535

// UDPConnection is a connectionless datagram handle. The destination is
// client-managed state, not an OS-level connect: SetDestination stores the
// implicit peer used by SendNow, and Receive picks up whatever datagram
// arrives on the bound port. The descriptor is created lazily once the
// address family is known and defaults to dual-stack IPv6.
type UDPConnection struct {
	sock       int
	family     int
	destHost   string
	destPort   uint32
	destSA     unix.Sockaddr
	remoteHost string
	blocking   bool

	// Data holds the payload of the last received datagram; DataLen its
	// length in bytes.
	Data    []byte
	DataLen int

	up   uint64
	down uint64
}

// NewUDP returns an unbound datagram handle.
func NewUDP(nonblock bool) *UDPConnection {
	return &UDPConnection{
		sock:     -1,
		family:   unix.AF_INET6,
		blocking: !nonblock,
	}
}

func (u *UDPConnection) checkSock() bool {
	if u.sock >= 0 {
		return true
	}
	fd, err := unix.Socket(u.family, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil && u.family == unix.AF_INET6 {
		// No v6 stack available; fall back to a v4-only descriptor.
		u.family = unix.AF_INET
		fd, err = unix.Socket(u.family, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	}
	if err != nil {
		log.Logger.Error("udp socket failed", zap.Error(err))
		return false
	}
	if u.family == unix.AF_INET6 {
		unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
	}
	if err := unix.SetNonblock(fd, !u.blocking); err != nil {
		log.Logger.Debug("set blocking mode failed", zap.Error(err))
	}
	u.sock = fd
	return true
}

// Bind binds a local endpoint on the given port. Port 0 requests an
// ephemeral port; the bound port is returned either way, 0 on failure. When
// multicastAddress is non-empty the socket additionally joins that group,
// on iface (an interface name or local address) or the default interface.
func (u *UDPConnection) Bind(port int, iface, multicastAddress string) uint16 {
	var group net.IP
	if multicastAddress != "" {
		group = net.ParseIP(multicastAddress)
		if group == nil {
			log.Logger.Error("invalid multicast address", zap.String("addr", multicastAddress))
			return 0
		}
		if u.sock < 0 && group.To4() != nil {
			// v4 group membership needs a v4 descriptor.
			u.family = unix.AF_INET
		}
	}
	if !u.checkSock() {
		return 0
	}
	unix.SetsockoptInt(u.sock, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	var sa unix.Sockaddr
	if u.family == unix.AF_INET6 {
		sa = &unix.SockaddrInet6{Port: port}
	} else {
		sa = &unix.SockaddrInet4{Port: port}
	}
	if err := unix.Bind(u.sock, sa); err != nil {
		log.Logger.Error("udp bind failed", zap.Int("port", port), zap.Error(err))
		return 0
	}
	if group != nil {
		if err := u.joinGroup(group, iface); err != nil {
			log.Logger.Error("multicast join failed",
				zap.String("group", multicastAddress), zap.String("iface", iface), zap.Error(err))
			return 0
		}
	}
	bound, err := unix.Getsockname(u.sock)
	if err != nil {
		return 0
	}
	switch addr := bound.(type) {
	case *unix.SockaddrInet4:
		return uint16(addr.Port)
	case *unix.SockaddrInet6:
		return uint16(addr.Port)
	}
	return 0
}

func (u *UDPConnection) joinGroup(group net.IP, iface string) error {
	if v4 := group.To4(); v4 != nil {
		mreq := &unix.IPMreq{}
		copy(mreq.Multiaddr[:], v4)
		if addr := ifaceIPv4(iface); addr != nil {
			copy(mreq.Interface[:], addr)
		}
		return os.NewSyscallError("setsockopt",
			unix.SetsockoptIPMreq(u.sock, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq))
	}
	mreq := &unix.IPv6Mreq{}
	copy(mreq.Multiaddr[:], group.To16())
	if iface != "" {
		if ifi, err := net.InterfaceByName(iface); err == nil {
			mreq.Interface = uint32(ifi.Index)
		}
	}
	return os.NewSyscallError("setsockopt",
		unix.SetsockoptIPv6Mreq(u.sock, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, mreq))
}

// ifaceIPv4 resolves an interface selector, either a name or a literal local
// address, to its IPv4 address. nil selects the default interface.
func ifaceIPv4(iface string) net.IP {
	if iface == "" {
		return nil
	}
	if ip := net.ParseIP(iface); ip != nil {
		return ip.To4()
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			if v4 := ipn.IP.To4(); v4 != nil {
				return v4
			}
		}
	}
	return nil
}

// SetBlocking toggles the descriptor's blocking mode; only Receive changes
// behavior, SendNow writes a whole datagram either way.
func (u *UDPConnection) SetBlocking(blocking bool) {
	u.blocking = blocking
	if u.sock >= 0 {
		if err := unix.SetNonblock(u.sock, !blocking); err != nil {
			log.Logger.Debug("set blocking mode failed", zap.Error(err))
		}
	}
}

// SetDestination stores the implicit peer used by SendNow and resolves it to
// a sendable binary address.
func (u *UDPConnection) SetDestination(host string, port uint32) {
	u.destHost = host
	u.destPort = port
	u.destSA = nil
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		log.Logger.Error("could not resolve destination", zap.String("host", host), zap.Error(err))
		return
	}
	if u.sock < 0 && ips[0].To4() != nil {
		// No descriptor yet: let the destination pick the family, the way
		// a v4 multicast group needs a v4 socket.
		u.family = unix.AF_INET
	}
	if !u.checkSock() {
		return
	}
	for _, ip := range ips {
		if u.family == unix.AF_INET6 {
			// A v4 destination rides the dual-stack socket in mapped form.
			sa := &unix.SockaddrInet6{Port: int(port)}
			copy(sa.Addr[:], ip.To16())
			u.destSA = sa
			return
		}
		if v4 := ip.To4(); v4 != nil {
			sa := &unix.SockaddrInet4{Port: int(port)}
			copy(sa.Addr[:], v4)
			u.destSA = sa
			return
		}
	}
	log.Logger.Error("no usable address for destination",
		zap.String("host", host), zap.Uint32("port", port))
}

// GetDestination returns exactly what was last passed to SetDestination.
func (u *UDPConnection) GetDestination() (string, uint32) {
	return u.destHost, u.destPort
}

// DestPort returns the destination port last set.
func (u *UDPConnection) DestPort() uint32 {
	return u.destPort
}

// Receive attempts one datagram receive. On success the payload lands in
// Data/DataLen, the down counter grows and the source address is recorded.
// With no datagram pending it returns false without error.
func (u *UDPConnection) Receive() bool {
	if u.sock < 0 {
		return false
	}
	if cap(u.Data) < maxDatagramSize {
		u.Data = make([]byte, maxDatagramSize)
	}
	n, from, err := unix.Recvfrom(u.sock, u.Data[:maxDatagramSize], 0)
	if err != nil {
		if !isTemporaryError(err) {
			log.Logger.Debug("udp receive failed", zap.Error(err))
		}
		u.DataLen = 0
		return false
	}
	u.Data = u.Data[:n]
	u.DataLen = n
	u.down += uint64(n)
	u.remoteHost, _ = sockaddrToHost(from)
	return true
}

// SendNow writes one datagram to the stored destination.
func (u *UDPConnection) SendNow(data string) {
	u.SendNowBytes([]byte(data))
}

// SendNowBytes is SendNow for a raw byte slice.
func (u *UDPConnection) SendNowBytes(data []byte) {
	if u.sock < 0 || u.destSA == nil {
		log.Logger.Error("send to unset udp destination",
			zap.String("host", u.destHost), zap.Uint32("port", u.destPort))
		return
	}
	for {
		err := unix.Sendto(u.sock, data, 0, u.destSA)
		if err == nil {
			u.up += uint64(len(data))
			return
		}
		if isTemporaryError(err) {
			if werr := waitWritable(u.sock); werr == nil {
				continue
			}
		}
		log.Logger.Debug("udp send failed",
			zap.String("host", u.destHost), zap.Uint32("port", u.destPort), zap.Error(err))
		return
	}
}

// RemoteHost returns the source address of the last received datagram.
func (u *UDPConnection) RemoteHost() string {
	return u.remoteHost
}

// DataUp returns total bytes sent.
func (u *UDPConnection) DataUp() uint64 {
	return u.up
}

// DataDown returns total bytes received.
func (u *UDPConnection) DataDown() uint64 {
	return u.down
}

// Stats renders a newline-terminated summary line in the same internal
// format Connection.Stats uses.
func (u *UDPConnection) Stats(tag string) string {
	return fmt.Sprintf("%s %s:%d 0 %d %d\n", tag, u.destHost, u.destPort, u.up, u.down)
}

// Fd returns the datagram descriptor value, -1 before first use.
func (u *UDPConnection) Fd() int {
	return u.sock
}

// Close releases the descriptor. Safe to call more than once.
func (u *UDPConnection) Close() {
	if u.sock >= 0 {
		if err := closeFd(u.sock); err != nil {
			log.Logger.Debug("udp close failed", zap.Error(err))
		}
		u.sock = -1
	}
}
