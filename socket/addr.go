package socket

import (
	"net"
	"strconv"
	"strings"
)

// HostBytesToStr renders a binary network address (4 or 16 bytes) in its
// canonical textual form. IPv4-mapped IPv6 addresses (::ffff:a.b.c.d) render
// in their IPv4 form. Unrecognized lengths render as the empty string.
func HostBytesToStr(bytes []byte) string {
	switch len(bytes) {
	case net.IPv4len, net.IPv6len:
		return net.IP(bytes).String()
	default:
		return ""
	}
}

// to16 normalizes a 4- or 16-byte binary address to its 16-byte form, mapping
// IPv4 into the v4-mapped IPv6 space. Returns nil for other lengths.
func to16(bin []byte) []byte {
	ip := net.IP(bin)
	if len(bin) != net.IPv4len && len(bin) != net.IPv6len {
		return nil
	}
	return ip.To16()
}

// MatchIPv6Addr reports whether the first prefix bits of the 16-byte binary
// addresses a and b are identical. prefix 0 always matches; prefix 128
// requires full equality. Used for CIDR-style access checks.
func MatchIPv6Addr(a, b []byte, prefix uint8) bool {
	if len(a) != net.IPv6len || len(b) != net.IPv6len {
		return false
	}
	if prefix > 128 {
		prefix = 128
	}
	fullBytes := int(prefix / 8)
	for i := 0; i < fullBytes; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	if rem := prefix % 8; rem != 0 {
		mask := byte(0xff) << (8 - rem)
		if a[fullBytes]&mask != b[fullBytes]&mask {
			return false
		}
	}
	return true
}

// GetBinForms expands a textual address or hostname into every binary form it
// can legitimately match against: its native form plus, for IPv4, the
// v4-mapped IPv6 equivalent.
func GetBinForms(addr string) [][]byte {
	if addr == "" {
		return nil
	}
	var ips []net.IP
	if ip := net.ParseIP(addr); ip != nil {
		ips = []net.IP{ip}
	} else {
		resolved, err := net.LookupIP(addr)
		if err != nil {
			return nil
		}
		ips = resolved
	}
	var forms [][]byte
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			forms = append(forms, []byte(v4), []byte(v4.To16()))
		} else {
			forms = append(forms, []byte(ip.To16()))
		}
	}
	return forms
}

// IsBinAddress reports whether the binary address binAddr satisfies the
// textual pattern matchTo. The pattern is one of:
//   - "" / "any" / "all": matches every address
//   - an exact address or hostname, matched against all its binary forms
//   - CIDR notation ("10.0.0.0/8", "fd00::/16"): prefix match
func IsBinAddress(binAddr []byte, matchTo string) bool {
	bin := to16(binAddr)
	if bin == nil {
		return false
	}
	switch strings.ToLower(matchTo) {
	case "", "any", "all":
		return true
	}
	if host, lenStr, found := strings.Cut(matchTo, "/"); found {
		prefix, err := strconv.Atoi(lenStr)
		if err != nil || prefix < 0 {
			return false
		}
		ip := net.ParseIP(host)
		if ip == nil {
			if ips, lerr := net.LookupIP(host); lerr == nil && len(ips) > 0 {
				ip = ips[0]
			}
		}
		if ip == nil {
			return false
		}
		if ip.To4() != nil {
			// v4 prefixes count from the start of the mapped space.
			prefix += 96
		}
		if prefix > 128 {
			return false
		}
		return MatchIPv6Addr(bin, []byte(ip.To16()), uint8(prefix))
	}
	for _, form := range GetBinForms(matchTo) {
		if MatchIPv6Addr(bin, to16(form), 128) {
			return true
		}
	}
	return false
}

// isLocalAddress reports whether the binary address belongs to one of the
// local machine's interfaces. Loopback counts as local even when no
// interface carries it explicitly.
func isLocalAddress(binAddr []byte) bool {
	bin := to16(binAddr)
	if bin == nil {
		return false
	}
	if net.IP(bin).IsLoopback() {
		return true
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		default:
			continue
		}
		if MatchIPv6Addr(bin, []byte(ip.To16()), 128) {
			return true
		}
	}
	return false
}
