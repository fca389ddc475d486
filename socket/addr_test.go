package socket

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	loopback4 = []byte{127, 0, 0, 1}
	loopback6 = []byte(net.IPv6loopback)
)

func TestHostBytesToStr(t *testing.T) {
	assert.Equal(t, "127.0.0.1", HostBytesToStr(loopback4))
	assert.Equal(t, "::1", HostBytesToStr(loopback6))

	// v4-mapped v6 renders in its IPv4 form.
	mapped := []byte(net.ParseIP("::ffff:10.0.0.1").To16())
	assert.Equal(t, "10.0.0.1", HostBytesToStr(mapped))

	assert.Equal(t, "", HostBytesToStr([]byte{1, 2, 3}))
}

func TestMatchIPv6AddrReflexive(t *testing.T) {
	for _, addr := range []string{"::1", "fe80::1", "::ffff:192.168.1.1", "2001:db8::42"} {
		bin := []byte(net.ParseIP(addr).To16())
		assert.True(t, MatchIPv6Addr(bin, bin, 128), "every address matches itself at /128: %s", addr)
	}
}

func TestMatchIPv6AddrZeroPrefix(t *testing.T) {
	a := []byte(net.ParseIP("::1").To16())
	b := []byte(net.ParseIP("2001:db8::1").To16())
	assert.True(t, MatchIPv6Addr(a, b, 0), "prefix 0 matches any pair")
}

func TestMatchIPv6AddrPartialPrefix(t *testing.T) {
	a := []byte(net.ParseIP("2001:db8::1").To16())
	b := []byte(net.ParseIP("2001:db8::2").To16())
	c := []byte(net.ParseIP("2001:db9::1").To16())

	assert.True(t, MatchIPv6Addr(a, b, 64))
	assert.False(t, MatchIPv6Addr(a, b, 128))
	// db8 vs db9 differ in the last bit of byte 3: /31 still matches, /32 not.
	assert.True(t, MatchIPv6Addr(a, c, 31))
	assert.False(t, MatchIPv6Addr(a, c, 32))
}

func TestMatchIPv6AddrBadLength(t *testing.T) {
	assert.False(t, MatchIPv6Addr(loopback4, loopback4, 0), "4-byte inputs are not 16-byte addresses")
}

func TestGetBinForms(t *testing.T) {
	forms := GetBinForms("127.0.0.1")
	assert.Len(t, forms, 2, "v4 expands to its native and v4-mapped forms")
	assert.Equal(t, loopback4, forms[0])
	assert.Equal(t, []byte(net.ParseIP("::ffff:127.0.0.1").To16()), forms[1])

	forms = GetBinForms("::1")
	assert.Len(t, forms, 1)
	assert.Equal(t, loopback6, forms[0])

	assert.Nil(t, GetBinForms(""))
}

func TestIsBinAddress(t *testing.T) {
	assert.True(t, IsBinAddress(loopback4, "127.0.0.1"))
	assert.True(t, IsBinAddress(loopback6, "::1"))
	assert.False(t, IsBinAddress(loopback4, "10.0.0.1"), "unrelated address must not match")

	// The v4-mapped form of loopback matches the v4 pattern.
	mapped := []byte(net.ParseIP("::ffff:127.0.0.1").To16())
	assert.True(t, IsBinAddress(mapped, "127.0.0.1"))
}

func TestIsBinAddressAny(t *testing.T) {
	assert.True(t, IsBinAddress(loopback4, ""))
	assert.True(t, IsBinAddress(loopback4, "any"))
	assert.True(t, IsBinAddress(loopback6, "all"))
}

func TestIsBinAddressCIDR(t *testing.T) {
	addr := []byte{10, 1, 2, 3}
	assert.True(t, IsBinAddress(addr, "10.0.0.0/8"))
	assert.False(t, IsBinAddress(addr, "10.2.0.0/16"))

	v6 := []byte(net.ParseIP("fd00::1234").To16())
	assert.True(t, IsBinAddress(v6, "fd00::/16"))
	assert.False(t, IsBinAddress(v6, "fe80::/16"))
}

func TestIsLocalAddressLoopback(t *testing.T) {
	assert.True(t, isLocalAddress(loopback4))
	assert.True(t, isLocalAddress(loopback6))
	assert.False(t, isLocalAddress([]byte{203, 0, 113, 7}), "TEST-NET-3 is nobody's interface")
}
