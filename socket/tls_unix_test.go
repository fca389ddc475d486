//go:build linux
// +build linux

package socket

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	assert.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestTLSRoundTrip(t *testing.T) {
	cert := selfSignedCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	assert.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	// Echo the first frame back, then hold the session open.
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 64)
		n, err := c.Read(buf)
		if err != nil {
			return
		}
		c.Write(buf[:n])
		time.Sleep(time.Second)
	}()

	conn := DialTLS("127.0.0.1", port, false, &tls.Config{InsecureSkipVerify: true})
	assert.True(t, conn.Live(), "handshake failed: %s", conn.LastError())
	defer conn.Close()

	conn.SendNow("PING\n")
	assert.Equal(t, uint64(5), conn.DataUp(), "counters reflect plaintext bytes")

	assert.True(t, conn.Spool())
	assert.Equal(t, 5, conn.Received().BytesToSplit())
	msg, ok := conn.Received().Remove(5)
	assert.True(t, ok)
	assert.Equal(t, "PING\n", msg)
	assert.Equal(t, uint64(5), conn.DataDown())
}

func TestTLSNonBlockingSpool(t *testing.T) {
	cert := selfSignedCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	assert.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := ln.Accept()
		if err != nil {
			return
		}
		// Complete the handshake, send nothing, wait.
		if tc, ok := c.(*tls.Conn); ok {
			tc.Handshake()
		}
		time.Sleep(500 * time.Millisecond)
		c.Close()
	}()

	conn := DialTLS("127.0.0.1", port, true, &tls.Config{InsecureSkipVerify: true})
	assert.True(t, conn.Live(), "handshake failed: %s", conn.LastError())
	defer conn.Close()
	assert.False(t, conn.IsBlocking())

	// Nothing pending: would-block, not an error.
	start := time.Now()
	assert.False(t, conn.Spool())
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, conn.Live())
	<-done
}

func TestTLSHandshakeFailure(t *testing.T) {
	// A plain TCP peer that immediately closes makes the handshake fail.
	srv := Listen(0, "127.0.0.1", false)
	assert.True(t, srv.Connected())
	defer srv.Close()
	go func() {
		c := srv.Accept(false)
		c.Drop()
	}()

	conn := DialTLS("127.0.0.1", srv.Port(), false, &tls.Config{InsecureSkipVerify: true})
	assert.False(t, conn.Connected(), "handshake failure leaves the instance disconnected")
	assert.True(t, conn.Error)
	assert.NotEmpty(t, conn.LastError())
}
