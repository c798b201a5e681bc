package http

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractClientIP_NoProxyFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.5:54321"
	r.Header.Set("X-Forwarded-For", "10.0.0.99")

	// Header ignored because the peer is not a trusted proxy.
	ip := ExtractClientIP(r, nil)
	assert.Equal(t, "203.0.113.5", ip)
}

func TestExtractClientIP_TrustedProxyHonorsForwardedFor(t *testing.T) {
	cfg := &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:443"
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.1.2.3")

	ip := ExtractClientIP(r, cfg)
	assert.Equal(t, "198.51.100.7", ip)
}

func TestExtractClientIP_UntrustedPeerCannotSpoof(t *testing.T) {
	cfg := &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "198.51.100.7:1234"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")

	ip := ExtractClientIP(r, cfg)
	assert.Equal(t, "198.51.100.7", ip)
}

func TestExtractClientIP_TrustedProxyRealIPFallback(t *testing.T) {
	cfg := &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:443"
	r.Header.Set("X-Forwarded-For", "not-an-ip")
	r.Header.Set("X-Real-IP", "198.51.100.9")

	ip := ExtractClientIP(r, cfg)
	assert.Equal(t, "198.51.100.9", ip)
}

func TestExtractClientIP_InvalidCIDRSkipped(t *testing.T) {
	cfg := &IPConfig{TrustedProxies: []string{"bogus", "10.0.0.0/8"}}

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:443"
	r.Header.Set("X-Forwarded-For", "198.51.100.7")

	ip := ExtractClientIP(r, cfg)
	assert.Equal(t, "198.51.100.7", ip)
}

func TestDeviceFingerprint(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, DeviceFingerprint(r))

	r.Header.Set("X-Device-Fingerprint", "  fp-abc123  ")
	assert.Equal(t, "fp-abc123", DeviceFingerprint(r))
}
