package shardserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPPrefersForwardedHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/submit", nil)
	r.Header.Set("Forwarded", `for=192.0.2.60;proto=http;by=203.0.113.43`)
	r.RemoteAddr = "10.0.0.1:5555"

	if got := clientIP(r); got != "192.0.2.60" {
		t.Fatalf("clientIP() = %q, want 192.0.2.60", got)
	}
}

func TestClientIPFallsBackToXForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/submit", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.2")
	r.RemoteAddr = "10.0.0.1:5555"

	if got := clientIP(r); got != "203.0.113.5" {
		t.Fatalf("clientIP() = %q, want 203.0.113.5", got)
	}
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/submit", nil)
	r.RemoteAddr = "198.51.100.7:5555"

	if got := clientIP(r); got != "198.51.100.7" {
		t.Fatalf("clientIP() = %q, want 198.51.100.7", got)
	}
}
