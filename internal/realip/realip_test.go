package realip

import (
	"net/http/httptest"
	"testing"
)

func TestClientIPTrustedProxy(t *testing.T) {
	r, err := NewResolver([]string{"10.0.0.0/8", "127.0.0.1"})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	cases := []struct {
		name   string
		remote string
		xff    string
		real   string
		want   string
	}{
		{"trusted peer with xff", "10.1.2.3:5555", "203.0.113.7, 10.0.0.1", "", "203.0.113.7"},
		{"trusted peer skips garbage hop", "10.1.2.3:5555", "unknown, 203.0.113.7", "", "203.0.113.7"},
		{"trusted peer falls back to x-real-ip", "10.1.2.3:5555", "", "198.51.100.20", "198.51.100.20"},
		{"trusted peer without headers", "10.1.2.3:5555", "", "", "10.1.2.3"},
		{"trusted bare-ip entry", "127.0.0.1:9999", "203.0.113.7", "", "203.0.113.7"},
		{"untrusted peer ignores xff", "198.51.100.4:1234", "203.0.113.7", "", "198.51.100.4"},
		{"untrusted peer ignores x-real-ip", "198.51.100.4:1234", "", "203.0.113.7", "198.51.100.4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.real != "" {
				req.Header.Set("X-Real-IP", tc.real)
			}
			if got := r.ClientIP(req); got != tc.want {
				t.Errorf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClientIPNoTrustedProxies(t *testing.T) {
	r, err := NewResolver(nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.4:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	if got := r.ClientIP(req); got != "198.51.100.4" {
		t.Errorf("ClientIP = %q, want the peer address", got)
	}
}

func TestClientIPIPv6(t *testing.T) {
	r, err := NewResolver([]string{"::1"})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "[::1]:40000"
	req.Header.Set("X-Forwarded-For", "2001:db8::9")
	if got := r.ClientIP(req); got != "2001:db8::9" {
		t.Errorf("ClientIP = %q, want forwarded IPv6 address", got)
	}
}

func TestNewResolverRejectsBadEntries(t *testing.T) {
	if _, err := NewResolver([]string{"not-an-ip"}); err == nil {
		t.Error("expected error for invalid address")
	}
	if _, err := NewResolver([]string{"10.0.0.0/33"}); err == nil {
		t.Error("expected error for invalid CIDR")
	}
}
