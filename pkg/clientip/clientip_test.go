package clientip

import (
	"net/http/httptest"
	"testing"
)

func TestResolvers(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		remote     string
		xff        string
		realIP     string
		want       string
	}{
		{"remote addr", false, "192.0.2.1:5555", "", "", "192.0.2.1"},
		{"untrusted header ignored", false, "192.0.2.1:5555", "203.0.113.7", "", "192.0.2.1"},
		{"forwarded first hop", true, "10.0.0.1:80", "203.0.113.7, 10.0.0.2", "", "203.0.113.7"},
		{"real ip fallback", true, "10.0.0.1:80", "", "198.51.100.4", "198.51.100.4"},
		{"garbage header", true, "10.0.0.1:80", "not-an-ip", "", "10.0.0.1"},
		{"no port", false, "192.0.2.9", "", "", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := NewResolver(tt.trustProxy)(r); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
