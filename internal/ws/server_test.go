package ws

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	cases := []struct {
		name      string
		remote    string
		forwarded string
		want      string
	}{
		{"direct", "203.0.113.7:54012", "", "203.0.113.7"},
		{"proxied", "10.0.0.2:80", "203.0.113.9", "203.0.113.9"},
		{"proxy chain keeps first hop", "10.0.0.2:80", "203.0.113.9, 10.0.0.2", "203.0.113.9"},
		{"forwarded with spaces", "10.0.0.2:80", "  203.0.113.9  ", "203.0.113.9"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			r.RemoteAddr = tc.remote
			if tc.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if got := clientIP(r); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
