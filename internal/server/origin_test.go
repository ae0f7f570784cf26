package server

import (
	"net/http/httptest"
	"testing"
)

// TestOriginPolicy verifies origin normalization and matching.
func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"exact match", []string{"http://localhost:8080"}, "http://localhost:8080", true},
		{"case insensitive", []string{"HTTP://LocalHost:8080"}, "http://localhost:8080", true},
		{"path ignored", []string{"http://localhost:8080/app"}, "http://localhost:8080", true},
		{"different port", []string{"http://localhost:8080"}, "http://localhost:9090", false},
		{"missing origin", []string{"http://localhost:8080"}, "", false},
		{"invalid origin", []string{"http://localhost:8080"}, "localhost", false},
		{"wildcard", []string{"*"}, "https://anywhere.example", true},
		{"invalid config ignored", []string{"not an origin"}, "http://localhost:8080", false},
		{"empty policy", nil, "http://localhost:8080", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := newOriginPolicy(tt.allowed)
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := policy.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
