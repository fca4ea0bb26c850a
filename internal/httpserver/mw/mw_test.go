package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrSnakeDoc/directory/internal/logger"
)

func TestLimiter_BurstThenRefill(t *testing.T) {
	l := newLimiter(RateLimitConfig{Burst: 2, RefillPerIPPerMin: 60})
	now := time.Now()

	for i := range 2 {
		if ok, _, _ := l.allow("192.0.2.1", now); !ok {
			t.Fatalf("request %d rejected inside burst", i)
		}
	}
	ok, _, retry := l.allow("192.0.2.1", now)
	if ok || retry != 1 {
		t.Fatalf("allow() = %v, retry %d, want rejected with retry 1", ok, retry)
	}

	// Other clients have their own bucket.
	if ok, _, _ := l.allow("192.0.2.2", now); !ok {
		t.Error("second client rejected")
	}

	if ok, _, _ := l.allow("192.0.2.1", now.Add(time.Second)); !ok {
		t.Error("request rejected after refill")
	}
}

func TestLimiter_SweepsIdleClients(t *testing.T) {
	l := newLimiter(RateLimitConfig{Burst: 1, RefillPerIPPerMin: 1, IdleTTL: time.Minute, MaxEntries: 2})
	now := time.Now()
	l.allow("a", now)
	l.allow("b", now)
	l.allow("c", now.Add(2*time.Minute))

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.clients) != 1 {
		t.Errorf("clients = %d, want 1 after sweep", len(l.clients))
	}
}

func TestMatchHost(t *testing.T) {
	tests := []struct {
		host, pattern string
		want          bool
	}{
		{"directory.example", "directory.example", true},
		{"Directory.Example", "directory.example", true},
		{"api.example.com", "*.example.com", true},
		{"example.com", "*.example.com", false},
		{"badexample.com", "*.example.com", false},
		{"other.example", "directory.example", false},
	}
	for _, tt := range tests {
		if got := matchHost(tt.host, tt.pattern); got != tt.want {
			t.Errorf("matchHost(%q, %q) = %v, want %v", tt.host, tt.pattern, got, tt.want)
		}
	}
}

func TestEnforceHost(t *testing.T) {
	h := EnforceHost([]string{"directory.example"}, logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	tests := []struct {
		host string
		want int
	}{
		{"directory.example", http.StatusOK},
		{"directory.example:8080", http.StatusOK},
		{"evil.example", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/sweeps/check-up", nil)
		req.Host = tt.host
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("Host %s status = %d, want %d", tt.host, rec.Code, tt.want)
		}
	}
}

func TestAllowOnlyCIDRS_TrustProxy(t *testing.T) {
	h := AllowOnlyCIDRS([]string{"10.0.0.0/8", "192.0.2.7"}, true, logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	tests := []struct {
		name   string
		remote string
		xff    string
		want   int
	}{
		{"cidr", "10.2.3.4:1000", "", http.StatusOK},
		{"exact ip", "192.0.2.7:1000", "", http.StatusOK},
		{"forwarded", "127.0.0.1:1000", "10.9.9.9, 127.0.0.1", http.StatusOK},
		{"outside", "198.51.100.1:1000", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
