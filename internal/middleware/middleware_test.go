package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gatekeep/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	cfg := config.DefaultConfig().SecurityHeaders
	handler := SecurityHeaders(cfg)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": cfg.CSP,
		"Referrer-Policy":         cfg.ReferrerPolicy,
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
	if got := rec.Header().Get("Strict-Transport-Security"); got == "" {
		t.Error("HSTS header missing")
	}
}

func TestSecurityHeaders_Disabled(t *testing.T) {
	handler := SecurityHeaders(config.SecurityHeadersConfig{})(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "" {
		t.Errorf("disabled middleware set headers: %q", got)
	}
}

func TestRateLimit_BlocksOverBudget(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:       true,
		RequestsPerIP: 60,
		WindowSize:    time.Minute,
		BurstSize:     3,
		CleanupPeriod: time.Minute,
	}
	limiter := NewRateLimiter(cfg, nil)
	defer limiter.Stop()
	handler := RateLimit(limiter)(okHandler())

	var rejected int
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/http", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			rejected++
		}
	}
	if rejected == 0 {
		t.Error("burst of 10 never hit the limit with burst size 3")
	}
}

func TestRateLimit_PerIPIsolation(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:       true,
		RequestsPerIP: 60,
		WindowSize:    time.Minute,
		BurstSize:     2,
		CleanupPeriod: time.Minute,
	}
	limiter := NewRateLimiter(cfg, nil)
	defer limiter.Stop()
	handler := RateLimit(limiter)(okHandler())

	// Exhaust one IP's burst.
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/http", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		handler.ServeHTTP(rec, req)
	}

	// A different IP is unaffected.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/http", nil)
	req.RemoteAddr = "198.51.100.1:1234"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("fresh IP got %d, want 200", rec.Code)
	}
}

func TestRateLimit_ExemptPaths(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:       true,
		RequestsPerIP: 1,
		WindowSize:    time.Hour,
		BurstSize:     1,
		CleanupPeriod: time.Minute,
		ExemptPaths:   []string{"/health"},
	}
	limiter := NewRateLimiter(cfg, nil)
	defer limiter.Stop()
	handler := RateLimit(limiter)(okHandler())

	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("exempt path rate limited on request %d", i)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		trustProxy bool
		want       string
	}{
		{"direct", "203.0.113.9:1234", "", false, "203.0.113.9"},
		{"xff ignored without trust", "203.0.113.9:1234", "198.51.100.1", false, "203.0.113.9"},
		{"xff rightmost with trust", "10.0.0.1:1234", "1.2.3.4, 198.51.100.1", true, "198.51.100.1"},
		{"no port", "203.0.113.9", "", false, "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := ClientIP(req, tt.trustProxy); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
