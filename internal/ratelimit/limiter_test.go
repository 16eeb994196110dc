package ratelimit

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestTokenBucket_Allow(t *testing.T) {
	t.Run("allows requests within burst", func(t *testing.T) {
		bucket := newTokenBucket(10.0, 5, newClock().Now)

		for i := range 5 {
			allowed, remaining, retryAfter := bucket.Allow()
			if !allowed {
				t.Errorf("request %d should be allowed", i+1)
			}
			if remaining != 4-i {
				t.Errorf("expected remaining %d, got %d", 4-i, remaining)
			}
			if retryAfter != 0 {
				t.Errorf("expected no retry delay, got %v", retryAfter)
			}
		}
	})

	t.Run("blocks when exhausted", func(t *testing.T) {
		bucket := newTokenBucket(1.0, 2, newClock().Now)
		bucket.Allow()
		bucket.Allow()

		allowed, remaining, retryAfter := bucket.Allow()
		if allowed {
			t.Error("request should be blocked when tokens exhausted")
		}
		if remaining != 0 {
			t.Errorf("expected remaining 0, got %d", remaining)
		}
		if retryAfter < time.Second || retryAfter > time.Second+10*time.Millisecond {
			t.Errorf("expected about one second retry delay, got %v", retryAfter)
		}
	})

	t.Run("refills over time", func(t *testing.T) {
		clock := newClock()
		bucket := newTokenBucket(2.0, 2, clock.Now)
		bucket.Allow()
		bucket.Allow()

		clock.Advance(500 * time.Millisecond)
		if allowed, _, _ := bucket.Allow(); !allowed {
			t.Error("request should be allowed after refill")
		}

		clock.Advance(time.Hour)
		if remaining := bucket.Remaining(); remaining != 2 {
			t.Errorf("refill must stop at the burst size, got %d", remaining)
		}
	})
}

func TestTokenBucket_RealClock(t *testing.T) {
	bucket := NewTokenBucket(10.0, 15)
	if limit := bucket.Limit(); limit != 15 {
		t.Errorf("expected limit 15, got %d", limit)
	}
	if remaining := bucket.Remaining(); remaining != 15 {
		t.Errorf("expected full bucket, got %d", remaining)
	}
}

func TestNew_Defaults(t *testing.T) {
	limiter := New(Config{})
	defaults := DefaultConfig()

	if limiter.config.RequestsPerSecond != defaults.RequestsPerSecond {
		t.Errorf("expected rate %v, got %v", defaults.RequestsPerSecond, limiter.config.RequestsPerSecond)
	}
	if limiter.config.BurstSize != defaults.BurstSize {
		t.Errorf("expected burst %d, got %d", defaults.BurstSize, limiter.config.BurstSize)
	}
	if limiter.config.Logger == nil {
		t.Error("expected default logger")
	}
}

func newTestLimiter(burst int) (*Limiter, *fakeClock) {
	clock := newClock()
	limiter := New(Config{RequestsPerSecond: 1.0, BurstSize: burst, Logger: testLogger()})
	limiter.now = clock.Now
	return limiter, clock
}

func doRequest(handler http.HandlerFunc, path, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestLimiter_Middleware(t *testing.T) {
	limiter, clock := newTestLimiter(2)
	handler := limiter.Middleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := range 2 {
		rec := doRequest(handler, "/api/login", "10.0.0.1:5000")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("expected X-RateLimit-Limit 2, got %s", rec.Header().Get("X-RateLimit-Limit"))
		}
		if got, _ := strconv.Atoi(rec.Header().Get("X-RateLimit-Remaining")); got != 1-i {
			t.Errorf("expected remaining %d, got %d", 1-i, got)
		}
	}

	rec := doRequest(handler, "/api/login", "10.0.0.1:5001")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Errorf("expected Retry-After 2, got %s", rec.Header().Get("Retry-After"))
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["error"] != "rate limit exceeded" {
		t.Errorf("unexpected body %v", body)
	}

	t.Run("other clients are independent", func(t *testing.T) {
		if rec := doRequest(handler, "/api/login", "10.0.0.2:5000"); rec.Code != http.StatusOK {
			t.Errorf("expected 200 for another client, got %d", rec.Code)
		}
	})

	t.Run("other paths are independent", func(t *testing.T) {
		if rec := doRequest(handler, "/api/register", "10.0.0.1:5000"); rec.Code != http.StatusOK {
			t.Errorf("expected 200 for another path, got %d", rec.Code)
		}
	})

	t.Run("recovers after refill", func(t *testing.T) {
		clock.Advance(time.Second)
		if rec := doRequest(handler, "/api/login", "10.0.0.1:5000"); rec.Code != http.StatusOK {
			t.Errorf("expected 200 after refill, got %d", rec.Code)
		}
	})

	if limiter.Clients() != 3 {
		t.Errorf("expected 3 tracked buckets, got %d", limiter.Clients())
	}
}

func TestLimiter_ClientAddress(t *testing.T) {
	tests := []struct {
		name    string
		trust   bool
		remote  string
		forward string
		want    string
	}{
		{name: "host and port", remote: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "no port", remote: "192.0.2.1", want: "192.0.2.1"},
		{name: "forwarded ignored", remote: "192.0.2.1:1234", forward: "203.0.113.9", want: "192.0.2.1"},
		{name: "forwarded trusted", trust: true, remote: "192.0.2.1:1234", forward: "203.0.113.9, 10.0.0.1", want: "203.0.113.9"},
		{name: "empty forwarded", trust: true, remote: "192.0.2.1:1234", forward: " ", want: "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(Config{TrustForwardedFor: tt.trust, Logger: testLogger()})
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.forward != "" {
				req.Header.Set("X-Forwarded-For", tt.forward)
			}
			if got := limiter.ClientAddress(req); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	limiter, _ := newTestLimiter(100)
	handler := limiter.Middleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	limited := 0
	for range 120 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := doRequest(handler, "/api/login", "10.0.0.1:5000")
			if rec.Code == http.StatusTooManyRequests {
				mu.Lock()
				limited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if limited != 20 {
		t.Errorf("expected exactly 20 limited requests, got %d", limited)
	}
}
