// Package ratelimit throttles requests per client with token buckets.
package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smorand/team-slides-dashboard/internal/cache"
)

// Config holds rate limiter configuration.
type Config struct {
	// RequestsPerSecond is the refill rate of each client bucket.
	RequestsPerSecond float64
	// BurstSize is the capacity of each client bucket.
	BurstSize int
	// MaxClients bounds the number of tracked buckets; the least recently used are dropped.
	MaxClients int
	// IdleTTL drops buckets of clients that stayed quiet this long.
	IdleTTL time.Duration
	// TrustForwardedFor takes the client address from X-Forwarded-For.
	TrustForwardedFor bool
	Logger            *slog.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 1.0,
		BurstSize:         5,
		MaxClients:        10000,
		IdleTTL:           10 * time.Minute,
		Logger:            slog.Default(),
	}
}

// TokenBucket implements a token bucket rate limiter.
type TokenBucket struct {
	tokens         float64
	maxTokens      float64
	refillRate     float64 // tokens per second
	lastRefillTime time.Time
	now            func() time.Time
	mu             sync.Mutex
}

// NewTokenBucket creates a full token bucket with the specified rate and burst size.
func NewTokenBucket(refillRate float64, burstSize int) *TokenBucket {
	return newTokenBucket(refillRate, burstSize, time.Now)
}

func newTokenBucket(refillRate float64, burstSize int, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:         float64(burstSize),
		maxTokens:      float64(burstSize),
		refillRate:     refillRate,
		lastRefillTime: now(),
		now:            now,
	}
}

func (tb *TokenBucket) refillLocked() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefillTime)
	tb.tokens = math.Min(tb.maxTokens, tb.tokens+tb.refillRate*elapsed.Seconds())
	tb.lastRefillTime = now
}

// Allow consumes a token if one is available. It returns whether the request is allowed,
// the remaining tokens, and how long to wait otherwise.
func (tb *TokenBucket) Allow() (allowed bool, remaining int, retryAfter time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	if tb.tokens >= 1 {
		tb.tokens--
		return true, int(tb.tokens), 0
	}

	tokensNeeded := 1 - tb.tokens
	retryAfter = time.Duration(tokensNeeded/tb.refillRate*float64(time.Second)) + time.Millisecond
	return false, 0, retryAfter
}

// Remaining returns the current number of available tokens.
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	return int(tb.tokens)
}

// Limit returns the maximum burst size.
func (tb *TokenBucket) Limit() int {
	return int(tb.maxTokens)
}

// Limiter keeps one bucket per client address and path.
type Limiter struct {
	config  Config
	buckets *cache.LRU[*TokenBucket]
	now     func() time.Time
	mu      sync.Mutex
}

// New creates a new rate limiter with the given configuration.
func New(config Config) *Limiter {
	defaults := DefaultConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if config.BurstSize <= 0 {
		config.BurstSize = defaults.BurstSize
	}
	if config.MaxClients <= 0 {
		config.MaxClients = defaults.MaxClients
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaults.IdleTTL
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Limiter{
		config: config,
		buckets: cache.New[*TokenBucket](cache.Config{
			Name:       "ratelimit",
			MaxEntries: config.MaxClients,
			DefaultTTL: config.IdleTTL,
			Logger:     config.Logger,
		}),
		now: time.Now,
	}
}

// bucket returns the bucket of key, creating a full one on first use.
func (l *Limiter) bucket(key string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets.Get(key); ok {
		// keep active clients from expiring
		l.buckets.Set(key, b)
		return b
	}
	b := newTokenBucket(l.config.RequestsPerSecond, l.config.BurstSize, l.now)
	l.buckets.Set(key, b)
	return b
}

// ClientAddress returns the address a request is attributed to.
func (l *Limiter) ClientAddress(r *http.Request) string {
	if l.config.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware returns an HTTP middleware that applies rate limiting.
func (l *Limiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := l.ClientAddress(r)
		bucket := l.bucket(client + " " + r.URL.Path)

		allowed, remaining, retryAfter := bucket.Allow()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(bucket.Limit()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			l.config.Logger.Warn("rate limit exceeded",
				slog.String("path", r.URL.Path),
				slog.String("client", client),
				slog.Duration("retry_after", retryAfter),
			)

			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error":       "rate limit exceeded",
				"retry_after": seconds,
			})
			return
		}

		next(w, r)
	}
}

// Clients returns the number of tracked buckets.
func (l *Limiter) Clients() int {
	return l.buckets.Size()
}
