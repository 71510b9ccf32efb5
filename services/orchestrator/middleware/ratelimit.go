// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Rate limit defaults.
const (
	DefaultRequestsPerMinute = 60
	DefaultBurst             = 10

	// limiterIdleTTL is how long an unused client bucket is kept.
	limiterIdleTTL = 10 * time.Minute
)

// RateLimitConfig tunes per-client rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" validate:"gte=0"`
	Burst             int  `yaml:"burst" validate:"gte=0"`

	// TrustProxy uses the first X-Forwarded-For hop as the client identity.
	// Enable only behind a proxy that overwrites the header.
	TrustProxy bool `yaml:"trust_proxy"`
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimiter implements per-client token bucket rate limiting.
type ClientRateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*clientLimiter
	limit      rate.Limit
	burst      int
	rpm        int
	trustProxy bool
	now        func() time.Time
	lastSweep  time.Time

	// OnLimited is called for every rejected request.
	OnLimited func()
}

// NewClientRateLimiter creates a limiter from cfg, applying defaults.
func NewClientRateLimiter(cfg RateLimitConfig) *ClientRateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	return &ClientRateLimiter{
		limiters:   make(map[string]*clientLimiter),
		limit:      rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:      cfg.Burst,
		rpm:        cfg.RequestsPerMinute,
		trustProxy: cfg.TrustProxy,
		now:        time.Now,
	}
}

// Allow reports whether a request from client may proceed.
func (l *ClientRateLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	cl, ok := l.limiters[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[client] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// sweep drops idle buckets at most once per TTL. Caller holds l.mu.
func (l *ClientRateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < limiterIdleTTL {
		return
	}
	for k, cl := range l.limiters {
		if now.Sub(cl.lastSeen) > limiterIdleTTL {
			delete(l.limiters, k)
		}
	}
	l.lastSweep = now
}

// Middleware rejects over-limit requests with 429 and a Retry-After hint.
func (l *ClientRateLimiter) Middleware() gin.HandlerFunc {
	retryAfter := strconv.Itoa(int(math.Ceil(60 / float64(l.rpm))))
	return func(c *gin.Context) {
		if !l.Allow(ClientIdentity(c.Request, l.trustProxy)) {
			if l.OnLimited != nil {
				l.OnLimited()
			}
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		c.Next()
	}
}

// ClientIdentity returns the first X-Forwarded-For hop when trustProxy is
// set, otherwise the remote address without its port.
func ClientIdentity(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
			if first != "" {
				return first
			}
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	return r.RemoteAddr
}
