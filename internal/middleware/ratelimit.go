package middleware

import (
	"net"
	"net/http"
	"sync"

	"github.com/allenfu2013/kong/internal/config"
	"github.com/allenfu2013/kong/pkg/logger"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware applies a per-client token bucket to the admin API
type RateLimitMiddleware struct {
	config  config.RateLimitConfig
	clients map[string]*rate.Limiter
	mu      sync.Mutex
	logger  *logger.Logger
}

// NewRateLimitMiddleware creates a new rate limiting middleware
func NewRateLimitMiddleware(cfg config.RateLimitConfig, log *logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		config:  cfg,
		clients: make(map[string]*rate.Limiter),
		logger:  log.AdminLogger(),
	}
}

// RateLimit returns the rate limiting middleware
func (m *RateLimitMiddleware) RateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			client := clientIP(r)
			if !m.limiterFor(client).Allow() {
				m.logger.WithField("client", client).Warn("Rate limit exceeded")
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *RateLimitMiddleware) limiterFor(client string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.clients[client]
	if !ok {
		l = rate.NewLimiter(rate.Limit(m.config.RequestsPerSec), m.config.BurstSize)
		m.clients[client] = l
	}
	return l
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
