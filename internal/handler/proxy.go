package handler

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/allenfu2013/kong/internal/config"
	"github.com/allenfu2013/kong/internal/domain"
	"github.com/allenfu2013/kong/internal/resolver"
	"github.com/allenfu2013/kong/pkg/logger"
)

// ProxyHandler forwards HTTP requests to the address the resolver picks for
// the request's host. Failed forwards are retried with the same resolution
// target; each retry bumps Tries, which puts resolution into cache-only mode
// and reuses the balancer pinned by the first attempt.
type ProxyHandler struct {
	resolver *resolver.Resolver
	config   config.ProxyConfig
	logger   *logger.Logger
}

// NewProxyHandler creates a new proxy handler
func NewProxyHandler(res *resolver.Resolver, cfg config.ProxyConfig, log *logger.Logger) *ProxyHandler {
	return &ProxyHandler{
		resolver: res,
		config:   cfg,
		logger:   log,
	}
}

// ServeHTTP handles incoming HTTP requests
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host, port := splitRequestHost(r.Host)
	target := domain.NewResolutionTarget(host, port)

	log := h.logger.RequestLogger(r.Method, r.Host, r.URL.Path, r.RemoteAddr)

	var lastErr error
	for attempt := 0; attempt <= h.config.MaxRetries; attempt++ {
		target.Tries = attempt
		if err := h.resolver.Resolve(r.Context(), target); err != nil {
			lastErr = err
			log.WithError(err).WithField("attempt", attempt).Warn("Resolution failed")
			if attempt < h.config.MaxRetries {
				time.Sleep(h.config.RetryDelay)
			}
			continue
		}

		if h.forwardRequest(w, r, target, log) {
			return
		}
		lastErr = fmt.Errorf("forward to %s:%d failed", target.IP, target.Port)
		if attempt < h.config.MaxRetries {
			time.Sleep(h.config.RetryDelay)
		}
	}

	log.WithError(lastErr).Error("Request failed after all retries")
	http.Error(w, "Bad gateway", http.StatusBadGateway)
}

// forwardRequest proxies the request to the resolved address, reporting
// whether a response was delivered
func (h *ProxyHandler) forwardRequest(w http.ResponseWriter, r *http.Request, target *domain.ResolutionTarget, log *logger.Logger) bool {
	backendURL := &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(target.IP, strconv.Itoa(target.Port)),
	}

	proxy := httputil.NewSingleHostReverseProxy(backendURL)

	delivered := true
	proxy.ErrorHandler = func(http.ResponseWriter, *http.Request, error) {
		// Suppress the default 502 so the outer loop can retry; the caller
		// writes the error response once retries are exhausted.
		delivered = false
	}

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		if target.Hostname != "" {
			req.Host = target.Hostname
		}
		req.Header.Set("X-Forwarded-Host", r.Host)
	}

	proxy.ServeHTTP(w, r)

	if delivered {
		log.WithField("peer", backendURL.Host).Debug("Request forwarded")
	}
	return delivered
}

// splitRequestHost separates the optional port from an HTTP Host header
func splitRequestHost(hostport string) (string, int) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return hostport, 0
	}
	return host, port
}
