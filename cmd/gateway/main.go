package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/allenfu2013/kong/internal/balancer"
	"github.com/allenfu2013/kong/internal/cache"
	"github.com/allenfu2013/kong/internal/config"
	"github.com/allenfu2013/kong/internal/dns"
	"github.com/allenfu2013/kong/internal/domain"
	"github.com/allenfu2013/kong/internal/handler"
	"github.com/allenfu2013/kong/internal/middleware"
	"github.com/allenfu2013/kong/internal/repository"
	"github.com/allenfu2013/kong/internal/resolver"
	"github.com/allenfu2013/kong/pkg/logger"
	"github.com/gorilla/mux"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	store := repository.NewMemoryStore()
	if err := seedStore(store, cfg.Upstreams); err != nil {
		log.WithError(err).Fatal("Failed to seed upstreams from configuration")
	}

	memo := cache.New()
	registry := balancer.NewRegistry()
	nameResolver := dns.NewResolver(cfg.DNS.TTL, nil, log)

	ringFactory := func(slots int, seed int64) (domain.Ring, error) {
		return balancer.NewSlotRing(slots, seed, nameResolver)
	}

	reconciler := balancer.NewReconciler(store, memo, registry, ringFactory, log)
	res := resolver.New(reconciler, nameResolver, log)

	proxy := handler.NewProxyHandler(res, cfg.Proxy, log)
	proxyServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      proxy,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var adminServer *http.Server
	if cfg.Admin.Enabled {
		admin := handler.NewAdminHandler(store, memo, registry, log)
		router := mux.NewRouter()
		admin.Routes(router)

		rateLimiter := middleware.NewRateLimitMiddleware(cfg.Admin.RateLimit, log)
		router.Use(mux.MiddlewareFunc(rateLimiter.RateLimit()))

		adminServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Admin.Port),
			Handler: router,
		}
	}

	errCh := make(chan error, 2)
	go func() {
		log.Infof("Proxy listening on :%d", cfg.Server.Port)
		if err := proxyServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	if adminServer != nil {
		go func() {
			log.Infof("Admin API listening on :%d", cfg.Admin.Port)
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("Received signal %s, shutting down", sig)
	case err := <-errCh:
		log.WithError(err).Error("Server error, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := proxyServer.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Proxy shutdown failed")
	}
	if adminServer != nil {
		if err := adminServer.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Admin shutdown failed")
		}
	}
	log.Info("Shutdown complete")
}

// seedStore creates the configured upstreams and their initial target events
func seedStore(store *repository.MemoryStore, upstreams []config.UpstreamConfig) error {
	for _, uc := range upstreams {
		u, err := store.CreateUpstream(uc.Name, uc.Slots, uc.Seed)
		if err != nil {
			return fmt.Errorf("seed upstream '%s': %w", uc.Name, err)
		}
		for _, tc := range uc.Targets {
			if _, err := store.AddTarget(u.ID, tc.Target, tc.Weight); err != nil {
				return fmt.Errorf("seed target '%s' for upstream '%s': %w", tc.Target, uc.Name, err)
			}
		}
	}
	return nil
}
