package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"frame-commerce-api/internal/attestation"
	"frame-commerce-api/internal/cache"
	"frame-commerce-api/internal/config"
	"frame-commerce-api/internal/events"
	"frame-commerce-api/internal/farcaster"
	"frame-commerce-api/internal/features"
	"frame-commerce-api/internal/handler"
	"frame-commerce-api/internal/ipfs"
	"frame-commerce-api/internal/middleware"
	"frame-commerce-api/internal/models"
	"frame-commerce-api/internal/service"
	"frame-commerce-api/internal/store"
	"frame-commerce-api/internal/tracing"
)

const shutdownTimeout = 15 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	flags := features.NewDefaultManager(nil)
	if unknown := flags.Apply(cfg.Features); len(unknown) > 0 {
		logger.Warn("ignoring unknown feature flags", zap.Strings("flags", unknown))
	}

	ledger, err := store.Open(ctx, store.Options{
		Driver: cfg.Store.Driver,
		Redis: store.RedisOptions{
			URL:      cfg.Store.RedisURL,
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		},
		SQLitePath: cfg.Store.SQLitePath,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer ledger.Close()

	var productCache cache.Cache
	if flags.IsEnabled(features.FeatureProductCache) {
		if rs, ok := ledger.(*store.RedisStore); ok {
			productCache = cache.NewRedisCache(rs.Client(), "cache:")
		} else {
			productCache = cache.NewInMemoryCache()
		}
	}

	eventManager := events.NewManager(flags.IsEnabled(features.FeaturePurchaseEvents), logger)
	var forwarder *events.KafkaForwarder
	defer func() {
		// Drain handlers before closing the writer they use.
		eventManager.Shutdown()
		if forwarder != nil {
			if err := forwarder.Close(); err != nil {
				logger.Warn("close kafka writer", zap.Error(err))
			}
		}
	}()

	if len(cfg.Events.Brokers) > 0 {
		forwarder = events.NewKafkaForwarder(cfg.Events.Brokers, cfg.Events.Topic)
		forwarder.Register(eventManager)
		logger.Info("forwarding purchase events to kafka",
			zap.Strings("brokers", cfg.Events.Brokers),
			zap.String("topic", cfg.Events.Topic),
		)
	}

	products := service.NewProductService(
		attestation.NewClient(cfg.Upstream.AttestationEndpoint, cfg.Upstream.SchemaID, cfg.Upstream.HTTPTimeout),
		ipfs.NewGateway(cfg.Upstream.IPFSGateway, cfg.Upstream.HTTPTimeout),
		farcaster.NewHub(cfg.Upstream.HubURL, cfg.Upstream.HTTPTimeout),
		service.ProductServiceOptions{
			Seller: models.Seller{
				FID:         cfg.Seller.FID,
				DisplayName: cfg.Seller.DisplayName,
				Address:     cfg.Seller.Address,
			},
			Cache:    productCache,
			CacheTTL: cfg.Upstream.CacheTTL,
			Logger:   logger,
		},
	)
	purchases := service.NewPurchaseService(ledger, eventManager, logger)

	h := handler.NewHandlerWithOptions(products, purchases, handler.NewHandlerOptions{
		MaxBodySize: cfg.Server.MaxRequestBodySize,
		AppURL:      cfg.App.URL,
		Features:    flags,
		Logger:      logger,
	})

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware(cfg.Tracing.ServiceName))

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Window)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	h.RegisterRoutes(r)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting server",
		zap.String("addr", server.Addr),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		zap.Any("features", flags.Enabled()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
