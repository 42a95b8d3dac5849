package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/zatekoja/diagnosticpricesearch/internal/adapters/backends/legacy"
	"github.com/zatekoja/diagnosticpricesearch/internal/adapters/backends/tokenauth"
	"github.com/zatekoja/diagnosticpricesearch/internal/adapters/cache"
	"github.com/zatekoja/diagnosticpricesearch/internal/api/handlers"
	"github.com/zatekoja/diagnosticpricesearch/internal/api/middleware"
	"github.com/zatekoja/diagnosticpricesearch/internal/api/routes"
	"github.com/zatekoja/diagnosticpricesearch/internal/application/services"
	"github.com/zatekoja/diagnosticpricesearch/internal/domain/entities"
	"github.com/zatekoja/diagnosticpricesearch/internal/domain/providers"
	"github.com/zatekoja/diagnosticpricesearch/internal/infrastructure/clients/apiclient"
	"github.com/zatekoja/diagnosticpricesearch/internal/infrastructure/clients/redis"
	"github.com/zatekoja/diagnosticpricesearch/internal/infrastructure/observability"
	"github.com/zatekoja/diagnosticpricesearch/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
			log.Info().Str("endpoint", cfg.OTEL.Endpoint).Msg("OpenTelemetry initialized")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	// Search cache: Redis when configured, in-process otherwise
	var cacheProvider providers.CacheProvider = cache.NewMemoryAdapter()
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, falling back to in-memory cache")
		} else {
			defer redisClient.Close()
			cacheProvider = cache.NewRedisAdapter(redisClient, "pricesearch")
			log.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("Redis cache connected")
		}
	}

	// Upstream clients, each with its own rate limit
	newClient := func(name, baseURL string) *apiclient.Client {
		return apiclient.New(baseURL, apiclient.Options{
			Name:    name,
			Timeout: cfg.HTTPClient.Timeout,
			Metrics: metrics,
			Limiter: rate.NewLimiter(rate.Limit(cfg.HTTPClient.RequestsPerSecond), cfg.HTTPClient.Burst),
		})
	}
	legacyClient := newClient(string(entities.BackendLegacy), cfg.LegacyAPI.BaseURL)
	defer legacyClient.Close()
	tokenClient := newClient(string(entities.BackendTokenAuth), cfg.TokenAPI.BaseURL)
	defer tokenClient.Close()

	legacyBackend := legacy.NewAdapter(legacyClient, cfg.LegacyAPI.AccessToken, cfg.LegacyAPI.ServicesPath)
	tokenBackend := tokenauth.NewAdapter(tokenClient,
		tokenauth.Credentials{Username: cfg.TokenAPI.Username, Password: cfg.TokenAPI.Password},
		tokenauth.Config{TokenPath: cfg.TokenAPI.TokenPath, ServicesPath: cfg.TokenAPI.ServicesPath},
		tokenauth.NewTokenCache(),
	)

	branches := make([]entities.Branch, 0, len(cfg.Branches))
	for _, b := range cfg.Branches {
		branches = append(branches, entities.Branch{ID: b.ID, Name: b.Name, City: b.City})
	}
	catalog := services.NewBranchCatalog(branches)
	router := services.NewBackendRouter(cfg.Routing.TokenAuthBranches)
	resolver := services.NewServiceResolver(router, metrics, legacyBackend, tokenBackend)

	priceList := services.NewPriceListService(resolver, catalog,
		services.NewSearchOptimizer[*entities.PageResult](cacheProvider, "services", cfg.Search.CacheTTL, metrics),
		// The optimizer cache already covers these keys, and one ApiCall is
		// shared by every HTTP caller, so neither its result cache nor
		// CancelPrevious is enabled here.
		services.NewApiCall[*entities.PageResult](services.ApiCallOptions{
			Name:       "price_list",
			MaxRetries: cfg.Search.MaxRetries,
		}),
	)

	if cfg.Search.WarmPages > 0 {
		warmer := services.NewCacheWarmingService(priceList, cfg.Search.WarmPages, cfg.Search.DefaultCategory)
		go warmer.StartPeriodicWarming(ctx, cfg.Search.WarmInterval)
	}

	registry := services.NewSessionRegistry(func() *services.SearchController {
		return services.NewSearchController(resolver, catalog, services.SearchControllerOptions{
			Debounce:   cfg.Search.Debounce,
			CategoryID: cfg.Search.DefaultCategory,
			Metrics:    metrics,
		})
	}, cfg.Search.SessionIdleTTL)
	go registry.Run(ctx, time.Minute)

	httpRouter := routes.NewRouter(
		handlers.NewPriceListHandler(priceList, cfg.Search.DefaultCategory),
		handlers.NewSessionHandler(registry),
		handlers.NewSSEHandler(registry, 30*time.Second),
		middleware.NewCacheMiddleware(cacheProvider, middleware.DefaultCacheRoutes(int(cfg.Search.CacheTTL/time.Second)), metrics),
		cfg.Server.AllowedOrigins,
		metrics,
	)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	// Branch selection waits for the first upstream page, so writes get the
	// upstream timeout plus headroom.
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      httpRouter.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.HTTPClient.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", serverAddr).Int("branches", len(branches)).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("server shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}
	registry.CloseAll()

	log.Info().Msg("server stopped")
}
