package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/ArthurBarre/site-forge-clone/internal/app/migrate"
	"github.com/ArthurBarre/site-forge-clone/internal/billing"
	"github.com/ArthurBarre/site-forge-clone/internal/cache"
	"github.com/ArthurBarre/site-forge-clone/internal/config"
	"github.com/ArthurBarre/site-forge-clone/internal/generation"
	"github.com/ArthurBarre/site-forge-clone/internal/hosting"
	httpx "github.com/ArthurBarre/site-forge-clone/internal/http"
	"github.com/ArthurBarre/site-forge-clone/internal/logger"
	"github.com/ArthurBarre/site-forge-clone/internal/registrar"
	"github.com/ArthurBarre/site-forge-clone/internal/repository/postgres"
	"github.com/ArthurBarre/site-forge-clone/internal/service/deploy"
	"github.com/ArthurBarre/site-forge-clone/internal/service/dns"
	"github.com/ArthurBarre/site-forge-clone/internal/service/fulfillment"
	"github.com/ArthurBarre/site-forge-clone/internal/service/payment"
	"github.com/ArthurBarre/site-forge-clone/internal/service/purchase"
	"github.com/ArthurBarre/site-forge-clone/internal/service/search"
	"github.com/ArthurBarre/site-forge-clone/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("api", logger.LevelFromEnv())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	// Redis backs the search cache, the deploy lock and rate limiting.
	// Everything degrades to in-process equivalents when it is absent.
	var redisCache *cache.Redis
	locker := cache.NewMemoryLocker()
	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		rc, err := cache.New(ctx, cache.Config{Addr: addr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, log)
		if err != nil {
			log.Warn("redis unavailable, using in-memory fallbacks", "error", err)
		} else {
			redisCache = rc
			defer redisCache.Close()
			locker = cache.NewRedisLocker(redisCache.Client())
		}
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}

	registry := registrar.NewRegistry(cfg, log)
	stub := registrar.NewStub(log)
	prober := registrar.NewWhoisProber()

	searchSvc := search.NewService(registry, prober, stub, redisCache, cfg.SearchCacheTTL, log)
	purchaseSvc := purchase.NewService(registry, repo, cfg.ContactEncryptionKey, log)
	dnsSvc := dns.NewService(registry, repo, repo, cfg.HostingAnycastIP, log)

	stripe := billing.NewStripe(cfg.StripeAPIURL, cfg.StripeSecretKey, cfg.StripeWebhookSecret, httpClient, log)
	paypal := billing.NewPayPal(cfg.PayPalAPIURL, cfg.PayPalClientID, cfg.PayPalClientSecret, cfg.PayPalEnvironment, cfg.PayPalWebhookID, httpClient, log)

	pending := fulfillment.NewPendingPurchases(redisCache)
	fulfillSvc := fulfillment.NewService(purchaseSvc, dnsSvc, repo, pending, log)
	paymentSvc := payment.NewService(stripe, paypal, repo, repo, fulfillSvc, pending, log)

	genClient := generation.NewClient(cfg.GenerationAPIURL, cfg.GenerationAPIKey, httpClient, log)
	hostClient := hosting.NewClient(cfg.HostingAPIURL, cfg.HostingToken, httpClient, log)
	hub := ws.NewHub()
	deploySvc := deploy.NewService(genClient, hostClient, repo, locker, hub, cfg.DeployLockTTL, cfg.DeployPollAttempts, cfg.DeployPollInterval, log)

	router := httpx.NewRouter(log, searchSvc, purchaseSvc, paymentSvc, dnsSvc, deploySvc, repo, hub, limiter, cfg.JWTSecret, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
