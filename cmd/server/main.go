package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	jwttoken "pushauth/internal/jwt_token"
	"pushauth/internal/mfa/authority"
	"pushauth/internal/mfa/engine"
	"pushauth/internal/mfa/handler"
	mfametrics "pushauth/internal/mfa/metrics"
	"pushauth/internal/mfa/service"
	"pushauth/internal/mfa/store"
	"pushauth/internal/platform/config"
	"pushauth/internal/platform/httpserver"
	"pushauth/internal/platform/logger"
	"pushauth/internal/platform/metrics"
	"pushauth/internal/platform/redis"
	rlmetrics "pushauth/internal/ratelimit/metrics"
	rlmiddleware "pushauth/internal/ratelimit/middleware"
	rlmodels "pushauth/internal/ratelimit/models"
	ratelimit "pushauth/internal/ratelimit/service"
	"pushauth/internal/ratelimit/store/bucket"
	"pushauth/pkg/platform/audit/publisher"
	auditmemory "pushauth/pkg/platform/audit/store/memory"
)

const auditBufferSize = 1024

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Handshake logic lives in internal/mfa.
func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	out, closeLog := logger.Output(logger.FileOptions{
		Path:       cfg.Server.LogFile,
		MaxSizeMB:  cfg.Server.LogMaxSizeMB,
		MaxBackups: cfg.Server.LogMaxBackups,
	})
	log := logger.NewWithWriter(out, cfg.Server.LogLevel, cfg.Server.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg, log)
	stop()
	_ = closeLog()
	if err != nil {
		log.Error("pushauth exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	mfaMetrics := mfametrics.New()
	httpMetrics := metrics.New(prometheus.DefaultRegisterer)

	live, err := buildLiveStrategy(cfg, log, mfaMetrics)
	if err != nil {
		return err
	}
	engineOpts := engineOptions(cfg)
	client := engine.NewClient(live, engine.NewDemoStrategy(engineOpts))

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	} else {
		log.Info("REDIS_URL not set, using in-memory session store and rate limits")
	}
	sessionStore := buildStore(redisClient)
	limiter := buildLimiter(cfg, redisClient, log)

	auditPublisher := publisher.NewPublisher(auditmemory.NewInMemoryStore(),
		publisher.WithAsyncBuffer(auditBufferSize),
		publisher.WithLogger(log),
	)
	defer auditPublisher.Close()

	tokens := jwttoken.NewJWTService(cfg.Token.SigningKey, cfg.Token.Issuer, cfg.Token.Audience, cfg.Token.TTL)

	manager := service.NewManager(client, sessionStore, service.Config{
		DefaultDemoMode:           cfg.MFA.DemoMode,
		CountryCode:               cfg.MFA.CountryCode,
		SuccessDisplayDelay:       cfg.MFA.SuccessDisplayDelay,
		SimulatedProgressInterval: cfg.MFA.SimulatedProgressInterval,
		SessionTTL:                cfg.MFA.SessionTTL,
	},
		service.WithLogger(log),
		service.WithMetrics(mfaMetrics),
		service.WithTokenIssuer(tokens),
		service.WithAuditPublisher(auditPublisher),
		service.WithRateLimiter(limiter),
	)
	defer manager.Shutdown()

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				log.WarnContext(r.Context(), "health check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	handler.New(manager, log, httpMetrics, jwttoken.NewJWTServiceAdapter(tokens),
		handler.WithRequestTimeout(cfg.Server.RequestTimeout),
		handler.WithStartRateLimit(
			rlmiddleware.New(limiter, log, rlmiddleware.WithDisabled(cfg.RateLimit.Disabled)).PerIP,
		),
	).Register(router)

	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting pushauth",
			"addr", cfg.Server.Addr,
			"demo_mode", cfg.MFA.DemoMode,
			"live_authority", live != nil,
		)
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownGrace)
	})
	g.Go(func() error {
		return manager.RunReaper(gctx, cfg.MFA.ReapInterval)
	})
	g.Go(func() error {
		return limiter.RunJanitor(gctx, cfg.MFA.ReapInterval)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildLiveStrategy returns nil when no authority is configured; the engine
// then reports the gateway as unreachable for live sessions.
func buildLiveStrategy(cfg config.Config, log *slog.Logger, m *mfametrics.Metrics) (engine.Strategy, error) {
	if cfg.Authority.URL == "" {
		log.Warn("AUTHORITY_URL not set, only demo sessions can succeed")
		return nil, nil
	}
	auth, err := authority.NewHTTPClient(cfg.Authority.URL,
		authority.WithAPIKey(cfg.Authority.APIKey),
		authority.WithTimeout(cfg.Authority.Timeout),
	)
	if err != nil {
		return nil, err
	}
	return engine.NewLiveStrategy(auth, engineOptions(cfg),
		engine.WithLogger(log),
		engine.WithMetrics(m),
	), nil
}

func engineOptions(cfg config.Config) engine.Options {
	return engine.Options{
		InitialDelay:     cfg.MFA.InitialDelay,
		PollInterval:     cfg.MFA.PollInterval,
		RetryBackoff:     cfg.MFA.RetryBackoff,
		Timeout:          cfg.MFA.Timeout,
		DemoStepInterval: cfg.MFA.DemoStepInterval,
		CountryCode:      cfg.MFA.CountryCode,
		Policy:           engine.Policy{AmbiguousStatusCodes: cfg.MFA.AmbiguousStatusCodes},
	}
}

func buildStore(client *redis.Client) store.Store {
	if client == nil {
		return store.NewInMemoryStore()
	}
	return store.NewRedisStore(client.Client)
}

// buildLimiter shares budgets through Redis when available and keeps an
// in-memory fallback for outages.
func buildLimiter(cfg config.Config, client *redis.Client, log *slog.Logger) *ratelimit.Service {
	limits := map[rlmodels.Scope]rlmodels.Limit{}
	if !cfg.RateLimit.Disabled {
		limits[rlmodels.ScopeMobile] = rlmodels.Limit{Requests: cfg.RateLimit.StartsPerMobile, Window: cfg.RateLimit.Window}
		limits[rlmodels.ScopeIP] = rlmodels.Limit{Requests: cfg.RateLimit.StartsPerIP, Window: cfg.RateLimit.Window}
	}

	fallback := bucket.NewInMemoryBucketStore()
	var primary ratelimit.BucketStore = fallback
	if client != nil {
		primary = bucket.NewRedisBucketStore(client.Client)
	}
	return ratelimit.New(primary, limits,
		ratelimit.WithFallback(fallback),
		ratelimit.WithBreakerThresholds(cfg.RateLimit.FailureThreshold, cfg.RateLimit.RecoveryThreshold),
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(rlmetrics.New()),
	)
}
