package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptofx/api_gateway/internal/admission"
	"cryptofx/api_gateway/internal/handlers"
	"cryptofx/api_gateway/internal/identity"
	"cryptofx/api_gateway/internal/keystore"
	"cryptofx/api_gateway/internal/marketdata"
	"cryptofx/api_gateway/internal/middleware"
	"cryptofx/api_gateway/internal/plans"
	"cryptofx/api_gateway/internal/ratelimit"
	"cryptofx/api_gateway/internal/usage"
	"cryptofx/pkg/cache"
	"cryptofx/pkg/clients"
	"cryptofx/pkg/config"
	"cryptofx/pkg/database"
	"cryptofx/pkg/kafka"
	"cryptofx/pkg/logging"
	pkgmw "cryptofx/pkg/middleware"
	"cryptofx/pkg/monitoring"
	pkgredis "cryptofx/pkg/redis"
	"cryptofx/pkg/server"
	"cryptofx/pkg/version"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
)

const serviceName = "api_gateway"

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService(serviceName)

	// Load environment variables
	config.LoadEnv(logger)

	logger.WithFields(logging.Fields{
		"version": version.Version,
		"commit":  version.GitCommit,
	}).Info("Starting crypto/forex API gateway")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker(serviceName, version.Version)
	metricsCollector := monitoring.NewMetricsCollector(serviceName, version.Version, version.GitCommit)
	breakerMetrics := clients.NewBreakerMetrics(metricsCollector.Registry())

	// Plans
	registry, err := plans.NewRegistry(plans.ApplyEnvOverrides(plans.DefaultPlans()))
	if err != nil {
		logger.WithError(err).Fatal("Invalid plan table")
	}

	// Key store
	dbQueries, dbDuration := metricsCollector.CreateDatabaseMetrics()
	keys, db, err := openKeyStore(ctx, logger, &keystore.Metrics{Queries: dbQueries, Duration: dbDuration})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize key store")
	}
	if db != nil {
		defer db.Close()
		healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	}

	// Shared cache tier
	redisClient := openRedis(ctx, logger)
	var shared cache.SharedStore
	if redisClient != nil {
		// Closed by the tiered cache.
		shared = cache.NewRedisStore(redisClient, "cryptofx:")
	}

	breaker := clients.DefaultCircuitBreakerConfig()
	breaker.Name = "cache-shared"
	breaker.Logger = logger
	breaker.OnStateChange = breakerMetrics.Callback()

	tiered := cache.New(ctx, cache.Options{
		LocalCapacity: config.GetEnvInt("MEMORY_CACHE_SIZE", 1000),
		DefaultTTL:    config.GetEnvDuration("CACHE_TTL", 5*time.Minute),
		SharedTimeout: config.GetEnvDuration("CACHE_SHARED_TIMEOUT", 500*time.Millisecond),
		ProbeInterval: config.GetEnvDuration("CACHE_PROBE_INTERVAL", 15*time.Second),
		Breaker:       breaker,
		Logger:        logger,
		Metrics: &cache.Metrics{
			Hits:         metricsCollector.NewCounter("cache_hits_total", "Cache hits by tier", []string{"tier"}),
			Misses:       metricsCollector.NewCounter("cache_misses_total", "Cache misses", []string{}).WithLabelValues(),
			SharedErrors: metricsCollector.NewCounter("cache_shared_errors_total", "Shared cache tier errors", []string{"op"}),
			Reachable:    metricsCollector.NewGauge("cache_shared_reachable", "Shared cache tier reachability", []string{}).WithLabelValues(),
		},
	}, shared)
	defer func() { _ = tiered.Close() }()
	healthChecker.AddCheck("cache", handlers.CacheHealthCheck(tiered))

	// Usage events
	var sink ratelimit.UsageSink
	if brokers := config.GetEnvList("KAFKA_BROKERS", nil); len(brokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:  brokers,
			ClientID: serviceName,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer func() { _ = producer.Close() }()
		healthChecker.AddCheck("kafka", monitoring.PingHealthCheck("kafka", producer))
		sink = usage.NewKafkaSink(producer, config.GetEnv("USAGE_TOPIC", usage.DefaultTopic), logger)
	}

	// Rate limiting
	limiterMetrics := &ratelimit.Metrics{
		Decisions: metricsCollector.NewCounter("ratelimit_decisions_total", "Rate limit window decisions", []string{"window", "outcome"}),
		Evictions: metricsCollector.NewCounter("ratelimit_evictions_total", "Counter entries evicted by the sweeper", []string{}).WithLabelValues(),
	}
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Store:   ratelimit.NewCounterStore(config.GetEnvInt("RATE_LIMIT_SHARDS", ratelimit.DefaultShards)),
		Logger:  logger,
		Sink:    sink,
		Metrics: limiterMetrics,
	})
	sweeper := ratelimit.NewSweeper(limiter.Store(), ratelimit.SweeperConfig{
		Logger:    logger,
		Interval:  config.GetEnvDuration("RATE_LIMIT_SWEEP_INTERVAL", time.Hour),
		Retention: config.GetEnvDuration("RATE_LIMIT_SWEEP_RETENTION", 0),
		Metrics:   limiterMetrics,
	})
	sweeper.Start()
	defer sweeper.Stop()

	resetBus := ratelimit.NewResetBus(limiter, redisClient, logger)
	go func() {
		if err := resetBus.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Warn("Rate limit reset subscription stopped")
		}
	}()

	// Admission
	resolver := identity.NewResolver(keys, registry, logger)
	pipeline := admission.NewPipeline(resolver, limiter, logger, &admission.Metrics{
		Decisions: metricsCollector.NewCounter("admission_decisions_total", "Admission decisions", []string{"outcome", "plan"}),
	})

	// Market data
	requests, duration := metricsCollector.CreateUpstreamMetrics()
	upstreamMetrics := &marketdata.Metrics{Requests: requests, Duration: duration}
	timeout := config.GetEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	httpClient := clients.NewHTTPClient(timeout, clients.TransportConfigFromEnv())
	executor := clients.DefaultHTTPExecutorConfig()
	executor.MaxRetries = config.GetEnvInt("UPSTREAM_RETRIES", executor.MaxRetries)

	coingeckoURL := config.GetEnv("COINGECKO_BASE_URL", marketdata.DefaultCoinGeckoURL)
	ecbURL := config.GetEnv("ECB_BASE_URL", marketdata.DefaultECBURL)
	crypto := marketdata.NewCoinGecko(marketdata.Config{
		BaseURL:  coingeckoURL,
		Cache:    tiered,
		Logger:   logger,
		Metrics:  upstreamMetrics,
		Client:   httpClient,
		Executor: upstreamExecutor(executor, "coingecko", breakerMetrics, logger),
	})
	forex := marketdata.NewECB(marketdata.Config{
		BaseURL:  ecbURL,
		Cache:    tiered,
		Logger:   logger,
		Metrics:  upstreamMetrics,
		Client:   httpClient,
		Executor: upstreamExecutor(executor, "ecb", breakerMetrics, logger),
	})
	healthChecker.AddCheck("coingecko", monitoring.HTTPServiceHealthCheck("coingecko", coingeckoURL+"/ping", httpClient))
	healthChecker.AddCheck("ecb", monitoring.HTTPServiceHealthCheck("ecb", ecbURL+"/eurofxref-daily.xml", httpClient))

	router := setupRouter(routerDeps{
		logger:   logger,
		health:   healthChecker,
		metrics:  metricsCollector,
		pipeline: pipeline,
		registry: registry,
		market:   handlers.NewMarketHandlers(crypto, forex, registry, logger),
		admin:    handlers.NewAdminHandlers(limiter, resetBus, keys, registry, logger),
		token:    config.GetEnv("ADMIN_TOKEN", ""),
	})

	if err := server.Start(ctx, server.DefaultConfig(serviceName, "18090"), router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}

type routerDeps struct {
	logger   logging.Logger
	health   *monitoring.HealthChecker
	metrics  *monitoring.MetricsCollector
	pipeline middleware.Evaluator
	registry *plans.Registry
	market   *handlers.MarketHandlers
	admin    *handlers.AdminHandlers
	// token guards /admin; empty disables the admin routes.
	token string
}

func setupRouter(d routerDeps) *gin.Engine {
	router := server.SetupServiceRouter(d.logger, serviceName, d.health, d.metrics)

	api := router.Group("/api/v1")
	api.Use(middleware.Admission(d.pipeline))
	d.market.Register(api)
	api.GET("/plans", handlers.PlansHandler(d.registry))

	if d.token != "" {
		admin := router.Group("/admin")
		admin.Use(pkgmw.AdminTokenMiddleware(d.token))
		d.admin.Register(admin)
	} else {
		d.logger.Warn("ADMIN_TOKEN not set; admin routes disabled")
	}
	return router
}

// openKeyStore returns the Postgres store when DATABASE_URL is set and a
// memory store otherwise. The returned db is nil for the memory store.
// metrics only apply to the Postgres store and may be nil.
func openKeyStore(ctx context.Context, logger logging.Logger, metrics *keystore.Metrics) (keystore.KeyStore, database.PostgresConn, error) {
	seed := config.GetEnvBool("SEED_DEMO_KEYS", true)

	dbCfg := database.ConfigFromEnv()
	if dbCfg.URL == "" {
		logger.Info("DATABASE_URL not set; using in-memory key store")
		if !seed {
			return keystore.NewMemoryStore(), nil, nil
		}
		return keystore.NewMemoryStore(keystore.DemoCredentials()...), nil, nil
	}

	db, err := database.Connect(ctx, dbCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	store := keystore.NewPostgresStore(db, logger, metrics)
	if err := store.Migrate(ctx, seed); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

// openRedis returns nil when the shared tier is disabled or unconfigured.
// A server that is down at startup still yields a client; the tiered cache
// probes it until it answers.
func openRedis(ctx context.Context, logger logging.Logger) goredis.UniversalClient {
	if !config.GetEnvBool("ENABLE_REDIS", true) {
		return nil
	}
	if config.GetEnv("REDIS_URL", "") == "" && len(config.GetEnvList("REDIS_ADDRS", nil)) == 0 {
		logger.Info("Redis not configured; cache runs local-only")
		return nil
	}
	cfg, err := pkgredis.ConfigFromEnv()
	if err != nil {
		logger.WithError(err).Warn("Invalid Redis configuration; cache runs local-only")
		return nil
	}
	client, err := pkgredis.Dial(cfg)
	if err != nil {
		logger.WithError(err).Warn("Invalid Redis configuration; cache runs local-only")
		return nil
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("Redis unreachable at startup; cache starts local-only")
	}
	return client
}

func upstreamExecutor(base clients.HTTPExecutorConfig, name string, m *clients.BreakerMetrics, logger logging.Logger) clients.HTTPExecutorConfig {
	breaker := clients.DefaultCircuitBreakerConfig()
	breaker.Name = name
	breaker.Logger = logger
	breaker.OnStateChange = m.Callback()
	base.Breaker = &breaker
	return base
}
