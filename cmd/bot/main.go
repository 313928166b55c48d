package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kfirel/hiker/internal/admin"
	"github.com/kfirel/hiker/internal/bot"
	"github.com/kfirel/hiker/internal/dispatch"
	"github.com/kfirel/hiker/internal/gazetteer"
	"github.com/kfirel/hiker/internal/llm"
	"github.com/kfirel/hiker/internal/matching"
	"github.com/kfirel/hiker/internal/notify"
	"github.com/kfirel/hiker/internal/pipeline"
	"github.com/kfirel/hiker/internal/rides"
	"github.com/kfirel/hiker/internal/routing"
	"github.com/kfirel/hiker/internal/store"
	"github.com/kfirel/hiker/internal/webhook"
	"github.com/kfirel/hiker/pkg/common"
	"github.com/kfirel/hiker/pkg/config"
	"github.com/kfirel/hiker/pkg/database"
	"github.com/kfirel/hiker/pkg/errors"
	"github.com/kfirel/hiker/pkg/eventbus"
	"github.com/kfirel/hiker/pkg/logger"
	"github.com/kfirel/hiker/pkg/middleware"
	"github.com/kfirel/hiker/pkg/ratelimit"
	redisclient "github.com/kfirel/hiker/pkg/redis"
	"github.com/kfirel/hiker/pkg/tracing"
	"go.uber.org/zap"
)

const (
	serviceName = "hiker-bot"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting hiker bot",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
	)

	// Error tracking
	sentryConfig := errors.DefaultSentryConfig()
	sentryConfig.ServerName = serviceName
	sentryConfig.Release = version
	if err := errors.InitSentry(sentryConfig); err != nil {
		logger.Warn("Failed to initialize Sentry, continuing without error tracking", zap.Error(err))
	} else {
		defer errors.Flush(2 * time.Second)
		logger.Info("Sentry error tracking initialized")
	}

	// Distributed tracing
	if os.Getenv("OTEL_ENABLED") == "true" {
		shutdown, err := tracing.InitTracer(tracing.Config{
			ServiceName:    serviceName,
			ServiceVersion: version,
			Environment:    cfg.Server.Environment,
			Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Enabled:        true,
		})
		if err != nil {
			logger.Warn("Failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					logger.Warn("Failed to shutdown tracer", zap.Error(err))
				}
			}()
			logger.Info("OpenTelemetry tracing initialized")
		}
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Document store backend
	var backend rides.UserStore
	switch cfg.Store.Backend {
	case "firestore":
		fs, err := store.NewFirestore(rootCtx, cfg.Store.Project)
		if err != nil {
			logger.Fatal("Failed to connect to Firestore", zap.Error(err))
		}
		defer fs.Close()
		backend = fs
	case "postgres":
		pool, err := database.NewPostgresPool(&cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		pg, err := store.NewPostgres(rootCtx, pool)
		if err != nil {
			logger.Fatal("Failed to prepare postgres store", zap.Error(err))
		}
		backend = pg
	case "memory":
		logger.Warn("Using in-memory store; all data is lost on restart")
		backend = store.NewMemory()
	default:
		logger.Fatal("Unknown store backend", zap.String("backend", cfg.Store.Backend))
	}
	userStore := rides.NewStore(backend, cfg.Chat.MaxHistory)
	logger.Info("Document store ready", zap.String("backend", cfg.Store.Backend))

	readyChecks := map[string]func() error{}

	// Notified-matches set and rate limiter: Redis when available.
	var notified notify.NotifiedSet
	var limiter *ratelimit.Limiter
	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("Failed to close redis client", zap.Error(err))
			}
		}()
		notified = notify.NewRedisNotifiedSet(redisClient)
		logger.Info("Redis notified-set enabled", zap.String("addr", cfg.Redis.RedisAddr()))
		readyChecks["redis"] = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Ping(ctx)
		}

		if cfg.Rate.Enabled {
			limiter = ratelimit.NewLimiter(redisClient.Cmdable(), ratelimit.Config{
				PerMinute: cfg.Rate.PerMinute,
				Burst:     cfg.Rate.Burst,
			})
			logger.Info("Inbound rate limiting enabled",
				zap.Int("per_minute", cfg.Rate.PerMinute), zap.Int("burst", cfg.Rate.Burst))
		}
	} else {
		logger.Warn("Redis disabled; match dedupe is per-process only")
		notified = notify.NewMemoryNotifiedSet()
	}

	// Optional event publishing
	var bus *eventbus.Bus
	if cfg.EventBus.Enabled {
		bus, err = eventbus.New(eventbus.Config{
			URL:        cfg.EventBus.URL,
			Name:       serviceName,
			StreamName: cfg.EventBus.Stream,
		})
		if err != nil {
			logger.Warn("Failed to connect to event bus, continuing without it", zap.Error(err))
			bus = nil
		} else {
			defer bus.Close()
			logger.Info("Event bus connected", zap.String("stream", cfg.EventBus.Stream))
		}
	}

	gaz, err := gazetteer.New()
	if err != nil {
		logger.Fatal("Failed to load settlement gazetteer", zap.Error(err))
	}
	logger.Info("Gazetteer loaded", zap.Int("settlements", gaz.Len()))

	// Outbound chat sink
	var sink notify.Sink
	switch cfg.Chat.Sink {
	case "whatsapp":
		sink = notify.NewWhatsAppSink(&cfg.Chat)
	case "twilio":
		sink = notify.NewTwilioSink(&cfg.Twilio)
	case "log":
		logger.Warn("Chat sink set to log; no messages will be delivered")
		sink = notify.LogSink{}
	default:
		logger.Fatal("Unknown chat sink", zap.String("sink", cfg.Chat.Sink))
	}

	engine := matching.NewEngine(gaz, userStore)
	emitter := notify.NewEmitter(sink, notified, userStore)
	pipe := pipeline.New(gaz, routing.NewClient(&cfg.Routing), userStore, engine, emitter, bus)
	dispatcher := dispatch.New(userStore, pipe, gaz)
	adminSvc := admin.NewService(userStore)
	chatBot := bot.New(userStore, llm.NewClient(&cfg.LLM), dispatcher, adminSvc, sink, cfg.Admin, cfg.LLM.ContextMessages)

	if cfg.Sweep.Enabled {
		go pipeline.NewSweeper(userStore, cfg.Sweep.Interval).Run(rootCtx)
		logger.Info("Stale-request sweep enabled", zap.Duration("interval", cfg.Sweep.Interval))
	}

	// HTTP surface
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.CorrelationID(),
		middleware.RequestLogger(serviceName),
		middleware.RequestTimeout(time.Duration(cfg.Server.WriteTimeout)*time.Second),
		middleware.Metrics(serviceName),
		middleware.SentryMiddleware(),
		middleware.RecoveryWithSentry(),
		middleware.CORS(cfg.Server.CORSOrigins),
	)

	webhookHandler := webhook.NewHandler(chatBot, cfg.Chat)
	webhookHandler.SetLimiter(limiter, sink)
	webhookHandler.RegisterRoutes(router)

	adminGroup := router.Group("/admin", middleware.AdminAuth(cfg.Admin.Token))
	admin.NewHandler(adminSvc, gaz).RegisterRoutes(adminGroup)

	readyChecks["store"] = func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return userStore.Ping(ctx)
	}
	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/health/ready", common.ReadinessProbe(serviceName, version, readyChecks))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": serviceName, "version": version})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
