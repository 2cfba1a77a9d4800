package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hookforms/backend/internal/auth"
	"hookforms/backend/internal/config"
	"hookforms/backend/internal/health"
	"hookforms/backend/internal/logger"
	"hookforms/backend/internal/mailer"
	"hookforms/backend/internal/monitoring"
	"hookforms/backend/internal/notify"
	"hookforms/backend/internal/security"
	"hookforms/backend/internal/service"
	"hookforms/backend/internal/storage"
	"hookforms/backend/internal/storage/memory"
	"hookforms/backend/internal/storage/postgres"
	"hookforms/backend/internal/storage/redis"
	httptransport "hookforms/backend/internal/transport/http"
	"hookforms/backend/internal/turnstile"
	"hookforms/backend/internal/websocket"
)

// main 启动 webhook 接收与管理 API 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	gin.SetMode(cfg.Server.Mode)

	log, err := logger.New(cfg.Log, cfg.AppName)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting hookforms server",
		zap.String("version", httptransport.APIVersion),
		zap.String("log_level", cfg.Log.Level),
		zap.String("database_type", cfg.Database.Type),
	)

	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	counter, closeCounter := openCounter(cfg, log)
	defer closeCounter()

	metrics := monitoring.NewMetrics()

	// 健康检查与告警
	checker := monitoring.NewHealthChecker(httptransport.APIVersion, log)
	checker.AddCheck("database", monitoring.PingFunc(store.Health))
	checker.AddCheck("redis", counter)
	probes := health.NewProbes(map[string]monitoring.Pinger{
		"database": monitoring.PingFunc(store.Health),
		"redis":    counter,
	}, log)

	alertManager := monitoring.NewAlertManager(log)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	alertManager.AddRule(monitoring.HighMemoryUsageRule(512.0))
	alertManager.AddRule(monitoring.DependencyRule("database", monitoring.PingFunc(store.Health)))
	alertManager.AddRule(monitoring.DependencyRule("redis", counter))

	// 出站通知
	urlGuard := security.NewGuard()
	providers := mailer.NewResolver(store, cfg.Gmail, cfg.Dispatch.ProviderTimeout, log)
	dispatcher := notify.NewDispatcher(
		urlGuard.NewClient(cfg.Dispatch.ChannelTimeout),
		counter,
		providers,
		metrics,
		cfg.Dispatch,
		log,
	)
	if providers.LegacyAvailable() {
		log.Info("legacy gmail transport available", zap.String("sender", cfg.Gmail.SenderEmail))
	}

	wsHub := websocket.NewHub(cfg.Security.AllowedOrigins, metrics, log)

	inboxService := service.NewInboxService(store, urlGuard, log)
	receiveService := service.NewReceiveService(service.ReceiveDependencies{
		Inboxes:     store,
		Channels:    store,
		Events:      store,
		Verifier:    turnstile.NewVerifier(cfg.Turnstile, log),
		Notifier:    dispatcher,
		Providers:   providers,
		Broadcaster: wsHub,
		Metrics:     metrics,
		Timeout:     cfg.Dispatch.Timeout,
		Logger:      log,
	})
	retention := service.NewRetentionService(store, cfg.Retention.EventDays, metrics, log)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:          cfg,
		ReceiveService:  receiveService,
		InboxService:    inboxService,
		ChannelService:  service.NewChannelService(store, store, urlGuard, log),
		ProviderService: service.NewProviderService(store, store, providers, log),
		APIKeyService:   service.NewAPIKeyService(store, log),
		Guard:           auth.NewGuard(store, counter, cfg.Auth, log),
		Counter:         counter,
		Stream:          wsHub,
		HealthChecker:   checker,
		Probes:          probes,
		Metrics:         metrics,
		Logger:          log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	if cfg.Retention.EventDays > 0 {
		group.Go(func() error {
			retention.Run(groupCtx, cfg.Retention.Interval)
			return nil
		})
	}

	group.Go(func() error {
		log.Info("starting monitoring services")
		go checker.StartPeriodicHealthCheck(groupCtx, 30*time.Second)
		alertManager.StartMonitoring(groupCtx, time.Minute)
		return nil
	})

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

// openStore 按配置选择存储，未配置数据库时使用内存存储（仅用于开发）
func openStore(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	switch cfg.Database.Type {
	case "", "memory":
		log.Warn("using memory storage, data will be lost on restart")
		return memory.NewStore(), nil
	default:
		store, err := postgres.Open(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Database.Type, err)
		}
		log.Info("database storage initialized", zap.String("type", cfg.Database.Type))
		return store, nil
	}
}

// openCounter 未配置 Redis 地址时使用进程内计数，只适合单实例部署
func openCounter(cfg *config.Config, log *zap.Logger) (storage.CounterStore, func()) {
	if cfg.Redis.Address == "" {
		log.Warn("redis address not set, using in-process counter store")
		return memory.NewCounter(), func() {}
	}

	client := redis.New(cfg.Redis, log)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		log.Warn("redis unreachable at startup, rate limiting will fail closed", zap.Error(err))
	} else {
		log.Info("redis connected", zap.String("address", cfg.Redis.Address))
	}
	return client, func() { _ = client.Close() }
}
