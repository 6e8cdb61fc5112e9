package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "course_market/internal/domain/catalog"
	_ "course_market/internal/domain/ledger"
	_ "course_market/internal/domain/order"
	_ "course_market/internal/domain/payment"
	_ "course_market/internal/domain/promotion"
	_ "course_market/internal/domain/settings"
	_ "course_market/internal/domain/withdrawal"

	orderservice "course_market/internal/domain/order/service"
	"course_market/internal/pkg/common"
	"course_market/internal/pkg/config"
	"course_market/internal/pkg/exchange"
	"course_market/internal/pkg/middleware"
	"course_market/internal/pkg/notify"
	"course_market/internal/pkg/push"
	"course_market/internal/pkg/registry"
	"course_market/internal/pkg/scheduler"
	"course_market/internal/pkg/worker"
	"course_market/pkg/database"
	"course_market/pkg/logger"
	"course_market/pkg/metrics"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	warning, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := config.GlobalConfig

	if err := logger.Init(cfg.App.Env, cfg.Log.Level); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	zlog := logger.Log
	if warning != nil {
		zlog.Warn("Config file not loaded", zap.Error(warning))
	}

	db, err := database.InitDatabase(cfg.Database, zlog)
	if err != nil {
		zlog.Fatal("Failed to initialize database", zap.Error(err))
	}
	rdb, err := database.InitRedis(cfg.Redis)
	if err != nil {
		zlog.Fatal("Failed to initialize redis", zap.Error(err))
	}
	defer rdb.Close()

	collector := metrics.GetGlobalCollector()

	// 通知：事务提交后进入 worker 池异步投递
	pool := worker.NewWorkerPool(zlog, 4, 256)
	pool.Start()
	notifier := notify.NewDispatcher(pool, zlog, collector, buildSinks(cfg, zlog)...)

	rates := exchange.NewService(db, exchange.NewRedisCache(rdb),
		exchange.NewHTTPSource(cfg.Exchange.SourceURL, cfg.Exchange.Timeout),
		cfg.Finance.BaseCurrency, cfg.Exchange.CacheTTL, zlog, collector)

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	r := gin.New()
	limiter := middleware.NewIPRateLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst)
	r.Use(
		middleware.TraceMiddleware(),
		middleware.RecoveryMiddleware(zlog),
		middleware.LoggerMiddleware(zlog),
		middleware.MetricsMiddleware(collector),
		cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:          12 * time.Hour,
		}),
		middleware.RateLimitMiddleware(limiter),
	)
	r.GET("/health", common.Health(2*time.Second, map[string]common.Check{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	moduleCtx := &registry.ModuleContext{
		DB:         db,
		Redis:      rdb,
		Router:     r,
		Config:     &cfg,
		Logger:     zlog,
		Transactor: database.NewTransactor(db),
		Notifier:   notifier,
		Metrics:    collector,
	}
	registry.Provide[exchange.Rates](moduleCtx, rates)
	if err := registry.InitModules(moduleCtx); err != nil {
		zlog.Fatal("Failed to initialize modules", zap.Error(err))
	}

	orders, err := registry.Lookup[orderservice.OrderService](moduleCtx)
	if err != nil {
		zlog.Fatal("Order service missing", zap.Error(err))
	}
	jobs := scheduler.New(zlog)
	jobs.Add(scheduler.Job{
		Name:     "cancel-stale-orders",
		Interval: cfg.Order.StaleScanInterval,
		Run: func(ctx context.Context) error {
			n, err := orders.CancelStaleOrders(ctx, cfg.Order.StaleAfter)
			if n > 0 {
				zlog.Info("Stale orders cancelled", zap.Int("count", n))
			}
			return err
		},
	})
	jobs.Add(scheduler.Job{
		Name:     "rate-limiter-cleanup",
		Interval: 10 * time.Minute,
		Run: func(context.Context) error {
			limiter.Cleanup(30 * time.Minute)
			return nil
		},
	})
	jobs.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	zlog.Info("Server started", zap.String("port", cfg.Server.Port), zap.String("env", cfg.App.Env))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("Server forced to shutdown", zap.Error(err))
	}
	jobs.Stop()
	pool.Stop()
	zlog.Info("Server exited")
}

// buildSinks 按配置启用 Kafka 与移动推送，初始化失败只降级不退出
func buildSinks(cfg config.Config, zlog *zap.Logger) []notify.Sink {
	var sinks []notify.Sink
	if cfg.Kafka.Enabled {
		producer, err := notify.InitProducer(cfg.Kafka, zlog)
		if err != nil {
			zlog.Error("Kafka sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, notify.NewKafkaSink(producer, cfg.Kafka.Topic, zlog))
		}
	}
	if cfg.Push.Enabled {
		svc, err := push.NewAliyunPushService(cfg.Push)
		if err != nil {
			zlog.Error("Push sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, notify.NewPushSink(svc))
		}
	}
	return sinks
}
