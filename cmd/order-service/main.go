// cmd/order-service/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"shopflow/internal/pkg/config"
	"shopflow/internal/pkg/logger"
	"shopflow/internal/pkg/redis"
	"shopflow/internal/pkg/tracing"
	dashboardapp "shopflow/internal/service/dashboard/application"
	dashboardinfra "shopflow/internal/service/dashboard/infrastructure"
	dashboardhttp "shopflow/internal/service/dashboard/interfaces"
	"shopflow/internal/service/fulfillment/application"
	"shopflow/internal/service/fulfillment/domain"
	"shopflow/internal/service/fulfillment/infrastructure"
	"shopflow/internal/service/fulfillment/interfaces"
)

const serviceName = "order-service"

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Init(serviceName)

	// 1. 初始化核心技术组件
	tp, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		log.Fatalf("failed to initialize tracer provider: %v", err)
	}
	defer tp.Shutdown(context.Background())

	tracer := otel.Tracer(serviceName)

	db, err := gorm.Open(mysql.Open(cfg.Infra.MySQL.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("failed to connect to mysql: %v", err)
	}

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
	if err != nil {
		log.Fatalf("failed to initialize redis client: %v", err)
	}
	defer redisClient.Close()

	// 2. 组装履约派发链路：事务管理器 -> Kafka 任务队列 -> 派发器
	txManager := infrastructure.NewGormTxManager(db)
	jobQueue := infrastructure.NewKafkaJobQueue(cfg.KafkaBrokers(), cfg.Fulfillment.Topic)
	defer jobQueue.Close()

	policy := retryPolicyFromConfig(cfg)
	dispatcher := application.NewDispatcher(txManager, jobQueue, policy, tracer)

	// 3. 组装只读看板链路
	dashboardRepo := dashboardinfra.NewGormDashboardRepository(db)
	dashboardSvc := dashboardapp.NewDashboardService(dashboardRepo, redisClient, tracer, policy.MaxTotalBackoff())

	// 4. 注册 HTTP 路由并启动服务
	mux := http.NewServeMux()
	interfaces.NewOrderProcessingHandler(dispatcher).RegisterRoutes(mux)
	dashboardhttp.NewDashboardHandler(dashboardSvc).RegisterRoutes(mux)

	server := &http.Server{Addr: ":" + strconv.Itoa(cfg.App.HTTPPort), Handler: mux}
	go func() {
		logger.Ctx(context.Background()).Info().Int("port", cfg.App.HTTPPort).Msg("✅ Order service listening.")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("could not listen on %s: %v", server.Addr, err)
		}
	}()

	// 5. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Ctx(context.Background()).Info().Msg("🛑 Shutting down order service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down http server: %v", err)
	}
	if err := tp.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down tracer provider: %v", err)
	}
	logger.Ctx(context.Background()).Info().Msg("✅ Order service gracefully shut down.")
}

// retryPolicyFromConfig 将配置映射为领域层的重试策略，非法值回退到默认策略
func retryPolicyFromConfig(cfg *config.Config) domain.RetryPolicy {
	policy := domain.DefaultRetryPolicy()
	if cfg.Fulfillment.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Fulfillment.MaxAttempts
	}
	if len(cfg.Fulfillment.BackoffSeconds) > 0 {
		backoff := make([]time.Duration, len(cfg.Fulfillment.BackoffSeconds))
		for i, s := range cfg.Fulfillment.BackoffSeconds {
			backoff[i] = time.Duration(s) * time.Second
		}
		policy.Backoff = backoff
	}
	if cfg.Fulfillment.DispatchDelaySeconds > 0 {
		policy.DispatchDelay = time.Duration(cfg.Fulfillment.DispatchDelaySeconds) * time.Second
	}
	return policy
}
