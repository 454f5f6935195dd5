// cmd/fulfillment-worker/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"shopflow/internal/pkg/config"
	"shopflow/internal/pkg/logger"
	"shopflow/internal/pkg/mq"
	"shopflow/internal/pkg/tracing"
	"shopflow/internal/service/fulfillment/application"
	"shopflow/internal/service/fulfillment/domain"
	"shopflow/internal/service/fulfillment/infrastructure"
	"shopflow/internal/service/fulfillment/interfaces"
)

const serviceName = "fulfillment-worker"

// main 组装履约消费端：主消费者执行状态机，死信消费者留痕，
// 两者共用一个生命周期，任何一个退出都会触发整体关停。
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Init(serviceName)

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

	policy := retryPolicyFromConfig(cfg)
	txManager := infrastructure.NewGormTxManager(db)
	processor := application.NewProcessor(txManager, policy, tracer)

	// 重试释放时消息会带着退避延迟重新入队
	jobQueue := infrastructure.NewKafkaJobQueue(cfg.KafkaBrokers(), cfg.Fulfillment.Topic)
	defer jobQueue.Close()

	failureHandler := mq.NewFailureHandler(cfg.KafkaBrokers(), cfg.Fulfillment.DLTTopic)
	defer failureHandler.Close()

	reader := mq.NewKafkaReader(cfg.KafkaBrokers(), cfg.Fulfillment.Topic, cfg.Fulfillment.GroupID)
	consumer := interfaces.NewFulfillmentConsumer(reader, processor, jobQueue, policy, failureHandler)

	dltReader := mq.NewKafkaReader(cfg.KafkaBrokers(), cfg.Fulfillment.DLTTopic, cfg.Fulfillment.GroupID+"-dlt")
	dltConsumer := interfaces.NewDltConsumerAdapter(dltReader)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Start(gctx)
	})
	g.Go(func() error {
		return dltConsumer.Start(gctx)
	})

	// 健康检查和指标端口，供探活与 Prometheus 抓取
	metricsMux := http.NewServeMux()
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: ":" + os.Getenv("METRICS_PORT"), Handler: metricsMux}
	if metricsServer.Addr == ":" {
		metricsServer.Addr = ":8082"
	}
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	logger.Ctx(ctx).Info().
		Str("topic", cfg.Fulfillment.Topic).
		Str("group", cfg.Fulfillment.GroupID).
		Msg("✅ Fulfillment worker started.")

	<-gctx.Done()
	logger.Ctx(context.Background()).Info().Msg("🛑 Shutting down fulfillment worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	consumer.Stop(shutdownCtx)
	dltConsumer.Stop(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Printf("worker exited with error: %v", err)
	}
	logger.Ctx(context.Background()).Info().Msg("✅ Fulfillment worker gracefully shut down.")
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
