// cmd/delay-scheduler/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"shopflow/internal/pkg/config"
	"shopflow/internal/pkg/logger"
	"shopflow/internal/pkg/mq"
	"shopflow/internal/pkg/tracing"
)

const (
	serviceName  = "delay-scheduler"
	pollInterval = 1 * time.Second
)

var tracer = otel.Tracer(serviceName)

// Scheduler 负责单个延迟等级的轮询投递。
// 延迟主题内消息按写入时间有序，队头未到期则后续消息必然未到期。
type Scheduler struct {
	level       mq.DelayLevel
	kafkaReader *kafka.Reader
	// 为每个真实主题维护一个独立的 writer
	kafkaWriters map[string]*kafka.Writer
	writerLock   sync.Mutex
}

// NewScheduler 创建一个针对特定延迟等级的调度器
func NewScheduler(brokers []string, level mq.DelayLevel) *Scheduler {
	reader := mq.NewKafkaReader(brokers, level.Topic, serviceName+"-group-"+level.Topic)
	return &Scheduler{
		level:        level,
		kafkaReader:  reader,
		kafkaWriters: make(map[string]*kafka.Writer),
	}
}

// StartPolling 启动定时轮询器
func (s *Scheduler) StartPolling(ctx context.Context, brokers []string, interval time.Duration) {
	logger.Ctx(ctx).Info().
		Str("topic", s.level.Topic).
		Dur("delay", s.level.Delay).
		Msg("✅ Polling scheduler started.")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer s.kafkaReader.Close()
	defer s.closeWriters()

	for {
		select {
		case <-ticker.C:
			s.checkAndPublish(ctx, brokers)
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Str("topic", s.level.Topic).Msg("🛑 Shutting down polling scheduler.")
			return
		}
	}
}

// checkAndPublish 是轮询的核心逻辑：逐条取队头消息，到期则转投真实主题
func (s *Scheduler) checkAndPublish(parentCtx context.Context, brokers []string) {
	for {
		// 使用 FetchMessage 而不是 ReadMessage，以便手动控制 offset 提交
		fetchCtx, cancel := context.WithTimeout(parentCtx, 500*time.Millisecond)
		msg, err := s.kafkaReader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			// 没有消息可读或上下文取消，等待下一次 tick
			return
		}

		spanCtx := mq.ExtractTraceContext(parentCtx, msg.Headers)
		now := time.Now().UTC()
		ctx, span := tracer.Start(spanCtx, "scheduler.CheckAndPublish", trace.WithAttributes(
			attribute.String("delay.topic", s.level.Topic),
			attribute.String("msg.time", msg.Time.Format(time.DateTime)),
		))

		// 理论投递时间 = 消息进入延迟主题的时间 + 等级延迟
		deliveryTime := msg.Time.Add(s.level.Delay)
		if now.Before(deliveryTime) {
			// 队头未到期，无需再检查后续消息
			span.AddEvent("HeadMessageNotDue")
			span.End()
			return
		}

		realTopic := mq.GetHeader(msg.Headers, mq.HeaderRealTopic)
		if realTopic == "" {
			logger.Ctx(ctx).Error().Str("topic", s.level.Topic).Msg("real-topic header missing, skipping message")
			// 缺头的消息也要提交，否则会被无限重复消费
			if err := s.kafkaReader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit skipped message")
			}
			span.End()
			continue
		}

		if err := s.publish(ctx, brokers, realTopic, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("real_topic", realTopic).Msg("Failed to publish to real topic")
			// 投递失败不提交 offset，等待下次轮询重试
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to publish to real topic")
			span.End()
			return
		}

		if err := s.kafkaReader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("topic", s.level.Topic).Msg("Failed to commit after publish")
			span.RecordError(err)
			span.End()
			return
		}

		logger.Ctx(ctx).Info().
			Str("delay_topic", s.level.Topic).
			Str("real_topic", realTopic).
			Msg("Delayed message published and committed.")
		span.AddEvent("MessagePublishedAndCommitted", trace.WithAttributes(attribute.String("real.topic", realTopic)))
		span.End()
	}
}

// publish 把到期消息转投到真实业务主题，保留 key 和尝试序号等业务头
func (s *Scheduler) publish(ctx context.Context, brokers []string, realTopic string, msg kafka.Message) error {
	s.writerLock.Lock()
	writer, exists := s.kafkaWriters[realTopic]
	if !exists {
		writer = mq.NewKafkaWriter(brokers, realTopic)
		s.kafkaWriters[realTopic] = writer
	}
	s.writerLock.Unlock()

	headers := make([]kafka.Header, 0, len(msg.Headers))
	for _, h := range msg.Headers {
		if h.Key == mq.HeaderRealTopic {
			continue
		}
		headers = append(headers, h)
	}

	publishMsg := kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
	mq.InjectTraceContext(ctx, &publishMsg.Headers)

	return writer.WriteMessages(ctx, publishMsg)
}

func (s *Scheduler) closeWriters() {
	s.writerLock.Lock()
	defer s.writerLock.Unlock()
	for topic, writer := range s.kafkaWriters {
		if err := writer.Close(); err != nil {
			log.Printf("ERROR: Failed to close writer for topic %s: %v", topic, err)
		}
	}
}

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	brokers := cfg.KafkaBrokers()

	var wg sync.WaitGroup
	// 为每个延迟等级启动一个独立的调度器 goroutine
	for _, level := range mq.DelayLevels {
		wg.Add(1)
		scheduler := NewScheduler(brokers, level)
		go func() {
			defer wg.Done()
			scheduler.StartPolling(ctx, brokers, pollInterval)
		}()
	}

	logger.Ctx(ctx).Info().Int("levels", len(mq.DelayLevels)).Msg("✅ All polling schedulers are running.")
	wg.Wait()
	logger.Ctx(context.Background()).Info().Msg("✅ Delay scheduler gracefully shut down.")
}
