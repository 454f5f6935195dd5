// internal/service/fulfillment/interfaces/job_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"shopflow/internal/pkg/logger"
	"shopflow/internal/pkg/mq"
	"shopflow/internal/service/fulfillment/application"
	"shopflow/internal/service/fulfillment/domain"
	"shopflow/internal/service/fulfillment/port"
)

// FulfillmentConsumer 是驱动适配器：监听履约主题，驱动状态机执行，
// 并按状态机的裁决执行释放重试（退避后重新入队）或移交死信。
type FulfillmentConsumer struct {
	reader         *kafka.Reader
	processor      *application.Processor
	queue          port.JobQueue
	policy         domain.RetryPolicy
	failureHandler *mq.FailureHandler

	wg      sync.WaitGroup
	stopped bool
}

func NewFulfillmentConsumer(reader *kafka.Reader, processor *application.Processor, queue port.JobQueue, policy domain.RetryPolicy, failureHandler *mq.FailureHandler) *FulfillmentConsumer {
	return &FulfillmentConsumer{
		reader:         reader,
		processor:      processor,
		queue:          queue,
		policy:         policy,
		failureHandler: failureHandler,
	}
}

// Start 开始监听履约主题。这是一个长期运行的方法。
func (c *FulfillmentConsumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("✅ Fulfillment consumer started.")
		for {
			if c.stopped {
				return
			}
			// 使用 FetchMessage 而不是 ReadMessage，以便手动控制 offset 提交
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("🛑 Fulfillment consumer shutting down.")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not read message, retrying")
				time.Sleep(1 * time.Second) // 避免快速失败循环
				continue
			}

			newCtx := mq.ExtractTraceContext(ctx, msg.Headers)
			c.handleMessage(newCtx, msg)

			// 消息已被处理（成功、释放重试或移交死信），提交 offset
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit messages")
			}
		}
	}()
	return nil
}

// Stop 优雅地停止消费者
func (c *FulfillmentConsumer) Stop(ctx context.Context) {
	c.stopped = true
	c.reader.Close()
	c.wg.Wait()
	logger.Ctx(ctx).Info().Msg("✅ Fulfillment consumer stopped.")
}

// handleMessage 解析载荷与尝试序号，按状态机裁决收尾
func (c *FulfillmentConsumer) handleMessage(ctx context.Context, msg kafka.Message) {
	var job port.FulfillmentJob
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		// 载荷损坏无法重试，直接进死信
		c.failureHandler.Handle(ctx, msg, errors.Wrap(err, "unmarshal fulfillment job"))
		return
	}

	attempt := attemptFromHeaders(msg.Headers)

	// 投递上限之外的消息说明任务内的失败路径没有机会执行（如进程崩溃），
	// 走终态失败安全网，然后归档到死信。
	if attempt > c.policy.MaxAttempts {
		cause := errors.Errorf("delivery ceiling exceeded: attempt %d of %d", attempt, c.policy.MaxAttempts)
		c.processor.HandleExhausted(ctx, job, cause)
		c.failureHandler.Handle(ctx, msg, cause)
		return
	}

	result := c.processor.ProcessAttempt(ctx, job, attempt)
	switch {
	case result.Completed:
		// nothing left to do
	case result.ReleaseDelay > 0:
		// 瞬态冲突：按退避延迟放回队列，尝试序号加一
		if err := c.queue.Enqueue(ctx, job, result.ReleaseDelay, attempt+1); err != nil {
			// 放回失败意味着重试链断裂，按终态处理避免订单悬空
			cause := errors.Wrap(err, "failed to release job for retry")
			c.processor.HandleExhausted(ctx, job, cause)
			c.failureHandler.Handle(ctx, msg, cause)
		}
	default:
		// 终态失败已由状态机落库，消息归档到死信留痕
		c.failureHandler.Handle(ctx, msg, result.Err)
	}
}

// attemptFromHeaders 读取 x-attempt 头，缺失或非法时按第 1 次尝试处理
func attemptFromHeaders(headers []kafka.Header) int {
	raw := mq.GetHeader(headers, mq.HeaderAttempt)
	attempt, err := strconv.Atoi(raw)
	if err != nil || attempt < 1 {
		return 1
	}
	return attempt
}
