// internal/service/fulfillment/application/processor.go
package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"shopflow/internal/pkg/logger"
	"shopflow/internal/service/fulfillment/domain"
	"shopflow/internal/service/fulfillment/port"
)

// Processor 是履约状态机：在一个原子工作单元内完成
// 校验 -> 条件扣库 -> 汇总总价 -> 完成订单，并裁决"退避重试"与"终态失败"。
type Processor struct {
	tx     domain.TxManager
	policy domain.RetryPolicy
	tracer trace.Tracer
}

func NewProcessor(tx domain.TxManager, policy domain.RetryPolicy, tracer trace.Tracer) *Processor {
	return &Processor{tx: tx, policy: policy, tracer: tracer}
}

// AttemptResult 是单次尝试的裁决结果。
// ReleaseDelay > 0 表示任务应按该延迟放回队列重试；
// 否则 Err 非空即为终态失败（订单与尝试记录均已落库为 failed）。
type AttemptResult struct {
	Completed    bool
	ReleaseDelay time.Duration
	Err          error
}

// ProcessAttempt 执行一次履约尝试。attempt 是队列传入的当前尝试序号（从 1 开始）。
func (p *Processor) ProcessAttempt(ctx context.Context, job port.FulfillmentJob, attempt int) AttemptResult {
	ctx, span := p.tracer.Start(ctx, "app.ProcessAttempt", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.Int64("order.id", int64(job.OrderID)),
		attribute.Int("attempt", attempt),
	)

	start := time.Now()
	logger.Ctx(ctx).Info().
		Uint64("order_id", job.OrderID).
		Str("queue_job_id", job.JobID).
		Int("attempt", attempt).
		Msg("Order processing started")

	// 步骤 1-6 全部发生在同一个事务里：任何一步失败，本次尝试的所有写入都被回滚，
	// 订单绝不会停留在"扣了一半库存"或"标了价没扣库"的中间态。
	err := p.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		return p.runAttempt(ctx, uow, job)
	})
	attemptDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		attemptsTotal.WithLabelValues("completed").Inc()
		span.AddEvent("Order fulfilled and committed.")
		logger.Ctx(ctx).Info().
			Uint64("order_id", job.OrderID).
			Int("attempt", attempt).
			Dur("processing_time", time.Since(start)).
			Msg("Order processing completed successfully")
		return AttemptResult{Completed: true}
	}

	span.RecordError(err)

	// 库存冲突且还有重试额度：把任务放回队列，订单保持 processing。
	// 这是一个刻意的瞬态，与终态 failed 严格区分。
	if domain.IsRetryable(err) && !p.policy.Exhausted(attempt) {
		attemptsTotal.WithLabelValues("conflict_retry").Inc()
		delay := p.policy.BackoffFor(attempt)
		span.SetStatus(codes.Error, "stock conflict, releasing for retry")
		logger.Ctx(ctx).Warn().
			Uint64("order_id", job.OrderID).
			Int("attempt", attempt).
			Int("max_attempts", p.policy.MaxAttempts).
			Dur("backoff", delay).
			Err(err).
			Msg("Stock conflict detected, retrying job")

		// 主事务已整体回滚，这里单独落一笔 processing，
		// 让重试等待期内的订单对外可见为"处理中"而不是退回 pending
		p.markOrderProcessing(ctx, job.OrderID)
		return AttemptResult{ReleaseDelay: delay, Err: err}
	}

	// 其余错误、或重试额度耗尽：终态失败
	attemptsTotal.WithLabelValues("failed").Inc()
	span.SetStatus(codes.Error, "attempt failed terminally")
	p.markTerminalFailure(ctx, job, err)
	logger.Ctx(ctx).Error().
		Uint64("order_id", job.OrderID).
		Int("attempt", attempt).
		Dur("processing_time", time.Since(start)).
		Err(err).
		Msg("Order processing failed after all retries")
	return AttemptResult{Err: err}
}

// runAttempt 是单次尝试的主体，在调用方提供的工作单元内执行
func (p *Processor) runAttempt(ctx context.Context, uow domain.UnitOfWork, job port.FulfillmentJob) error {
	now := time.Now().UTC()

	// 1. 找到（或崩溃重投递后补建）本订单的非终态尝试记录，标记为执行中
	record, err := uow.Attempts().FindOrCreateInFlight(ctx, job.OrderID, job.JobType)
	if err != nil {
		return err
	}
	if record.QueueJobID == "" {
		record.QueueJobID = job.JobID
	}
	record.MarkProcessing(now)
	if err := uow.Attempts().Update(ctx, record); err != nil {
		return err
	}

	// 2. 订单进入 processing
	order, err := uow.Orders().FindByID(ctx, job.OrderID)
	if err != nil {
		return err
	}
	if err := order.MarkProcessing(); err != nil {
		return err
	}
	if err := uow.Orders().Update(ctx, order); err != nil {
		return err
	}

	items, err := uow.Orders().Items(ctx, order.ID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return errors.Errorf("order %d has no line items", order.ID)
	}

	// 3. 校验可用性：重新读取每个商品的当前库存，任一缺口即整单失败，不做部分履约
	if err := p.validateAvailability(ctx, uow.Stock(), items); err != nil {
		return err
	}

	// 4. 逐商品条件扣减（行级 compare-and-swap）
	for _, item := range items {
		product, err := uow.Stock().FindProduct(ctx, item.ProductID)
		if err != nil {
			return err
		}
		if _, err := uow.Stock().TryDecrement(ctx, item.ProductID, item.Quantity, product.StockQuantity); err != nil {
			return err
		}
	}

	// 5. 最终总价 = 各行项目预定价小计之和，履约过程绝不重新计价
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal)
	}

	// 6. 提交：订单完成、总价锁定、记录收口
	if err := order.MarkCompleted(total, now); err != nil {
		return err
	}
	if err := uow.Orders().Update(ctx, order); err != nil {
		return err
	}
	record.MarkCompleted(now)
	return uow.Attempts().Update(ctx, record)
}

// validateAvailability 枚举所有库存不足的商品
func (p *Processor) validateAvailability(ctx context.Context, stock domain.StockLedger, items []domain.OrderLineItem) error {
	var shortages []domain.StockShortage
	for _, item := range items {
		product, err := stock.FindProduct(ctx, item.ProductID)
		if err != nil {
			return err
		}
		if product.StockQuantity < item.Quantity {
			shortages = append(shortages, domain.StockShortage{
				ProductID: product.ID,
				Name:      product.Name,
				Requested: item.Quantity,
				Available: product.StockQuantity,
			})
		}
	}
	if len(shortages) > 0 {
		return &domain.InsufficientStockError{Shortages: shortages}
	}
	return nil
}

// HandleExhausted 是队列侧的终态失败钩子：当队列在投递上限之后放弃任务时调用。
// 它是幂等的安全网 —— 即便任务内的失败路径因为进程崩溃没有执行，
// 也要保证订单和最近一条尝试记录被标为 failed；没有记录时补建一条。
func (p *Processor) HandleExhausted(ctx context.Context, job port.FulfillmentJob, cause error) {
	ctx, span := p.tracer.Start(ctx, "app.HandleExhausted")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", int64(job.OrderID)))
	span.RecordError(cause)

	logger.Ctx(ctx).Error().
		Uint64("order_id", job.OrderID).
		Str("queue_job_id", job.JobID).
		Err(cause).
		Msg("🚨 Order processing job failed after all redeliveries")

	p.markTerminalFailure(ctx, job, cause)
}

// markTerminalFailure 在独立的小事务里落终态。
// 它必须容忍各种残缺现场：订单已是终态（MarkFailed 为幂等空操作）、记录不存在（补建）。
func (p *Processor) markTerminalFailure(ctx context.Context, job port.FulfillmentJob, cause error) {
	now := time.Now().UTC()
	err := p.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		order, err := uow.Orders().FindByID(ctx, job.OrderID)
		if err != nil {
			return err
		}
		order.MarkFailed()
		if err := uow.Orders().Update(ctx, order); err != nil {
			return err
		}

		record, err := uow.Attempts().FindLatest(ctx, job.OrderID, job.JobType)
		if err != nil {
			return err
		}
		if record == nil {
			record = domain.NewProcessingAttempt(job.OrderID, job.JobType, job.JobID)
			record.MarkFailed(cause.Error(), now)
			return uow.Attempts().Create(ctx, record)
		}
		if record.Status != domain.AttemptCompleted {
			record.MarkFailed(cause.Error(), now)
			return uow.Attempts().Update(ctx, record)
		}
		return nil
	})
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Uint64("order_id", job.OrderID).
			Msg("🚨 CRITICAL: failed to persist terminal failure state")
	}
}

// markOrderProcessing 在重试等待期把订单单独标为 processing
func (p *Processor) markOrderProcessing(ctx context.Context, orderID uint64) {
	err := p.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		order, err := uow.Orders().FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == domain.StatusProcessing {
			return nil
		}
		if err := order.MarkProcessing(); err != nil {
			return err
		}
		return uow.Orders().Update(ctx, order)
	})
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Uint64("order_id", orderID).
			Msg("failed to keep order in processing during retry window")
	}
}
