// internal/service/fulfillment/application/dispatcher.go
package application

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"shopflow/internal/pkg/logger"
	"shopflow/internal/service/fulfillment/domain"
	"shopflow/internal/service/fulfillment/port"
)

// Dispatcher 是履约流程的入口：校验订单可派发、防止重复派发，
// 然后把任务交给队列协作方。订单状态的流转发生在 worker 侧，
// 派发阶段绝不把订单标成 processing —— 避免任务还没durable入队就先改了状态。
type Dispatcher struct {
	tx     domain.TxManager
	queue  port.JobQueue
	policy domain.RetryPolicy
	tracer trace.Tracer
}

func NewDispatcher(tx domain.TxManager, queue port.JobQueue, policy domain.RetryPolicy, tracer trace.Tracer) *Dispatcher {
	return &Dispatcher{tx: tx, queue: queue, policy: policy, tracer: tracer}
}

// DispatchResult 返回给调用方的派发结果
type DispatchResult struct {
	OrderID     uint64 `json:"order_id"`
	OrderNumber string `json:"order_number"`
	AttemptID   uint64 `json:"processing_job_id"`
	QueueJobID  string `json:"queue_job_id"`
}

// dispatchEligible 是允许派发的订单状态集合。
// processing 在列是为了让卡在重试中的订单可以被重新派发。
var dispatchEligible = []domain.OrderStatus{domain.StatusPending, domain.StatusProcessing}

// Dispatch 校验并派发一个订单的履约任务。
// 资格检查、去重检查和入队必须发生在同一个加锁事务里，
// 否则两个并发的派发请求会双双通过检查。
func (d *Dispatcher) Dispatch(ctx context.Context, orderID uint64) (*DispatchResult, error) {
	ctx, span := d.tracer.Start(ctx, "app.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", int64(orderID)))

	var result *DispatchResult
	err := d.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		// 独占行锁：两个并发派发中只有一个能通过下面的去重检查
		order, err := uow.Orders().LockEligible(ctx, orderID, dispatchEligible)
		if err != nil {
			return err
		}

		inFlight, err := uow.Attempts().HasInFlight(ctx, order.ID)
		if err != nil {
			return err
		}
		if inFlight {
			return domain.ErrAlreadyInFlight
		}

		job := port.FulfillmentJob{
			JobID:   uuid.New().String(),
			OrderID: order.ID,
			JobType: domain.JobTypeOrderProcessing,
		}

		// 先入队后建记录：入队失败时整个事务回滚，不留下悬空的 pending 记录。
		// 初始延迟给本事务留出提交窗口，worker 读到的一定是已提交的订单。
		if err := d.queue.Enqueue(ctx, job, d.policy.DispatchDelay, 1); err != nil {
			span.RecordError(err)
			return err
		}

		attempt := domain.NewProcessingAttempt(order.ID, domain.JobTypeOrderProcessing, job.JobID)
		if err := uow.Attempts().Create(ctx, attempt); err != nil {
			return err
		}

		result = &DispatchResult{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			AttemptID:   attempt.ID,
			QueueJobID:  job.JobID,
		}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, "dispatch rejected")
		return nil, err
	}

	dispatchedTotal.Inc()
	span.AddEvent("Fulfillment job enqueued with initial delay.")
	logger.Ctx(ctx).Info().
		Uint64("order_id", result.OrderID).
		Str("order_number", result.OrderNumber).
		Str("queue_job_id", result.QueueJobID).
		Msg("Order fulfillment dispatched")
	return result, nil
}
