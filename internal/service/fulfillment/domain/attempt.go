// internal/service/fulfillment/domain/attempt.go
package domain

import "time"

// JobTypeOrderProcessing 是订单履约任务的类型标签
const JobTypeOrderProcessing = "order_processing"

// ProcessingAttempt 是一次履约尝试的审计/去重记录，独立于订单自身的状态。
// 一个订单在多次重派发后可以积累多条记录，但任意时刻至多一条处于非终态。
// QueueJobID 仅用于与消息队列侧的任务做关联排查，不参与身份判定。
type ProcessingAttempt struct {
	ID           uint64
	OrderID      uint64
	QueueJobID   string
	JobType      string
	Status       AttemptStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewProcessingAttempt 创建一条 pending 状态的尝试记录
func NewProcessingAttempt(orderID uint64, jobType, queueJobID string) *ProcessingAttempt {
	now := time.Now().UTC()
	return &ProcessingAttempt{
		OrderID:    orderID,
		QueueJobID: queueJobID,
		JobType:    jobType,
		Status:     AttemptPending,
		StartedAt:  &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// MarkProcessing 标记尝试开始执行
func (a *ProcessingAttempt) MarkProcessing(now time.Time) {
	t := now.UTC()
	a.Status = AttemptProcessing
	a.StartedAt = &t
	a.UpdatedAt = t
}

// MarkCompleted 标记尝试成功结束
func (a *ProcessingAttempt) MarkCompleted(now time.Time) {
	t := now.UTC()
	a.Status = AttemptCompleted
	a.CompletedAt = &t
	a.UpdatedAt = t
}

// MarkFailed 标记尝试失败并记录错误信息
func (a *ProcessingAttempt) MarkFailed(errMsg string, now time.Time) {
	t := now.UTC()
	a.Status = AttemptFailed
	a.ErrorMessage = errMsg
	a.CompletedAt = &t
	a.UpdatedAt = t
}
