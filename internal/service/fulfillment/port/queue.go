// internal/service/fulfillment/port/queue.go
package port

import (
	"context"
	"time"
)

// FulfillmentJob 是投递到队列的任务载荷
type FulfillmentJob struct {
	JobID   string `json:"jobId"`
	OrderID uint64 `json:"orderId"`
	JobType string `json:"jobType"`
}

// JobQueue 是履约核心对队列传输层的全部要求：
// 按给定延迟入队，崩溃后重投递，攒够投递上限后走死信，
// 并把当前尝试序号随消息一起传给处理器。传输实现（Kafka 延迟主题）对核心不可见。
type JobQueue interface {
	// Enqueue 入队一个任务。delay 为 0 时直接投递；
	// attempt 是本次投递对应的尝试序号（从 1 开始），由队列头信息承载。
	Enqueue(ctx context.Context, job FulfillmentJob, delay time.Duration, attempt int) error
}
