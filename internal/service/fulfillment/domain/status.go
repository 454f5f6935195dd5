// internal/service/fulfillment/domain/status.go
package domain

// OrderStatus 定义了订单的生命周期状态
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"    // 订单已创建，等待派发处理
	StatusProcessing OrderStatus = "processing" // 履约任务执行中（包含库存冲突后的重试等待期）
	StatusCompleted  OrderStatus = "completed"  // 库存扣减完成，总价已锁定
	StatusCancelled  OrderStatus = "cancelled"  // 已取消
	StatusFailed     OrderStatus = "failed"     // 终态失败，不再自动重试
)

// orderTransitions 是订单状态的合法流转表。
// processing -> processing 是刻意允许的：库存冲突重试时订单停留在 processing，
// 这是一个可恢复的中间态，与终态 failed 严格区分。
var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusProcessing, StatusCancelled, StatusFailed},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusCancelled:  {},
	StatusFailed:     {},
}

// CanTransitionTo 判断状态流转是否合法
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal 判断状态是否为终态
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// AttemptStatus 定义了处理尝试记录的状态
type AttemptStatus string

const (
	AttemptPending    AttemptStatus = "pending"
	AttemptProcessing AttemptStatus = "processing"
	AttemptCompleted  AttemptStatus = "completed"
	AttemptFailed     AttemptStatus = "failed"
)

// IsInFlight 判断尝试记录是否处于非终态。
// 派发器的去重约束：任意时刻每个订单至多存在一条非终态记录。
func (s AttemptStatus) IsInFlight() bool {
	return s == AttemptPending || s == AttemptProcessing
}
