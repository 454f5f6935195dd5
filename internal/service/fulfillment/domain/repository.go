// internal/service/fulfillment/domain/repository.go
package domain

import "context"

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	// FindByID 根据 ID 查找订单（不加锁，不带行项目）
	FindByID(ctx context.Context, id uint64) (*Order, error)

	// LockEligible 以独占行锁查找处于可派发状态的订单，
	// 找不到或状态不合法时返回 ErrOrderNotFound。
	// 锁的生命周期与所在事务一致，用于串行化并发的派发请求。
	LockEligible(ctx context.Context, id uint64, eligible []OrderStatus) (*Order, error)

	// Items 返回订单的全部行项目
	Items(ctx context.Context, orderID uint64) ([]OrderLineItem, error)

	// Create 持久化一个新订单及其行项目
	Create(ctx context.Context, order *Order) error

	// Update 回写订单的可变字段（status / total_amount / processed_at）
	Update(ctx context.Context, order *Order) error
}

// AttemptRepository 定义了处理尝试记录的持久化接口
type AttemptRepository interface {
	// HasInFlight 判断订单是否存在非终态的尝试记录
	HasInFlight(ctx context.Context, orderID uint64) (bool, error)

	// Create 持久化一条新的尝试记录
	Create(ctx context.Context, attempt *ProcessingAttempt) error

	// FindOrCreateInFlight 返回订单当前的非终态记录，没有则新建一条 pending 记录。
	// 这是任务崩溃后重投递时的幂等入口。
	FindOrCreateInFlight(ctx context.Context, orderID uint64, jobType string) (*ProcessingAttempt, error)

	// FindLatest 返回订单指定任务类型的最近一条记录，不存在时返回 (nil, nil)
	FindLatest(ctx context.Context, orderID uint64, jobType string) (*ProcessingAttempt, error)

	// Update 回写尝试记录
	Update(ctx context.Context, attempt *ProcessingAttempt) error
}

// StockLedger 是在库库存的唯一改写入口。
// 两个写操作都必须实现为单条条件更新（行级 compare-and-swap），
// 读取与写入之间绝不持有跨 I/O 的锁。
type StockLedger interface {
	// FindProduct 读取商品当前快照（含最新库存）
	FindProduct(ctx context.Context, productID uint64) (*Product, error)

	// TryDecrement 条件扣减：仅当库存仍等于 expected 时生效。
	// 命中 0 行返回 *StockConflictError；扣减后为负返回 *InsufficientStockError（不触库）。
	TryDecrement(ctx context.Context, productID uint64, quantity, expected int) (newStock int, err error)

	// Increase 条件回补，供履约路径之外的协作方（取消/退款）使用，
	// 与 TryDecrement 共享同一条件更新纪律。
	Increase(ctx context.Context, productID uint64, quantity, expected int) (newStock int, err error)
}

// UnitOfWork 把一次履约尝试涉及的全部仓储绑定到同一个原子工作单元上
type UnitOfWork interface {
	Orders() OrderRepository
	Attempts() AttemptRepository
	Stock() StockLedger
}

// TxManager 显式管理工作单元的生命周期：fn 返回错误时整个单元回滚，
// 尝试内的所有写入要么全部提交、要么一个都不留。
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}
