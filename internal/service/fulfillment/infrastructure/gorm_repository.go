// internal/service/fulfillment/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shopflow/internal/service/fulfillment/domain"
)

// GormOrderRepository 是 OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id uint64) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "find order %d", id)
	}
	return toDomainOrder(&model), nil
}

// LockEligible 以 SELECT ... FOR UPDATE 取出可派发状态的订单。
// 行锁与所在事务同生命周期，用于串行化并发的派发请求。
func (r *GormOrderRepository) LockEligible(ctx context.Context, id uint64, eligible []domain.OrderStatus) (*domain.Order, error) {
	statuses := make([]string, len(eligible))
	for i, s := range eligible {
		statuses[i] = string(s)
	}

	var model OrderModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND status IN ?", id, statuses).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "lock order %d", id)
	}
	return toDomainOrder(&model), nil
}

func (r *GormOrderRepository) Items(ctx context.Context, orderID uint64) ([]domain.OrderLineItem, error) {
	var models []OrderItemModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id").Find(&models).Error; err != nil {
		return nil, errors.Wrapf(err, "load items of order %d", orderID)
	}
	items := make([]domain.OrderLineItem, len(models))
	for i := range models {
		items[i] = toDomainItem(&models[i])
	}
	return items, nil
}

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	model := fromDomainOrder(order)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrap(err, "create order")
	}
	order.ID = model.ID
	for i := range model.Items {
		order.Items[i].ID = model.Items[i].ID
		order.Items[i].OrderID = model.ID
	}
	return nil
}

// Update 只回写履约流程拥有的可变字段，行项目不可变、不触碰
func (r *GormOrderRepository) Update(ctx context.Context, order *domain.Order) error {
	updates := map[string]interface{}{
		"status":       string(order.Status),
		"total_amount": order.TotalAmount,
		"processed_at": order.ProcessedAt,
		"updated_at":   order.UpdatedAt,
	}
	err := r.db.WithContext(ctx).Model(&OrderModel{}).Where("id = ?", order.ID).Updates(updates).Error
	return errors.Wrapf(err, "update order %d", order.ID)
}

// GormAttemptRepository 是 AttemptRepository 的 GORM 实现
type GormAttemptRepository struct {
	db *gorm.DB
}

func NewGormAttemptRepository(db *gorm.DB) *GormAttemptRepository {
	return &GormAttemptRepository{db: db}
}

var inFlightStatuses = []string{string(domain.AttemptPending), string(domain.AttemptProcessing)}

func (r *GormAttemptRepository) HasInFlight(ctx context.Context, orderID uint64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&ProcessingJobModel{}).
		Where("order_id = ? AND status IN ?", orderID, inFlightStatuses).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrapf(err, "count in-flight attempts of order %d", orderID)
	}
	return count > 0, nil
}

func (r *GormAttemptRepository) Create(ctx context.Context, attempt *domain.ProcessingAttempt) error {
	model := fromDomainAttempt(attempt)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrap(err, "create processing attempt")
	}
	attempt.ID = model.ID
	return nil
}

// FindOrCreateInFlight 返回当前非终态记录；崩溃重投递后记录可能缺失，此时补建一条。
// 已失败/已完成的历史记录不会被复用 —— 重派发永远产生新记录。
func (r *GormAttemptRepository) FindOrCreateInFlight(ctx context.Context, orderID uint64, jobType string) (*domain.ProcessingAttempt, error) {
	var model ProcessingJobModel
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND job_type = ? AND status IN ?", orderID, jobType, inFlightStatuses).
		Order("id DESC").
		First(&model).Error
	if err == nil {
		return toDomainAttempt(&model), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(err, "find in-flight attempt of order %d", orderID)
	}

	attempt := domain.NewProcessingAttempt(orderID, jobType, "")
	if err := r.Create(ctx, attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

func (r *GormAttemptRepository) FindLatest(ctx context.Context, orderID uint64, jobType string) (*domain.ProcessingAttempt, error) {
	var model ProcessingJobModel
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND job_type = ?", orderID, jobType).
		Order("id DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find latest attempt of order %d", orderID)
	}
	return toDomainAttempt(&model), nil
}

func (r *GormAttemptRepository) Update(ctx context.Context, attempt *domain.ProcessingAttempt) error {
	updates := map[string]interface{}{
		"queue_job_id":  attempt.QueueJobID,
		"status":        string(attempt.Status),
		"started_at":    attempt.StartedAt,
		"completed_at":  attempt.CompletedAt,
		"error_message": attempt.ErrorMessage,
		"updated_at":    attempt.UpdatedAt,
	}
	err := r.db.WithContext(ctx).Model(&ProcessingJobModel{}).Where("id = ?", attempt.ID).Updates(updates).Error
	return errors.Wrapf(err, "update attempt %d", attempt.ID)
}

// GormStockLedger 是 StockLedger 的 GORM 实现。
// 两个写操作都是单条条件 UPDATE：读取值作为 WHERE 条件，
// 命中 0 行即判定并发修改插队，绝不跨 I/O 持锁。
type GormStockLedger struct {
	db *gorm.DB
}

func NewGormStockLedger(db *gorm.DB) *GormStockLedger {
	return &GormStockLedger{db: db}
}

func (l *GormStockLedger) FindProduct(ctx context.Context, productID uint64) (*domain.Product, error) {
	var model ProductModel
	err := l.db.WithContext(ctx).First(&model, productID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Errorf("product not found: %d", productID)
		}
		return nil, errors.Wrapf(err, "find product %d", productID)
	}
	return toDomainProduct(&model), nil
}

func (l *GormStockLedger) TryDecrement(ctx context.Context, productID uint64, quantity, expected int) (int, error) {
	if quantity <= 0 {
		return 0, errors.Errorf("decrement quantity must be positive, got %d", quantity)
	}
	newStock := expected - quantity
	if newStock < 0 {
		product, err := l.FindProduct(ctx, productID)
		if err != nil {
			return 0, err
		}
		return 0, &domain.InsufficientStockError{Shortages: []domain.StockShortage{{
			ProductID: productID,
			Name:      product.Name,
			Requested: quantity,
			Available: expected,
		}}}
	}
	return l.compareAndSwap(ctx, productID, expected, newStock)
}

func (l *GormStockLedger) Increase(ctx context.Context, productID uint64, quantity, expected int) (int, error) {
	if quantity <= 0 {
		return 0, errors.Errorf("increase quantity must be positive, got %d", quantity)
	}
	return l.compareAndSwap(ctx, productID, expected, expected+quantity)
}

// compareAndSwap 执行行级 CAS：仅当 stock_quantity 仍等于 expected 时写入 newStock
func (l *GormStockLedger) compareAndSwap(ctx context.Context, productID uint64, expected, newStock int) (int, error) {
	res := l.db.WithContext(ctx).Model(&ProductModel{}).
		Where("id = ? AND stock_quantity = ?", productID, expected).
		Updates(map[string]interface{}{
			"stock_quantity": newStock,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, errors.Wrapf(res.Error, "conditional stock update for product %d", productID)
	}
	if res.RowsAffected == 0 {
		// 有并发修改插队，读出实际值放进冲突详情
		product, err := l.FindProduct(ctx, productID)
		if err != nil {
			return 0, err
		}
		return 0, &domain.StockConflictError{
			ProductID: productID,
			Name:      product.Name,
			Expected:  expected,
			Observed:  product.StockQuantity,
		}
	}
	return newStock, nil
}
