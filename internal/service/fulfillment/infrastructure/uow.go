// internal/service/fulfillment/infrastructure/uow.go
package infrastructure

import (
	"context"

	"gorm.io/gorm"

	"shopflow/internal/service/fulfillment/domain"
)

// gormUnitOfWork 把三个仓储绑定到同一个 *gorm.DB 事务句柄上
type gormUnitOfWork struct {
	tx *gorm.DB
}

func (u *gormUnitOfWork) Orders() domain.OrderRepository {
	return NewGormOrderRepository(u.tx)
}

func (u *gormUnitOfWork) Attempts() domain.AttemptRepository {
	return NewGormAttemptRepository(u.tx)
}

func (u *gormUnitOfWork) Stock() domain.StockLedger {
	return NewGormStockLedger(u.tx)
}

// GormTxManager 是 TxManager 的 GORM 实现：
// fn 返回错误（或 panic）时 gorm 回滚整个事务，一次尝试内的写入全有或全无。
type GormTxManager struct {
	db *gorm.DB
}

func NewGormTxManager(db *gorm.DB) *GormTxManager {
	return &GormTxManager{db: db}
}

func (m *GormTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, uow domain.UnitOfWork) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &gormUnitOfWork{tx: tx})
	})
}
