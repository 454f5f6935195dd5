// internal/service/fulfillment/domain/product.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product 是共享的商品实体，被订单引用但不被订单拥有。
// StockQuantity 是全系统竞争最激烈的字段，只允许通过 StockLedger 的条件更新改写。
type Product struct {
	ID            uint64
	Name          string
	Price         decimal.Decimal
	StockQuantity int
	CategoryID    uint64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
