// internal/service/fulfillment/domain/order.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Order 是订单聚合的根实体。
// 履约流程只会改写 Status / TotalAmount / ProcessedAt，行项目自创建后不可变。
type Order struct {
	ID          uint64
	UserID      uint64
	OrderNumber string
	TotalAmount decimal.Decimal
	Status      OrderStatus
	ProcessedAt *time.Time
	Items       []OrderLineItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderLineItem 是订单的不可变行项目。
// UnitPrice 和 LineTotal 在下单时定价，履约过程只读，绝不重新计价。
type OrderLineItem struct {
	ID        uint64
	OrderID   uint64
	ProductID uint64
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// NewOrderLineItem 创建行项目并锁定行小计
func NewOrderLineItem(productID uint64, quantity int, unitPrice decimal.Decimal) (OrderLineItem, error) {
	if productID == 0 {
		return OrderLineItem{}, errors.New("line item requires a product")
	}
	if quantity <= 0 {
		return OrderLineItem{}, errors.Errorf("line item quantity must be positive, got %d", quantity)
	}
	return OrderLineItem{
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		LineTotal: unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2),
	}, nil
}

// 工厂函数: NewOrder 创建一个新的订单实例。
// 订单号在这里生成而不是依赖持久化钩子，调用方无法绕过。
func NewOrder(userID uint64, items []OrderLineItem) (*Order, error) {
	if userID == 0 {
		return nil, errors.New("cannot create order without an owner")
	}
	if len(items) == 0 {
		return nil, errors.New("cannot create order with no line items")
	}

	total := decimal.Zero
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, errors.Errorf("line item for product %d has non-positive quantity", item.ProductID)
		}
		total = total.Add(item.LineTotal)
	}

	now := time.Now().UTC()
	return &Order{
		UserID:      userID,
		OrderNumber: GenerateOrderNumber(now),
		TotalAmount: total.Round(2),
		Status:      StatusPending,
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// GenerateOrderNumber 生成形如 ORD-20260828-3F2A9C1B04D6 的人类可读订单号
func GenerateOrderNumber(now time.Time) string {
	entropy := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:12])
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), entropy)
}

// TransitionTo 按流转表推进订单状态
func (o *Order) TransitionTo(next OrderStatus) error {
	if !o.Status.CanTransitionTo(next) {
		return errors.Errorf("invalid order status transition %s -> %s", o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkProcessing 将订单标记为处理中
func (o *Order) MarkProcessing() error {
	return o.TransitionTo(StatusProcessing)
}

// MarkCompleted 锁定最终总价并完成订单。总价只有在 completed 之后才是权威值。
func (o *Order) MarkCompleted(total decimal.Decimal, processedAt time.Time) error {
	if err := o.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	o.TotalAmount = total.Round(2)
	t := processedAt.UTC()
	o.ProcessedAt = &t
	return nil
}

// MarkFailed 将订单置为终态失败。
// 失败可以从任何非终态到达；订单已处于终态时不做任何改写，保证安全网钩子可以重复执行。
func (o *Order) MarkFailed() {
	if o.Status.IsTerminal() {
		return
	}
	o.Status = StatusFailed
	o.UpdatedAt = time.Now().UTC()
}
