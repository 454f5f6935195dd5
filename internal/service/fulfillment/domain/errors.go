// internal/service/fulfillment/domain/errors.go
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// 派发阶段的错误。两者都直接反馈给调用方，不触发重试，也不产生任何状态变更。
var (
	// ErrOrderNotFound 订单不存在，或不处于可派发状态
	ErrOrderNotFound = errors.New("order not found or not eligible for processing")
	// ErrAlreadyInFlight 已有一条非终态的处理记录，重复派发被拒绝
	ErrAlreadyInFlight = errors.New("order is already being processed")
)

// StockShortage 描述单个商品的缺口
type StockShortage struct {
	ProductID uint64
	Name      string
	Requested int
	Available int
}

// InsufficientStockError 表示校验阶段发现一个或多个商品库存不足。
// 错误信息枚举出所有缺口商品，整单失败，不做部分履约。不可重试。
type InsufficientStockError struct {
	Shortages []StockShortage
}

func (e *InsufficientStockError) Error() string {
	names := make([]string, len(e.Shortages))
	for i, s := range e.Shortages {
		names[i] = s.Name
	}
	return "insufficient stock for products: " + strings.Join(names, ", ")
}

// StockConflictError 表示条件更新命中了 0 行：在读取和写入之间有并发修改插队。
// 这是系统中唯一的可重试错误。
type StockConflictError struct {
	ProductID uint64
	Name      string
	Expected  int
	Observed  int
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("stock quantity changed for product %s: expected %d, observed %d, please retry",
		e.Name, e.Expected, e.Observed)
}

// IsRetryable 判断错误是否值得退避重试。
// 只有库存版本冲突是瞬态的；其余错误一律视为终态失败。
func IsRetryable(err error) bool {
	var conflict *StockConflictError
	return errors.As(err, &conflict)
}
