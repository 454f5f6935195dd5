// internal/service/dashboard/application/dto.go
package application

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSummaryRow 是看板订单列表的一行
type OrderSummaryRow struct {
	OrderNumber   string          `json:"order_number"`
	CustomerName  string          `json:"customer_name"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Status        string          `json:"status"`
	ItemsCount    int64           `json:"items_count"`
	CategoryNames string          `json:"category_names"`
	OrderDate     time.Time       `json:"order_date"`
}

// OrdersSummary 是分页后的订单列表响应
type OrdersSummary struct {
	Orders    []OrderSummaryRow `json:"orders"`
	Total     int64             `json:"total"`
	Page      int               `json:"page"`
	PerPage   int               `json:"per_page"`
	DateRange DateRange         `json:"date_range"`
}

// DateRange 描述统计的时间窗口
type DateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Days      int    `json:"days"`
}

// CategoryStat 是最受欢迎品类的统计
type CategoryStat struct {
	Name       string `json:"name"`
	OrderCount int64  `json:"order_count"`
}

// Stats 是看板统计数据。
// StuckProcessing 统计停留在 processing 超过最大累计退避时长的订单 ——
// 重试被释放但从未被重投递的订单会落在这里，供运维告警。
type Stats struct {
	TotalRevenue        decimal.Decimal  `json:"total_revenue"`
	AverageOrderValue   decimal.Decimal  `json:"average_order_value"`
	TotalOrders         int64            `json:"total_orders"`
	PendingOrders       int64            `json:"pending_orders"`
	StuckProcessing     int64            `json:"stuck_processing"`
	MostPopularCategory *CategoryStat    `json:"most_popular_category"`
	OrdersByStatus      map[string]int64 `json:"orders_by_status"`
}
