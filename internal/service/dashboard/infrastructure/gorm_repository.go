// internal/service/dashboard/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"shopflow/internal/service/dashboard/application"
	fulfillment "shopflow/internal/service/fulfillment/infrastructure"
)

// GormDashboardRepository 是看板读模型的 GORM 实现。
// 全部是只读聚合查询，不参与履约写路径。
type GormDashboardRepository struct {
	db *gorm.DB
}

func NewGormDashboardRepository(db *gorm.DB) *GormDashboardRepository {
	return &GormDashboardRepository{db: db}
}

type summaryRow struct {
	ID           uint64
	OrderNumber  string
	TotalAmount  decimal.Decimal
	Status       string
	CreatedAt    time.Time
	CustomerName string
	ItemsCount   int64
}

func (r *GormDashboardRepository) OrdersSummary(ctx context.Context, start, end time.Time, page, perPage int) ([]application.OrderSummaryRow, int64, error) {
	base := r.db.WithContext(ctx).
		Model(&fulfillment.OrderModel{}).
		Where("orders.created_at BETWEEN ? AND ?", start, end)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count orders in range")
	}

	var rows []summaryRow
	err := r.db.WithContext(ctx).
		Table("orders").
		Select("orders.id, orders.order_number, orders.total_amount, orders.status, orders.created_at, "+
			"users.name AS customer_name, COUNT(order_items.id) AS items_count").
		Joins("JOIN users ON orders.user_id = users.id").
		Joins("LEFT JOIN order_items ON orders.id = order_items.order_id").
		Where("orders.created_at BETWEEN ? AND ?", start, end).
		Group("orders.id, orders.order_number, orders.total_amount, orders.status, orders.created_at, users.name").
		Order("orders.created_at DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Scan(&rows).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "load orders summary page")
	}

	categories, err := r.categoriesByOrder(ctx, rows)
	if err != nil {
		return nil, 0, err
	}

	result := make([]application.OrderSummaryRow, len(rows))
	for i, row := range rows {
		result[i] = application.OrderSummaryRow{
			OrderNumber:   row.OrderNumber,
			CustomerName:  row.CustomerName,
			TotalAmount:   row.TotalAmount,
			Status:        row.Status,
			ItemsCount:    row.ItemsCount,
			CategoryNames: categories[row.ID],
			OrderDate:     row.CreatedAt,
		}
	}
	return result, total, nil
}

// categoriesByOrder 为当前页的订单批量取去重后的品类名
func (r *GormDashboardRepository) categoriesByOrder(ctx context.Context, rows []summaryRow) (map[uint64]string, error) {
	if len(rows) == 0 {
		return map[uint64]string{}, nil
	}
	ids := make([]uint64, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	type catRow struct {
		OrderID uint64
		Name    string
	}
	var catRows []catRow
	err := r.db.WithContext(ctx).
		Table("order_items").
		Select("DISTINCT order_items.order_id, categories.name").
		Joins("JOIN products ON order_items.product_id = products.id").
		Joins("JOIN categories ON products.category_id = categories.id").
		Where("order_items.order_id IN ?", ids).
		Scan(&catRows).Error
	if err != nil {
		return nil, errors.Wrap(err, "load categories of order page")
	}

	names := make(map[uint64][]string)
	for _, row := range catRows {
		names[row.OrderID] = append(names[row.OrderID], row.Name)
	}
	joined := make(map[uint64]string, len(names))
	for id, list := range names {
		joined[id] = strings.Join(list, ", ")
	}
	return joined, nil
}

func (r *GormDashboardRepository) Stats(ctx context.Context, start, end, stuckBefore time.Time) (*application.Stats, error) {
	stats := &application.Stats{
		TotalRevenue:      decimal.Zero,
		AverageOrderValue: decimal.Zero,
		OrdersByStatus:    map[string]int64{},
	}

	// 营收统计只认 completed 订单 —— 总价只有在完成后才是权威值
	type revenueRow struct {
		TotalRevenue      decimal.Decimal
		AverageOrderValue decimal.Decimal
		TotalOrders       int64
	}
	var revenue revenueRow
	err := r.db.WithContext(ctx).
		Table("orders").
		Select("COALESCE(SUM(total_amount), 0) AS total_revenue, "+
			"COALESCE(AVG(total_amount), 0) AS average_order_value, "+
			"COUNT(*) AS total_orders").
		Where("created_at BETWEEN ? AND ? AND status = ?", start, end, "completed").
		Scan(&revenue).Error
	if err != nil {
		return nil, errors.Wrap(err, "load revenue stats")
	}
	stats.TotalRevenue = revenue.TotalRevenue.Round(2)
	stats.AverageOrderValue = revenue.AverageOrderValue.Round(2)
	stats.TotalOrders = revenue.TotalOrders

	err = r.db.WithContext(ctx).
		Model(&fulfillment.OrderModel{}).
		Where("created_at BETWEEN ? AND ? AND status = ?", start, end, "pending").
		Count(&stats.PendingOrders).Error
	if err != nil {
		return nil, errors.Wrap(err, "count pending orders")
	}

	// 超过最大累计退避时长仍停留在 processing 的订单：疑似重试链断裂
	err = r.db.WithContext(ctx).
		Model(&fulfillment.OrderModel{}).
		Where("status = ? AND updated_at < ?", "processing", stuckBefore).
		Count(&stats.StuckProcessing).Error
	if err != nil {
		return nil, errors.Wrap(err, "count stuck processing orders")
	}

	type statusRow struct {
		Status string
		Count  int64
	}
	var statusRows []statusRow
	err = r.db.WithContext(ctx).
		Table("orders").
		Select("status, COUNT(*) AS count").
		Where("created_at BETWEEN ? AND ?", start, end).
		Group("status").
		Scan(&statusRows).Error
	if err != nil {
		return nil, errors.Wrap(err, "count orders by status")
	}
	for _, row := range statusRows {
		stats.OrdersByStatus[row.Status] = row.Count
	}

	type popularRow struct {
		Name       string
		OrderCount int64
	}
	var popular popularRow
	err = r.db.WithContext(ctx).
		Table("categories").
		Select("categories.name, COUNT(DISTINCT orders.id) AS order_count").
		Joins("JOIN products ON categories.id = products.category_id").
		Joins("JOIN order_items ON products.id = order_items.product_id").
		Joins("JOIN orders ON order_items.order_id = orders.id").
		Where("orders.created_at BETWEEN ? AND ? AND orders.status = ?", start, end, "completed").
		Group("categories.id, categories.name").
		Order("order_count DESC").
		Limit(1).
		Scan(&popular).Error
	if err != nil {
		return nil, errors.Wrap(err, "find most popular category")
	}
	if popular.Name != "" {
		stats.MostPopularCategory = &application.CategoryStat{
			Name:       popular.Name,
			OrderCount: popular.OrderCount,
		}
	}

	return stats, nil
}
