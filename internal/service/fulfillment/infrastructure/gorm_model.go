// internal/service/fulfillment/infrastructure/gorm_model.go
package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID          uint64 `gorm:"primaryKey"`
	UserID      uint64 `gorm:"index"`
	OrderNumber string `gorm:"uniqueIndex;size:64"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(12,2)"`
	Status      string          `gorm:"type:varchar(20);default:pending;index:idx_status_created,priority:1"`
	ProcessedAt *time.Time
	CreatedAt   time.Time `gorm:"index:idx_status_created,priority:2"`
	UpdatedAt   time.Time

	// 订单拥有行项目与处理记录，随订单级联删除
	Items []OrderItemModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel 对应数据库中的 order_items 表
type OrderItemModel struct {
	ID        uint64          `gorm:"primaryKey"`
	OrderID   uint64          `gorm:"index"`
	ProductID uint64          `gorm:"index"`
	Quantity  int
	UnitPrice decimal.Decimal `gorm:"type:decimal(12,2)"`
	LineTotal decimal.Decimal `gorm:"type:decimal(12,2)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OrderItemModel) TableName() string {
	return "order_items"
}

// ProductModel 对应数据库中的 products 表。
// StockQuantity 带非负约束，条件更新是它唯一的改写路径。
type ProductModel struct {
	ID            uint64          `gorm:"primaryKey"`
	Name          string          `gorm:"size:255"`
	Price         decimal.Decimal `gorm:"type:decimal(12,2)"`
	StockQuantity int             `gorm:"check:stock_quantity >= 0"`
	CategoryID    uint64          `gorm:"index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ProductModel) TableName() string {
	return "products"
}

// CategoryModel 对应数据库中的 categories 表
type CategoryModel struct {
	ID          uint64 `gorm:"primaryKey"`
	Name        string `gorm:"size:255;uniqueIndex"`
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (CategoryModel) TableName() string {
	return "categories"
}

// UserModel 对应数据库中的 users 表（只承载履约和看板需要的字段）
type UserModel struct {
	ID        uint64 `gorm:"primaryKey"`
	Name      string `gorm:"size:255"`
	Email     string `gorm:"size:255;uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserModel) TableName() string {
	return "users"
}

// ProcessingJobModel 对应数据库中的 order_processing_jobs 表
type ProcessingJobModel struct {
	ID           uint64 `gorm:"primaryKey"`
	OrderID      uint64 `gorm:"index"`
	QueueJobID   string `gorm:"size:64;index"`
	JobType      string `gorm:"size:64;index"`
	Status       string `gorm:"type:varchar(20);default:pending;index"`
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (ProcessingJobModel) TableName() string {
	return "order_processing_jobs"
}

// AllModels 返回需要建表的全部模型，供 setup-demo 执行 AutoMigrate
func AllModels() []interface{} {
	return []interface{}{
		&UserModel{},
		&CategoryModel{},
		&ProductModel{},
		&OrderModel{},
		&OrderItemModel{},
		&ProcessingJobModel{},
	}
}
