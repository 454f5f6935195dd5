// cmd/setup-demo/main.go
package main

import (
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"shopflow/internal/pkg/config"
	"shopflow/internal/service/fulfillment/domain"
	"shopflow/internal/service/fulfillment/infrastructure"
)

// setup-demo 建表并写入一套可以立即演练履约流程的数据：
// 一个用户、一个品类、两个有库存的商品和一个 pending 订单。
// 所有写入都是幂等的，重复执行不会产生重复数据。
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := gorm.Open(mysql.Open(cfg.Infra.MySQL.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Info),
	})
	if err != nil {
		log.Fatalf("failed to connect to mysql: %v", err)
	}

	if err := db.AutoMigrate(infrastructure.AllModels()...); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}
	log.Println("✅ Schema migrated.")

	if err := seed(db); err != nil {
		log.Fatalf("failed to seed demo data: %v", err)
	}
	log.Println("✅ Demo data ready.")
}

func seed(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		user := infrastructure.UserModel{Name: "Test Customer", Email: "customer@example.com"}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error; err != nil {
			return err
		}
		if user.ID == 0 {
			if err := tx.Where("email = ?", user.Email).First(&user).Error; err != nil {
				return err
			}
		}

		category := infrastructure.CategoryModel{
			Name:        "Test Electronics",
			Description: "Demo category for fulfillment walkthroughs",
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&category).Error; err != nil {
			return err
		}
		if category.ID == 0 {
			if err := tx.Where("name = ?", category.Name).First(&category).Error; err != nil {
				return err
			}
		}

		products := []infrastructure.ProductModel{
			{Name: "Demo Gadget", Price: decimal.NewFromInt(100), StockQuantity: 50, CategoryID: category.ID},
			{Name: "Demo Widget", Price: decimal.NewFromInt(50), StockQuantity: 30, CategoryID: category.ID},
		}
		for i := range products {
			var existing infrastructure.ProductModel
			err := tx.Where("name = ?", products[i].Name).First(&existing).Error
			if err == nil {
				products[i] = existing
				continue
			}
			if err != gorm.ErrRecordNotFound {
				return err
			}
			if err := tx.Create(&products[i]).Error; err != nil {
				return err
			}
		}

		// 一个待处理的演练订单：2 件 Gadget + 1 件 Widget = 250.00
		var existingOrder infrastructure.OrderModel
		err := tx.Where("user_id = ? AND status = ?", user.ID, string(domain.StatusPending)).First(&existingOrder).Error
		if err == nil {
			log.Printf("Pending demo order already exists: %s (id=%d)", existingOrder.OrderNumber, existingOrder.ID)
			return nil
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		order := infrastructure.OrderModel{
			UserID:      user.ID,
			OrderNumber: domain.GenerateOrderNumber(time.Now().UTC()),
			TotalAmount: decimal.NewFromInt(250),
			Status:      string(domain.StatusPending),
			Items: []infrastructure.OrderItemModel{
				{
					ProductID: products[0].ID,
					Quantity:  2,
					UnitPrice: products[0].Price,
					LineTotal: products[0].Price.Mul(decimal.NewFromInt(2)),
				},
				{
					ProductID: products[1].ID,
					Quantity:  1,
					UnitPrice: products[1].Price,
					LineTotal: products[1].Price,
				},
			},
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		log.Printf("Created pending demo order: %s (id=%d)", order.OrderNumber, order.ID)
		return nil
	})
}
