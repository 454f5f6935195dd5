// internal/service/fulfillment/infrastructure/mapper.go
package infrastructure

import (
	"shopflow/internal/service/fulfillment/domain"
)

// toDomainOrder 将数据库模型转换为领域模型
func toDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	order := &domain.Order{
		ID:          model.ID,
		UserID:      model.UserID,
		OrderNumber: model.OrderNumber,
		TotalAmount: model.TotalAmount,
		Status:      domain.OrderStatus(model.Status),
		ProcessedAt: model.ProcessedAt,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}
	for _, item := range model.Items {
		order.Items = append(order.Items, toDomainItem(&item))
	}
	return order
}

func toDomainItem(model *OrderItemModel) domain.OrderLineItem {
	return domain.OrderLineItem{
		ID:        model.ID,
		OrderID:   model.OrderID,
		ProductID: model.ProductID,
		Quantity:  model.Quantity,
		UnitPrice: model.UnitPrice,
		LineTotal: model.LineTotal,
	}
}

// fromDomainOrder 将领域模型转换为数据库模型（用于创建）
func fromDomainOrder(order *domain.Order) *OrderModel {
	model := &OrderModel{
		ID:          order.ID,
		UserID:      order.UserID,
		OrderNumber: order.OrderNumber,
		TotalAmount: order.TotalAmount,
		Status:      string(order.Status),
		ProcessedAt: order.ProcessedAt,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
	for _, item := range order.Items {
		model.Items = append(model.Items, OrderItemModel{
			ID:        item.ID,
			OrderID:   item.OrderID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		})
	}
	return model
}

func toDomainProduct(model *ProductModel) *domain.Product {
	if model == nil {
		return nil
	}
	return &domain.Product{
		ID:            model.ID,
		Name:          model.Name,
		Price:         model.Price,
		StockQuantity: model.StockQuantity,
		CategoryID:    model.CategoryID,
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
	}
}

func toDomainAttempt(model *ProcessingJobModel) *domain.ProcessingAttempt {
	if model == nil {
		return nil
	}
	return &domain.ProcessingAttempt{
		ID:           model.ID,
		OrderID:      model.OrderID,
		QueueJobID:   model.QueueJobID,
		JobType:      model.JobType,
		Status:       domain.AttemptStatus(model.Status),
		StartedAt:    model.StartedAt,
		CompletedAt:  model.CompletedAt,
		ErrorMessage: model.ErrorMessage,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}
}

func fromDomainAttempt(attempt *domain.ProcessingAttempt) *ProcessingJobModel {
	return &ProcessingJobModel{
		ID:           attempt.ID,
		OrderID:      attempt.OrderID,
		QueueJobID:   attempt.QueueJobID,
		JobType:      attempt.JobType,
		Status:       string(attempt.Status),
		StartedAt:    attempt.StartedAt,
		CompletedAt:  attempt.CompletedAt,
		ErrorMessage: attempt.ErrorMessage,
		CreatedAt:    attempt.CreatedAt,
		UpdatedAt:    attempt.UpdatedAt,
	}
}
