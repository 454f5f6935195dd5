// internal/service/fulfillment/application/processor_test.go
package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"shopflow/internal/service/fulfillment/domain"
	"shopflow/internal/service/fulfillment/port"
)

const testOrderID = uint64(42)

func setupProcessor(t *testing.T) (*Processor, *memStore) {
	t.Helper()
	store := newMemStore()
	processor := NewProcessor(newMemTxManager(store), domain.DefaultRetryPolicy(), otel.Tracer("test"))
	return processor, store
}

// seedFulfillableOrder 准备一个 pending 订单：2 件单价 100 的商品 + 1 件单价 50 的商品
func seedFulfillableOrder(store *memStore) {
	store.addProduct(domain.Product{ID: 1, Name: "Demo Gadget", Price: decimal.NewFromInt(100), StockQuantity: 50})
	store.addProduct(domain.Product{ID: 2, Name: "Demo Widget", Price: decimal.NewFromInt(50), StockQuantity: 30})

	gadget, _ := domain.NewOrderLineItem(1, 2, decimal.NewFromInt(100))
	widget, _ := domain.NewOrderLineItem(2, 1, decimal.NewFromInt(50))
	store.addOrder(&domain.Order{ID: testOrderID, UserID: 7, OrderNumber: "ORD-20260828-TESTTESTTEST", Status: domain.StatusPending}, gadget, widget)
}

func testJob() port.FulfillmentJob {
	return port.FulfillmentJob{JobID: "job-1", OrderID: testOrderID, JobType: domain.JobTypeOrderProcessing}
}

func TestProcessAttemptCompletesOrder(t *testing.T) {
	processor, store := setupProcessor(t)
	seedFulfillableOrder(store)

	result := processor.ProcessAttempt(context.Background(), testJob(), 1)

	require.True(t, result.Completed)
	require.NoError(t, result.Err)
	assert.Zero(t, result.ReleaseDelay)

	order := store.order(testOrderID)
	assert.Equal(t, domain.StatusCompleted, order.Status)
	assert.True(t, decimal.NewFromInt(250).Equal(order.TotalAmount), "total must be the sum of pre-priced line totals, got %s", order.TotalAmount)
	require.NotNil(t, order.ProcessedAt)

	assert.Equal(t, 48, store.product(1).StockQuantity)
	assert.Equal(t, 29, store.product(2).StockQuantity)

	record := store.latestAttempt(testOrderID)
	require.NotNil(t, record)
	assert.Equal(t, domain.AttemptCompleted, record.Status)
	assert.Equal(t, "job-1", record.QueueJobID)
}

func TestProcessAttemptReusesInFlightRecord(t *testing.T) {
	processor, store := setupProcessor(t)
	seedFulfillableOrder(store)

	// 派发阶段已经建好的 pending 记录必须被复用，而不是再建一条
	existing := domain.NewProcessingAttempt(testOrderID, domain.JobTypeOrderProcessing, "job-1")
	require.NoError(t, (&memAttemptRepo{store: store}).Create(context.Background(), existing))

	result := processor.ProcessAttempt(context.Background(), testJob(), 1)

	require.True(t, result.Completed)
	assert.Equal(t, 1, store.attemptCount(testOrderID))
	assert.Equal(t, domain.AttemptCompleted, store.latestAttempt(testOrderID).Status)
}

func TestProcessAttemptInsufficientStockFailsTerminally(t *testing.T) {
	processor, store := setupProcessor(t)
	seedFulfillableOrder(store)
	store.addProduct(domain.Product{ID: 2, Name: "Demo Widget", Price: decimal.NewFromInt(50), StockQuantity: 0})

	result := processor.ProcessAttempt(context.Background(), testJob(), 1)

	require.Error(t, result.Err)
	assert.False(t, result.Completed)
	assert.Zero(t, result.ReleaseDelay, "insufficient stock is not retryable")

	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, result.Err, &insufficient)
	assert.Contains(t, result.Err.Error(), "Demo Widget")

	order := store.order(testOrderID)
	assert.Equal(t, domain.StatusFailed, order.Status)
	// 整单失败：前面有货的商品也不能被扣
	assert.Equal(t, 50, store.product(1).StockQuantity)

	record := store.latestAttempt(testOrderID)
	require.NotNil(t, record)
	assert.Equal(t, domain.AttemptFailed, record.Status)
	assert.Contains(t, record.ErrorMessage, "insufficient stock")
}

func TestProcessAttemptStockConflictReleasesForRetry(t *testing.T) {
	processor, store := setupProcessor(t)
	seedFulfillableOrder(store)

	// 在读取和条件扣减之间修改库存，模拟并发请求插队
	fired := false
	store.beforeDecrement = func(productID uint64) {
		if productID == 1 && !fired {
			fired = true
			store.products[1].StockQuantity = 49
		}
	}

	result := processor.ProcessAttempt(context.Background(), testJob(), 1)

	require.Error(t, result.Err)
	assert.False(t, result.Completed)
	assert.Equal(t, 5*time.Second, result.ReleaseDelay, "first conflict backs off per the 5s/10s/15s schedule")
	assert.True(t, domain.IsRetryable(result.Err))

	// 本次尝试的所有写入都被回滚，但订单在重试等待期对外可见为 processing
	order := store.order(testOrderID)
	assert.Equal(t, domain.StatusProcessing, order.Status)
	assert.Equal(t, 50, store.product(1).StockQuantity)
	assert.Equal(t, 30, store.product(2).StockQuantity)
}

func TestProcessAttemptBackoffFollowsSchedule(t *testing.T) {
	processor, store := setupProcessor(t)
	seedFulfillableOrder(store)

	store.beforeDecrement = func(productID uint64) {
		store.products[productID].StockQuantity++
	}

	first := processor.ProcessAttempt(context.Background(), testJob(), 1)
	second := processor.ProcessAttempt(context.Background(), testJob(), 2)

	assert.Equal(t, 5*time.Second, first.ReleaseDelay)
	assert.Equal(t, 10*time.Second, second.ReleaseDelay)
}

func TestProcessAttemptConflictOnFinalAttemptFailsTerminally(t *testing.T) {
	processor, store := setupProcessor(t)
	seedFulfillableOrder(store)

	store.beforeDecrement = func(productID uint64) {
		store.products[productID].StockQuantity++
	}

	result := processor.ProcessAttempt(context.Background(), testJob(), 3)

	require.Error(t, result.Err)
	assert.Zero(t, result.ReleaseDelay, "no retry budget left on the final attempt")

	order := store.order(testOrderID)
	assert.Equal(t, domain.StatusFailed, order.Status)

	record := store.latestAttempt(testOrderID)
	require.NotNil(t, record)
	assert.Equal(t, domain.AttemptFailed, record.Status)
}

func TestProcessAttemptRetryThenSucceed(t *testing.T) {
	processor, store := setupProcessor(t)
	seedFulfillableOrder(store)

	fired := false
	store.beforeDecrement = func(productID uint64) {
		if productID == 1 && !fired {
			fired = true
			store.products[1].StockQuantity = 49
		}
	}

	first := processor.ProcessAttempt(context.Background(), testJob(), 1)
	require.Error(t, first.Err)
	require.Equal(t, 5*time.Second, first.ReleaseDelay)

	second := processor.ProcessAttempt(context.Background(), testJob(), 2)
	require.True(t, second.Completed)

	order := store.order(testOrderID)
	assert.Equal(t, domain.StatusCompleted, order.Status)
	assert.Equal(t, 48, store.product(1).StockQuantity)
}

func TestProcessAttemptMissingOrderFailsTerminally(t *testing.T) {
	processor, store := setupProcessor(t)

	job := port.FulfillmentJob{JobID: "job-x", OrderID: 999, JobType: domain.JobTypeOrderProcessing}
	result := processor.ProcessAttempt(context.Background(), job, 1)

	require.Error(t, result.Err)
	assert.False(t, result.Completed)
	assert.Zero(t, result.ReleaseDelay)
	assert.Nil(t, store.latestAttempt(999), "terminal failure bookkeeping needs an existing order")
}

func TestProcessAttemptOrderWithoutItemsFailsTerminally(t *testing.T) {
	processor, store := setupProcessor(t)
	store.addOrder(&domain.Order{ID: testOrderID, UserID: 7, OrderNumber: "ORD-EMPTY", Status: domain.StatusPending})

	result := processor.ProcessAttempt(context.Background(), testJob(), 1)

	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "no line items")
	assert.Equal(t, domain.StatusFailed, store.order(testOrderID).Status)
}

func TestConcurrentAttemptsNeverDriveStockNegative(t *testing.T) {
	processor, store := setupProcessor(t)
	store.addProduct(domain.Product{ID: 1, Name: "Demo Gadget", Price: decimal.NewFromInt(100), StockQuantity: 3})

	// 5 个订单抢 3 件库存，每单 1 件
	const orders = 5
	for i := uint64(1); i <= orders; i++ {
		item, _ := domain.NewOrderLineItem(1, 1, decimal.NewFromInt(100))
		store.addOrder(&domain.Order{ID: i, UserID: 7, OrderNumber: fmt.Sprintf("ORD-HERD-%d", i), Status: domain.StatusPending}, item)
	}

	var wg sync.WaitGroup
	results := make([]AttemptResult, orders)
	for i := uint64(1); i <= orders; i++ {
		wg.Add(1)
		go func(orderID uint64) {
			defer wg.Done()
			job := port.FulfillmentJob{JobID: "job-herd", OrderID: orderID, JobType: domain.JobTypeOrderProcessing}
			results[orderID-1] = processor.ProcessAttempt(context.Background(), job, 1)
		}(i)
	}
	wg.Wait()

	completed := 0
	for _, result := range results {
		if result.Completed {
			completed++
		}
	}
	assert.Equal(t, 3, completed, "exactly the available stock gets fulfilled")
	assert.GreaterOrEqual(t, store.product(1).StockQuantity, 0)
	assert.Equal(t, 0, store.product(1).StockQuantity)
}

func TestStockLedgerIncreaseSharesConditionalUpdateDiscipline(t *testing.T) {
	_, store := setupProcessor(t)
	store.addProduct(domain.Product{ID: 1, Name: "Demo Gadget", Price: decimal.NewFromInt(100), StockQuantity: 10})

	tx := newMemTxManager(store)
	err := tx.WithinTx(context.Background(), func(ctx context.Context, uow domain.UnitOfWork) error {
		newStock, err := uow.Stock().Increase(ctx, 1, 5, 10)
		if err != nil {
			return err
		}
		assert.Equal(t, 15, newStock)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 15, store.product(1).StockQuantity)

	// 过期的读值必须触发冲突，而不是盲目加库存
	err = tx.WithinTx(context.Background(), func(ctx context.Context, uow domain.UnitOfWork) error {
		_, err := uow.Stock().Increase(ctx, 1, 5, 10)
		return err
	})
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 15, store.product(1).StockQuantity, "failed CAS leaves stock untouched")
}

func TestHandleExhaustedIsIdempotent(t *testing.T) {
	processor, store := setupProcessor(t)
	seedFulfillableOrder(store)

	cause := errors.New("delivery ceiling exceeded")
	processor.HandleExhausted(context.Background(), testJob(), cause)
	processor.HandleExhausted(context.Background(), testJob(), cause)

	order := store.order(testOrderID)
	assert.Equal(t, domain.StatusFailed, order.Status)

	// 没有现成记录时补建一条，第二次调用复用同一条
	assert.Equal(t, 1, store.attemptCount(testOrderID))
	record := store.latestAttempt(testOrderID)
	require.NotNil(t, record)
	assert.Equal(t, domain.AttemptFailed, record.Status)
	assert.Contains(t, record.ErrorMessage, "delivery ceiling exceeded")
}

func TestHandleExhaustedDoesNotTouchCompletedOrder(t *testing.T) {
	processor, store := setupProcessor(t)
	seedFulfillableOrder(store)

	result := processor.ProcessAttempt(context.Background(), testJob(), 1)
	require.True(t, result.Completed)

	// 崩溃恢复后的安全网迟到：已完成的订单和记录都不能被改写
	processor.HandleExhausted(context.Background(), testJob(), errors.New("late safety net"))

	assert.Equal(t, domain.StatusCompleted, store.order(testOrderID).Status)
	assert.Equal(t, domain.AttemptCompleted, store.latestAttempt(testOrderID).Status)
}
