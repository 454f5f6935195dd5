// internal/service/fulfillment/application/dispatcher_test.go
package application

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"shopflow/internal/service/fulfillment/domain"
)

func setupDispatcher(t *testing.T) (*Dispatcher, *memStore, *memQueue) {
	t.Helper()
	store := newMemStore()
	queue := &memQueue{}
	dispatcher := NewDispatcher(newMemTxManager(store), queue, domain.DefaultRetryPolicy(), otel.Tracer("test"))
	return dispatcher, store, queue
}

func TestDispatchEnqueuesJobWithInitialDelay(t *testing.T) {
	dispatcher, store, queue := setupDispatcher(t)
	seedFulfillableOrder(store)

	result, err := dispatcher.Dispatch(context.Background(), testOrderID)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, testOrderID, result.OrderID)
	assert.NotEmpty(t, result.QueueJobID)
	assert.NotZero(t, result.AttemptID)

	calls := queue.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, testOrderID, calls[0].job.OrderID)
	assert.Equal(t, domain.JobTypeOrderProcessing, calls[0].job.JobType)
	assert.Equal(t, 2*time.Second, calls[0].delay, "initial delay leaves the dispatch transaction a commit window")
	assert.Equal(t, 1, calls[0].attempt)

	// 派发不改订单状态，状态流转是 worker 的事
	assert.Equal(t, domain.StatusPending, store.order(testOrderID).Status)

	record := store.latestAttempt(testOrderID)
	require.NotNil(t, record)
	assert.Equal(t, domain.AttemptPending, record.Status)
	assert.Equal(t, result.QueueJobID, record.QueueJobID)
}

func TestDispatchRejectsDuplicate(t *testing.T) {
	dispatcher, store, queue := setupDispatcher(t)
	seedFulfillableOrder(store)

	_, err := dispatcher.Dispatch(context.Background(), testOrderID)
	require.NoError(t, err)

	_, err = dispatcher.Dispatch(context.Background(), testOrderID)
	require.ErrorIs(t, err, domain.ErrAlreadyInFlight)

	assert.Len(t, queue.calls(), 1, "duplicate dispatch must not enqueue a second job")
	assert.Equal(t, 1, store.attemptCount(testOrderID))
}

func TestDispatchAllowsRedispatchAfterTerminalRecord(t *testing.T) {
	dispatcher, store, queue := setupDispatcher(t)
	seedFulfillableOrder(store)
	store.orders[testOrderID].Status = domain.StatusProcessing

	// 上一轮已失败收口的记录不阻塞重新派发
	stale := domain.NewProcessingAttempt(testOrderID, domain.JobTypeOrderProcessing, "job-old")
	stale.MarkFailed("previous round exhausted", time.Now().UTC())
	require.NoError(t, (&memAttemptRepo{store: store}).Create(context.Background(), stale))

	result, err := dispatcher.Dispatch(context.Background(), testOrderID)

	require.NoError(t, err)
	assert.NotEqual(t, "job-old", result.QueueJobID)
	assert.Len(t, queue.calls(), 1)
	assert.Equal(t, 2, store.attemptCount(testOrderID))
}

func TestDispatchRejectsIneligibleOrder(t *testing.T) {
	dispatcher, store, queue := setupDispatcher(t)

	for _, status := range []domain.OrderStatus{domain.StatusCompleted, domain.StatusCancelled, domain.StatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			order := &domain.Order{ID: 100, UserID: 7, OrderNumber: "ORD-TERMINAL", Status: status, TotalAmount: decimal.NewFromInt(10)}
			store.addOrder(order)

			_, err := dispatcher.Dispatch(context.Background(), 100)
			require.ErrorIs(t, err, domain.ErrOrderNotFound)
		})
	}
	assert.Empty(t, queue.calls())
}

func TestDispatchUnknownOrder(t *testing.T) {
	dispatcher, _, queue := setupDispatcher(t)

	_, err := dispatcher.Dispatch(context.Background(), 999)

	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Empty(t, queue.calls())
}

func TestDispatchEnqueueFailureLeavesNoRecord(t *testing.T) {
	dispatcher, store, queue := setupDispatcher(t)
	seedFulfillableOrder(store)
	queue.failWith = errors.New("broker unavailable")

	_, err := dispatcher.Dispatch(context.Background(), testOrderID)

	require.Error(t, err)
	// 入队失败时整个事务回滚，不留下会永远阻塞后续派发的悬空记录
	assert.Equal(t, 0, store.attemptCount(testOrderID))

	queue.failWith = nil
	_, err = dispatcher.Dispatch(context.Background(), testOrderID)
	require.NoError(t, err, "order must stay dispatchable after a failed enqueue")
}
