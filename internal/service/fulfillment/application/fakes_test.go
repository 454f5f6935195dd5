// internal/service/fulfillment/application/fakes_test.go
package application

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"shopflow/internal/service/fulfillment/domain"
	"shopflow/internal/service/fulfillment/port"
)

// memStore 是一套内存仓储，配合 memTxManager 模拟"要么全提交、要么全回滚"的事务语义。
// beforeDecrement 钩子用于在读取和条件扣减之间注入并发修改，复现库存版本冲突。
type memStore struct {
	mu sync.Mutex

	orders   map[uint64]*domain.Order
	items    map[uint64][]domain.OrderLineItem
	products map[uint64]*domain.Product
	attempts []*domain.ProcessingAttempt

	nextAttemptID uint64

	beforeDecrement func(productID uint64)
}

func newMemStore() *memStore {
	return &memStore{
		orders:   make(map[uint64]*domain.Order),
		items:    make(map[uint64][]domain.OrderLineItem),
		products: make(map[uint64]*domain.Product),
	}
}

func (s *memStore) addOrder(order *domain.Order, items ...domain.OrderLineItem) {
	cp := *order
	s.orders[order.ID] = &cp
	s.items[order.ID] = append([]domain.OrderLineItem(nil), items...)
}

func (s *memStore) addProduct(p domain.Product) {
	cp := p
	s.products[p.ID] = &cp
}

func (s *memStore) order(id uint64) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

func (s *memStore) product(id uint64) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.products[id]
}

func (s *memStore) latestAttempt(orderID uint64) *domain.ProcessingAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.attempts) - 1; i >= 0; i-- {
		if s.attempts[i].OrderID == orderID {
			cp := *s.attempts[i]
			return &cp
		}
	}
	return nil
}

func (s *memStore) attemptCount(orderID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.attempts {
		if a.OrderID == orderID {
			n++
		}
	}
	return n
}

// snapshot 深拷贝全部可变状态，restore 用于回滚
type storeSnapshot struct {
	orders        map[uint64]*domain.Order
	items         map[uint64][]domain.OrderLineItem
	products      map[uint64]*domain.Product
	attempts      []*domain.ProcessingAttempt
	nextAttemptID uint64
}

func (s *memStore) snapshot() storeSnapshot {
	snap := storeSnapshot{
		orders:        make(map[uint64]*domain.Order, len(s.orders)),
		items:         make(map[uint64][]domain.OrderLineItem, len(s.items)),
		products:      make(map[uint64]*domain.Product, len(s.products)),
		attempts:      make([]*domain.ProcessingAttempt, len(s.attempts)),
		nextAttemptID: s.nextAttemptID,
	}
	for id, o := range s.orders {
		cp := *o
		snap.orders[id] = &cp
	}
	for id, list := range s.items {
		snap.items[id] = append([]domain.OrderLineItem(nil), list...)
	}
	for id, p := range s.products {
		cp := *p
		snap.products[id] = &cp
	}
	for i, a := range s.attempts {
		cp := *a
		snap.attempts[i] = &cp
	}
	return snap
}

func (s *memStore) restore(snap storeSnapshot) {
	s.orders = snap.orders
	s.items = snap.items
	s.products = snap.products
	s.attempts = snap.attempts
	s.nextAttemptID = snap.nextAttemptID
}

// memTxManager 在每次 WithinTx 前打快照，fn 返回错误时整体回滚
type memTxManager struct {
	store *memStore
}

func newMemTxManager(store *memStore) *memTxManager {
	return &memTxManager{store: store}
}

func (m *memTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, uow domain.UnitOfWork) error) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	snap := m.store.snapshot()
	if err := fn(ctx, &memUnitOfWork{store: m.store}); err != nil {
		m.store.restore(snap)
		return err
	}
	return nil
}

type memUnitOfWork struct {
	store *memStore
}

func (u *memUnitOfWork) Orders() domain.OrderRepository { return &memOrderRepo{store: u.store} }

func (u *memUnitOfWork) Attempts() domain.AttemptRepository {
	return &memAttemptRepo{store: u.store}
}

func (u *memUnitOfWork) Stock() domain.StockLedger { return &memStockLedger{store: u.store} }

type memOrderRepo struct {
	store *memStore
}

func (r *memOrderRepo) FindByID(ctx context.Context, id uint64) (*domain.Order, error) {
	order, ok := r.store.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (r *memOrderRepo) LockEligible(ctx context.Context, id uint64, eligible []domain.OrderStatus) (*domain.Order, error) {
	order, ok := r.store.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	for _, status := range eligible {
		if order.Status == status {
			cp := *order
			return &cp, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (r *memOrderRepo) Items(ctx context.Context, orderID uint64) ([]domain.OrderLineItem, error) {
	return append([]domain.OrderLineItem(nil), r.store.items[orderID]...), nil
}

func (r *memOrderRepo) Create(ctx context.Context, order *domain.Order) error {
	cp := *order
	r.store.orders[order.ID] = &cp
	return nil
}

func (r *memOrderRepo) Update(ctx context.Context, order *domain.Order) error {
	cp := *order
	r.store.orders[order.ID] = &cp
	return nil
}

type memAttemptRepo struct {
	store *memStore
}

func (r *memAttemptRepo) HasInFlight(ctx context.Context, orderID uint64) (bool, error) {
	for _, a := range r.store.attempts {
		if a.OrderID == orderID && a.Status.IsInFlight() {
			return true, nil
		}
	}
	return false, nil
}

func (r *memAttemptRepo) Create(ctx context.Context, attempt *domain.ProcessingAttempt) error {
	r.store.nextAttemptID++
	attempt.ID = r.store.nextAttemptID
	cp := *attempt
	r.store.attempts = append(r.store.attempts, &cp)
	return nil
}

func (r *memAttemptRepo) FindOrCreateInFlight(ctx context.Context, orderID uint64, jobType string) (*domain.ProcessingAttempt, error) {
	for i := len(r.store.attempts) - 1; i >= 0; i-- {
		a := r.store.attempts[i]
		if a.OrderID == orderID && a.JobType == jobType && a.Status.IsInFlight() {
			cp := *a
			return &cp, nil
		}
	}
	attempt := domain.NewProcessingAttempt(orderID, jobType, "")
	if err := r.Create(ctx, attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

func (r *memAttemptRepo) FindLatest(ctx context.Context, orderID uint64, jobType string) (*domain.ProcessingAttempt, error) {
	for i := len(r.store.attempts) - 1; i >= 0; i-- {
		a := r.store.attempts[i]
		if a.OrderID == orderID && a.JobType == jobType {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memAttemptRepo) Update(ctx context.Context, attempt *domain.ProcessingAttempt) error {
	for i, a := range r.store.attempts {
		if a.ID == attempt.ID {
			cp := *attempt
			r.store.attempts[i] = &cp
			return nil
		}
	}
	cp := *attempt
	r.store.attempts = append(r.store.attempts, &cp)
	return nil
}

type memStockLedger struct {
	store *memStore
}

func (l *memStockLedger) FindProduct(ctx context.Context, productID uint64) (*domain.Product, error) {
	product, ok := l.store.products[productID]
	if !ok {
		return nil, errors.Errorf("product %d not found", productID)
	}
	cp := *product
	return &cp, nil
}

func (l *memStockLedger) TryDecrement(ctx context.Context, productID uint64, quantity, expected int) (int, error) {
	if l.store.beforeDecrement != nil {
		l.store.beforeDecrement(productID)
	}
	product := l.store.products[productID]
	if product.StockQuantity != expected {
		return 0, &domain.StockConflictError{
			ProductID: product.ID,
			Name:      product.Name,
			Expected:  expected,
			Observed:  product.StockQuantity,
		}
	}
	newStock := product.StockQuantity - quantity
	if newStock < 0 {
		return 0, &domain.InsufficientStockError{Shortages: []domain.StockShortage{{
			ProductID: product.ID,
			Name:      product.Name,
			Requested: quantity,
			Available: product.StockQuantity,
		}}}
	}
	product.StockQuantity = newStock
	return newStock, nil
}

func (l *memStockLedger) Increase(ctx context.Context, productID uint64, quantity, expected int) (int, error) {
	product := l.store.products[productID]
	if product.StockQuantity != expected {
		return 0, &domain.StockConflictError{
			ProductID: product.ID,
			Name:      product.Name,
			Expected:  expected,
			Observed:  product.StockQuantity,
		}
	}
	product.StockQuantity += quantity
	return product.StockQuantity, nil
}

// memQueue 记录全部入队调用，failWith 非空时入队失败
type memQueue struct {
	mu       sync.Mutex
	enqueued []enqueuedJob
	failWith error
}

type enqueuedJob struct {
	job     port.FulfillmentJob
	delay   time.Duration
	attempt int
}

func (q *memQueue) Enqueue(ctx context.Context, job port.FulfillmentJob, delay time.Duration, attempt int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failWith != nil {
		return q.failWith
	}
	q.enqueued = append(q.enqueued, enqueuedJob{job: job, delay: delay, attempt: attempt})
	return nil
}

func (q *memQueue) calls() []enqueuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]enqueuedJob(nil), q.enqueued...)
}
