package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/repairflow/internal/shared"
	"github.com/odyssey-erp/repairflow/internal/work"
)

type stockKey struct{ product, warehouse string }

type memoryRepo struct {
	mu         sync.Mutex
	stocks     map[stockKey]Stock
	transfers  map[string]Transfer
	seq        []string
	prices     map[string]decimal.Decimal
	names      map[string]string
	orders     map[string]work.Status
	summaryRun atomic.Int32
	// beforeTx runs ahead of every transaction, outside the lock.
	beforeTx func()
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		stocks:    map[stockKey]Stock{},
		transfers: map[string]Transfer{},
		prices:    map[string]decimal.Decimal{},
		names:     map[string]string{},
		orders:    map[string]work.Status{},
	}
}

func (m *memoryRepo) setOrder(uuid string, status work.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[uuid] = status
}

func (m *memoryRepo) setStock(product, warehouse string, qty int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stocks[stockKey{product, warehouse}] = Stock{ProductUUID: product, WarehouseUUID: warehouse, Quantity: decimal.NewFromInt(qty)}
}

func (m *memoryRepo) stock(product, warehouse string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stocks[stockKey{product, warehouse}].Quantity
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.beforeTx != nil {
		m.beforeTx()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stocks, transfers, seq := maps.Clone(m.stocks), maps.Clone(m.transfers), append([]string(nil), m.seq...)
	if err := fn(ctx, &memoryTx{m: m}); err != nil {
		m.stocks, m.transfers, m.seq = stocks, transfers, seq
		return err
	}
	return nil
}

func (m *memoryRepo) GetTransfer(_ context.Context, uuid string) (Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[uuid]
	if !ok {
		return Transfer{}, fmt.Errorf("transfer %s: %w", uuid, shared.ErrNotFound)
	}
	return t, nil
}

func (m *memoryRepo) GetStock(_ context.Context, product, warehouse string) (Stock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stockOrZero(product, warehouse), nil
}

func (m *memoryRepo) stockOrZero(product, warehouse string) Stock {
	s, ok := m.stocks[stockKey{product, warehouse}]
	if !ok {
		return Stock{ProductUUID: product, WarehouseUUID: warehouse, Quantity: decimal.Zero}
	}
	return s
}

func (m *memoryRepo) summaries(orderUUID string) []TransferSummary {
	totals := map[stockKey]decimal.Decimal{}
	for _, id := range m.seq {
		t, ok := m.transfers[id]
		if !ok || t.OrderUUID != orderUUID {
			continue
		}
		k := stockKey{t.ProductUUID, t.WarehouseUUID}
		totals[k] = totals[k].Add(t.Quantity)
	}
	var out []TransferSummary
	for k, qty := range totals {
		if qty.IsZero() {
			continue
		}
		out = append(out, TransferSummary{
			ProductUUID:   k.product,
			ProductName:   m.names[k.product],
			WarehouseUUID: k.warehouse,
			WarehouseName: m.names[k.warehouse],
			Quantity:      qty,
			UnitPrice:     m.prices[k.product],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductUUID == out[j].ProductUUID {
			return out[i].WarehouseUUID < out[j].WarehouseUUID
		}
		return out[i].ProductUUID < out[j].ProductUUID
	})
	return out
}

func (m *memoryRepo) EachOrderSummary(_ context.Context, orderUUID string, fn func(TransferSummary) bool) error {
	m.summaryRun.Add(1)
	m.mu.Lock()
	rows := m.summaries(orderUUID)
	m.mu.Unlock()
	for _, row := range rows {
		if !fn(row) {
			return nil
		}
	}
	return nil
}

func (m *memoryRepo) NegativeStocks(_ context.Context, limit int) ([]Stock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Stock
	for _, s := range m.stocks {
		if s.Quantity.IsNegative() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quantity.LessThan(out[j].Quantity) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryTx struct {
	m *memoryRepo
}

func (t *memoryTx) LockOrder(_ context.Context, uuid string) (work.Order, error) {
	status, ok := t.m.orders[uuid]
	if !ok {
		return work.Order{}, fmt.Errorf("order %s: %w", uuid, shared.ErrNotFound)
	}
	return work.Order{UUID: uuid, Status: status}, nil
}

func (t *memoryTx) LockStock(_ context.Context, product, warehouse string) (Stock, error) {
	return t.m.stockOrZero(product, warehouse), nil
}

func (t *memoryTx) SaveStock(_ context.Context, s Stock) error {
	t.m.stocks[stockKey{s.ProductUUID, s.WarehouseUUID}] = s
	return nil
}

func (t *memoryTx) InsertTransfer(_ context.Context, tr Transfer) error {
	t.m.transfers[tr.UUID] = tr
	t.m.seq = append(t.m.seq, tr.UUID)
	return nil
}

func (t *memoryTx) LockTransfer(_ context.Context, uuid string) (Transfer, error) {
	tr, ok := t.m.transfers[uuid]
	if !ok {
		return Transfer{}, fmt.Errorf("transfer %s: %w", uuid, shared.ErrNotFound)
	}
	return tr, nil
}

func (t *memoryTx) UpdateTransfer(_ context.Context, tr Transfer) error {
	if _, ok := t.m.transfers[tr.UUID]; !ok {
		return fmt.Errorf("transfer %s: %w", tr.UUID, shared.ErrNotFound)
	}
	t.m.transfers[tr.UUID] = tr
	return nil
}

func (t *memoryTx) DeleteTransfer(_ context.Context, uuid string) error {
	if _, ok := t.m.transfers[uuid]; !ok {
		return fmt.Errorf("transfer %s: %w", uuid, shared.ErrNotFound)
	}
	delete(t.m.transfers, uuid)
	return nil
}

func (t *memoryTx) OrderSummaries(_ context.Context, orderUUID string) ([]TransferSummary, error) {
	return t.m.summaries(orderUUID), nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (i *memoryIdempotency) Claim(_ context.Context, scope, key string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.keys == nil {
		i.keys = map[string]bool{}
	}
	if i.keys[scope+"/"+key] {
		return shared.ErrIdempotencyConflict
	}
	i.keys[scope+"/"+key] = true
	return nil
}

func (i *memoryIdempotency) Release(_ context.Context, scope, key string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.keys, scope+"/"+key)
	return nil
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *countingObserver) ObserveTransfer(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[outcome]++
}

func (o *countingObserver) get(outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[outcome]
}
