// Package deliverytest provides an in-memory delivery repository for tests.
package deliverytest

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/odyssey-erp/repairflow/internal/delivery"
	"github.com/odyssey-erp/repairflow/internal/shared"
	"github.com/odyssey-erp/repairflow/internal/work"
)

// OrderSource supplies the orders challans may carry.
type OrderSource interface {
	Lookup(uuid string) (delivery.OrderRef, bool)
	All() []delivery.OrderRef
}

// OrderTable is a standalone OrderSource.
type OrderTable struct {
	mu   sync.Mutex
	rows map[string]delivery.OrderRef
}

// NewOrderTable returns an empty table.
func NewOrderTable() *OrderTable {
	return &OrderTable{rows: map[string]delivery.OrderRef{}}
}

// Put stores or replaces an order.
func (t *OrderTable) Put(ref delivery.OrderRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[ref.UUID] = ref
}

// Lookup implements OrderSource.
func (t *OrderTable) Lookup(uuid string) (delivery.OrderRef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref, ok := t.rows[uuid]
	return ref, ok
}

// All implements OrderSource.
func (t *OrderTable) All() []delivery.OrderRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]delivery.OrderRef, 0, len(t.rows))
	for _, ref := range t.rows {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Memory implements delivery.RepositoryPort. Transactions are serialised by txMu; data is guarded by a
// separate lock so Delivered can be read while a transaction is running.
type Memory struct {
	txMu     sync.Mutex
	mu       sync.RWMutex
	nextID   int64
	challans map[string]delivery.Challan
	entries  map[string]delivery.Entry // keyed by order uuid
	orders   OrderSource
}

// NewMemory returns an empty repository over orders.
func NewMemory(orders OrderSource) *Memory {
	return &Memory{
		challans: map[string]delivery.Challan{},
		entries:  map[string]delivery.Entry{},
		orders:   orders,
	}
}

// WithTx runs fn serialised with every other transaction, rolling back on error.
func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, delivery.TxRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.RLock()
	nextID, challans, entries := m.nextID, maps.Clone(m.challans), maps.Clone(m.entries)
	m.mu.RUnlock()
	if err := fn(ctx, &memoryTx{m: m}); err != nil {
		m.mu.Lock()
		m.nextID, m.challans, m.entries = nextID, challans, entries
		m.mu.Unlock()
		return err
	}
	return nil
}

// GetChallan loads a challan with its entries.
func (m *Memory) GetChallan(_ context.Context, uuid string) (delivery.Challan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.challans[uuid]
	if !ok {
		return delivery.Challan{}, fmt.Errorf("challan %s: %w", uuid, shared.ErrNotFound)
	}
	c.Entries = m.entriesOf(uuid)
	return c, nil
}

// ReadyOrders lists ready orders that are on no challan.
func (m *Memory) ReadyOrders(_ context.Context, limit int) ([]delivery.OrderRef, error) {
	out := []delivery.OrderRef{}
	for _, ref := range m.orders.All() {
		if ref.Status != work.StatusReadyForDelivery || m.manifestedOn(ref.UUID) != "" {
			continue
		}
		out = append(out, ref)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// IsDelivered reports whether a completed challan carries the order.
func (m *Memory) IsDelivered(_ context.Context, orderUUID string) (bool, error) {
	return m.Delivered(orderUUID), nil
}

// Delivered is IsDelivered without the context, for wiring into other test repositories.
func (m *Memory) Delivered(orderUUID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[orderUUID]
	if !ok {
		return false
	}
	return m.challans[e.ChallanUUID].IsDeliveryComplete
}

func (m *Memory) manifestedOn(orderUUID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[orderUUID].ChallanUUID
}

func (m *Memory) entriesOf(challanUUID string) []delivery.Entry {
	out := []delivery.Entry{}
	for _, e := range m.entries {
		if e.ChallanUUID == challanUUID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UUID < out[j].UUID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type memoryTx struct {
	m *Memory
}

func (t *memoryTx) InsertChallan(_ context.Context, c *delivery.Challan) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.m.nextID++
	c.ID = t.m.nextID
	stored := *c
	stored.Entries = nil
	t.m.challans[c.UUID] = stored
	return nil
}

func (t *memoryTx) LockChallan(ctx context.Context, uuid string) (delivery.Challan, error) {
	c, err := t.m.GetChallan(ctx, uuid)
	if err != nil {
		return delivery.Challan{}, err
	}
	c.Entries = nil
	return c, nil
}

func (t *memoryTx) UpdateChallan(_ context.Context, c delivery.Challan) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if _, ok := t.m.challans[c.UUID]; !ok {
		return fmt.Errorf("challan %s: %w", c.UUID, shared.ErrNotFound)
	}
	c.Entries = nil
	t.m.challans[c.UUID] = c
	return nil
}

func (t *memoryTx) ListEntries(_ context.Context, challanUUID string) ([]delivery.Entry, error) {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	return t.m.entriesOf(challanUUID), nil
}

func (t *memoryTx) LockOrder(_ context.Context, orderUUID string) (delivery.OrderRef, error) {
	ref, ok := t.m.orders.Lookup(orderUUID)
	if !ok {
		return delivery.OrderRef{}, fmt.Errorf("order %s: %w", orderUUID, shared.ErrNotFound)
	}
	ref.ChallanUUID = t.m.manifestedOn(orderUUID)
	return ref, nil
}

func (t *memoryTx) InsertEntry(_ context.Context, e delivery.Entry) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if _, ok := t.m.entries[e.OrderUUID]; ok {
		return fmt.Errorf("%w: order %s", shared.ErrOrderAlreadyManifested, e.OrderUUID)
	}
	t.m.entries[e.OrderUUID] = e
	return nil
}

func (t *memoryTx) DeleteEntry(_ context.Context, challanUUID, orderUUID string) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	e, ok := t.m.entries[orderUUID]
	if !ok || e.ChallanUUID != challanUUID {
		return fmt.Errorf("order %s on challan %s: %w", orderUUID, challanUUID, shared.ErrNotFound)
	}
	delete(t.m.entries, orderUUID)
	return nil
}
