// Package worktest provides an in-memory work repository for tests.
package worktest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/odyssey-erp/repairflow/internal/shared"
	"github.com/odyssey-erp/repairflow/internal/work"
)

// Memory implements work.RepositoryPort. WithTx holds one mutex for the whole callback, standing in
// for the order row lock, and restores the previous state when the callback fails.
type Memory struct {
	mu        sync.Mutex
	nextID    int64
	orders    map[string]work.Order
	diagnoses map[string]work.Diagnosis
	processes map[string]work.Process

	// Delivered reports the derived delivered flag of an order. Nil means never delivered.
	Delivered func(orderUUID string) bool
	// BeforeCommit, when set, runs after a successful callback and can veto the commit.
	BeforeCommit func() error
}

// NewMemory returns an empty repository.
func NewMemory() *Memory {
	return &Memory{
		orders:    map[string]work.Order{},
		diagnoses: map[string]work.Diagnosis{},
		processes: map[string]work.Process{},
	}
}

type snapshot struct {
	nextID    int64
	orders    map[string]work.Order
	diagnoses map[string]work.Diagnosis
	processes map[string]work.Process
}

func (m *Memory) snapshot() snapshot {
	return snapshot{nextID: m.nextID, orders: maps.Clone(m.orders), diagnoses: maps.Clone(m.diagnoses), processes: maps.Clone(m.processes)}
}

func (m *Memory) restore(s snapshot) {
	m.nextID, m.orders, m.diagnoses, m.processes = s.nextID, s.orders, s.diagnoses, s.processes
}

// WithTx runs fn serialised with every other transaction.
func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, work.TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshot()
	err := fn(ctx, &memoryTx{m: m})
	if err == nil && m.BeforeCommit != nil {
		err = m.BeforeCommit()
	}
	if err != nil {
		m.restore(snap)
	}
	return err
}

// GetOrder loads an order.
func (m *Memory) GetOrder(_ context.Context, uuid string) (work.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order(uuid)
}

// GetDiagnosis loads a diagnosis.
func (m *Memory) GetDiagnosis(_ context.Context, uuid string) (work.Diagnosis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.diagnosis(uuid)
}

// ListPendingDiagnoses lists diagnoses not yet sent to repair, newest first.
func (m *Memory) ListPendingDiagnoses(_ context.Context, limit, offset int) ([]work.Diagnosis, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []work.Diagnosis
	for _, d := range m.diagnoses {
		if !d.IsProceedToRepair {
			pending = append(pending, cloneDiagnosis(d))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].UUID > pending[j].UUID
		}
		return pending[i].CreatedAt.After(pending[j].CreatedAt)
	})
	total := len(pending)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	return pending[offset:end], total, nil
}

// ListProcesses returns the processes of a diagnosis.
func (m *Memory) ListProcesses(_ context.Context, diagnosisUUID string) ([]work.Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processesOf(diagnosisUUID), nil
}

// Order returns the stored order for assertions.
func (m *Memory) Order(uuid string) work.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, _ := m.order(uuid)
	return o
}

// Orders returns every stored order, oldest first.
func (m *Memory) Orders() []work.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]work.Order, 0, len(m.orders))
	for uuid := range m.orders {
		o, _ := m.order(uuid)
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetStatus forces an order status, for arranging tests.
func (m *Memory) SetStatus(uuid string, status work.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[uuid]
	o.Status = status
	m.orders[uuid] = o
}

func (m *Memory) order(uuid string) (work.Order, error) {
	o, ok := m.orders[uuid]
	if !ok {
		return work.Order{}, fmt.Errorf("order %s: %w", uuid, shared.ErrNotFound)
	}
	o = cloneOrder(o)
	if m.Delivered != nil {
		o.Delivered = m.Delivered(uuid)
	}
	return o, nil
}

func (m *Memory) diagnosis(uuid string) (work.Diagnosis, error) {
	d, ok := m.diagnoses[uuid]
	if !ok {
		return work.Diagnosis{}, fmt.Errorf("diagnosis %s: %w", uuid, shared.ErrNotFound)
	}
	return cloneDiagnosis(d), nil
}

func (m *Memory) processesOf(diagnosisUUID string) []work.Process {
	var out []work.Process
	for _, p := range m.processes {
		if p.DiagnosisUUID == diagnosisUUID {
			out = append(out, cloneProcess(p))
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

func (t *memoryTx) InsertOrder(_ context.Context, o work.Order) (work.Order, error) {
	if _, ok := t.m.orders[o.UUID]; ok {
		return work.Order{}, fmt.Errorf("order %s already exists", o.UUID)
	}
	t.m.nextID++
	o.ID = t.m.nextID
	o.UpdatedAt = o.CreatedAt
	o.Problems = nil
	t.m.orders[o.UUID] = cloneOrder(o)
	return o, nil
}

func (t *memoryTx) LockOrder(_ context.Context, uuid string) (work.Order, error) {
	return t.m.order(uuid)
}

func (t *memoryTx) UpdateOrder(_ context.Context, o work.Order) error {
	stored, ok := t.m.orders[o.UUID]
	if !ok {
		return fmt.Errorf("order %s: %w", o.UUID, shared.ErrNotFound)
	}
	o.Problems = stored.Problems
	o.Delivered = false
	t.m.orders[o.UUID] = cloneOrder(o)
	return nil
}

func (t *memoryTx) AppendProblems(_ context.Context, orderUUID string, entries []work.ProblemEntry) error {
	o, ok := t.m.orders[orderUUID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderUUID, shared.ErrNotFound)
	}
	log := slices.Clone(o.Problems)
	for _, e := range entries {
		if !slices.ContainsFunc(log, func(x work.ProblemEntry) bool {
			return x.Stage == e.Stage && x.ProblemUUID == e.ProblemUUID
		}) {
			log = append(log, e)
		}
	}
	o.Problems = log
	t.m.orders[orderUUID] = o
	return nil
}

func (t *memoryTx) ListDiagnoses(_ context.Context, orderUUID string) ([]work.Diagnosis, error) {
	var out []work.Diagnosis
	for _, d := range t.m.diagnoses {
		if d.OrderUUID == orderUUID {
			out = append(out, cloneDiagnosis(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memoryTx) LockDiagnosis(_ context.Context, uuid string) (work.Diagnosis, error) {
	return t.m.diagnosis(uuid)
}

func (t *memoryTx) InsertDiagnosis(_ context.Context, d work.Diagnosis) error {
	t.m.diagnoses[d.UUID] = cloneDiagnosis(d)
	return nil
}

func (t *memoryTx) UpdateDiagnosis(_ context.Context, d work.Diagnosis) error {
	if _, ok := t.m.diagnoses[d.UUID]; !ok {
		return fmt.Errorf("diagnosis %s: %w", d.UUID, shared.ErrNotFound)
	}
	t.m.diagnoses[d.UUID] = cloneDiagnosis(d)
	return nil
}

func (t *memoryTx) LockProcesses(_ context.Context, diagnosisUUID string) ([]work.Process, error) {
	return t.m.processesOf(diagnosisUUID), nil
}

func (t *memoryTx) InsertProcess(_ context.Context, p work.Process) error {
	for _, existing := range t.m.processes {
		if existing.DiagnosisUUID == p.DiagnosisUUID && existing.SectionUUID == p.SectionUUID {
			return fmt.Errorf("process for section %s already exists", p.SectionUUID)
		}
	}
	t.m.processes[p.UUID] = cloneProcess(p)
	return nil
}

func (t *memoryTx) UpdateProcess(_ context.Context, p work.Process) error {
	if _, ok := t.m.processes[p.UUID]; !ok {
		return fmt.Errorf("process %s: %w", p.UUID, shared.ErrNotFound)
	}
	t.m.processes[p.UUID] = cloneProcess(p)
	return nil
}

func cloneOrder(o work.Order) work.Order {
	o.Accessories = slices.Clone(o.Accessories)
	o.Problems = slices.Clone(o.Problems)
	return o
}

func cloneDiagnosis(d work.Diagnosis) work.Diagnosis {
	d.ProblemsUUID = slices.Clone(d.ProblemsUUID)
	return d
}

func cloneProcess(p work.Process) work.Process {
	p.ProblemsUUID = slices.Clone(p.ProblemsUUID)
	return p
}
