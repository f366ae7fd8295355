package work_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/repairflow/internal/work"
	"github.com/odyssey-erp/repairflow/internal/work/worktest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []work.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note work.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

func (n *recordingNotifier) kinds() []work.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]work.NotificationKind, 0, len(n.sent))
	for _, note := range n.sent {
		out = append(out, note.Kind)
	}
	return out
}

type recordingObserver struct {
	mu    sync.Mutex
	edges []string
}

func (o *recordingObserver) ObserveTransition(_, from, to string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.edges = append(o.edges, from+">"+to)
}

func (o *recordingObserver) count(from, to work.Status) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.edges {
		if e == string(from)+">"+string(to) {
			n++
		}
	}
	return n
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	repo     *worktest.Memory
	svc      *work.Service
	notifier *recordingNotifier
	observer *recordingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		repo:     worktest.NewMemory(),
		notifier: &recordingNotifier{},
		observer: &recordingObserver{},
	}
	c := &clock{now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	f.svc = work.NewService(f.repo, work.ServiceDeps{
		Notifier: f.notifier,
		Metrics:  f.observer,
		Now:      c.Now,
	}, work.ServiceConfig{})
	return f
}

func (f *fixture) createOrder(diagnosisNeed bool) work.Order {
	f.t.Helper()
	order, err := f.svc.CreateOrder(f.ctx, work.CreateOrderInput{
		SerialNo:        "sn-" + uuid.NewString()[:8],
		ProblemsUUID:    []string{"p-intake"},
		IsDiagnosisNeed: diagnosisNeed,
	})
	require.NoError(f.t, err)
	return order
}

func (f *fixture) diagnose(order work.Order) work.Diagnosis {
	f.t.Helper()
	d, err := f.svc.RecordDiagnosis(f.ctx, work.DiagnosisInput{OrderUUID: order.UUID, ProblemsUUID: []string{"p-diag"}})
	require.NoError(f.t, err)
	return d
}

// acceptedOrder returns an order in repair with an accepted diagnosis and secs registered on it.
func (f *fixture) acceptedOrder(secs ...string) (work.Order, work.Diagnosis) {
	f.t.Helper()
	order := f.createOrder(true)
	d := f.diagnose(order)
	d, err := f.svc.DecideDiagnosis(f.ctx, work.DecisionInput{
		DiagnosisUUID:     d.UUID,
		Status:            work.DiagnosisAccepted,
		IsProceedToRepair: true,
		Sections:          secs,
	})
	require.NoError(f.t, err)
	require.Equal(f.t, work.StatusRepairInProgress, f.repo.Order(order.UUID).Status)
	return f.repo.Order(order.UUID), d
}

func (f *fixture) step(d work.Diagnosis, section string, transferred bool) (work.ProcessStepResult, error) {
	return f.svc.RecordProcessStep(f.ctx, work.ProcessStepInput{
		DiagnosisUUID:    d.UUID,
		SectionUUID:      section,
		TransferredForQC: transferred,
	})
}

func sections(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = uuid.NewString()
	}
	return out
}
