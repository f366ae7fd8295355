package work_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/repairflow/internal/catalog"
	"github.com/odyssey-erp/repairflow/internal/location"
	"github.com/odyssey-erp/repairflow/internal/shared"
	"github.com/odyssey-erp/repairflow/internal/work"
	"github.com/odyssey-erp/repairflow/internal/work/worktest"
)

func TestCreateOrderDefaults(t *testing.T) {
	f := newFixture(t)

	order, err := f.svc.CreateOrder(f.ctx, work.CreateOrderInput{
		SerialNo:     " ab 12c ",
		ProblemsUUID: []string{"p1", "p1", "p2"},
		Accessories:  []string{"a1", "a1"},
		Actor:        "emp-1",
	})
	require.NoError(t, err)
	require.Equal(t, "AB12C", order.SerialNo)
	require.Equal(t, 1, order.Quantity)
	require.Equal(t, work.StatusIntake, order.Status)
	require.Equal(t, []string{"a1"}, order.Accessories)
	require.Equal(t, []string{"p1", "p2"}, f.repo.Order(order.UUID).Problems.Stage(work.StageIntake))
	require.Equal(t, "WO25-0001", f.svc.DisplayCode(order))
}

type failingLocations struct{}

func (failingLocations) ValidateChain(context.Context, location.Chain) error {
	return shared.Invalid("rack_uuid", "requires warehouse_uuid")
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(f.ctx, work.CreateOrderInput{SerialNo: "   "})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.CreateOrder(f.ctx, work.CreateOrderInput{SerialNo: "x", Quantity: -2})
	require.ErrorIs(t, err, shared.ErrValidation)

	svc := work.NewService(worktest.NewMemory(), work.ServiceDeps{Locations: failingLocations{}}, work.ServiceConfig{})
	rack := "r1"
	_, err = svc.CreateOrder(f.ctx, work.CreateOrderInput{SerialNo: "x", Location: location.Chain{RackUUID: &rack}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestLifecycleWithDiagnosis(t *testing.T) {
	f := newFixture(t)
	secs := sections(2)
	order, d := f.acceptedOrder(secs...)

	res, err := f.step(d, secs[0], false)
	require.NoError(t, err)
	require.False(t, res.TransferredForQC)
	res, err = f.step(d, secs[1], true)
	require.NoError(t, err)
	require.False(t, res.TransferredForQC)
	res, err = f.step(d, secs[0], true)
	require.NoError(t, err)
	require.True(t, res.TransferredForQC)
	require.Equal(t, work.StatusQCPending, res.Order.Status)

	ready, err := f.svc.MarkReadyForDelivery(f.ctx, work.ReadyInput{OrderUUID: order.UUID, BillAmount: decimal.RequireFromString("1250.50")})
	require.NoError(t, err)
	require.Equal(t, work.StatusReadyForDelivery, ready.Status)
	require.True(t, ready.IsProceedToRepair())
	require.True(t, ready.IsTransferredForQC())
	require.True(t, ready.IsReadyForDelivery())
	require.NotNil(t, ready.ReadyForDeliveryDate)
	require.Equal(t, "1250.5", ready.BillAmount.String())

	processes, err := f.svc.ListProcesses(f.ctx, d.UUID)
	require.NoError(t, err)
	require.Len(t, processes, 2)
	for _, p := range processes {
		require.True(t, p.IsTransferredForQC)
		require.True(t, p.IsReadyForDelivery)
	}

	require.Equal(t, []work.NotificationKind{work.NotifyReadyForDelivery}, f.notifier.kinds())
	require.Equal(t, 1, f.observer.count(work.StatusIntake, work.StatusDiagnosisPending))
	require.Equal(t, 1, f.observer.count(work.StatusDiagnosisPending, work.StatusRepairInProgress))
	require.Equal(t, 1, f.observer.count(work.StatusRepairInProgress, work.StatusQCPending))
	require.Equal(t, 1, f.observer.count(work.StatusQCPending, work.StatusReadyForDelivery))
}

func TestRecordDiagnosisRejectsSecondActive(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(true)
	d := f.diagnose(order)

	_, err := f.svc.RecordDiagnosis(f.ctx, work.DiagnosisInput{OrderUUID: order.UUID})
	require.ErrorIs(t, err, shared.ErrDuplicateActiveDiagnosis)

	// accepted without proceeding is still awaiting the customer
	_, err = f.svc.DecideDiagnosis(f.ctx, work.DecisionInput{DiagnosisUUID: d.UUID, Status: work.DiagnosisAccepted})
	require.NoError(t, err)
	_, err = f.svc.RecordDiagnosis(f.ctx, work.DiagnosisInput{OrderUUID: order.UUID})
	require.ErrorIs(t, err, shared.ErrDuplicateActiveDiagnosis)
	require.Equal(t, work.StatusDiagnosisPending, f.repo.Order(order.UUID).Status)
}

func TestRecordDiagnosisRequiresBooking(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(false)

	_, err := f.svc.RecordDiagnosis(f.ctx, work.DiagnosisInput{OrderUUID: order.UUID})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = f.svc.RecordDiagnosis(f.ctx, work.DiagnosisInput{OrderUUID: "missing"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRecordDiagnosisAfterRepairStarted(t *testing.T) {
	f := newFixture(t)
	order, _ := f.acceptedOrder()

	_, err := f.svc.RecordDiagnosis(f.ctx, work.DiagnosisInput{OrderUUID: order.UUID})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestDeclinedDiagnosisRejectsOrder(t *testing.T) {
	for _, status := range []work.DiagnosisStatus{work.DiagnosisRejected, work.DiagnosisNotRepairable} {
		f := newFixture(t)
		order := f.createOrder(true)
		d := f.diagnose(order)

		decided, err := f.svc.DecideDiagnosis(f.ctx, work.DecisionInput{DiagnosisUUID: d.UUID, Status: status})
		require.NoError(t, err)
		require.NotNil(t, decided.StatusUpdateDate)
		require.Equal(t, work.StatusRejected, f.repo.Order(order.UUID).Status)
		require.Equal(t, []work.NotificationKind{work.NotifyDiagnosisDeclined}, f.notifier.kinds())

		_, err = f.svc.DecideDiagnosis(f.ctx, work.DecisionInput{DiagnosisUUID: d.UUID, Status: work.DiagnosisAccepted, IsProceedToRepair: true})
		require.ErrorIs(t, err, shared.ErrInvalidTransition)

		_, err = f.svc.MarkTransferredForQC(f.ctx, work.QCInput{OrderUUID: order.UUID})
		require.ErrorIs(t, err, shared.ErrInvalidTransition)

		_, err = f.step(d, "s1", true)
		require.ErrorIs(t, err, shared.ErrInvalidTransition)
	}
}

func TestDecideDiagnosisValidation(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(true)
	d := f.diagnose(order)

	_, err := f.svc.DecideDiagnosis(f.ctx, work.DecisionInput{DiagnosisUUID: d.UUID, Status: work.DiagnosisRejected, IsProceedToRepair: true})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.DecideDiagnosis(f.ctx, work.DecisionInput{DiagnosisUUID: d.UUID, Status: work.DiagnosisPending})
	require.ErrorIs(t, err, shared.ErrValidation)

	negative := decimal.NewFromInt(-1)
	_, err = f.svc.DecideDiagnosis(f.ctx, work.DecisionInput{DiagnosisUUID: d.UUID, Status: work.DiagnosisAccepted, ProposedCost: &negative})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.DecideDiagnosis(f.ctx, work.DecisionInput{DiagnosisUUID: "missing", Status: work.DiagnosisAccepted})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAcceptThenProceed(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(true)
	d := f.diagnose(order)
	cost := decimal.NewFromInt(300)

	d, err := f.svc.DecideDiagnosis(f.ctx, work.DecisionInput{DiagnosisUUID: d.UUID, Status: work.DiagnosisAccepted, ProposedCost: &cost})
	require.NoError(t, err)
	require.True(t, d.IsActive())
	require.Equal(t, work.StatusDiagnosisPending, f.repo.Order(order.UUID).Status)

	d, err = f.svc.DecideDiagnosis(f.ctx, work.DecisionInput{DiagnosisUUID: d.UUID, Status: work.DiagnosisAccepted, IsProceedToRepair: true})
	require.NoError(t, err)
	require.False(t, d.IsActive())
	require.True(t, d.ProposedCost.Equal(cost))
	require.True(t, f.repo.Order(order.UUID).IsProceedToRepair())
}

func TestAttachDiagnosisResultIsIdempotent(t *testing.T) {
	f := newFixture(t)
	order, d := f.acceptedOrder()

	got, err := f.svc.AttachDiagnosisResult(f.ctx, order.UUID, d.UUID)
	require.NoError(t, err)
	require.Equal(t, work.StatusRepairInProgress, got.Status)
	require.Equal(t, 1, f.observer.count(work.StatusDiagnosisPending, work.StatusRepairInProgress))

	other := f.createOrder(true)
	_, err = f.svc.AttachDiagnosisResult(f.ctx, other.UUID, d.UUID)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAttachDiagnosisResultAfterQC(t *testing.T) {
	f := newFixture(t)
	secs := sections(1)
	order, d := f.acceptedOrder(secs...)
	_, err := f.step(d, secs[0], true)
	require.NoError(t, err)

	_, err = f.svc.AttachDiagnosisResult(f.ctx, order.UUID, d.UUID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.False(t, shared.IsRetryable(err))

	_, err = f.svc.MarkReadyForDelivery(f.ctx, work.ReadyInput{OrderUUID: order.UUID, BillAmount: decimal.NewFromInt(150)})
	require.NoError(t, err)

	_, err = f.svc.AttachDiagnosisResult(f.ctx, order.UUID, d.UUID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.NotErrorIs(t, err, shared.ErrStaleWorkflowState)
	require.Equal(t, work.StatusReadyForDelivery, f.repo.Order(order.UUID).Status)
}

func TestTransferForQCWithoutDiagnosis(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(false)

	got, err := f.svc.MarkTransferredForQC(f.ctx, work.QCInput{OrderUUID: order.UUID, ProblemsUUID: []string{"q1"}})
	require.NoError(t, err)
	require.Equal(t, work.StatusQCPending, got.Status)
	require.False(t, got.IsProceedToRepair())
	require.Equal(t, 1, f.observer.count(work.StatusIntake, work.StatusRepairInProgress))
	require.Equal(t, 1, f.observer.count(work.StatusRepairInProgress, work.StatusQCPending))

	again, err := f.svc.MarkTransferredForQC(f.ctx, work.QCInput{OrderUUID: order.UUID, ProblemsUUID: []string{"q1", "q2"}})
	require.NoError(t, err)
	require.Equal(t, work.StatusQCPending, again.Status)
	require.Equal(t, 1, f.observer.count(work.StatusRepairInProgress, work.StatusQCPending))
	require.Equal(t, []string{"q1", "q2"}, f.repo.Order(order.UUID).Problems.Stage(work.StageQC))
}

func TestTransferForQCGuards(t *testing.T) {
	f := newFixture(t)

	booked := f.createOrder(true)
	_, err := f.svc.MarkTransferredForQC(f.ctx, work.QCInput{OrderUUID: booked.UUID})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	secs := sections(2)
	order, d := f.acceptedOrder(secs...)
	_, err = f.step(d, secs[1], false)
	require.NoError(t, err)
	_, err = f.step(d, secs[0], true)
	require.NoError(t, err)
	_, err = f.svc.MarkTransferredForQC(f.ctx, work.QCInput{OrderUUID: order.UUID})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	noSections, _ := f.acceptedOrder()
	got, err := f.svc.MarkTransferredForQC(f.ctx, work.QCInput{OrderUUID: noSections.UUID})
	require.NoError(t, err)
	require.True(t, got.IsTransferredForQC())
}

func TestMarkReadyForDeliveryGuards(t *testing.T) {
	f := newFixture(t)
	order, _ := f.acceptedOrder()

	_, err := f.svc.MarkReadyForDelivery(f.ctx, work.ReadyInput{OrderUUID: order.UUID, BillAmount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = f.svc.MarkReadyForDelivery(f.ctx, work.ReadyInput{OrderUUID: order.UUID, BillAmount: decimal.NewFromInt(-10)})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestMarkReadyForDeliveryTwiceUpdatesBill(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(false)
	_, err := f.svc.MarkTransferredForQC(f.ctx, work.QCInput{OrderUUID: order.UUID})
	require.NoError(t, err)

	first, err := f.svc.MarkReadyForDelivery(f.ctx, work.ReadyInput{OrderUUID: order.UUID, BillAmount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	second, err := f.svc.MarkReadyForDelivery(f.ctx, work.ReadyInput{OrderUUID: order.UUID, BillAmount: decimal.NewFromInt(120)})
	require.NoError(t, err)

	require.Equal(t, work.StatusReadyForDelivery, second.Status)
	require.Equal(t, "120", second.BillAmount.String())
	require.Equal(t, first.ReadyForDeliveryDate, second.ReadyForDeliveryDate)
	require.Equal(t, []work.NotificationKind{work.NotifyReadyForDelivery}, f.notifier.kinds())
	require.Equal(t, 1, f.observer.count(work.StatusQCPending, work.StatusReadyForDelivery))
}

func TestWritersRacingQCSignOffGetStale(t *testing.T) {
	f := newFixture(t)
	secs := sections(1)
	order, d := f.acceptedOrder(secs...)
	_, err := f.step(d, secs[0], true)
	require.NoError(t, err)
	_, err = f.svc.MarkReadyForDelivery(f.ctx, work.ReadyInput{OrderUUID: order.UUID, BillAmount: decimal.NewFromInt(50)})
	require.NoError(t, err)

	_, err = f.step(d, secs[0], true)
	require.ErrorIs(t, err, shared.ErrStaleWorkflowState)
	require.True(t, shared.IsRetryable(err))

	_, err = f.svc.RecordDiagnosis(f.ctx, work.DiagnosisInput{OrderUUID: order.UUID})
	require.ErrorIs(t, err, shared.ErrStaleWorkflowState)

	require.ErrorIs(t, f.svc.CheckTransferAllowed(f.ctx, order.UUID), shared.ErrInvalidTransition)
}

func TestDeliveredOrderIsClosed(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(false)
	_, err := f.svc.MarkTransferredForQC(f.ctx, work.QCInput{OrderUUID: order.UUID})
	require.NoError(t, err)
	_, err = f.svc.MarkReadyForDelivery(f.ctx, work.ReadyInput{OrderUUID: order.UUID, BillAmount: decimal.NewFromInt(5)})
	require.NoError(t, err)

	f.repo.Delivered = func(id string) bool { return id == order.UUID }

	_, err = f.svc.MarkReadyForDelivery(f.ctx, work.ReadyInput{OrderUUID: order.UUID, BillAmount: decimal.NewFromInt(6)})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	got, err := f.svc.MarkTransferredForQC(f.ctx, work.QCInput{OrderUUID: order.UUID})
	require.NoError(t, err)
	require.Equal(t, work.StatusDelivered, got.EffectiveStatus())

	detail, err := f.svc.GetOrder(f.ctx, order.UUID)
	require.NoError(t, err)
	require.True(t, detail.Delivered)
	require.Equal(t, work.StatusDelivered, detail.EffectiveStatus)
	require.True(t, detail.IsReadyForDelivery)
}

func TestFailedCommitLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(true)
	f.repo.BeforeCommit = func() error { return errors.New("connection reset") }

	_, err := f.svc.RecordDiagnosis(f.ctx, work.DiagnosisInput{OrderUUID: order.UUID})
	require.Error(t, err)
	require.Equal(t, work.StatusIntake, f.repo.Order(order.UUID).Status)
	require.Zero(t, f.observer.count(work.StatusIntake, work.StatusDiagnosisPending))

	f.repo.BeforeCommit = nil
	_, err = f.svc.RecordDiagnosis(f.ctx, work.DiagnosisInput{OrderUUID: order.UUID})
	require.NoError(t, err)
}

func TestListPendingDiagnoses(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.diagnose(f.createOrder(true))
	}
	f.acceptedOrder()

	items, page, err := f.svc.ListPendingDiagnoses(f.ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, 3, page.Total)
	require.Equal(t, 2, page.TotalPages)
	require.True(t, items[0].CreatedAt.After(items[1].CreatedAt))

	items, _, err = f.svc.ListPendingDiagnoses(f.ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

type stubNames struct{}

func (stubNames) Resolve(_ context.Context, problems, accessories []string) (catalog.Resolved, error) {
	out := catalog.Resolved{Problems: catalog.Names{}, Accessories: catalog.Names{}}
	for _, id := range problems {
		name := "name-" + id
		out.Problems[id] = &name
	}
	for _, id := range accessories {
		out.Accessories[id] = nil
	}
	return out, nil
}

func TestGetOrderResolvesNames(t *testing.T) {
	repo := worktest.NewMemory()
	svc := work.NewService(repo, work.ServiceDeps{Names: stubNames{}}, work.ServiceConfig{DisplayPrefix: "RO"})
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, work.CreateOrderInput{SerialNo: "x1", ProblemsUUID: []string{"p1"}, Accessories: []string{"a1"}})
	require.NoError(t, err)

	detail, err := svc.GetOrder(ctx, order.UUID)
	require.NoError(t, err)
	require.Equal(t, "name-p1", *detail.ProblemNames["p1"])
	require.Contains(t, detail.AccessoryNames, "a1")
	require.Nil(t, detail.AccessoryNames["a1"])
	require.Regexp(t, `^RO\d{2}-0001$`, detail.DisplayCode)

	names, err := svc.ResolveProblemNames(ctx, []string{"p9"})
	require.NoError(t, err)
	require.Equal(t, "name-p9", *names["p9"])
}
