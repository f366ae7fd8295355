package work

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/repairflow/internal/catalog"
	"github.com/odyssey-erp/repairflow/internal/location"
	"github.com/odyssey-erp/repairflow/internal/shared"
)

// RepositoryPort is the persistence contract of the work module.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, uuid string) (Order, error)
	GetDiagnosis(ctx context.Context, uuid string) (Diagnosis, error)
	ListPendingDiagnoses(ctx context.Context, limit, offset int) ([]Diagnosis, int, error)
	ListProcesses(ctx context.Context, diagnosisUUID string) ([]Process, error)
}

// TxRepository is available inside a transaction. Lock* methods hold the row until commit.
type TxRepository interface {
	InsertOrder(ctx context.Context, order Order) (Order, error)
	LockOrder(ctx context.Context, uuid string) (Order, error)
	UpdateOrder(ctx context.Context, order Order) error
	AppendProblems(ctx context.Context, orderUUID string, entries []ProblemEntry) error
	ListDiagnoses(ctx context.Context, orderUUID string) ([]Diagnosis, error)
	LockDiagnosis(ctx context.Context, uuid string) (Diagnosis, error)
	InsertDiagnosis(ctx context.Context, diagnosis Diagnosis) error
	UpdateDiagnosis(ctx context.Context, diagnosis Diagnosis) error
	LockProcesses(ctx context.Context, diagnosisUUID string) ([]Process, error)
	InsertProcess(ctx context.Context, process Process) error
	UpdateProcess(ctx context.Context, process Process) error
}

// LocationValidator checks placement chains.
type LocationValidator interface {
	ValidateChain(ctx context.Context, chain location.Chain) error
}

// NameResolver resolves problem and accessory names.
type NameResolver interface {
	Resolve(ctx context.Context, problems, accessories []string) (catalog.Resolved, error)
}

// Notifier hands customer notifications to the background queue.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// TransitionObserver counts committed status changes.
type TransitionObserver interface {
	ObserveTransition(module, from, to string)
}

// ServiceConfig tunes the service.
type ServiceConfig struct {
	DisplayPrefix string
}

// ServiceDeps are the collaborators of Service. Only Repo is required.
type ServiceDeps struct {
	Locations LocationValidator
	Names     NameResolver
	Notifier  Notifier
	Audit     AuditPort
	Metrics   TransitionObserver
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     shared.IDGenerator
}

// Service coordinates the order lifecycle.
type Service struct {
	repo      RepositoryPort
	locations LocationValidator
	names     NameResolver
	notifier  Notifier
	audit     AuditPort
	metrics   TransitionObserver
	logger    *slog.Logger
	now       func() time.Time
	newID     shared.IDGenerator
	cfg       ServiceConfig
}

// NewService constructs the service.
func NewService(repo RepositoryPort, deps ServiceDeps, cfg ServiceConfig) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = shared.NewUUID
	}
	if cfg.DisplayPrefix == "" {
		cfg.DisplayPrefix = "WO"
	}
	return &Service{
		repo:      repo,
		locations: deps.Locations,
		names:     deps.Names,
		notifier:  deps.Notifier,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With(slog.String("module", "work")),
		now:       deps.Now,
		newID:     deps.NewID,
		cfg:       cfg,
	}
}

// effects are side effects held back until the transaction commits.
type effects struct {
	transitions   []edge
	notifications []Notification
	audits        []shared.AuditLog
}

func (e *effects) audit(actor, action, entity, id string, meta map[string]any, at time.Time) {
	e.audits = append(e.audits, shared.AuditLog{ActorUUID: actor, Action: action, Entity: entity, EntityID: id, Meta: meta, At: at})
}

type edge struct {
	order    string
	event    Event
	from, to Status
}

// move applies event to order and remembers the edge for metrics.
func (s *Service) move(order *Order, event Event, eff *effects) error {
	from := order.EffectiveStatus()
	if err := order.apply(event); err != nil {
		return err
	}
	eff.transitions = append(eff.transitions, edge{order: order.UUID, event: event, from: from, to: order.Status})
	return nil
}

func (s *Service) flush(ctx context.Context, eff *effects) {
	if s.metrics != nil {
		for _, t := range eff.transitions {
			s.metrics.ObserveTransition("work", string(t.from), string(t.to))
		}
	}
	for _, t := range eff.transitions {
		s.logger.Info("order transition",
			slog.String("order_uuid", t.order),
			slog.String("event", string(t.event)),
			slog.String("from", string(t.from)),
			slog.String("to", string(t.to)))
	}
	if s.audit != nil {
		for _, entry := range eff.audits {
			if err := s.audit.Record(ctx, entry); err != nil {
				s.logger.Warn("audit record failed", slog.String("action", entry.Action), slog.Any("error", err))
			}
		}
	}
	if s.notifier != nil {
		for _, n := range eff.notifications {
			if err := s.notifier.Notify(ctx, n); err != nil {
				s.logger.Error("enqueue notification failed",
					slog.String("kind", string(n.Kind)),
					slog.String("order_uuid", n.OrderUUID),
					slog.Any("error", err))
			}
		}
	}
}

// DisplayCode renders the human-facing code of an order.
func (s *Service) DisplayCode(o Order) string {
	return shared.DisplayCode(s.cfg.DisplayPrefix, o.CreatedAt, o.ID)
}

func (s *Service) notification(kind NotificationKind, o Order) Notification {
	return Notification{Kind: kind, OrderUUID: o.UUID, DisplayCode: s.DisplayCode(o), SerialNo: o.SerialNo, BillAmount: o.BillAmount}
}

var serialCaser = cases.Upper(language.Und)

// CanonicalSerial normalises a device serial number for storage and lookup.
func CanonicalSerial(raw string) string {
	return serialCaser.String(strings.Join(strings.Fields(raw), ""))
}

// ============================================================================
// ORDERS
// ============================================================================

// CreateOrder books a device in at intake.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (Order, error) {
	serial := CanonicalSerial(in.SerialNo)
	if serial == "" {
		return Order{}, shared.Invalid("serial_no", "is required")
	}
	qty := in.Quantity
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return Order{}, shared.Invalid("quantity", "must be at least 1")
	}
	if s.locations != nil {
		if err := s.locations.ValidateChain(ctx, in.Location); err != nil {
			return Order{}, err
		}
	}

	now := s.now()
	order := Order{
		UUID:             s.newID(),
		SerialNo:         serial,
		ProblemStatement: strings.TrimSpace(in.ProblemStatement),
		Accessories:      dedupe(in.Accessories),
		Quantity:         qty,
		IsDiagnosisNeed:  in.IsDiagnosisNeed,
		Status:           StatusIntake,
		Location:         in.Location,
		CreatedBy:        in.Actor,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	order.Problems.Add(StageIntake, in.ProblemsUUID, now)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		if err := tx.AppendProblems(ctx, created.UUID, order.Problems); err != nil {
			return err
		}
		created.Problems = order.Problems
		order = created
		return nil
	})
	if err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	eff := &effects{}
	eff.audit(in.Actor, "order.created", "order", order.UUID, map[string]any{
		"serial_no":         order.SerialNo,
		"is_diagnosis_need": order.IsDiagnosisNeed,
	}, now)
	s.flush(ctx, eff)
	return order, nil
}

// GetOrder loads an order with derived flags and resolved names.
func (s *Service) GetOrder(ctx context.Context, uuid string) (OrderDetail, error) {
	order, err := s.repo.GetOrder(ctx, uuid)
	if err != nil {
		return OrderDetail{}, err
	}
	detail := OrderDetail{
		Order:              order,
		DisplayCode:        s.DisplayCode(order),
		EffectiveStatus:    order.EffectiveStatus(),
		IsProceedToRepair:  order.IsProceedToRepair(),
		IsTransferredForQC: order.IsTransferredForQC(),
		IsReadyForDelivery: order.IsReadyForDelivery(),
		ProblemsByStage:    order.Problems.ByStage(),
	}
	if s.names != nil {
		resolved, err := s.names.Resolve(ctx, order.Problems.UUIDs(), order.Accessories)
		if err != nil {
			return OrderDetail{}, err
		}
		detail.ProblemNames = resolved.Problems
		detail.AccessoryNames = resolved.Accessories
	}
	return detail, nil
}

// ResolveProblemNames maps problem UUIDs to names, nil for codes that no longer resolve.
func (s *Service) ResolveProblemNames(ctx context.Context, uuids []string) (catalog.Names, error) {
	if s.names == nil {
		out := make(catalog.Names, len(uuids))
		for _, id := range dedupe(uuids) {
			out[id] = nil
		}
		return out, nil
	}
	resolved, err := s.names.Resolve(ctx, uuids, nil)
	if err != nil {
		return nil, err
	}
	return resolved.Problems, nil
}

// CheckTransferAllowed reports whether parts may still be issued against or returned from an order.
// It reads without a lock; the store repeats the check under a share lock when it posts a transfer.
func (s *Service) CheckTransferAllowed(ctx context.Context, orderUUID string) error {
	order, err := s.repo.GetOrder(ctx, orderUUID)
	if err != nil {
		return err
	}
	return CheckPartsOpen(order)
}

// ============================================================================
// QC AND DELIVERY HAND-OFF
// ============================================================================

// MarkTransferredForQC hands a repaired order to QC. Orders not booked for diagnosis go straight
// from intake. Re-marking an order already at QC only merges the QC problems.
func (s *Service) MarkTransferredForQC(ctx context.Context, in QCInput) (Order, error) {
	var (
		order Order
		eff   effects
	)
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.LockOrder(ctx, in.OrderUUID)
		if err != nil {
			return err
		}
		if order.IsTransferredForQC() {
			if order.Status != StatusQCPending {
				return nil
			}
			return s.appendProblems(ctx, tx, &order, StageQC, in.ProblemsUUID, now)
		}
		if order.Status == StatusRejected {
			return fmt.Errorf("%w: order %s was rejected", shared.ErrInvalidTransition, order.UUID)
		}
		if order.IsDiagnosisNeed {
			if order.Status != StatusRepairInProgress {
				return fmt.Errorf("%w: order %s has no accepted diagnosis", shared.ErrInvalidTransition, order.UUID)
			}
			pending, err := s.pendingSections(ctx, tx, order.UUID)
			if err != nil {
				return err
			}
			if pending > 0 {
				return fmt.Errorf("%w: %d repair section(s) of order %s have not handed over", shared.ErrInvalidTransition, pending, order.UUID)
			}
		} else if order.Status == StatusIntake {
			if err := s.move(&order, EventRepairStarted, &eff); err != nil {
				return err
			}
		}
		if err := s.move(&order, EventTransferredForQC, &eff); err != nil {
			return err
		}
		order.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		eff.audit(in.Actor, "order.transferred_for_qc", "order", order.UUID, nil, now)
		return s.appendProblems(ctx, tx, &order, StageQC, in.ProblemsUUID, now)
	})
	if err != nil {
		return Order{}, fmt.Errorf("transfer order for qc: %w", err)
	}
	s.flush(ctx, &eff)
	return order, nil
}

// MarkReadyForDelivery records QC sign-off and the bill. Repeating it before delivery updates the bill.
func (s *Service) MarkReadyForDelivery(ctx context.Context, in ReadyInput) (Order, error) {
	if in.BillAmount.IsNegative() {
		return Order{}, shared.Invalid("bill_amount", "must not be negative")
	}
	var (
		order Order
		eff   effects
	)
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.LockOrder(ctx, in.OrderUUID)
		if err != nil {
			return err
		}
		if order.Delivered {
			return fmt.Errorf("%w: order %s is already delivered", shared.ErrInvalidTransition, order.UUID)
		}
		bill := in.BillAmount
		if order.Status == StatusReadyForDelivery {
			order.BillAmount = &bill
			order.UpdatedAt = now
			if err := tx.UpdateOrder(ctx, order); err != nil {
				return err
			}
			eff.audit(in.Actor, "order.bill_updated", "order", order.UUID, map[string]any{"bill_amount": bill.String()}, now)
			return s.appendProblems(ctx, tx, &order, StageDelivery, in.ProblemsUUID, now)
		}
		if err := s.move(&order, EventQCPassed, &eff); err != nil {
			return err
		}
		order.BillAmount = &bill
		order.ReadyForDeliveryDate = &now
		order.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		if err := s.closeProcesses(ctx, tx, order.UUID, now); err != nil {
			return err
		}
		eff.audit(in.Actor, "order.ready_for_delivery", "order", order.UUID, map[string]any{"bill_amount": bill.String()}, now)
		eff.notifications = append(eff.notifications, s.notification(NotifyReadyForDelivery, order))
		return s.appendProblems(ctx, tx, &order, StageDelivery, in.ProblemsUUID, now)
	})
	if err != nil {
		return Order{}, fmt.Errorf("mark order ready for delivery: %w", err)
	}
	s.flush(ctx, &eff)
	return order, nil
}

func (s *Service) appendProblems(ctx context.Context, tx TxRepository, order *Order, stage Stage, uuids []string, at time.Time) error {
	added := order.Problems.Add(stage, uuids, at)
	if len(added) == 0 {
		return nil
	}
	return tx.AppendProblems(ctx, order.UUID, added)
}

// pendingSections counts processes of the accepted diagnosis that have not handed over to QC.
func (s *Service) pendingSections(ctx context.Context, tx TxRepository, orderUUID string) (int, error) {
	processes, err := s.acceptedProcesses(ctx, tx, orderUUID)
	if err != nil {
		return 0, err
	}
	pending := 0
	for _, p := range processes {
		if !p.IsTransferredForQC {
			pending++
		}
	}
	return pending, nil
}

// closeProcesses marks every process of the order ready once the order itself is.
func (s *Service) closeProcesses(ctx context.Context, tx TxRepository, orderUUID string, at time.Time) error {
	processes, err := s.acceptedProcesses(ctx, tx, orderUUID)
	if err != nil {
		return err
	}
	for _, p := range processes {
		if p.IsReadyForDelivery {
			continue
		}
		p.IsTransferredForQC = true
		p.IsReadyForDelivery = true
		p.StatusUpdateDate = &at
		p.UpdatedAt = at
		if err := tx.UpdateProcess(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) acceptedProcesses(ctx context.Context, tx TxRepository, orderUUID string) ([]Process, error) {
	diagnoses, err := tx.ListDiagnoses(ctx, orderUUID)
	if err != nil {
		return nil, err
	}
	accepted := acceptedDiagnosis(diagnoses)
	if accepted == nil {
		return nil, nil
	}
	return tx.LockProcesses(ctx, accepted.UUID)
}

func activeDiagnosis(diagnoses []Diagnosis) *Diagnosis {
	for i := range diagnoses {
		if diagnoses[i].IsActive() {
			return &diagnoses[i]
		}
	}
	return nil
}

func acceptedDiagnosis(diagnoses []Diagnosis) *Diagnosis {
	for i := range diagnoses {
		if diagnoses[i].Status == DiagnosisAccepted && diagnoses[i].IsProceedToRepair {
			return &diagnoses[i]
		}
	}
	return nil
}

func nonNegative(field string, amount *decimal.Decimal) error {
	if amount != nil && amount.IsNegative() {
		return shared.Invalid(field, "must not be negative")
	}
	return nil
}
