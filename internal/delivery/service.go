package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/repairflow/internal/shared"
	"github.com/odyssey-erp/repairflow/internal/work"
)

// RepositoryPort is the persistence contract of the delivery side.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetChallan(ctx context.Context, uuid string) (Challan, error)
	// ReadyOrders lists orders ready for delivery that no challan carries yet.
	ReadyOrders(ctx context.Context, limit int) ([]OrderRef, error)
	IsDelivered(ctx context.Context, orderUUID string) (bool, error)
}

// TxRepository is available inside a transaction.
type TxRepository interface {
	InsertChallan(ctx context.Context, challan *Challan) error
	LockChallan(ctx context.Context, uuid string) (Challan, error)
	UpdateChallan(ctx context.Context, challan Challan) error
	ListEntries(ctx context.Context, challanUUID string) ([]Entry, error)
	LockOrder(ctx context.Context, orderUUID string) (OrderRef, error)
	InsertEntry(ctx context.Context, entry Entry) error
	DeleteEntry(ctx context.Context, challanUUID, orderUUID string) error
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// TransitionObserver counts order status transitions.
type TransitionObserver interface {
	ObserveTransition(module, from, to string)
}

// ServiceDeps are the collaborators of Service. Only the repository is required.
type ServiceDeps struct {
	Audit   AuditPort
	Metrics TransitionObserver
	Logger  *slog.Logger
	Now     func() time.Time
	NewID   shared.IDGenerator
}

// Service manages challans.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics TransitionObserver
	logger  *slog.Logger
	now     func() time.Time
	newID   shared.IDGenerator
}

// NewService constructs a delivery service.
func NewService(repo RepositoryPort, deps ServiceDeps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = shared.NewUUID
	}
	return &Service{
		repo:    repo,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		logger:  deps.Logger.With(slog.String("module", "delivery")),
		now:     deps.Now,
		newID:   deps.NewID,
	}
}

const displayPrefix = "CH"

// DisplayCode renders the human-facing challan number, e.g. CH25-0007.
func DisplayCode(c Challan) string {
	return shared.DisplayCode(displayPrefix, c.CreatedAt, c.ID)
}

// CreateChallan opens an empty challan.
func (s *Service) CreateChallan(ctx context.Context, in CreateChallanInput) (ChallanDetail, error) {
	if err := ValidateCreateChallan(in); err != nil {
		return ChallanDetail{}, err
	}
	now := s.now()
	challan := Challan{
		UUID:          s.newID(),
		Type:          in.Type,
		CustomerUUID:  in.CustomerUUID,
		EmployeeUUID:  in.EmployeeUUID,
		CourierUUID:   in.CourierUUID,
		VehicleUUID:   in.VehicleUUID,
		PaymentMethod: in.PaymentMethod,
		CreatedBy:     in.Actor,
		CreatedAt:     now,
		UpdatedAt:     now,
		Entries:       []Entry{},
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertChallan(ctx, &challan)
	})
	if err != nil {
		return ChallanDetail{}, fmt.Errorf("create challan: %w", err)
	}
	s.record(ctx, in.Actor, "challan.created", challan.UUID, map[string]any{"challan_type": challan.Type}, now)
	return ChallanDetail{Challan: challan, DisplayCode: DisplayCode(challan)}, nil
}

// GetChallan loads a challan with its entries.
func (s *Service) GetChallan(ctx context.Context, uuid string) (ChallanDetail, error) {
	challan, err := s.repo.GetChallan(ctx, uuid)
	if err != nil {
		return ChallanDetail{}, err
	}
	return ChallanDetail{Challan: challan, DisplayCode: DisplayCode(challan)}, nil
}

// AddOrderToChallan manifests a ready order on an open challan. The challan is locked before the
// order, the same order CompleteChallan takes them in.
func (s *Service) AddOrderToChallan(ctx context.Context, challanUUID, orderUUID, actor string) (Entry, error) {
	if orderUUID == "" {
		return Entry{}, shared.Invalid("order_uuid", "is required")
	}
	var entry Entry
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		challan, err := tx.LockChallan(ctx, challanUUID)
		if err != nil {
			return err
		}
		if challan.IsDeliveryComplete {
			return fmt.Errorf("%w: challan %s is already complete", shared.ErrInvalidTransition, challanUUID)
		}
		order, err := tx.LockOrder(ctx, orderUUID)
		if err != nil {
			return err
		}
		if order.Manifested() {
			return fmt.Errorf("%w: order %s is on challan %s", shared.ErrOrderAlreadyManifested, orderUUID, order.ChallanUUID)
		}
		if order.Status != work.StatusReadyForDelivery {
			return fmt.Errorf("%w: order %s is %s", shared.ErrOrderNotReady, orderUUID, order.Status)
		}
		entry = Entry{UUID: s.newID(), ChallanUUID: challanUUID, OrderUUID: orderUUID, CreatedAt: now}
		return tx.InsertEntry(ctx, entry)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("add order to challan: %w", err)
	}
	s.record(ctx, actor, "challan.order_added", challanUUID, map[string]any{"order_uuid": orderUUID}, now)
	return entry, nil
}

// RemoveOrderFromChallan takes an order off a challan that is still open.
func (s *Service) RemoveOrderFromChallan(ctx context.Context, challanUUID, orderUUID, actor string) error {
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		challan, err := tx.LockChallan(ctx, challanUUID)
		if err != nil {
			return err
		}
		if challan.IsDeliveryComplete {
			return fmt.Errorf("%w: challan %s is already complete", shared.ErrInvalidTransition, challanUUID)
		}
		return tx.DeleteEntry(ctx, challanUUID, orderUUID)
	})
	if err != nil {
		return fmt.Errorf("remove order from challan: %w", err)
	}
	s.record(ctx, actor, "challan.order_removed", challanUUID, map[string]any{"order_uuid": orderUUID}, now)
	return nil
}

// CompleteChallan marks the challan delivered, which makes every order on it delivered. Completing
// an already complete challan returns it unchanged.
func (s *Service) CompleteChallan(ctx context.Context, challanUUID, actor string) (CompleteResult, error) {
	var (
		result CompleteResult
		moved  []OrderRef
	)
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		challan, err := tx.LockChallan(ctx, challanUUID)
		if err != nil {
			return err
		}
		entries, err := tx.ListEntries(ctx, challanUUID)
		if err != nil {
			return err
		}
		challan.Entries = entries
		if challan.IsDeliveryComplete {
			result.AlreadyComplete = true
			result.Challan = ChallanDetail{Challan: challan, DisplayCode: DisplayCode(challan)}
			result.Delivered = entryOrders(entries)
			return nil
		}
		if len(entries) == 0 {
			return fmt.Errorf("%w: challan %s carries no orders", shared.ErrInvalidTransition, challanUUID)
		}
		for _, entry := range entries {
			order, err := tx.LockOrder(ctx, entry.OrderUUID)
			if err != nil {
				return err
			}
			if _, err := work.Transition(order.Status, work.EventDelivered); err != nil {
				return fmt.Errorf("order %s: %w", order.UUID, err)
			}
			moved = append(moved, order)
		}
		challan.IsDeliveryComplete = true
		challan.DeliveryDate = &now
		challan.UpdatedAt = now
		if err := tx.UpdateChallan(ctx, challan); err != nil {
			return err
		}
		result.Challan = ChallanDetail{Challan: challan, DisplayCode: DisplayCode(challan)}
		result.Delivered = entryOrders(entries)
		return nil
	})
	if err != nil {
		return CompleteResult{}, fmt.Errorf("complete challan: %w", err)
	}
	for _, order := range moved {
		if s.metrics != nil {
			s.metrics.ObserveTransition("delivery", string(order.Status), string(work.StatusDelivered))
		}
		s.logger.Info("order delivered",
			slog.String("order_uuid", order.UUID),
			slog.String("challan_uuid", challanUUID),
			slog.String("from", string(order.Status)),
			slog.String("to", string(work.StatusDelivered)))
	}
	if len(moved) > 0 {
		s.record(ctx, actor, "challan.completed", challanUUID, map[string]any{"orders": result.Delivered}, now)
	}
	return result, nil
}

// ReadyOrders lists orders waiting for a challan.
func (s *Service) ReadyOrders(ctx context.Context, limit int) ([]OrderRef, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ReadyOrders(ctx, limit)
}

// IsDelivered reports whether a completed challan carries the order.
func (s *Service) IsDelivered(ctx context.Context, orderUUID string) (bool, error) {
	return s.repo.IsDelivered(ctx, orderUUID)
}

func entryOrders(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.OrderUUID)
	}
	return out
}

func (s *Service) record(ctx context.Context, actor, action, id string, meta map[string]any, at time.Time) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorUUID: actor, Action: action, Entity: "challan", EntityID: id, Meta: meta, At: at}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
