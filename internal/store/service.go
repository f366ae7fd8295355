package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/repairflow/internal/shared"
	"github.com/odyssey-erp/repairflow/internal/work"
)

// RepositoryPort is the persistence contract of the store.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransfer(ctx context.Context, uuid string) (Transfer, error)
	GetStock(ctx context.Context, productUUID, warehouseUUID string) (Stock, error)
	// EachOrderSummary streams the net quantities of an order until fn returns false.
	EachOrderSummary(ctx context.Context, orderUUID string, fn func(TransferSummary) bool) error
	NegativeStocks(ctx context.Context, limit int) ([]Stock, error)
}

// TxRepository is available inside a transaction.
type TxRepository interface {
	// LockOrder share-locks the order row and returns its status and derived delivery state.
	// Status changes on the order wait until the transaction ends.
	LockOrder(ctx context.Context, orderUUID string) (work.Order, error)
	// LockStock locks the stock row, returning zero stock when none exists yet.
	LockStock(ctx context.Context, productUUID, warehouseUUID string) (Stock, error)
	SaveStock(ctx context.Context, stock Stock) error
	InsertTransfer(ctx context.Context, transfer Transfer) error
	LockTransfer(ctx context.Context, uuid string) (Transfer, error)
	UpdateTransfer(ctx context.Context, transfer Transfer) error
	DeleteTransfer(ctx context.Context, uuid string) error
	OrderSummaries(ctx context.Context, orderUUID string) ([]TransferSummary, error)
}

// IdempotencyPort claims request keys.
type IdempotencyPort interface {
	Claim(ctx context.Context, scope, key string) error
	Release(ctx context.Context, scope, key string) error
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// TransferObserver counts transfer outcomes.
type TransferObserver interface {
	ObserveTransfer(outcome string)
}

// ServiceConfig tunes stock enforcement.
type ServiceConfig struct {
	// AllowNegativeStock disables the shortfall check for every transfer.
	AllowNegativeStock bool
}

// ServiceDeps are the collaborators of Service. Only the repository is required.
type ServiceDeps struct {
	Idempotency IdempotencyPort
	Audit       AuditPort
	Metrics     TransferObserver
	Logger      *slog.Logger
	Now         func() time.Time
	NewID       shared.IDGenerator
}

// Service records transfers while keeping stock consistent.
type Service struct {
	repo    RepositoryPort
	idem    IdempotencyPort
	audit   AuditPort
	metrics TransferObserver
	logger  *slog.Logger
	now     func() time.Time
	newID   shared.IDGenerator
	cfg     ServiceConfig
}

// NewService constructs the store service.
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
	return &Service{
		repo:    repo,
		idem:    deps.Idempotency,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		logger:  deps.Logger.With(slog.String("module", "store")),
		now:     deps.Now,
		newID:   deps.NewID,
		cfg:     cfg,
	}
}

const idempotencyScope = "store.transfer"

// RecordTransfer issues (or, with a negative quantity, returns) parts against an order.
func (s *Service) RecordTransfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if err := validateTransfer(in); err != nil {
		return TransferResult{}, err
	}
	if in.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.Claim(ctx, idempotencyScope, in.IdempotencyKey); err != nil {
			return TransferResult{}, err
		}
	}

	var (
		result     TransferResult
		overridden bool
	)
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := lockOpenOrder(ctx, tx, in.OrderUUID); err != nil {
			return err
		}
		stock, err := tx.LockStock(ctx, in.ProductUUID, in.WarehouseUUID)
		if err != nil {
			return err
		}
		projected := stock.Quantity.Sub(in.Quantity)
		if projected.IsNegative() && in.Quantity.IsPositive() {
			if !in.Override && !s.cfg.AllowNegativeStock {
				return &ShortfallError{ProductUUID: in.ProductUUID, WarehouseUUID: in.WarehouseUUID, Available: stock.Quantity, Requested: in.Quantity}
			}
			overridden = true
		}
		transfer := Transfer{
			UUID:          s.newID(),
			ProductUUID:   in.ProductUUID,
			WarehouseUUID: in.WarehouseUUID,
			OrderUUID:     in.OrderUUID,
			Quantity:      in.Quantity,
			Remarks:       strings.TrimSpace(in.Remarks),
			CreatedBy:     in.Actor,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.InsertTransfer(ctx, transfer); err != nil {
			return err
		}
		stock.Quantity = projected
		stock.UpdatedAt = now
		if err := tx.SaveStock(ctx, stock); err != nil {
			return err
		}
		result = TransferResult{Transfer: transfer, Stock: stock, MaxQuantity: projected.Add(in.Quantity)}
		return nil
	})
	if err != nil {
		s.releaseKey(ctx, in.IdempotencyKey)
		s.observe(err, false)
		return TransferResult{}, fmt.Errorf("record transfer: %w", err)
	}
	s.observe(nil, overridden)
	s.record(ctx, in.Actor, "transfer.recorded", result.Transfer.UUID, map[string]any{
		"order_uuid": in.OrderUUID,
		"quantity":   in.Quantity.String(),
		"overridden": overridden,
	}, now)
	return result, nil
}

// UpdateTransfer changes a transfer's quantity. The result's MaxQuantity is the stock the transfer
// may draw on, i.e. current stock plus what the transfer already holds.
func (s *Service) UpdateTransfer(ctx context.Context, in UpdateTransferInput) (TransferResult, error) {
	if in.Quantity.IsZero() {
		return TransferResult{}, shared.Invalid("quantity", "must not be zero, delete the transfer instead")
	}
	current, err := s.repo.GetTransfer(ctx, in.TransferUUID)
	if err != nil {
		return TransferResult{}, err
	}

	var (
		result     TransferResult
		overridden bool
	)
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := lockOpenOrder(ctx, tx, current.OrderUUID); err != nil {
			return err
		}
		transfer, err := tx.LockTransfer(ctx, in.TransferUUID)
		if err != nil {
			return err
		}
		stock, err := tx.LockStock(ctx, transfer.ProductUUID, transfer.WarehouseUUID)
		if err != nil {
			return err
		}
		available := stock.Quantity.Add(transfer.Quantity)
		projected := available.Sub(in.Quantity)
		if projected.IsNegative() && in.Quantity.GreaterThan(transfer.Quantity) {
			if !in.Override && !s.cfg.AllowNegativeStock {
				return &ShortfallError{ProductUUID: transfer.ProductUUID, WarehouseUUID: transfer.WarehouseUUID, Available: available, Requested: in.Quantity}
			}
			overridden = true
		}
		transfer.Quantity = in.Quantity
		transfer.UpdatedAt = now
		if err := tx.UpdateTransfer(ctx, transfer); err != nil {
			return err
		}
		stock.Quantity = projected
		stock.UpdatedAt = now
		if err := tx.SaveStock(ctx, stock); err != nil {
			return err
		}
		result = TransferResult{Transfer: transfer, Stock: stock, MaxQuantity: available}
		return nil
	})
	if err != nil {
		s.observe(err, false)
		return TransferResult{}, fmt.Errorf("update transfer: %w", err)
	}
	s.observe(nil, overridden)
	s.record(ctx, in.Actor, "transfer.updated", result.Transfer.UUID, map[string]any{
		"quantity":   in.Quantity.String(),
		"previous":   current.Quantity.String(),
		"overridden": overridden,
	}, now)
	return result, nil
}

// DeleteTransfer removes a transfer and puts its quantity back into stock.
func (s *Service) DeleteTransfer(ctx context.Context, uuid, actor string) (Stock, error) {
	current, err := s.repo.GetTransfer(ctx, uuid)
	if err != nil {
		return Stock{}, err
	}
	var stock Stock
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := lockOpenOrder(ctx, tx, current.OrderUUID); err != nil {
			return err
		}
		transfer, err := tx.LockTransfer(ctx, uuid)
		if err != nil {
			return err
		}
		stock, err = tx.LockStock(ctx, transfer.ProductUUID, transfer.WarehouseUUID)
		if err != nil {
			return err
		}
		restored := stock.Quantity.Add(transfer.Quantity)
		if restored.IsNegative() && transfer.Quantity.IsNegative() && !s.cfg.AllowNegativeStock {
			return &ShortfallError{ProductUUID: transfer.ProductUUID, WarehouseUUID: transfer.WarehouseUUID, Available: stock.Quantity, Requested: transfer.Quantity.Neg()}
		}
		if err := tx.DeleteTransfer(ctx, uuid); err != nil {
			return err
		}
		stock.Quantity = restored
		stock.UpdatedAt = now
		return tx.SaveStock(ctx, stock)
	})
	if err != nil {
		return Stock{}, fmt.Errorf("delete transfer: %w", err)
	}
	s.record(ctx, actor, "transfer.deleted", uuid, map[string]any{"quantity": current.Quantity.String()}, now)
	return stock, nil
}

// TransfersForOrder lists the net quantity per product/warehouse issued to an order. Nothing is read
// until the sequence is ranged over, and every range re-reads the ledger.
func (s *Service) TransfersForOrder(ctx context.Context, orderUUID string) iter.Seq2[TransferSummary, error] {
	return func(yield func(TransferSummary, error) bool) {
		stopped := false
		err := s.repo.EachOrderSummary(ctx, orderUUID, func(sum TransferSummary) bool {
			if !yield(sum, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(TransferSummary{}, fmt.Errorf("order %s transfers: %w", orderUUID, err))
		}
	}
}

// PartsCost prices the parts currently issued to an order.
func (s *Service) PartsCost(ctx context.Context, orderUUID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for sum, err := range s.TransfersForOrder(ctx, orderUUID) {
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(sum.Cost())
	}
	return total, nil
}

// ReverseOrderTransfers posts one opposite transfer per open line so the order holds no parts.
func (s *Service) ReverseOrderTransfers(ctx context.Context, orderUUID, actor string) ([]Transfer, error) {
	var reversals []Transfer
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := lockOpenOrder(ctx, tx, orderUUID); err != nil {
			return err
		}
		summaries, err := tx.OrderSummaries(ctx, orderUUID)
		if err != nil {
			return err
		}
		for _, sum := range summaries {
			if sum.Quantity.IsZero() {
				continue
			}
			stock, err := tx.LockStock(ctx, sum.ProductUUID, sum.WarehouseUUID)
			if err != nil {
				return err
			}
			restored := stock.Quantity.Add(sum.Quantity)
			if restored.IsNegative() && sum.Quantity.IsNegative() && !s.cfg.AllowNegativeStock {
				return &ShortfallError{ProductUUID: sum.ProductUUID, WarehouseUUID: sum.WarehouseUUID, Available: stock.Quantity, Requested: sum.Quantity.Neg()}
			}
			reversal := Transfer{
				UUID:          s.newID(),
				ProductUUID:   sum.ProductUUID,
				WarehouseUUID: sum.WarehouseUUID,
				OrderUUID:     orderUUID,
				Quantity:      sum.Quantity.Neg(),
				Remarks:       "reversal",
				CreatedBy:     actor,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := tx.InsertTransfer(ctx, reversal); err != nil {
				return err
			}
			stock.Quantity = restored
			stock.UpdatedAt = now
			if err := tx.SaveStock(ctx, stock); err != nil {
				return err
			}
			reversals = append(reversals, reversal)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reverse order transfers: %w", err)
	}
	if len(reversals) > 0 {
		s.record(ctx, actor, "transfer.reversed", orderUUID, map[string]any{"lines": len(reversals)}, now)
	}
	return reversals, nil
}

// Stock returns the on-hand quantity, zero when the pair was never stocked.
func (s *Service) Stock(ctx context.Context, productUUID, warehouseUUID string) (Stock, error) {
	if productUUID == "" || warehouseUUID == "" {
		return Stock{}, shared.Invalid("product_uuid", "product_uuid and warehouse_uuid are required")
	}
	return s.repo.GetStock(ctx, productUUID, warehouseUUID)
}

// NegativeStocks lists stock rows that overrides have driven below zero.
func (s *Service) NegativeStocks(ctx context.Context, limit int) ([]Stock, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.repo.NegativeStocks(ctx, limit)
}

func validateTransfer(in TransferInput) error {
	fields := shared.ValidationErrors{}
	if in.ProductUUID == "" {
		fields["product_uuid"] = "is required"
	}
	if in.WarehouseUUID == "" {
		fields["warehouse_uuid"] = "is required"
	}
	if in.OrderUUID == "" {
		fields["order_uuid"] = "is required"
	}
	if in.Quantity.IsZero() {
		fields["quantity"] = "must not be zero"
	}
	if len(fields) > 0 {
		return fields
	}
	return nil
}

// lockOpenOrder holds the order's status for the rest of the transaction and rejects frozen orders.
// It runs before any stock lock so every writer takes order then stock.
func lockOpenOrder(ctx context.Context, tx TxRepository, orderUUID string) error {
	order, err := tx.LockOrder(ctx, orderUUID)
	if err != nil {
		return err
	}
	return work.CheckPartsOpen(order)
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if key == "" || s.idem == nil {
		return
	}
	if err := s.idem.Release(context.WithoutCancel(ctx), idempotencyScope, key); err != nil {
		s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) observe(err error, overridden bool) {
	if s.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, shared.ErrInsufficientStock), errors.Is(err, shared.ErrInvalidTransition):
		s.metrics.ObserveTransfer("rejected")
	case err != nil:
		s.metrics.ObserveTransfer("failed")
	case overridden:
		s.metrics.ObserveTransfer("overridden")
	default:
		s.metrics.ObserveTransfer("recorded")
	}
}

func (s *Service) record(ctx context.Context, actor, action, id string, meta map[string]any, at time.Time) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorUUID: actor, Action: action, Entity: "product_transfer", EntityID: id, Meta: meta, At: at}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
