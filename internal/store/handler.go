package store

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/repairflow/internal/platform/httpx"
	"github.com/odyssey-erp/repairflow/internal/shared"
)

// Handler wires HTTP endpoints for the parts ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs store handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers store routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/transfers", h.recordTransfer)
	r.Patch("/transfers/{uuid}", h.updateTransfer)
	r.Delete("/transfers/{uuid}", h.deleteTransfer)
	r.Get("/orders/{uuid}/transfers", h.orderTransfers)
	r.Post("/orders/{uuid}/reverse", h.reverseOrder)
	r.Get("/stocks", h.stock)
}

func (h *Handler) recordTransfer(w http.ResponseWriter, r *http.Request) {
	var in TransferInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	in.Actor = shared.ActorFromContext(r.Context())
	result, err := h.service.RecordTransfer(r.Context(), in)
	if err != nil {
		h.logger.Warn("record transfer failed", slog.String("order_uuid", in.OrderUUID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) updateTransfer(w http.ResponseWriter, r *http.Request) {
	var in UpdateTransferInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.TransferUUID = chi.URLParam(r, "uuid")
	in.Actor = shared.ActorFromContext(r.Context())
	result, err := h.service.UpdateTransfer(r.Context(), in)
	if err != nil {
		h.logger.Warn("update transfer failed", slog.String("transfer_uuid", in.TransferUUID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) deleteTransfer(w http.ResponseWriter, r *http.Request) {
	stock, err := h.service.DeleteTransfer(r.Context(), chi.URLParam(r, "uuid"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("delete transfer failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}

func (h *Handler) orderTransfers(w http.ResponseWriter, r *http.Request) {
	orderUUID := chi.URLParam(r, "uuid")
	lines := []TransferSummary{}
	for sum, err := range h.service.TransfersForOrder(r.Context(), orderUUID) {
		if err != nil {
			h.logger.Error("list order transfers", slog.String("order_uuid", orderUUID), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		lines = append(lines, sum)
	}
	cost := decimal.Zero
	for _, line := range lines {
		cost = cost.Add(line.Cost())
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": lines, "parts_cost": cost})
}

func (h *Handler) reverseOrder(w http.ResponseWriter, r *http.Request) {
	reversals, err := h.service.ReverseOrderTransfers(r.Context(), chi.URLParam(r, "uuid"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("reverse order transfers failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if reversals == nil {
		reversals = []Transfer{}
	}
	httpx.JSON(w, http.StatusOK, reversals)
}

func (h *Handler) stock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stock, err := h.service.Stock(r.Context(), q.Get("product_uuid"), q.Get("warehouse_uuid"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}
