package delivery

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/repairflow/internal/platform/httpx"
	"github.com/odyssey-erp/repairflow/internal/shared"
)

// Handler manages challan endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers challan routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/challans", h.createChallan)
	r.Get("/challans/{uuid}", h.getChallan)
	r.Post("/challans/{uuid}/orders", h.addOrder)
	r.Delete("/challans/{uuid}/orders/{orderUUID}", h.removeOrder)
	r.Post("/challans/{uuid}/complete", h.completeChallan)
	r.Get("/ready-orders", h.readyOrders)
	r.Get("/orders/{uuid}/delivered", h.isDelivered)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, shared.ErrValidation) || errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrInvalidTransition) || errors.Is(err, shared.ErrOrderNotReady) ||
		errors.Is(err, shared.ErrOrderAlreadyManifested) {
		h.logger.Warn(op+" rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
	} else {
		h.logger.Error(op+" failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) createChallan(w http.ResponseWriter, r *http.Request) {
	var in CreateChallanInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, "create challan", err)
		return
	}
	in.Actor = shared.ActorFromContext(r.Context())
	challan, err := h.service.CreateChallan(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create challan", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, challan)
}

func (h *Handler) getChallan(w http.ResponseWriter, r *http.Request) {
	challan, err := h.service.GetChallan(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		h.fail(w, r, "get challan", err)
		return
	}
	httpx.JSON(w, http.StatusOK, challan)
}

func (h *Handler) addOrder(w http.ResponseWriter, r *http.Request) {
	var in AddOrderInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, "add order to challan", err)
		return
	}
	entry, err := h.service.AddOrderToChallan(r.Context(), chi.URLParam(r, "uuid"), in.OrderUUID,
		shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "add order to challan", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) removeOrder(w http.ResponseWriter, r *http.Request) {
	err := h.service.RemoveOrderFromChallan(r.Context(), chi.URLParam(r, "uuid"), chi.URLParam(r, "orderUUID"),
		shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "remove order from challan", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) completeChallan(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.CompleteChallan(r.Context(), chi.URLParam(r, "uuid"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "complete challan", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) readyOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	orders, err := h.service.ReadyOrders(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "list ready orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) isDelivered(w http.ResponseWriter, r *http.Request) {
	orderUUID := chi.URLParam(r, "uuid")
	delivered, err := h.service.IsDelivered(r.Context(), orderUUID)
	if err != nil {
		h.fail(w, r, "check delivered", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order_uuid": orderUUID, "delivered": delivered})
}
