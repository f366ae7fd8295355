package work

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/repairflow/internal/platform/httpx"
	"github.com/odyssey-erp/repairflow/internal/shared"
)

// Handler exposes the order lifecycle over HTTP.
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

// MountRoutes registers order, diagnosis and process routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/{uuid}", h.getOrder)
		r.Post("/{uuid}/diagnoses", h.recordDiagnosis)
		r.Post("/{uuid}/attach-diagnosis", h.attachDiagnosis)
		r.Post("/{uuid}/transfer-for-qc", h.transferForQC)
		r.Post("/{uuid}/ready-for-delivery", h.readyForDelivery)
	})
	r.Route("/diagnoses", func(r chi.Router) {
		r.Get("/pending", h.listPendingDiagnoses)
		r.Get("/{uuid}", h.getDiagnosis)
		r.Post("/{uuid}/decision", h.decideDiagnosis)
		r.Post("/{uuid}/sections", h.registerSections)
		r.Get("/{uuid}/processes", h.listProcesses)
		r.Post("/{uuid}/processes", h.recordProcessStep)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	level := slog.LevelWarn
	if !isClientError(err) {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, op+" failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func isClientError(err error) bool {
	for _, target := range []error{
		shared.ErrValidation, shared.ErrNotFound, shared.ErrInvalidTransition, shared.ErrStaleWorkflowState,
		shared.ErrDuplicateActiveDiagnosis,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ============================================================================
// ORDERS
// ============================================================================

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in CreateOrderInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, "create order", err)
		return
	}
	in.Actor = shared.ActorFromContext(r.Context())
	order, err := h.service.CreateOrder(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create order", err)
		return
	}
	detail, err := h.service.GetOrder(r.Context(), order.UUID)
	if err != nil {
		h.fail(w, r, "load order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, detail)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		h.fail(w, r, "get order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) attachDiagnosis(w http.ResponseWriter, r *http.Request) {
	var in AttachInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, "attach diagnosis", err)
		return
	}
	order, err := h.service.AttachDiagnosisResult(r.Context(), chi.URLParam(r, "uuid"), in.DiagnosisUUID)
	if err != nil {
		h.fail(w, r, "attach diagnosis", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) transferForQC(w http.ResponseWriter, r *http.Request) {
	var in QCInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, "transfer for qc", err)
		return
	}
	in.OrderUUID = chi.URLParam(r, "uuid")
	in.Actor = shared.ActorFromContext(r.Context())
	order, err := h.service.MarkTransferredForQC(r.Context(), in)
	if err != nil {
		h.fail(w, r, "transfer for qc", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) readyForDelivery(w http.ResponseWriter, r *http.Request) {
	var in ReadyInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, "ready for delivery", err)
		return
	}
	in.OrderUUID = chi.URLParam(r, "uuid")
	in.Actor = shared.ActorFromContext(r.Context())
	order, err := h.service.MarkReadyForDelivery(r.Context(), in)
	if err != nil {
		h.fail(w, r, "ready for delivery", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

// ============================================================================
// DIAGNOSES
// ============================================================================

func (h *Handler) recordDiagnosis(w http.ResponseWriter, r *http.Request) {
	var in DiagnosisInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, "record diagnosis", err)
		return
	}
	in.OrderUUID = chi.URLParam(r, "uuid")
	in.Actor = shared.ActorFromContext(r.Context())
	diagnosis, err := h.service.RecordDiagnosis(r.Context(), in)
	if err != nil {
		h.fail(w, r, "record diagnosis", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, diagnosis)
}

func (h *Handler) getDiagnosis(w http.ResponseWriter, r *http.Request) {
	diagnosis, err := h.service.GetDiagnosis(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		h.fail(w, r, "get diagnosis", err)
		return
	}
	httpx.JSON(w, http.StatusOK, diagnosis)
}

func (h *Handler) listPendingDiagnoses(w http.ResponseWriter, r *http.Request) {
	page, perPage := httpx.PageParams(r)
	items, pagination, err := h.service.ListPendingDiagnoses(r.Context(), page, perPage)
	if err != nil {
		h.fail(w, r, "list pending diagnoses", err)
		return
	}
	if items == nil {
		items = []Diagnosis{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": pagination})
}

func (h *Handler) decideDiagnosis(w http.ResponseWriter, r *http.Request) {
	var in DecisionInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, "decide diagnosis", err)
		return
	}
	in.DiagnosisUUID = chi.URLParam(r, "uuid")
	in.Actor = shared.ActorFromContext(r.Context())
	diagnosis, err := h.service.DecideDiagnosis(r.Context(), in)
	if err != nil {
		h.fail(w, r, "decide diagnosis", err)
		return
	}
	httpx.JSON(w, http.StatusOK, diagnosis)
}

// ============================================================================
// PROCESSES
// ============================================================================

func (h *Handler) listProcesses(w http.ResponseWriter, r *http.Request) {
	processes, err := h.service.ListProcesses(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		h.fail(w, r, "list processes", err)
		return
	}
	if processes == nil {
		processes = []Process{}
	}
	httpx.JSON(w, http.StatusOK, processes)
}

func (h *Handler) registerSections(w http.ResponseWriter, r *http.Request) {
	var in SectionsInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, "register sections", err)
		return
	}
	in.DiagnosisUUID = chi.URLParam(r, "uuid")
	in.Actor = shared.ActorFromContext(r.Context())
	processes, err := h.service.RegisterSections(r.Context(), in)
	if err != nil {
		h.fail(w, r, "register sections", err)
		return
	}
	httpx.JSON(w, http.StatusOK, processes)
}

func (h *Handler) recordProcessStep(w http.ResponseWriter, r *http.Request) {
	var in ProcessStepInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, "record process step", err)
		return
	}
	in.DiagnosisUUID = chi.URLParam(r, "uuid")
	in.Actor = shared.ActorFromContext(r.Context())
	result, err := h.service.RecordProcessStep(r.Context(), in)
	if err != nil {
		h.fail(w, r, "record process step", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
