package catalog

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/repairflow/internal/platform/httpx"
)

// Handler exposes name resolution for clients rendering orders.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/names", h.resolveNames)
}

func (h *Handler) resolveNames(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resolved, err := h.service.Resolve(r.Context(), splitList(q.Get("problems")), splitList(q.Get("accessories")))
	if err != nil {
		h.logger.Error("resolve catalog names", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resolved)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
