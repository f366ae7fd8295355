package jobs

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/repairflow/internal/platform/httpx"
)

// QueueStats is the health summary of one queue.
type QueueStats struct {
	Queue    string `json:"queue"`
	Pending  int    `json:"pending"`
	Active   int    `json:"active"`
	Retry    int    `json:"retry"`
	Archived int    `json:"archived"`
	Paused   bool   `json:"paused"`
}

// Handler serves queue health for operators.
type Handler struct {
	inspector *asynq.Inspector
	logger    *slog.Logger
}

// NewHandler builds the handler. A nil inspector reports empty queues.
func NewHandler(inspector *asynq.Inspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	stats := make([]QueueStats, 0, len(queuePriorities))
	for _, queue := range []string{QueueNotifications, QueueDefault} {
		s := QueueStats{Queue: queue}
		if h.inspector != nil {
			info, err := h.inspector.GetQueueInfo(queue)
			switch {
			case err == nil:
				s = QueueStats{Queue: queue, Pending: info.Pending, Active: info.Active, Retry: info.Retry, Archived: info.Archived, Paused: info.Paused}
			case errors.Is(err, asynq.ErrQueueNotFound):
				// a queue appears in redis on first enqueue
			default:
				h.logger.WarnContext(r.Context(), "jobs health", slog.String("queue", queue), slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Queue unavailable", err.Error())
				return
			}
		}
		stats = append(stats, s)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"queues": stats})
}
