package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"scopeleak/internal/report"
	"scopeleak/internal/tracker"
	"scopeleak/pkg/platform/httputil"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// UsageReader exposes the last usage snapshot.
type UsageReader interface {
	Last() (tracker.Usage, bool)
}

// HistoryReader exposes reported rounds, newest first.
type HistoryReader interface {
	Latest(ctx context.Context, limit int) ([]report.Round, error)
}

// Handler serves the harness's read-only endpoints. It never triggers a
// probe: /usage returns what the driver loop last measured.
type Handler struct {
	usage   UsageReader
	history HistoryReader
	logger  *slog.Logger
}

// NewHandler constructs a Handler. history may be nil when no store is configured.
func NewHandler(usage UsageReader, history HistoryReader, logger *slog.Logger) *Handler {
	return &Handler{usage: usage, history: history, logger: logger}
}

// Register mounts the endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.HandleRoot)
	r.Get("/healthz", h.HandleHealth)
	r.Get("/usage", h.HandleUsage)
	r.Get("/usage/history", h.HandleHistory)
}

// HandleRoot answers the plain greeting route.
func (h *Handler) HandleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Hello World!"))
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleUsage handles GET /usage.
func (h *Handler) HandleUsage(w http.ResponseWriter, _ *http.Request) {
	usage, ok := h.usage.Last()
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, "no usage reported yet")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, usageResponse{Usage: usage, LeakRatio: usage.LeakRatio()})
}

// HandleHistory handles GET /usage/history?limit=N.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		httputil.WriteError(w, http.StatusNotFound, "history store not configured")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	rounds, err := h.history.Latest(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read usage history failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if rounds == nil {
		rounds = []report.Round{}
	}
	httputil.WriteJSON(w, http.StatusOK, historyResponse{Rounds: rounds})
}

type usageResponse struct {
	tracker.Usage
	LeakRatio float64 `json:"leak_ratio"`
}

type historyResponse struct {
	Rounds []report.Round `json:"rounds"`
}
