package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/emberhedge/firemark/internal/domain"
)

// StatusService is the slice of the service layer the status handler needs.
type StatusService interface {
	ListMarkets(ctx context.Context) []domain.Market
	PersistedCount(ctx context.Context) (int64, error)
	DegradedCount(ctx context.Context) (int64, error)
}

// StatusHandler reports a snapshot of the running instance: market counts by
// state, degraded transfers pending reconciliation, mode, and uptime.
type StatusHandler struct {
	status    StatusService
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(status StatusService, mode string, startedAt time.Time, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		status:    status,
		mode:      mode,
		startedAt: startedAt,
		logger:    logger,
	}
}

// GetStatus returns the instance snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	markets := h.status.ListMarkets(r.Context())

	byState := map[string]int{}
	for _, m := range markets {
		byState[m.State.String()]++
	}

	degraded, err := h.status.DegradedCount(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: degraded count failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read degraded count")
		return
	}

	// The persisted count trails the registry when a mirror write was
	// dropped; surfacing both lets operators spot the drift.
	persisted, err := h.status.PersistedCount(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: persisted count failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read persisted count")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":               h.mode,
		"uptime_seconds":     int64(time.Since(h.startedAt).Seconds()),
		"markets_total":      len(markets),
		"markets_persisted":  persisted,
		"markets_by_state":   byState,
		"degraded_transfers": degraded,
	})
}
