package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/emberhedge/firemark/internal/domain"
	"github.com/emberhedge/firemark/internal/engine"
)

// MarketService defines the methods that the market handler requires from
// the service layer. Declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, startTime, endTime int64, lat, lon domain.Coordinate) (domain.Market, error)
	LockMarket(ctx context.Context, id domain.MarketID) (domain.Market, error)
	MatureMarket(ctx context.Context, id domain.MarketID) (engine.Outcome, error)
	GetMarket(ctx context.Context, id domain.MarketID) (domain.Market, error)
	GetState(ctx context.Context, id domain.MarketID) domain.MarketState
	GetVaults(ctx context.Context, id domain.MarketID) (domain.VaultPair, error)
	GetLiquidation(ctx context.Context, id domain.MarketID) (liquidated bool, at int64, err error)
	ListMarkets(ctx context.Context) []domain.Market
	ListMarketsByState(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error)
	ListAttestations(ctx context.Context, id domain.MarketID, opts domain.ListOpts) ([]domain.Attestation, error)
	FetchProofBlob(ctx context.Context, id domain.MarketID, blobHash string) ([]byte, error)
}

// MarketHandler serves the market lifecycle HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// createMarketRequest is the body for market creation. Coordinates are fixed
// point, degrees times 1e6.
type createMarketRequest struct {
	EventStartTime int64 `json:"event_start_time"`
	EventEndTime   int64 `json:"event_end_time"`
	Latitude       int64 `json:"latitude"`
	Longitude      int64 `json:"longitude"`
}

// CreateMarket creates a new market and opens it for deposits.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), req.EventStartTime, req.EventEndTime,
		domain.Coordinate(req.Latitude), domain.Coordinate(req.Longitude))
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: create market rejected",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, m)
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int             `json:"total"`
}

// ListMarkets returns all markets ordered by id, or only those in the state
// given by the optional state query parameter.
// GET /api/markets[?state=locked]
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	var markets []domain.Market

	if raw := r.URL.Query().Get("state"); raw != "" {
		state, err := domain.ParseMarketState(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown state "+raw)
			return
		}
		markets, err = h.markets.ListMarketsByState(r.Context(), state, parseListOpts(r))
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: list markets by state failed",
				slog.String("state", raw),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list markets")
			return
		}
	} else {
		markets = h.markets.ListMarkets(r.Context())
	}

	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   len(markets),
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathMarketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// GetState returns only the lifecycle state of a market. Unknown ids report
// "not_set" rather than 404, matching the registry's presence semantics.
// GET /api/markets/{id}/state
func (h *MarketHandler) GetState(w http.ResponseWriter, r *http.Request) {
	id, err := pathMarketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state := h.markets.GetState(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"state":     state,
	})
}

// GetVaults returns the risk and hedge vault references for a market.
// GET /api/markets/{id}/vaults
func (h *MarketHandler) GetVaults(w http.ResponseWriter, r *http.Request) {
	id, err := pathMarketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pair, err := h.markets.GetVaults(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// GetLiquidation reports whether a market liquidated and at what time.
// GET /api/markets/{id}/liquidation
func (h *MarketHandler) GetLiquidation(w http.ResponseWriter, r *http.Request) {
	id, err := pathMarketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	liquidated, at, err := h.markets.GetLiquidation(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{
		"market_id":  id,
		"liquidated": liquidated,
	}
	if liquidated {
		resp["liquidation_time"] = at
	}
	writeJSON(w, http.StatusOK, resp)
}

// LockMarket transitions an Open market to Locked once its event window has
// started. Deliberately unauthenticated: the transition is a pure function
// of ledger time and stored state.
// POST /api/markets/{id}/lock
func (h *MarketHandler) LockMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathMarketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.markets.LockMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// MatureMarket closes out a Locked market whose event window elapsed without
// a liquidation.
// POST /api/markets/{id}/mature
func (h *MarketHandler) MatureMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathMarketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.markets.MatureMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcomeResponse(out))
}

// ListAttestations returns the proof submission history for a market,
// newest first.
// GET /api/markets/{id}/attestations
func (h *MarketHandler) ListAttestations(w http.ResponseWriter, r *http.Request) {
	id, err := pathMarketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := h.markets.ListAttestations(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list attestations failed",
			slog.Uint64("market_id", uint64(id)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list attestations")
		return
	}
	if recs == nil {
		recs = []domain.Attestation{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"attestations": recs,
		"total":        len(recs),
	})
}

// GetProofBlob streams the raw archived proof blob for a past submission so
// a disputed adjudication can be replayed offline. The hash comes from the
// attestation record.
// GET /api/markets/{id}/attestations/{hash}
func (h *MarketHandler) GetProofBlob(w http.ResponseWriter, r *http.Request) {
	id, err := pathMarketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	blobHash := r.PathValue("hash")
	if blobHash == "" {
		writeError(w, http.StatusBadRequest, "missing blob hash")
		return
	}

	blob, err := h.markets.FetchProofBlob(r.Context(), id, blobHash)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}
