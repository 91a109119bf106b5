package handler

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/emberhedge/firemark/internal/domain"
	"github.com/emberhedge/firemark/internal/engine"
)

// OracleService is the slice of the service layer the oracle handler needs.
type OracleService interface {
	SubmitOracleProof(ctx context.Context, id domain.MarketID, blob []byte) (engine.Outcome, error)
}

// OracleHandler serves the proof submission endpoint.
type OracleHandler struct {
	oracle OracleService
	logger *slog.Logger
}

// NewOracleHandler creates an OracleHandler.
func NewOracleHandler(oracle OracleService, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{
		oracle: oracle,
		logger: logger,
	}
}

// submitProofRequest carries the encoded proof blob: the 96-byte payload
// followed by the operator signatures, as hex (0x prefix optional) or
// standard base64.
type submitProofRequest struct {
	Proof string `json:"proof"`
}

// decodeProof accepts hex first, then base64. Hex wins on ambiguous input
// since operator tooling emits hex.
func decodeProof(s string) ([]byte, error) {
	if blob, err := hex.DecodeString(strings.TrimPrefix(s, "0x")); err == nil {
		return blob, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// submitProofResponse reports how an accepted submission was adjudicated.
type submitProofResponse struct {
	Result   domain.AdjudicationResult `json:"result"`
	Market   domain.Market             `json:"market"`
	Degraded bool                      `json:"degraded,omitempty"`
}

func outcomeResponse(out engine.Outcome) submitProofResponse {
	return submitProofResponse{
		Result:   out.Result,
		Market:   out.Market,
		Degraded: out.TransferDegraded,
	}
}

// SubmitProof adjudicates a market from a signed oracle proof. The endpoint
// is open to anyone: the proof authenticates itself through its operator
// signatures, and an ineffective proof is a no-op.
// POST /api/markets/{id}/oracle
func (h *OracleHandler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	id, err := pathMarketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req submitProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	blob, err := decodeProof(req.Proof)
	if err != nil || len(blob) == 0 {
		writeError(w, http.StatusBadRequest, "proof must be a non-empty hex or base64 string")
		return
	}

	out, err := h.oracle.SubmitOracleProof(r.Context(), id, blob)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: proof rejected",
			slog.Uint64("market_id", uint64(id)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcomeResponse(out))
}
