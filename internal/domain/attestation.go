package domain

// AttestationPayload is the decoded content of a verified oracle proof:
// three fields in fixed order, coordinates scaled identically to market
// coordinates and a fire flag where any non-zero value means the event
// occurred.
type AttestationPayload struct {
	Latitude  Coordinate `json:"latitude"`
	Longitude Coordinate `json:"longitude"`
	FireFlag  uint64     `json:"fire_flag"`
}

// Occurred reports whether the payload attests a positive event occurrence.
func (p AttestationPayload) Occurred() bool {
	return p.FireFlag > 0
}

// Matches reports whether the attested coordinates echo the market's stored
// coordinates verbatim. Matching is exact integer equality: this is the only
// binding between a proof and the market it applies to.
func (p AttestationPayload) Matches(m Market) bool {
	return p.Latitude == m.Latitude && p.Longitude == m.Longitude
}

// AdjudicationResult names the effect a proof submission had on a market.
type AdjudicationResult string

const (
	AdjudicationRejected   AdjudicationResult = "rejected"   // proof failed verification or decoding
	AdjudicationNoOp       AdjudicationResult = "noop"       // neither branch guard held
	AdjudicationLiquidated AdjudicationResult = "liquidated" // liquidation branch taken
	AdjudicationMatured    AdjudicationResult = "matured"    // maturation branch taken
)

// Attestation is the append-only record of one proof submission, accepted
// or not.
type Attestation struct {
	ID          string             `json:"id"` // uuid
	MarketID    MarketID           `json:"market_id"`
	BlobHash    string             `json:"blob_hash"` // hex keccak256 of the raw blob
	Payload     AttestationPayload `json:"payload"`   // zero value when the proof was rejected
	Result      AdjudicationResult `json:"result"`
	Degraded    bool               `json:"degraded"` // fund transfer failed after a terminal transition
	Error       string             `json:"error,omitempty"`
	SubmittedAt int64              `json:"submitted_at"` // unix seconds
}
