package domain

// Signal bus channels and streams.
const (
	ChannelMarketState = "firemark:market:state"
	ChannelDegraded    = "firemark:market:degraded"
	StreamTransitions  = "firemark:stream:transitions"
)

// Notification event types, used for operator alert filtering.
const (
	EventMarketCreated    = "market_created"
	EventMarketLocked     = "market_locked"
	EventMarketLiquidated = "market_liquidated"
	EventMarketMatured    = "market_matured"
	EventTransferDegraded = "transfer_degraded"
)

// StateChange is the notification emitted on every initial and terminal
// transition, carrying the market id and the state it entered. Degraded is
// set when a terminal transition finalized despite a failed fund transfer.
type StateChange struct {
	MarketID MarketID    `json:"market_id"`
	NewState MarketState `json:"new_state"`
	Degraded bool        `json:"degraded,omitempty"`
	At       int64       `json:"at"` // unix seconds
}
