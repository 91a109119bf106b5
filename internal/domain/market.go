package domain

import (
	"encoding/json"
	"fmt"
)

// MarketID identifies a market. IDs are assigned sequentially starting at 1
// and are never reused; 0 is not a valid id.
type MarketID uint64

// MarketState is the lifecycle state of a market. The only reachable
// sequences are NotSet -> Open -> Locked -> Liquidated and
// NotSet -> Open -> Locked -> Matured; Liquidated and Matured are terminal.
type MarketState uint8

const (
	// StateNotSet is the implicit state of any id that was never created. It
	// is represented by absence from the registry, not by a stored value.
	StateNotSet MarketState = iota
	StateOpen
	StateLocked
	StateLiquidated
	StateMatured
)

// String returns the lowercase wire name of the state.
func (s MarketState) String() string {
	switch s {
	case StateNotSet:
		return "not_set"
	case StateOpen:
		return "open"
	case StateLocked:
		return "locked"
	case StateLiquidated:
		return "liquidated"
	case StateMatured:
		return "matured"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Terminal reports whether no transition leaves this state.
func (s MarketState) Terminal() bool {
	return s == StateLiquidated || s == StateMatured
}

// MarshalJSON encodes the state as its string name.
func (s MarketState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state from its string name.
func (s *MarketState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	st, err := ParseMarketState(name)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseMarketState maps a wire name back to a MarketState.
func ParseMarketState(name string) (MarketState, error) {
	switch name {
	case "not_set":
		return StateNotSet, nil
	case "open":
		return StateOpen, nil
	case "locked":
		return StateLocked, nil
	case "liquidated":
		return StateLiquidated, nil
	case "matured":
		return StateMatured, nil
	default:
		return StateNotSet, fmt.Errorf("domain: unknown market state %q", name)
	}
}

// Coordinate is a signed fixed-point geographic coordinate: integer degrees
// scaled by 1e6. Zero is reserved as the "unset" sentinel, which makes a
// market exactly on the equator or the prime meridian unrepresentable. The
// limitation is inherited from the system this core adjudicates for and is
// kept as-is.
type Coordinate int64

// CoordinateScale is the fixed-point scale: degrees * 1e6.
const CoordinateScale = 1_000_000

// Degrees returns the coordinate as floating-point degrees, for display only.
// Adjudication always compares the scaled integers exactly.
func (c Coordinate) Degrees() float64 {
	return float64(c) / CoordinateScale
}

// Market is one instance of the insurable event and its two pools.
type Market struct {
	ID              MarketID    `json:"id"`
	State           MarketState `json:"state"`
	EventStartTime  int64       `json:"event_start_time"` // unix seconds
	EventEndTime    int64       `json:"event_end_time"`   // unix seconds
	Latitude        Coordinate  `json:"latitude"`
	Longitude       Coordinate  `json:"longitude"`
	HasLiquidated   bool        `json:"has_liquidated"`   // sticky, set at most once
	LiquidationTime int64       `json:"liquidation_time"` // unix seconds, 0 = never
	RiskVault       VaultRef    `json:"risk_vault"`
	HedgeVault      VaultRef    `json:"hedge_vault"`
	CreatedAt       int64       `json:"created_at"` // unix seconds
}

// InWindow reports whether the given unix time falls inside the market's
// event window, boundaries inclusive.
func (m Market) InWindow(now int64) bool {
	return now >= m.EventStartTime && now <= m.EventEndTime
}

// DepositAllowed reports whether user deposits into either pool are
// permitted. Deposits are only accepted while the market is Open.
func (m Market) DepositAllowed() bool {
	return m.State == StateOpen
}

// WithdrawAllowed reports whether user withdrawals from either pool are
// permitted. Withdrawals are blocked while Locked so the adjudication
// outcome cannot be front-run.
func (m Market) WithdrawAllowed() bool {
	switch m.State {
	case StateOpen, StateMatured, StateLiquidated:
		return true
	default:
		return false
	}
}
