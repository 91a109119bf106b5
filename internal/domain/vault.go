package domain

// VaultRef is an opaque, immutable reference to one of a market's two pools.
// References are assigned by the factory at creation time and never change.
type VaultRef string

// VaultSide distinguishes the two pools of a market.
type VaultSide string

const (
	// VaultSideRisk holds funds forfeited to the hedge pool if the event
	// occurs.
	VaultSideRisk VaultSide = "risk"
	// VaultSideHedge holds funds forfeited to the risk pool if the event
	// does not occur by maturity.
	VaultSideHedge VaultSide = "hedge"
)

// VaultPair is the pair of pool references created alongside a market.
type VaultPair struct {
	Risk  VaultRef `json:"risk"`
	Hedge VaultRef `json:"hedge"`
}
