package engine

import (
	"fmt"

	"github.com/emberhedge/firemark/internal/domain"
)

// AssetPool is the one operation the engine depends on from a pool: the
// unilateral bulk move of its whole balance into its counterpart. The call
// may fail without rolling back the caller.
type AssetPool interface {
	Ref() domain.VaultRef
	TransferAllToCounterpart() error
}

// PoolFactory creates the risk/hedge pool pair for a new market, wired as
// mutual counterparts with the transfer pre-authorized between them. A
// factory that is not fully wired yet must fail loudly; that is a
// deployment-time error, not a runtime one.
type PoolFactory interface {
	CreatePair(id domain.MarketID) (risk, hedge AssetPool, err error)
}

// poolPair holds the live pool handles for one market.
type poolPair struct {
	risk  AssetPool
	hedge AssetPool
}

// factory allocates market ids and owns the id-to-pool-pair mapping. It is
// unexported: only the state machine may drive market creation.
type factory struct {
	pools  PoolFactory
	nextID domain.MarketID
	pairs  map[domain.MarketID]poolPair
}

func newFactory(pools PoolFactory) *factory {
	return &factory{
		pools:  pools,
		nextID: 1,
		pairs:  make(map[domain.MarketID]poolPair),
	}
}

// create validates the creation invariants, allocates the next id, and
// instantiates the pool pair. Validation happens before the id is
// allocated, so a rejected creation never consumes an id.
func (f *factory) create(now, startTime, endTime int64) (domain.MarketID, poolPair, error) {
	if startTime <= now {
		return 0, poolPair{}, fmt.Errorf("engine: start time %d not in the future: %w", startTime, domain.ErrInvalidTimeParameters)
	}
	if endTime <= startTime {
		return 0, poolPair{}, fmt.Errorf("engine: end time %d not after start %d: %w", endTime, startTime, domain.ErrInvalidTimeParameters)
	}

	id := f.nextID
	risk, hedge, err := f.pools.CreatePair(id)
	if err != nil {
		return 0, poolPair{}, fmt.Errorf("engine: create pool pair for market %d: %w", id, err)
	}

	f.nextID++
	pair := poolPair{risk: risk, hedge: hedge}
	f.pairs[id] = pair
	return id, pair, nil
}

// pair returns the live pool handles for a market.
func (f *factory) pair(id domain.MarketID) (poolPair, bool) {
	p, ok := f.pairs[id]
	return p, ok
}

// observe advances the id counter past a restored market id and records its
// pool pair, used when the engine is rebuilt from the persistent store.
func (f *factory) observe(id domain.MarketID, p poolPair) {
	if id >= f.nextID {
		f.nextID = id + 1
	}
	if p.risk != nil || p.hedge != nil {
		f.pairs[id] = p
	}
}
