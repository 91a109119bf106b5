package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberhedge/firemark/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. It is the
// write-behind mirror of the engine registry: the engine commits first, the
// service persists here afterwards.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, state, event_start_time, event_end_time, latitude, longitude,
	has_liquidated, liquidation_time, risk_vault, hedge_vault, created_at`

// Upsert inserts or updates a single market record.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, state, event_start_time, event_end_time, latitude, longitude,
			has_liquidated, liquidation_time, risk_vault, hedge_vault,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			state            = EXCLUDED.state,
			has_liquidated   = EXCLUDED.has_liquidated,
			liquidation_time = EXCLUDED.liquidation_time,
			risk_vault       = EXCLUDED.risk_vault,
			hedge_vault      = EXCLUDED.hedge_vault,
			updated_at       = NOW()`

	_, err := s.pool.Exec(ctx, query,
		int64(m.ID), m.State.String(), m.EventStartTime, m.EventEndTime,
		int64(m.Latitude), int64(m.Longitude),
		m.HasLiquidated, m.LiquidationTime,
		string(m.RiskVault), string(m.HedgeVault), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %d: %w", m.ID, err)
	}
	return nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                  domain.Market
		id, lat, lon       int64
		state, risk, hedge string
	)
	err := row.Scan(
		&id, &state, &m.EventStartTime, &m.EventEndTime, &lat, &lon,
		&m.HasLiquidated, &m.LiquidationTime, &risk, &hedge, &m.CreatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}

	st, err := domain.ParseMarketState(state)
	if err != nil {
		return domain.Market{}, err
	}

	m.ID = domain.MarketID(id)
	m.State = st
	m.Latitude = domain.Coordinate(lat)
	m.Longitude = domain.Coordinate(lon)
	m.RiskVault = domain.VaultRef(risk)
	m.HedgeVault = domain.VaultRef(hedge)
	return m, nil
}

// GetByID retrieves a market by its id.
func (s *MarketStore) GetByID(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, int64(id))
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrMarketNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// List returns markets ordered by id with pagination.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return s.list(ctx, `SELECT `+marketCols+` FROM markets ORDER BY id`, nil, opts)
}

// ListByState returns markets in the given state ordered by id.
func (s *MarketStore) ListByState(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error) {
	return s.list(ctx,
		`SELECT `+marketCols+` FROM markets WHERE state = $1 ORDER BY id`,
		[]any{state.String()}, opts)
}

func (s *MarketStore) list(ctx context.Context, query string, args []any, opts domain.ListOpts) ([]domain.Market, error) {
	argIdx := len(args) + 1
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of persisted markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
