package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberhedge/firemark/internal/domain"
)

// AttestationStore implements domain.AttestationStore: an append-only audit
// log of every oracle proof submission, accepted or rejected.
type AttestationStore struct {
	pool *pgxpool.Pool
}

// NewAttestationStore creates a new AttestationStore backed by the given pool.
func NewAttestationStore(pool *pgxpool.Pool) *AttestationStore {
	return &AttestationStore{pool: pool}
}

// Insert appends one submission record.
func (s *AttestationStore) Insert(ctx context.Context, att domain.Attestation) error {
	const query = `
		INSERT INTO attestations (
			id, market_id, blob_hash, latitude, longitude, fire_flag,
			result, degraded, error, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		att.ID, int64(att.MarketID), att.BlobHash,
		int64(att.Payload.Latitude), int64(att.Payload.Longitude), int64(att.Payload.FireFlag),
		string(att.Result), att.Degraded, att.Error, att.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert attestation %s: %w", att.ID, err)
	}
	return nil
}

// ListByMarket returns submissions for a market, newest first.
func (s *AttestationStore) ListByMarket(ctx context.Context, id domain.MarketID, opts domain.ListOpts) ([]domain.Attestation, error) {
	query := `
		SELECT id, market_id, blob_hash, latitude, longitude, fire_flag,
			result, degraded, error, submitted_at
		FROM attestations WHERE market_id = $1
		ORDER BY submitted_at DESC`
	args := []any{int64(id)}
	argIdx := 2

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
		return nil, fmt.Errorf("postgres: list attestations for market %d: %w", id, err)
	}
	defer rows.Close()

	var atts []domain.Attestation
	for rows.Next() {
		var (
			a                  domain.Attestation
			marketID, lat, lon int64
			flag               int64
			result             string
		)
		if err := rows.Scan(
			&a.ID, &marketID, &a.BlobHash, &lat, &lon, &flag,
			&result, &a.Degraded, &a.Error, &a.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan attestation: %w", err)
		}
		a.MarketID = domain.MarketID(marketID)
		a.Payload = domain.AttestationPayload{
			Latitude:  domain.Coordinate(lat),
			Longitude: domain.Coordinate(lon),
			FireFlag:  uint64(flag),
		}
		a.Result = domain.AdjudicationResult(result)
		atts = append(atts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list attestations rows: %w", err)
	}
	return atts, nil
}

// CountDegraded returns how many submissions finalized with a degraded fund
// transfer. A non-zero count is an operator signal that pooled funds are
// stuck and need manual attention.
func (s *AttestationStore) CountDegraded(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attestations WHERE degraded`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count degraded attestations: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.AttestationStore = (*AttestationStore)(nil)
