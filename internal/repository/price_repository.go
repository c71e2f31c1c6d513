package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"token-price-api/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
)

const createPriceObservationsTable = `
CREATE TABLE IF NOT EXISTS price_observations (
    id        BIGSERIAL PRIMARY KEY,
    token_id  BIGINT         NOT NULL REFERENCES tokens(id),
    ts        TIMESTAMPTZ    NOT NULL,
    open      NUMERIC(78,18) NOT NULL,
    close     NUMERIC(78,18) NOT NULL,
    high      NUMERIC(78,18) NOT NULL,
    low       NUMERIC(78,18) NOT NULL,
    price_usd NUMERIC(78,18) NOT NULL,
    UNIQUE (token_id, ts)
);

CREATE INDEX IF NOT EXISTS idx_price_observations_token_ts
    ON price_observations (token_id, ts DESC);
`

const upsertObservationSQL = `
INSERT INTO price_observations (token_id, ts, open, close, high, low, price_usd)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (token_id, ts) DO UPDATE SET
    open = EXCLUDED.open,
    close = EXCLUDED.close,
    high = EXCLUDED.high,
    low = EXCLUDED.low,
    price_usd = EXCLUDED.price_usd`

type PriceRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewPriceRepository(pool PgxPool, tracer trace.Tracer) *PriceRepository {
	return &PriceRepository{pool: pool, tracer: tracer}
}

func (r *PriceRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "price-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createPriceObservationsTable)
	return err
}

// UpsertObservations writes one token's batch inside a single transaction:
// re-fetched hours overwrite in place, and a failure leaves the token's
// previously committed rows untouched.
func (r *PriceRepository) UpsertObservations(ctx context.Context, tokenID int64, obs []domain.PriceObservation) error {
	if len(obs) == 0 {
		return nil
	}

	_, span := r.tracer.Start(ctx, "price-repo.upsert-observations")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin upsert: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, o := range obs {
		batch.Queue(upsertObservationSQL,
			tokenID, o.Timestamp,
			o.Open.String(), o.Close.String(), o.High.String(), o.Low.String(), o.PriceUSD.String(),
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range obs {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("%w: upsert observations for token %d: %v", domain.ErrStoreUnavailable, tokenID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("%w: close batch for token %d: %v", domain.ErrStoreUnavailable, tokenID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit observations for token %d: %v", domain.ErrStoreUnavailable, tokenID, err)
	}
	return nil
}

// LatestTimestamp returns the reconciliation watermark: the newest stored
// observation hour for the token. ok is false when no rows exist yet.
func (r *PriceRepository) LatestTimestamp(ctx context.Context, tokenID int64) (time.Time, bool, error) {
	_, span := r.tracer.Start(ctx, "price-repo.latest-timestamp")
	defer span.End()

	var ts time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT ts FROM price_observations WHERE token_id = $1 ORDER BY ts DESC LIMIT 1`,
		tokenID,
	).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: latest timestamp for token %d: %v", domain.ErrStoreUnavailable, tokenID, err)
	}
	return ts.UTC(), true, nil
}

// ObservationsInRange returns observations with from <= ts <= to, ascending.
func (r *PriceRepository) ObservationsInRange(ctx context.Context, tokenID int64, from, to time.Time) ([]domain.PriceObservation, error) {
	_, span := r.tracer.Start(ctx, "price-repo.observations-in-range")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT token_id, ts, open::text, close::text, high::text, low::text, price_usd::text
		 FROM price_observations
		 WHERE token_id = $1 AND ts >= $2 AND ts <= $3
		 ORDER BY ts ASC`,
		tokenID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: observations in range: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	return collectObservations(rows)
}

// RecentObservations returns up to limit rows, newest first.
func (r *PriceRepository) RecentObservations(ctx context.Context, tokenID int64, limit int) ([]domain.PriceObservation, error) {
	_, span := r.tracer.Start(ctx, "price-repo.recent-observations")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT token_id, ts, open::text, close::text, high::text, low::text, price_usd::text
		 FROM price_observations
		 WHERE token_id = $1
		 ORDER BY ts DESC
		 LIMIT $2`,
		tokenID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: recent observations: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	return collectObservations(rows)
}

func collectObservations(rows pgx.Rows) ([]domain.PriceObservation, error) {
	var obs []domain.PriceObservation
	for rows.Next() {
		var (
			o                                  domain.PriceObservation
			openS, closeS, highS, lowS, priceS string
		)
		if err := rows.Scan(&o.TokenID, &o.Timestamp, &openS, &closeS, &highS, &lowS, &priceS); err != nil {
			return nil, fmt.Errorf("%w: scan observation: %v", domain.ErrStoreUnavailable, err)
		}
		o.Timestamp = o.Timestamp.UTC()

		for _, f := range []struct {
			dst *decimal.Decimal
			raw string
		}{
			{&o.Open, openS}, {&o.Close, closeS}, {&o.High, highS}, {&o.Low, lowS}, {&o.PriceUSD, priceS},
		} {
			v, err := decimal.NewFromString(f.raw)
			if err != nil {
				return nil, fmt.Errorf("%w: parse observation numeric %q: %v", domain.ErrStoreUnavailable, f.raw, err)
			}
			*f.dst = v
		}
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate observations: %v", domain.ErrStoreUnavailable, err)
	}
	return obs, nil
}
