package repository

import (
	"context"
	"errors"
	"fmt"

	"token-price-api/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
)

const createTokensTable = `
CREATE TABLE IF NOT EXISTS tokens (
    id           BIGSERIAL PRIMARY KEY,
    address      TEXT           NOT NULL UNIQUE,
    symbol       TEXT           NOT NULL UNIQUE,
    name         TEXT           NOT NULL DEFAULT '',
    decimals     INTEGER        NOT NULL DEFAULT 18,
    total_supply NUMERIC(78,18) NOT NULL DEFAULT 0,
    volume_usd   NUMERIC(78,18) NOT NULL DEFAULT 0
);
`

const upsertTokenSQL = `
INSERT INTO tokens (address, symbol, name, decimals, total_supply, volume_usd)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (address) DO UPDATE SET
    symbol = EXCLUDED.symbol,
    name = EXCLUDED.name,
    decimals = EXCLUDED.decimals,
    total_supply = EXCLUDED.total_supply,
    volume_usd = EXCLUDED.volume_usd
RETURNING id`

// PgxPool is the slice of pgxpool.Pool the repositories need; tests can stub it.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
}

type TokenRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewTokenRepository(pool PgxPool, tracer trace.Tracer) *TokenRepository {
	return &TokenRepository{pool: pool, tracer: tracer}
}

func (r *TokenRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "token-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createTokensTable)
	return err
}

// UpsertTokens writes all token rows in one batch, keyed by address, and
// returns them with their store-assigned ids. Every field except the address
// is overwritten; upstream metadata drifts between passes.
func (r *TokenRepository) UpsertTokens(ctx context.Context, infos []domain.TokenInfo) ([]domain.Token, error) {
	if len(infos) == 0 {
		return nil, nil
	}

	_, span := r.tracer.Start(ctx, "token-repo.upsert-tokens")
	defer span.End()

	batch := &pgx.Batch{}
	for _, info := range infos {
		batch.Queue(upsertTokenSQL,
			info.Address, info.Symbol, info.Name, info.Decimals,
			info.TotalSupply.String(), info.VolumeUSD.String(),
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	tokens := make([]domain.Token, 0, len(infos))
	for _, info := range infos {
		var id int64
		if err := br.QueryRow().Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: upsert token %s: %v", domain.ErrStoreUnavailable, info.Address, err)
		}
		tokens = append(tokens, domain.Token{
			ID:          id,
			Address:     info.Address,
			Symbol:      info.Symbol,
			Name:        info.Name,
			Decimals:    info.Decimals,
			TotalSupply: info.TotalSupply,
			VolumeUSD:   info.VolumeUSD,
		})
	}
	return tokens, nil
}

func (r *TokenRepository) ListTokens(ctx context.Context) ([]domain.Token, error) {
	_, span := r.tracer.Start(ctx, "token-repo.list-tokens")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT id, address, symbol, name, decimals, total_supply::text, volume_usd::text
		 FROM tokens
		 ORDER BY symbol`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list tokens: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var tokens []domain.Token
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list tokens: %v", domain.ErrStoreUnavailable, err)
	}
	return tokens, nil
}

func (r *TokenRepository) GetBySymbol(ctx context.Context, symbol string) (domain.Token, error) {
	_, span := r.tracer.Start(ctx, "token-repo.get-by-symbol")
	defer span.End()

	row := r.pool.QueryRow(ctx,
		`SELECT id, address, symbol, name, decimals, total_supply::text, volume_usd::text
		 FROM tokens
		 WHERE symbol = $1`,
		symbol,
	)
	tok, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Token{}, fmt.Errorf("%w: %s", domain.ErrTokenNotFound, symbol)
	}
	return tok, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (domain.Token, error) {
	var (
		tok            domain.Token
		supply, volume string
	)
	if err := row.Scan(&tok.ID, &tok.Address, &tok.Symbol, &tok.Name, &tok.Decimals, &supply, &volume); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Token{}, err
		}
		return domain.Token{}, fmt.Errorf("%w: scan token: %v", domain.ErrStoreUnavailable, err)
	}

	var err error
	if tok.TotalSupply, err = decimal.NewFromString(supply); err != nil {
		return domain.Token{}, fmt.Errorf("%w: bad total_supply %q", domain.ErrStoreUnavailable, supply)
	}
	if tok.VolumeUSD, err = decimal.NewFromString(volume); err != nil {
		return domain.Token{}, fmt.Errorf("%w: bad volume_usd %q", domain.ErrStoreUnavailable, volume)
	}
	return tok, nil
}
