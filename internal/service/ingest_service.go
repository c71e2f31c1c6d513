package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"token-price-api/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// bootstrapWindow is how far back the first fetch for a token reaches when
// no observations are stored yet.
const bootstrapWindow = 10 * 24 * time.Hour

// PriceSource fetches token metadata and hourly observations from the
// external subgraph.
type PriceSource interface {
	FetchTokens(ctx context.Context, addresses []string) ([]domain.TokenInfo, error)
	FetchTokenHourDatas(ctx context.Context, address string, since int64) ([]domain.HourPrice, error)
}

type TokenStore interface {
	UpsertTokens(ctx context.Context, infos []domain.TokenInfo) ([]domain.Token, error)
	ListTokens(ctx context.Context) ([]domain.Token, error)
}

type ObservationStore interface {
	UpsertObservations(ctx context.Context, tokenID int64, obs []domain.PriceObservation) error
	LatestTimestamp(ctx context.Context, tokenID int64) (time.Time, bool, error)
}

// IngestService reconciles the price store against the subgraph, one token
// at a time. Each token's batch commits independently; one token failing
// never blocks the rest of the cycle.
type IngestService struct {
	tracer trace.Tracer
	source PriceSource
	tokens TokenStore
	prices ObservationStore
	now    func() time.Time
}

func NewIngestService(tracer trace.Tracer, source PriceSource, tokens TokenStore, prices ObservationStore) *IngestService {
	return &IngestService{
		tracer: tracer,
		source: source,
		tokens: tokens,
		prices: prices,
		now:    time.Now,
	}
}

// SeedTokens bootstraps the tracked set from a list of contract addresses:
// one batched metadata fetch, one batched token upsert that resolves store
// identities, then per-token price reconciliation against those identities.
func (s *IngestService) SeedTokens(ctx context.Context, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "ingest.seed-tokens")
	defer span.End()

	infos, err := s.source.FetchTokens(ctx, addresses)
	if err != nil {
		return fmt.Errorf("seed metadata fetch: %w", err)
	}
	if len(infos) == 0 {
		return fmt.Errorf("%w: subgraph knows none of the %d seed addresses", domain.ErrSourceSchema, len(addresses))
	}

	tokens, err := s.tokens.UpsertTokens(ctx, infos)
	if err != nil {
		return fmt.Errorf("seed token upsert: %w", err)
	}

	for _, tok := range tokens {
		if err := s.syncPrices(ctx, tok); err != nil {
			log.Printf("seed price sync failed for %s: %v", tok.Symbol, err)
		}
	}

	log.Printf("Seeded %d tokens", len(tokens))
	return nil
}

// ReconcileAll runs one reconciliation cycle over every stored token:
// refresh metadata in one batch, then bring each token's observations up to
// its watermark. Returns an error only when every token failed, so the
// poller can tell a dead source from a flaky token.
func (s *IngestService) ReconcileAll(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "ingest.reconcile-all")
	defer span.End()

	tokens, err := s.tokens.ListTokens(ctx)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	if len(tokens) == 0 {
		log.Println("reconcile: no tokens tracked yet")
		return nil
	}

	tokens = s.refreshMetadata(ctx, tokens)

	failed := 0
	for _, tok := range tokens {
		if err := s.syncPrices(ctx, tok); err != nil {
			failed++
			log.Printf("price sync failed for %s: %v", tok.Symbol, err)
		}
	}

	if failed == len(tokens) {
		return fmt.Errorf("all %d token syncs failed", failed)
	}
	return nil
}

// refreshMetadata re-fetches and upserts token metadata for the whole set in
// one batch. A failure here only means this cycle serves slightly stale
// names and volumes, so it degrades to the stored rows.
func (s *IngestService) refreshMetadata(ctx context.Context, tokens []domain.Token) []domain.Token {
	addresses := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		addresses = append(addresses, tok.Address)
	}

	infos, err := s.source.FetchTokens(ctx, addresses)
	if err != nil {
		log.Printf("metadata refresh skipped: %v", err)
		return tokens
	}

	updated, err := s.tokens.UpsertTokens(ctx, infos)
	if err != nil {
		log.Printf("metadata upsert skipped: %v", err)
		return tokens
	}

	byAddress := make(map[string]domain.Token, len(updated))
	for _, tok := range updated {
		byAddress[tok.Address] = tok
	}

	merged := make([]domain.Token, 0, len(tokens))
	for _, tok := range tokens {
		if fresh, ok := byAddress[tok.Address]; ok {
			merged = append(merged, fresh)
		} else {
			merged = append(merged, tok)
		}
	}
	return merged
}

// syncPrices brings one token's observations up to date. The fetch window
// starts at the stored watermark, deliberately re-covering the newest stored
// hour: the upsert overwrites rather than duplicates, and a bucket that was
// still open when last fetched gets its final values this way.
func (s *IngestService) syncPrices(ctx context.Context, tok domain.Token) error {
	ctx, span := s.tracer.Start(ctx, "ingest.sync-prices")
	defer span.End()

	latest, ok, err := s.prices.LatestTimestamp(ctx, tok.ID)
	if err != nil {
		return err
	}

	var since int64
	if ok {
		since = latest.Unix()
	} else {
		since = s.now().Add(-bootstrapWindow).Unix()
	}

	points, err := s.source.FetchTokenHourDatas(ctx, tok.Address, since)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	// The source's ordering is not part of its contract.
	sort.Slice(points, func(i, j int) bool {
		return points[i].PeriodStart.Before(points[j].PeriodStart)
	})

	obs := make([]domain.PriceObservation, 0, len(points))
	for _, p := range points {
		obs = append(obs, domain.PriceObservation{
			TokenID:   tok.ID,
			Timestamp: p.PeriodStart.UTC().Truncate(time.Hour),
			Open:      p.Open,
			Close:     p.Close,
			High:      p.High,
			Low:       p.Low,
			PriceUSD:  p.PriceUSD,
		})
	}

	return s.prices.UpsertObservations(ctx, tok.ID, obs)
}
