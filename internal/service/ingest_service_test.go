package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"token-price-api/internal/domain"
)

var ingestNow = time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)

type mockSource struct {
	infos      []domain.TokenInfo
	infosErr   error
	hourDatas  map[string][]domain.HourPrice
	hourErrs   map[string]error
	sinceSeen  map[string]int64
	fetchCalls int
}

func (m *mockSource) FetchTokens(ctx context.Context, addresses []string) ([]domain.TokenInfo, error) {
	m.fetchCalls++
	if m.infosErr != nil {
		return nil, m.infosErr
	}
	return m.infos, nil
}

func (m *mockSource) FetchTokenHourDatas(ctx context.Context, address string, since int64) ([]domain.HourPrice, error) {
	if m.sinceSeen == nil {
		m.sinceSeen = make(map[string]int64)
	}
	m.sinceSeen[address] = since
	if err, ok := m.hourErrs[address]; ok {
		return nil, err
	}
	return m.hourDatas[address], nil
}

type mockTokenStore struct {
	tokens      []domain.Token
	upsertCalls int
	upsertErr   error
}

func (m *mockTokenStore) UpsertTokens(ctx context.Context, infos []domain.TokenInfo) ([]domain.Token, error) {
	m.upsertCalls++
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	var out []domain.Token
	for i, info := range infos {
		out = append(out, domain.Token{
			ID:      int64(i + 1),
			Address: info.Address,
			Symbol:  info.Symbol,
			Name:    info.Name,
		})
	}
	m.tokens = out
	return out, nil
}

func (m *mockTokenStore) ListTokens(ctx context.Context) ([]domain.Token, error) {
	return m.tokens, nil
}

type mockObsStore struct {
	latest   map[int64]time.Time
	upserted map[int64][]domain.PriceObservation
}

func newMockObsStore() *mockObsStore {
	return &mockObsStore{
		latest:   make(map[int64]time.Time),
		upserted: make(map[int64][]domain.PriceObservation),
	}
}

func (m *mockObsStore) UpsertObservations(ctx context.Context, tokenID int64, obs []domain.PriceObservation) error {
	m.upserted[tokenID] = append(m.upserted[tokenID], obs...)
	return nil
}

func (m *mockObsStore) LatestTimestamp(ctx context.Context, tokenID int64) (time.Time, bool, error) {
	ts, ok := m.latest[tokenID]
	return ts, ok, nil
}

func newTestIngestService(source *mockSource, tokens *mockTokenStore, prices *mockObsStore) *IngestService {
	svc := NewIngestService(testTracer, source, tokens, prices)
	svc.now = func() time.Time { return ingestNow }
	return svc
}

func hourPoint(hoursAgo int, price string) domain.HourPrice {
	ts := ingestNow.Truncate(time.Hour).Add(-time.Duration(hoursAgo) * time.Hour)
	return domain.HourPrice{
		PeriodStart: ts,
		Open:        dec(price),
		Close:       dec(price),
		High:        dec(price),
		Low:         dec(price),
		PriceUSD:    dec(price),
	}
}

func TestIngestService_SeedTokens(t *testing.T) {
	t.Parallel()

	source := &mockSource{
		infos: []domain.TokenInfo{
			{Address: "0xa", Symbol: "WBTC"},
			{Address: "0xb", Symbol: "SHIB"},
		},
		hourDatas: map[string][]domain.HourPrice{
			"0xa": {hourPoint(2, "64000.0")},
			"0xb": {hourPoint(2, "0.00002")},
		},
	}
	tokens := &mockTokenStore{}
	prices := newMockObsStore()
	svc := newTestIngestService(source, tokens, prices)

	if err := svc.SeedTokens(context.Background(), []string{"0xa", "0xb"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokens.upsertCalls != 1 {
		t.Fatalf("expected one batched token upsert, got %d", tokens.upsertCalls)
	}
	if len(prices.upserted[1]) != 1 || len(prices.upserted[2]) != 1 {
		t.Fatalf("expected one observation per token, got %+v", prices.upserted)
	}
	if got := prices.upserted[1][0].TokenID; got != 1 {
		t.Fatalf("expected observation bound to token 1, got %d", got)
	}
}

func TestIngestService_SeedEmptyAddressList(t *testing.T) {
	t.Parallel()

	source := &mockSource{}
	svc := newTestIngestService(source, &mockTokenStore{}, newMockObsStore())

	if err := svc.SeedTokens(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.fetchCalls != 0 {
		t.Fatal("expected no fetch for empty seed list")
	}
}

func TestIngestService_SeedUnknownAddresses(t *testing.T) {
	t.Parallel()

	source := &mockSource{}
	svc := newTestIngestService(source, &mockTokenStore{}, newMockObsStore())

	err := svc.SeedTokens(context.Background(), []string{"0xdead"})
	if !errors.Is(err, domain.ErrSourceSchema) {
		t.Fatalf("expected ErrSourceSchema, got %v", err)
	}
}

func TestIngestService_BootstrapWatermark(t *testing.T) {
	t.Parallel()

	source := &mockSource{infos: []domain.TokenInfo{{Address: "0xa", Symbol: "WBTC"}}}
	tokens := &mockTokenStore{tokens: []domain.Token{{ID: 1, Address: "0xa", Symbol: "WBTC"}}}
	prices := newMockObsStore()
	svc := newTestIngestService(source, tokens, prices)

	if err := svc.ReconcileAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := ingestNow.Add(-bootstrapWindow).Unix()
	if got := source.sinceSeen["0xa"]; got != want {
		t.Fatalf("expected bootstrap since %d, got %d", want, got)
	}
}

func TestIngestService_WatermarkFromStoredData(t *testing.T) {
	t.Parallel()

	latest := ingestNow.Truncate(time.Hour).Add(-3 * time.Hour)
	source := &mockSource{infos: []domain.TokenInfo{{Address: "0xa", Symbol: "WBTC"}}}
	tokens := &mockTokenStore{tokens: []domain.Token{{ID: 1, Address: "0xa", Symbol: "WBTC"}}}
	prices := newMockObsStore()
	prices.latest[1] = latest
	svc := newTestIngestService(source, tokens, prices)

	if err := svc.ReconcileAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The window starts at the watermark itself so the newest stored hour
	// is re-fetched and overwritten.
	if got := source.sinceSeen["0xa"]; got != latest.Unix() {
		t.Fatalf("expected since %d, got %d", latest.Unix(), got)
	}
}

func TestIngestService_SortsAndTruncatesPoints(t *testing.T) {
	t.Parallel()

	late := hourPoint(1, "11.0")
	early := hourPoint(3, "9.0")
	early.PeriodStart = early.PeriodStart.Add(17 * time.Minute)

	source := &mockSource{
		infos:     []domain.TokenInfo{{Address: "0xa", Symbol: "WBTC"}},
		hourDatas: map[string][]domain.HourPrice{"0xa": {late, early}},
	}
	tokens := &mockTokenStore{tokens: []domain.Token{{ID: 1, Address: "0xa", Symbol: "WBTC"}}}
	prices := newMockObsStore()
	svc := newTestIngestService(source, tokens, prices)

	if err := svc.ReconcileAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := prices.upserted[1]
	if len(got) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(got))
	}
	if !got[0].Timestamp.Before(got[1].Timestamp) {
		t.Fatal("expected observations sorted ascending")
	}
	if got[0].Timestamp.Minute() != 0 {
		t.Fatalf("expected hour-truncated timestamp, got %v", got[0].Timestamp)
	}
}

func TestIngestService_OneFailingTokenDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	source := &mockSource{
		infos: []domain.TokenInfo{
			{Address: "0xa", Symbol: "WBTC"},
			{Address: "0xb", Symbol: "SHIB"},
		},
		hourDatas: map[string][]domain.HourPrice{"0xb": {hourPoint(1, "0.00002")}},
		hourErrs:  map[string]error{"0xa": domain.ErrSourceUnavailable},
	}
	tokens := &mockTokenStore{tokens: []domain.Token{
		{ID: 1, Address: "0xa", Symbol: "WBTC"},
		{ID: 2, Address: "0xb", Symbol: "SHIB"},
	}}
	prices := newMockObsStore()
	svc := newTestIngestService(source, tokens, prices)

	if err := svc.ReconcileAll(context.Background()); err != nil {
		t.Fatalf("expected partial failure to be contained, got %v", err)
	}
	if len(prices.upserted[2]) != 1 {
		t.Fatal("expected healthy token to sync despite sibling failure")
	}
}

func TestIngestService_AllTokensFailing(t *testing.T) {
	t.Parallel()

	source := &mockSource{
		infos:    []domain.TokenInfo{{Address: "0xa", Symbol: "WBTC"}},
		hourErrs: map[string]error{"0xa": domain.ErrSourceUnavailable},
	}
	tokens := &mockTokenStore{tokens: []domain.Token{{ID: 1, Address: "0xa", Symbol: "WBTC"}}}
	svc := newTestIngestService(source, tokens, newMockObsStore())

	if err := svc.ReconcileAll(context.Background()); err == nil {
		t.Fatal("expected error when every token fails")
	}
}

func TestIngestService_MetadataRefreshFailureDegrades(t *testing.T) {
	t.Parallel()

	source := &mockSource{
		infosErr:  domain.ErrSourceUnavailable,
		hourDatas: map[string][]domain.HourPrice{"0xa": {hourPoint(1, "10.0")}},
	}
	tokens := &mockTokenStore{tokens: []domain.Token{{ID: 1, Address: "0xa", Symbol: "WBTC"}}}
	prices := newMockObsStore()
	svc := newTestIngestService(source, tokens, prices)

	if err := svc.ReconcileAll(context.Background()); err != nil {
		t.Fatalf("expected stale metadata to degrade gracefully, got %v", err)
	}
	if len(prices.upserted[1]) != 1 {
		t.Fatal("expected price sync to proceed with stored metadata")
	}
}

func TestIngestService_ReconcileEmptyStore(t *testing.T) {
	t.Parallel()

	source := &mockSource{}
	svc := newTestIngestService(source, &mockTokenStore{}, newMockObsStore())

	if err := svc.ReconcileAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.fetchCalls != 0 {
		t.Fatal("expected no source traffic with an empty store")
	}
}
