package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"token-price-api/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"go.opentelemetry.io/otel/trace"
)

const defaultSubgraphTimeout = 30 * time.Second

// subgraphSchema is the slice of the Uniswap V3 subgraph schema this client
// touches. Query documents are validated against it at init, so a malformed
// document fails at startup instead of producing a broken request at runtime.
const subgraphSchema = `
type Query {
  tokens(where: Token_filter): [Token!]!
  tokenHourDatas(where: TokenHourData_filter, orderBy: String, orderDirection: String): [TokenHourData!]!
}

input Token_filter {
  id_in: [String!]
}

input TokenHourData_filter {
  token: String
  periodStartUnix_gte: Int
}

type Token {
  id: String!
  name: String
  symbol: String
  totalSupply: String
  volumeUSD: String
  decimals: String
}

type TokenHourData {
  id: String!
  periodStartUnix: Int!
  open: String
  close: String
  high: String
  low: String
  priceUSD: String
}
`

// Fixed query documents. Caller input travels only through GraphQL variables,
// never through the document text.
const tokensQuery = `query Tokens($addresses: [String!]) {
  tokens(where: {id_in: $addresses}) {
    id
    name
    symbol
    totalSupply
    volumeUSD
    decimals
  }
}`

const tokenHourDatasQuery = `query TokenHourDatas($token: String, $since: Int) {
  tokenHourDatas(
    where: {token: $token, periodStartUnix_gte: $since}
    orderBy: "periodStartUnix"
    orderDirection: "asc"
  ) {
    id
    periodStartUnix
    open
    close
    high
    low
    priceUSD
  }
}`

var schema = gqlparser.MustLoadSchema(&ast.Source{
	Name:  "subgraph.graphql",
	Input: subgraphSchema,
})

var (
	tokensQueryDoc         = mustLoadQuery(tokensQuery)
	tokenHourDatasQueryDoc = mustLoadQuery(tokenHourDatasQuery)
)

func mustLoadQuery(query string) *ast.QueryDocument {
	doc, errs := gqlparser.LoadQuery(schema, query)
	if len(errs) > 0 {
		panic(fmt.Sprintf("invalid subgraph query: %v", errs))
	}
	return doc
}

// SubgraphProvider fetches token metadata and hourly OHLC observations from a
// Graph-protocol endpoint. It holds no state beyond its HTTP client and does
// no retrying; retry policy belongs to the poll cycle.
type SubgraphProvider struct {
	client  *http.Client
	url     string
	apiKey  string
	tracer  trace.Tracer
	limiter *RateLimiter
}

// NewSubgraphProvider creates a provider with built-in rate limiting sized
// for The Graph's free tier.
func NewSubgraphProvider(tracer trace.Tracer, url, apiKey string) *SubgraphProvider {
	return &SubgraphProvider{
		client:  &http.Client{Timeout: defaultSubgraphTimeout},
		url:     url,
		apiKey:  apiKey,
		tracer:  tracer,
		limiter: NewRateLimiter(20, 3*time.Second),
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type subgraphToken struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	TotalSupply string `json:"totalSupply"`
	VolumeUSD   string `json:"volumeUSD"`
	Decimals    string `json:"decimals"`
}

type subgraphHourData struct {
	ID              string `json:"id"`
	PeriodStartUnix int64  `json:"periodStartUnix"`
	Open            string `json:"open"`
	Close           string `json:"close"`
	High            string `json:"high"`
	Low             string `json:"low"`
	PriceUSD        string `json:"priceUSD"`
}

// FetchTokens fetches metadata for the given token addresses in one batched
// query. Addresses unknown to the subgraph are simply absent from the result.
func (p *SubgraphProvider) FetchTokens(ctx context.Context, addresses []string) ([]domain.TokenInfo, error) {
	ctx, span := p.tracer.Start(ctx, "subgraph.fetch-tokens")
	defer span.End()

	body, err := p.post(ctx, tokensQuery, map[string]any{"addresses": addresses})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data *struct {
			Tokens []subgraphToken `json:"tokens"`
		} `json:"data"`
		Errors []graphqlError `json:"errors"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode tokens response: %v", domain.ErrSourceUnavailable, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrSourceSchema, resp.Errors[0].Message)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w: missing data field", domain.ErrSourceSchema)
	}

	infos := make([]domain.TokenInfo, 0, len(resp.Data.Tokens))
	for _, t := range resp.Data.Tokens {
		info, err := parseToken(t)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// FetchTokenHourDatas fetches hourly observations for one token with period
// start >= since (unix seconds). Callers must not rely on the returned order.
func (p *SubgraphProvider) FetchTokenHourDatas(ctx context.Context, address string, since int64) ([]domain.HourPrice, error) {
	ctx, span := p.tracer.Start(ctx, "subgraph.fetch-token-hour-datas")
	defer span.End()

	body, err := p.post(ctx, tokenHourDatasQuery, map[string]any{
		"token": address,
		"since": since,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data *struct {
			TokenHourDatas []subgraphHourData `json:"tokenHourDatas"`
		} `json:"data"`
		Errors []graphqlError `json:"errors"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode hour datas response: %v", domain.ErrSourceUnavailable, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrSourceSchema, resp.Errors[0].Message)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w: missing data field", domain.ErrSourceSchema)
	}

	points := make([]domain.HourPrice, 0, len(resp.Data.TokenHourDatas))
	for _, d := range resp.Data.TokenHourDatas {
		point, err := parseHourData(d)
		if err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return points, nil
}

func (p *SubgraphProvider) post(ctx context.Context, query string, variables map[string]any) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", domain.ErrSourceUnavailable, err)
	}

	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrSourceUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrSourceUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: subgraph returned status %d", domain.ErrSourceUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrSourceUnavailable, err)
	}
	return body, nil
}

func parseToken(t subgraphToken) (domain.TokenInfo, error) {
	if t.ID == "" || t.Symbol == "" {
		return domain.TokenInfo{}, fmt.Errorf("%w: token missing id or symbol", domain.ErrSourceSchema)
	}

	supply, err := parseSourceDecimal("totalSupply", t.TotalSupply)
	if err != nil {
		return domain.TokenInfo{}, err
	}
	volume, err := parseSourceDecimal("volumeUSD", t.VolumeUSD)
	if err != nil {
		return domain.TokenInfo{}, err
	}

	decimals, err := strconv.ParseInt(t.Decimals, 10, 32)
	if err != nil {
		return domain.TokenInfo{}, fmt.Errorf("%w: bad decimals %q for %s", domain.ErrSourceSchema, t.Decimals, t.ID)
	}

	return domain.TokenInfo{
		Address:     t.ID,
		Symbol:      t.Symbol,
		Name:        t.Name,
		Decimals:    int32(decimals),
		TotalSupply: supply,
		VolumeUSD:   volume,
	}, nil
}

func parseHourData(d subgraphHourData) (domain.HourPrice, error) {
	if d.PeriodStartUnix <= 0 {
		return domain.HourPrice{}, fmt.Errorf("%w: hour data missing periodStartUnix", domain.ErrSourceSchema)
	}

	fields := map[string]string{
		"open":     d.Open,
		"close":    d.Close,
		"high":     d.High,
		"low":      d.Low,
		"priceUSD": d.PriceUSD,
	}
	parsed := make(map[string]decimal.Decimal, len(fields))
	for name, raw := range fields {
		v, err := parseSourceDecimal(name, raw)
		if err != nil {
			return domain.HourPrice{}, err
		}
		parsed[name] = v
	}

	return domain.HourPrice{
		PeriodStart: time.Unix(d.PeriodStartUnix, 0).UTC(),
		Open:        parsed["open"],
		Close:       parsed["close"],
		High:        parsed["high"],
		Low:         parsed["low"],
		PriceUSD:    parsed["priceUSD"],
	}, nil
}

func parseSourceDecimal(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: missing %s", domain.ErrSourceSchema, field)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad %s value %q", domain.ErrSourceSchema, field, raw)
	}
	return v, nil
}
