package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"token-price-api/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestProvider(rt roundTripFunc) *SubgraphProvider {
	p := NewSubgraphProvider(trace.NewNoopTracerProvider().Tracer("test"), "http://example/subgraph", "")
	p.client = &http.Client{Transport: rt}
	return p
}

func jsonResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestQueryDocumentsValidateAgainstSchema(t *testing.T) {
	// Documents are loaded at init; a schema mismatch would have panicked
	// before the test ran. Double-check they parsed into operations.
	if len(tokensQueryDoc.Operations) != 1 {
		t.Fatalf("tokens query should hold one operation, got %d", len(tokensQueryDoc.Operations))
	}
	if len(tokenHourDatasQueryDoc.Operations) != 1 {
		t.Fatalf("hour datas query should hold one operation, got %d", len(tokenHourDatasQueryDoc.Operations))
	}
}

func TestFetchTokensParsesDecimalStrings(t *testing.T) {
	t.Parallel()

	var captured graphqlRequest
	p := newTestProvider(func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Fatalf("request body is not JSON: %v", err)
		}
		return jsonResponse(`{"data":{"tokens":[
			{"id":"0x2260fac5e5542a773aa44fbcfedf7c193bc2c599","name":"Wrapped BTC","symbol":"WBTC",
			 "totalSupply":"18240","volumeUSD":"131145349577.8606626294325873098926","decimals":"8"}
		]}}`), nil
	})

	infos, err := p.FetchTokens(context.Background(), []string{"0x2260fac5e5542a773aa44fbcfedf7c193bc2c599"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 token, got %d", len(infos))
	}

	tok := infos[0]
	if tok.Symbol != "WBTC" || tok.Decimals != 8 {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if tok.VolumeUSD.String() != "131145349577.8606626294325873098926" {
		t.Fatalf("volume lost precision: %s", tok.VolumeUSD)
	}

	// Addresses must ride in variables, never in the document text.
	if strings.Contains(captured.Query, "0x2260") {
		t.Fatal("address interpolated into query document")
	}
	addrs, ok := captured.Variables["addresses"].([]any)
	if !ok || len(addrs) != 1 {
		t.Fatalf("addresses variable missing: %+v", captured.Variables)
	}
}

func TestFetchTokenHourDatasParsesPoints(t *testing.T) {
	t.Parallel()

	var captured graphqlRequest
	p := newTestProvider(func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		json.Unmarshal(body, &captured)
		return jsonResponse(`{"data":{"tokenHourDatas":[
			{"id":"0xabc-473000","periodStartUnix":1702800000,"open":"42000.5","close":"42100.25",
			 "high":"42200","low":"41900","priceUSD":"42100.25"}
		]}}`), nil
	})

	points, err := p.FetchTokenHourDatas(context.Background(), "0xabc", 1702800000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}

	pt := points[0]
	if !pt.PeriodStart.Equal(time.Unix(1702800000, 0).UTC()) {
		t.Fatalf("unexpected period start: %v", pt.PeriodStart)
	}
	if pt.Open.String() != "42000.5" || pt.Close.String() != "42100.25" {
		t.Fatalf("unexpected OHLC: %+v", pt)
	}

	if since, ok := captured.Variables["since"].(float64); !ok || int64(since) != 1702800000 {
		t.Fatalf("since variable missing or wrong: %+v", captured.Variables)
	}
	if strings.Contains(captured.Query, "1702800000") {
		t.Fatal("since interpolated into query document")
	}
}

func TestFetchTokensTransportErrorIsRetryable(t *testing.T) {
	t.Parallel()

	p := newTestProvider(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	_, err := p.FetchTokens(context.Background(), []string{"0xabc"})
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestFetchTokensBadStatusIsRetryable(t *testing.T) {
	t.Parallel()

	p := newTestProvider(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			Body:       io.NopCloser(strings.NewReader("upstream down")),
		}, nil
	})

	_, err := p.FetchTokens(context.Background(), []string{"0xabc"})
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestFetchTokensGraphQLErrorsAreSchemaErrors(t *testing.T) {
	t.Parallel()

	p := newTestProvider(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(`{"errors":[{"message":"Type Token has no field foo"}]}`), nil
	})

	_, err := p.FetchTokens(context.Background(), []string{"0xabc"})
	if !errors.Is(err, domain.ErrSourceSchema) {
		t.Fatalf("expected ErrSourceSchema, got %v", err)
	}
}

func TestFetchTokensMissingFieldsAreSchemaErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"no data":     `{"data":null}`,
		"no symbol":   `{"data":{"tokens":[{"id":"0xabc","totalSupply":"1","volumeUSD":"1","decimals":"18"}]}}`,
		"bad supply":  `{"data":{"tokens":[{"id":"0xabc","symbol":"ABC","totalSupply":"not-a-number","volumeUSD":"1","decimals":"18"}]}}`,
		"bad decimal": `{"data":{"tokens":[{"id":"0xabc","symbol":"ABC","totalSupply":"1","volumeUSD":"1","decimals":"eighteen"}]}}`,
	}

	for name, body := range cases {
		p := newTestProvider(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(body), nil
		})
		_, err := p.FetchTokens(context.Background(), []string{"0xabc"})
		if !errors.Is(err, domain.ErrSourceSchema) {
			t.Errorf("%s: expected ErrSourceSchema, got %v", name, err)
		}
	}
}

func TestFetchHourDatasUndecodableBodyIsRetryable(t *testing.T) {
	t.Parallel()

	p := newTestProvider(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(`<html>gateway timeout</html>`), nil
	})

	_, err := p.FetchTokenHourDatas(context.Background(), "0xabc", 0)
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestPostSendsAPIKey(t *testing.T) {
	t.Parallel()

	var auth string
	p := newTestProvider(func(req *http.Request) (*http.Response, error) {
		auth = req.Header.Get("Authorization")
		return jsonResponse(`{"data":{"tokens":[]}}`), nil
	})
	p.apiKey = "graph-key"

	if _, err := p.FetchTokens(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth != "Bearer graph-key" {
		t.Fatalf("expected bearer header, got %q", auth)
	}
}
