package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"token-price-api/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
)

const chartCacheTTL = 30 * time.Second

type TokenReader interface {
	ListTokens(ctx context.Context) ([]domain.Token, error)
	GetBySymbol(ctx context.Context, symbol string) (domain.Token, error)
}

type ObservationReader interface {
	ObservationsInRange(ctx context.Context, tokenID int64, from, to time.Time) ([]domain.PriceObservation, error)
	RecentObservations(ctx context.Context, tokenID int64, limit int) ([]domain.PriceObservation, error)
}

// RedisClient is the slice of redis.Client the chart service uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// ChartService resamples stored hourly observations onto a fixed time grid
// for charting. Grids are anchored to the current hour so every response
// covers the full requested window, with gaps carried forward from the most
// recent observed close.
type ChartService struct {
	tracer trace.Tracer
	tokens TokenReader
	prices ObservationReader
	rdb    RedisClient
	now    func() time.Time
}

func NewChartService(tracer trace.Tracer, tokens TokenReader, prices ObservationReader, rdb RedisClient) *ChartService {
	return &ChartService{
		tracer: tracer,
		tokens: tokens,
		prices: prices,
		rdb:    rdb,
		now:    time.Now,
	}
}

func (s *ChartService) ListTokens(ctx context.Context) ([]domain.Token, error) {
	ctx, span := s.tracer.Start(ctx, "chart.list-tokens")
	defer span.End()
	return s.tokens.ListTokens(ctx)
}

func (s *ChartService) GetToken(ctx context.Context, symbol string) (domain.Token, error) {
	ctx, span := s.tracer.Start(ctx, "chart.get-token")
	defer span.End()
	return s.tokens.GetBySymbol(ctx, symbol)
}

// GetTokenHistory returns a token with its raw stored observations, newest
// first. limit defaults to 100 and caps at 1000.
func (s *ChartService) GetTokenHistory(ctx context.Context, symbol string, limit int) (domain.Token, []domain.PriceObservation, error) {
	ctx, span := s.tracer.Start(ctx, "chart.token-history")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	tok, err := s.tokens.GetBySymbol(ctx, symbol)
	if err != nil {
		return domain.Token{}, nil, err
	}
	obs, err := s.prices.RecentObservations(ctx, tok.ID, limit)
	if err != nil {
		return domain.Token{}, nil, err
	}
	return tok, obs, nil
}

// GetChartData builds the five chart series for a token over the trailing
// hours window, resampled to intervalHours buckets. The window must divide
// evenly into intervals.
func (s *ChartService) GetChartData(ctx context.Context, symbol string, hours, intervalHours int) (domain.ChartSeries, error) {
	ctx, span := s.tracer.Start(ctx, "chart.chart-data")
	defer span.End()

	var series domain.ChartSeries
	if hours <= 0 || intervalHours <= 0 {
		return series, fmt.Errorf("%w: hours and interval_hours must be positive", domain.ErrInvalidParameters)
	}
	if intervalHours > hours {
		return series, fmt.Errorf("%w: interval_hours %d exceeds window of %d hours", domain.ErrInvalidParameters, intervalHours, hours)
	}
	if hours%intervalHours != 0 {
		return series, fmt.Errorf("%w: %d hours is not a multiple of interval_hours %d", domain.ErrInvalidParameters, hours, intervalHours)
	}

	tok, err := s.tokens.GetBySymbol(ctx, symbol)
	if err != nil {
		return series, err
	}

	cacheKey := fmt.Sprintf("chart:%s:%d:%d", tok.Symbol, hours, intervalHours)
	if cached, err := s.rdb.Get(ctx, cacheKey).Result(); err == nil {
		if err := json.Unmarshal([]byte(cached), &series); err == nil {
			return series, nil
		}
	} else if err != redis.Nil {
		log.Printf("chart cache read failed for %s: %v", cacheKey, err)
	}

	end := s.now().UTC().Truncate(time.Hour)
	start := end.Add(-time.Duration(hours) * time.Hour)

	obs, err := s.prices.ObservationsInRange(ctx, tok.ID, start, end)
	if err != nil {
		return series, err
	}

	hourly := reduceHours(obs)
	buckets := rollUp(hourly, start, end, intervalHours)
	series = buildSeries(buckets, start, end, intervalHours)

	if payload, err := json.Marshal(series); err == nil {
		if err := s.rdb.Set(ctx, cacheKey, payload, chartCacheTTL).Err(); err != nil {
			log.Printf("chart cache write failed for %s: %v", cacheKey, err)
		}
	}

	return series, nil
}

// bucket is one resampled interval. nil means no observation fell in or
// before the interval, so the point renders as null.
type bucket struct {
	open, close, high, low, priceUSD *decimal.Decimal
}

// reduceHours collapses observations onto their hour boundary. Observations
// are assumed sorted ascending; within one hour the first open and the last
// close and priceUSD win, high and low span the hour.
func reduceHours(obs []domain.PriceObservation) map[time.Time]bucket {
	hourly := make(map[time.Time]bucket)
	for i := range obs {
		o := obs[i]
		hour := o.Timestamp.UTC().Truncate(time.Hour)
		b, ok := hourly[hour]
		if !ok {
			open, cl, hi, lo, p := o.Open, o.Close, o.High, o.Low, o.PriceUSD
			hourly[hour] = bucket{&open, &cl, &hi, &lo, &p}
			continue
		}
		cl, p := o.Close, o.PriceUSD
		b.close = &cl
		b.priceUSD = &p
		if o.High.GreaterThan(*b.high) {
			hi := o.High
			b.high = &hi
		}
		if o.Low.LessThan(*b.low) {
			lo := o.Low
			b.low = &lo
		}
		hourly[hour] = b
	}
	return hourly
}

// rollUp merges hourly buckets into intervalHours-wide buckets aligned to
// the grid start, folding hours in time order so the earliest hour supplies
// the interval's open and the latest its close and priceUSD. Only intervals
// with at least one observed hour appear in the result.
func rollUp(hourly map[time.Time]bucket, start, end time.Time, intervalHours int) map[time.Time]bucket {
	hours := make([]time.Time, 0, len(hourly))
	for hour := range hourly {
		if hour.Before(start) || hour.After(end) {
			continue
		}
		hours = append(hours, hour)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	out := make(map[time.Time]bucket)
	for _, hour := range hours {
		hb := hourly[hour]
		offset := int(hour.Sub(start) / time.Hour)
		anchor := start.Add(time.Duration(offset/intervalHours*intervalHours) * time.Hour)

		b, ok := out[anchor]
		if !ok {
			out[anchor] = hb
			continue
		}
		b.close = hb.close
		b.priceUSD = hb.priceUSD
		if hb.high.GreaterThan(*b.high) {
			b.high = hb.high
		}
		if hb.low.LessThan(*b.low) {
			b.low = hb.low
		}
		out[anchor] = b
	}
	return out
}

// buildSeries walks the full grid from start to end inclusive, emitting one
// point per interval for each of the five fields. Missing intervals carry
// the previous interval's close forward into all five fields; intervals
// before the first observation are null.
func buildSeries(buckets map[time.Time]bucket, start, end time.Time, intervalHours int) domain.ChartSeries {
	n := int(end.Sub(start)/time.Hour)/intervalHours + 1

	var series domain.ChartSeries
	for i := range series {
		series[i] = make([]domain.ChartPoint, 0, n)
	}

	var carry *decimal.Decimal
	step := time.Duration(intervalHours) * time.Hour
	for ts := start; !ts.After(end); ts = ts.Add(step) {
		label := ts.Format("2006-01-02T15:04:05")
		b, ok := buckets[ts]
		if !ok {
			b = bucket{carry, carry, carry, carry, carry}
		} else {
			carry = b.close
		}
		values := [5]*decimal.Decimal{b.open, b.close, b.high, b.low, b.priceUSD}
		for i, v := range values {
			series[i] = append(series[i], domain.ChartPoint{label, domain.ChartFields[i], FormatValue(v)})
		}
	}
	return series
}
