package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Token is a tracked ERC-20 token. The contract address is the canonical
// identity; ID is the store-assigned surrogate key that price rows reference.
// Supply and volume use decimals because large-supply tokens overflow float64
// long before they overflow NUMERIC(78,18).
type Token struct {
	ID          int64           `json:"-"`
	Address     string          `json:"address"`
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Decimals    int32           `json:"decimals"`
	TotalSupply decimal.Decimal `json:"total_supply"`
	VolumeUSD   decimal.Decimal `json:"volume_usd"`
}

// TokenInfo is token metadata as reported by the subgraph, before the store
// has assigned an identity.
type TokenInfo struct {
	Address     string
	Symbol      string
	Name        string
	Decimals    int32
	TotalSupply decimal.Decimal
	VolumeUSD   decimal.Decimal
}

// HourPrice is a single hourly OHLC observation as fetched from the subgraph.
type HourPrice struct {
	PeriodStart time.Time
	Open        decimal.Decimal
	Close       decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	PriceUSD    decimal.Decimal
}

// PriceObservation is a persisted hourly OHLC row. At most one row exists per
// (token, hour); re-ingesting the same hour overwrites it.
type PriceObservation struct {
	TokenID   int64           `json:"-"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	Close     decimal.Decimal `json:"close"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
}
