package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Default seed set: WBTC, SHIB, GNO mainnet contracts.
var defaultSeedAddresses = []string{
	"0x2260fac5e5542a773aa44fbcfedf7c193bc2c599",
	"0x95ad61b0a150d79219dcf64e1e6cc01f0b64c4ce",
	"0x6810e776880c02933d47db1b9fc05908e5386b96",
}

const defaultSubgraphURL = "https://api.thegraph.com/subgraphs/name/uniswap/uniswap-v3"

type Config struct {
	DatabaseURL        string
	RedisURL           string
	SubgraphURL        string
	SubgraphAPIKey     string
	PollIntervalSecs   int
	SeedTokenAddresses []string
	HTTPAddr           string
	APIKey             string
}

func Load() *Config {
	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		SubgraphURL:    strings.TrimSpace(os.Getenv("SUBGRAPH_URL")),
		SubgraphAPIKey: os.Getenv("SUBGRAPH_API_KEY"),
		APIKey:         os.Getenv("API_KEY"),
	}

	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}
	if cfg.SubgraphURL == "" {
		cfg.SubgraphURL = defaultSubgraphURL
	}
	if cfg.SubgraphAPIKey == "" {
		log.Println("Warning: SUBGRAPH_API_KEY not set, subgraph requests go unauthenticated")
	}

	cfg.PollIntervalSecs = 30
	if v := os.Getenv("POLL_INTERVAL_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollIntervalSecs = n
		}
	}

	cfg.SeedTokenAddresses = defaultSeedAddresses
	if v := strings.TrimSpace(os.Getenv("SEED_TOKEN_ADDRESSES")); v != "" {
		var addrs []string
		for _, a := range strings.Split(v, ",") {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				addrs = append(addrs, a)
			}
		}
		if len(addrs) > 0 {
			cfg.SeedTokenAddresses = addrs
		}
	}

	cfg.HTTPAddr = strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	return cfg
}
