package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/imdario/mergo"
)

var validate = validator.New()

// coinDefaults are the NowNodes hosted endpoints and sweep policy defaults
// per supported coin. Config values take precedence over these.
var coinDefaults = map[string]CoinConfig{
	"BTC": {
		Name:                "Bitcoin",
		BlockbookURL:        "https://btcbook.nownodes.io",
		RPCURL:              "https://btc.nownodes.io",
		Network:             "mainnet",
		Decimals:            8,
		MinCollectionAmount: "0.0001",
		CollectionFee:       "0.00001",
	},
	"LTC": {
		Name:                "Litecoin",
		BlockbookURL:        "https://ltcbook.nownodes.io",
		RPCURL:              "https://ltc.nownodes.io",
		Network:             "mainnet",
		Decimals:            8,
		MinCollectionAmount: "0.001",
		CollectionFee:       "0.0001",
	},
	"DOGE": {
		Name:                "Dogecoin",
		BlockbookURL:        "https://dogebook.nownodes.io",
		RPCURL:              "https://doge.nownodes.io",
		Network:             "mainnet",
		Decimals:            8,
		MinCollectionAmount: "10",
		CollectionFee:       "1",
	},
}

// Load reads, expands, defaults and validates a yaml config file.
// ${VAR} references anywhere in the file are replaced from the environment
// before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.Expand(string(data), func(name string) string {
		return os.Getenv(name)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Environment == "" {
		c.Environment = "development"
	}

	coins := make(map[string]CoinConfig, len(c.Coins))
	for name, coin := range c.Coins {
		symbol := strings.ToUpper(name)
		if def, ok := coinDefaults[symbol]; ok {
			if err := mergo.Merge(&coin, def); err != nil {
				return fmt.Errorf("merge defaults for %s: %w", symbol, err)
			}
		}
		coin.Symbol = symbol
		if coin.RequestTimeout == 0 {
			coin.RequestTimeout = 30 * time.Second
		}
		if coin.RateLimitRPS == 0 {
			coin.RateLimitRPS = 10
		}
		coins[symbol] = coin
	}
	c.Coins = coins

	if c.Monitor.BaseDelay == 0 {
		c.Monitor.BaseDelay = 5 * time.Second
	}
	if c.Monitor.CapDelay == 0 {
		c.Monitor.CapDelay = 300 * time.Second
	}
	if c.Monitor.MaxAttempts == 0 {
		c.Monitor.MaxAttempts = 10
	}
	if c.Collector.BatchDelay == 0 {
		c.Collector.BatchDelay = 2 * time.Second
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "sweeper"
	}
	if c.KVStore.Directory == "" {
		c.KVStore.Directory = "data/kv"
	}
	return nil
}

// Coin returns the config for a coin symbol, case-insensitively.
func (c *Config) Coin(symbol string) (CoinConfig, bool) {
	coin, ok := c.Coins[strings.ToUpper(symbol)]
	return coin, ok
}

// SupportedCoins lists the coin symbols with built-in defaults.
func SupportedCoins() []string {
	return []string{"BTC", "LTC", "DOGE"}
}
