package config

import "time"

// Config is the root configuration of the daemon.
type Config struct {
	Environment string                `yaml:"environment" validate:"required,oneof=production development"`
	Coins       map[string]CoinConfig `yaml:"coins"       validate:"required,min=1,dive"`
	Monitor     MonitorConfig         `yaml:"monitor"`
	Collector   CollectorConfig       `yaml:"collector"`
	NATS        NATSConfig            `yaml:"nats"`
	KVStore     KVStoreConfig         `yaml:"kvstore"`
}

// CoinConfig holds per-coin connectivity and sweep policy. Unset fields are
// filled from the built-in defaults for the coin symbol.
type CoinConfig struct {
	Symbol              string `yaml:"-"`
	Name                string `yaml:"name"`
	APIKey              string `yaml:"api_key"       validate:"required"`
	BlockbookURL        string `yaml:"blockbook_url" validate:"omitempty,url"`
	RPCURL              string `yaml:"rpc_url"       validate:"omitempty,url"`
	WebsocketURL        string `yaml:"websocket_url" validate:"omitempty"`
	Network             string `yaml:"network"       validate:"omitempty,oneof=mainnet testnet regtest"`
	Decimals            int32  `yaml:"decimals"`
	MasterAddress       string `yaml:"master_address"`
	MinCollectionAmount string `yaml:"min_collection_amount"`
	CollectionFee       string `yaml:"collection_fee"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	RateLimitRPS        int           `yaml:"rate_limit_rps"`
}

// MonitorConfig tunes the websocket reconnect policy.
type MonitorConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	CapDelay    time.Duration `yaml:"cap_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// CollectorConfig tunes batch sweeping.
type CollectorConfig struct {
	BatchDelay time.Duration `yaml:"batch_delay"`
}

type NATSConfig struct {
	URL           string `yaml:"url"            validate:"omitempty,url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type KVStoreConfig struct {
	Directory string `yaml:"directory"`
	Prefix    string `yaml:"prefix"`
}
