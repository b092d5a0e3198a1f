package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/xendbit/AssetManager/pkg/app/core/orderbook"
)

type Exchange struct {
	Contractor       common.Address
	FundingAuthority common.Address // zero means the contractor
	MarketRemainder  orderbook.RemainderPolicy
	AllowSelfMatch   bool
	// VerifyInvariants re-checks conservation after every command. It walks
	// every wallet and holding, so leave it off outside tests and audits.
	VerifyInvariants bool
	CommandBuffer    int
	TradeHistory     int
}

type Storage struct {
	DataDir string // empty keeps everything in memory
}

type API struct {
	Addr           string
	AllowedOrigins []string
	EIP712Name     string
	EIP712ChainID  int64
}

type Events struct {
	Buffer       int
	KafkaBrokers []string // empty disables the Kafka sink
	KafkaTopic   string
}

type Gossip struct {
	Listen    string // empty disables the libp2p feed
	Bootstrap []string
	Topic     string
}

type Log struct {
	File  string
	Level string
}

type Config struct {
	Exchange Exchange
	Storage  Storage
	API      API
	Events   Events
	Gossip   Gossip
	Log      Log
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			Contractor:      common.HexToAddress("0x0000000000000000000000000000000000000001"), // dev only
			MarketRemainder: orderbook.RemainderRest,
			AllowSelfMatch:  true,
			CommandBuffer:   1024,
			TradeHistory:    500,
		},
		Storage: Storage{DataDir: "data/exchange"},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			EIP712Name:     "AssetManager",
			EIP712ChainID:  1337,
		},
		Events: Events{Buffer: 4096, KafkaTopic: "exchange-events"},
		Gossip: Gossip{Topic: "exchange-events"},
		Log:    Log{File: "data/node.log", Level: "info"},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// godotenv never overrides variables already set in the process
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var err error
	if v := os.Getenv("EXCHANGE_CONTRACTOR"); v != "" {
		if cfg.Exchange.Contractor, err = parseAddress("EXCHANGE_CONTRACTOR", v); err != nil {
			return cfg, err
		}
	}
	if v := os.Getenv("EXCHANGE_FUNDING_AUTHORITY"); v != "" {
		if cfg.Exchange.FundingAuthority, err = parseAddress("EXCHANGE_FUNDING_AUTHORITY", v); err != nil {
			return cfg, err
		}
	}
	if v := os.Getenv("EXCHANGE_MO_REMAINDER"); v != "" {
		if cfg.Exchange.MarketRemainder, err = orderbook.ParseRemainderPolicy(v); err != nil {
			return cfg, fmt.Errorf("EXCHANGE_MO_REMAINDER: %w", err)
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"EXCHANGE_ALLOW_SELF_MATCH", &cfg.Exchange.AllowSelfMatch},
		{"EXCHANGE_VERIFY_INVARIANTS", &cfg.Exchange.VerifyInvariants},
	}
	for _, b := range bools {
		if v := os.Getenv(b.key); v != "" {
			if *b.dst, err = strconv.ParseBool(v); err != nil {
				return cfg, fmt.Errorf("%s: %w", b.key, err)
			}
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"EXCHANGE_COMMAND_BUFFER", &cfg.Exchange.CommandBuffer},
		{"EXCHANGE_TRADE_HISTORY", &cfg.Exchange.TradeHistory},
		{"EVENT_BUFFER", &cfg.Events.Buffer},
	}
	for _, i := range ints {
		if v := os.Getenv(i.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return cfg, fmt.Errorf("%s: want a non-negative integer, got %q", i.key, v)
			}
			*i.dst = n
		}
	}

	if v, ok := os.LookupEnv("DATA_DIR"); ok {
		cfg.Storage.DataDir = v
	}
	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if v := os.Getenv("API_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = splitList(v)
	}
	cfg.API.EIP712Name = getEnv("EIP712_NAME", cfg.API.EIP712Name)
	if v := os.Getenv("EIP712_CHAIN_ID"); v != "" {
		if cfg.API.EIP712ChainID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return cfg, fmt.Errorf("EIP712_CHAIN_ID: %w", err)
		}
	}

	cfg.Events.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.Events.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Events.KafkaTopic)

	cfg.Gossip.Listen = os.Getenv("GOSSIP_LISTEN")
	cfg.Gossip.Bootstrap = splitList(os.Getenv("GOSSIP_BOOTSTRAP"))
	cfg.Gossip.Topic = getEnv("GOSSIP_TOPIC", cfg.Gossip.Topic)

	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	return cfg, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseAddress(key, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s: %q is not a hex address", key, v)
	}
	return common.HexToAddress(v), nil
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
