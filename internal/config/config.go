// Package config merges config files, environment variables, .env files and
// command-line flags into typed configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. FRAME_REDIS_URL.
const EnvPrefix = "FRAME"

// DefaultStablecoin is USDC on Base.
const DefaultStablecoin = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"

// Config holds all server configuration.
type Config struct {
	Server    ServerConfig
	App       AppConfig
	Upstream  UpstreamConfig
	Store     StoreConfig
	Chain     ChainConfig
	Seller    SellerConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
	Events    EventsConfig
	Features  map[string]bool
	LogLevel  string
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Host string
	Port string
	// Max request body size in bytes
	MaxRequestBodySize int64
	AllowedOrigins     []string
}

// AppConfig describes the public site.
type AppConfig struct {
	URL         string
	ExplorerURL string
}

// UpstreamConfig points at the attestation service, IPFS gateway and hub.
type UpstreamConfig struct {
	AttestationEndpoint string
	SchemaID            string
	IPFSGateway         string
	HubURL              string
	HTTPTimeout         time.Duration
	CacheTTL            time.Duration
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	Driver        string
	RedisURL      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
}

// ChainConfig describes the payment chain.
type ChainConfig struct {
	ID         int64
	RPCURL     string
	Stablecoin string
}

// SellerConfig is the identity attached to every resolved product.
type SellerConfig struct {
	FID         int64
	DisplayName string
	Address     string
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool
	Rate    int
	Window  time.Duration
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	Environment string
}

// EventsConfig configures forwarding of ledger events to Kafka. Forwarding is
// off when Brokers is empty.
type EventsConfig struct {
	Brokers []string
	Topic   string
}

// BuyConfig holds configuration for the buy command.
type BuyConfig struct {
	APIURL       string
	ProductID    string
	ReferrerFID  int64
	PrivateKey   string
	Chain        ChainConfig
	PollInterval time.Duration
	AssumeYes    bool
	ExplorerURL  string
	HTTPTimeout  time.Duration
	LogLevel     string
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "")
	v.SetDefault("port", "8080")
	v.SetDefault("max-body-size", int64(1<<20))
	v.SetDefault("allowed-origins", "*")

	v.SetDefault("app-url", "http://localhost:8080")
	v.SetDefault("explorer-url", "https://basescan.org")

	v.SetDefault("attestation-endpoint", "https://base-sepolia.easscan.org/graphql")
	v.SetDefault("schema-id", "0x628d5ed6db59ebc4eb9ca9b9cbcdc8e5c3e963114b4f59d9d332fc82c74222cf")
	v.SetDefault("ipfs-gateway", "https://gateway.pinata.cloud/ipfs")
	v.SetDefault("hub-url", "https://hub.pinata.cloud")
	v.SetDefault("http-timeout", "30s")
	v.SetDefault("cache-ttl", "60s")

	v.SetDefault("store-driver", "redis")
	v.SetDefault("redis-addr", "localhost:6379")
	v.SetDefault("redis-db", 0)
	v.SetDefault("sqlite-path", "./purchases.db")

	v.SetDefault("chain-id", 8453)
	v.SetDefault("rpc", "https://mainnet.base.org")
	v.SetDefault("stablecoin", DefaultStablecoin)

	v.SetDefault("seller-fid", 16216)
	v.SetDefault("seller-name", "Kyle Kaplan")

	v.SetDefault("rate-limit-enabled", true)
	v.SetDefault("rate-limit-rate", 100)
	v.SetDefault("rate-limit-window", "60s")

	v.SetDefault("tracing-enabled", false)
	v.SetDefault("jaeger-endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("service-name", "frame-commerce-api")
	v.SetDefault("environment", "development")

	v.SetDefault("kafka-topic", "purchases")

	v.SetDefault("api-url", "http://localhost:8080")
	v.SetDefault("poll-interval", "2s")

	v.SetDefault("log-level", "info")
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               v.GetString("host"),
			Port:               v.GetString("port"),
			MaxRequestBodySize: v.GetInt64("max-body-size"),
			AllowedOrigins:     getStringList(v, "allowed-origins"),
		},
		App: AppConfig{
			URL:         strings.TrimRight(v.GetString("app-url"), "/"),
			ExplorerURL: v.GetString("explorer-url"),
		},
		Upstream: UpstreamConfig{
			AttestationEndpoint: v.GetString("attestation-endpoint"),
			SchemaID:            v.GetString("schema-id"),
			IPFSGateway:         strings.TrimRight(v.GetString("ipfs-gateway"), "/"),
			HubURL:              v.GetString("hub-url"),
			HTTPTimeout:         v.GetDuration("http-timeout"),
			CacheTTL:            v.GetDuration("cache-ttl"),
		},
		Store: StoreConfig{
			Driver:        strings.ToLower(v.GetString("store-driver")),
			RedisURL:      v.GetString("redis-url"),
			RedisAddr:     v.GetString("redis-addr"),
			RedisPassword: v.GetString("redis-password"),
			RedisDB:       v.GetInt("redis-db"),
			SQLitePath:    v.GetString("sqlite-path"),
		},
		Chain: chainConfig(v),
		Seller: SellerConfig{
			FID:         v.GetInt64("seller-fid"),
			DisplayName: v.GetString("seller-name"),
			Address:     v.GetString("seller-address"),
		},
		RateLimit: RateLimitConfig{
			Enabled: v.GetBool("rate-limit-enabled"),
			Rate:    v.GetInt("rate-limit-rate"),
			Window:  v.GetDuration("rate-limit-window"),
		},
		Tracing: TracingConfig{
			Enabled:     v.GetBool("tracing-enabled"),
			Endpoint:    v.GetString("jaeger-endpoint"),
			ServiceName: v.GetString("service-name"),
			Environment: v.GetString("environment"),
		},
		Events: EventsConfig{
			Brokers: getStringList(v, "kafka-brokers"),
			Topic:   v.GetString("kafka-topic"),
		},
		Features: getBoolMap(v, "features"),
		LogLevel: v.GetString("log-level"),
	}

	return cfg, nil
}

// LoadBuy merges config file, environment variables, and flags into BuyConfig.
func LoadBuy(cfgFile string, flags *pflag.FlagSet) (BuyConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return BuyConfig{}, err
	}

	return BuyConfig{
		APIURL:       strings.TrimRight(v.GetString("api-url"), "/"),
		ProductID:    v.GetString("product-id"),
		ReferrerFID:  v.GetInt64("ref"),
		PrivateKey:   strings.TrimPrefix(v.GetString("private-key"), "0x"),
		Chain:        chainConfig(v),
		PollInterval: v.GetDuration("poll-interval"),
		AssumeYes:    v.GetBool("yes"),
		ExplorerURL:  v.GetString("explorer-url"),
		HTTPTimeout:  v.GetDuration("http-timeout"),
		LogLevel:     v.GetString("log-level"),
	}, nil
}

func chainConfig(v *viper.Viper) ChainConfig {
	return ChainConfig{
		ID:         v.GetInt64("chain-id"),
		RPCURL:     v.GetString("rpc"),
		Stablecoin: v.GetString("stablecoin"),
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Upstream.AttestationEndpoint == "" {
		return fmt.Errorf("attestation endpoint is required")
	}
	if c.Upstream.IPFSGateway == "" {
		return fmt.Errorf("ipfs gateway is required")
	}
	switch c.Store.Driver {
	case "redis":
		if c.Store.RedisURL == "" && c.Store.RedisAddr == "" {
			return fmt.Errorf("redis url or address is required")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	// An empty seller address means each product's contractAddress is paid.
	if c.Seller.Address != "" && !common.IsHexAddress(c.Seller.Address) {
		return fmt.Errorf("seller address %q is not a hex address", c.Seller.Address)
	}
	if len(c.Events.Brokers) > 0 && c.Events.Topic == "" {
		return fmt.Errorf("kafka topic is required when brokers are set")
	}
	return nil
}

// Validate checks the values the buy command cannot run without.
func (c BuyConfig) Validate() error {
	if c.ProductID == "" {
		return fmt.Errorf("product id is required")
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("private key is required")
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.Chain.ID <= 0 {
		return fmt.Errorf("chain id must be positive")
	}
	if c.APIURL == "" {
		return fmt.Errorf("api url is required")
	}
	return nil
}

func getStringList(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	var raw []string
	switch typed := v.Get(key).(type) {
	case []string:
		raw = typed
	case []interface{}:
		for _, item := range typed {
			raw = append(raw, fmt.Sprintf("%v", item))
		}
	case string:
		raw = strings.Split(typed, ",")
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getBoolMap reads flags either as a map or as "a=true,b=false".
func getBoolMap(v *viper.Viper, key string) map[string]bool {
	out := make(map[string]bool)
	if !v.IsSet(key) {
		return out
	}

	switch typed := v.Get(key).(type) {
	case map[string]interface{}:
		for k, val := range typed {
			if b, err := strconv.ParseBool(fmt.Sprintf("%v", val)); err == nil {
				out[k] = b
			}
		}
	case map[string]bool:
		for k, val := range typed {
			out[k] = val
		}
	case string:
		for _, pair := range strings.Split(typed, ",") {
			name, value, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
				out[strings.TrimSpace(name)] = b
			}
		}
	}
	return out
}
