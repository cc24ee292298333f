// Package config loads runtime configuration from environment
// variables with safe local defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	// Server
	Port     string
	LogLevel string

	// Storage
	DBURL string

	// Transfer source selection. When UseLocalSfiat is set the ingestor
	// reads the local sFIAT backend instead of Etherscan.
	UseLocalSfiat      bool
	LocalAPIBase       string
	LocalToken         string
	LocalAddressFilter string
	EtherscanAPIKey    string
	EtherscanBaseURL   string
	USDTContract       string

	// Ingestor cycle bounds
	PollInterval       time.Duration
	CollectMaxPages    int
	CollectMaxSeconds  int
	EtherscanOffset    int
	EtherscanRateSleep time.Duration

	// Merkle batcher / anchorer
	MerklePollInterval time.Duration
	MerkleMinPending   int
	MerkleBatchLimit   int
	MerkleBatchMode    string
	AnchorChain        string
	AnchorTxPrefix     string

	// Monthly orchestrator
	ReportTemplatePath string
	MetricsPath        string
	MaxRevisions       int
	MaxRetriesDataLoad int

	// Policy / risk
	PolicyConfigPath string
	RedisAddr        string

	// Review API
	ReviewJWTSecret string

	// Observability
	OTLPEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:     getString("PORT", "8080"),
		LogLevel: getString("LOG_LEVEL", "INFO"),

		DBURL: getString("DB_URL", "data/audit.db"),

		UseLocalSfiat:      getBool("USE_LOCAL_SFIAT", true),
		LocalAPIBase:       getString("LOCAL_API_BASE", "http://localhost:4000/api"),
		LocalToken:         os.Getenv("LOCAL_TOKEN"),
		LocalAddressFilter: os.Getenv("LOCAL_ADDRESS_FILTER"),
		EtherscanAPIKey:    os.Getenv("ETHERSCAN_API_KEY"),
		EtherscanBaseURL:   getString("ETHERSCAN_BASE_URL", "https://api.etherscan.io/api"),
		USDTContract:       getString("USDT_CONTRACT", "0xdAC17F958D2ee523a2206206994597C13D831ec7"),

		PollInterval:       getSeconds("POLL_INTERVAL_SEC", 15*time.Second),
		CollectMaxPages:    getInt("COLLECT_MAX_PAGES", 60),
		CollectMaxSeconds:  getInt("COLLECT_MAX_SECONDS", 100),
		EtherscanOffset:    getInt("ETHERSCAN_OFFSET", 500),
		EtherscanRateSleep: getFloatSeconds("ETHERSCAN_RATE_SLEEP", 50*time.Millisecond),

		MerklePollInterval: getSeconds("MERKLE_POLL_INTERVAL_SEC", 300*time.Second),
		MerkleMinPending:   getInt("MERKLE_MIN_PENDING_EVENTS", 100),
		MerkleBatchLimit:   getInt("MERKLE_BATCH_LIMIT", 1000),
		MerkleBatchMode:    getString("MERKLE_BATCH_MODE", "oldest"),
		AnchorChain:        getString("ANCHOR_CHAIN", "mock"),
		AnchorTxPrefix:     getString("ANCHOR_TX_PREFIX", "mock-"),

		ReportTemplatePath: os.Getenv("REPORT_TEMPLATE_PATH"),
		MetricsPath:        os.Getenv("METRICS_PATH"),
		MaxRevisions:       getInt("MAX_REVISIONS", 3),
		MaxRetriesDataLoad: getInt("MAX_RETRIES_DATA_LOAD", 3),

		PolicyConfigPath: os.Getenv("POLICY_CONFIG_PATH"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),

		ReviewJWTSecret: os.Getenv("REVIEW_JWT_SECRET"),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getSeconds reads an integer number of seconds.
func getSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// getFloatSeconds reads a fractional number of seconds, e.g. "0.05".
func getFloatSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return fallback
	}
	return time.Duration(f * float64(time.Second))
}
