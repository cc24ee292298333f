package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kwonlabs/kwon-backplane/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "DB_URL", "USE_LOCAL_SFIAT",
		"POLL_INTERVAL_SEC", "ETHERSCAN_RATE_SLEEP",
		"MERKLE_POLL_INTERVAL_SEC", "MERKLE_BATCH_MODE",
		"ANCHOR_CHAIN", "MAX_REVISIONS",
	} {
		t.Setenv(key, "")
	}

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "data/audit.db", cfg.DBURL)
	assert.True(t, cfg.UseLocalSfiat)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, 50*time.Millisecond, cfg.EtherscanRateSleep)
	assert.Equal(t, 300*time.Second, cfg.MerklePollInterval)
	assert.Equal(t, 100, cfg.MerkleMinPending)
	assert.Equal(t, 1000, cfg.MerkleBatchLimit)
	assert.Equal(t, "oldest", cfg.MerkleBatchMode)
	assert.Equal(t, "mock", cfg.AnchorChain)
	assert.Equal(t, "mock-", cfg.AnchorTxPrefix)
	assert.Equal(t, 3, cfg.MaxRevisions)
	assert.Equal(t, 3, cfg.MaxRetriesDataLoad)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.ReviewJWTSecret)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_URL", "postgres://audit:5432/audit?sslmode=disable")
	t.Setenv("USE_LOCAL_SFIAT", "false")
	t.Setenv("ETHERSCAN_API_KEY", "key-123")
	t.Setenv("POLL_INTERVAL_SEC", "60")
	t.Setenv("ETHERSCAN_RATE_SLEEP", "0.25")
	t.Setenv("MERKLE_BATCH_MODE", "newest")
	t.Setenv("MAX_REVISIONS", "5")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REVIEW_JWT_SECRET", "s3cret")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres://audit:5432/audit?sslmode=disable", cfg.DBURL)
	assert.False(t, cfg.UseLocalSfiat)
	assert.Equal(t, "key-123", cfg.EtherscanAPIKey)
	assert.Equal(t, 60*time.Second, cfg.PollInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.EtherscanRateSleep)
	assert.Equal(t, "newest", cfg.MerkleBatchMode)
	assert.Equal(t, 5, cfg.MaxRevisions)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "s3cret", cfg.ReviewJWTSecret)
}

// TestLoad_MalformedValues verifies that unparseable numeric values
// fall back rather than crash startup.
func TestLoad_MalformedValues(t *testing.T) {
	t.Setenv("POLL_INTERVAL_SEC", "soon")
	t.Setenv("MERKLE_BATCH_LIMIT", "-nope")
	t.Setenv("USE_LOCAL_SFIAT", "maybe")
	t.Setenv("ETHERSCAN_RATE_SLEEP", "-1")

	cfg := config.Load()

	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, 1000, cfg.MerkleBatchLimit)
	assert.True(t, cfg.UseLocalSfiat)
	assert.Equal(t, 50*time.Millisecond, cfg.EtherscanRateSleep)
}
