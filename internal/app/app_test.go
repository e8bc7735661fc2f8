package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/texitpay/paygate/internal/config"
	"github.com/texitpay/paygate/internal/database"
	"github.com/texitpay/paygate/internal/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		AWS: config.AWSConfig{Region: "us-east-1"},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		},
		Logging: config.LoggingConfig{Level: "ERROR", Format: "json"},
		Explorer: config.ExplorerConfig{
			BaseURL:  "http://127.0.0.1:1",
			MaxPages: 1,
			Timeout:  time.Second,
		},
		Prices: config.PriceConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second, CacheTTL: time.Minute},
		Monitor: config.MonitorConfig{
			Network:       "TXC",
			PollInterval:  10 * time.Second,
			RetryInterval: 30 * time.Second,
		},
		Webhook: config.WebhookConfig{Timeout: time.Second},
		Chains:  config.DefaultChains(),
	}
}

func TestNewWiresLocalComponents(t *testing.T) {
	a, err := New(testConfig())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, database.Migrate(a.DB))
	assert.NoError(t, a.Ping(context.Background()))
	assert.NotNil(t, a.Payments)
	assert.NotNil(t, a.Monitor)
	assert.True(t, a.Monitor.LastCycleAt().IsZero())

	// no payments: the cycle never reaches the explorer
	res := a.Monitor.RunCycle(context.Background())
	assert.Zero(t, res.Checked)
	assert.False(t, a.Monitor.LastCycleAt().IsZero())
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Driver = "postgres"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestSetupLogging(t *testing.T) {
	prev := logger.Default()
	defer logger.SetDefault(prev)

	cfg := testConfig()
	cfg.Logging.Format = "console"
	SetupLogging(cfg)
	assert.NotSame(t, prev, logger.Default())
}
