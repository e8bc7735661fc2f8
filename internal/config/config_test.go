package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAYGATE_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Monitor.RetryInterval)
	assert.Equal(t, time.Duration(0), cfg.Monitor.ConfirmationGrace)
	assert.Equal(t, 5, cfg.Explorer.MaxPages)
	assert.Equal(t, "https://mempool.texitcoin.org/api", cfg.Explorer.BaseURL)

	txc, ok := cfg.Chain("txc")
	require.True(t, ok)
	assert.Equal(t, ChainDefaults{ExpirationMinutes: 60, ConfirmationsRequired: 6}, txc)
	polygon, _ := cfg.Chain("POLYGON")
	assert.Equal(t, 128, polygon.ConfirmationsRequired)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PAYGATE_CONFIG", "")
	t.Setenv("POLL_INTERVAL", "3s")
	t.Setenv("DB_DRIVER", "MySQL")
	t.Setenv("MEMPOOL_API", "http://localhost:3000/api/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "http://localhost:3000/api", cfg.Explorer.BaseURL)
}

func TestLoadYAMLChainOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paygate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: DEBUG
chains:
  txc:
    expiration_minutes: 15
    confirmations_required: 2
`), 0o600))
	t.Setenv("PAYGATE_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)

	txc, _ := cfg.Chain("TXC")
	assert.Equal(t, ChainDefaults{ExpirationMinutes: 15, ConfirmationsRequired: 2}, txc)
	eth, _ := cfg.Chain("ETH")
	assert.Equal(t, 12, eth.ConfirmationsRequired)
}

func TestLoadRejectsBadDriver(t *testing.T) {
	t.Setenv("PAYGATE_CONFIG", "")
	t.Setenv("DB_DRIVER", "postgres")

	_, err := Load()
	assert.Error(t, err)
}

type fakeSecrets map[string]string

func (f fakeSecrets) GetSecretValue(_ context.Context, name string) (string, error) {
	v, ok := f[name]
	if !ok {
		return "", fmt.Errorf("secret %s not found", name)
	}
	return v, nil
}

func TestResolveSecrets(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Driver: "mysql"},
		Secrets:  SecretsConfig{Prefix: "paygate/"},
	}
	secrets := fakeSecrets{
		"paygate/coinmarketcap-api-key": " cmc-key\n",
		"paygate/db-dsn":                `{"dsn":"user:pw@tcp(db:3306)/paygate?parseTime=true"}`,
	}

	require.NoError(t, ResolveSecrets(context.Background(), cfg, secrets))
	assert.Equal(t, "cmc-key", cfg.Prices.APIKey)
	assert.Equal(t, "user:pw@tcp(db:3306)/paygate?parseTime=true", cfg.Database.DSN)
}

func TestResolveSecretsKeepsEnvValues(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "local.db"},
		Prices:   PriceConfig{APIKey: "from-env"},
		Secrets:  SecretsConfig{Prefix: "paygate"},
	}

	require.NoError(t, ResolveSecrets(context.Background(), cfg, fakeSecrets{}))
	assert.Equal(t, "from-env", cfg.Prices.APIKey)
	assert.Equal(t, "local.db", cfg.Database.DSN)
}
