package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"main/internal/exchange/kalshi"
	"main/internal/schema"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	loaded, err := Load("")
	require.NoError(t, err)
	require.Equal(t, kalshi.EnvDemo, loaded.Exchange.Environment)
	require.Equal(t, "memory", loaded.Broker.Mode)
	require.Equal(t, "trader", loaded.Broker.GroupID)
	require.Equal(t, schema.Quantity(1_000), loaded.Risk.MaxOrderSize)
	require.Equal(t, 1024, loaded.Strategy.MailboxSize)
	require.Nil(t, loaded.Store)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"tickers": ["KXTEST-A", "KXTEST-B"],
		"environment": "prod",
		"risk": {"maxOrderSize": 50},
		"broker": {"mode": "kafka", "brokers": ["localhost:9092"], "groupId": "g1"},
		"orders": {"submitPerSec": 2, "submitRetries": 5},
		"marketData": {"heartbeatMs": 250},
		"store": {"enabled": true, "host": "db", "port": 5432, "database": "trader"}
	}`)

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []schema.Ticker{"KXTEST-A", "KXTEST-B"}, loaded.Tickers)
	require.Equal(t, kalshi.EnvProd, loaded.Exchange.Environment)
	require.Equal(t, schema.Quantity(50), loaded.Risk.MaxOrderSize)
	require.Equal(t, schema.Quantity(5_000), loaded.Risk.MaxPosition, "unset limits keep defaults")
	require.Equal(t, "g1", loaded.Broker.GroupID)
	require.Equal(t, float64(2), loaded.OMS.SubmitPerSec)
	require.Equal(t, 5, loaded.OMS.SubmitRetries)
	require.Equal(t, 250*time.Millisecond, loaded.MarketData.HeartbeatEvery)
	require.NotNil(t, loaded.Store)
	require.Equal(t, "db", loaded.Store.Host)
}

func TestLoadSimEnvironment(t *testing.T) {
	loaded, err := Load(writeConfig(t, `{"environment": "sim"}`))
	require.NoError(t, err)
	require.True(t, loaded.Sim)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	_, err := Load(writeConfig(t, `{"environment": "staging"}`))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `{"broker": {"mode": "kafka"}}`))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `{"broker": {"mode": "rabbit"}}`))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestCredentialsComeFromEnvironment(t *testing.T) {
	t.Setenv("KALSHI_EMAIL", "trader@example.com")
	t.Setenv("KALSHI_PASSWORD", "hunter2")

	loaded, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "trader@example.com", loaded.Exchange.Email)
	require.Equal(t, "hunter2", loaded.Exchange.Password)
}
