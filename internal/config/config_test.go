package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aikewa/govledger/internal/config"
)

func TestLoad_defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, config.SigningNone, cfg.Signing.Mode)
	assert.Equal(t, 10*time.Second, cfg.Signing.Timeout)
	assert.Equal(t, 60, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 15*time.Minute, cfg.Monitor.Interval)
	assert.Equal(t, 90*24*time.Hour, cfg.TrustValidity())
	assert.Empty(t, cfg.File)
}

func TestLoad_fileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "govledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
signing:
  mode: ed25519
ratelimit:
  window: 30s
`), 0o600))
	t.Setenv("TRUST_VALIDITY_DAYS", "30")

	cfg, err := config.Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, config.SigningEd25519, cfg.Signing.Mode)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 30, cfg.Trust.ValidityDays)
	assert.Equal(t, path, cfg.File)
}

func TestLoad_rejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SIGNING_MODE", "pgp")
	t.Setenv("RATELIMIT_BACKEND", "redis")

	_, err := config.Load(viper.New(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signing.mode")
	assert.Contains(t, err.Error(), "ratelimit.redis_url")
}

func TestLoad_alertWebhooksNeedIdentity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "govledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
alert:
  webhook_urls: ["https://peer.example/api/federation/notify"]
  webhook_secret: short
`), 0o600))

	_, err := config.Load(viper.New(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alert.source_id")

	t.Setenv("ALERT_SOURCE_ID", "home")
	t.Setenv("ALERT_WEBHOOK_SECRET", "0123456789abcdef")
	cfg, err := config.Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://peer.example/api/federation/notify"}, cfg.Alert.WebhookURLs)
	assert.Equal(t, 587, cfg.Alert.SMTPPort)
}
