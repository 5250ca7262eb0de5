package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_defaults(t *testing.T) {
	t.Setenv("HLS_SECRET_KEY", "s3cret")
	t.Setenv("WEBHOOK_ALLOWED_CIDRS", "10.0.0.0/8, 127.0.0.1/32,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(3600), cfg.Playback.URLTTLSeconds)
	assert.Equal(t, 8, cfg.Playback.EndAllConcurrency)
	assert.Equal(t, 3, cfg.Database.MaxRetries)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1/32"}, cfg.Webhook.AllowedCIDRs)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_overrides(t *testing.T) {
	t.Setenv("HLS_SECRET_KEY", "s3cret")
	t.Setenv("PLAYBACK_URL_TTL_SEC", "600")
	t.Setenv("END_ALL_CONCURRENCY", "not-a-number")
	t.Setenv("DATABASE_URL", "postgres://db/stream")
	t.Setenv("HIGH_VIEWERS_THRESHOLD", "500")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(600), cfg.Playback.URLTTLSeconds)
	assert.Equal(t, 8, cfg.Playback.EndAllConcurrency, "unparsable values fall back")
	assert.Equal(t, "postgres://db/stream", cfg.Database.DSN())
	assert.Equal(t, 500, cfg.Playback.HighViewers)
}

func TestValidate_requiresSigningSecret(t *testing.T) {
	t.Setenv("HLS_SECRET_KEY", "")
	cfg, err := Load()
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HLS_SECRET_KEY")
}

func TestDSN_fromComponents(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", c.DSN())
}
