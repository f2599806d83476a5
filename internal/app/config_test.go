package app

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, time.Hour, cfg.Auth.MagicLink.TokenLifetime)
	require.Equal(t, "maglink", cfg.Auth.JWT.Issuer)
	require.Equal(t, 15*time.Minute, cfg.Auth.JWT.TTL)
	require.True(t, cfg.RateLimit.Enabled)
	require.Equal(t, "memory", cfg.RateLimit.Backend)
	require.Equal(t, 10, cfg.RateLimit.MaxRequests)
	require.Equal(t, time.Minute, cfg.RateLimit.Window)
	require.Equal(t, "@hourly", cfg.Maintenance.TokenSchedule)
	require.Equal(t, 90, cfg.Maintenance.AuditRetentionDays)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
	require.False(t, cfg.Email.SMTP.Enabled)
	require.Equal(t, 587, cfg.Email.SMTP.Port)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("MAGLINK_SERVER_PORT", "9001")
	t.Setenv("MAGLINK_AUTH_MAGIC_LINK_TOKEN_LIFETIME", "30m")
	t.Setenv("MAGLINK_RATE_LIMIT_BACKEND", "database")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 9001, cfg.Server.Port)
	require.Equal(t, 30*time.Minute, cfg.Auth.MagicLink.TokenLifetime)
	require.Equal(t, "database", cfg.RateLimit.Backend)
}

func TestCodecConfigRequiresKeys(t *testing.T) {
	var auth AuthConfig

	_, err := auth.CodecConfig()
	require.Error(t, err)

	auth.MagicLink.SigningKey = "signing"
	_, err = auth.CodecConfig()
	require.Error(t, err)

	auth.MagicLink.EncryptionKey = hex.EncodeToString(make([]byte, 16))
	_, err = auth.CodecConfig()
	require.Error(t, err)

	auth.MagicLink.EncryptionKey = hex.EncodeToString(make([]byte, 32))
	cfg, err := auth.CodecConfig()
	require.NoError(t, err)
	require.Len(t, cfg.EncryptionKey, 32)
	require.Equal(t, time.Hour, cfg.TokenLifetime)
}

func TestApplyRuntimeDefaultsGeneratesJWTSecret(t *testing.T) {
	cfg := &Config{}

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.True(t, generated["auth.jwt.secret"])
	require.NotEmpty(t, cfg.Auth.JWT.Secret)

	// Magic-link keys stay untouched.
	require.Empty(t, cfg.Auth.MagicLink.SigningKey)
	require.Empty(t, cfg.Auth.MagicLink.EncryptionKey)

	generated, err = ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.False(t, generated["auth.jwt.secret"])
}
