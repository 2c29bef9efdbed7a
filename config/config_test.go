package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/config"
)

func TestLoad_EmbeddedDefaults(t *testing.T) {
	cfg, err := config.Load(config.WithConfigPaths(t.TempDir()))
	require.NoError(t, err)

	assert.Equal(t, config.ModeDevelopment, cfg.Mode)
	assert.Equal(t, "/api", cfg.Server.Prefix)
	assert.Equal(t, 24*time.Hour, cfg.GetTokenExpiration())
	assert.Equal(t, "go-accounts", cfg.GetIssuer())
	assert.Equal(t, []string{"go-accounts"}, cfg.GetAudience())
	assert.True(t, cfg.GetReserveDeletedIdentifiers())
	assert.Equal(t, "guest", cfg.GetDefaultPermissionLevel())
	assert.Equal(t, "US", cfg.GetDefaultPhoneRegion())
	assert.Equal(t, "sqlite", cfg.Persistence.Driver)
	assert.Equal(t, "memory", cfg.Sessions.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Sessions.CleanupInterval)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
accounts:
  reserveDeletedIdentifiers: false
  defaultPermissionLevel: member
auth:
  tokenExpiration: 1h
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "accounts.yml"), content, 0o600))

	cfg, err := config.Load(config.WithConfigPaths(dir), config.WithConfigName("accounts"))
	require.NoError(t, err)

	assert.False(t, cfg.GetReserveDeletedIdentifiers())
	assert.Equal(t, "member", cfg.GetDefaultPermissionLevel())
	assert.Equal(t, time.Hour, cfg.GetTokenExpiration())
	// untouched keys keep their embedded value
	assert.Equal(t, "go-accounts", cfg.GetIssuer())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ACCOUNTS_PERSISTENCE_DRIVER", "postgres")
	t.Setenv("ACCOUNTS_AUTH_SIGNINGKEY", "from-env")

	cfg, err := config.Load(config.WithConfigPaths(t.TempDir()))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Persistence.Driver)
	assert.Equal(t, "from-env", cfg.GetSigningKey())
}

func TestLoad_ProductionRequiresSigningKey(t *testing.T) {
	t.Setenv("ACCOUNTS_MODE", "production")

	_, err := config.Load(config.WithConfigPaths(t.TempDir()))
	require.Error(t, err)
	assert.True(t, accounts.IsValidationError(err))
}

func TestConfig_Validate(t *testing.T) {
	base, err := config.Load(config.WithConfigPaths(t.TempDir()))
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *config.Config) {},
		},
		{
			name:    "unknown driver",
			mutate:  func(c *config.Config) { c.Persistence.Driver = "oracle" },
			wantErr: true,
		},
		{
			name:    "unknown session backend",
			mutate:  func(c *config.Config) { c.Sessions.Backend = "memcached" },
			wantErr: true,
		},
		{
			name:    "unknown permission level",
			mutate:  func(c *config.Config) { c.Accounts.DefaultPermissionLevel = "root" },
			wantErr: true,
		},
		{
			name:    "unknown mode",
			mutate:  func(c *config.Config) { c.Mode = "staging" },
			wantErr: true,
		},
		{
			name: "production with a long key",
			mutate: func(c *config.Config) {
				c.Mode = config.ModeProduction
				c.Auth.SigningKey = "0123456789abcdef0123456789abcdef"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
