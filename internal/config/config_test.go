package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	require.NoError(t, err)
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := loadDefaults(t)
	assert.Equal(t, "docauth", cfg.App.Name)
	assert.Equal(t, "auto", cfg.Versions.Strategy)
	assert.Equal(t, 5, cfg.Versions.MaxRetries)
	assert.Equal(t, "APPROVED", cfg.Versions.InitialStatus)
	assert.False(t, cfg.Workflow.Strict)
	assert.True(t, cfg.Database.MigrateOnStart)
	assert.Equal(t, "1m0s", cfg.Worker.SchedulerInterval.String())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DOCAUTH_VERSIONS_STRATEGY", "optimistic")
	t.Setenv("DOCAUTH_WORKFLOW_STRICT", "true")
	t.Setenv("DOCAUTH_LEDGER_SECRET", "s3cret")

	cfg := loadDefaults(t)
	assert.Equal(t, "optimistic", cfg.Versions.Strategy)
	assert.True(t, cfg.Workflow.Strict)
	assert.Equal(t, "s3cret", cfg.Ledger.Secret)
}

func TestValidate(t *testing.T) {
	cfg := loadDefaults(t)
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.secret")
	assert.Contains(t, err.Error(), "jwt.secret")

	cfg.Ledger.Secret = "s"
	cfg.JWT.Secret = "j"
	assert.NoError(t, cfg.Validate())

	cfg.Versions.Strategy = "yolo"
	assert.ErrorContains(t, cfg.Validate(), "versions.strategy")

	cfg.Versions.Strategy = "auto"
	cfg.Ledger.SecretEnc = "sealed"
	assert.ErrorContains(t, cfg.Validate(), "kms.key")
}
