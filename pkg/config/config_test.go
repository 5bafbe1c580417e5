package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 4, cfg.Netting.MaxDepth)
	assert.Equal(t, 10, cfg.Netting.MaxResults)
	assert.True(t, cfg.Netting.StrictDisjoint)
	assert.Equal(t, "skip", cfg.Netting.MalformedPolicy)
	assert.Equal(t, "USD", cfg.Netting.DefaultCurrency)
	assert.Equal(t, 72*time.Hour, cfg.Netting.LoopTTL)
	assert.Equal(t, "10", cfg.Fee.Base)
	assert.Equal(t, "5", cfg.Fee.PerParticipant)
	assert.Equal(t, "1000", cfg.Fee.ValueDivisor)
	assert.Equal(t, "10", cfg.Fee.ValueCap)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("NETTING_MAX_DEPTH", "6")
	t.Setenv("NETTING_STRICT_DISJOINT", "off")
	t.Setenv("NETTING_DEFAULT_CURRENCY", "eur")
	t.Setenv("NETTING_LOOP_TTL", "1h")
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg := Load()

	assert.Equal(t, 6, cfg.Netting.MaxDepth)
	assert.False(t, cfg.Netting.StrictDisjoint)
	assert.Equal(t, "EUR", cfg.Netting.DefaultCurrency)
	assert.Equal(t, time.Hour, cfg.Netting.LoopTTL)
	assert.Equal(t, "cache:6379", cfg.Redis.URL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
}

func TestValidateCore(t *testing.T) {
	cfg := Load()
	cfg.Database.URL = ""

	err := cfg.ValidateCore()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	cfg.Database.URL = "postgres://localhost/debtloop"
	assert.NoError(t, cfg.ValidateCore())

	cfg.Database.URL = ""
	cfg.Database.Backend = "memory"
	assert.NoError(t, cfg.ValidateCore())

	cfg.Database.Backend = "sqlite"
	assert.Error(t, cfg.ValidateCore())
}

func TestNettingValidate(t *testing.T) {
	n := Load().Netting
	n.MaxDepth = 0
	assert.Error(t, n.Validate())

	n = Load().Netting
	n.MalformedPolicy = "ignore"
	assert.Error(t, n.Validate())
}

func TestFeeValidate(t *testing.T) {
	f := Load().Fee
	assert.NoError(t, f.Validate())

	f.ValueDivisor = "0"
	assert.Error(t, f.Validate())

	f = Load().Fee
	f.Base = "ten"
	assert.Error(t, f.Validate())
}
