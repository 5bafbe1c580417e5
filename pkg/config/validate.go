// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidateCore ensures critical configuration is present.
func (c *Config) ValidateCore() error {
	var missing []string

	switch c.Database.Backend {
	case "postgres":
		if strings.TrimSpace(c.Database.URL) == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case "memory":
	default:
		return fmt.Errorf("STORAGE_BACKEND must be postgres or memory, got %q", c.Database.Backend)
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if strings.TrimSpace(c.Settlement.ClearingAccount) == "" {
		missing = append(missing, "SETTLEMENT_CLEARING_ACCOUNT")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if err := c.Netting.Validate(); err != nil {
		return err
	}
	return c.Fee.Validate()
}

// Validate rejects netting settings the detector cannot run with.
func (n NettingConfig) Validate() error {
	if n.MaxDepth < 1 {
		return fmt.Errorf("NETTING_MAX_DEPTH must be positive, got %d", n.MaxDepth)
	}
	if n.MaxResults < 1 {
		return fmt.Errorf("NETTING_MAX_RESULTS must be positive, got %d", n.MaxResults)
	}
	switch n.MalformedPolicy {
	case "skip", "fail":
	default:
		return fmt.Errorf("NETTING_MALFORMED_POLICY must be skip or fail, got %q", n.MalformedPolicy)
	}
	if len(n.DefaultCurrency) != 3 {
		return fmt.Errorf("NETTING_DEFAULT_CURRENCY must be an ISO 4217 code, got %q", n.DefaultCurrency)
	}
	return nil
}

// Validate checks every fee component parses and the divisor is positive.
func (f FeeConfig) Validate() error {
	fields := map[string]string{
		"FEE_BASE":            f.Base,
		"FEE_PER_PARTICIPANT": f.PerParticipant,
		"FEE_VALUE_DIVISOR":   f.ValueDivisor,
		"FEE_VALUE_CAP":       f.ValueCap,
	}
	for key, raw := range fields {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%s is not a decimal: %w", key, err)
		}
		if v.IsNegative() {
			return fmt.Errorf("%s must not be negative", key)
		}
	}
	divisor, _ := decimal.NewFromString(f.ValueDivisor)
	if !divisor.IsPositive() {
		return fmt.Errorf("FEE_VALUE_DIVISOR must be positive")
	}
	return nil
}
