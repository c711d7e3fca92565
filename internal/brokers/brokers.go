// Package brokers reads per-broker provider credentials and commercial
// defaults. The settings are maintained elsewhere; this package only reads.
package brokers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"loan_broker_backend/internal/tarification/client"
	"loan_broker_backend/internal/tarification/split"
	"loan_broker_backend/internal/tarification/wire"
	"loan_broker_backend/platform/apperr"
	"loan_broker_backend/platform/secretbox"
)

// PricingConfig is a broker's provider access and default commercial terms.
type PricingConfig struct {
	BrokerID              uuid.UUID
	PartnerCode           string
	LicenceKey            string
	StagingURL            string
	ProductionURL         string
	Enabled               bool
	DefaultCommissionCode string
	DefaultBrokerFeeMinor int64
	DefaultApporteurPct   decimal.Decimal
	Plan                  split.Plan
}

// Credentials returns the provider credentials with endpoint overrides.
func (c PricingConfig) Credentials() client.Credentials {
	return client.Credentials{
		Credentials:   wire.Credentials{PartnerCode: c.PartnerCode, LicenceKey: c.LicenceKey},
		StagingURL:    c.StagingURL,
		ProductionURL: c.ProductionURL,
	}
}

// Repository loads broker pricing configurations and opens sealed licence keys.
type Repository struct {
	pool *pgxpool.Pool
	key  []byte
}

// NewRepository creates a broker settings repository.
func NewRepository(pool *pgxpool.Pool, key []byte) *Repository {
	return &Repository{pool: pool, key: key}
}

// GetPricingConfig returns the pricing configuration of a broker.
func (r *Repository) GetPricingConfig(ctx context.Context, brokerID uuid.UUID) (PricingConfig, error) {
	query := `
		SELECT broker_id, partner_code, licence_key_sealed, COALESCE(staging_url, ''), COALESCE(production_url, ''),
			enabled, default_commission_code, default_broker_fee_minor, default_apporteur_pct::text, plan
		FROM broker_pricing_configs WHERE broker_id = $1`

	var (
		cfg               PricingConfig
		sealed, pct, plan string
	)
	err := r.pool.QueryRow(ctx, query, brokerID).Scan(
		&cfg.BrokerID, &cfg.PartnerCode, &sealed, &cfg.StagingURL, &cfg.ProductionURL,
		&cfg.Enabled, &cfg.DefaultCommissionCode, &cfg.DefaultBrokerFeeMinor, &pct, &plan,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PricingConfig{}, apperr.NotFound("broker pricing configuration not found")
		}
		return PricingConfig{}, fmt.Errorf("failed to get broker pricing config: %w", err)
	}

	if cfg.LicenceKey, err = secretbox.Open(sealed, r.key); err != nil {
		return PricingConfig{}, fmt.Errorf("open licence key: %w", err)
	}
	if cfg.DefaultApporteurPct, err = decimal.NewFromString(pct); err != nil {
		return PricingConfig{}, fmt.Errorf("parse default apporteur pct: %w", err)
	}
	if cfg.Plan, err = split.ParsePlan(plan); err != nil {
		return PricingConfig{}, fmt.Errorf("broker %s: %w", brokerID, err)
	}
	return cfg, nil
}
