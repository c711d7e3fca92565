package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"loan_broker_backend/internal/tarification/wire"
	"loan_broker_backend/platform/apperr"
	"loan_broker_backend/platform/logger"
)

const dossierNotFoundMsg = "dossier not found"

// Repository stores the loan/client profile of each dossier as JSONB.
type Repository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// New creates a new dossiers repository
func New(pool *pgxpool.Pool, log *logger.Logger) *Repository {
	return &Repository{pool: pool, log: log}
}

// GetProfile loads the profile of a dossier owned by the broker.
func (r *Repository) GetProfile(ctx context.Context, brokerID, dossierID uuid.UUID) (wire.Profile, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT profile FROM dossiers WHERE id = $1 AND broker_id = $2`,
		dossierID, brokerID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wire.Profile{}, apperr.NotFound(dossierNotFoundMsg)
		}
		r.log.DatabaseError("get dossier profile", err)
		return wire.Profile{}, fmt.Errorf("failed to get dossier profile: %w", err)
	}

	var profile wire.Profile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return wire.Profile{}, fmt.Errorf("failed to decode dossier profile: %w", err)
	}
	return profile, nil
}

// SaveProfile creates or replaces the profile of a dossier. A dossier id owned
// by another broker is reported as not found.
func (r *Repository) SaveProfile(ctx context.Context, brokerID, dossierID uuid.UUID, profile wire.Profile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode dossier profile: %w", err)
	}

	query := `
		INSERT INTO dossiers (id, broker_id, profile, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (id) DO UPDATE SET profile = EXCLUDED.profile, updated_at = now()
		WHERE dossiers.broker_id = EXCLUDED.broker_id`

	result, err := r.pool.Exec(ctx, query, dossierID, brokerID, raw)
	if err != nil {
		r.log.DatabaseError("save dossier profile", err)
		return fmt.Errorf("failed to save dossier profile: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(dossierNotFoundMsg)
	}
	return nil
}
