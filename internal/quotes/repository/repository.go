package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"loan_broker_backend/platform/apperr"
	"loan_broker_backend/platform/logger"
)

// ── Domain Models ─────────────────────────────────────────────────────────────

// Status is the lifecycle state of a quote.
type Status string

const (
	StatusGenerated Status = "generated"
	StatusSent      Status = "sent"
	StatusRead      Status = "read"
	StatusAccepted  Status = "accepted"
	StatusRefused   Status = "refused"
	StatusLocked    Status = "locked"
)

// Terminal reports whether no further client-facing transition is possible.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRefused || s == StatusLocked
}

// Quote is the database model for a generated insurance quote.
type Quote struct {
	ID                   uuid.UUID
	BrokerID             uuid.UUID
	DossierID            uuid.UUID
	TariffID             string
	Insurer              string
	Product              string
	CommissionCode       string
	CommissionRate       decimal.Decimal
	BrokerFeeMinor       int64
	TotalCostMinor       int64
	MonthlyMinor         int64
	ApporteurPct         decimal.Decimal
	ApporteurAmountMinor int64
	PlatformPct          decimal.Decimal
	PlatformAmountMinor  int64
	BrokerNetMinor       int64
	Status               Status
	SimulationID         *string
	Locked               bool
	PushClaimedAt        *time.Time
	PushUnverified       bool
	SentAt               *time.Time
	ReadAt               *time.Time
	AcceptedAt           *time.Time
	AcceptedBy           *string
	RefusedAt            *time.Time
	RefusedBy            *string
	RefusalReason        *string
	PushedAt             *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TransitionPatch carries the timestamp and actor columns a transition sets.
// Nil fields keep their stored value.
type TransitionPatch struct {
	SentAt        *time.Time
	ReadAt        *time.Time
	AcceptedAt    *time.Time
	AcceptedBy    *string
	RefusedAt     *time.Time
	RefusedBy     *string
	RefusalReason *string
}

// ErrStaleState is returned when a conditional update matched no row because
// the quote moved on concurrently.
var ErrStaleState = errors.New("quote state changed concurrently")

// ── Repository ────────────────────────────────────────────────────────────────

const quoteNotFoundMsg = "quote not found"

const quoteColumns = `
	id, broker_id, dossier_id, tariff_id, insurer, product, commission_code, commission_rate::text,
	broker_fee_minor, total_cost_minor, monthly_minor,
	apporteur_pct::text, apporteur_amount_minor, platform_pct::text, platform_amount_minor, broker_net_minor,
	status, simulation_id, locked, push_claimed_at, push_unverified,
	sent_at, read_at, accepted_at, accepted_by, refused_at, refused_by, refusal_reason, pushed_at,
	created_at, updated_at`

// Repository provides database operations for quotes
type Repository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// New creates a new quotes repository
func New(pool *pgxpool.Pool, log *logger.Logger) *Repository {
	return &Repository{pool: pool, log: log}
}

func (r *Repository) dbError(operation string, err error) error {
	r.log.DatabaseError(operation, err)
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// Create inserts a new quote.
func (r *Repository) Create(ctx context.Context, q *Quote) error {
	query := `
		INSERT INTO quotes (
			id, broker_id, dossier_id, tariff_id, insurer, product, commission_code, commission_rate,
			broker_fee_minor, total_cost_minor, monthly_minor,
			apporteur_pct, apporteur_amount_minor, platform_pct, platform_amount_minor, broker_net_minor,
			status, locked, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12::numeric, $13, $14::numeric, $15, $16, $17, false, $18, $18)`

	if _, err := r.pool.Exec(ctx, query,
		q.ID, q.BrokerID, q.DossierID, q.TariffID, q.Insurer, q.Product, q.CommissionCode, q.CommissionRate.String(),
		q.BrokerFeeMinor, q.TotalCostMinor, q.MonthlyMinor,
		q.ApporteurPct.String(), q.ApporteurAmountMinor, q.PlatformPct.String(), q.PlatformAmountMinor, q.BrokerNetMinor,
		string(q.Status), q.CreatedAt,
	); err != nil {
		return r.dbError("insert quote", err)
	}
	return nil
}

// GetByID retrieves a quote scoped to its broker.
func (r *Repository) GetByID(ctx context.Context, id, brokerID uuid.UUID) (*Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1 AND broker_id = $2`
	q, err := scanQuote(r.pool.QueryRow(ctx, query, id, brokerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(quoteNotFoundMsg)
		}
		return nil, r.dbError("get quote", err)
	}
	return q, nil
}

// Transition moves an unlocked quote to status `to` when its current status
// is one of `from`. Returns ErrStaleState when the guard fails.
func (r *Repository) Transition(ctx context.Context, id, brokerID uuid.UUID, from []Status, to Status, patch TransitionPatch) (*Quote, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	query := `
		UPDATE quotes SET
			status = $3,
			sent_at = COALESCE(sent_at, $5),
			read_at = COALESCE(read_at, $6),
			accepted_at = COALESCE($7, accepted_at),
			accepted_by = COALESCE($8, accepted_by),
			refused_at = COALESCE($9, refused_at),
			refused_by = COALESCE($10, refused_by),
			refusal_reason = COALESCE($11, refusal_reason),
			updated_at = now()
		WHERE id = $1 AND broker_id = $2 AND locked = false AND status = ANY($4)
		RETURNING ` + quoteColumns

	q, err := scanQuote(r.pool.QueryRow(ctx, query,
		id, brokerID, string(to), allowed,
		patch.SentAt, patch.ReadAt, patch.AcceptedAt, patch.AcceptedBy,
		patch.RefusedAt, patch.RefusedBy, patch.RefusalReason,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStaleState
		}
		return nil, r.dbError("transition quote", err)
	}
	return q, nil
}

// UpdatePricing rewrites the commercial fields of a quote still in generated.
func (r *Repository) UpdatePricing(ctx context.Context, q *Quote) error {
	query := `
		UPDATE quotes SET
			commission_code = $3, commission_rate = $4::numeric, broker_fee_minor = $5,
			total_cost_minor = $6, monthly_minor = $7, product = $8,
			apporteur_pct = $9::numeric, apporteur_amount_minor = $10,
			platform_pct = $11::numeric, platform_amount_minor = $12, broker_net_minor = $13,
			updated_at = now()
		WHERE id = $1 AND broker_id = $2 AND locked = false AND status = 'generated'`

	result, err := r.pool.Exec(ctx, query,
		q.ID, q.BrokerID, q.CommissionCode, q.CommissionRate.String(), q.BrokerFeeMinor,
		q.TotalCostMinor, q.MonthlyMinor, q.Product,
		q.ApporteurPct.String(), q.ApporteurAmountMinor,
		q.PlatformPct.String(), q.PlatformAmountMinor, q.BrokerNetMinor,
	)
	if err != nil {
		return r.dbError("update quote pricing", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// ClaimPush takes the production push claim of an accepted, unlocked quote.
// It fails while another attempt holds the claim or while the outcome of an
// earlier attempt is unknown.
func (r *Repository) ClaimPush(ctx context.Context, id, brokerID uuid.UUID) (bool, error) {
	query := `
		UPDATE quotes SET push_claimed_at = now(), updated_at = now()
		WHERE id = $1 AND broker_id = $2 AND status = 'accepted' AND locked = false
			AND push_claimed_at IS NULL AND push_unverified = false`

	result, err := r.pool.Exec(ctx, query, id, brokerID)
	if err != nil {
		return false, r.dbError("claim quote push", err)
	}
	return result.RowsAffected() == 1, nil
}

// ClaimVerification takes the push claim of a quote whose previous push
// outcome is unknown. A verification claim older than lease can be taken over.
func (r *Repository) ClaimVerification(ctx context.Context, id, brokerID uuid.UUID, lease time.Duration) (bool, error) {
	query := `
		UPDATE quotes SET push_claimed_at = now(), updated_at = now()
		WHERE id = $1 AND broker_id = $2 AND status = 'accepted' AND locked = false
			AND push_unverified = true
			AND (push_claimed_at IS NULL OR push_claimed_at < now() - $3::interval)`

	result, err := r.pool.Exec(ctx, query, id, brokerID, lease)
	if err != nil {
		return false, r.dbError("claim push verification", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkPushUnverified drops the claim but keeps the quote out of reach of
// ClaimPush until a verification settles it.
func (r *Repository) MarkPushUnverified(ctx context.Context, id, brokerID uuid.UUID) error {
	query := `
		UPDATE quotes SET push_claimed_at = NULL, push_unverified = true, updated_at = now()
		WHERE id = $1 AND broker_id = $2 AND locked = false`
	if _, err := r.pool.Exec(ctx, query, id, brokerID); err != nil {
		return r.dbError("mark quote push unverified", err)
	}
	return nil
}

// ReleasePush drops the push claim and any pending verification.
func (r *Repository) ReleasePush(ctx context.Context, id, brokerID uuid.UUID) error {
	query := `
		UPDATE quotes SET push_claimed_at = NULL, push_unverified = false, updated_at = now()
		WHERE id = $1 AND broker_id = $2 AND locked = false`
	if _, err := r.pool.Exec(ctx, query, id, brokerID); err != nil {
		return r.dbError("release quote push", err)
	}
	return nil
}

// CompletePush locks the quote with the production simulation id.
// Returns ErrStaleState when the quote is no longer accepted and unlocked.
func (r *Repository) CompletePush(ctx context.Context, id, brokerID uuid.UUID, simulationID string, pushedAt time.Time) (*Quote, error) {
	query := `
		UPDATE quotes SET
			status = 'locked', locked = true, simulation_id = $3, pushed_at = $4,
			push_claimed_at = NULL, push_unverified = false, updated_at = now()
		WHERE id = $1 AND broker_id = $2 AND locked = false AND status = 'accepted'
		RETURNING ` + quoteColumns

	q, err := scanQuote(r.pool.QueryRow(ctx, query, id, brokerID, simulationID, pushedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStaleState
		}
		return nil, r.dbError("complete quote push", err)
	}
	return q, nil
}

// AbandonedPush identifies a quote whose push claim outlived its lease.
type AbandonedPush struct {
	ID       uuid.UUID
	BrokerID uuid.UUID
}

// ReleaseAbandonedPushes returns quotes whose push outcome is unknown and
// that nobody is working on: claims taken before cutoff, and unverified
// quotes untouched since cutoff. Their claims are dropped and they are marked
// unverified, so only a verification can push them again.
func (r *Repository) ReleaseAbandonedPushes(ctx context.Context, cutoff time.Time, limit int) ([]AbandonedPush, error) {
	query := `
		UPDATE quotes SET push_claimed_at = NULL, push_unverified = true, updated_at = now()
		WHERE id IN (
			SELECT id FROM quotes
			WHERE status = 'accepted' AND locked = false
				AND (push_claimed_at < $1 OR (push_unverified AND push_claimed_at IS NULL AND updated_at < $1))
			ORDER BY updated_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) AND (push_claimed_at < $1 OR (push_unverified AND push_claimed_at IS NULL AND updated_at < $1))
		RETURNING id, broker_id`

	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, r.dbError("release abandoned pushes", err)
	}
	defer rows.Close()

	var out []AbandonedPush
	for rows.Next() {
		var p AbandonedPush
		if err := rows.Scan(&p.ID, &p.BrokerID); err != nil {
			return nil, r.dbError("scan abandoned push", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanQuote(row pgx.Row) (*Quote, error) {
	var (
		q                                         Quote
		status                                    string
		commissionRate, apporteurPct, platformPct string
	)
	if err := row.Scan(
		&q.ID, &q.BrokerID, &q.DossierID, &q.TariffID, &q.Insurer, &q.Product, &q.CommissionCode, &commissionRate,
		&q.BrokerFeeMinor, &q.TotalCostMinor, &q.MonthlyMinor,
		&apporteurPct, &q.ApporteurAmountMinor, &platformPct, &q.PlatformAmountMinor, &q.BrokerNetMinor,
		&status, &q.SimulationID, &q.Locked, &q.PushClaimedAt, &q.PushUnverified,
		&q.SentAt, &q.ReadAt, &q.AcceptedAt, &q.AcceptedBy, &q.RefusedAt, &q.RefusedBy, &q.RefusalReason, &q.PushedAt,
		&q.CreatedAt, &q.UpdatedAt,
	); err != nil {
		return nil, err
	}
	q.Status = Status(status)

	var err error
	if q.CommissionRate, err = decimal.NewFromString(commissionRate); err != nil {
		return nil, fmt.Errorf("parse commission rate: %w", err)
	}
	if q.ApporteurPct, err = decimal.NewFromString(apporteurPct); err != nil {
		return nil, fmt.Errorf("parse apporteur pct: %w", err)
	}
	if q.PlatformPct, err = decimal.NewFromString(platformPct); err != nil {
		return nil, fmt.Errorf("parse platform pct: %w", err)
	}
	return &q, nil
}
