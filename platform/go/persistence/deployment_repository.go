package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeploymentRecord mirrors a tenant_deployments row.
type DeploymentRecord struct {
	DeploymentID         uuid.UUID `db:"deployment_id"`
	SlotID               string    `db:"slot_id"`
	ChatbotID            *string   `db:"chatbot_id"`
	ProviderDeploymentID *string   `db:"provider_deployment_id"`
	BuildState           string    `db:"build_state"`
	ResolvedURL          *string   `db:"resolved_url"`
	RawBuildURL          *string   `db:"raw_build_url"`
	Clean                bool      `db:"clean"`
	FailureReason        *string   `db:"failure_reason"`
	ProviderMessage      *string   `db:"provider_message"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

const deploymentColumns = `deployment_id, slot_id, chatbot_id, provider_deployment_id, build_state,
        resolved_url, raw_build_url, clean, failure_reason, provider_message, created_at, updated_at`

// DeploymentStore provides access to the tenant_deployments table.
type DeploymentStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewDeploymentStore creates a store; assumes BootstrapPoolSchema already created the table.
func NewDeploymentStore(ctx context.Context, pool *pgxpool.Pool, schema string) (*DeploymentStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &DeploymentStore{pool: pool, table: qualify(schema, "tenant_deployments")}, nil
}

// Save inserts or overwrites the deployment row.
func (s *DeploymentStore) Save(ctx context.Context, rec DeploymentRecord) (DeploymentRecord, error) {
	if rec.DeploymentID == uuid.Nil {
		return DeploymentRecord{}, errors.New("deployment id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (%s)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (deployment_id) DO UPDATE SET
            provider_deployment_id = EXCLUDED.provider_deployment_id,
            build_state = EXCLUDED.build_state,
            resolved_url = EXCLUDED.resolved_url,
            raw_build_url = EXCLUDED.raw_build_url,
            clean = EXCLUDED.clean,
            failure_reason = EXCLUDED.failure_reason,
            provider_message = EXCLUDED.provider_message,
            updated_at = EXCLUDED.updated_at
        RETURNING %s`, s.table, deploymentColumns, deploymentColumns)

	return scanDeploymentRecord(s.pool.QueryRow(ctx, query,
		rec.DeploymentID, rec.SlotID, rec.ChatbotID, rec.ProviderDeploymentID, rec.BuildState,
		rec.ResolvedURL, rec.RawBuildURL, rec.Clean, rec.FailureReason, rec.ProviderMessage,
		rec.CreatedAt, rec.UpdatedAt,
	))
}

// Get returns a deployment by id.
func (s *DeploymentStore) Get(ctx context.Context, id uuid.UUID) (DeploymentRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE deployment_id = $1`, deploymentColumns, s.table)
	return scanDeploymentRecord(s.pool.QueryRow(ctx, query, id))
}

// ListBySlot returns the most recent deployments for a slot, newest first.
func (s *DeploymentStore) ListBySlot(ctx context.Context, slotID string, limit int) ([]DeploymentRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE slot_id = $1 ORDER BY created_at DESC LIMIT %d`,
		deploymentColumns, s.table, limit)

	rows, err := s.pool.Query(ctx, query, slotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []DeploymentRecord
	for rows.Next() {
		rec, err := scanDeploymentRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanDeploymentRecord(row pgx.Row) (DeploymentRecord, error) {
	var rec DeploymentRecord
	if err := row.Scan(&rec.DeploymentID, &rec.SlotID, &rec.ChatbotID, &rec.ProviderDeploymentID,
		&rec.BuildState, &rec.ResolvedURL, &rec.RawBuildURL, &rec.Clean, &rec.FailureReason,
		&rec.ProviderMessage, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeploymentRecord{}, ErrNotFound
		}
		return DeploymentRecord{}, err
	}
	return rec, nil
}
