package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SlotRecord mirrors a pool_slots row.
type SlotRecord struct {
	SlotID        string     `db:"slot_id"`
	ProjectID     string     `db:"project_id"`
	Status        string     `db:"status"`
	ChatbotID     *string    `db:"chatbot_id"`
	DeployedAt    *time.Time `db:"deployed_at"`
	DeploymentURL *string    `db:"deployment_url"`
	LastCheckedAt *time.Time `db:"last_checked_at"`
	Version       int64      `db:"version"`
	UpdatedAt     time.Time  `db:"updated_at"`
	UpdatedBy     *string    `db:"updated_by"`
}

const slotColumns = `slot_id, project_id, status, chatbot_id, deployed_at, deployment_url,
        last_checked_at, version, updated_at, updated_by`

// SlotStore provides access to the pool_slots table.
type SlotStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewSlotStore creates a store; assumes BootstrapPoolSchema already created the table.
func NewSlotStore(ctx context.Context, pool *pgxpool.Pool, schema string) (*SlotStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &SlotStore{pool: pool, table: qualify(schema, "pool_slots")}, nil
}

// Register inserts a new slot as available. Registering an existing slot id fails with ErrDuplicate.
func (s *SlotStore) Register(ctx context.Context, slotID, projectID, actor string) (SlotRecord, error) {
	slotID = strings.TrimSpace(slotID)
	projectID = strings.TrimSpace(projectID)
	if slotID == "" || projectID == "" {
		return SlotRecord{}, errors.New("slot id and project id are required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (slot_id, project_id, status, version, updated_at, updated_by)
        VALUES ($1, $2, 'available', 1, now(), $3)
        RETURNING %s`, s.table, slotColumns)

	rec, err := scanSlotRecord(s.pool.QueryRow(ctx, query, slotID, projectID, nullableString(actor)))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return SlotRecord{}, ErrDuplicate
		}
		return SlotRecord{}, err
	}
	return rec, nil
}

// Get returns the slot row.
func (s *SlotStore) Get(ctx context.Context, slotID string) (SlotRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE slot_id = $1`, slotColumns, s.table)
	return scanSlotRecord(s.pool.QueryRow(ctx, query, slotID))
}

// GetByChatbot returns the slot currently assigned to chatbotID.
func (s *SlotStore) GetByChatbot(ctx context.Context, chatbotID string) (SlotRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE chatbot_id = $1`, slotColumns, s.table)
	return scanSlotRecord(s.pool.QueryRow(ctx, query, chatbotID))
}

// List returns slots ordered by slot id, optionally filtered by status.
func (s *SlotStore) List(ctx context.Context, status *string) ([]SlotRecord, error) {
	where := ""
	args := []any{}
	if status != nil {
		where = "WHERE status = $1"
		args = append(args, *status)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY slot_id ASC`, slotColumns, s.table, where)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SlotRecord
	for rows.Next() {
		rec, err := scanSlotRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// CompareAndSwap writes rec's mutable columns only when the stored version still equals
// expectedVersion, bumping the version. A stale version yields ErrVersionConflict.
func (s *SlotStore) CompareAndSwap(ctx context.Context, rec SlotRecord, expectedVersion int64) (SlotRecord, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET
            status = $3,
            chatbot_id = $4,
            deployed_at = $5,
            deployment_url = $6,
            last_checked_at = $7,
            updated_by = $8,
            version = version + 1,
            updated_at = now()
        WHERE slot_id = $1 AND version = $2
        RETURNING %s`, s.table, slotColumns)

	out, err := scanSlotRecord(s.pool.QueryRow(ctx, query,
		rec.SlotID, expectedVersion, rec.Status, rec.ChatbotID, rec.DeployedAt,
		rec.DeploymentURL, rec.LastCheckedAt, rec.UpdatedBy,
	))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, ErrNotFound) {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return SlotRecord{}, ErrDuplicate
		}
		return SlotRecord{}, err
	}

	// Zero rows: either the slot is gone or somebody else moved the version.
	if _, getErr := s.Get(ctx, rec.SlotID); getErr != nil {
		return SlotRecord{}, getErr
	}
	return SlotRecord{}, ErrVersionConflict
}

// MarkChecked stamps last_checked_at without bumping the version, so reconciliation scans
// never cause an in-flight allocation to lose its race.
func (s *SlotStore) MarkChecked(ctx context.Context, slotID string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET last_checked_at = $2 WHERE slot_id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, slotID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSlotRecord(row pgx.Row) (SlotRecord, error) {
	var rec SlotRecord
	if err := row.Scan(&rec.SlotID, &rec.ProjectID, &rec.Status, &rec.ChatbotID, &rec.DeployedAt,
		&rec.DeploymentURL, &rec.LastCheckedAt, &rec.Version, &rec.UpdatedAt, &rec.UpdatedBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SlotRecord{}, ErrNotFound
		}
		return SlotRecord{}, err
	}
	return rec, nil
}

func nullableString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
