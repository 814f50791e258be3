package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/zenGate-Global/tenant-pool/database"
)

// DefaultSchema is the Postgres schema the pool tables live in unless configured otherwise.
const DefaultSchema = "pool"

// BootstrapPoolSchema creates the pool schema (if missing) and applies the
// embedded DDL in a single transaction, with search_path set to the schema:
//  1. pool/pool_slots.sql
//  2. pool/tenant_deployments.sql
//  3. pool/chatbots.sql
//
// The helper is idempotent and intended for CLI bootstrap and tests.
func BootstrapPoolSchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if pool == nil {
		return fmt.Errorf("bootstrap pool schema: pool is required")
	}
	if schema == "" {
		return fmt.Errorf("bootstrap pool schema: schema is required")
	}

	var statements []string
	statements = append(statements, splitStatements(sqlassets.PoolSlotsSQL)...)
	statements = append(statements, splitStatements(sqlassets.TenantDeploymentsSQL)...)
	statements = append(statements, splitStatements(sqlassets.ChatbotsSQL)...)

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("create pool schema: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT set_config('search_path', $1, true)`, schema); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// splitStatements breaks a DDL file on semicolons, dropping comment-only fragments.
func splitStatements(sql string) []string {
	raw := strings.Split(sql, ";")
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		var kept []string
		for _, line := range strings.Split(part, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			kept = append(kept, line)
		}
		stmt := strings.TrimSpace(strings.Join(kept, "\n"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func qualify(schema, table string) string {
	if schema == "" {
		schema = DefaultSchema
	}
	return pgx.Identifier{schema, table}.Sanitize()
}
