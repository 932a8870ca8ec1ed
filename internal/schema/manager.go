package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/saviobatista/adsb-area-recorder/internal/logging"
	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

// Manager migrates the observation table as new feed fields appear
type Manager struct {
	db       *sql.DB
	table    string
	registry *Registry
	log      zerolog.Logger
}

// NewManager creates a manager for table with an empty registry
func NewManager(db *sql.DB, table string) *Manager {
	return NewManagerWithRegistry(db, table, NewRegistry())
}

// NewManagerWithRegistry creates a manager over an existing registry
func NewManagerWithRegistry(db *sql.DB, table string, registry *Registry) *Manager {
	return &Manager{
		db:       db,
		table:    table,
		registry: registry,
		log:      logging.WithComponent("schema").With().Str("table", table).Logger(),
	}
}

// Registry returns the registry the manager maintains
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Load replaces the registry contents with the table's current columns
func (m *Manager) Load(ctx context.Context) error {
	query := `
		SELECT c.column_name, c.udt_name, COALESCE(s.kind, '')
		FROM information_schema.columns c
		LEFT JOIN schema_columns s
			ON s.table_name = c.table_name AND s.column_name = c.column_name
		WHERE c.table_schema = current_schema() AND c.table_name = $1
	`
	rows, err := m.db.QueryContext(ctx, query, m.table)
	if err != nil {
		return fmt.Errorf("failed to read columns of %s: %w", m.table, err)
	}
	defer rows.Close()

	var cols []types.Column
	for rows.Next() {
		var name, udt, audited string
		if err := rows.Scan(&name, &udt, &audited); err != nil {
			return fmt.Errorf("failed to scan column of %s: %w", m.table, err)
		}
		kind := KindFromUDT(udt)
		if kind == types.KindText && audited == types.KindOpaqueText.String() {
			kind = types.KindOpaqueText
		}
		cols = append(cols, types.Column{Name: name, Kind: kind})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read columns of %s: %w", m.table, err)
	}
	if len(cols) == 0 {
		return fmt.Errorf("table %s has no columns, run migrations first", m.table)
	}

	m.registry.replace(cols)
	m.log.Info().Int("columns", len(cols)).Msg("loaded schema")
	return nil
}

// Ensure adds every column the batch needs. Each column is committed on its
// own, so a failure leaves earlier additions in place. The returned error is a
// *SchemaError naming the fields that were not migrated.
func (m *Manager) Ensure(ctx context.Context, batch []types.Observation) ([]types.Column, error) {
	plan, planErr := Plan(m.registry, batch)

	failed := make(map[string]error)
	var schemaErr *SchemaError
	if errors.As(planErr, &schemaErr) {
		for _, f := range schemaErr.Fields {
			failed[f.Field] = f.Err
			m.log.Warn().Str("column", f.Field).Err(f.Err).Msg("field cannot be classified")
		}
	}

	added := make([]types.Column, 0, len(plan))
	for _, col := range plan {
		got, err := m.addColumn(ctx, col)
		if err != nil {
			failed[col.Name] = err
			m.log.Error().Str("column", col.Name).Err(err).Msg("failed to add column")
			continue
		}
		m.registry.add(got)
		added = append(added, got)
		m.log.Info().Str("column", got.Name).Str("kind", got.Kind.String()).Msg("added column")
	}

	if len(failed) > 0 {
		return added, newSchemaError(m.table, failed)
	}
	return added, nil
}

// addColumn runs one column migration. The advisory lock serializes
// concurrent pollers; the stored type is read back so the registry matches
// the table even if another instance added the column first.
func (m *Manager) addColumn(ctx context.Context, col types.Column) (types.Column, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return col, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			m.log.Warn().Err(err).Msg("failed to rollback transaction")
		}
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, m.table); err != nil {
		return col, fmt.Errorf("failed to lock %s: %w", m.table, err)
	}

	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
		pq.QuoteIdentifier(m.table), pq.QuoteIdentifier(col.Name), col.Kind.SQLType())
	if _, err := tx.ExecContext(ctx, alter); err != nil {
		return col, fmt.Errorf("failed to alter %s: %w", m.table, err)
	}

	var udt string
	err = tx.QueryRowContext(ctx, `
		SELECT udt_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
	`, m.table, col.Name).Scan(&udt)
	if err != nil {
		return col, fmt.Errorf("failed to read back column: %w", err)
	}
	stored := KindFromUDT(udt)
	if stored == types.KindText && col.Kind == types.KindOpaqueText {
		stored = types.KindOpaqueText
	}
	got := types.Column{Name: col.Name, Kind: stored}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_columns (table_name, column_name, kind)
		VALUES ($1, $2, $3)
		ON CONFLICT (table_name, column_name) DO NOTHING
	`, m.table, got.Name, got.Kind.String()); err != nil {
		return col, fmt.Errorf("failed to record column: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return col, fmt.Errorf("failed to commit column: %w", err)
	}
	return got, nil
}

// KindFromUDT maps a PostgreSQL udt_name to a column kind. Unknown types are
// treated as text.
func KindFromUDT(udt string) types.ColumnKind {
	switch strings.ToLower(udt) {
	case "int2", "int4", "int8":
		return types.KindInteger
	case "float4", "float8", "numeric":
		return types.KindFloat
	case "_text", "_varchar", "_bpchar":
		return types.KindTextArray
	default:
		return types.KindText
	}
}
