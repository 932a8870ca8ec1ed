package migrations

import "time"

// SchemaAudit records every column added to a table at runtime
var SchemaAudit = &Migration{
	ID:   "002_schema_audit",
	Name: "002_schema_audit",
	UpSQL: `
		CREATE TABLE IF NOT EXISTS schema_columns (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			kind TEXT NOT NULL,
			added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (table_name, column_name)
		);

		-- Base columns of observations
		INSERT INTO schema_columns (table_name, column_name, kind) VALUES
			('observations', 'flight', 'text'),
			('observations', 'lat', 'float'),
			('observations', 'lon', 'float'),
			('observations', 'alt_baro', 'text'),
			('observations', 'time', 'float')
		ON CONFLICT (table_name, column_name) DO NOTHING;
	`,
	DownSQL: `
		DROP TABLE IF EXISTS schema_columns;
	`,
	CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
}
