package migrations

import "time"

// InitialSchema creates the observation table with its base columns and the
// ingest statistics table. Further observation columns are added at runtime.
var InitialSchema = &Migration{
	ID:   "001_initial_schema",
	Name: "001_initial_schema",
	UpSQL: `
		-- Observations: one row per aircraft sighting
		CREATE TABLE IF NOT EXISTS observations (
			flight TEXT,
			lat DOUBLE PRECISION,
			lon DOUBLE PRECISION,
			alt_baro TEXT,
			time DOUBLE PRECISION
		);

		CREATE INDEX IF NOT EXISTS idx_observations_flight ON observations (flight);
		CREATE INDEX IF NOT EXISTS idx_observations_time ON observations (time);

		-- Poller statistics
		CREATE TABLE IF NOT EXISTS ingest_stats (
			time TIMESTAMPTZ NOT NULL,
			cycles BIGINT NOT NULL,
			failed_cycles BIGINT NOT NULL,
			fetched_observations BIGINT NOT NULL,
			duplicate_observations BIGINT NOT NULL,
			anonymous_observations BIGINT NOT NULL,
			fetch_failures BIGINT NOT NULL,
			columns_added BIGINT NOT NULL,
			stored_rows BIGINT NOT NULL,
			processing_time_ms BIGINT NOT NULL,
			uptime_seconds BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_ingest_stats_time ON ingest_stats (time DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS ingest_stats;
		DROP TABLE IF EXISTS observations;
	`,
	CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
}
