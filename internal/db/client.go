package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
	"github.com/saviobatista/adsb-area-recorder/internal/logging"
	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

// ObservationsTable is the append-only table holding every sighting
const ObservationsTable = "observations"

// ErrUnknownColumn is returned when a batch holds a field the table lacks
var ErrUnknownColumn = errors.New("unknown column")

// AppendError reports a batch that was not written. Nothing of the batch is
// stored when it is returned.
type AppendError struct {
	Rows int
	Err  error
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("append of %d rows failed: %v", e.Rows, e.Err)
}

func (e *AppendError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the same batch could succeed on retry
func (e *AppendError) Temporary() bool {
	if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(e.Err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return true
		default:
			return false
		}
	}
	return true
}

// ColumnSet resolves the kinds of known columns
type ColumnSet interface {
	Kind(name string) (types.ColumnKind, bool)
}

type Client struct {
	db    *sql.DB
	table string
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an existing connection pool (useful for testing)
func NewWithDB(db *sql.DB) *Client {
	return &Client{db: db, table: ObservationsTable}
}

// DB returns the underlying connection pool
func (c *Client) DB() *sql.DB {
	return c.db
}

// Table returns the observation table name
func (c *Client) Table() string {
	return c.table
}

// Ping verifies the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Append inserts every observation of batch as a new row in one transaction.
// All fields must already be columns of the table.
func (c *Client) Append(ctx context.Context, cols ColumnSet, batch []types.Observation) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	names, err := batchColumns(cols, batch)
	if err != nil {
		return 0, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &AppendError{Rows: len(batch), Err: err}
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			logging.Warn().Err(err).Msg("failed to rollback append")
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertQuery(c.table, names))
	if err != nil {
		return 0, appendFailure(len(batch), err)
	}
	defer stmt.Close()

	args := make([]any, len(names))
	for _, obs := range batch {
		for i, name := range names {
			kind, _ := cols.Kind(name)
			args[i] = columnValue(kind, obs[name])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, appendFailure(len(batch), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, appendFailure(len(batch), err)
	}
	return len(batch), nil
}

// batchColumns returns the sorted union of the batch's fields
func batchColumns(cols ColumnSet, batch []types.Observation) ([]string, error) {
	seen := make(map[string]struct{})
	var names []string
	for _, obs := range batch {
		for field := range obs {
			if _, ok := seen[field]; ok {
				continue
			}
			if _, ok := cols.Kind(field); !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, field)
			}
			seen[field] = struct{}{}
			names = append(names, field)
		}
	}
	sort.Strings(names)
	return names, nil
}

func insertQuery(table string, names []string) string {
	quoted := make([]string, len(names))
	params := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pq.QuoteIdentifier(n)
		params[i] = "$" + strconv.Itoa(i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pq.QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(params, ", "))
}

// columnValue adapts a normalized value to the column's storage type
func columnValue(kind types.ColumnKind, v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		return pq.Array(val)
	case types.Opaque:
		return string(val)
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	case int64:
		switch kind {
		case types.KindFloat:
			return float64(val)
		case types.KindText, types.KindOpaqueText:
			return strconv.FormatInt(val, 10)
		}
		return val
	case float64:
		if kind == types.KindText || kind == types.KindOpaqueText {
			return strconv.FormatFloat(val, 'f', -1, 64)
		}
		return val
	default:
		return val
	}
}

// appendFailure separates missing-column failures from other append errors
func appendFailure(rows int, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42703" {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, pqErr.Message)
	}
	if errors.Is(err, driver.ErrBadConn) {
		return &AppendError{Rows: rows, Err: fmt.Errorf("connection lost: %w", err)}
	}
	return &AppendError{Rows: rows, Err: err}
}

// Points returns every stored position with both coordinates present
func (c *Client) Points(ctx context.Context, lonField, latField string) ([]types.Point, error) {
	lon, lat := pq.QuoteIdentifier(lonField), pq.QuoteIdentifier(latField)
	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IS NOT NULL AND %s IS NOT NULL",
		lon, lat, pq.QuoteIdentifier(c.table), lon, lat)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []types.Point
	for rows.Next() {
		var p types.Point
		if err := rows.Scan(&p.Lon, &p.Lat); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// StoreIngestStats stores ingestion statistics
func (c *Client) StoreIngestStats(stats map[string]interface{}) error {
	query := `
		INSERT INTO ingest_stats (
			time, cycles, failed_cycles, fetched_observations,
			duplicate_observations, anonymous_observations, fetch_failures,
			columns_added, stored_rows, processing_time_ms, uptime_seconds
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	processingTime := stats["processing_time"].(time.Duration).Milliseconds()
	uptime := stats["uptime"].(time.Duration).Seconds()

	_, err := c.db.Exec(query,
		time.Now(),
		stats["cycles"],
		stats["failed_cycles"],
		stats["fetched_observations"],
		stats["duplicate_observations"],
		stats["anonymous_observations"],
		stats["fetch_failures"],
		stats["columns_added"],
		stats["stored_rows"],
		processingTime,
		int64(uptime),
	)
	return err
}
