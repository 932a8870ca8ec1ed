package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	_ "github.com/lib/pq"
	"github.com/saviobatista/adsb-area-recorder/internal/db/migrations"
	"github.com/saviobatista/adsb-area-recorder/internal/logging"
)

type action int

const (
	actionMigrate action = iota
	actionRollback
	actionStatus
)

func parseAction(rollback, status bool) (action, error) {
	switch {
	case rollback && status:
		return 0, errors.New("-rollback and -status are mutually exclusive")
	case rollback:
		return actionRollback, nil
	case status:
		return actionStatus, nil
	default:
		return actionMigrate, nil
	}
}

func main() {
	dbURL := flag.String("db", os.Getenv("DB_CONN_STR"), "Database connection string (defaults to $DB_CONN_STR)")
	rollback := flag.Bool("rollback", false, "Rollback the last migration")
	status := flag.Bool("status", false, "Show migration status")
	flag.Parse()

	logging.Init(logging.Config{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT")})

	act, err := parseAction(*rollback, *status)
	if err != nil {
		logging.Error().Err(err).Msg("invalid flags")
		os.Exit(2)
	}

	if err := run(*dbURL, act, os.Stdout); err != nil {
		logging.Error().Err(err).Msg("migration failed")
		os.Exit(1)
	}
}

// run opens the database and executes the requested action
func run(dbURL string, act action, out io.Writer) error {
	if dbURL == "" {
		return errors.New("no database connection string: set -db or DB_CONN_STR")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Warn().Err(err).Msg("error closing database")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	return runMigration(ctx, db, act, out)
}

// runMigration executes act against an open database
func runMigration(ctx context.Context, db *sql.DB, act action, out io.Writer) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	migrator := migrations.New(db)
	all := migrations.All()

	switch act {
	case actionRollback:
		m, err := migrator.Rollback(ctx, all)
		if err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		fmt.Fprintf(out, "rolled back %s\n", m.Name)
	case actionStatus:
		statuses, err := migrator.Status(ctx, all)
		if err != nil {
			return fmt.Errorf("failed to read migration status: %w", err)
		}
		return printStatus(out, statuses)
	default:
		n, err := migrator.Migrate(ctx, all)
		if err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		fmt.Fprintf(out, "applied %d migration(s)\n", n)
	}
	return nil
}

func printStatus(out io.Writer, statuses []migrations.Status) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MIGRATION\tSTATUS")
	for _, s := range statuses {
		state := "pending"
		if s.Applied {
			state = "applied"
		}
		fmt.Fprintf(w, "%s\t%s\n", s.Migration.Name, state)
	}
	return w.Flush()
}
