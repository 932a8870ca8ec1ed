package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/saviobatista/adsb-area-recorder/internal/config"
	"github.com/saviobatista/adsb-area-recorder/internal/db"
	"github.com/saviobatista/adsb-area-recorder/internal/db/migrations"
	"github.com/saviobatista/adsb-area-recorder/internal/fetcher"
	"github.com/saviobatista/adsb-area-recorder/internal/logging"
	"github.com/saviobatista/adsb-area-recorder/internal/metrics"
	"github.com/saviobatista/adsb-area-recorder/internal/nats"
	"github.com/saviobatista/adsb-area-recorder/internal/redis"
	"github.com/saviobatista/adsb-area-recorder/internal/scheduler"
	"github.com/saviobatista/adsb-area-recorder/internal/schema"
	"github.com/saviobatista/adsb-area-recorder/internal/stats"
)

// clients holds the connections the poller owns. NATS and Redis are nil when
// not configured.
type clients struct {
	db    *db.Client
	nats  *nats.Client
	redis *redis.Client
}

// createClients connects to the store and the optional sinks
func createClients(ctx context.Context, cfg *config.Config) (*clients, error) {
	dbClient, err := db.New(cfg.DBConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create database client: %w", err)
	}
	c := &clients{db: dbClient}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := dbClient.Ping(pingCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.NATSURL != "" {
		if c.nats, err = nats.New(cfg.NATSURL); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create NATS client: %w", err)
		}
	}

	if cfg.RedisAddr != "" {
		if c.redis, err = redis.New(cfg.RedisAddr, cfg.RedisPassword); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create Redis client: %w", err)
		}
	}

	return c, nil
}

// Close releases every open connection
func (c *clients) Close() {
	if c.nats != nil {
		c.nats.Close()
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			logging.Warn().Err(err).Msg("error closing Redis client")
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			logging.Warn().Err(err).Msg("error closing database client")
		}
	}
}

// schedulerOptions maps the configuration onto the polling loop
func schedulerOptions(cfg *config.Config) scheduler.Options {
	return scheduler.Options{
		Circles:        cfg.Circles,
		Interval:       cfg.PollInterval,
		RateLimitPause: cfg.RateLimitPause,
		FetchRetries:   cfg.FetchRetries,
		AppendRetries:  cfg.AppendRetries,
	}
}

// prepareSchema applies the base migrations and loads the live column set
func prepareSchema(ctx context.Context, client *db.Client) (*schema.Manager, error) {
	n, err := migrations.New(client.DB()).Migrate(ctx, migrations.All())
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if n > 0 {
		logging.Info().Int("count", n).Msg("applied base migrations")
	}

	manager := schema.NewManager(client.DB(), client.Table())
	if err := manager.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}
	return manager, nil
}

// run polls until ctx is cancelled
func run(ctx context.Context, cfg *config.Config) error {
	c, err := createClients(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	manager, err := prepareSchema(ctx, c.db)
	if err != nil {
		return err
	}

	st := stats.New()
	st.SetStore(c.db)

	sched := scheduler.New(fetcher.New(cfg.APIBaseURL, cfg.FetchTimeout), manager, c.db, schedulerOptions(cfg))
	sched.SetReporter(st, metrics.Reporter{})
	if c.nats != nil {
		sched.SetPublisher(c.nats)
	}
	if c.redis != nil {
		sched.SetCache(c.redis)
	}

	// Persistence outlives ctx so the last cycle is counted in the final flush
	persistCtx, stopPersistence := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	if cfg.StatsInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.StartPersistence(persistCtx, cfg.StatsInterval)
		}()
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logging.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	err = sched.Run(ctx)
	stopPersistence()
	wg.Wait()
	logging.Info().Msgf("Statistics:\n%s", st)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error().Err(err).Msg("poller stopped")
		stop()
		os.Exit(1)
	}
	logging.Info().Msg("shutdown complete")
}
