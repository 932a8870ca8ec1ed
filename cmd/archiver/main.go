package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/saviobatista/adsb-area-recorder/internal/archive"
	"github.com/saviobatista/adsb-area-recorder/internal/logging"
	"github.com/saviobatista/adsb-area-recorder/internal/nats"
	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

// DurableName identifies the archiver's JetStream consumer
const DurableName = "adsb-archiver"

// BatchSource delivers published batches
type BatchSource interface {
	SubscribeBatchesDurable(durable string, handler func(*types.Batch)) error
}

func main() {
	outputDir, natsURL := parseEnvironment()
	logging.Init(logging.Config{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT")})

	client, err := nats.New(natsURL)
	if err != nil {
		logging.Error().Err(err).Msg("failed to create NATS client")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = runArchiver(ctx, client, archive.New(outputDir))
	client.Close()
	if err != nil {
		logging.Error().Err(err).Msg("archiver failed")
		stop()
		os.Exit(1)
	}
}

// runArchiver writes every received batch until ctx is cancelled
func runArchiver(ctx context.Context, src BatchSource, a *archive.Archive) error {
	if err := a.Start(); err != nil {
		return fmt.Errorf("failed to start archive: %w", err)
	}

	if err := src.SubscribeBatchesDurable(DurableName, func(batch *types.Batch) {
		if err := a.WriteBatch(batch); err != nil {
			logging.Error().Err(err).Str("cycle_id", batch.CycleID).Msg("failed to archive batch")
		}
	}); err != nil {
		_ = a.Stop()
		return fmt.Errorf("failed to subscribe to batches: %w", err)
	}
	logging.Info().Msg("archiving batches")

	<-ctx.Done()
	logging.Info().Msg("shutting down archiver")
	return a.Stop()
}

// parseEnvironment extracts environment variables with defaults
func parseEnvironment() (string, string) {
	_ = godotenv.Load()

	outputDir := os.Getenv("ARCHIVE_DIR")
	if outputDir == "" {
		outputDir = "./archive"
	}

	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	return outputDir, natsURL
}
