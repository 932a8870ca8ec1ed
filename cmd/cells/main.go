package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/saviobatista/adsb-area-recorder/internal/config"
	"github.com/saviobatista/adsb-area-recorder/internal/db"
	"github.com/saviobatista/adsb-area-recorder/internal/logging"
	"github.com/saviobatista/adsb-area-recorder/internal/spatial"
	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

// PointSource reads stored positions
type PointSource interface {
	Points(ctx context.Context, lonField, latField string) ([]types.Point, error)
}

// options selects what the indexer reads and where it writes
type options struct {
	LonField    string
	LatField    string
	Resolutions []int
	OutputDir   string
}

// result describes one written cell file
type result struct {
	Path    string
	Cells   int
	Total   int
	Skipped int
}

// generate reads positions once and writes one cell file per resolution
func generate(ctx context.Context, src PointSource, opts options) ([]result, error) {
	if err := os.MkdirAll(opts.OutputDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	points, err := src.Points(ctx, opts.LonField, opts.LatField)
	if err != nil {
		return nil, fmt.Errorf("failed to read positions: %w", err)
	}
	logging.Info().Int("points", len(points)).Msg("loaded positions")

	results := make([]result, 0, len(opts.Resolutions))
	for _, res := range opts.Resolutions {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		idx, err := spatial.BuildCells(points, res)
		if err != nil {
			return results, err
		}
		path, err := spatial.WriteFile(opts.OutputDir, idx)
		if err != nil {
			return results, err
		}
		r := result{Path: path, Cells: len(idx.Cells), Total: idx.Total(), Skipped: idx.Skipped}
		logging.Info().
			Int("resolution", res).
			Str("path", r.Path).
			Int("cells", r.Cells).
			Int("skipped", r.Skipped).
			Msg("wrote cells")
		results = append(results, r)
	}
	return results, nil
}

// parseFlags resolves the options from the command line over cfg
func parseFlags(fs *flag.FlagSet, args []string, cfg *config.Config) (options, error) {
	lon := fs.String("lon", types.FieldLon, "Longitude column")
	lat := fs.String("lat", types.FieldLat, "Latitude column")
	res := fs.String("res", "", "Comma separated H3 resolutions (defaults to $H3_RESOLUTIONS)")
	out := fs.String("out", cfg.OutputDir, "Output directory (defaults to $OUTPUT_DIR)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts := options{
		LonField:    *lon,
		LatField:    *lat,
		Resolutions: cfg.H3Resolutions,
		OutputDir:   *out,
	}
	if *res != "" {
		r, err := config.ParseResolutions(*res)
		if err != nil {
			return options{}, fmt.Errorf("invalid -res: %w", err)
		}
		opts.Resolutions = r
	}
	if opts.LonField == "" || opts.LatField == "" {
		return options{}, fmt.Errorf("-lon and -lat must name columns")
	}
	return opts, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	opts, err := parseFlags(flag.CommandLine, os.Args[1:], cfg)
	if err != nil {
		logging.Error().Err(err).Msg("invalid flags")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := db.New(cfg.DBConnStr)
	if err != nil {
		logging.Error().Err(err).Msg("failed to create database client")
		stop()
		os.Exit(1)
	}

	_, err = generate(ctx, client, opts)
	if cerr := client.Close(); cerr != nil {
		logging.Warn().Err(cerr).Msg("error closing database client")
	}
	if err != nil {
		logging.Error().Err(err).Msg("cell generation failed")
		stop()
		os.Exit(1)
	}
}
