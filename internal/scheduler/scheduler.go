// Package scheduler drives polling cycles: fetch every circle, merge, migrate
// the schema, append, then hand the batch to the optional sinks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/saviobatista/adsb-area-recorder/internal/db"
	"github.com/saviobatista/adsb-area-recorder/internal/dedup"
	"github.com/saviobatista/adsb-area-recorder/internal/logging"
	"github.com/saviobatista/adsb-area-recorder/internal/schema"
	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

// ErrAllFetchesFailed is reported when no circle of a cycle could be fetched
var ErrAllFetchesFailed = errors.New("all circle fetches failed")

// Fetcher queries one circle
type Fetcher interface {
	Fetch(ctx context.Context, circle types.Circle) ([]types.Observation, error)
}

// SchemaEnsurer migrates the table for a batch and exposes the known columns
type SchemaEnsurer interface {
	Ensure(ctx context.Context, batch []types.Observation) ([]types.Column, error)
	Registry() *schema.Registry
}

// Recorder appends a batch
type Recorder interface {
	Append(ctx context.Context, cols db.ColumnSet, batch []types.Observation) (int, error)
}

// Publisher announces stored batches
type Publisher interface {
	PublishBatch(batch *types.Batch) error
}

// Cache keeps the latest sighting per aircraft
type Cache interface {
	StoreBatch(ctx context.Context, batch *types.Batch) error
}

// Reporter receives a summary of every cycle
type Reporter interface {
	RecordCycle(report types.CycleReport)
}

// Clock is the scheduler's time source
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in that case
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Options configures the polling loop
type Options struct {
	Circles              []types.Circle
	Interval             time.Duration
	RateLimitPause       time.Duration
	FetchRetries         int
	AppendRetries        int
	RetryInitialInterval time.Duration
	// MaxCycles stops Run after that many cycles; zero runs until cancelled
	MaxCycles int
}

// Scheduler runs polling cycles
type Scheduler struct {
	opts      Options
	fetcher   Fetcher
	schema    SchemaEnsurer
	recorder  Recorder
	publisher Publisher
	cache     Cache
	reporters []Reporter
	clock     Clock
	log       zerolog.Logger
}

// New creates a scheduler with the real clock and no sinks
func New(f Fetcher, s SchemaEnsurer, r Recorder, opts Options) *Scheduler {
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = 500 * time.Millisecond
	}
	return &Scheduler{
		opts:     opts,
		fetcher:  f,
		schema:   s,
		recorder: r,
		clock:    realClock{},
		log:      logging.WithComponent("scheduler"),
	}
}

// SetPublisher sets the sink notified of stored batches
func (s *Scheduler) SetPublisher(p Publisher) { s.publisher = p }

// SetCache sets the latest-sighting cache
func (s *Scheduler) SetCache(c Cache) { s.cache = c }

// SetReporter sets the receivers of cycle summaries
func (s *Scheduler) SetReporter(rs ...Reporter) { s.reporters = rs }

// SetClock replaces the time source
func (s *Scheduler) SetClock(c Clock) { s.clock = c }

// Run executes cycles until ctx is cancelled or MaxCycles is reached. A failed
// cycle never stops the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().
		Int("circles", len(s.opts.Circles)).
		Dur("interval", s.opts.Interval).
		Dur("pause", s.opts.RateLimitPause).
		Msg("starting poller")

	for cycle := 1; ; cycle++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.RunCycle(ctx)

		if s.opts.MaxCycles > 0 && cycle >= s.opts.MaxCycles {
			return nil
		}
		if err := s.clock.Sleep(ctx, s.opts.Interval); err != nil {
			return err
		}
	}
}

// RunCycle performs one fetch, merge, migrate and append pass. Cancellation is
// honored only while fetching; once the schema step starts the cycle runs to
// completion.
func (s *Scheduler) RunCycle(ctx context.Context) (report types.CycleReport) {
	start := s.clock.Now()
	report = types.CycleReport{CycleID: uuid.NewString(), Circles: len(s.opts.Circles)}
	log := s.log.With().Str("cycle", report.CycleID).Logger()

	defer func() {
		report.Duration = s.clock.Now().Sub(start)
		s.logReport(log, report)
		for _, r := range s.reporters {
			r.RecordCycle(report)
		}
	}()

	batches, err := s.fetchAll(ctx, log, &report)
	if err != nil {
		report.Err = err
		return report
	}

	merged := dedup.Merge(batches)
	report.Duplicates = merged.Duplicates
	report.Anonymous = merged.Anonymous
	if len(merged.Observations) == 0 {
		return report
	}

	wctx := context.WithoutCancel(ctx)

	added, err := s.schema.Ensure(wctx, merged.Observations)
	report.ColumnsAdded = len(added)
	if err != nil {
		report.Err = fmt.Errorf("schema not migrated, append skipped: %w", err)
		return report
	}

	stored, err := s.append(wctx, log, merged.Observations)
	if err != nil {
		report.Err = fmt.Errorf("batch dropped: %w", err)
		return report
	}
	report.Stored = stored

	batch := &types.Batch{
		CycleID:      report.CycleID,
		CapturedAt:   start,
		Observations: merged.Observations,
	}
	s.deliver(wctx, log, batch)
	return report
}

// fetchAll fetches every circle in order, pausing between requests. Failed
// circles are logged and skipped.
func (s *Scheduler) fetchAll(ctx context.Context, log zerolog.Logger, report *types.CycleReport) ([][]types.Observation, error) {
	batches := make([][]types.Observation, 0, len(s.opts.Circles))
	for i, circle := range s.opts.Circles {
		if i > 0 {
			if err := s.clock.Sleep(ctx, s.opts.RateLimitPause); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		obs, err := s.fetch(ctx, log, circle)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			report.FailedCircles++
			log.Warn().Err(err).Str("circle", circle.String()).Msg("circle fetch failed, skipping")
			continue
		}
		report.Fetched += len(obs)
		batches = append(batches, obs)
	}

	if len(s.opts.Circles) > 0 && report.FailedCircles == len(s.opts.Circles) {
		return nil, ErrAllFetchesFailed
	}
	return batches, nil
}

func (s *Scheduler) newBackOff(retries int) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.Clock = s.clock
	eb.InitialInterval = s.opts.RetryInitialInterval
	eb.MaxInterval = 10 * s.opts.RetryInitialInterval
	eb.MaxElapsedTime = 0
	return backoff.WithMaxRetries(eb, uint64(retries))
}

// clockTimer waits between retries on the scheduler's clock. Start blocks for
// the whole wait; a cancelled wait never fires and the retry loop returns on
// ctx instead.
type clockTimer struct {
	ctx   context.Context
	clock Clock
	c     chan time.Time
}

func newClockTimer(ctx context.Context, clock Clock) *clockTimer {
	return &clockTimer{ctx: ctx, clock: clock, c: make(chan time.Time, 1)}
}

func (t *clockTimer) Start(d time.Duration) {
	if err := t.clock.Sleep(t.ctx, d); err != nil {
		return
	}
	t.c <- t.clock.Now()
}

func (t *clockTimer) Stop() {
	select {
	case <-t.c:
	default:
	}
}

func (t *clockTimer) C() <-chan time.Time { return t.c }

// temporary reports whether an error advertises that a retry may succeed
func temporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

func (s *Scheduler) fetch(ctx context.Context, log zerolog.Logger, circle types.Circle) ([]types.Observation, error) {
	var out []types.Observation
	op := func() error {
		obs, err := s.fetcher.Fetch(ctx, circle)
		if err != nil {
			if !temporary(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = obs
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Debug().Err(err).Str("circle", circle.String()).Dur("wait", wait).Msg("retrying fetch")
	}

	b := backoff.WithContext(s.newBackOff(s.opts.FetchRetries), ctx)
	if err := backoff.RetryNotifyWithTimer(op, b, notify, newClockTimer(ctx, s.clock)); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Scheduler) append(ctx context.Context, log zerolog.Logger, batch []types.Observation) (int, error) {
	var stored int
	op := func() error {
		n, err := s.recorder.Append(ctx, s.schema.Registry(), batch)
		if err != nil {
			if !temporary(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		stored = n
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("wait", wait).Msg("retrying append")
	}

	b := s.newBackOff(s.opts.AppendRetries)
	if err := backoff.RetryNotifyWithTimer(op, b, notify, newClockTimer(ctx, s.clock)); err != nil {
		return 0, err
	}
	return stored, nil
}

// deliver hands a stored batch to the optional sinks. Sink failures are
// logged; the batch is already durable.
func (s *Scheduler) deliver(ctx context.Context, log zerolog.Logger, batch *types.Batch) {
	if s.publisher != nil {
		if err := s.publisher.PublishBatch(batch); err != nil {
			log.Error().Err(err).Msg("failed to publish batch")
		}
	}
	if s.cache != nil {
		if err := s.cache.StoreBatch(ctx, batch); err != nil {
			log.Error().Err(err).Msg("failed to cache batch")
		}
	}
}

func (s *Scheduler) logReport(log zerolog.Logger, r types.CycleReport) {
	var ev *zerolog.Event
	if r.Err != nil {
		ev = log.Error().Err(r.Err)
	} else {
		ev = log.Info()
	}
	ev.Int("circles", r.Circles).
		Int("failed_circles", r.FailedCircles).
		Int("fetched", r.Fetched).
		Int("duplicates", r.Duplicates).
		Int("anonymous", r.Anonymous).
		Int("columns_added", r.ColumnsAdded).
		Int("stored", r.Stored).
		Dur("duration", r.Duration).
		Msg("cycle finished")
}
