package stats

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saviobatista/adsb-area-recorder/internal/logging"
	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

// Store persists a statistics snapshot
type Store interface {
	StoreIngestStats(stats map[string]interface{}) error
}

// Stats tracks polling statistics
type Stats struct {
	// Cycle counts
	Cycles       uint64
	FailedCycles uint64

	// Observation counts
	FetchedObservations   uint64
	DuplicateObservations uint64
	AnonymousObservations uint64
	FetchFailures         uint64
	ColumnsAdded          uint64
	StoredRows            uint64

	// Timing
	StartedAt      time.Time
	LastCycleTime  time.Time
	LastCycleID    string
	ProcessingTime time.Duration

	store Store

	mu sync.RWMutex
}

// New creates a new Stats instance
func New() *Stats {
	return &Stats{
		StartedAt: time.Now(),
	}
}

// SetStore sets the store used for persistence
func (s *Stats) SetStore(store Store) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

// Persist stores the current statistics
func (s *Stats) Persist() error {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return fmt.Errorf("statistics store not set")
	}
	return store.StoreIngestStats(s.GetStats())
}

// RecordCycle folds a cycle report into the counters
func (s *Stats) RecordCycle(r types.CycleReport) {
	atomic.AddUint64(&s.Cycles, 1)
	if r.Failed() {
		atomic.AddUint64(&s.FailedCycles, 1)
	}
	atomic.AddUint64(&s.FetchedObservations, uint64(r.Fetched))
	atomic.AddUint64(&s.DuplicateObservations, uint64(r.Duplicates))
	atomic.AddUint64(&s.AnonymousObservations, uint64(r.Anonymous))
	atomic.AddUint64(&s.FetchFailures, uint64(r.FailedCircles))
	atomic.AddUint64(&s.ColumnsAdded, uint64(r.ColumnsAdded))
	atomic.AddUint64(&s.StoredRows, uint64(r.Stored))

	s.mu.Lock()
	s.LastCycleTime = time.Now()
	s.LastCycleID = r.CycleID
	s.ProcessingTime += r.Duration
	s.mu.Unlock()
}

// GetStats returns a copy of the current statistics
func (s *Stats) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"cycles":                 atomic.LoadUint64(&s.Cycles),
		"failed_cycles":          atomic.LoadUint64(&s.FailedCycles),
		"fetched_observations":   atomic.LoadUint64(&s.FetchedObservations),
		"duplicate_observations": atomic.LoadUint64(&s.DuplicateObservations),
		"anonymous_observations": atomic.LoadUint64(&s.AnonymousObservations),
		"fetch_failures":         atomic.LoadUint64(&s.FetchFailures),
		"columns_added":          atomic.LoadUint64(&s.ColumnsAdded),
		"stored_rows":            atomic.LoadUint64(&s.StoredRows),
		"last_cycle_time":        s.LastCycleTime,
		"last_cycle_id":          s.LastCycleID,
		"processing_time":        s.ProcessingTime,
		"uptime":                 time.Since(s.StartedAt),
	}
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	stats := s.GetStats()
	return fmt.Sprintf(
		"Cycles: %d\n"+
			"Failed Cycles: %d\n"+
			"Fetched Observations: %d\n"+
			"Duplicate Observations: %d\n"+
			"Anonymous Observations: %d\n"+
			"Fetch Failures: %d\n"+
			"Columns Added: %d\n"+
			"Stored Rows: %d\n"+
			"Processing Time: %s\n"+
			"Uptime: %s",
		stats["cycles"],
		stats["failed_cycles"],
		stats["fetched_observations"],
		stats["duplicate_observations"],
		stats["anonymous_observations"],
		stats["fetch_failures"],
		stats["columns_added"],
		stats["stored_rows"],
		stats["processing_time"],
		stats["uptime"],
	)
}

// StartPersistence starts periodic persistence of statistics
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := logging.WithComponent("stats")
	for {
		select {
		case <-ctx.Done():
			// Final persistence before shutdown
			if err := s.Persist(); err != nil {
				log.Error().Err(err).Msg("failed to persist final statistics")
			}
			return
		case <-ticker.C:
			if err := s.Persist(); err != nil {
				log.Error().Err(err).Msg("failed to persist statistics")
			}
		}
	}
}
