// Package archive keeps a daily JSON lines copy of every stored batch. Files
// rotate at midnight UTC and finished days are gzipped.
package archive

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/saviobatista/adsb-area-recorder/internal/logging"
	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

const (
	filePrefix = "observations_"
	fileSuffix = ".jsonl"
	dayLayout  = "2006-01-02"
)

// FileName returns the archive file for the UTC day containing t
func FileName(t time.Time) string {
	return filePrefix + t.UTC().Format(dayLayout) + fileSuffix
}

// Archive appends batches to the current day's file
type Archive struct {
	outputDir string
	now       func() time.Time
	file      *os.File
	day       string
	mu        sync.Mutex
	stopChan  chan struct{}
	wg        sync.WaitGroup
	log       zerolog.Logger
}

// New creates a new Archive writing under outputDir
func New(outputDir string) *Archive {
	return &Archive{
		outputDir: outputDir,
		now:       time.Now,
		stopChan:  make(chan struct{}),
		log:       logging.WithComponent("archive"),
	}
}

// SetClock replaces the time source
func (a *Archive) SetClock(now func() time.Time) {
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// Start opens today's file, compresses finished days left by an earlier run
// and starts the rotation timer
func (a *Archive) Start() error {
	if err := os.MkdirAll(a.outputDir, 0o750); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	a.mu.Lock()
	err := a.openLocked()
	a.mu.Unlock()
	if err != nil {
		return err
	}

	if err := a.compressFinished(); err != nil {
		a.log.Warn().Err(err).Msg("failed to compress finished archives")
	}

	a.wg.Add(1)
	go a.rotationTimer()
	return nil
}

// Stop stops the rotation timer and closes the current file
func (a *Archive) Stop() error {
	close(a.stopChan)
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// WriteBatch appends batch as a single JSON line. A batch written after
// midnight rotates the file first.
func (a *Archive) WriteBatch(batch *types.Batch) error {
	if batch == nil {
		return errors.New("nil batch")
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil || a.today() != a.day {
		if err := a.rotateLocked(); err != nil {
			return err
		}
	}
	if _, err := a.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write batch %s: %w", batch.CycleID, err)
	}
	return nil
}

// Rotate closes the current file, opens today's and gzips the finished day
func (a *Archive) Rotate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rotateLocked()
}

func (a *Archive) today() string {
	return a.now().UTC().Format(dayLayout)
}

func (a *Archive) path(day string) string {
	return filepath.Join(a.outputDir, filePrefix+day+fileSuffix)
}

func (a *Archive) openLocked() error {
	day := a.today()
	file, err := os.OpenFile(a.path(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}
	a.file = file
	a.day = day
	return nil
}

func (a *Archive) rotateLocked() error {
	previous := a.day
	if a.file != nil {
		if err := a.file.Close(); err != nil {
			a.log.Warn().Err(err).Str("day", previous).Msg("failed to close archive file")
		}
		a.file = nil
	}

	if err := a.openLocked(); err != nil {
		return err
	}

	if previous != "" && previous != a.day {
		if err := compressFile(a.path(previous)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to compress %s: %w", previous, err)
		}
		a.log.Info().Str("day", previous).Msg("archived day")
	}
	return nil
}

// compressFinished gzips plain archive files of days before today
func (a *Archive) compressFinished() error {
	a.mu.Lock()
	today := a.day
	a.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(a.outputDir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return err
	}
	sort.Strings(matches)

	var errs []error
	for _, path := range matches {
		day := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), filePrefix), fileSuffix)
		if day >= today {
			continue
		}
		if err := compressFile(path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", day, err))
		}
	}
	return errors.Join(errs...)
}

// rotationTimer rotates at midnight UTC
func (a *Archive) rotationTimer() {
	defer a.wg.Done()

	for {
		a.mu.Lock()
		now := a.now().UTC()
		a.mu.Unlock()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)

		timer := time.NewTimer(nextMidnight.Sub(now))
		select {
		case <-timer.C:
			if err := a.Rotate(); err != nil {
				a.log.Error().Err(err).Msg("error during rotation")
			}
		case <-a.stopChan:
			timer.Stop()
			return
		}
	}
}

// compressFile replaces path with path.gz
func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.OpenFile(path+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer target.Close()

	gzipWriter := gzip.NewWriter(target)
	gzipWriter.Name = filepath.Base(path)
	if _, err := io.Copy(gzipWriter, source); err != nil {
		return err
	}
	if err := gzipWriter.Close(); err != nil {
		return err
	}
	if err := target.Sync(); err != nil {
		return err
	}

	return os.Remove(path)
}
