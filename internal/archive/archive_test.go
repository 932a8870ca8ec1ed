package archive

import (
	"bufio"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/saviobatista/adsb-area-recorder/internal/nats"
	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestArchive(t *testing.T, start time.Time) (*Archive, *fakeClock, string) {
	t.Helper()
	dir := t.TempDir()
	clock := &fakeClock{now: start}
	a := New(dir)
	a.SetClock(clock.Now)
	if err := a.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := a.Stop(); err != nil {
			t.Errorf("Stop() failed: %v", err)
		}
	})
	return a, clock, dir
}

func testBatch(id string) *types.Batch {
	return &types.Batch{
		CycleID:    id,
		CapturedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Observations: []types.Observation{
			{"flight": "N123", "lat": 40.0, "lon": -105.0},
		},
	}
}

func readLines(t *testing.T, r io.Reader) []string {
	t.Helper()
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Failed to read lines: %v", err)
	}
	return lines
}

func TestFileName(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	got := FileName(time.Date(2024, 5, 1, 22, 0, 0, 0, loc))
	if got != "observations_2024-05-02.jsonl" {
		t.Errorf("Expected UTC day in file name, got %s", got)
	}
}

func TestArchive_WriteBatch(t *testing.T) {
	day := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a, _, dir := newTestArchive(t, day)

	for _, id := range []string{"c1", "c2"} {
		if err := a.WriteBatch(testBatch(id)); err != nil {
			t.Fatalf("WriteBatch() failed: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(dir, FileName(day)))
	if err != nil {
		t.Fatalf("Failed to open archive: %v", err)
	}
	defer f.Close()

	lines := readLines(t, f)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	batch, err := nats.DecodeBatch([]byte(lines[1]))
	if err != nil {
		t.Fatalf("archived line is not a batch: %v", err)
	}
	if batch.CycleID != "c2" || len(batch.Observations) != 1 {
		t.Errorf("unexpected batch %+v", batch)
	}
}

func TestArchive_WriteNilBatch(t *testing.T) {
	a, _, _ := newTestArchive(t, time.Now())
	if err := a.WriteBatch(nil); err == nil {
		t.Error("Expected error, got none")
	}
}

func TestArchive_RotatesAtDayChange(t *testing.T) {
	first := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)
	a, clock, dir := newTestArchive(t, first)

	if err := a.WriteBatch(testBatch("late")); err != nil {
		t.Fatalf("WriteBatch() failed: %v", err)
	}

	second := first.Add(2 * time.Minute)
	clock.Set(second)
	if err := a.WriteBatch(testBatch("early")); err != nil {
		t.Fatalf("WriteBatch() failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, FileName(first))); !os.IsNotExist(err) {
		t.Error("finished day should no longer be plain text")
	}

	gz, err := os.Open(filepath.Join(dir, FileName(first)+".gz"))
	if err != nil {
		t.Fatalf("Expected compressed archive: %v", err)
	}
	defer gz.Close()
	zr, err := gzip.NewReader(gz)
	if err != nil {
		t.Fatalf("Failed to open gzip: %v", err)
	}
	defer zr.Close()
	lines := readLines(t, zr)
	if len(lines) != 1 || !strings.Contains(lines[0], `"late"`) {
		t.Errorf("Expected the late batch in the finished day, got %v", lines)
	}

	data, err := os.ReadFile(filepath.Join(dir, FileName(second)))
	if err != nil {
		t.Fatalf("Failed to read current day: %v", err)
	}
	if !strings.Contains(string(data), `"early"`) {
		t.Errorf("Expected the early batch in the new day, got %s", data)
	}
}

func TestArchive_StartCompressesLeftovers(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "observations_2024-04-30.jsonl")
	if err := os.WriteFile(old, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("Failed to seed archive: %v", err)
	}

	a := New(dir)
	a.SetClock(func() time.Time { return time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC) })
	if err := a.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer a.Stop()

	if _, err := os.Stat(old + ".gz"); err != nil {
		t.Errorf("Expected leftover day to be compressed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "observations_2024-05-01.jsonl")); err != nil {
		t.Errorf("Expected today's file to stay plain: %v", err)
	}
}

func TestCompressFile(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		missing     bool
		expectError bool
	}{
		{name: "with content", content: "line one\nline two\n"},
		{name: "empty file", content: ""},
		{name: "missing file", missing: true, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "observations_2024-01-01.jsonl")
			if !tt.missing {
				if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
					t.Fatalf("Failed to write file: %v", err)
				}
			}

			err := compressFile(path)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}

			f, err := os.Open(path + ".gz")
			if err != nil {
				t.Fatalf("Failed to open compressed file: %v", err)
			}
			defer f.Close()
			zr, err := gzip.NewReader(f)
			if err != nil {
				t.Fatalf("Failed to create gzip reader: %v", err)
			}
			got, err := io.ReadAll(zr)
			if err != nil {
				t.Fatalf("Failed to read compressed content: %v", err)
			}
			if string(got) != tt.content {
				t.Errorf("Expected content %q, got %q", tt.content, got)
			}
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Error("original file should be removed")
			}
		})
	}
}

func TestArchive_ConcurrentWrites(t *testing.T) {
	a, _, dir := newTestArchive(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				if err := a.WriteBatch(testBatch("c")); err != nil {
					t.Errorf("WriteBatch() failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	f, err := os.Open(filepath.Join(dir, "observations_2024-05-01.jsonl"))
	if err != nil {
		t.Fatalf("Failed to open archive: %v", err)
	}
	defer f.Close()
	if n := len(readLines(t, f)); n != writers*perWriter {
		t.Errorf("Expected %d lines, got %d", writers*perWriter, n)
	}
}
