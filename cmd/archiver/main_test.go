package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/saviobatista/adsb-area-recorder/internal/archive"
	"github.com/saviobatista/adsb-area-recorder/internal/testutils"
	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

type fakeSource struct {
	durable string
	handler func(*types.Batch)
	err     error
	ready   chan struct{}
}

func (f *fakeSource) SubscribeBatchesDurable(durable string, handler func(*types.Batch)) error {
	if f.err != nil {
		return f.err
	}
	f.durable = durable
	f.handler = handler
	close(f.ready)
	return nil
}

func TestEnvironmentVariables(t *testing.T) {
	tests := []struct {
		name              string
		outputDir         string
		natsURL           string
		expectedOutputDir string
		expectedNATSURL   string
	}{
		{
			name:              "default values",
			expectedOutputDir: "./archive",
			expectedNATSURL:   "nats://localhost:4222",
		},
		{
			name:              "custom values",
			outputDir:         "/tmp/custom-archive",
			natsURL:           "nats://custom:4222",
			expectedOutputDir: "/tmp/custom-archive",
			expectedNATSURL:   "nats://custom:4222",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ARCHIVE_DIR", tt.outputDir)
			t.Setenv("NATS_URL", tt.natsURL)

			outputDir, natsURL := parseEnvironment()
			if outputDir != tt.expectedOutputDir {
				t.Errorf("Expected output dir %q, got %q", tt.expectedOutputDir, outputDir)
			}
			if natsURL != tt.expectedNATSURL {
				t.Errorf("Expected NATS URL %q, got %q", tt.expectedNATSURL, natsURL)
			}
		})
	}
}

func TestRunArchiver(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{ready: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- runArchiver(ctx, src, archive.New(dir)) }()

	select {
	case <-src.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("archiver did not subscribe")
	}
	if src.durable != DurableName {
		t.Errorf("Expected durable %s, got %s", DurableName, src.durable)
	}

	src.handler(&types.Batch{
		CycleID:      "cycle-42",
		Observations: []types.Observation{testutils.MockObservation("N123", 40, -105)},
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("runArchiver() returned error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, archive.FileName(time.Now())))
	if err != nil {
		t.Fatalf("Failed to read archive: %v", err)
	}
	if !strings.Contains(string(data), "cycle-42") {
		t.Errorf("Expected archived batch, got %s", data)
	}
}

func TestRunArchiver_SubscribeFails(t *testing.T) {
	src := &fakeSource{err: errors.New("no responders"), ready: make(chan struct{})}
	err := runArchiver(context.Background(), src, archive.New(t.TempDir()))
	if err == nil || !strings.Contains(err.Error(), "failed to subscribe") {
		t.Errorf("Expected subscribe failure, got %v", err)
	}
}
