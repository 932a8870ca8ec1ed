package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

func TestRecordCycle(t *testing.T) {
	tests := []struct {
		name   string
		report types.CycleReport
		result string
	}{
		{
			name: "successful cycle",
			report: types.CycleReport{
				Circles: 3, Fetched: 10, Duplicates: 2, Anonymous: 1, Stored: 7,
				ColumnsAdded: 1, Duration: 2 * time.Second,
			},
			result: "ok",
		},
		{
			name: "failed cycle",
			report: types.CycleReport{
				Circles: 3, FailedCircles: 3, Err: errors.New("all circle fetches failed"),
			},
			result: "failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cycles := testutil.ToFloat64(CyclesTotal.WithLabelValues(tt.result))
			stored := testutil.ToFloat64(ObservationsTotal.WithLabelValues("stored"))
			failures := testutil.ToFloat64(CircleFetchFailures)
			columns := testutil.ToFloat64(ColumnsAdded)

			Reporter{}.RecordCycle(tt.report)

			if got := testutil.ToFloat64(CyclesTotal.WithLabelValues(tt.result)); got != cycles+1 {
				t.Errorf("Expected %s cycles %v, got %v", tt.result, cycles+1, got)
			}
			if got := testutil.ToFloat64(ObservationsTotal.WithLabelValues("stored")); got != stored+float64(tt.report.Stored) {
				t.Errorf("Expected stored %v, got %v", stored+float64(tt.report.Stored), got)
			}
			if got := testutil.ToFloat64(CircleFetchFailures); got != failures+float64(tt.report.FailedCircles) {
				t.Errorf("Expected fetch failures %v, got %v", failures+float64(tt.report.FailedCircles), got)
			}
			if got := testutil.ToFloat64(ColumnsAdded); got != columns+float64(tt.report.ColumnsAdded) {
				t.Errorf("Expected columns %v, got %v", columns+float64(tt.report.ColumnsAdded), got)
			}
			if testutil.ToFloat64(LastCycleTimestamp) == 0 {
				t.Error("Expected last cycle timestamp to be set")
			}
		})
	}
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr) }()

	RecordCycle(types.CycleReport{Stored: 1})

	var body string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		body = string(data)
		break
	}
	if !strings.Contains(body, "adsb_cycles_total") {
		t.Errorf("Expected cycle metrics in scrape, got %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not stop")
	}
}
