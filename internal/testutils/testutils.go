package testutils

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/saviobatista/adsb-area-recorder/internal/types"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// MockObservation creates a positioned observation for testing
func MockObservation(flight string, lat, lon float64) types.Observation {
	return types.Observation{
		types.FieldFlight:  flight,
		types.FieldLat:     lat,
		types.FieldLon:     lon,
		types.FieldAltBaro: int64(35000),
		types.FieldTime:    float64(time.Now().Unix()),
	}
}

// MockAPIResponse renders records inside the envelope the point endpoint returns
func MockAPIResponse(records ...map[string]any) []byte {
	if records == nil {
		records = []map[string]any{}
	}
	body, err := json.Marshal(map[string]any{
		"ac":    records,
		"msg":   "No error",
		"now":   time.Now().UnixMilli(),
		"total": len(records),
		"ctime": time.Now().UnixMilli(),
		"ptime": 0,
	})
	if err != nil {
		panic(fmt.Sprintf("marshal mock response: %v", err))
	}
	return body
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// SkipIfShort skips integration tests under -short
func SkipIfShort(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// StartPostgres starts a disposable PostgreSQL container and returns its
// connection string. The container is terminated when the test ends.
func StartPostgres(t testing.TB) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:14-alpine",
		postgres.WithDatabase("adsb"),
		postgres.WithUsername("adsb"),
		postgres.WithPassword("adsb"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get PostgreSQL connection string: %v", err)
	}
	return connStr
}
