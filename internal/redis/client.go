package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

const (
	// AircraftTTL bounds how long a sighting stays in the cache
	AircraftTTL = 1 * time.Hour
	// LastCycleKey holds the id of the most recent cached cycle
	LastCycleKey = "cycle:last"
)

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client caches the latest sighting of each aircraft
type Client struct {
	client RedisClientInterface
}

// New creates a new Redis client
func New(addr, password string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

func aircraftKey(identity string) string {
	return fmt.Sprintf("aircraft:%s", identity)
}

// StoreObservation caches one observation under its identity
func (c *Client) StoreObservation(ctx context.Context, obs types.Observation) error {
	identity := obs.Identity()
	if identity == "" {
		return errors.New("observation has no identity")
	}
	data, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("failed to marshal observation: %w", err)
	}
	return c.client.Set(ctx, aircraftKey(identity), data, AircraftTTL).Err()
}

// StoreBatch caches every observation of a stored batch and records the cycle
func (c *Client) StoreBatch(ctx context.Context, batch *types.Batch) error {
	var errs []error
	for _, obs := range batch.Observations {
		if err := c.StoreObservation(ctx, obs); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", obs.Identity(), err))
		}
	}
	if err := c.client.Set(ctx, LastCycleKey, batch.CycleID, 0).Err(); err != nil {
		errs = append(errs, fmt.Errorf("failed to record cycle: %w", err))
	}
	return errors.Join(errs...)
}

// GetObservation returns the latest cached sighting, or nil if none
func (c *Client) GetObservation(ctx context.Context, identity string) (types.Observation, error) {
	data, err := c.client.Get(ctx, aircraftKey(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get observation: %w", err)
	}

	var obs types.Observation
	if err := json.Unmarshal(data, &obs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal observation: %w", err)
	}
	return obs, nil
}

// DeleteObservation removes a cached sighting
func (c *Client) DeleteObservation(ctx context.Context, identity string) error {
	return c.client.Del(ctx, aircraftKey(identity)).Err()
}

// LastCycle returns the id of the most recent cached cycle
func (c *Client) LastCycle(ctx context.Context) (string, error) {
	id, err := c.client.Get(ctx, LastCycleKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get last cycle: %w", err)
	}
	return id, nil
}
