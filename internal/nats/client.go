package nats

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/saviobatista/adsb-area-recorder/internal/logging"
	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

const (
	SubjectObservations = "adsb.observations"
	StreamObservations  = "ADSB_OBSERVATIONS"
)

// JetStream is the subset of nats.JetStreamContext the client uses
type JetStream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
	Subscribe(subj string, cb nats.MsgHandler, opts ...nats.SubOpt) (*nats.Subscription, error)
}

// Client represents a NATS client
type Client struct {
	conn *nats.Conn
	js   JetStream
}

// New creates a new NATS client and ensures the observation stream exists
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("adsb-area-recorder"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:       StreamObservations,
		Subjects:   []string{SubjectObservations},
		Storage:    nats.FileStorage,
		MaxAge:     24 * time.Hour,
		Duplicates: 5 * time.Minute,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{
		conn: nc,
		js:   js,
	}, nil
}

// NewWithJetStream creates a client over an existing JetStream context (useful for testing)
func NewWithJetStream(js JetStream) *Client {
	return &Client{js: js}
}

// PublishBatch publishes a stored batch. The cycle id is the message id, so a
// republished cycle is dropped by the stream.
func (c *Client) PublishBatch(batch *types.Batch) error {
	if batch == nil {
		return errors.New("nil batch")
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	msg := nats.NewMsg(SubjectObservations)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, batch.CycleID)

	if _, err := c.js.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish batch: %w", err)
	}
	return nil
}

// DecodeBatch decodes a published batch. Numbers decode as float64.
func DecodeBatch(data []byte) (*types.Batch, error) {
	var batch types.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// SubscribeBatches subscribes to published batches
func (c *Client) SubscribeBatches(handler func(*types.Batch)) error {
	return c.subscribeBatches(handler)
}

// SubscribeBatchesDurable subscribes through a named durable consumer, so a
// restarted subscriber resumes where it stopped
func (c *Client) SubscribeBatchesDurable(durable string, handler func(*types.Batch)) error {
	if durable == "" {
		return errors.New("empty durable name")
	}
	return c.subscribeBatches(handler, nats.Durable(durable))
}

func (c *Client) subscribeBatches(handler func(*types.Batch), opts ...nats.SubOpt) error {
	if handler == nil {
		return errors.New("nil handler")
	}
	_, err := c.js.Subscribe(SubjectObservations, func(msg *nats.Msg) {
		batch, err := DecodeBatch(msg.Data)
		if err != nil {
			logging.Error().Err(err).Msg("error unmarshaling batch")
			return
		}
		handler(batch)
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
