package nats

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/saviobatista/geodata-pusher/internal/types"
)

const (
	// StreamBatchEvents is the JetStream stream holding batch upload events
	StreamBatchEvents = "PUSHER_BATCHES"
	// SubjectBatchEvents prefixes every batch event subject; the run id follows
	SubjectBatchEvents = "pusher.batches"
)

// BatchSubject returns the subject events of one run are published on
func BatchSubject(runID string) string {
	return SubjectBatchEvents + "." + runID
}

// Client represents a NATS client
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New creates a new NATS client and makes sure the batch event stream exists
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url, nats.Name("geodata-pusher"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:       StreamBatchEvents,
		Subjects:   []string{SubjectBatchEvents + ".>"},
		Storage:    nats.FileStorage,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{
		conn: nc,
		js:   js,
	}, nil
}

// PublishBatchEvent publishes a batch event. The message id makes a
// republished event for the same run, blob and batch a duplicate.
func (c *Client) PublishBatchEvent(event *types.BatchEvent) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	if event.RunID == "" {
		return fmt.Errorf("event has no run id")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := c.js.Publish(BatchSubject(event.RunID), data, nats.MsgId(eventMsgID(event))); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// eventMsgID keys the JetStream duplicate window. A completion event shares
// its batch number with the last upload, so it carries its status too.
func eventMsgID(event *types.BatchEvent) string {
	id := fmt.Sprintf("%s:%s:%d", event.RunID, event.Blob, event.Batch)
	if event.Completed() {
		id += ":" + string(event.Status)
	}
	return id
}

// SubscribeBatchEvents subscribes to the events of one run, or of every run
// when runID is empty
func (c *Client) SubscribeBatchEvents(runID string, handler func(*types.BatchEvent)) (*nats.Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is nil")
	}

	subject := SubjectBatchEvents + ".>"
	if runID != "" {
		subject = BatchSubject(runID)
	}

	sub, err := c.js.Subscribe(subject, func(msg *nats.Msg) {
		var event types.BatchEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("Error unmarshaling batch event: %v", err)
			return
		}
		handler(&event)
	}, nats.DeliverNew())
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	return sub, nil
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
