package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nathanyu/subscriber-transfer/internal/domain"
	"github.com/nathanyu/subscriber-transfer/internal/engine"
	"github.com/nathanyu/subscriber-transfer/internal/telemetry"
)

// Client wraps a NATS connection for command publishing.
type Client struct {
	conn *nats.Conn
}

// NewClient connects to NATS with reconnect handling.
func NewClient(url string) (*Client, error) {
	opts := []nats.Option{
		nats.Name("subscriber-transfer"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{conn: conn}, nil
}

// Conn returns the underlying NATS connection.
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// SubmitCommand publishes a transfer command and waits for the
// engine's reply. A request that times out returns an error; the
// gateway surfaces that as a retryable failure, never as a rejection.
func (c *Client) SubmitCommand(cmd domain.TransferCommand, timeout time.Duration) (*engine.CommandReply, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	telemetry.NATSMessagesPublished.WithLabelValues(engine.CommandSubject).Inc()

	msg, err := c.conn.Request(engine.CommandSubject, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to submit command: %w", err)
	}

	var reply engine.CommandReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply: %w", err)
	}

	return &reply, nil
}

// Close drains and closes the NATS connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Drain()
		c.conn.Close()
	}
}
