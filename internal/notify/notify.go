// Package notify announces completed publish runs on NATS.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
)

// PublishedEvent is sent once a publish run has uploaded its assets.
type PublishedEvent struct {
	RunID       string    `json:"run_id"`
	Environment string    `json:"environment"`
	BuildNumber string    `json:"build_number,omitempty"`
	Tag         string    `json:"tag,omitempty"`
	Services    []string  `json:"services"`
	Assets      int       `json:"assets"`
	IndexURL    string    `json:"index_url,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Notifier delivers publish events. A nil *Client is a valid no-op Notifier.
type Notifier interface {
	Published(ctx context.Context, ev PublishedEvent) error
	Close() error
}

// conn is the subset of *nats.Conn the client uses.
type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Client publishes events to a NATS subject.
type Client struct {
	conn    conn
	subject string
	logger  *slog.Logger
}

// Connect dials cfg.NATSURL. It returns nil without error when no URL is
// configured.
func Connect(cfg config.EventsConfig, logger *slog.Logger) (*Client, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("assetbuilder"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, foundationerrors.NetworkError("failed to connect to NATS").
			WithCause(err).
			WithContext("url", cfg.NATSURL).
			Build()
	}
	return newClient(nc, cfg.Subject, logger), nil
}

func newClient(c conn, subject string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if subject == "" {
		subject = config.DefaultEventsSubject
	}
	return &Client{conn: c, subject: subject, logger: logger}
}

// Subject returns the subject events are published on.
func (c *Client) Subject() string {
	if c == nil {
		return ""
	}
	return c.subject
}

// Published publishes ev and waits for the server to acknowledge the flush.
func (c *Client) Published(ctx context.Context, ev PublishedEvent) error {
	if c == nil {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryInternal, "failed to marshal publish event").Build()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.conn.Publish(c.subject, data); err != nil {
		return foundationerrors.NetworkError("failed to publish event").
			WithCause(err).
			WithContext("subject", c.subject).
			Build()
	}
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return foundationerrors.NetworkError("failed to flush event").
			WithCause(err).
			WithContext("subject", c.subject).
			Build()
	}

	c.logger.Debug("Published publish event",
		logfields.RunID(ev.RunID),
		slog.String("subject", c.subject),
		slog.Int("assets", ev.Assets))
	return nil
}

// Close closes the NATS connection.
func (c *Client) Close() error {
	if c != nil && c.conn != nil {
		c.conn.Close()
	}
	return nil
}
