// Package notify publishes import lifecycle events for other processes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

type Kind string

const (
	KindStarted  Kind = "started"
	KindProgress Kind = "progress"
	KindDone     Kind = "done"
	KindFailed   Kind = "failed"
)

// Event is the JSON payload published for one import.
type Event struct {
	JobID      string    `json:"jobId"`
	Path       string    `json:"path"`
	Kind       Kind      `json:"kind"`
	Stage      string    `json:"stage,omitempty"`
	Percentage float64   `json:"percentage,omitempty"`
	SessionID  string    `json:"sessionId,omitempty"`
	Format     string    `json:"format,omitempty"`
	Messages   int       `json:"messages,omitempty"`
	Error      string    `json:"error,omitempty"`
	Code       string    `json:"code,omitempty"`
	Time       time.Time `json:"time"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

type Config struct {
	URL           string
	Subject       string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Subject:       "chimp.import",
		Name:          "chimp",
		MaxReconnects: 5,
		ReconnectWait: 2 * time.Second,
	}
}

// NATS publishes events to <Subject>.<kind>.
type NATS struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

func Connect(cfg Config, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("NATS error", "error", err)
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", cfg.URL, err)
	}
	logger.Debug("connected to NATS", "url", conn.ConnectedUrl(), "subject", cfg.Subject)
	return &NATS{conn: conn, subject: cfg.Subject, logger: logger}, nil
}

func (n *NATS) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	return n.conn.Publish(Subject(n.subject, ev.Kind), data)
}

// Close flushes pending publishes before closing the connection.
func (n *NATS) Close() error {
	if n.conn == nil || n.conn.IsClosed() {
		return nil
	}
	err := n.conn.Drain()
	if err != nil {
		n.conn.Close()
	}
	return err
}

func Subject(base string, kind Kind) string {
	return base + "." + string(kind)
}

func Encode(ev Event) ([]byte, error) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}
	return data, nil
}
