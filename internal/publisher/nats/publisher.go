// Package nats hands refresh requests to NATS JetStream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

// Config locates the server and the stream that captures refresh subjects.
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	MaxAge        time.Duration
}

type streamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher publishes JSON payloads to JetStream subjects under SubjectPrefix.
type Publisher struct {
	js     streamPublisher
	conn   *nats.Conn
	prefix string
}

var _ race.Publisher = (*Publisher)(nil)

// Connect dials the server and ensures the stream exists.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("publisher.nats.url is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "BOATRACE"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "boatrace"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.SubjectPrefix + ".>"},
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    cfg.MaxAge,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}
	logger.Info("connected to nats", zap.String("url", cfg.URL), zap.String("stream", cfg.Stream))
	return &Publisher{js: js, conn: nc, prefix: cfg.SubjectPrefix}, nil
}

// Subject maps a topic name onto the stream's subject space.
func (p *Publisher) Subject(topic string) string {
	return p.prefix + "." + strings.TrimPrefix(topic, p.prefix+".")
}

// Publish marshals payload to JSON and returns "{stream}:{sequence}".
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	var opts []jetstream.PublishOpt
	if r, ok := payload.(race.RefreshRequest); ok && r.JobID != "" {
		// JetStream drops duplicates with the same message ID inside its window.
		opts = append(opts, jetstream.WithMsgID(r.JobID))
	}
	subject := p.Subject(topic)
	ack, err := p.js.Publish(ctx, subject, data, opts...)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", subject, err)
	}
	return ack.Stream + ":" + strconv.FormatUint(ack.Sequence, 10), nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
