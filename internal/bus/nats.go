package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	nats "github.com/nats-io/nats.go"
)

// HeaderPartitionKey carries the message key on NATS.
const HeaderPartitionKey = "Partition-Key"

const defaultPublishTimeout = 5 * time.Second

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	URL            string
	SubjectRoot    string
	PublishTimeout time.Duration
}

func (c NATSConfig) Validate() error {
	if c.URL == "" {
		return errors.New("NATS URL is required")
	}
	if c.SubjectRoot == "" {
		return errors.New("subject root cannot be empty")
	}
	return nil
}

// NATSPublisher publishes to "<root>.<topic>" and flushes so transport
// failures surface to the caller.
type NATSPublisher struct {
	cfg  NATSConfig
	conn *nats.Conn
}

func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	conn, err := nats.Connect(cfg.URL, nats.Name("exchange-core"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{cfg: cfg, conn: conn}, nil
}

// Subject maps a topic onto the publisher's subject space.
func (p *NATSPublisher) Subject(topic string) string {
	return p.cfg.SubjectRoot + "." + topic
}

func (p *NATSPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	msg := &nats.Msg{
		Subject: p.Subject(topic),
		Header:  nats.Header{},
		Data:    payload,
	}
	msg.Header.Set(HeaderPartitionKey, key)
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()
	if err := p.conn.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("flush %s: %w", msg.Subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	err := p.conn.FlushTimeout(p.cfg.PublishTimeout)
	p.conn.Close()
	return err
}
