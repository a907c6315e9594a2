package store

import (
	"context"
	"fmt"

	"event-attach/internal/config"

	"github.com/nats-io/nats.go"
)

// HeaderKey 는 NATS 메시지에서 첨부 key 를 담는 header 이름이다.
const HeaderKey = "Attachment-Key"

type natsPublisher interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSBackend 는 첨부를 NATS subject 로 publish 한다.
// body 는 gzip 그대로 싣고, key 는 header 로 전달한다.
type NATSBackend struct {
	subject string
	conn    natsPublisher
}

func NewNATSBackend(cfg config.Config) (*NATSBackend, error) {
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name(cfg.ServiceName+"-"+cfg.InstanceID),
		nats.Timeout(cfg.StoreTimeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("store: connect nats: %w", err)
	}
	return newNATSBackend(cfg.NATSSubject, nc), nil
}

func newNATSBackend(subject string, conn natsPublisher) *NATSBackend {
	return &NATSBackend{subject: subject, conn: conn}
}

func (b *NATSBackend) Name() string { return "nats" }

// Put 은 publish 후 flush 까지 기다린다.
// flush 가 성공해야 서버가 메시지를 받은 것으로 본다.
func (b *NATSBackend) Put(ctx context.Context, key string, body []byte) error {
	msg := nats.NewMsg(b.subject)
	msg.Header.Set(HeaderKey, key)
	msg.Header.Set("Content-Encoding", "gzip")
	msg.Data = body

	if err := b.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("store: nats publish %s: %w", key, err)
	}
	if err := b.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("store: nats flush %s: %w", key, err)
	}
	return nil
}

func (b *NATSBackend) Close() error {
	b.conn.Close()
	return nil
}
