// Package events delivers domain events and audit records out of the
// engine: to Kafka in production, to memory in tests, to several sinks at
// once through Multi.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/warp/fees-engine/generic"
)

const (
	DefaultNotificationTopic = "fees.notifications"
	DefaultAuditTopic        = "fees.audit"
)

// Publisher writes events and audit records to Kafka. Messages are keyed
// by institution so one institution's stream stays ordered on a single
// partition.
type Publisher struct {
	writer            *kafka.Writer
	notificationTopic string
	auditTopic        string
}

type PublisherConfig struct {
	Brokers           []string
	NotificationTopic string
	AuditTopic        string
	WriteTimeout      time.Duration
}

func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.NotificationTopic == "" {
		cfg.NotificationTopic = DefaultNotificationTopic
	}
	if cfg.AuditTopic == "" {
		cfg.AuditTopic = DefaultAuditTopic
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			WriteTimeout:           cfg.WriteTimeout,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		notificationTopic: cfg.NotificationTopic,
		auditTopic:        cfg.AuditTopic,
	}
}

// Notify implements generic.Notifier.
func (p *Publisher) Notify(ctx context.Context, ev generic.Event) error {
	return p.publish(ctx, p.notificationTopic, ev.InstitutionID, string(ev.Type), ev)
}

// Record implements generic.AuditSink.
func (p *Publisher) Record(ctx context.Context, rec generic.AuditRecord) error {
	return p.publish(ctx, p.auditTopic, rec.InstitutionID, rec.Action, rec)
}

func (p *Publisher) publish(ctx context.Context, topic, key, kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(kind)},
		},
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
