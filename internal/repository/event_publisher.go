package repository

import (
	"context"

	"TickPilot/internal/domain/models"
	domrepo "TickPilot/internal/domain/repository"
	pkgkafka "TickPilot/pkg/kafka"
)

// KafkaEventPublisher writes trade events as JSON keyed by account id, so one
// account's events stay ordered within a partition.
type KafkaEventPublisher struct {
	p *pkgkafka.Producer
}

func NewKafkaEventPublisher(p *pkgkafka.Producer) *KafkaEventPublisher {
	return &KafkaEventPublisher{p: p}
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)

func (k *KafkaEventPublisher) Publish(ctx context.Context, e models.TradeEvent) error {
	return k.p.Publish(ctx, []byte(e.AccountID), e)
}

func (k *KafkaEventPublisher) Close() error { return k.p.Close() }

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, models.TradeEvent) error { return nil }
func (NoopPublisher) Close() error                                     { return nil }
