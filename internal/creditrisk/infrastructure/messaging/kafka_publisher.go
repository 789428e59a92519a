package messaging

import (
	"context"

	"github.com/wyfcoding/creditrisk/internal/creditrisk/domain"
	"github.com/wyfcoding/creditrisk/pkg/metrics"
)

// Sender 消息发送方，由 mq.KafkaProducer 实现
type Sender interface {
	SendMessage(ctx context.Context, topic, key string, value any) error
}

// KafkaEventPublisher 直接投递到 Kafka 的事件发布者
type KafkaEventPublisher struct {
	sender  Sender
	topic   string
	metrics *metrics.Metrics
}

// NewKafkaEventPublisher 创建 Kafka 事件发布者
func NewKafkaEventPublisher(sender Sender, topic string, m *metrics.Metrics) *KafkaEventPublisher {
	return &KafkaEventPublisher{sender: sender, topic: topic, metrics: m}
}

var _ domain.EventPublisher = (*KafkaEventPublisher)(nil)

// PublishSimulationCompleted 以主体 ID 为分区键
func (p *KafkaEventPublisher) PublishSimulationCompleted(ctx context.Context, event domain.SimulationCompletedEvent) error {
	key := event.EntityID
	if key == "" {
		key = event.RunID
	}
	return p.send(ctx, key, simulationEnvelope(event))
}

// PublishPortfolioSimulationCompleted 以运行 ID 为分区键
func (p *KafkaEventPublisher) PublishPortfolioSimulationCompleted(ctx context.Context, event domain.PortfolioSimulationCompletedEvent) error {
	return p.send(ctx, event.RunID, portfolioEnvelope(event))
}

func (p *KafkaEventPublisher) send(ctx context.Context, key string, env Envelope) error {
	err := p.sender.SendMessage(ctx, p.topic, key, env)
	if p.metrics != nil {
		p.metrics.RecordEvent(p.topic, err)
	}
	return err
}
