package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/wyfcoding/creditrisk/internal/creditrisk/domain"
)

const (
	outboxPending = "pending"
	outboxSent    = "sent"
)

// OutboxMessage 待投递事件
type OutboxMessage struct {
	ID           string    `gorm:"type:varchar(36);primaryKey"`
	EventType    string    `gorm:"type:varchar(100);index"`
	PartitionKey string    `gorm:"type:varchar(64)"`
	Payload      string    `gorm:"type:text"`
	Status       string    `gorm:"type:varchar(20);index;default:'pending'"`
	Attempts     int       `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
}

// TableName 指定表名
func (OutboxMessage) TableName() string {
	return "creditrisk_outbox_messages"
}

// OutboxEventPublisher 实现 EventPublisher 接口，使用 Outbox 模式
type OutboxEventPublisher struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewOutboxEventPublisher 创建新的 OutboxEventPublisher 实例
func NewOutboxEventPublisher(db *gorm.DB, log *slog.Logger) *OutboxEventPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &OutboxEventPublisher{db: db, logger: log, now: time.Now}
}

var _ domain.EventPublisher = (*OutboxEventPublisher)(nil)

// AutoMigrate 创建 outbox 表
func (p *OutboxEventPublisher) AutoMigrate() error {
	return p.db.AutoMigrate(&OutboxMessage{})
}

// PublishSimulationCompleted 发布单主体模拟完成事件
func (p *OutboxEventPublisher) PublishSimulationCompleted(ctx context.Context, event domain.SimulationCompletedEvent) error {
	key := event.EntityID
	if key == "" {
		key = event.RunID
	}
	return p.store(ctx, key, simulationEnvelope(event))
}

// PublishPortfolioSimulationCompleted 发布组合模拟完成事件
func (p *OutboxEventPublisher) PublishPortfolioSimulationCompleted(ctx context.Context, event domain.PortfolioSimulationCompletedEvent) error {
	return p.store(ctx, event.RunID, portfolioEnvelope(event))
}

func (p *OutboxEventPublisher) store(ctx context.Context, key string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	now := p.now()
	message := OutboxMessage{
		ID:           env.EventID,
		EventType:    env.EventType,
		PartitionKey: key,
		Payload:      string(data),
		Status:       outboxPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return p.db.WithContext(ctx).Create(&message).Error
}

// ProcessOutboxMessages 按创建顺序投递一批待处理消息，返回成功条数。
// 单条失败不阻塞后续消息，下一轮重试
func (p *OutboxEventPublisher) ProcessOutboxMessages(ctx context.Context, sender Sender, topic string, batchSize int) (int, error) {
	var messages []OutboxMessage
	if err := p.db.WithContext(ctx).
		Where("status = ?", outboxPending).
		Order("created_at").
		Limit(batchSize).
		Find(&messages).Error; err != nil {
		return 0, err
	}

	sent := 0
	for _, message := range messages {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		sendErr := sender.SendMessage(ctx, topic, message.PartitionKey, json.RawMessage(message.Payload))
		updates := map[string]any{"attempts": message.Attempts + 1, "updated_at": p.now()}
		if sendErr == nil {
			updates["status"] = outboxSent
			sent++
		} else {
			p.logger.WarnContext(ctx, "outbox delivery failed", "message_id", message.ID, "attempts", message.Attempts+1, "error", sendErr)
		}
		if err := p.db.WithContext(ctx).Model(&OutboxMessage{}).Where("id = ?", message.ID).Updates(updates).Error; err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// Run 周期性投递 outbox 消息，直到 ctx 结束
func (p *OutboxEventPublisher) Run(ctx context.Context, sender Sender, topic string, interval time.Duration, batchSize int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := p.ProcessOutboxMessages(ctx, sender, topic, batchSize); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.ErrorContext(ctx, "outbox relay failed", "error", err)
			} else if n > 0 {
				p.logger.DebugContext(ctx, "outbox messages relayed", "count", n)
			}
		}
	}
}

// CleanupProcessedMessages 清理已处理的消息
func (p *OutboxEventPublisher) CleanupProcessedMessages(ctx context.Context, before time.Time) error {
	return p.db.WithContext(ctx).Where("status = ? AND updated_at < ?", outboxSent, before).Delete(&OutboxMessage{}).Error
}
