package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"renaissance/internal/model"
	"renaissance/internal/repository"

	"gorm.io/gorm"
)

// OutboxNotifier 把通知写入发件箱，由 job.OutboxSender 异步投递到 Kafka
type OutboxNotifier struct {
	outboxRepo *repository.OutboxRepository
	topic      string
}

func NewOutboxNotifier(db *gorm.DB, topic string) *OutboxNotifier {
	return &OutboxNotifier{
		outboxRepo: repository.NewOutboxRepository(db),
		topic:      topic,
	}
}

func (o *OutboxNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("序列化通知失败: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: n.UserID,
		Topic:      o.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := o.outboxRepo.Create(ctx, nil, msg); err != nil {
		return fmt.Errorf("写入通知发件箱失败: %w", err)
	}
	return nil
}
