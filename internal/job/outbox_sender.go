package job

import (
	"context"
	"time"

	"renaissance/internal/model"
	"renaissance/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Publisher 消息投递端，生产环境为 mq.Producer
type Publisher interface {
	SendMessage(topic, key, value string) error
}

// OutboxSender 轮询发件箱，把钱包通知投递到 Kafka
type OutboxSender struct {
	outboxRepo     *repository.OutboxRepository
	publisher      Publisher
	maxRetry       int
	stopCh         chan struct{}
	interval       time.Duration
	reportInterval time.Duration
	batchSize      int
	log            *logrus.Entry
}

func NewOutboxSender(db *gorm.DB, publisher Publisher, maxRetry int) *OutboxSender {
	if maxRetry <= 0 {
		maxRetry = 1
	}
	return &OutboxSender{
		outboxRepo:     repository.NewOutboxRepository(db),
		publisher:      publisher,
		maxRetry:       maxRetry,
		stopCh:         make(chan struct{}),
		interval:       100 * time.Millisecond,
		reportInterval: time.Minute,
		batchSize:      100,
		log:            logrus.WithField("job", "OutboxSender"),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	reportTicker := time.NewTicker(s.reportInterval)
	defer reportTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.log.Info("任务停止")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		case <-reportTicker.C:
			s.ReportFailed(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPending 投递一批待发送消息，返回成功条数
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("查询消息失败")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	log := s.log.WithFields(logrus.Fields{
		"id":    msg.ID,
		"topic": msg.Topic,
		"key":   msg.MessageKey,
	})

	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			log.WithError(updateErr).Error("更新消息状态失败")
		} else {
			log.Debug("消息发送成功")
		}
		return true
	}

	log.WithError(err).Warn("消息发送失败")
	if recordErr := s.outboxRepo.RecordFailure(ctx, msg, err, s.maxRetry); recordErr != nil {
		log.WithError(recordErr).Error("记录发送失败次数失败")
		return false
	}
	if msg.RetryCount+1 >= s.maxRetry {
		log.WithField("retry_count", msg.RetryCount+1).Error("消息超过最大重试次数，标记为失败")
	}
	return false
}

// ReportFailed 汇报已放弃投递的消息，需要人工处理
func (s *OutboxSender) ReportFailed(ctx context.Context) []*model.OutboxMessage {
	messages, err := s.outboxRepo.GetFailedMessages(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("查询失败消息失败")
		return nil
	}
	if len(messages) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
	}
	s.log.WithFields(logrus.Fields{
		"count": len(messages),
		"ids":   ids,
	}).Warn("存在投递失败的通知消息")
	return messages
}
