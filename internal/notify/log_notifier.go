package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

type LogNotifier struct {
	logger logrus.FieldLogger
}

func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	entry := l.logger.WithFields(logrus.Fields{
		"user_id":   n.UserID,
		"operation": n.Operation,
		"level":     n.Level,
	})
	if n.Amount != nil {
		entry = entry.WithField("amount", n.Amount.StringFixed(2))
	}
	if n.Level == LevelFailure {
		entry.Warn(n.Title + ": " + n.Message)
		return nil
	}
	entry.Info(n.Title + ": " + n.Message)
	return nil
}
