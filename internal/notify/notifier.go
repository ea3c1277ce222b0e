// Package notify 把钱包操作结果扇出给用户可见的通知渠道。
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelFailure Level = "failure"
)

// Notification 一次钱包操作的结果提示
type Notification struct {
	UserID    string           `json:"user_id"`
	Level     Level            `json:"level"`
	Operation string           `json:"operation"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Fanout 依次投递给所有渠道，单个渠道失败不影响其他渠道
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range f {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
