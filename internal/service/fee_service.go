package service

import (
	"context"

	"renaissance/internal/fee"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// FeeService calculate_event_fee：按用户当前分类报价
type FeeService struct {
	stats *StatsService
}

func NewFeeService(stats *StatsService) *FeeService {
	return &FeeService{stats: stats}
}

// CalculateEventFee 查询分类失败时按原价报价（Fallback=true）
func (s *FeeService) CalculateEventFee(ctx context.Context, userID string, base decimal.Decimal) (*FeeQuote, error) {
	if _, err := normalizeUserID(userID); err != nil {
		return nil, err
	}
	if base.IsNegative() {
		return nil, ErrInvalidAmount
	}

	category, err := s.stats.GetUserCategory(ctx, userID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("查询用户分类失败，按原价报价")
		return &FeeQuote{Quote: fee.NewQuote(base, ""), Fallback: true}, nil
	}
	return &FeeQuote{Quote: fee.NewQuote(base, category)}, nil
}

type FeeQuote struct {
	fee.Quote
	Fallback bool `json:"fallback"`
}
