// Package fee 按用户活跃分类计算活动/群组费用折扣。
package fee

import (
	"renaissance/internal/model"

	"github.com/shopspring/decimal"
)

// 金额统一保留两位小数
const Precision = 2

var discounts = map[model.UserCategory]decimal.Decimal{
	model.UserCategoryActive:      decimal.RequireFromString("0.2"),
	model.UserCategoryHibernating: decimal.RequireFromString("0.1"),
}

// Discount 返回分类对应的折扣比例，未知分类没有折扣
func Discount(category model.UserCategory) decimal.Decimal {
	if d, ok := discounts[category]; ok {
		return d
	}
	return decimal.Zero
}

// CalculateFee 计算折后费用：base * (1 - discount)。
// 结果向零截断到两位小数，保证折后费用不会超过原价。
func CalculateFee(base decimal.Decimal, category model.UserCategory) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	return base.Mul(decimal.NewFromInt(1).Sub(Discount(category))).Truncate(Precision)
}

// Quote 一次报价的明细
type Quote struct {
	BaseAmount  decimal.Decimal    `json:"base_amount"`
	Category    model.UserCategory `json:"category"`
	Discount    decimal.Decimal    `json:"discount"`
	FinalAmount decimal.Decimal    `json:"final_amount"`
}

func NewQuote(base decimal.Decimal, category model.UserCategory) Quote {
	return Quote{
		BaseAmount:  base,
		Category:    category,
		Discount:    Discount(category),
		FinalAmount: CalculateFee(base, category),
	}
}
