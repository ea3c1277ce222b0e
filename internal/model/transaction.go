package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易类型常量
// ============================================================================

type TransactionType string

const (
	TransactionTypeDeposit          TransactionType = "deposit"
	TransactionTypeWithdrawal       TransactionType = "withdrawal"
	TransactionTypeEventCreationFee TransactionType = "event_creation_fee"
	TransactionTypeEventJoinFee     TransactionType = "event_join_fee"
	TransactionTypeGroupCreationFee TransactionType = "group_creation_fee"
	TransactionTypeGroupJoinFee     TransactionType = "group_join_fee"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal,
		TransactionTypeEventCreationFee, TransactionTypeEventJoinFee,
		TransactionTypeGroupCreationFee, TransactionTypeGroupJoinFee:
		return true
	}
	return false
}

// IsCredit 只有充值是入账，其余类型都是出账
func (t TransactionType) IsCredit() bool {
	return t == TransactionTypeDeposit
}

const TransactionStatusCompleted = "completed"

// CoinTransaction 账户流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除
// 2. 同一用户所有 completed 流水金额之和 == 当前余额
// 3. 记录交易前后余额，便于对账
type CoinTransaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"-"`
	TransactionNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"id"`
	UserID        string          `gorm:"type:varchar(36);index;not null" json:"user_id"`
	Type          TransactionType `gorm:"type:varchar(32);not null" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"` // 正数入账，负数出账
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	Description   string          `gorm:"type:varchar(256)" json:"description"`
	Status        string          `gorm:"type:varchar(20);not null" json:"status"`
	Details       string          `gorm:"type:text" json:"details,omitempty"` // JSON
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"timestamp"`
}

func (CoinTransaction) TableName() string {
	return "coin_transaction"
}
