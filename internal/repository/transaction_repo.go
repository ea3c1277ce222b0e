package repository

import (
	"context"

	"renaissance/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionRepository 流水只追加，这里不提供修改和删除
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.CoinTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.CoinTransaction, error) {
	var trans model.CoinTransaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// ListByUserID 按时间倒序返回用户流水，limit <= 0 表示不限制
func (r *TransactionRepository) ListByUserID(ctx context.Context, userID string, limit int) ([]*model.CoinTransaction, error) {
	var transactions []*model.CoinTransaction
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&transactions).Error
	return transactions, err
}

// SumCompleted 计算用户所有已完成流水的金额之和
func (r *TransactionRepository) SumCompleted(ctx context.Context, tx *gorm.DB, userID string) (decimal.Decimal, error) {
	if tx == nil {
		tx = r.db
	}
	var sum decimal.NullDecimal
	err := tx.WithContext(ctx).
		Model(&model.CoinTransaction{}).
		Select("SUM(amount)").
		Where("user_id = ? AND status = ?", userID, model.TransactionStatusCompleted).
		Row().
		Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	// 部分数据库对 decimal 列求和会退化成浮点，按两位小数规整
	return sum.Decimal.Round(2), nil
}
