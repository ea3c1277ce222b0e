package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"renaissance/internal/model"
	"renaissance/internal/repository"
	"renaissance/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 乐观锁冲突时的最大尝试次数
const maxApplyAttempts = 3

// Locker 用户级互斥锁，跨进程串行化同一用户的余额变更
type Locker interface {
	Acquire(ctx context.Context, userID, token string) (release func(), err error)
}

type LedgerService struct {
	db              *gorm.DB
	locker          Locker
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
}

// NewLedgerService locker 为 nil 时只依赖数据库行锁和乐观锁
func NewLedgerService(db *gorm.DB, locker Locker) *LedgerService {
	return &LedgerService{
		db:              db,
		locker:          locker,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

// CoinUpdateRequest update_user_coins 的入参
type CoinUpdateRequest struct {
	UserID          string                `json:"user_uuid"`
	Amount          decimal.Decimal       `json:"amount"`
	TransactionType model.TransactionType `json:"transaction_type"`
	Description     string                `json:"transaction_description"`
	Details         json.RawMessage       `json:"details_json,omitempty"`
}

// CoinUpdateResult update_user_coins 的返回，失败时 Success=false 且 Error 为可读原因
type CoinUpdateResult struct {
	Success     bool                   `json:"success"`
	Transaction *model.CoinTransaction `json:"transaction,omitempty"`
	NewBalance  *decimal.Decimal       `json:"new_balance,omitempty"`
	Error       string                 `json:"error,omitempty"`

	err error
}

// Err 失败原因对应的错误值，便于调用方用 errors.Is 区分
func (r *CoinUpdateResult) Err() error {
	return r.err
}

type UserProfile struct {
	UserID string          `json:"user_id"`
	Coins  decimal.Decimal `json:"coins"`
}

// LedgerReport 单个用户的对账结果
type LedgerReport struct {
	UserID     string          `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	Sum        decimal.Decimal `json:"sum"`
	Consistent bool            `json:"consistent"`
}

func validateCoinUpdate(req *CoinUpdateRequest) error {
	if !req.TransactionType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTransactionType, req.TransactionType)
	}
	if req.Amount.IsZero() || !req.Amount.Equal(req.Amount.Truncate(2)) {
		return ErrInvalidAmount
	}
	if req.TransactionType.IsCredit() != req.Amount.IsPositive() {
		return ErrAmountSignMismatch
	}
	if string(req.Details) == "null" {
		req.Details = nil
	}
	if len(req.Details) > 0 && !json.Valid(req.Details) {
		return ErrInvalidDetails
	}
	return nil
}

// UpdateUserCoins 原子地调整余额并追加一条流水。
// 账本层面的失败（校验、余额不足、存储错误）都放在结果里返回，且不会产生任何修改；
// 只有 ctx 被取消时才返回 error。
func (s *LedgerService) UpdateUserCoins(ctx context.Context, req CoinUpdateRequest) (*CoinUpdateResult, error) {
	trans, newBalance, err := s.ApplyCoinUpdate(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return &CoinUpdateResult{Success: false, Error: err.Error(), err: err}, nil
	}
	return &CoinUpdateResult{
		Success:     true,
		Transaction: trans,
		NewBalance:  &newBalance,
	}, nil
}

// ApplyCoinUpdate 是 UpdateUserCoins 的 Go 风格版本，失败以 error 返回
func (s *LedgerService) ApplyCoinUpdate(ctx context.Context, req CoinUpdateRequest) (*model.CoinTransaction, decimal.Decimal, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	req.UserID = userID
	if err := validateCoinUpdate(&req); err != nil {
		return nil, decimal.Zero, err
	}

	transactionNo := idgen.GenerateTransactionNo()

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, userID, transactionNo)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("%w: %v", ErrLedgerBusy, err)
		}
		defer release()
	}

	var (
		trans      *model.CoinTransaction
		newBalance decimal.Decimal
	)
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		trans, newBalance, err = s.applyOnce(ctx, transactionNo, req)
		if !errors.Is(err, repository.ErrOptimisticLock) {
			break
		}
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"attempt": attempt,
		}).Warn("余额更新乐观锁冲突，重试")
	}

	log := logrus.WithFields(logrus.Fields{
		"user_id":        userID,
		"type":           req.TransactionType,
		"amount":         req.Amount.StringFixed(2),
		"transaction_no": transactionNo,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrBalanceNotEnough):
			err = ErrInsufficientFunds
		case errors.Is(err, repository.ErrOptimisticLock):
			err = ErrLedgerBusy
		case ctx.Err() != nil:
			err = ctx.Err()
		default:
			err = fmt.Errorf("账本存储失败: %w", err)
		}
		log.WithError(err).Warn("余额变更失败")
		return nil, decimal.Zero, err
	}

	log.WithField("new_balance", newBalance.StringFixed(2)).Info("余额变更成功")
	return trans, newBalance, nil
}

func (s *LedgerService) applyOnce(ctx context.Context, transactionNo string, req CoinUpdateRequest) (*model.CoinTransaction, decimal.Decimal, error) {
	var (
		trans      *model.CoinTransaction
		newBalance decimal.Decimal
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.accountRepo.GetOrCreate(ctx, tx, req.UserID); err != nil {
			return err
		}
		account, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		newBalance, err = s.accountRepo.ApplyDelta(ctx, tx, account, req.Amount)
		if err != nil {
			return err
		}

		trans = &model.CoinTransaction{
			TransactionNo: transactionNo,
			UserID:        req.UserID,
			Type:          req.TransactionType,
			Amount:        req.Amount,
			BalanceBefore: account.Balance,
			BalanceAfter:  newBalance,
			Description:   req.Description,
			Status:        model.TransactionStatusCompleted,
			Details:       string(req.Details),
			CreatedAt:     time.Now(),
		}
		return s.transactionRepo.Create(ctx, tx, trans)
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	return trans, newBalance, nil
}

// GetUserProfile get_user_profile，首次访问会创建零余额账户
func (s *LedgerService) GetUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	account, err := s.accountRepo.GetOrCreate(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("获取账户信息失败: %w", err)
	}
	return &UserProfile{UserID: account.UserID, Coins: account.Balance}, nil
}

// GetUserTransactions get_user_transactions，按时间倒序
func (s *LedgerService) GetUserTransactions(ctx context.Context, userID string, limit int) ([]*model.CoinTransaction, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	transactions, err := s.transactionRepo.ListByUserID(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}
	return transactions, nil
}

// GetTransaction 按流水号查询单条流水
func (s *LedgerService) GetTransaction(ctx context.Context, transactionNo string) (*model.CoinTransaction, error) {
	trans, err := s.transactionRepo.GetByTransactionNo(ctx, transactionNo)
	if err != nil {
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}
	if trans == nil {
		return nil, ErrTransactionNotFound
	}
	return trans, nil
}

// VerifyLedger 校验余额是否等于已完成流水之和
func (s *LedgerService) VerifyLedger(ctx context.Context, userID string) (*LedgerReport, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	balance, sum := decimal.Zero, decimal.Zero
	// 余额和流水在同一个事务里读取，避免并发写入造成误报
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUserID(ctx, tx, userID)
		if err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
			return fmt.Errorf("查询账户失败: %w", err)
		}
		if account != nil {
			balance = account.Balance
		}

		sum, err = s.transactionRepo.SumCompleted(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("汇总流水失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &LedgerReport{
		UserID:     userID,
		Balance:    balance,
		Sum:        sum,
		Consistent: balance.Equal(sum),
	}, nil
}
