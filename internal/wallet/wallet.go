// Package wallet 会话级钱包门面：缓存余额，在本地校验后调用账本 RPC，
// 每次变更成功后重新拉取余额和流水。
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"renaissance/internal/fee"
	"renaissance/internal/model"
	"renaissance/internal/notify"
	"renaissance/internal/service"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Ledger 账本 RPC 及读接口
type Ledger interface {
	UpdateUserCoins(ctx context.Context, req service.CoinUpdateRequest) (*service.CoinUpdateResult, error)
	GetUserProfile(ctx context.Context, userID string) (*service.UserProfile, error)
	GetUserTransactions(ctx context.Context, userID string, limit int) ([]*model.CoinTransaction, error)
}

// Stats 用户统计协作方，分类用于折扣查询
type Stats interface {
	GetUserCategory(ctx context.Context, userID string) (model.UserCategory, error)
	IncrementStat(ctx context.Context, userID string, stat model.Stat) error
	RecalculateUserCategory(ctx context.Context, userID string) (model.UserCategory, error)
}

type Options struct {
	// StrictCategory 为 true 时分类查询失败直接拒绝扣费，否则按原价收取
	StrictCategory bool
	HistoryLimit   int
	Logger         logrus.FieldLogger
}

// Receipt 一次成功操作的结果
type Receipt struct {
	Type        model.TransactionType  `json:"type"`
	Amount      decimal.Decimal        `json:"amount"`
	Charged     bool                   `json:"charged"`
	Quote       *fee.Quote             `json:"quote,omitempty"`
	Transaction *model.CoinTransaction `json:"transaction,omitempty"`
	NewBalance  decimal.Decimal        `json:"new_balance"`
}

// Wallet 每个登录会话一个实例，可并发调用。
// 余额缓存只在 Refresh 中修改；并发的变更不排队，正确性由服务端原子性保证。
type Wallet struct {
	userID   string
	ledger   Ledger
	stats    Stats
	notifier notify.Notifier
	opts     Options
	log      logrus.FieldLogger

	refreshSeq atomic.Uint64

	mu           sync.RWMutex
	appliedSeq   uint64
	balance      decimal.Decimal
	transactions []*model.CoinTransaction
	refreshedAt  time.Time
}

func New(userID string, ledger Ledger, stats Stats, notifier notify.Notifier, opts Options) *Wallet {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if notifier == nil {
		notifier = notify.Fanout{}
	}
	return &Wallet{
		userID:   userID,
		ledger:   ledger,
		stats:    stats,
		notifier: notifier,
		opts:     opts,
		log:      logger.WithField("user_id", userID),
	}
}

// Open 创建钱包并拉取一次余额
func Open(ctx context.Context, userID string, ledger Ledger, stats Stats, notifier notify.Notifier, opts Options) (*Wallet, error) {
	w := New(userID, ledger, stats, notifier, opts)
	if err := w.Refresh(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Wallet) UserID() string {
	return w.userID
}

// Balance 最近一次刷新得到的余额
func (w *Wallet) Balance() decimal.Decimal {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.balance
}

func (w *Wallet) Transactions() []*model.CoinTransaction {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*model.CoinTransaction, len(w.transactions))
	copy(out, w.transactions)
	return out
}

func (w *Wallet) RefreshedAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.refreshedAt
}

// Refresh 从账本重新拉取余额和流水（整体替换，不做增量）。
// 并发刷新时以后发起的为准。
func (w *Wallet) Refresh(ctx context.Context) error {
	seq := w.refreshSeq.Add(1)

	profile, err := w.ledger.GetUserProfile(ctx, w.userID)
	if err != nil {
		return fmt.Errorf("%w: 查询余额: %v", ErrTransport, err)
	}
	transactions, err := w.ledger.GetUserTransactions(ctx, w.userID, w.opts.HistoryLimit)
	if err != nil {
		return fmt.Errorf("%w: 查询流水: %v", ErrTransport, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if seq < w.appliedSeq {
		return nil
	}
	w.appliedSeq = seq
	w.balance = profile.Coins
	w.transactions = transactions
	w.refreshedAt = time.Now()
	return nil
}

// ============================================================
// 第一阶段：本地校验（不访问账本）
// ============================================================

func (w *Wallet) PrepareDeposit(amount decimal.Decimal) (*Charge, error) {
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}
	return &Charge{
		Type:        model.TransactionTypeDeposit,
		Amount:      amount,
		description: fmt.Sprintf("充值 %s", FormatCoins(amount)),
		phase:       PhaseValidating,
	}, nil
}

func (w *Wallet) PrepareWithdrawal(amount decimal.Decimal) (*Charge, error) {
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}
	if amount.GreaterThan(w.Balance()) {
		return nil, ErrInsufficientFunds
	}
	return &Charge{
		Type:        model.TransactionTypeWithdrawal,
		Amount:      amount.Neg(),
		description: fmt.Sprintf("提现 %s", FormatCoins(amount)),
		phase:       PhaseValidating,
	}, nil
}

// PrepareFee 计算折后费用。分类每次都实时查询，不做缓存。
// base <= 0 或折后为 0 时返回免费的 Charge。
func (w *Wallet) PrepareFee(ctx context.Context, feeType model.TransactionType, targetID string, base decimal.Decimal) (*Charge, error) {
	spec, ok := feeSpecs[feeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeeType, feeType)
	}

	charge := &Charge{
		Type:     feeType,
		TargetID: targetID,
		phase:    PhaseValidating,
	}
	if !base.IsPositive() {
		charge.free = true
		charge.Amount = decimal.Zero
		return charge, nil
	}
	if !base.Equal(base.Truncate(fee.Precision)) {
		return nil, ErrInvalidAmount
	}

	category, err := w.stats.GetUserCategory(ctx, w.userID)
	if err != nil {
		if w.opts.StrictCategory {
			return nil, fmt.Errorf("%w: %v", ErrCategoryUnknown, err)
		}
		w.log.WithError(err).Warn("查询用户分类失败，按原价收费")
		category = ""
	}

	quote := fee.NewQuote(base, category)
	charge.Quote = &quote
	if quote.FinalAmount.IsZero() {
		charge.free = true
		charge.Amount = decimal.Zero
		return charge, nil
	}
	if quote.FinalAmount.GreaterThan(w.Balance()) {
		return nil, ErrInsufficientFunds
	}

	details, err := feeDetails(spec, targetID, quote)
	if err != nil {
		return nil, err
	}
	charge.Amount = quote.FinalAmount.Neg()
	charge.details = details
	charge.description = fmt.Sprintf("%s %s 费用 %s", spec.label, targetID, FormatCoins(quote.FinalAmount))
	return charge, nil
}

// ============================================================
// 第二阶段：提交到账本（权威结果）
// ============================================================

// Commit 提交一笔已校验的变更。成功后重新拉取余额；费用类操作还会更新用户统计。
func (w *Wallet) Commit(ctx context.Context, c *Charge) (*Receipt, error) {
	if c == nil {
		return nil, ErrChargeNotPending
	}

	if c.free {
		if !c.advance(PhaseValidating, PhaseSucceeded) {
			return nil, ErrChargeNotPending
		}
		w.recordActivity(ctx, c)
		return &Receipt{
			Type:       c.Type,
			Amount:     decimal.Zero,
			Charged:    false,
			Quote:      c.Quote,
			NewBalance: w.Balance(),
		}, nil
	}

	if !c.advance(PhaseValidating, PhaseCallingRPC) {
		return nil, ErrChargeNotPending
	}
	res, err := w.ledger.UpdateUserCoins(ctx, service.CoinUpdateRequest{
		UserID:          w.userID,
		Amount:          c.Amount,
		TransactionType: c.Type,
		Description:     c.description,
		Details:         c.details,
	})
	if err != nil {
		c.setPhase(PhaseFailed)
		w.log.WithError(err).WithField("type", c.Type).Error("调用账本失败")
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if res == nil || !res.Success {
		c.setPhase(PhaseFailed)
		ledgerErr := &LedgerError{Reason: ErrTransport.Error()}
		if res != nil {
			if res.Error != "" {
				ledgerErr.Reason = res.Error
			}
			ledgerErr.Err = res.Err()
		}
		return nil, ledgerErr
	}
	c.setPhase(PhaseSucceeded)

	// 钱已经动了，刷新失败只记录日志，下次刷新会收敛到服务端数据
	if err := w.Refresh(ctx); err != nil {
		w.log.WithError(err).Warn("刷新余额失败")
	}
	w.recordActivity(ctx, c)

	receipt := &Receipt{
		Type:        c.Type,
		Amount:      c.Amount,
		Charged:     true,
		Quote:       c.Quote,
		Transaction: res.Transaction,
		NewBalance:  w.Balance(),
	}
	if res.NewBalance != nil {
		receipt.NewBalance = *res.NewBalance
	}
	return receipt, nil
}

// recordActivity 费用类操作成功后累加统计并重算分类，失败不影响扣费结果
func (w *Wallet) recordActivity(ctx context.Context, c *Charge) {
	spec, ok := feeSpecs[c.Type]
	if !ok {
		return
	}
	log := w.log.WithFields(logrus.Fields{"type": c.Type, "target_id": c.TargetID})
	if err := w.stats.IncrementStat(ctx, w.userID, spec.stat); err != nil {
		log.WithError(err).Warn("更新用户统计失败")
		return
	}
	if _, err := w.stats.RecalculateUserCategory(ctx, w.userID); err != nil {
		log.WithError(err).Warn("重算用户分类失败")
	}
}

// ============================================================
// 对外操作：校验 + 提交 + 通知
// ============================================================

func (w *Wallet) Deposit(ctx context.Context, amount decimal.Decimal) (*Receipt, error) {
	charge, err := w.PrepareDeposit(amount)
	return w.run(ctx, model.TransactionTypeDeposit, amount, charge, err)
}

func (w *Wallet) Withdraw(ctx context.Context, amount decimal.Decimal) (*Receipt, error) {
	charge, err := w.PrepareWithdrawal(amount)
	return w.run(ctx, model.TransactionTypeWithdrawal, amount, charge, err)
}

// ChargeFee 按用户分类折扣收取活动/群组费用
func (w *Wallet) ChargeFee(ctx context.Context, feeType model.TransactionType, targetID string, base decimal.Decimal) (*Receipt, error) {
	charge, err := w.PrepareFee(ctx, feeType, targetID, base)
	return w.run(ctx, feeType, base, charge, err)
}

func (w *Wallet) ChargeEventCreationFee(ctx context.Context, eventID string, base decimal.Decimal) (*Receipt, error) {
	return w.ChargeFee(ctx, model.TransactionTypeEventCreationFee, eventID, base)
}

func (w *Wallet) ChargeEventJoinFee(ctx context.Context, eventID string, base decimal.Decimal) (*Receipt, error) {
	return w.ChargeFee(ctx, model.TransactionTypeEventJoinFee, eventID, base)
}

func (w *Wallet) ChargeGroupCreationFee(ctx context.Context, groupID string, base decimal.Decimal) (*Receipt, error) {
	return w.ChargeFee(ctx, model.TransactionTypeGroupCreationFee, groupID, base)
}

func (w *Wallet) ChargeGroupJoinFee(ctx context.Context, groupID string, base decimal.Decimal) (*Receipt, error) {
	return w.ChargeFee(ctx, model.TransactionTypeGroupJoinFee, groupID, base)
}

func (w *Wallet) run(ctx context.Context, t model.TransactionType, requested decimal.Decimal, charge *Charge, prepareErr error) (*Receipt, error) {
	if prepareErr != nil {
		w.emit(ctx, failureNotification(w.userID, t, requested, prepareErr))
		return nil, prepareErr
	}

	receipt, err := w.Commit(ctx, charge)
	if err != nil {
		w.emit(ctx, failureNotification(w.userID, t, requested, err))
		return nil, err
	}
	w.emit(ctx, successNotification(w.userID, receipt))
	return receipt, nil
}

func (w *Wallet) emit(ctx context.Context, n notify.Notification) {
	if err := w.notifier.Notify(ctx, n); err != nil {
		w.log.WithError(err).Warn("发送通知失败")
	}
}

func successNotification(userID string, r *Receipt) notify.Notification {
	amount := r.Amount.Abs()
	var message string
	switch {
	case !r.Charged:
		message = fmt.Sprintf("本次免费，未扣费，当前余额 %s", FormatCoins(r.NewBalance))
	case r.Type == model.TransactionTypeDeposit:
		message = fmt.Sprintf("已充值 %s，当前余额 %s", FormatCoins(amount), FormatCoins(r.NewBalance))
	case r.Quote != nil && !r.Quote.FinalAmount.Equal(r.Quote.BaseAmount):
		message = fmt.Sprintf("已支付 %s（原价 %s），当前余额 %s",
			FormatCoins(amount), FormatCoins(r.Quote.BaseAmount), FormatCoins(r.NewBalance))
	default:
		message = fmt.Sprintf("已支付 %s，当前余额 %s", FormatCoins(amount), FormatCoins(r.NewBalance))
	}
	return notify.Notification{
		UserID:    userID,
		Level:     notify.LevelSuccess,
		Operation: string(r.Type),
		Title:     label(r.Type) + "成功",
		Message:   message,
		Amount:    &amount,
		CreatedAt: time.Now(),
	}
}

func failureNotification(userID string, t model.TransactionType, requested decimal.Decimal, err error) notify.Notification {
	n := notify.Notification{
		UserID:    userID,
		Level:     notify.LevelFailure,
		Operation: string(t),
		Title:     label(t) + "失败",
		Message:   userMessage(err),
		CreatedAt: time.Now(),
	}
	if !requested.IsZero() {
		amount := requested.Abs()
		n.Amount = &amount
	}
	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) {
		n.Message = ledgerErr.Reason
	}
	return n
}
