package wallet

import (
	"context"
	"errors"
	"sync"

	"renaissance/internal/model"
	"renaissance/internal/notify"
	"renaissance/internal/service"

	"github.com/shopspring/decimal"
)

type fakeLedger struct {
	mu         sync.Mutex
	balance    decimal.Decimal
	txs        []*model.CoinTransaction
	calls      []service.CoinUpdateRequest
	updateErr  error
	reject     string
	profileErr error
}

func (f *fakeLedger) UpdateUserCoins(_ context.Context, req service.CoinUpdateRequest) (*service.CoinUpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)

	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if f.reject != "" {
		return &service.CoinUpdateResult{Success: false, Error: f.reject}, nil
	}
	next := f.balance.Add(req.Amount)
	if next.IsNegative() {
		return &service.CoinUpdateResult{Success: false, Error: service.ErrInsufficientFunds.Error()}, nil
	}
	tx := &model.CoinTransaction{
		UserID:        req.UserID,
		Type:          req.TransactionType,
		Amount:        req.Amount,
		BalanceBefore: f.balance,
		BalanceAfter:  next,
		Description:   req.Description,
		Status:        model.TransactionStatusCompleted,
		Details:       string(req.Details),
	}
	f.balance = next
	f.txs = append(f.txs, tx)
	return &service.CoinUpdateResult{Success: true, Transaction: tx, NewBalance: &next}, nil
}

func (f *fakeLedger) GetUserProfile(_ context.Context, userID string) (*service.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return &service.UserProfile{UserID: userID, Coins: f.balance}, nil
}

func (f *fakeLedger) GetUserTransactions(_ context.Context, _ string, _ int) ([]*model.CoinTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.CoinTransaction, 0, len(f.txs))
	for i := len(f.txs) - 1; i >= 0; i-- {
		out = append(out, f.txs[i])
	}
	return out, nil
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// setBalance 模拟其他会话直接修改了服务端余额
func (f *fakeLedger) setBalance(d decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = d
}

type fakeStats struct {
	mu           sync.Mutex
	category     model.UserCategory
	categoryErr  error
	incrementErr error
	increments   []model.Stat
	recalcs      int
	lookups      int
}

func (f *fakeStats) GetUserCategory(context.Context, string) (model.UserCategory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.categoryErr != nil {
		return "", f.categoryErr
	}
	return f.category, nil
}

func (f *fakeStats) IncrementStat(_ context.Context, _ string, stat model.Stat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrementErr != nil {
		return f.incrementErr
	}
	f.increments = append(f.increments, stat)
	return nil
}

func (f *fakeStats) RecalculateUserCategory(context.Context, string) (model.UserCategory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recalcs++
	return f.category, nil
}

type recorder struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func (r *recorder) last() notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.got[len(r.got)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

var errNetwork = errors.New("connection reset by peer")
