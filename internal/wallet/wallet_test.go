package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"

	"renaissance/internal/model"
	"renaissance/internal/notify"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "6f1c2d3e-4b5a-4c7d-8e9f-0a1b2c3d4e5f"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type harness struct {
	ledger *fakeLedger
	stats  *fakeStats
	notes  *recorder
	wallet *Wallet
}

func newHarness(t *testing.T, balance string, category model.UserCategory, opts Options) *harness {
	t.Helper()
	logger, _ := test.NewNullLogger()
	opts.Logger = logger

	h := &harness{
		ledger: &fakeLedger{balance: dec(balance)},
		stats:  &fakeStats{category: category},
		notes:  &recorder{},
	}
	w, err := Open(context.Background(), testUser, h.ledger, h.stats, h.notes, opts)
	require.NoError(t, err)
	h.wallet = w
	return h
}

func TestChargeEventJoinFeeActiveDiscount(t *testing.T) {
	h := newHarness(t, "100.00", model.UserCategoryActive, Options{})

	receipt, err := h.wallet.ChargeEventJoinFee(context.Background(), "e1", dec("50"))
	require.NoError(t, err)

	assert.True(t, receipt.Charged)
	assert.True(t, receipt.Amount.Equal(dec("-40")))
	assert.True(t, receipt.NewBalance.Equal(dec("60")))
	assert.True(t, h.wallet.Balance().Equal(dec("60.00")))

	require.Len(t, h.ledger.calls, 1)
	call := h.ledger.calls[0]
	assert.Equal(t, model.TransactionTypeEventJoinFee, call.TransactionType)
	assert.True(t, call.Amount.Equal(dec("-40.00")))
	assert.JSONEq(t, `{"eventId":"e1","baseAmount":50,"finalAmount":40}`, string(call.Details))

	txs := h.wallet.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, model.TransactionTypeEventJoinFee, txs[0].Type)

	assert.Equal(t, []model.Stat{model.StatEventsJoined}, h.stats.increments)
	assert.Equal(t, 1, h.stats.recalcs)

	require.Equal(t, 1, h.notes.count())
	n := h.notes.last()
	assert.Equal(t, notify.LevelSuccess, n.Level)
	assert.Equal(t, string(model.TransactionTypeEventJoinFee), n.Operation)
	assert.True(t, n.Amount.Equal(dec("40")))
}

func TestWithdrawMoreThanBalanceFailsWithoutRPC(t *testing.T) {
	h := newHarness(t, "10.00", model.UserCategoryNew, Options{})

	_, err := h.wallet.Withdraw(context.Background(), dec("20"))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, IsValidation(err))

	assert.Zero(t, h.ledger.callCount())
	assert.True(t, h.wallet.Balance().Equal(dec("10")))
	require.Equal(t, 1, h.notes.count())
	assert.Equal(t, notify.LevelFailure, h.notes.last().Level)
	assert.Equal(t, ErrInsufficientFunds.Error(), h.notes.last().Message)
}

func TestDepositFromZero(t *testing.T) {
	h := newHarness(t, "0", model.UserCategoryNew, Options{})

	receipt, err := h.wallet.Deposit(context.Background(), dec("25"))
	require.NoError(t, err)

	assert.True(t, receipt.NewBalance.Equal(dec("25.00")))
	assert.True(t, h.wallet.Balance().Equal(dec("25.00")))
	txs := h.wallet.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, model.TransactionTypeDeposit, txs[0].Type)
	assert.True(t, txs[0].Amount.Equal(dec("25")))
	assert.Equal(t, notify.LevelSuccess, h.notes.last().Level)
	assert.Empty(t, h.stats.increments, "deposits do not touch activity stats")
}

func TestRepeatedDepositIsNotDeduplicated(t *testing.T) {
	h := newHarness(t, "0", model.UserCategoryNew, Options{})

	_, err := h.wallet.Deposit(context.Background(), dec("25"))
	require.NoError(t, err)
	_, err = h.wallet.Deposit(context.Background(), dec("25"))
	require.NoError(t, err)

	assert.Equal(t, 2, h.ledger.callCount())
	assert.Len(t, h.wallet.Transactions(), 2)
	assert.True(t, h.wallet.Balance().Equal(dec("50")))
	assert.Equal(t, 2, h.notes.count())
}

func TestWithdrawBoundary(t *testing.T) {
	h := newHarness(t, "10.00", model.UserCategoryNew, Options{})

	_, err := h.wallet.Withdraw(context.Background(), dec("10.01"))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Zero(t, h.ledger.callCount())
	assert.True(t, h.wallet.Balance().Equal(dec("10")))

	receipt, err := h.wallet.Withdraw(context.Background(), dec("10.00"))
	require.NoError(t, err)
	assert.True(t, receipt.NewBalance.IsZero())
	assert.True(t, h.wallet.Balance().IsZero())
	assert.True(t, h.ledger.calls[0].Amount.Equal(dec("-10")))
	assert.Equal(t, model.TransactionTypeWithdrawal, h.ledger.calls[0].TransactionType)
}

func TestNonPositiveAmountsFailFast(t *testing.T) {
	h := newHarness(t, "10.00", model.UserCategoryNew, Options{})
	ctx := context.Background()

	for _, amount := range []string{"0", "-5", "1.001"} {
		_, err := h.wallet.Deposit(ctx, dec(amount))
		require.ErrorIs(t, err, ErrInvalidAmount, amount)

		_, err = h.wallet.Withdraw(ctx, dec(amount))
		require.ErrorIs(t, err, ErrInvalidAmount, amount)
	}

	assert.Zero(t, h.ledger.callCount())
	assert.Equal(t, 6, h.notes.count())
}

func TestFreeFeeShortCircuits(t *testing.T) {
	h := newHarness(t, "5.00", model.UserCategoryActive, Options{})

	for _, base := range []string{"0", "-3"} {
		receipt, err := h.wallet.ChargeGroupJoinFee(context.Background(), "g1", dec(base))
		require.NoError(t, err)
		assert.False(t, receipt.Charged)
		assert.True(t, receipt.NewBalance.Equal(dec("5")))
	}

	assert.Zero(t, h.ledger.callCount())
	assert.Zero(t, h.stats.lookups, "free charges skip the category lookup")

	// 免费操作也要告诉用户结果：成功且未扣费
	require.Equal(t, 2, h.notes.count())
	n := h.notes.last()
	assert.Equal(t, notify.LevelSuccess, n.Level)
	require.NotNil(t, n.Amount)
	assert.True(t, n.Amount.IsZero())
	assert.Contains(t, n.Message, "未扣费")
	assert.Equal(t, []model.Stat{model.StatGroupsJoined, model.StatGroupsJoined}, h.stats.increments)
}

func TestDiscountedToZeroIsFree(t *testing.T) {
	h := newHarness(t, "0", model.UserCategoryActive, Options{})

	receipt, err := h.wallet.ChargeEventJoinFee(context.Background(), "e9", dec("0.01"))
	require.NoError(t, err)
	assert.False(t, receipt.Charged)
	require.NotNil(t, receipt.Quote)
	assert.True(t, receipt.Quote.FinalAmount.IsZero())
	assert.Zero(t, h.ledger.callCount())
}

func TestFeeExceedingBalanceFailsWithoutRPC(t *testing.T) {
	h := newHarness(t, "44.99", model.UserCategoryHibernating, Options{})

	_, err := h.wallet.ChargeEventCreationFee(context.Background(), "e2", dec("50"))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Zero(t, h.ledger.callCount())
	assert.Equal(t, notify.LevelFailure, h.notes.last().Level)
	assert.Empty(t, h.stats.increments)
}

func TestCategoryLookupFailure(t *testing.T) {
	t.Run("falls back to full price", func(t *testing.T) {
		h := newHarness(t, "100", model.UserCategoryActive, Options{})
		h.stats.categoryErr = errors.New("stats unavailable")

		receipt, err := h.wallet.ChargeGroupCreationFee(context.Background(), "g7", dec("50"))
		require.NoError(t, err)
		assert.True(t, receipt.Amount.Equal(dec("-50")))
		assert.True(t, h.wallet.Balance().Equal(dec("50")))
	})

	t.Run("strict mode refuses to charge", func(t *testing.T) {
		h := newHarness(t, "100", model.UserCategoryActive, Options{StrictCategory: true})
		h.stats.categoryErr = errors.New("stats unavailable")

		_, err := h.wallet.ChargeGroupCreationFee(context.Background(), "g7", dec("50"))
		require.ErrorIs(t, err, ErrCategoryUnknown)
		assert.Zero(t, h.ledger.callCount())
		assert.True(t, h.wallet.Balance().Equal(dec("100")))
	})
}

func TestCategoryFetchedFreshForEachCharge(t *testing.T) {
	h := newHarness(t, "100", model.UserCategoryNew, Options{})
	ctx := context.Background()

	_, err := h.wallet.ChargeEventJoinFee(ctx, "e1", dec("10"))
	require.NoError(t, err)

	h.stats.mu.Lock()
	h.stats.category = model.UserCategoryActive
	h.stats.mu.Unlock()

	_, err = h.wallet.ChargeEventJoinFee(ctx, "e2", dec("10"))
	require.NoError(t, err)

	assert.Equal(t, 2, h.stats.lookups)
	assert.True(t, h.ledger.calls[0].Amount.Equal(dec("-10")))
	assert.True(t, h.ledger.calls[1].Amount.Equal(dec("-8")))
}

func TestTransportErrorIsRecoverable(t *testing.T) {
	h := newHarness(t, "10", model.UserCategoryNew, Options{})
	ctx := context.Background()

	h.ledger.updateErr = errNetwork
	_, err := h.wallet.Deposit(ctx, dec("5"))
	require.ErrorIs(t, err, ErrTransport)
	assert.False(t, IsValidation(err))
	assert.Equal(t, ErrTransport.Error(), h.notes.last().Message)
	assert.True(t, h.wallet.Balance().Equal(dec("10")))

	h.ledger.updateErr = nil
	_, err = h.wallet.Deposit(ctx, dec("5"))
	require.NoError(t, err)
	assert.True(t, h.wallet.Balance().Equal(dec("15")))
}

func TestLedgerRejectionSurfacedVerbatim(t *testing.T) {
	h := newHarness(t, "10", model.UserCategoryNew, Options{})
	h.ledger.reject = "余额不足"

	_, err := h.wallet.Withdraw(context.Background(), dec("10"))
	var ledgerErr *LedgerError
	require.ErrorAs(t, err, &ledgerErr)
	assert.Equal(t, "余额不足", ledgerErr.Reason)
	assert.Equal(t, "余额不足", h.notes.last().Message)
	assert.Equal(t, 1, h.ledger.callCount())
}

func TestTwoPhaseProtocol(t *testing.T) {
	h := newHarness(t, "30", model.UserCategoryHibernating, Options{})
	ctx := context.Background()

	charge, err := h.wallet.PrepareFee(ctx, model.TransactionTypeEventCreationFee, "e5", dec("20"))
	require.NoError(t, err)
	assert.Equal(t, PhaseValidating, charge.Phase())
	assert.True(t, charge.Amount.Equal(dec("-18")))
	assert.Zero(t, h.ledger.callCount(), "validation phase never reaches the ledger")

	receipt, err := h.wallet.Commit(ctx, charge)
	require.NoError(t, err)
	assert.Equal(t, PhaseSucceeded, charge.Phase())
	assert.True(t, receipt.NewBalance.Equal(dec("12")))

	_, err = h.wallet.Commit(ctx, charge)
	require.ErrorIs(t, err, ErrChargeNotPending)
	assert.Equal(t, 1, h.ledger.callCount())

	h.ledger.updateErr = errNetwork
	failing, err := h.wallet.PrepareDeposit(dec("1"))
	require.NoError(t, err)
	_, err = h.wallet.Commit(ctx, failing)
	require.Error(t, err)
	assert.Equal(t, PhaseFailed, failing.Phase())
}

func TestConcurrentCommitOfSameChargeRunsOnce(t *testing.T) {
	h := newHarness(t, "100", model.UserCategoryNew, Options{})
	ctx := context.Background()

	charge, err := h.wallet.PrepareWithdrawal(dec("10"))
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.wallet.Commit(ctx, charge)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrChargeNotPending):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, rejected)
	assert.Equal(t, 1, h.ledger.callCount())
	assert.Equal(t, PhaseSucceeded, charge.Phase())
	assert.True(t, h.wallet.Balance().Equal(dec("90")))
}

func TestPrepareFeeRejectsUnknownType(t *testing.T) {
	h := newHarness(t, "30", model.UserCategoryNew, Options{})

	_, err := h.wallet.PrepareFee(context.Background(), model.TransactionTypeDeposit, "x", dec("1"))
	require.ErrorIs(t, err, ErrUnknownFeeType)
}

func TestRefreshConvergesToServerState(t *testing.T) {
	h := newHarness(t, "10", model.UserCategoryNew, Options{})

	h.ledger.setBalance(dec("75.50"))
	assert.True(t, h.wallet.Balance().Equal(dec("10")), "cache changes only on refresh")

	require.NoError(t, h.wallet.Refresh(context.Background()))
	assert.True(t, h.wallet.Balance().Equal(dec("75.50")))
	assert.False(t, h.wallet.RefreshedAt().IsZero())
}

func TestRefreshFailureKeepsCache(t *testing.T) {
	h := newHarness(t, "10", model.UserCategoryNew, Options{})
	h.ledger.profileErr = errNetwork

	err := h.wallet.Refresh(context.Background())
	require.ErrorIs(t, err, ErrTransport)
	assert.True(t, h.wallet.Balance().Equal(dec("10")))
}

func TestStatsFailureDoesNotFailCharge(t *testing.T) {
	h := newHarness(t, "100", model.UserCategoryNew, Options{})
	h.stats.incrementErr = errors.New("stats down")

	receipt, err := h.wallet.ChargeEventCreationFee(context.Background(), "e3", dec("20"))
	require.NoError(t, err)
	assert.True(t, receipt.Charged)
	assert.Equal(t, notify.LevelSuccess, h.notes.last().Level)
}

func TestFormatCoins(t *testing.T) {
	assert.Equal(t, "🪙 25.00", FormatCoins(dec("25")))
	assert.Equal(t, "🪙 0.50", FormatCoins(dec("0.5")))
}
