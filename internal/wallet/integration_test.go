package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"renaissance/internal/config"
	"renaissance/internal/infrastructure/database"
	"renaissance/internal/model"
	"renaissance/internal/service"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletAgainstLedgerService(t *testing.T) {
	db, err := database.Open(&config.DatabaseConfig{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "wallet.db"),
	}, "silent")
	require.NoError(t, err)

	ctx := context.Background()
	ledger := service.NewLedgerService(db, nil)
	stats := service.NewStatsService(db, &config.BusinessConfig{ActiveWindowDays: 30, HibernatingWindowDays: 90})
	user := uuid.NewString()
	logger, _ := test.NewNullLogger()
	notes := &recorder{}

	w, err := Open(ctx, user, ledger, stats, notes, Options{Logger: logger})
	require.NoError(t, err)
	assert.True(t, w.Balance().IsZero())

	_, err = w.Deposit(ctx, dec("100"))
	require.NoError(t, err)

	// 先产生一次活动，让用户变为 active
	require.NoError(t, stats.IncrementStat(ctx, user, model.StatGroupsJoined))

	receipt, err := w.ChargeEventJoinFee(ctx, "e1", dec("50"))
	require.NoError(t, err)
	assert.True(t, receipt.NewBalance.Equal(dec("60")))
	assert.True(t, w.Balance().Equal(dec("60")))

	txs := w.Transactions()
	require.Len(t, txs, 2)
	fee := txs[0]
	assert.Equal(t, model.TransactionTypeEventJoinFee, fee.Type)
	assert.True(t, fee.Amount.Equal(dec("-40")))

	var details struct {
		EventID     string      `json:"eventId"`
		BaseAmount  json.Number `json:"baseAmount"`
		FinalAmount json.Number `json:"finalAmount"`
	}
	require.NoError(t, json.Unmarshal([]byte(fee.Details), &details))
	assert.Equal(t, "e1", details.EventID)
	assert.Equal(t, "50", details.BaseAmount.String())
	assert.Equal(t, "40", details.FinalAmount.String())

	userStats, err := stats.GetUserStats(ctx, user)
	require.NoError(t, err)
	assert.EqualValues(t, 1, userStats.EventsJoined)
	assert.Equal(t, model.UserCategoryActive, userStats.Category)

	_, err = w.Withdraw(ctx, dec("60.01"))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = w.Withdraw(ctx, dec("60"))
	require.NoError(t, err)
	assert.True(t, w.Balance().IsZero())

	report, err := ledger.VerifyLedger(ctx, user)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, 4, notes.count())
}

type unavailableLocker struct{}

func (unavailableLocker) Acquire(context.Context, string, string) (func(), error) {
	return nil, errors.New("redis: connection refused")
}

func TestWalletSurfacesLedgerBusy(t *testing.T) {
	db, err := database.Open(&config.DatabaseConfig{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "wallet.db"),
	}, "silent")
	require.NoError(t, err)

	ctx := context.Background()
	ledger := service.NewLedgerService(db, unavailableLocker{})
	stats := service.NewStatsService(db, &config.BusinessConfig{ActiveWindowDays: 30, HibernatingWindowDays: 90})
	logger, _ := test.NewNullLogger()

	w, err := Open(ctx, uuid.NewString(), ledger, stats, &recorder{}, Options{Logger: logger})
	require.NoError(t, err)

	_, err = w.Deposit(ctx, dec("10"))
	var ledgerErr *LedgerError
	require.ErrorAs(t, err, &ledgerErr)
	assert.ErrorIs(t, err, service.ErrLedgerBusy)
	assert.True(t, w.Balance().IsZero())
}
