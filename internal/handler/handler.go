package handler

import (
	"errors"
	"strconv"

	"renaissance/internal/model"
	"renaissance/internal/repository"
	"renaissance/internal/service"
	"renaissance/internal/wallet"
	"renaissance/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultTransactionLimit = 50

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	ledger   *service.LedgerService
	stats    *service.StatsService
	fees     *service.FeeService
	sessions *SessionRegistry
}

func NewHandler(ledger *service.LedgerService, stats *service.StatsService, fees *service.FeeService, sessions *SessionRegistry) *Handler {
	return &Handler{
		ledger:   ledger,
		stats:    stats,
		fees:     fees,
		sessions: sessions,
	}
}

// ============================================================
// 账本 RPC
// ============================================================

// UpdateUserCoins 原子调整余额并追加流水
// POST /rpc/update_user_coins
func (h *Handler) UpdateUserCoins(c *gin.Context) {
	var req service.CoinUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.ledger.UpdateUserCoins(c.Request.Context(), req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	if !result.Success {
		code := response.CodeLedgerRejected
		if errors.Is(result.Err(), service.ErrLedgerBusy) {
			code = response.CodeLedgerBusy
		}
		response.ErrorWithData(c, code, result.Error, result)
		return
	}
	response.Success(c, result)
}

// GetUserProfile 查询余额
// GET /rpc/get_user_profile?user_uuid=xxx
func (h *Handler) GetUserProfile(c *gin.Context) {
	profile, err := h.ledger.GetUserProfile(c.Request.Context(), c.Query("user_uuid"))
	if err != nil {
		rpcError(c, err)
		return
	}
	response.Success(c, profile)
}

// GetUserTransactions 查询流水，按时间倒序
// GET /rpc/get_user_transactions?user_uuid=xxx&limit=50
func (h *Handler) GetUserTransactions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultTransactionLimit)))
	if err != nil {
		response.ParamError(c, "limit 参数错误")
		return
	}

	transactions, err := h.ledger.GetUserTransactions(c.Request.Context(), c.Query("user_uuid"), limit)
	if err != nil {
		rpcError(c, err)
		return
	}
	response.Success(c, gin.H{"list": transactions})
}

// GetTransaction 按流水号查询
// GET /rpc/get_transaction?transaction_id=TXNxxx
func (h *Handler) GetTransaction(c *gin.Context) {
	transactionNo := c.Query("transaction_id")
	if transactionNo == "" {
		response.ParamError(c, "transaction_id 参数不能为空")
		return
	}
	trans, err := h.ledger.GetTransaction(c.Request.Context(), transactionNo)
	if err != nil {
		rpcError(c, err)
		return
	}
	response.Success(c, trans)
}

type IncrementStatRequest struct {
	UserID string     `json:"user_uuid" binding:"required"`
	Stat   model.Stat `json:"stat" binding:"required"`
}

// IncrementUserStat POST /rpc/increment_user_stat
func (h *Handler) IncrementUserStat(c *gin.Context) {
	var req IncrementStatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if err := h.stats.IncrementStat(c.Request.Context(), req.UserID, req.Stat); err != nil {
		rpcError(c, err)
		return
	}
	stats, err := h.stats.GetUserStats(c.Request.Context(), req.UserID)
	if err != nil {
		rpcError(c, err)
		return
	}
	response.Success(c, stats)
}

type UserRequest struct {
	UserID string `json:"user_uuid" binding:"required"`
}

// RecalculateUserCategory POST /rpc/recalculate_user_category
func (h *Handler) RecalculateUserCategory(c *gin.Context) {
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	category, err := h.stats.RecalculateUserCategory(c.Request.Context(), req.UserID)
	if err != nil {
		rpcError(c, err)
		return
	}
	response.Success(c, gin.H{"user_uuid": req.UserID, "category": category})
}

type CalculateFeeRequest struct {
	UserID     string          `json:"user_uuid" binding:"required"`
	BaseAmount decimal.Decimal `json:"base_amount"`
}

// CalculateEventFee 按当前分类报价，不扣费
// POST /rpc/calculate_event_fee
func (h *Handler) CalculateEventFee(c *gin.Context) {
	var req CalculateFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	quote, err := h.fees.CalculateEventFee(c.Request.Context(), req.UserID, req.BaseAmount)
	if err != nil {
		rpcError(c, err)
		return
	}
	response.Success(c, quote)
}

func rpcError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidUserID),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, repository.ErrInvalidStat):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrTransactionNotFound):
		response.Error(c, response.CodeNotFound, err.Error())
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error("RPC 处理失败")
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 会话钱包（需要登录）
// ============================================================

var feeKinds = map[string]model.TransactionType{
	"event-creation": model.TransactionTypeEventCreationFee,
	"event-join":     model.TransactionTypeEventJoinFee,
	"group-creation": model.TransactionTypeGroupCreationFee,
	"group-join":     model.TransactionTypeGroupJoinFee,
}

type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type FeeRequest struct {
	TargetID   string          `json:"target_id" binding:"required"`
	BaseAmount decimal.Decimal `json:"base_amount"`
}

func (h *Handler) sessionWallet(c *gin.Context) (*wallet.Wallet, bool) {
	claims := claimsFrom(c)
	if claims == nil {
		response.Unauthorized(c, "未登录")
		return nil, false
	}
	w, err := h.sessions.Wallet(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, ErrSessionMismatch) {
			response.Error(c, response.CodeForbidden, err.Error())
			return nil, false
		}
		walletError(c, err)
		return nil, false
	}
	return w, true
}

// GetBalance GET /api/v1/wallet/balance
func (h *Handler) GetBalance(c *gin.Context) {
	w, ok := h.sessionWallet(c)
	if !ok {
		return
	}
	balance := w.Balance()
	response.Success(c, gin.H{
		"user_uuid":    w.UserID(),
		"balance":      balance,
		"display":      wallet.FormatCoins(balance),
		"refreshed_at": w.RefreshedAt(),
	})
}

// GetTransactions GET /api/v1/wallet/transactions
func (h *Handler) GetTransactions(c *gin.Context) {
	w, ok := h.sessionWallet(c)
	if !ok {
		return
	}
	response.Success(c, gin.H{"list": w.Transactions()})
}

// Refresh POST /api/v1/wallet/refresh
func (h *Handler) Refresh(c *gin.Context) {
	w, ok := h.sessionWallet(c)
	if !ok {
		return
	}
	if err := w.Refresh(c.Request.Context()); err != nil {
		walletError(c, err)
		return
	}
	response.Success(c, gin.H{
		"balance":      w.Balance(),
		"transactions": w.Transactions(),
	})
}

// Deposit POST /api/v1/wallet/deposit
func (h *Handler) Deposit(c *gin.Context) {
	w, ok := h.sessionWallet(c)
	if !ok {
		return
	}
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	receipt, err := w.Deposit(c.Request.Context(), req.Amount)
	if err != nil {
		walletError(c, err)
		return
	}
	response.Success(c, receipt)
}

// Withdraw POST /api/v1/wallet/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	w, ok := h.sessionWallet(c)
	if !ok {
		return
	}
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	receipt, err := w.Withdraw(c.Request.Context(), req.Amount)
	if err != nil {
		walletError(c, err)
		return
	}
	response.Success(c, receipt)
}

// ChargeFee POST /api/v1/wallet/fees/:kind
func (h *Handler) ChargeFee(c *gin.Context) {
	feeType, known := feeKinds[c.Param("kind")]
	if !known {
		response.ParamError(c, wallet.ErrUnknownFeeType.Error())
		return
	}
	w, ok := h.sessionWallet(c)
	if !ok {
		return
	}
	var req FeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	receipt, err := w.ChargeFee(c.Request.Context(), feeType, req.TargetID, req.BaseAmount)
	if err != nil {
		walletError(c, err)
		return
	}
	response.Success(c, receipt)
}

// walletError 校验错误和账本拒绝原样返回，调用异常只返回通用提示
func walletError(c *gin.Context, err error) {
	var ledgerErr *wallet.LedgerError
	switch {
	case errors.Is(err, wallet.ErrInsufficientFunds):
		response.BusinessError(c, response.CodeBalanceNotEnough, err.Error())
	case errors.Is(err, wallet.ErrCategoryUnknown):
		response.BusinessError(c, response.CodeCategoryUnavailable, err.Error())
	case wallet.IsValidation(err), errors.Is(err, service.ErrInvalidUserID):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrLedgerBusy):
		response.BusinessError(c, response.CodeLedgerBusy, err.Error())
	case errors.As(err, &ledgerErr):
		response.BusinessError(c, response.CodeLedgerRejected, ledgerErr.Reason)
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error("钱包操作失败")
		response.BusinessError(c, response.CodeTransactionFailed, wallet.ErrTransport.Error())
	}
}
