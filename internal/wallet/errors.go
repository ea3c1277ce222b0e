package wallet

import (
	"errors"
)

// 本地校验错误，不会发起 RPC
var (
	ErrInvalidAmount     = errors.New("金额必须大于0且最多两位小数")
	ErrInsufficientFunds = errors.New("余额不足")
	ErrUnknownFeeType    = errors.New("未知的费用类型")
	ErrCategoryUnknown   = errors.New("无法获取用户分类，暂不能扣费")
	ErrChargeNotPending  = errors.New("该操作已提交过")
)

// ErrTransport 网络/调用异常，对用户只展示通用提示
var ErrTransport = errors.New("交易处理失败")

// LedgerError 账本 RPC 返回的失败原因，原样展示给用户
type LedgerError struct {
	Reason string
	Err    error
}

func (e *LedgerError) Error() string {
	return e.Reason
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// IsValidation 判断是否为本地校验失败
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrUnknownFeeType) ||
		errors.Is(err, ErrCategoryUnknown)
}

// userMessage 失败通知里展示给用户的文案
func userMessage(err error) string {
	if errors.Is(err, ErrTransport) {
		return ErrTransport.Error()
	}
	return err.Error()
}
