package service

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrInvalidUserID          = errors.New("用户ID格式错误")
	ErrInvalidTransactionType = errors.New("未知的交易类型")
	ErrInvalidAmount          = errors.New("金额必须非零且最多两位小数")
	ErrAmountSignMismatch     = errors.New("金额符号与交易类型不符")
	ErrInvalidDetails         = errors.New("details 不是合法的 JSON")
	ErrInsufficientFunds      = errors.New("余额不足")
	ErrLedgerBusy             = errors.New("系统繁忙，请重试")
	ErrTransactionNotFound    = errors.New("流水不存在")
)

// normalizeUserID 校验用户ID是否为 UUID，并统一成小写带连字符格式
func normalizeUserID(userID string) (string, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return "", ErrInvalidUserID
	}
	return id.String(), nil
}
