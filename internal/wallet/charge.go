package wallet

import (
	"encoding/json"
	"fmt"
	"sync"

	"renaissance/internal/fee"
	"renaissance/internal/model"

	"github.com/shopspring/decimal"
)

// Phase 单次操作的状态：idle -> validating -> calling-rpc -> success|failed
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseValidating Phase = "validating"
	PhaseCallingRPC Phase = "calling-rpc"
	PhaseSucceeded  Phase = "success"
	PhaseFailed     Phase = "failed"
)

type feeSpec struct {
	stat      model.Stat
	targetKey string
	label     string
}

var feeSpecs = map[model.TransactionType]feeSpec{
	model.TransactionTypeEventCreationFee: {model.StatEventsCreated, "eventId", "创建活动"},
	model.TransactionTypeEventJoinFee:     {model.StatEventsJoined, "eventId", "参加活动"},
	model.TransactionTypeGroupCreationFee: {model.StatGroupsCreated, "groupId", "创建群组"},
	model.TransactionTypeGroupJoinFee:     {model.StatGroupsJoined, "groupId", "加入群组"},
}

// Charge 通过本地校验、等待提交的一次余额变更
type Charge struct {
	Type     model.TransactionType
	Amount   decimal.Decimal // 发给 RPC 的带符号金额
	TargetID string
	Quote    *fee.Quote

	description string
	details     json.RawMessage
	free        bool

	mu    sync.Mutex
	phase Phase
}

func (c *Charge) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// advance 仅当当前处于 from 时切换到 to，保证同一笔操作只会被提交一次
func (c *Charge) advance(from, to Phase) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != from {
		return false
	}
	c.phase = to
	return true
}

func (c *Charge) setPhase(p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = p
}

// Free 费用为 0，提交时不会调用 RPC
func (c *Charge) Free() bool {
	return c.free
}

func (c *Charge) Description() string {
	return c.description
}

func (c *Charge) Details() json.RawMessage {
	return c.details
}

func label(t model.TransactionType) string {
	switch t {
	case model.TransactionTypeDeposit:
		return "充值"
	case model.TransactionTypeWithdrawal:
		return "提现"
	}
	if spec, ok := feeSpecs[t]; ok {
		return spec.label + "费用"
	}
	return string(t)
}

func feeDetails(spec feeSpec, targetID string, q fee.Quote) (json.RawMessage, error) {
	return json.Marshal(map[string]interface{}{
		spec.targetKey: targetID,
		"baseAmount":   json.Number(q.BaseAmount.String()),
		"finalAmount":  json.Number(q.FinalAmount.String()),
	})
}

// FormatCoins 金额展示：硬币符号 + 两位小数
func FormatCoins(d decimal.Decimal) string {
	return fmt.Sprintf("🪙 %s", d.StringFixed(fee.Precision))
}

func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Truncate(fee.Precision))
}
