package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"renaissance/internal/wallet"
	"renaissance/pkg/token"
)

var ErrSessionMismatch = errors.New("会话与用户不匹配")

const defaultSessionTTL = 24 * time.Hour

// WalletFactory 为用户打开一个新的钱包会话
type WalletFactory func(ctx context.Context, userID string) (*wallet.Wallet, error)

type session struct {
	wallet    *wallet.Wallet
	expiresAt time.Time
}

// SessionRegistry 每个 JWT 会话（jti）对应一个钱包实例，令牌过期后回收
type SessionRegistry struct {
	open WalletFactory
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func NewSessionRegistry(open WalletFactory) *SessionRegistry {
	return &SessionRegistry{
		open:     open,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Wallet 返回会话对应的钱包，首次访问时创建并拉取余额
func (r *SessionRegistry) Wallet(ctx context.Context, claims *token.Claims) (*wallet.Wallet, error) {
	if w, err := r.lookup(claims); w != nil || err != nil {
		return w, err
	}

	w, err := r.open(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}

	expiresAt := r.now().Add(defaultSessionTTL)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// 并发的首次请求只保留先写入的实例
	if existing, ok := r.sessions[claims.ID]; ok {
		return existing.wallet, nil
	}
	r.sessions[claims.ID] = &session{wallet: w, expiresAt: expiresAt}
	return w, nil
}

func (r *SessionRegistry) lookup(claims *token.Claims) (*wallet.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	s, ok := r.sessions[claims.ID]
	if !ok {
		return nil, nil
	}
	if s.wallet.UserID() != claims.UserID {
		return nil, ErrSessionMismatch
	}
	return s.wallet, nil
}

func (r *SessionRegistry) sweepLocked() {
	now := r.now()
	for id, s := range r.sessions {
		if now.After(s.expiresAt) {
			delete(r.sessions, id)
		}
	}
}

// Len 当前存活的会话数
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
