// Package token 会话令牌：HS256 签名的 JWT，jti 作为会话ID。
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("令牌无效或已过期")

// Claims user_uuid 为钱包所属用户，RegisteredClaims.ID 为会话ID
type Claims struct {
	UserID string `json:"user_uuid"`
	jwt.RegisteredClaims
}

// Generate 签发令牌，返回令牌字符串和会话ID
func Generate(userID, secret string, ttl time.Duration) (string, string, error) {
	now := time.Now()
	sessionID := uuid.NewString()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", "", err
	}
	return signed, sessionID, nil
}

// Parse 校验签名和有效期；缺少 user_uuid 或 jti 的令牌视为无效
func Parse(tokenStr, secret string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
