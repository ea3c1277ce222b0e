package handler

import (
	"crypto/subtle"
	"strings"
	"time"

	"renaissance/pkg/response"
	"renaissance/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const claimsKey = "claims"

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if query := c.Request.URL.RawQuery; query != "" {
			path = path + "?" + query
		}

		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
			"ip":      c.ClientIP(),
			"method":  c.Request.Method,
			"path":    path,
		})
		if c.Writer.Status() >= 500 {
			entry.Error("HTTP")
			return
		}
		entry.Info("HTTP")
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logrus.WithField("panic", err).Error("请求处理 panic")
				c.AbortWithStatusJSON(500, gin.H{
					"code":    500,
					"message": "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// JWTAuthMiddleware 校验 Bearer 令牌，把 claims 放进上下文
func JWTAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			response.Unauthorized(c, "缺少或错误的 Authorization 头")
			return
		}
		claims, err := token.Parse(strings.TrimPrefix(authHeader, "Bearer "), secret)
		if err != nil {
			response.Unauthorized(c, err.Error())
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// ServiceAuthMiddleware 后端服务之间的调用，校验共享密钥；未配置密钥时一律拒绝
func ServiceAuthMiddleware(serviceKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if serviceKey == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			response.Unauthorized(c, "缺少服务调用凭证")
			return
		}
		presented := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(serviceKey)) != 1 {
			response.Unauthorized(c, "服务调用凭证无效")
			return
		}
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *token.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*token.Claims)
	return claims
}
