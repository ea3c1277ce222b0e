package handler

import (
	"renaissance/internal/config"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, auth config.AuthConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 账本 RPC，只对持有服务密钥的后端开放
	rpc := r.Group("/rpc", ServiceAuthMiddleware(auth.ServiceKey))
	{
		rpc.POST("/update_user_coins", h.UpdateUserCoins)
		rpc.GET("/get_user_profile", h.GetUserProfile)
		rpc.GET("/get_user_transactions", h.GetUserTransactions)
		rpc.GET("/get_transaction", h.GetTransaction)
		rpc.POST("/increment_user_stat", h.IncrementUserStat)
		rpc.POST("/recalculate_user_category", h.RecalculateUserCategory)
		rpc.POST("/calculate_event_fee", h.CalculateEventFee)
	}

	// 会话钱包
	api := r.Group("/api/v1")
	{
		w := api.Group("/wallet", JWTAuthMiddleware(auth.JWTSecret))
		{
			w.GET("/balance", h.GetBalance)
			w.GET("/transactions", h.GetTransactions)
			w.POST("/refresh", h.Refresh)
			w.POST("/deposit", h.Deposit)
			w.POST("/withdraw", h.Withdraw)
			w.POST("/fees/:kind", h.ChargeFee)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
