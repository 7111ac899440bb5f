package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"flirtmarket/internal/auth"
)

// SetupRouter wires middleware and routes.
func SetupRouter(h *Handler, mode string) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}

	r := gin.New()
	r.Use(RecoveryMiddleware(h.log))
	r.Use(LoggerMiddleware(h.log))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		api.POST("/auth/telegram", h.TelegramLogin)

		authed := api.Group("", auth.Middleware(h.Tokens))
		{
			authed.GET("/account/balance", h.GetBalance)
			authed.POST("/unlocks", h.Unlock)
			authed.POST("/rewards/:source/claim", h.ClaimReward)
			authed.GET("/ws", h.BalanceStream)
		}
	}

	internal := r.Group("/internal/v1", InternalKeyMiddleware(h.InternalKey))
	{
		internal.POST("/credit", h.InternalCredit)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
