package http

import (
	"github.com/gin-gonic/gin"
	"github.com/sah-anshu/wa2fa-meta/service"
	"go.uber.org/zap"
)

// SetupRouter builds the gin router for the verification endpoints.
func SetupRouter(verification *service.VerificationService, verifyToken, appSecret string, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log))

	handlers := NewHandlers(verification, verifyToken, appSecret, log)

	wa2fa := router.Group("/wa2fa")
	{
		wa2fa.GET("/webhook", handlers.VerifyWebhook)
		wa2fa.POST("/webhook", handlers.ReceiveMessage)
		wa2fa.GET("/qr-status", handlers.QRStatus)
		wa2fa.GET("/confirm", handlers.ConfirmIdentity)

		wa2fa.POST("/challenge", handlers.StartChallenge)
		wa2fa.DELETE("/challenge/:session_id", handlers.CancelChallenge)
		wa2fa.POST("/otp/send", handlers.SendOTP)
		wa2fa.POST("/otp/validate", handlers.ValidateOTP)
	}

	return router
}
