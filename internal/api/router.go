package api

import (
	"context"
	"net/http"
	"time"

	"card-ledger/internal/api/handlers"
	"card-ledger/internal/api/middleware"
	"card-ledger/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// HealthChecker проверка зависимостей для /health
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// SetupRouter настраивает и возвращает роутер с всеми эндпоинтами
func SetupRouter(
	ledgerService *service.LedgerService,
	health HealthChecker,
	logger *logrus.Logger,
	ginMode string,
) *gin.Engine {
	gin.SetMode(ginMode)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := health.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	userHandler := handlers.NewUserHandler(ledgerService, logger)
	transferHandler := handlers.NewTransferHandler(ledgerService, logger)
	ratesHandler := handlers.NewRatesHandler(ledgerService, logger)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/rates", ratesHandler.GetRates)

		v1.POST("/users", userHandler.Register)
		v1.GET("/users/:id/accounts", userHandler.GetAccounts)
		v1.DELETE("/users/:id", userHandler.Delete)

		v1.POST("/transfer", transferHandler.Transfer)
		v1.POST("/exchange", transferHandler.Exchange)
		v1.GET("/transactions", transferHandler.ListTransactions)
		v1.GET("/transactions/:id", transferHandler.GetTransaction)
	}

	return router
}
