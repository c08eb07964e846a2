package handlers

import (
	"net/http"

	"card-ledger/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RatesHandler обработчик курсов
type RatesHandler struct {
	service *service.LedgerService
	logger  *logrus.Logger
}

// NewRatesHandler создает новый обработчик курсов
func NewRatesHandler(service *service.LedgerService, logger *logrus.Logger) *RatesHandler {
	return &RatesHandler{
		service: service,
		logger:  logger,
	}
}

// GetRates возвращает текущий снимок курсов
// @Summary Get exchange rates
// @Description Latest USD/UAH, BTC/USD and ETH/USD snapshot
// @Tags rates
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]string
// @Router /api/v1/rates [get]
func (h *RatesHandler) GetRates(c *gin.Context) {
	snapshot, err := h.service.GetLatestRates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"usd_to_uah": snapshot.USDToUAH.String(),
		"btc_to_usd": snapshot.BTCToUSD.String(),
		"eth_to_usd": snapshot.ETHToUSD.String(),
		"updated_at": snapshot.CreatedAt,
	})
}
