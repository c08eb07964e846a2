package handlers

import (
	"net/http"
	"strconv"

	"card-ledger/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// maxListLimit верхняя граница выдачи журнала за один запрос
const maxListLimit = 500

// TransferHandler обработчик переводов и обменов
type TransferHandler struct {
	service *service.LedgerService
	logger  *logrus.Logger
}

// NewTransferHandler создает новый обработчик переводов
func NewTransferHandler(service *service.LedgerService, logger *logrus.Logger) *TransferHandler {
	return &TransferHandler{
		service: service,
		logger:  logger,
	}
}

// TransferRequest запрос на перевод
type TransferRequest struct {
	FromAccountID int64           `json:"from_account_id" binding:"required,gt=0"`
	Destination   string          `json:"destination" binding:"required,max=100"`
	Amount        decimal.Decimal `json:"amount"`
	Kind          string          `json:"kind" binding:"omitempty,oneof=fiat crypto"`
	CryptoAsset   string          `json:"crypto_asset" binding:"omitempty,oneof=btc eth BTC ETH"`
}

// ExchangeRequest запрос на обмен криптоактива на фиат
type ExchangeRequest struct {
	FromCurrency        string          `json:"from_currency" binding:"required,oneof=btc eth BTC ETH"`
	ToCurrency          string          `json:"to_currency" binding:"required,oneof=usd uah USD UAH"`
	FromAmount          decimal.Decimal `json:"from_amount"`
	DestinationAccount  string          `json:"destination_account" binding:"required"`
	SourceCryptoAccount int64           `json:"source_crypto_account" binding:"required,gt=0"`
}

// Transfer выполняет перевод
// @Summary Transfer funds
// @Description Fiat or crypto transfer with 1% commission
// @Tags transfers
// @Accept json
// @Produce json
// @Param request body TransferRequest true "Transfer data"
// @Success 200 {object} service.TransferResult
// @Failure 400 {object} service.TransferResult
// @Failure 404 {object} service.TransferResult
// @Failure 503 {object} service.TransferResult
// @Router /api/v1/transfer [post]
func (h *TransferHandler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, service.TransferResult{Error: "Invalid request: " + err.Error()})
		return
	}

	result := h.service.Transfer(c.Request.Context(), service.TransferInput{
		FromAccountID: req.FromAccountID,
		Destination:   req.Destination,
		Amount:        req.Amount,
		Kind:          service.TransferKind(req.Kind),
		CryptoAsset:   req.CryptoAsset,
	})
	if !result.Success {
		status := statusFor(result.Err)
		if status == http.StatusInternalServerError {
			_ = c.Error(result.Err)
			result.Error = "Internal server error"
		}
		c.JSON(status, result)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Exchange обменивает криптоактив на фиат
// @Summary Exchange crypto to fiat
// @Tags transfers
// @Accept json
// @Produce json
// @Param request body ExchangeRequest true "Exchange data"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /api/v1/exchange [post]
func (h *TransferHandler) Exchange(c *gin.Context) {
	var req ExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	tx, err := h.service.CreateExchange(c.Request.Context(), service.ExchangeInput{
		FromCurrency:        req.FromCurrency,
		ToCurrency:          req.ToCurrency,
		FromAmount:          req.FromAmount,
		DestinationAccount:  req.DestinationAccount,
		SourceCryptoAccount: req.SourceCryptoAccount,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Exchange successful",
		"transaction": tx,
	})
}

// ListTransactions возвращает журнал операций по картам
// @Summary List transactions
// @Description Transactions where any of the accounts is source or destination, newest first
// @Tags transfers
// @Produce json
// @Param account_id query []int true "Account IDs" collectionFormat(multi)
// @Param limit query int false "Limit"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /api/v1/transactions [get]
func (h *TransferHandler) ListTransactions(c *gin.Context) {
	raw := c.QueryArray("account_id")
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account_id: " + s})
			return
		}
		ids = append(ids, id)
	}

	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit: " + s})
			return
		}
		limit = n
	}
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	txs, err := h.service.ListTransactions(c.Request.Context(), ids, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// GetTransaction возвращает статус и суммы операции
// @Summary Get transaction status
// @Tags transfers
// @Produce json
// @Param id path int true "Transaction ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/v1/transactions/{id} [get]
func (h *TransferHandler) GetTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction id"})
		return
	}

	tx, err := h.service.GetTransaction(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}
