package handlers

import (
	"net/http"
	"strconv"

	"card-ledger/internal/service"
	"card-ledger/internal/storages"
	"card-ledger/pkg"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// UserHandler обработчик пользователей и карт
type UserHandler struct {
	service *service.LedgerService
	logger  *logrus.Logger
}

// NewUserHandler создает новый обработчик пользователей
func NewUserHandler(service *service.LedgerService, logger *logrus.Logger) *UserHandler {
	return &UserHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRequest запрос на регистрацию
type RegisterRequest struct {
	Username string `json:"username" binding:"required,alphanum,min=3,max=50"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

// cardView карта в ответе: номер маскируется
type cardView struct {
	ID         int64                `json:"id"`
	Kind       storages.AccountKind `json:"kind"`
	Number     string               `json:"number"`
	Expiry     string               `json:"expiry"`
	Balance    string               `json:"balance,omitempty"`
	BTCBalance string               `json:"btc_balance,omitempty"`
	ETHBalance string               `json:"eth_balance,omitempty"`
	BTCAddress string               `json:"btc_address,omitempty"`
	ETHAddress string               `json:"eth_address,omitempty"`
}

func newCardView(a storages.Account) cardView {
	v := cardView{
		ID:         a.ID,
		Kind:       a.Kind,
		Number:     pkg.MaskCardNumber(a.Number),
		Expiry:     a.Expiry,
		BTCAddress: a.BTCAddress,
		ETHAddress: a.ETHAddress,
	}
	if a.IsCrypto() {
		v.BTCBalance = a.BTCBalance.StringFixed(storages.CurrencyBTC.Precision())
		v.ETHBalance = a.ETHBalance.StringFixed(storages.CurrencyETH.Precision())
	} else {
		v.Balance = a.Balance.StringFixed(a.Kind.Currency().Precision())
	}
	return v
}

func cardViews(accounts []storages.Account) []cardView {
	views := make([]cardView, len(accounts))
	for i, a := range accounts {
		views[i] = newCardView(a)
	}
	return views
}

// Register регистрирует пользователя и выпускает ему три карты
// @Summary Register user
// @Tags users
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "User data"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /api/v1/users [post]
func (h *UserHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	user, accounts, err := h.service.RegisterUser(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user":     user,
		"accounts": cardViews(accounts),
	})
}

// GetAccounts возвращает карты пользователя
// @Summary List user accounts
// @Tags users
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Router /api/v1/users/{id}/accounts [get]
func (h *UserHandler) GetAccounts(c *gin.Context) {
	userID, ok := pathID(c)
	if !ok {
		return
	}

	accounts, err := h.service.GetUserAccounts(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts": cardViews(accounts)})
}

// Delete удаляет пользователя без истории операций
// @Summary Delete user
// @Tags users
// @Param id path int true "User ID"
// @Success 204
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /api/v1/users/{id} [delete]
func (h *UserHandler) Delete(c *gin.Context) {
	userID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteUser(c.Request.Context(), userID); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return 0, false
	}
	return id, true
}
