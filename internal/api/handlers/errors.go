package handlers

import (
	"errors"
	"net/http"

	"card-ledger/internal/ledger"
	"card-ledger/internal/service"
	"github.com/gin-gonic/gin"
)

// statusFor сопоставляет ошибку с HTTP статусом
func statusFor(err error) int {
	var (
		validation *ledger.ValidationError
		funds      *ledger.InsufficientFundsError
		notFound   *ledger.NotFoundError
		store      *ledger.StoreError
	)

	switch {
	case errors.As(err, &validation),
		errors.As(err, &funds),
		errors.Is(err, ledger.ErrInvalidAddress),
		errors.Is(err, ledger.ErrUnsupportedConversion):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUsernameTaken),
		errors.Is(err, service.ErrRegulatorProtected),
		errors.Is(err, service.ErrUserHasHistory):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrRatesUnavailable),
		errors.Is(err, ledger.ErrRegulatorMissing),
		errors.As(err, &store):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError отвечает ошибкой. Текст внутренних ошибок клиенту не отдается.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		message = "Internal server error"
	}
	c.JSON(status, gin.H{"error": message})
}
