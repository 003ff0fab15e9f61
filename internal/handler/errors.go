package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flicky/storefront-api/internal/service"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{service.ErrProductNotFound, http.StatusNotFound},
	{service.ErrCategoryNotFound, http.StatusNotFound},
	{service.ErrOfferNotFound, http.StatusNotFound},
	{service.ErrCartLineNotFound, http.StatusNotFound},
	{service.ErrOrderNotFound, http.StatusNotFound},
	{service.ErrUserNotFound, http.StatusNotFound},
	{service.ErrForbidden, http.StatusForbidden},
	{service.ErrOutOfStock, http.StatusConflict},
	{service.ErrInsufficientStock, http.StatusConflict},
	{service.ErrInvalidTransition, http.StatusConflict},
	{service.ErrProductInUse, http.StatusConflict},
	{service.ErrCategoryExists, http.StatusConflict},
	{service.ErrUserAlreadyExists, http.StatusConflict},
	{service.ErrQuantityLimitExceeded, http.StatusUnprocessableEntity},
	{service.ErrInvalidQuantity, http.StatusUnprocessableEntity},
	{service.ErrEmptyCart, http.StatusBadRequest},
	{service.ErrInvalidStatus, http.StatusBadRequest},
	{service.ErrInvalidPrice, http.StatusBadRequest},
	{service.ErrInvalidDiscount, http.StatusBadRequest},
	{service.ErrInvalidOfferWindow, http.StatusBadRequest},
	{service.ErrInvalidCredentials, http.StatusUnauthorized},
}

func statusFor(err error) int {
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// respondError writes err as JSON. Unmapped errors are logged and hidden
// behind a generic 500.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method, "route", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}

	body := gin.H{"error": err.Error()}
	var stockErr *service.StockError
	if errors.As(err, &stockErr) {
		body["product_id"] = stockErr.ProductID
		body["requested"] = stockErr.Requested
		body["available"] = stockErr.Available
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
