package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrForbidden             = errors.New("access denied")
	ErrInvalidQuantity       = errors.New("quantity must be at least 1")
	ErrOutOfStock            = errors.New("product out of stock")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrQuantityLimitExceeded = errors.New("quantity limit exceeded")
)

// StockError reports a stock check that failed for one product. It unwraps to
// ErrOutOfStock or ErrInsufficientStock.
type StockError struct {
	ProductID uuid.UUID
	Requested int
	Available int
	Err       error
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%v: product %s requested %d, available %d", e.Err, e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return e.Err }
