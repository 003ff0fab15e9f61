package service

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flicky/storefront-api/internal/model"
)

var (
	ErrInvalidPrice       = errors.New("price must be non-negative")
	ErrInvalidDiscount    = errors.New("discount percentage must be between 0 and 100")
	ErrInvalidOfferWindow = errors.New("offer needs a start date on or before its end date")
)

var hundred = decimal.NewFromInt(100)

// EffectivePrice is price less the offer's discount when the offer is active on
// day, rounded half-up to cents. Without an active offer it is price.
func EffectivePrice(price decimal.Decimal, offer *model.Offer, day time.Time) decimal.Decimal {
	if !offer.ActiveOn(day) {
		return price
	}
	return price.Mul(hundred.Sub(offer.DiscountPercentage)).Div(hundred).Round(2)
}

func validatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return ErrInvalidPrice
	}
	return nil
}

func validateOffer(o *model.Offer) error {
	if o.DiscountPercentage.IsNegative() || o.DiscountPercentage.GreaterThan(hundred) {
		return ErrInvalidDiscount
	}
	if o.StartDate.IsZero() || o.EndDate.IsZero() || model.Date(o.StartDate).After(model.Date(o.EndDate)) {
		return ErrInvalidOfferWindow
	}
	return nil
}
