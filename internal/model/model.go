package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// MaxLineQuantity caps the quantity of a single cart line.
const MaxLineQuantity = 10

type User struct {
	ID        uuid.UUID
	Email     string
	Password  string
	FirstName string
	LastName  string
	Contact   string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Category struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Offer is a percentage discount valid between StartDate and EndDate, both inclusive.
type Offer struct {
	ID                 uuid.UUID
	DiscountPercentage decimal.Decimal
	StartDate          time.Time
	EndDate            time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ActiveOn reports whether the offer applies on the calendar day of t (UTC).
func (o *Offer) ActiveOn(t time.Time) bool {
	if o == nil {
		return false
	}
	day := Date(t)
	return !day.Before(Date(o.StartDate)) && !day.After(Date(o.EndDate))
}

// Date truncates t to midnight UTC.
func Date(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type Product struct {
	ID             uuid.UUID
	Name           string
	Description    string
	CategoryID     uuid.UUID
	Price          decimal.Decimal
	OfferID        *uuid.UUID
	EffectivePrice decimal.Decimal
	Stock          int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Cart struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TotalPrice decimal.Decimal
	Lines      []CartLine
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type CartLine struct {
	ID        uuid.UUID
	CartID    uuid.UUID
	ProductID uuid.UUID
	Quantity  int
	Product   *Product
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subtotal is the line's effective price times its quantity. Zero when the
// product has not been loaded.
func (l CartLine) Subtotal() decimal.Decimal {
	if l.Product == nil {
		return decimal.Zero
	}
	return l.Product.EffectivePrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type BillingAddress struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	House     string
	Apartment string
	City      string
	State     string
	Pincode   string
	CreatedAt time.Time
}

type Order struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	BillingAddressID uuid.UUID
	BillingAddress   *BillingAddress
	Status           OrderStatus
	TotalPrice       decimal.Decimal
	Lines            []OrderLine
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type OrderLine struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	ProductID uuid.UUID
	Quantity  int
	UnitPrice decimal.Decimal
	CreatedAt time.Time
}
