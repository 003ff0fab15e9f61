package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flicky/storefront-api/internal/model"
)

// --- Auth ---

type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Contact   string `json:"contact" binding:"max=20"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Contact   string    `json:"contact,omitempty"`
	Role      string    `json:"role"`
}

// --- Catalog ---

type CreateCategoryRequest struct {
	Name string `json:"name" binding:"required,max=100"`
}

type CategoryResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type OfferRequest struct {
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	StartDate          Date            `json:"start_date"`
	EndDate            Date            `json:"end_date"`
}

type OfferResponse struct {
	ID                 uuid.UUID       `json:"id"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	StartDate          string          `json:"start_date"`
	EndDate            string          `json:"end_date"`
}

type CreateProductRequest struct {
	Name        string          `json:"name" binding:"required,max=200"`
	Description string          `json:"description"`
	CategoryID  uuid.UUID       `json:"category_id" binding:"required"`
	Price       decimal.Decimal `json:"price"`
	OfferID     *uuid.UUID      `json:"offer_id"`
	Stock       int             `json:"stock" binding:"min=0"`
}

// UpdateProductRequest changes catalog fields only. Stock moves through restock
// and orders; ClearOffer detaches the current offer.
type UpdateProductRequest struct {
	Name        *string          `json:"name" binding:"omitempty,max=200"`
	Description *string          `json:"description"`
	CategoryID  *uuid.UUID       `json:"category_id"`
	Price       *decimal.Decimal `json:"price"`
	OfferID     *uuid.UUID       `json:"offer_id"`
	ClearOffer  bool             `json:"clear_offer"`
}

type RestockRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

type ListProductsRequest struct {
	Page     int    `form:"page,default=1" binding:"min=1"`
	Limit    int    `form:"limit,default=20" binding:"min=1,max=100"`
	Category string `form:"category"`
	Sort     string `form:"sort,default=created_at" binding:"oneof=name price created_at"`
	Order    string `form:"order,default=desc" binding:"oneof=asc desc"`
}

type ProductResponse struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	CategoryID     uuid.UUID       `json:"category_id"`
	Price          decimal.Decimal `json:"price"`
	OfferID        *uuid.UUID      `json:"offer_id,omitempty"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
	Stock          int             `json:"stock"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type ProductListResponse struct {
	Products []ProductResponse `json:"products"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

// --- Cart ---

type AddCartLineRequest struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Quantity  int       `json:"quantity"`
}

// UpdateCartRequest maps cart line ids to requested quantities.
type UpdateCartRequest struct {
	Quantities map[uuid.UUID]int `json:"quantities" binding:"required"`
}

type CartResponse struct {
	ID         uuid.UUID          `json:"id"`
	TotalPrice decimal.Decimal    `json:"total_price"`
	Lines      []CartLineResponse `json:"lines"`
	Warnings   []CartWarning      `json:"warnings,omitempty"`
}

type CartLineResponse struct {
	ID             uuid.UUID       `json:"id"`
	ProductID      uuid.UUID       `json:"product_id"`
	Name           string          `json:"name"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
	Quantity       int             `json:"quantity"`
	Subtotal       decimal.Decimal `json:"subtotal"`
}

type CartWarning struct {
	LineID    uuid.UUID `json:"line_id"`
	ProductID uuid.UUID `json:"product_id"`
	Reason    string    `json:"reason"`
	Requested int       `json:"requested"`
	Applied   int       `json:"applied"`
}

// --- Order ---

type PlaceOrderRequest struct {
	House     string `json:"house" binding:"required,max=100"`
	Apartment string `json:"apartment" binding:"max=100"`
	City      string `json:"city" binding:"required,max=100"`
	State     string `json:"state" binding:"required,max=100"`
	Pincode   string `json:"pincode" binding:"required,max=10"`
}

type UpdateOrderStatusRequest struct {
	Status model.OrderStatus `json:"status" binding:"required"`
}

type BillingAddressResponse struct {
	House     string `json:"house"`
	Apartment string `json:"apartment,omitempty"`
	City      string `json:"city"`
	State     string `json:"state"`
	Pincode   string `json:"pincode"`
}

type OrderResponse struct {
	ID             uuid.UUID               `json:"id"`
	UserID         uuid.UUID               `json:"user_id"`
	Status         model.OrderStatus       `json:"status"`
	TotalPrice     decimal.Decimal         `json:"total_price"`
	BillingAddress *BillingAddressResponse `json:"billing_address,omitempty"`
	Lines          []OrderLineResponse     `json:"lines"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

type OrderLineResponse struct {
	ID        uuid.UUID       `json:"id"`
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
	Total  int             `json:"total"`
}
