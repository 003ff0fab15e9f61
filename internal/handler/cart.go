package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flicky/storefront-api/internal/dto"
	"github.com/flicky/storefront-api/internal/middleware"
	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/service"
)

// CartService is the part of *service.CartService the cart routes call.
type CartService interface {
	GetCart(ctx context.Context, userID uuid.UUID) (*model.Cart, error)
	AddLine(ctx context.Context, userID, productID uuid.UUID, qty int) (*model.Cart, error)
	UpdateQuantities(ctx context.Context, userID uuid.UUID, quantities map[uuid.UUID]int) (*model.Cart, []service.CartWarning, error)
	RemoveLine(ctx context.Context, userID, lineID uuid.UUID) (*model.Cart, error)
}

type CartHandler struct {
	svc CartService
}

func NewCartHandler(svc CartService) *CartHandler {
	return &CartHandler{svc: svc}
}

// GetCart doubles as the checkout summary.
func (h *CartHandler) GetCart(c *gin.Context) {
	cart, err := h.svc.GetCart(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromCart(cart))
}

func (h *CartHandler) AddLine(c *gin.Context) {
	var req dto.AddCartLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	cart, err := h.svc.AddLine(c.Request.Context(), middleware.GetUserID(c), req.ProductID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.FromCart(cart))
}

func (h *CartHandler) UpdateQuantities(c *gin.Context) {
	var req dto.UpdateCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	cart, warnings, err := h.svc.UpdateQuantities(c.Request.Context(), middleware.GetUserID(c), req.Quantities)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.FromCart(cart)
	for _, w := range warnings {
		resp.Warnings = append(resp.Warnings, dto.CartWarning{
			LineID: w.LineID, ProductID: w.ProductID,
			Reason: w.Reason, Requested: w.Requested, Applied: w.Applied,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *CartHandler) RemoveLine(c *gin.Context) {
	lineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid cart line ID")
		return
	}

	cart, err := h.svc.RemoveLine(c.Request.Context(), middleware.GetUserID(c), lineID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromCart(cart))
}
