package dto

import (
	"github.com/flicky/storefront-api/internal/model"
)

const dateLayout = "2006-01-02"

func FromUser(u *model.User) UserResponse {
	return UserResponse{
		ID: u.ID, Email: u.Email,
		FirstName: u.FirstName, LastName: u.LastName,
		Contact: u.Contact, Role: u.Role,
	}
}

func FromCategory(c *model.Category) CategoryResponse {
	return CategoryResponse{ID: c.ID, Name: c.Name}
}

func FromOffer(o *model.Offer) OfferResponse {
	return OfferResponse{
		ID:                 o.ID,
		DiscountPercentage: o.DiscountPercentage,
		StartDate:          o.StartDate.UTC().Format(dateLayout),
		EndDate:            o.EndDate.UTC().Format(dateLayout),
	}
}

func FromProduct(p *model.Product) ProductResponse {
	return ProductResponse{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		CategoryID:     p.CategoryID,
		Price:          p.Price,
		OfferID:        p.OfferID,
		EffectivePrice: p.EffectivePrice,
		Stock:          p.Stock,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func FromCart(c *model.Cart) CartResponse {
	resp := CartResponse{ID: c.ID, TotalPrice: c.TotalPrice, Lines: []CartLineResponse{}}
	for _, l := range c.Lines {
		line := CartLineResponse{
			ID:        l.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			Subtotal:  l.Subtotal(),
		}
		if l.Product != nil {
			line.Name = l.Product.Name
			line.EffectivePrice = l.Product.EffectivePrice
		}
		resp.Lines = append(resp.Lines, line)
	}
	return resp
}

func FromOrder(o *model.Order) OrderResponse {
	resp := OrderResponse{
		ID:         o.ID,
		UserID:     o.UserID,
		Status:     o.Status,
		TotalPrice: o.TotalPrice,
		Lines:      []OrderLineResponse{},
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
	if b := o.BillingAddress; b != nil {
		resp.BillingAddress = &BillingAddressResponse{
			House: b.House, Apartment: b.Apartment,
			City: b.City, State: b.State, Pincode: b.Pincode,
		}
	}
	for _, l := range o.Lines {
		resp.Lines = append(resp.Lines, OrderLineResponse{
			ID: l.ID, ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice,
		})
	}
	return resp
}
