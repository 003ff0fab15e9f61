package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/flicky/storefront-api/internal/dto"
	"github.com/flicky/storefront-api/internal/model"
)

type fixture struct {
	store     *memStore
	publisher *recordingPublisher
	guard     *InventoryGuard
	products  *ProductService
	carts     *CartService
	orders    *OrderService
	category  *model.Category
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemStore()
	pub := &recordingPublisher{}
	log := discardLogger()
	productRepo := memProductRepo{store}
	categoryRepo := memCategoryRepo{store}
	cartRepo := memCartRepo{store}

	guard := NewInventoryGuard(productRepo, nil)
	f := &fixture{
		store:     store,
		publisher: pub,
		guard:     guard,
		products:  NewProductService(store, productRepo, categoryRepo, memOfferRepo{store}, guard, nil, 0, pub, log),
		carts:     NewCartService(store, cartRepo, productRepo, nil, log),
		orders: NewOrderService(store, memOrderRepo{store}, cartRepo, memBillingRepo{store},
			productRepo, guard, pub, nil, log),
	}

	category, err := NewCategoryService(categoryRepo).Create(context.Background(), "Books")
	require.NoError(t, err)
	f.category = category
	return f
}

func (f *fixture) addProduct(t *testing.T, price string, stock int, offerID *uuid.UUID) *model.Product {
	t.Helper()
	p, err := f.products.Create(context.Background(), dto.CreateProductRequest{
		Name:       "product-" + uuid.NewString()[:8],
		CategoryID: f.category.ID,
		Price:      decimal.RequireFromString(price),
		OfferID:    offerID,
		Stock:      stock,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) addOffer(t *testing.T, pct string, start, end time.Time) *model.Offer {
	t.Helper()
	o, err := f.products.CreateOffer(context.Background(), dto.OfferRequest{
		DiscountPercentage: decimal.RequireFromString(pct),
		StartDate:          dto.Date{Time: start},
		EndDate:            dto.Date{Time: end},
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) addToCart(t *testing.T, userID, productID uuid.UUID, qty int) *model.Cart {
	t.Helper()
	cart, err := f.carts.AddLine(context.Background(), userID, productID, qty)
	require.NoError(t, err)
	return cart
}

func (f *fixture) stock(id uuid.UUID) int {
	return f.store.product(id).Stock
}

func billingDetails() BillingDetails {
	return BillingDetails{House: "12", City: "Pune", State: "MH", Pincode: "411001"}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// requireTotalMatchesLines checks the cached cart total against a full re-sum.
func requireTotalMatchesLines(t *testing.T, cart *model.Cart) {
	t.Helper()
	sum := decimal.Zero
	for _, l := range cart.Lines {
		sum = sum.Add(l.Subtotal())
	}
	require.True(t, sum.Equal(cart.TotalPrice), "total %s != sum of lines %s", cart.TotalPrice, sum)
}
