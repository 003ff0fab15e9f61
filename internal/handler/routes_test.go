package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/storefront-api/internal/middleware"
	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/service"
)

const testSecret = "handler-secret"

type stubCarts struct {
	CartService
	updateQuantities func(userID uuid.UUID, quantities map[uuid.UUID]int) (*model.Cart, []service.CartWarning, error)
}

func (s stubCarts) UpdateQuantities(_ context.Context, userID uuid.UUID, quantities map[uuid.UUID]int) (*model.Cart, []service.CartWarning, error) {
	return s.updateQuantities(userID, quantities)
}

type stubOrders struct {
	OrderService
	placeOrder   func(userID uuid.UUID, details service.BillingDetails) (*model.Order, error)
	updateStatus func(orderID uuid.UUID, status model.OrderStatus) (*model.Order, error)
}

func (s stubOrders) PlaceOrder(_ context.Context, userID uuid.UUID, details service.BillingDetails) (*model.Order, error) {
	return s.placeOrder(userID, details)
}

func (s stubOrders) UpdateStatus(_ context.Context, orderID uuid.UUID, status model.OrderStatus) (*model.Order, error) {
	return s.updateStatus(orderID, status)
}

func bearer(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID.String(),
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

// newRouter mounts the cart and order routes behind the same middleware
// chain the server uses.
func newRouter(carts CartService, orders OrderService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cartH, orderH := NewCartHandler(carts), NewOrderHandler(orders)
	authRequired := middleware.AuthMiddleware(testSecret)

	r := gin.New()
	v1 := r.Group("/api/v1")
	v1.PUT("/cart/lines", authRequired, cartH.UpdateQuantities)
	v1.POST("/orders", authRequired, orderH.PlaceOrder)
	admin := v1.Group("/admin", authRequired, middleware.AdminOnly())
	admin.PATCH("/orders/:id/status", orderH.UpdateStatus)
	return r
}

func send(r http.Handler, method, path, auth, body string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var decoded map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	return w, decoded
}

func TestCartRoutes_UpdateQuantitiesReturnsWarnings(t *testing.T) {
	userID, lineID, productID := uuid.New(), uuid.New(), uuid.New()
	var gotUser uuid.UUID
	var gotQuantities map[uuid.UUID]int
	carts := stubCarts{updateQuantities: func(u uuid.UUID, q map[uuid.UUID]int) (*model.Cart, []service.CartWarning, error) {
		gotUser, gotQuantities = u, q
		cart := &model.Cart{ID: uuid.New(), UserID: u, TotalPrice: decimal.RequireFromString("20.00"), Lines: []model.CartLine{{
			ID: lineID, ProductID: productID, Quantity: 2,
			Product: &model.Product{ID: productID, Name: "Go", EffectivePrice: decimal.NewFromInt(10)},
		}}}
		warnings := []service.CartWarning{{
			LineID: lineID, ProductID: productID, Reason: "clamped to available stock", Requested: 5, Applied: 2,
		}}
		return cart, warnings, nil
	}}
	r := newRouter(carts, stubOrders{})

	body := fmt.Sprintf(`{"quantities":{%q:5}}`, lineID)
	w, _ := send(r, http.MethodPut, "/api/v1/cart/lines", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, resp := send(r, http.MethodPut, "/api/v1/cart/lines", bearer(t, userID, model.RoleCustomer), body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, userID, gotUser)
	assert.Equal(t, map[uuid.UUID]int{lineID: 5}, gotQuantities)

	warnings, ok := resp["warnings"].([]any)
	require.True(t, ok, "warnings missing from %s", w.Body.String())
	require.Len(t, warnings, 1)
	warning := warnings[0].(map[string]any)
	assert.Equal(t, lineID.String(), warning["line_id"])
	assert.EqualValues(t, 5, warning["requested"])
	assert.EqualValues(t, 2, warning["applied"])
	assert.Len(t, resp["lines"], 1)
}

func TestOrderRoutes_PlaceOrderReportsAvailableStock(t *testing.T) {
	userID, productID := uuid.New(), uuid.New()
	orders := stubOrders{placeOrder: func(u uuid.UUID, d service.BillingDetails) (*model.Order, error) {
		assert.Equal(t, userID, u)
		assert.Equal(t, "Pune", d.City)
		return nil, &service.StockError{ProductID: productID, Requested: 4, Available: 1, Err: service.ErrInsufficientStock}
	}}
	r := newRouter(stubCarts{}, orders)

	w, _ := send(r, http.MethodPost, "/api/v1/orders", bearer(t, userID, model.RoleCustomer), `{"house":"12"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "billing fields are required")

	w, resp := send(r, http.MethodPost, "/api/v1/orders", bearer(t, userID, model.RoleCustomer),
		`{"house":"12","city":"Pune","state":"MH","pincode":"411001"}`)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.EqualValues(t, 1, resp["available"])
	assert.EqualValues(t, 4, resp["requested"])
	assert.Equal(t, productID.String(), resp["product_id"])
}

func TestOrderRoutes_UpdateStatusRejectsInvalidTransition(t *testing.T) {
	orderID := uuid.New()
	orders := stubOrders{updateStatus: func(id uuid.UUID, status model.OrderStatus) (*model.Order, error) {
		assert.Equal(t, orderID, id)
		if status != model.OrderStatusCompleted {
			return nil, fmt.Errorf("%w: completed -> %s", service.ErrInvalidTransition, status)
		}
		return &model.Order{ID: id, Status: status}, nil
	}}
	r := newRouter(stubCarts{}, orders)
	path := "/api/v1/admin/orders/" + orderID.String() + "/status"
	admin := bearer(t, uuid.New(), model.RoleAdmin)

	w, _ := send(r, http.MethodPatch, path, bearer(t, uuid.New(), model.RoleCustomer), `{"status":"pending"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp := send(r, http.MethodPatch, path, admin, `{"status":"pending"}`)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Contains(t, resp["error"], "invalid order status transition")

	w, _ = send(r, http.MethodPatch, "/api/v1/admin/orders/42/status", admin, `{"status":"completed"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = send(r, http.MethodPatch, path, admin, `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", resp["status"])
}

func TestAuthRoutes_MeReturnsProfile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	users := &memUsers{users: map[string]model.User{}}
	u := &model.User{Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace", Contact: "+44 20 7946 0000", Role: model.RoleCustomer}
	require.NoError(t, users.Create(context.Background(), u))

	h := NewAuthHandler(service.NewAuthService(users, testSecret, time.Hour))
	r := gin.New()
	r.GET("/api/v1/me", middleware.AuthMiddleware(testSecret), h.Me)

	w, _ := send(r, http.MethodGet, "/api/v1/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, resp := send(r, http.MethodGet, "/api/v1/me", bearer(t, u.ID, model.RoleCustomer), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Ada", resp["first_name"])
	assert.Equal(t, "Lovelace", resp["last_name"])
	assert.Equal(t, "+44 20 7946 0000", resp["contact"])
	assert.NotContains(t, w.Body.String(), "password")

	w, _ = send(r, http.MethodGet, "/api/v1/me", bearer(t, uuid.New(), model.RoleCustomer), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
