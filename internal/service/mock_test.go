package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flicky/storefront-api/internal/events"
	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/repository"
)

// memData is the full state of the fake database.
type memData struct {
	users      map[uuid.UUID]model.User
	categories map[uuid.UUID]model.Category
	offers     map[uuid.UUID]model.Offer
	products   map[uuid.UUID]model.Product
	carts      map[uuid.UUID]model.Cart
	cartLines  map[uuid.UUID]model.CartLine
	billing    map[uuid.UUID]model.BillingAddress
	orders     map[uuid.UUID]model.Order
	orderLines map[uuid.UUID]model.OrderLine
}

func newMemData() *memData {
	return &memData{
		users:      map[uuid.UUID]model.User{},
		categories: map[uuid.UUID]model.Category{},
		offers:     map[uuid.UUID]model.Offer{},
		products:   map[uuid.UUID]model.Product{},
		carts:      map[uuid.UUID]model.Cart{},
		cartLines:  map[uuid.UUID]model.CartLine{},
		billing:    map[uuid.UUID]model.BillingAddress{},
		orders:     map[uuid.UUID]model.Order{},
		orderLines: map[uuid.UUID]model.OrderLine{},
	}
}

func (d *memData) clone() *memData {
	return &memData{
		users:      maps.Clone(d.users),
		categories: maps.Clone(d.categories),
		offers:     maps.Clone(d.offers),
		products:   maps.Clone(d.products),
		carts:      maps.Clone(d.carts),
		cartLines:  maps.Clone(d.cartLines),
		billing:    maps.Clone(d.billing),
		orders:     maps.Clone(d.orders),
		orderLines: maps.Clone(d.orderLines),
	}
}

type txMarker struct{}

// memStore backs every repository with maps. Transactions are serialized by
// txMu and roll back by restoring the snapshot taken when they began. Single
// statements are atomic under mu.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data *memData
	tick time.Time
	// failOn makes the named operation return the mapped error.
	failOn map[string]error
	// ops logs lock and stock calls as "Op:id".
	ops []string
}

func newMemStore() *memStore {
	return &memStore{
		data:   newMemData(),
		tick:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		failOn: map[string]error{},
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txMarker{}, true)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// state returns a copy of the current data for before/after comparisons.
func (s *memStore) state() *memData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.clone()
}

// record must be called with mu held.
func (s *memStore) record(op string, id uuid.UUID) {
	s.ops = append(s.ops, op+":"+id.String())
}

// recorded returns the ids logged for op, in call order.
func (s *memStore) recorded(op string) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for _, entry := range s.ops {
		if rest, ok := strings.CutPrefix(entry, op+":"); ok {
			ids = append(ids, uuid.MustParse(rest))
		}
	}
	return ids
}

// calls returns the whole log in call order.
func (s *memStore) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ops)
}

func (s *memStore) fail(op string) error {
	return s.failOn[op]
}

// now must be called with mu held.
func (s *memStore) now() time.Time {
	s.tick = s.tick.Add(time.Millisecond)
	return s.tick
}

func (s *memStore) product(id uuid.UUID) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.products[id]
}

func (s *memStore) setStock(id uuid.UUID, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.data.products[id]
	p.Stock = stock
	s.data.products[id] = p
}

// --- users ---

type memUserRepo struct{ s *memStore }

func (r memUserRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.data.users {
		if strings.EqualFold(u.Email, user.Email) {
			return repository.ErrDuplicate
		}
	}
	user.ID = uuid.New()
	user.CreatedAt = r.s.now()
	user.UpdatedAt = user.CreatedAt
	r.s.data.users[user.ID] = *user
	return nil
}

func (r memUserRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r memUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.data.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

// --- catalog ---

type memCategoryRepo struct{ s *memStore }

func (r memCategoryRepo) Create(_ context.Context, c *model.Category) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.data.categories {
		if strings.EqualFold(existing.Name, c.Name) {
			return repository.ErrDuplicate
		}
	}
	c.ID = uuid.New()
	c.CreatedAt = r.s.now()
	r.s.data.categories[c.ID] = *c
	return nil
}

func (r memCategoryRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.data.categories[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r memCategoryRepo) List(_ context.Context) ([]model.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.Category, 0, len(r.s.data.categories))
	for _, c := range r.s.data.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memOfferRepo struct{ s *memStore }

func (r memOfferRepo) Create(_ context.Context, o *model.Offer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o.ID = uuid.New()
	o.CreatedAt = r.s.now()
	o.UpdatedAt = o.CreatedAt
	r.s.data.offers[o.ID] = *o
	return nil
}

func (r memOfferRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Offer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.data.offers[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r memOfferRepo) ShareLockByID(ctx context.Context, id uuid.UUID) (*model.Offer, error) {
	r.s.mu.Lock()
	r.s.record("ShareLockByID", id)
	r.s.mu.Unlock()
	return r.GetByID(ctx, id)
}

func (r memOfferRepo) Update(_ context.Context, o *model.Offer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.offers[o.ID]; !ok {
		return nil
	}
	o.UpdatedAt = r.s.now()
	r.s.data.offers[o.ID] = *o
	return nil
}

type memProductRepo struct{ s *memStore }

func (r memProductRepo) Create(_ context.Context, p *model.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = r.s.now()
	p.UpdatedAt = p.CreatedAt
	r.s.data.products[p.ID] = *p
	return nil
}

func (r memProductRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r memProductRepo) LockByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	r.s.mu.Lock()
	r.s.record("LockByID", id)
	r.s.mu.Unlock()
	return r.GetByID(ctx, id)
}

func (r memProductRepo) List(_ context.Context, f repository.ProductFilter) ([]model.Product, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var all []model.Product
	for _, p := range r.s.data.products {
		if f.Category != "" {
			c := r.s.data.categories[p.CategoryID]
			if !strings.EqualFold(c.Name, f.Category) {
				continue
			}
		}
		all = append(all, p)
	}

	less := func(a, b model.Product) int {
		switch f.Sort {
		case "name":
			return strings.Compare(a.Name, b.Name)
		case "price":
			return a.Price.Cmp(b.Price)
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		c := less(all[i], all[j])
		if f.Order == "desc" {
			c = -c
		}
		if c == 0 {
			return all[i].ID.String() < all[j].ID.String()
		}
		return c < 0
	})

	total := len(all)
	start := min(f.Offset, total)
	end := min(start+f.Limit, total)
	return all[start:end], total, nil
}

func (r memProductRepo) withOffer(match func(*uuid.UUID) bool) []model.Product {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Product
	for _, p := range r.s.data.products {
		if match(p.OfferID) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (r memProductRepo) ListByOfferID(_ context.Context, offerID uuid.UUID) ([]model.Product, error) {
	return r.withOffer(func(id *uuid.UUID) bool { return id != nil && *id == offerID }), nil
}

func (r memProductRepo) ListWithOffers(_ context.Context) ([]model.Product, error) {
	return r.withOffer(func(id *uuid.UUID) bool { return id != nil }), nil
}

func (r memProductRepo) Update(_ context.Context, p *model.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.data.products[p.ID]
	if !ok {
		return nil
	}
	existing.Name = p.Name
	existing.Description = p.Description
	existing.CategoryID = p.CategoryID
	existing.Price = p.Price
	existing.OfferID = p.OfferID
	existing.EffectivePrice = p.EffectivePrice
	existing.UpdatedAt = r.s.now()
	r.s.data.products[p.ID] = existing
	p.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r memProductRepo) UpdateEffectivePrice(_ context.Context, id uuid.UUID, price decimal.Decimal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.data.products[id]; ok {
		p.EffectivePrice = price
		r.s.data.products[id] = p
	}
	return nil
}

func (r memProductRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.products[id]; !ok {
		return repository.ErrNotFound
	}
	for _, l := range r.s.data.orderLines {
		if l.ProductID == id {
			return repository.ErrReferenced
		}
	}
	for lineID, l := range r.s.data.cartLines {
		if l.ProductID == id {
			delete(r.s.data.cartLines, lineID)
		}
	}
	delete(r.s.data.products, id)
	return nil
}

func (r memProductRepo) DecrementStock(_ context.Context, id uuid.UUID, quantity int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("DecrementStock"); err != nil {
		return false, err
	}
	r.s.record("DecrementStock", id)
	p, ok := r.s.data.products[id]
	if !ok || p.Stock < quantity {
		return false, nil
	}
	p.Stock -= quantity
	r.s.data.products[id] = p
	return true, nil
}

func (r memProductRepo) IncrementStock(_ context.Context, id uuid.UUID, quantity int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.record("IncrementStock", id)
	p, ok := r.s.data.products[id]
	if !ok {
		return false, nil
	}
	p.Stock += quantity
	r.s.data.products[id] = p
	return true, nil
}

// --- carts ---

type memCartRepo struct{ s *memStore }

func (r memCartRepo) GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.data.carts {
		if c.UserID == userID {
			return &c, nil
		}
	}
	now := r.s.now()
	c := model.Cart{ID: uuid.New(), UserID: userID, TotalPrice: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	r.s.data.carts[c.ID] = c
	return &c, nil
}

func (r memCartRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*model.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.data.carts {
		if c.UserID == userID {
			return &c, nil
		}
	}
	return nil, nil
}

func (r memCartRepo) LockCart(_ context.Context, cartID uuid.UUID) (*model.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.data.carts[cartID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r memCartRepo) ListLines(_ context.Context, cartID uuid.UUID) ([]model.CartLine, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var lines []model.CartLine
	for _, l := range r.s.data.cartLines {
		if l.CartID == cartID {
			lines = append(lines, l)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].CreatedAt.Before(lines[j].CreatedAt) })
	return lines, nil
}

func (r memCartRepo) LockLines(ctx context.Context, cartID uuid.UUID) ([]model.CartLine, error) {
	return r.ListLines(ctx, cartID)
}

func (r memCartRepo) GetLine(_ context.Context, lineID uuid.UUID) (*model.CartLine, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.data.cartLines[lineID]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (r memCartRepo) GetLineByProduct(_ context.Context, cartID, productID uuid.UUID) (*model.CartLine, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, l := range r.s.data.cartLines {
		if l.CartID == cartID && l.ProductID == productID {
			return &l, nil
		}
	}
	return nil, nil
}

func (r memCartRepo) CreateLine(_ context.Context, line *model.CartLine) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	line.ID = uuid.New()
	line.CreatedAt = r.s.now()
	line.UpdatedAt = line.CreatedAt
	r.s.data.cartLines[line.ID] = *line
	return nil
}

func (r memCartRepo) UpdateLineQuantity(_ context.Context, lineID uuid.UUID, quantity int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if l, ok := r.s.data.cartLines[lineID]; ok {
		l.Quantity = quantity
		r.s.data.cartLines[lineID] = l
	}
	return nil
}

func (r memCartRepo) DeleteLine(_ context.Context, lineID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.cartLines[lineID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.data.cartLines, lineID)
	return nil
}

func (r memCartRepo) ClearLines(_ context.Context, cartID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("ClearLines"); err != nil {
		return err
	}
	for id, l := range r.s.data.cartLines {
		if l.CartID == cartID {
			delete(r.s.data.cartLines, id)
		}
	}
	return nil
}

func (r memCartRepo) UpdateTotal(_ context.Context, cartID uuid.UUID, total decimal.Decimal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.data.carts[cartID]; ok {
		c.TotalPrice = total
		r.s.data.carts[cartID] = c
	}
	return nil
}

// --- orders ---

type memBillingRepo struct{ s *memStore }

func (r memBillingRepo) Create(_ context.Context, addr *model.BillingAddress) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	addr.ID = uuid.New()
	addr.CreatedAt = r.s.now()
	r.s.data.billing[addr.ID] = *addr
	return nil
}

func (r memBillingRepo) GetByID(_ context.Context, id uuid.UUID) (*model.BillingAddress, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.data.billing[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

type memOrderRepo struct{ s *memStore }

func (r memOrderRepo) Create(_ context.Context, order *model.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order.ID = uuid.New()
	order.CreatedAt = r.s.now()
	order.UpdatedAt = order.CreatedAt
	stored := *order
	stored.BillingAddress = nil
	stored.Lines = nil
	r.s.data.orders[order.ID] = stored
	return nil
}

func (r memOrderRepo) CreateLine(_ context.Context, line *model.OrderLine) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	line.ID = uuid.New()
	line.CreatedAt = r.s.now()
	r.s.data.orderLines[line.ID] = *line
	return nil
}

// load must be called with mu held.
func (r memOrderRepo) load(o model.Order) *model.Order {
	if addr, ok := r.s.data.billing[o.BillingAddressID]; ok {
		o.BillingAddress = &addr
	}
	o.Lines = nil
	for _, l := range r.s.data.orderLines {
		if l.OrderID == o.ID {
			o.Lines = append(o.Lines, l)
		}
	}
	sort.Slice(o.Lines, func(i, j int) bool { return o.Lines[i].CreatedAt.Before(o.Lines[j].CreatedAt) })
	return &o
}

func (r memOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.data.orders[id]
	if !ok {
		return nil, nil
	}
	return r.load(o), nil
}

func (r memOrderRepo) LockByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return r.GetByID(ctx, id)
}

func (r memOrderRepo) ListByUserID(_ context.Context, userID uuid.UUID) ([]model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Order
	for _, o := range r.s.data.orders {
		if o.UserID == userID {
			out = append(out, *r.load(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memOrderRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.OrderStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if o, ok := r.s.data.orders[id]; ok {
		o.Status = status
		o.UpdatedAt = r.s.now()
		r.s.data.orders[id] = o
	}
	return nil
}

// --- events ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

var errInjected = errors.New("injected failure")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
