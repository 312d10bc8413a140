// Package memstore is an in-process implementation of the store interfaces.
// Transactions are fully serialized: a transaction works on a private copy of
// the data that replaces the shared state only on commit.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"

	"github.com/shopspring/decimal"
)

type state struct {
	seq       int64
	products  map[int64]models.Product
	movements []models.StockMovement
	customers map[int64]models.Customer
	cashback  map[int64]models.CashbackTransaction
	orders    map[int64]models.Order
	items     map[int64]models.OrderItem
	discounts map[int64]models.OrderDiscount
	reasons   map[int64]models.DiscountReason
	cart      map[int64]models.CartItem
}

func newState() *state {
	return &state{
		products:  map[int64]models.Product{},
		customers: map[int64]models.Customer{},
		cashback:  map[int64]models.CashbackTransaction{},
		orders:    map[int64]models.Order{},
		items:     map[int64]models.OrderItem{},
		discounts: map[int64]models.OrderDiscount{},
		reasons:   map[int64]models.DiscountReason{},
		cart:      map[int64]models.CartItem{},
	}
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.products {
		c.products[k] = v
	}
	c.movements = append([]models.StockMovement(nil), s.movements...)
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.cashback {
		c.cashback[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.discounts {
		c.discounts[k] = v
	}
	for k, v := range s.reasons {
		c.reasons[k] = v
	}
	for k, v := range s.cart {
		c.cart[k] = v
	}
	return c
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// Store implements store.TxManager in memory.
type Store struct {
	mu     sync.Mutex
	data   *state
	now    func() time.Time
	faults map[string]error
}

// New returns an empty store. now stamps audit columns; nil means time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{data: newState(), now: now, faults: map[string]error{}}
}

// InjectFault makes the named Tx method fail with err until cleared with a nil err.
func (s *Store) InjectFault(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, method)
		return
	}
	s.faults[method] = err
}

// WithinTx runs fn against a private copy of the data and publishes it only if fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return apperr.Internal(err, "begin transaction")
	}

	tx := &memTx{st: s.data.clone(), now: s.now(), faults: s.faults}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.data = tx.st
	return nil
}

var _ store.TxManager = (*Store)(nil)

func (s *Store) stamp() models.AuditInfo {
	now := s.now()
	return models.AuditInfo{CreatedAt: now, UpdatedAt: now}
}

// SeedProduct inserts a product and returns its ID.
func (s *Store) SeedProduct(p models.Product) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.data.nextID()
	}
	if p.Status == "" {
		p.Status = models.ProductActive
	}
	p.AuditInfo = s.stamp()
	s.data.products[p.ID] = p
	return p.ID
}

// SeedCustomer inserts a customer and returns its ID.
func (s *Store) SeedCustomer(c models.Customer) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.data.nextID()
	}
	c.AuditInfo = s.stamp()
	s.data.customers[c.ID] = c
	return c.ID
}

// SeedCashback inserts a ledger entry as-is and refreshes the customer's cached
// balance the same way the ledger would.
func (s *Store) SeedCashback(c models.CashbackTransaction) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.data.nextID()
	}
	c.AuditInfo = s.stamp()
	s.data.cashback[c.ID] = c

	if cust, ok := s.data.customers[c.CustomerID]; ok {
		now := s.now()
		total := decimal.Zero
		for _, b := range s.data.cashback {
			if b.CustomerID == c.CustomerID && b.IsAvailable(now) {
				total = total.Add(b.RemainingAmount)
			}
		}
		cust.CashbackBalance = total
		s.data.customers[c.CustomerID] = cust
	}
	return c.ID
}

// SeedDiscountReason inserts a discount reason and returns its ID.
func (s *Store) SeedDiscountReason(r models.DiscountReason) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		r.ID = s.data.nextID()
	}
	r.AuditInfo = s.stamp()
	s.data.reasons[r.ID] = r
	return r.ID
}

// SeedCartItem adds a line to a customer's cart.
func (s *Store) SeedCartItem(ci models.CartItem) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ci.ID == 0 {
		ci.ID = s.data.nextID()
	}
	ci.AuditInfo = s.stamp()
	s.data.cart[ci.ID] = ci
	return ci.ID
}

// Product returns the committed product.
func (s *Store) Product(id int64) (models.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.products[id]
	return p, ok
}

// Customer returns the committed customer.
func (s *Store) Customer(id int64) (models.Customer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data.customers[id]
	return c, ok
}

// Order returns the committed order.
func (s *Store) Order(id int64) (models.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.data.orders[id]
	return o, ok
}

// CashbackEntries returns the customer's committed ledger entries in ID order.
func (s *Store) CashbackEntries(customerID int64) []models.CashbackTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CashbackTransaction
	for _, c := range s.data.cashback {
		if c.CustomerID == customerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CashbackEntry returns one committed ledger entry.
func (s *Store) CashbackEntry(id int64) (models.CashbackTransaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data.cashback[id]
	return c, ok
}

// Movements returns committed stock movements for a product.
func (s *Store) Movements(productID int64) []models.StockMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StockMovement
	for _, m := range s.data.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out
}

// CartSize counts live cart lines for a customer.
func (s *Store) CartSize(customerID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ci := range s.data.cart {
		if ci.CustomerID == customerID && !ci.IsDeleted() {
			n++
		}
	}
	return n
}
