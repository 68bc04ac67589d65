package orders

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps products and orders in process memory. Units of work are serialized by a
// single mutex and run against a private copy of the state that replaces the shared state only
// when the unit returns nil, so a failing unit leaves nothing behind.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	products      map[int64]Product
	orders        map[int64]Order
	nextProductID int64
	nextOrderID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memState{
		products:      map[int64]Product{},
		orders:        map[int64]Order{},
		nextProductID: 1,
		nextOrderID:   1,
	}}
}

func (s memState) clone() memState {
	out := memState{
		products:      make(map[int64]Product, len(s.products)),
		orders:        make(map[int64]Order, len(s.orders)),
		nextProductID: s.nextProductID,
		nextOrderID:   s.nextOrderID,
	}
	for k, v := range s.products {
		out.products[k] = v
	}
	for k, v := range s.orders {
		out.orders[k] = v
	}
	return out
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{state: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	// a cancelled context aborts the commit like a dropped connection would
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id int64) (*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.state.products[id]
	if !ok {
		return nil, &NotFoundError{Entity: "Product", ID: id}
	}
	return &p, nil
}

func (s *MemoryStore) ListProducts(_ context.Context, page Page) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := sortedKeys(s.state.products)
	out := make([]Product, 0, page.Limit)
	for _, id := range paginate(ids, page) {
		out = append(out, s.state.products[id])
	}
	return out, nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id int64) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.state.orders[id]
	if !ok {
		return nil, &NotFoundError{Entity: "Order", ID: id}
	}
	s.attachProduct(&o)
	return &o, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, page Page) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := sortedKeys(s.state.orders)
	out := make([]Order, 0, page.Limit)
	for _, id := range paginate(ids, page) {
		o := s.state.orders[id]
		s.attachProduct(&o)
		out = append(out, o)
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) attachProduct(o *Order) {
	if p, ok := s.state.products[o.ProductID]; ok {
		o.Product = &p
	}
}

func sortedKeys[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func paginate(ids []int64, page Page) []int64 {
	if page.Skip >= len(ids) {
		return nil
	}
	ids = ids[page.Skip:]
	if page.Limit > 0 && page.Limit < len(ids) {
		ids = ids[:page.Limit]
	}
	return ids
}

type memTx struct {
	state memState
}

func (t *memTx) LockProduct(_ context.Context, id int64) (*Product, error) {
	p, ok := t.state.products[id]
	if !ok {
		return nil, &NotFoundError{Entity: "Product", ID: id}
	}
	return &p, nil
}

func (t *memTx) LockOrder(_ context.Context, id int64) (*Order, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return nil, &NotFoundError{Entity: "Order", ID: id}
	}
	return &o, nil
}

func (t *memTx) InsertProduct(_ context.Context, p *Product) error {
	p.ID = t.state.nextProductID
	p.Version = 1
	t.state.nextProductID++
	t.state.products[p.ID] = *p
	return nil
}

func (t *memTx) SaveProduct(_ context.Context, p *Product) error {
	cur, ok := t.state.products[p.ID]
	if !ok {
		return &NotFoundError{Entity: "Product", ID: p.ID}
	}
	p.Version = cur.Version + 1
	p.CreatedAt = cur.CreatedAt
	t.state.products[p.ID] = *p
	return nil
}

func (t *memTx) DeleteProduct(_ context.Context, id int64) error {
	if _, ok := t.state.products[id]; !ok {
		return &NotFoundError{Entity: "Product", ID: id}
	}
	for _, o := range t.state.orders {
		if o.ProductID == id {
			return &ConflictError{Reason: msgProductInUse}
		}
	}
	delete(t.state.products, id)
	return nil
}

func (t *memTx) CountOrdersByProduct(_ context.Context, productID int64) (int, error) {
	n := 0
	for _, o := range t.state.orders {
		if o.ProductID == productID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *Order) error {
	if _, ok := t.state.products[o.ProductID]; !ok {
		return &NotFoundError{Entity: "Product", ID: o.ProductID}
	}
	o.ID = t.state.nextOrderID
	t.state.nextOrderID++
	row := *o
	row.Product = nil
	t.state.orders[o.ID] = row
	return nil
}

func (t *memTx) SaveOrder(_ context.Context, o *Order) error {
	cur, ok := t.state.orders[o.ID]
	if !ok {
		return &NotFoundError{Entity: "Order", ID: o.ID}
	}
	row := *o
	row.Product = nil
	row.ProductID = cur.ProductID
	row.CreatedAt = cur.CreatedAt
	t.state.orders[o.ID] = row
	return nil
}

func (t *memTx) DeleteOrder(_ context.Context, id int64) error {
	if _, ok := t.state.orders[id]; !ok {
		return &NotFoundError{Entity: "Order", ID: id}
	}
	delete(t.state.orders, id)
	return nil
}
