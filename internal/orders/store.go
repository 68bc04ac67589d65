package orders

import "context"

// Tx is the set of row operations available inside one unit of work. Every method must observe
// the writes made earlier in the same Tx.
type Tx interface {
	// LockProduct returns the product and holds it exclusively until the unit of work ends.
	// A missing row is reported as *NotFoundError.
	LockProduct(ctx context.Context, id int64) (*Product, error)
	// LockOrder returns the order (without Product) and holds it until the unit of work ends.
	LockOrder(ctx context.Context, id int64) (*Order, error)

	InsertProduct(ctx context.Context, p *Product) error
	SaveProduct(ctx context.Context, p *Product) error
	DeleteProduct(ctx context.Context, id int64) error
	CountOrdersByProduct(ctx context.Context, productID int64) (int, error)

	InsertOrder(ctx context.Context, o *Order) error
	SaveOrder(ctx context.Context, o *Order) error
	DeleteOrder(ctx context.Context, id int64) error
}

// Store is implemented by Repo (postgres) and MemoryStore.
type Store interface {
	// WithinTx runs fn as one atomic unit: fn's writes are committed together when it returns
	// nil and discarded when it returns an error or the commit fails.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetProduct(ctx context.Context, id int64) (*Product, error)
	ListProducts(ctx context.Context, page Page) ([]Product, error)
	// GetOrder and ListOrders populate Order.Product with the current product row.
	GetOrder(ctx context.Context, id int64) (*Order, error)
	ListOrders(ctx context.Context, page Page) ([]Order, error)

	Ping(ctx context.Context) error
}
