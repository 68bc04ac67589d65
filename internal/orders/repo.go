package orders

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Repo is the postgres Store. Stock read-modify-write happens on rows locked with
// SELECT ... FOR UPDATE inside a read committed transaction, so concurrent units of work on the
// same product queue up behind each other instead of overselling.
type Repo struct {
	DB *pgxpool.Pool

	// RetryMaxElapsed bounds the retries of serialization failures and deadlocks. Zero disables
	// retrying.
	RetryMaxElapsed time.Duration
}

const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateForeignKeyViolation  = "23503"
)

func (r *Repo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if r.RetryMaxElapsed <= 0 {
		return r.runTx(ctx, fn)
	}

	operation := func() (struct{}, error) {
		err := r.runTx(ctx, fn)
		if err != nil && !isRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(r.RetryMaxElapsed),
	)
	return err
}

func (r *Repo) runTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }() // no-op after commit

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlstateSerializationFailure || pgErr.Code == sqlstateDeadlockDetected
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

const productColumns = `id, name, description, price::text, stock_quantity, version, created_at, updated_at`

const orderColumns = `o.id, o.product_id, o.quantity, o.total_price::text, o.status, o.created_at, o.updated_at,
       p.id, p.name, p.description, p.price::text, p.stock_quantity, p.version, p.created_at, p.updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var (
		p     Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.StockQuantity, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, errors.Wrapf(err, "decode price of product %d", p.ID)
	}
	p.Price = d
	return &p, nil
}

// scanOrderWithProduct reads one row selected with orderColumns.
func scanOrderWithProduct(row pgx.Row) (*Order, error) {
	var (
		o                 Order
		p                 Product
		total, price, sts string
	)
	err := row.Scan(
		&o.ID, &o.ProductID, &o.Quantity, &total, &sts, &o.CreatedAt, &o.UpdatedAt,
		&p.ID, &p.Name, &p.Description, &price, &p.StockQuantity, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if o.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return nil, errors.Wrapf(err, "decode total_price of order %d", o.ID)
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, errors.Wrapf(err, "decode price of product %d", p.ID)
	}
	o.Status = Status(sts)
	o.Product = &p
	return &o, nil
}

func (r *Repo) GetProduct(ctx context.Context, id int64) (*Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "Product", ID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "select product")
	}
	return p, nil
}

func (r *Repo) ListProducts(ctx context.Context, page Page) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productColumns+`
                                FROM products ORDER BY id OFFSET $1 LIMIT $2`, page.Skip, page.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	defer rows.Close()

	out := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *Repo) GetOrder(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrderWithProduct(r.DB.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders o JOIN products p ON p.id = o.product_id
		WHERE o.id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "Order", ID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return o, nil
}

func (r *Repo) ListOrders(ctx context.Context, page Page) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders o JOIN products p ON p.id = o.product_id
		ORDER BY o.id OFFSET $1 LIMIT $2`, page.Skip, page.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrderWithProduct(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *Repo) Ping(ctx context.Context) error {
	return r.DB.Ping(ctx)
}
