package orders

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// pgTx implements Tx on an open pgx transaction. Rows returned by the Lock* methods stay locked
// until the surrounding WithinTx commits or rolls back.
type pgTx struct{ tx pgx.Tx }

func (t *pgTx) LockProduct(ctx context.Context, id int64) (*Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "Product", ID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock product")
	}
	return p, nil
}

func (t *pgTx) LockOrder(ctx context.Context, id int64) (*Order, error) {
	var (
		o          Order
		total, sts string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, product_id, quantity, total_price::text, status, created_at, updated_at
		FROM orders WHERE id=$1 FOR UPDATE`, id).
		Scan(&o.ID, &o.ProductID, &o.Quantity, &total, &sts, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "Order", ID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock order")
	}
	if o.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return nil, errors.Wrapf(err, "decode total_price of order %d", id)
	}
	o.Status = Status(sts)
	return &o, nil
}

func (t *pgTx) InsertProduct(ctx context.Context, p *Product) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO products(name, description, price, stock_quantity, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)
		RETURNING id, version`,
		p.Name, p.Description, p.Price.String(), p.StockQuantity, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID, &p.Version)
	return errors.Wrap(err, "insert product")
}

func (t *pgTx) SaveProduct(ctx context.Context, p *Product) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE products
		SET name=$2, description=$3, price=$4::numeric, stock_quantity=$5, updated_at=$6, version = version + 1
		WHERE id=$1
		RETURNING version, created_at`,
		p.ID, p.Name, p.Description, p.Price.String(), p.StockQuantity, p.UpdatedAt,
	).Scan(&p.Version, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &NotFoundError{Entity: "Product", ID: p.ID}
	}
	return errors.Wrap(err, "update product")
}

func (t *pgTx) DeleteProduct(ctx context.Context, id int64) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if pgCode(err) == sqlstateForeignKeyViolation {
		// orders.product_id is ON DELETE RESTRICT
		return &ConflictError{Reason: msgProductInUse}
	}
	if err != nil {
		return errors.Wrap(err, "delete product")
	}
	if ct.RowsAffected() != 1 {
		return &NotFoundError{Entity: "Product", ID: id}
	}
	return nil
}

func (t *pgTx) CountOrdersByProduct(ctx context.Context, productID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE product_id=$1`, productID).Scan(&n)
	return n, errors.Wrap(err, "count orders")
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders(product_id, quantity, total_price, status, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)
		RETURNING id`,
		o.ProductID, o.Quantity, o.TotalPrice.String(), string(o.Status), o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID)
	if pgCode(err) == sqlstateForeignKeyViolation {
		return &NotFoundError{Entity: "Product", ID: o.ProductID}
	}
	return errors.Wrap(err, "insert order")
}

func (t *pgTx) SaveOrder(ctx context.Context, o *Order) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET quantity=$2, total_price=$3::numeric, status=$4, updated_at=$5
		WHERE id=$1`,
		o.ID, o.Quantity, o.TotalPrice.String(), string(o.Status), o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "update order")
	}
	if ct.RowsAffected() != 1 {
		return &NotFoundError{Entity: "Order", ID: o.ID}
	}
	return nil
}

func (t *pgTx) DeleteOrder(ctx context.Context, id int64) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return errors.Wrap(err, "delete order")
	}
	if ct.RowsAffected() != 1 {
		return &NotFoundError{Entity: "Order", ID: id}
	}
	return nil
}
