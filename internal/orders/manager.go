package orders

import (
	"context"
	"errors"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// OrderManager mediates every order mutation through the referenced product's stock. Each
// mutation runs as one unit of work: the stock change and the order row change commit together
// or not at all.
type OrderManager struct {
	deps
}

func NewOrderManager(store Store, opts ...Option) *OrderManager {
	return &OrderManager{deps: newDeps(store, opts)}
}

func totalPrice(price decimal.Decimal, qty int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(qty)))
}

func (m *OrderManager) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var created *Order
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		product, err := tx.LockProduct(ctx, in.ProductID)
		if err != nil {
			return err
		}
		if product.StockQuantity < in.Quantity {
			return &InsufficientStockError{
				ProductID: product.ID, Requested: in.Quantity, Available: product.StockQuantity,
			}
		}

		now := m.now()
		product.StockQuantity -= in.Quantity
		product.UpdatedAt = now
		if err := tx.SaveProduct(ctx, product); err != nil {
			return err
		}

		order := &Order{
			ProductID:  product.ID,
			Quantity:   in.Quantity,
			TotalPrice: totalPrice(product.Price, in.Quantity),
			Status:     StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		order.Product = product
		created = order
		return nil
	})
	if err != nil {
		return nil, m.fail("create order", err)
	}

	m.log.WithFields(logrus.Fields{
		"order_id":    created.ID,
		"product_id":  created.ProductID,
		"delta":       -created.Quantity,
		"stock_after": created.Product.StockQuantity,
	}).Debug("order created")
	m.publish(ctx, EventOrderCreated, strconv.FormatInt(created.ID, 10), StockPayload{
		ProductID:      created.ProductID,
		StockAfter:     created.Product.StockQuantity,
		ProductVersion: created.Product.Version,
		OrderID:        created.ID,
		Quantity:       created.Quantity,
		QuantityDelta:  created.Quantity,
		Status:         created.Status,
	})
	return created, nil
}

func (m *OrderManager) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return m.store.GetOrder(ctx, id)
}

func (m *OrderManager) ListOrders(ctx context.Context, page Page) ([]Order, error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	return m.store.ListOrders(ctx, page)
}

// UpdateOrder applies the optional quantity and status together. A quantity increase that the
// stock cannot cover rejects the whole call, status included.
func (m *OrderManager) UpdateOrder(ctx context.Context, id int64, in UpdateOrderInput) (*Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var (
		updated *Order
		delta   int
	)
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		delta = 0
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		product, err := tx.LockProduct(ctx, order.ProductID)
		if err != nil {
			return err
		}

		now := m.now()
		if in.Quantity != nil {
			delta = *in.Quantity - order.Quantity
			if delta > 0 && product.StockQuantity < delta {
				return &InsufficientStockError{
					ProductID: product.ID, Requested: delta, Available: product.StockQuantity,
				}
			}
			if delta != 0 {
				product.StockQuantity -= delta
				product.UpdatedAt = now
				if err := tx.SaveProduct(ctx, product); err != nil {
					return err
				}
			}
			order.Quantity = *in.Quantity
			order.TotalPrice = totalPrice(product.Price, *in.Quantity)
		}
		if in.Status != nil {
			// No stock is returned on cancellation; see DeleteOrder.
			order.Status = *in.Status
		}

		order.UpdatedAt = now
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		order.Product = product
		updated = order
		return nil
	})
	if err != nil {
		return nil, m.fail("update order", err)
	}

	m.log.WithFields(logrus.Fields{
		"order_id":    updated.ID,
		"product_id":  updated.ProductID,
		"delta":       -delta,
		"status":      updated.Status,
		"stock_after": updated.Product.StockQuantity,
	}).Debug("order updated")
	m.publish(ctx, EventOrderUpdated, strconv.FormatInt(updated.ID, 10), StockPayload{
		ProductID:      updated.ProductID,
		StockAfter:     updated.Product.StockQuantity,
		ProductVersion: updated.Product.Version,
		OrderID:        updated.ID,
		Quantity:       updated.Quantity,
		QuantityDelta:  delta,
		Status:         updated.Status,
	})
	return updated, nil
}

// DeleteOrder releases the order's quantity back to stock unless the order is cancelled.
func (m *OrderManager) DeleteOrder(ctx context.Context, id int64) error {
	var (
		deleted  *Order
		product  *Product
		restored int
	)
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		restored = 0
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		product, err = tx.LockProduct(ctx, order.ProductID)
		switch {
		case errors.Is(err, ErrNotFound):
			product = nil
		case err != nil:
			return err
		}

		if order.Status != StatusCancelled && product != nil {
			product.StockQuantity += order.Quantity
			product.UpdatedAt = m.now()
			if err := tx.SaveProduct(ctx, product); err != nil {
				return err
			}
			restored = order.Quantity
		}

		if err := tx.DeleteOrder(ctx, order.ID); err != nil {
			return err
		}
		deleted = order
		return nil
	})
	if err != nil {
		return m.fail("delete order", err)
	}

	fields := logrus.Fields{"order_id": deleted.ID, "product_id": deleted.ProductID, "delta": restored}
	if product != nil {
		fields["stock_after"] = product.StockQuantity
	}
	m.log.WithFields(fields).Debug("order deleted")

	if product == nil {
		return nil
	}
	m.publish(ctx, EventOrderDeleted, strconv.FormatInt(deleted.ID, 10), StockPayload{
		ProductID:      product.ID,
		StockAfter:     product.StockQuantity,
		ProductVersion: product.Version,
		OrderID:        deleted.ID,
		Quantity:       deleted.Quantity,
		QuantityDelta:  -restored,
		Status:         deleted.Status,
	})
	return nil
}
