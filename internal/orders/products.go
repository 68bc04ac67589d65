package orders

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"
)

const msgProductInUse = "Cannot delete product with associated orders"

// ProductManager is the plain CRUD side. Stock written here is an authoritative reset and does
// not go through order accounting.
type ProductManager struct {
	deps
}

func NewProductManager(store Store, opts ...Option) *ProductManager {
	return &ProductManager{deps: newDeps(store, opts)}
}

func (m *ProductManager) CreateProduct(ctx context.Context, in ProductInput) (*Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := m.now()
	p := &Product{
		Name:          in.Name,
		Description:   in.Description,
		Price:         in.Price,
		StockQuantity: in.StockQuantity,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertProduct(ctx, p)
	})
	if err != nil {
		return nil, m.fail("create product", err)
	}

	m.log.WithFields(logrus.Fields{"product_id": p.ID, "stock": p.StockQuantity}).Debug("product created")
	m.publishProduct(ctx, EventProductCreated, p)
	return p, nil
}

func (m *ProductManager) GetProduct(ctx context.Context, id int64) (*Product, error) {
	return m.store.GetProduct(ctx, id)
}

func (m *ProductManager) ListProducts(ctx context.Context, page Page) ([]Product, error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	return m.store.ListProducts(ctx, page)
}

func (m *ProductManager) UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (*Product, error) {
	if err := patch.validate(); err != nil {
		return nil, err
	}

	var updated *Product
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		patch.apply(p)
		p.UpdatedAt = m.now()
		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, m.fail("update product", err)
	}

	if patch.StockQuantity != nil {
		m.log.WithFields(logrus.Fields{"product_id": id, "stock": updated.StockQuantity}).Info("stock reset")
	}
	m.publishProduct(ctx, EventProductUpdated, updated)
	return updated, nil
}

// DeleteProduct refuses while any order, whatever its status, still references the product.
func (m *ProductManager) DeleteProduct(ctx context.Context, id int64) error {
	var deleted *Product
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		n, err := tx.CountOrdersByProduct(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return &ConflictError{Reason: msgProductInUse}
		}
		if err := tx.DeleteProduct(ctx, id); err != nil {
			return err
		}
		deleted = p
		return nil
	})
	if err != nil {
		return m.fail("delete product", err)
	}

	m.log.WithField("product_id", id).Debug("product deleted")
	m.publishProduct(ctx, EventProductDeleted, deleted)
	return nil
}

func (m *ProductManager) publishProduct(ctx context.Context, eventType string, p *Product) {
	m.publish(ctx, eventType, strconv.FormatInt(p.ID, 10), StockPayload{
		ProductID:      p.ID,
		StockAfter:     p.StockQuantity,
		ProductVersion: p.Version,
	})
}
