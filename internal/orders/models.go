package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            int64
	Name          string
	Description   string
	Price         decimal.Decimal
	StockQuantity int
	Version       int64 // bumped on every write of the row
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Order struct {
	ID         int64
	ProductID  int64
	Quantity   int
	TotalPrice decimal.Decimal // price * quantity as of the last quantity change
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Product is the referenced row as read together with the order; nil when it no longer exists.
	Product *Product
}

type CreateOrderInput struct {
	ProductID int64
	Quantity  int
}

// UpdateOrderInput carries optional fields; nil means "leave unchanged".
type UpdateOrderInput struct {
	Quantity *int
	Status   *Status
}

type ProductInput struct {
	Name          string
	Description   string
	Price         decimal.Decimal
	StockQuantity int
}

type ProductPatch struct {
	Name          *string
	Description   *string
	Price         *decimal.Decimal
	StockQuantity *int
}

const (
	DefaultPageSize = 100
	MaxPageSize     = 100
)

type Page struct {
	Skip  int
	Limit int
}

// Normalize applies the default and cap to Limit and rejects negative values.
func (p Page) Normalize() (Page, error) {
	if p.Skip < 0 {
		return p, &ValidationError{Field: "skip", Reason: "must be greater than or equal to 0"}
	}
	if p.Limit < 0 {
		return p, &ValidationError{Field: "limit", Reason: "must be greater than or equal to 0"}
	}
	if p.Limit == 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p, nil
}

func (in CreateOrderInput) validate() error {
	if in.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Reason: "must be greater than 0"}
	}
	return nil
}

func (in UpdateOrderInput) validate() error {
	if in.Quantity != nil && *in.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Reason: "must be greater than 0"}
	}
	if in.Status != nil && !in.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown status " + string(*in.Status)}
	}
	return nil
}

func (in ProductInput) validate() error {
	return validateProductFields(&in.Name, &in.Price, &in.StockQuantity)
}

func (p ProductPatch) validate() error {
	return validateProductFields(p.Name, p.Price, p.StockQuantity)
}

const priceScale = 2

var maxPrice = decimal.New(1, 10)

func validateProductFields(name *string, price *decimal.Decimal, stock *int) error {
	if name != nil && *name == "" {
		return &ValidationError{Field: "name", Reason: "must have at least 1 character"}
	}
	if price != nil {
		switch {
		case !price.IsPositive():
			return &ValidationError{Field: "price", Reason: "must be greater than 0"}
		case !price.Equal(price.Truncate(priceScale)):
			// stored as NUMERIC(12,2)
			return &ValidationError{Field: "price", Reason: "must have at most 2 decimal places"}
		case price.GreaterThanOrEqual(maxPrice):
			return &ValidationError{Field: "price", Reason: "must be less than 10000000000"}
		}
	}
	if stock != nil && *stock < 0 {
		return &ValidationError{Field: "stock_quantity", Reason: "must be greater than or equal to 0"}
	}
	return nil
}

func (p ProductPatch) apply(prod *Product) {
	if p.Name != nil {
		prod.Name = *p.Name
	}
	if p.Description != nil {
		prod.Description = *p.Description
	}
	if p.Price != nil {
		prod.Price = *p.Price
	}
	if p.StockQuantity != nil {
		prod.StockQuantity = *p.StockQuantity
	}
}
