package httpx

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
)

type productRequest struct {
	Name          *string          `json:"name"`
	Description   *string          `json:"description"`
	Price         *decimal.Decimal `json:"price"`
	StockQuantity *int             `json:"stock_quantity"`
}

// input requires every field, as creation does.
func (p productRequest) input() (orders.ProductInput, error) {
	switch {
	case p.Name == nil:
		return orders.ProductInput{}, required("name")
	case p.Description == nil:
		return orders.ProductInput{}, required("description")
	case p.Price == nil:
		return orders.ProductInput{}, required("price")
	case p.StockQuantity == nil:
		return orders.ProductInput{}, required("stock_quantity")
	}
	return orders.ProductInput{
		Name:          *p.Name,
		Description:   *p.Description,
		Price:         *p.Price,
		StockQuantity: *p.StockQuantity,
	}, nil
}

func (p productRequest) patch() orders.ProductPatch {
	return orders.ProductPatch{
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
	}
}

type productResponse struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Price         float64 `json:"price"`
	StockQuantity int     `json:"stock_quantity"`
}

func toProductResponse(p *orders.Product) *productResponse {
	if p == nil {
		return nil
	}
	return &productResponse{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price.InexactFloat64(),
		StockQuantity: p.StockQuantity,
	}
}

type createOrderRequest struct {
	ProductID *int64 `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

func (c createOrderRequest) input() (orders.CreateOrderInput, error) {
	switch {
	case c.ProductID == nil:
		return orders.CreateOrderInput{}, required("product_id")
	case c.Quantity == nil:
		return orders.CreateOrderInput{}, required("quantity")
	}
	return orders.CreateOrderInput{ProductID: *c.ProductID, Quantity: *c.Quantity}, nil
}

type updateOrderRequest struct {
	Quantity *int           `json:"quantity"`
	Status   *orders.Status `json:"status"`
}

type orderResponse struct {
	ID         int64            `json:"id"`
	ProductID  int64            `json:"product_id"`
	Quantity   int              `json:"quantity"`
	TotalPrice float64          `json:"total_price"`
	Status     orders.Status    `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	Product    *productResponse `json:"product"`
}

func toOrderResponse(o *orders.Order) orderResponse {
	return orderResponse{
		ID:         o.ID,
		ProductID:  o.ProductID,
		Quantity:   o.Quantity,
		TotalPrice: o.TotalPrice.InexactFloat64(),
		Status:     o.Status,
		CreatedAt:  o.CreatedAt,
		Product:    toProductResponse(o.Product),
	}
}

type stockResponse struct {
	ProductID     int64     `json:"product_id"`
	StockQuantity int       `json:"stock_quantity"`
	Version       int64     `json:"version"`
	UpdatedAt     time.Time `json:"updated_at"`
	Source        string    `json:"source"` // "projection" | "database"
}
