package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/redisx"
)

type ProductsHandler struct {
	Products *orders.ProductManager
	Stock    *redisx.StockProjection // nil: stock is always read from the database
	Log      logrus.FieldLogger
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
		r.Get("/{id}/stock", h.stock)
	})
}

func (h *ProductsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.Products.CreateProduct(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

func (h *ProductsHandler) list(w http.ResponseWriter, r *http.Request) {
	page, err := queryPage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ps, err := h.Products.ListProducts(r.Context(), page)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]*productResponse, 0, len(ps))
	for i := range ps {
		out = append(out, toProductResponse(&ps[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ProductsHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.Products.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func (h *ProductsHandler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.Products.UpdateProduct(r.Context(), id, req.patch())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func (h *ProductsHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Products.DeleteProduct(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// stock serves the projected snapshot and falls back to the product row when redis has none.
func (h *ProductsHandler) stock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if h.Stock != nil {
		snap, ok, err := h.Stock.Get(r.Context(), id)
		if err != nil {
			h.Log.WithError(err).WithField("product_id", id).Warn("stock projection read failed")
		}
		if ok {
			writeJSON(w, http.StatusOK, stockResponse{
				ProductID:     snap.ProductID,
				StockQuantity: snap.Stock,
				Version:       snap.Version,
				UpdatedAt:     snap.UpdatedAt,
				Source:        "projection",
			})
			return
		}
	}

	p, err := h.Products.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResponse{
		ProductID:     p.ID,
		StockQuantity: p.StockQuantity,
		Version:       p.Version,
		UpdatedAt:     p.UpdatedAt,
		Source:        "database",
	})
}
