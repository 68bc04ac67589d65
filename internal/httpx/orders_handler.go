package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/redisx"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// idemSettleTimeout bounds Complete/Release, which run detached from the request context.
const idemSettleTimeout = 2 * time.Second

type OrdersHandler struct {
	Orders *orders.OrderManager
	Idem   *redisx.Idempotency // nil: Idempotency-Key is ignored
	Log    logrus.FieldLogger
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Put("/{id}", h.updateOrder)
		r.Delete("/{id}", h.deleteOrder)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	key := r.Header.Get(HeaderIdempotencyKey)
	claimed := false
	if key != "" && h.Idem != nil {
		res, orderID, err := h.Idem.Claim(ctx, key)
		switch {
		case err != nil:
			// redis is an accelerator; without it the request runs unprotected
			h.Log.WithError(err).WithField("idempotency_key", key).Warn("idempotency check skipped")
		case res == redisx.InFlight:
			writeJSON(w, http.StatusConflict, errorBody{Detail: "A request with this Idempotency-Key is still in progress"})
			return
		case res == redisx.Completed:
			o, err := h.Orders.GetOrder(ctx, orderID)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, toOrderResponse(o))
			return
		default:
			claimed = true
		}
	}

	o, err := h.Orders.CreateOrder(ctx, in)
	// settle the claim even when the request ctx has expired, or the key stays pending until its TTL
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idemSettleTimeout)
	defer cancel()
	if err != nil {
		if claimed {
			if rerr := h.Idem.Release(settleCtx, key); rerr != nil {
				h.Log.WithError(rerr).WithField("idempotency_key", key).Warn("release idempotency key")
			}
		}
		writeError(w, err)
		return
	}
	if claimed {
		if cerr := h.Idem.Complete(settleCtx, key, o.ID); cerr != nil {
			h.Log.WithError(cerr).WithField("idempotency_key", key).Warn("complete idempotency key")
		}
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	page, err := queryPage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := h.Orders.ListOrders(r.Context(), page)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]orderResponse, 0, len(list))
	for i := range list {
		out = append(out, toOrderResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	o, err := h.Orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *OrdersHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	o, err := h.Orders.UpdateOrder(r.Context(), id, orders.UpdateOrderInput{Quantity: req.Quantity, Status: req.Status})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Orders.DeleteOrder(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
