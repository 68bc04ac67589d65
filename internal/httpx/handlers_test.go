package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/redisx"
)

type testAPI struct {
	router *chi.Mux
	mr     *miniredis.Miniredis
	stock  *redisx.StockProjection
}

func newTestAPI(t *testing.T, ready ...Pinger) testAPI {
	t.Helper()
	return newTestAPIWith(t, orders.NewMemoryStore(), 5*time.Second, ready...)
}

func newTestAPIWith(t *testing.T, store orders.Store, timeout time.Duration, ready ...Pinger) testAPI {
	t.Helper()
	logger, _ := test.NewNullLogger()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	stock := &redisx.StockProjection{Client: rdb}
	r := NewRouter(logger, timeout, append([]Pinger{store}, ready...)...)
	(&ProductsHandler{Products: orders.NewProductManager(store, orders.WithLogger(logger)), Stock: stock, Log: logger}).Register(r)
	(&OrdersHandler{
		Orders: orders.NewOrderManager(store, orders.WithLogger(logger)),
		Idem:   &redisx.Idempotency{Client: rdb, TTL: time.Hour},
		Log:    logger,
	}).Register(r)
	return testAPI{router: r, mr: mr, stock: stock}
}

func (a testAPI) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[errorBody](t, rec).Detail
}

func (a testAPI) seedProduct(t *testing.T, stock int) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/products/", `{"name":"widget","description":"blue","price":10.0,"stock_quantity":`+strconv.Itoa(stock)+`}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRootAndHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Welcome to Orders and Products API"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/readyz", "").Code)
}

func TestReadyzReportsFailingDependency(t *testing.T) {
	api := newTestAPI(t, PingFunc(func(context.Context) error { return errors.New("down") }))
	rec := api.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	api.seedProduct(t, 10)

	rec := api.do(t, http.MethodPost, "/orders/", `{"product_id":1,"quantity":5}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[orderResponse](t, rec)
	assert.EqualValues(t, 1, created.ID)
	assert.Equal(t, 50.0, created.TotalPrice)
	assert.Equal(t, orders.StatusPending, created.Status)
	require.NotNil(t, created.Product)
	assert.Equal(t, 5, created.Product.StockQuantity)

	rec = api.do(t, http.MethodPost, "/orders", `{"product_id":1,"quantity":15}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Not enough stock. Available: 5", detail(t, rec))

	rec = api.do(t, http.MethodPut, "/orders/1", `{"quantity":7}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 70.0, decode[orderResponse](t, rec).TotalPrice)

	rec = api.do(t, http.MethodPut, "/orders/1/", `{"status":"CANCELLED"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, orders.StatusCancelled, decode[orderResponse](t, rec).Status)

	rec = api.do(t, http.MethodDelete, "/orders/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/products/1", "")
	assert.Equal(t, 3, decode[productResponse](t, rec).StockQuantity, "cancelled order keeps its stock")

	rec = api.do(t, http.MethodGet, "/orders/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Order with id 1 not found", detail(t, rec))
}

func TestListOrdersPagingOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	api.seedProduct(t, 10)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/orders/", `{"product_id":1,"quantity":1}`).Code)
	}

	for _, path := range []string{"/orders", "/orders/"} {
		rec := api.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]orderResponse](t, rec), 3)
	}

	rec := api.do(t, http.MethodGet, "/orders/?skip=1&limit=1", "")
	list := decode[[]orderResponse](t, rec)
	require.Len(t, list, 1)
	assert.EqualValues(t, 2, list[0].ID)

	rec = api.do(t, http.MethodGet, "/orders/?skip=abc", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = api.do(t, http.MethodGet, "/products/?limit=-5", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	api := newTestAPI(t)
	api.seedProduct(t, 10)

	cases := []struct {
		name, method, path, body string
		want                     int
	}{
		{"zero quantity", http.MethodPost, "/orders/", `{"product_id":1,"quantity":0}`, http.StatusUnprocessableEntity},
		{"missing quantity", http.MethodPost, "/orders/", `{"product_id":1}`, http.StatusUnprocessableEntity},
		{"string quantity", http.MethodPost, "/orders/", `{"product_id":1,"quantity":"two"}`, http.StatusUnprocessableEntity},
		{"malformed", http.MethodPost, "/orders/", `{"product_id":`, http.StatusBadRequest},
		{"unknown product", http.MethodPost, "/orders/", `{"product_id":9,"quantity":1}`, http.StatusNotFound},
		{"bad status", http.MethodPut, "/orders/1", `{"status":"shipped"}`, http.StatusUnprocessableEntity},
		{"negative update", http.MethodPut, "/orders/1", `{"quantity":-1}`, http.StatusUnprocessableEntity},
		{"non numeric id", http.MethodGet, "/orders/abc", "", http.StatusUnprocessableEntity},
		{"product without price", http.MethodPost, "/products/", `{"name":"a","description":"","stock_quantity":1}`, http.StatusUnprocessableEntity},
		{"product zero price", http.MethodPost, "/products/", `{"name":"a","description":"","price":0,"stock_quantity":1}`, http.StatusUnprocessableEntity},
		{"product empty name patch", http.MethodPut, "/products/1", `{"name":""}`, http.StatusUnprocessableEntity},
		{"product sub-cent price", http.MethodPost, "/products/", `{"name":"a","description":"","price":0.004,"stock_quantity":1}`, http.StatusUnprocessableEntity},
		{"product three decimals", http.MethodPost, "/products/", `{"name":"a","description":"","price":10.005,"stock_quantity":1}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, detail(t, rec))
		})
	}
}

func TestProductEndpoints(t *testing.T) {
	api := newTestAPI(t)
	api.seedProduct(t, 4)

	rec := api.do(t, http.MethodPut, "/products/1", `{"price":"12.50"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p := decode[productResponse](t, rec)
	assert.Equal(t, 12.5, p.Price)
	assert.Equal(t, "widget", p.Name)
	assert.Equal(t, 4, p.StockQuantity)

	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/orders/", `{"product_id":1,"quantity":1}`).Code)
	rec = api.do(t, http.MethodDelete, "/products/1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Cannot delete product with associated orders", detail(t, rec))

	require.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, "/orders/1", "").Code)
	assert.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, "/products/1", "").Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/products/1", "").Code)
}

func TestIdempotentCreate(t *testing.T) {
	api := newTestAPI(t)
	api.seedProduct(t, 10)

	first := api.do(t, http.MethodPost, "/orders/", `{"product_id":1,"quantity":3}`, HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	replay := api.do(t, http.MethodPost, "/orders/", `{"product_id":1,"quantity":3}`, HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusOK, replay.Code, replay.Body.String())
	assert.Equal(t, decode[orderResponse](t, first).ID, decode[orderResponse](t, replay).ID)

	rec := api.do(t, http.MethodGet, "/products/1", "")
	assert.Equal(t, 7, decode[productResponse](t, rec).StockQuantity, "replay must not reserve again")
}

func TestIdempotencyKeyInFlight(t *testing.T) {
	api := newTestAPI(t)
	api.seedProduct(t, 10)
	require.NoError(t, api.mr.Set("idem:order:create:busy", "pending"))

	rec := api.do(t, http.MethodPost, "/orders/", `{"product_id":1,"quantity":1}`, HeaderIdempotencyKey, "busy")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIdempotencyKeyReleasedOnFailure(t *testing.T) {
	api := newTestAPI(t)
	api.seedProduct(t, 1)

	rec := api.do(t, http.MethodPost, "/orders/", `{"product_id":1,"quantity":5}`, HeaderIdempotencyKey, "retry-me")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, api.mr.Exists("idem:order:create:retry-me"))

	rec = api.do(t, http.MethodPost, "/orders/", `{"product_id":1,"quantity":1}`, HeaderIdempotencyKey, "retry-me")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestStockEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.seedProduct(t, 6)

	rec := api.do(t, http.MethodGet, "/products/1/stock", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[stockResponse](t, rec)
	assert.Equal(t, "database", got.Source)
	assert.Equal(t, 6, got.StockQuantity)

	_, err := api.stock.Apply(context.Background(), redisx.StockSnapshot{ProductID: 1, Stock: 2, Version: 9, UpdatedAt: time.Now()})
	require.NoError(t, err)
	got = decode[stockResponse](t, api.do(t, http.MethodGet, "/products/1/stock", ""))
	assert.Equal(t, "projection", got.Source)
	assert.Equal(t, 2, got.StockQuantity)
	assert.EqualValues(t, 9, got.Version)

	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/products/5/stock", "").Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/products/", "", "X-Request-Id", "abc-123")
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-Id"))
}

// stallingStore blocks the next unit of work until its context expires.
type stallingStore struct {
	*orders.MemoryStore
	stall atomic.Bool
}

func (s *stallingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	if s.stall.CompareAndSwap(true, false) {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.MemoryStore.WithinTx(ctx, fn)
}

func TestIdempotencyKeyReleasedAfterRequestTimeout(t *testing.T) {
	store := &stallingStore{MemoryStore: orders.NewMemoryStore()}
	api := newTestAPIWith(t, store, 100*time.Millisecond)
	api.seedProduct(t, 10)

	store.stall.Store(true)
	rec := api.do(t, http.MethodPost, "/orders/", `{"product_id":1,"quantity":2}`, HeaderIdempotencyKey, "timeout-1")
	require.NotEqual(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.False(t, api.mr.Exists(fmt.Sprintf(redisx.KeyIdemOrderCreate, "timeout-1")))

	rec = api.do(t, http.MethodPost, "/orders/", `{"product_id":1,"quantity":2}`, HeaderIdempotencyKey, "timeout-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 8, decode[orderResponse](t, rec).Product.StockQuantity)
}
