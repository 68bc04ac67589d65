package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ariefcatur/go-stock-orders/internal/postgres"
)

type repoSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool
	repo      *Repo
	orders    *OrderManager
	products  *ProductManager
}

func TestRepoIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	suite.Run(t, new(repoSuite))
}

func (s *repoSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("orders"),
		tcpostgres.WithUsername("app"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		s.T().Skipf("postgres container unavailable: %v", err)
	}
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.Require().NoError(postgres.Migrate(dsn))
	s.Require().NoError(postgres.Migrate(dsn), "second run is a no-op")

	s.pool, err = postgres.Connect(ctx, dsn, 16)
	s.Require().NoError(err)
	s.repo = &Repo{DB: s.pool, RetryMaxElapsed: 2 * time.Second}
	s.orders = NewOrderManager(s.repo, WithLogger(discardLogger()))
	s.products = NewProductManager(s.repo, WithLogger(discardLogger()))
}

func (s *repoSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(context.Background()))
	}
}

func (s *repoSuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(), `TRUNCATE TABLE orders, products RESTART IDENTITY`)
	s.Require().NoError(err)
}

func (s *repoSuite) product(stock int, price string) *Product {
	p, err := s.products.CreateProduct(context.Background(), ProductInput{
		Name: "widget", Description: "blue", Price: decimal.RequireFromString(price), StockQuantity: stock,
	})
	s.Require().NoError(err)
	return p
}

func (s *repoSuite) stock(id int64) int {
	p, err := s.repo.GetProduct(context.Background(), id)
	s.Require().NoError(err)
	return p.StockQuantity
}

func (s *repoSuite) TestOrderLifecycle() {
	ctx := context.Background()
	p := s.product(10, "10.00")

	o, err := s.orders.CreateOrder(ctx, CreateOrderInput{ProductID: p.ID, Quantity: 5})
	s.Require().NoError(err)
	s.Equal("50", o.TotalPrice.String())
	s.Equal(5, s.stock(p.ID))

	_, err = s.orders.CreateOrder(ctx, CreateOrderInput{ProductID: p.ID, Quantity: 15})
	s.EqualError(err, "Not enough stock. Available: 5")
	s.Equal(5, s.stock(p.ID))

	o, err = s.orders.UpdateOrder(ctx, o.ID, UpdateOrderInput{Quantity: ptr(7)})
	s.Require().NoError(err)
	s.Equal("70", o.TotalPrice.String())
	s.Equal(3, s.stock(p.ID))

	got, err := s.orders.GetOrder(ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(7, got.Quantity)
	s.Equal(StatusPending, got.Status)
	s.Require().NotNil(got.Product)
	s.Equal("blue", got.Product.Description)

	s.Require().NoError(s.orders.DeleteOrder(ctx, o.ID))
	s.Equal(10, s.stock(p.ID))

	_, err = s.orders.GetOrder(ctx, o.ID)
	s.ErrorIs(err, ErrNotFound)
}

func (s *repoSuite) TestDeleteCancelledOrderKeepsStock() {
	ctx := context.Background()
	p := s.product(10, "1")
	o, err := s.orders.CreateOrder(ctx, CreateOrderInput{ProductID: p.ID, Quantity: 2})
	s.Require().NoError(err)
	_, err = s.orders.UpdateOrder(ctx, o.ID, UpdateOrderInput{Status: ptr(StatusCancelled)})
	s.Require().NoError(err)

	s.Require().NoError(s.orders.DeleteOrder(ctx, o.ID))
	s.Equal(8, s.stock(p.ID))
}

func (s *repoSuite) TestConcurrentCreatesNeverOversell() {
	p := s.product(10, "1")
	const callers = 24

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.orders.CreateOrder(context.Background(), CreateOrderInput{ProductID: p.ID, Quantity: 2})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case !errors.Is(err, ErrInsufficientStock):
				s.T().Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(5, succeeded)
	s.Equal(0, s.stock(p.ID))
	list, err := s.orders.ListOrders(context.Background(), Page{})
	s.Require().NoError(err)
	s.Len(list, 5)
}

func (s *repoSuite) TestConcurrentUpdatesKeepAccounting() {
	ctx := context.Background()
	p := s.product(30, "1")
	var ids []int64
	for i := 0; i < 3; i++ {
		o, err := s.orders.CreateOrder(ctx, CreateOrderInput{ProductID: p.ID, Quantity: 1})
		s.Require().NoError(err)
		ids = append(ids, o.ID)
	}

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.orders.UpdateOrder(ctx, ids[i%len(ids)], UpdateOrderInput{Quantity: ptr(1 + i%4)})
			if err != nil && !errors.Is(err, ErrInsufficientStock) {
				s.T().Errorf("update: %v", err)
			}
		}(i)
	}
	wg.Wait()

	list, err := s.orders.ListOrders(ctx, Page{})
	s.Require().NoError(err)
	held := 0
	for _, o := range list {
		held += o.Quantity
	}
	s.Equal(30-held, s.stock(p.ID))
}

func (s *repoSuite) TestFailedUnitOfWorkRollsBack() {
	ctx := context.Background()
	p := s.product(4, "1")
	boom := errors.New("boom")

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockProduct(ctx, p.ID)
		if err != nil {
			return err
		}
		locked.StockQuantity = 0
		if err := tx.SaveProduct(ctx, locked); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)
	s.Equal(4, s.stock(p.ID))
}

func (s *repoSuite) TestProductRules() {
	ctx := context.Background()
	p := s.product(3, "19.99")
	s.Equal("19.99", p.Price.String())
	s.EqualValues(1, p.Version)

	up, err := s.products.UpdateProduct(ctx, p.ID, ProductPatch{StockQuantity: ptr(9)})
	s.Require().NoError(err)
	s.EqualValues(2, up.Version)
	s.Equal("widget", up.Name)

	_, err = s.orders.CreateOrder(ctx, CreateOrderInput{ProductID: p.ID, Quantity: 1})
	s.Require().NoError(err)

	err = s.products.DeleteProduct(ctx, p.ID)
	s.ErrorIs(err, ErrConflict)

	// the foreign key backs up the count check
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.DeleteProduct(ctx, p.ID)
	})
	s.ErrorIs(err, ErrConflict)

	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertOrder(ctx, &Order{ProductID: 999, Quantity: 1, TotalPrice: decimal.NewFromInt(1), Status: StatusPending})
	})
	s.ErrorIs(err, ErrNotFound)

	products, err := s.products.ListProducts(ctx, Page{Skip: 0, Limit: 10})
	s.Require().NoError(err)
	s.Len(products, 1)
}
