package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopsys/internal/domain"
)

func newSQLiteRepos(t *testing.T) *Repositories {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "shop.db")
	repos, err := Open(context.Background(), DialectSQLite, dsn, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })
	return repos
}

func seedSQLCatalog(t *testing.T, repos *Repositories) (domain.ProductType, domain.Product) {
	t.Helper()
	ctx := context.Background()
	pt := domain.ProductType{Name: "Tools"}
	require.NoError(t, repos.Catalog.CreateType(ctx, &pt))
	p := domain.Product{Name: "Hammer", Description: "Steel head", TypeID: pt.ID, Stock: 5}
	require.NoError(t, repos.Catalog.Create(ctx, &p))
	return pt, p
}

func TestSQLStore_ProductLifecycle(t *testing.T) {
	ctx := context.Background()
	repos := newSQLiteRepos(t)
	pt, p := seedSQLCatalog(t, repos)
	require.NotZero(t, p.ID)

	got, err := repos.Catalog.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hammer", got.Name)
	assert.Equal(t, pt.Name, got.TypeName)
	assert.Equal(t, int64(5), got.Stock)
	assert.False(t, got.HasImage)
	assert.True(t, got.Active())

	got.Stock = 9
	require.NoError(t, repos.Catalog.Update(ctx, got))
	got, err = repos.Catalog.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.Stock)

	require.NoError(t, repos.Catalog.SetImage(ctx, p.ID, []byte{0x89, 'P', 'N', 'G'}))
	img, err := repos.Catalog.Image(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, img, 4)

	require.NoError(t, repos.Catalog.SetStatus(ctx, p.ID, domain.StatusDeleted))
	list, total, err := repos.Catalog.Search(ctx, ProductQuery{Limit: 5})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)

	_, err = repos.Catalog.GetByID(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repos.Catalog.SetStatus(ctx, 404, domain.StatusDeleted), ErrNotFound)
}

func TestSQLStore_NullStockReadsAsZero(t *testing.T) {
	ctx := context.Background()
	repos := newSQLiteRepos(t)
	pt, _ := seedSQLCatalog(t, repos)

	store := repos.Catalog.(*SQLStore)
	id, err := store.insertID(ctx, `INSERT INTO products (name, type_id) VALUES (?, ?)`, "Nail", pt.ID)
	require.NoError(t, err)

	got, err := repos.Catalog.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, got.Stock)
}

func TestSQLStore_SearchOrdersByPopularity(t *testing.T) {
	ctx := context.Background()
	repos := newSQLiteRepos(t)
	pt, hammer := seedSQLCatalog(t, repos)
	saw := domain.Product{Name: "Saw", Description: "hand tool", TypeID: pt.ID, Stock: 10}
	require.NoError(t, repos.Catalog.Create(ctx, &saw))

	require.NoError(t, repos.Orders.Insert(ctx, &domain.OrderLine{
		OrderID: 1, CustomerName: "ann", ProductID: saw.ID, Amount: 3,
		DeliveryAddress: "Main st", DeliveryDate: "20300101", OrderedAt: time.Now(),
	}))

	list, total, err := repos.Catalog.Search(ctx, ProductQuery{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, list, 2)
	assert.Equal(t, saw.ID, list[0].ID)
	assert.Equal(t, int64(3), list[0].TotalOrdered)
	assert.Equal(t, hammer.ID, list[1].ID)

	list, total, err = repos.Catalog.Search(ctx, ProductQuery{Keyword: "STEEL", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, hammer.ID, list[0].ID)

	list, _, err = repos.Catalog.Search(ctx, ProductQuery{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, hammer.ID, list[0].ID)

	types, err := repos.Catalog.ListActiveTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, 1)
}

func TestSQLOrders_LedgerAndRollback(t *testing.T) {
	ctx := context.Background()
	repos := newSQLiteRepos(t)
	_, p := seedSQLCatalog(t, repos)

	max, err := repos.Orders.MaxOrderID(ctx)
	require.NoError(t, err)
	assert.Zero(t, max)

	err = repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := repos.Orders.Lock(ctx); err != nil {
			return err
		}
		return repos.Orders.Insert(ctx, &domain.OrderLine{
			OrderID: 1, CustomerName: "ann", ProductID: p.ID, Amount: 2,
			DeliveryAddress: "Main st", DeliveryDate: "20300101", OrderedAt: time.Now(),
		})
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := repos.Orders.Insert(ctx, &domain.OrderLine{
			OrderID: 2, CustomerName: "bob", ProductID: p.ID, Amount: 1,
			DeliveryAddress: "Elm st", DeliveryDate: "20300101", OrderedAt: time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	sum, err := repos.Orders.SumOrdered(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum)

	lines, err := repos.Orders.ByOrderID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "20300101", lines[0].DeliveryDate)
	assert.False(t, lines[0].OrderedAt.IsZero())

	_, err = repos.Orders.ByOrderID(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)

	dup := lines[0]
	assert.ErrorIs(t, repos.Orders.Insert(ctx, &dup), ErrDuplicate)
}

func TestSQLOrders_LockRequiresTransaction(t *testing.T) {
	repos := newSQLiteRepos(t)
	assert.Error(t, repos.Orders.Lock(context.Background()))
}

func TestSQLOrders_ConcurrentTransactionsGetDistinctIDs(t *testing.T) {
	ctx := context.Background()
	repos := newSQLiteRepos(t)
	_, p := seedSQLCatalog(t, repos)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
				if err := repos.Orders.Lock(ctx); err != nil {
					return err
				}
				max, err := repos.Orders.MaxOrderID(ctx)
				if err != nil {
					return err
				}
				return repos.Orders.Insert(ctx, &domain.OrderLine{
					OrderID: max + 1, CustomerName: "c", ProductID: p.ID, Amount: 1,
					DeliveryAddress: "x", DeliveryDate: "20300101", OrderedAt: time.Now(),
				})
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	max, err := repos.Orders.MaxOrderID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), max)
}

func TestSQLUsers_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repos := newSQLiteRepos(t)

	u := domain.User{Username: "admin", PasswordHash: "hash", Role: domain.RoleAdmin, Enabled: true}
	require.NoError(t, repos.Users.Create(ctx, &u))
	require.NotZero(t, u.ID)

	got, err := repos.Users.GetByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, got.Role)
	assert.True(t, got.Enabled)

	assert.ErrorIs(t, repos.Users.Create(ctx, &domain.User{Username: "admin", PasswordHash: "x", Role: domain.RoleUser}), ErrDuplicate)
	_, err = repos.Users.GetByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect(" MySQL ")
	require.NoError(t, err)
	assert.Equal(t, DialectMySQL, d)

	_, err = ParseDialect("oracle")
	assert.Error(t, err)
}
