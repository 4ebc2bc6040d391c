package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopsys/internal/domain"
	"shopsys/internal/repository"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, e domain.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
	return d.err
}

// failingOrders breaks the ledger after a number of successful inserts
type failingOrders struct {
	*repository.MemoryOrders
	okInserts int
	locked    int
}

func (o *failingOrders) Insert(ctx context.Context, l *domain.OrderLine) error {
	if o.okInserts == 0 {
		return errors.New("disk full")
	}
	o.okInserts--
	return o.MemoryOrders.Insert(ctx, l)
}

func (o *failingOrders) Lock(ctx context.Context) error {
	o.locked++
	return o.MemoryOrders.Lock(ctx)
}

func orderFor(productID, qty int64) domain.OrderRequest {
	return domain.OrderRequest{
		CustomerName:    "Alice",
		DeliveryAddress: "123 St",
		DeliveryDate:    "2030/06/16",
		Lines:           []domain.LineRequest{{ProductID: productID, Quantity: qty}},
	}
}

func TestSubmit_ScenarioA_FullStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "Hammer", 5)
	s := f.orderService()

	res, err := s.Submit(ctx, orderFor(p.ID, 5), "alice")
	require.NoError(t, err)
	require.True(t, res.OK(), "%v", res.Failure)
	assert.Equal(t, int64(1), res.OrderID)

	lines, err := s.Order(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(5), lines[0].Amount)
	assert.Equal(t, "Alice", lines[0].CustomerName)
	assert.Equal(t, fixedNow, lines[0].OrderedAt)
}

func TestSubmit_ScenarioB_OverStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "Hammer", 5)
	s := f.orderService()

	res, err := s.Submit(ctx, orderFor(p.ID, 6), "alice")
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.Equal(t, domain.FailureValidation, res.Failure.Kind)
	assert.Equal(t, domain.Field("quantity_0"), res.Failure.Field)
	assert.Contains(t, res.Failure.Message, fmt.Sprintf("#%d", p.ID))
	assert.Contains(t, res.Failure.Message, "<= 5")

	max, _ := f.orders.MaxOrderID(ctx)
	assert.Zero(t, max, "nothing stored")
}

func TestSubmit_ScenarioC_SecondOrderSeesFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "Hammer", 4)
	s := f.orderService()

	first, err := s.Submit(ctx, orderFor(p.ID, 4), "alice")
	require.NoError(t, err)
	require.True(t, first.OK())

	second, err := s.Submit(ctx, orderFor(p.ID, 4), "bob")
	require.NoError(t, err)
	require.False(t, second.OK())
	assert.Contains(t, second.Failure.Message, "<= 0")
}

func TestSubmit_StoresDateWithoutSlashes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "Hammer", 5)
	s := f.orderService()

	req := orderFor(p.ID, 1)
	req.DeliveryDate = "2030/12/31"
	res, err := s.Submit(ctx, req, "alice")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "20301231", res.Lines[0].DeliveryDate)
}

func TestSubmit_MultiLineSharesOrderID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hammer := f.product(t, "Hammer", 5)
	saw := f.product(t, "Saw", 5)
	f.ordered(t, saw.ID, 1)
	s := f.orderService()

	res, err := s.Submit(ctx, domain.OrderRequest{
		CustomerName: "Alice", DeliveryAddress: "123 St", DeliveryDate: "2030/06/15",
		Lines: []domain.LineRequest{
			{ProductID: hammer.ID, Quantity: 2},
			{ProductID: 999, Quantity: 0},
			{ProductID: saw.ID, Quantity: 4},
		},
	}, "alice")
	require.NoError(t, err)
	require.True(t, res.OK(), "%v", res.Failure)
	assert.Equal(t, int64(2), res.OrderID)
	require.Len(t, res.Lines, 2)
	for _, l := range res.Lines {
		assert.Equal(t, res.OrderID, l.OrderID)
	}
}

func TestSubmit_PersistenceFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hammer := f.product(t, "Hammer", 5)
	saw := f.product(t, "Saw", 5)
	orders := &failingOrders{MemoryOrders: f.orders, okInserts: 1}
	s := NewOrderService(f.store, orders, f.tx,
		WithClock(func() time.Time { return fixedNow }), WithLocation(time.UTC))

	res, err := s.Submit(ctx, domain.OrderRequest{
		CustomerName: "Alice", DeliveryAddress: "123 St", DeliveryDate: "2030/06/16",
		Lines: []domain.LineRequest{{ProductID: hammer.ID, Quantity: 1}, {ProductID: saw.ID, Quantity: 1}},
	}, "alice")
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.Equal(t, domain.FailurePersistence, res.Failure.Kind)
	assert.Equal(t, ProcessingFailed, res.Failure.Message)
	assert.Equal(t, domain.FieldNone, res.Failure.Field)

	sum, _ := f.orders.SumOrdered(ctx, hammer.ID)
	assert.Zero(t, sum, "first line rolled back")
	assert.Equal(t, 1, orders.locked)
}

func TestSubmit_DuplicateProductLinesFail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "Hammer", 5)
	s := f.orderService()

	res, err := s.Submit(ctx, domain.OrderRequest{
		CustomerName: "Alice", DeliveryAddress: "123 St", DeliveryDate: "2030/06/16",
		Lines: []domain.LineRequest{{ProductID: p.ID, Quantity: 1}, {ProductID: p.ID, Quantity: 1}},
	}, "alice")
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.Equal(t, domain.FailurePersistence, res.Failure.Kind)

	max, _ := f.orders.MaxOrderID(ctx)
	assert.Zero(t, max)
}

func TestSubmit_UnserializedSkipsLock(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Hammer", 5)
	orders := &failingOrders{MemoryOrders: f.orders, okInserts: 10}
	s := NewOrderService(f.store, orders, f.tx, WithSerializedOrders(false),
		WithClock(func() time.Time { return fixedNow }), WithLocation(time.UTC))

	res, err := s.Submit(context.Background(), orderFor(p.ID, 1), "alice")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Zero(t, orders.locked)
}

func TestSubmit_ConcurrentOrdersNeverOversell(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "Hammer", 5)
	s := f.orderService()

	var wg sync.WaitGroup
	results := make(chan domain.Result, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Submit(ctx, orderFor(p.ID, 1), "load")
			assert.NoError(t, err)
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	ids := make(map[int64]bool)
	for res := range results {
		if res.OK() {
			assert.False(t, ids[res.OrderID], "order id %d reused", res.OrderID)
			ids[res.OrderID] = true
		}
	}
	assert.Len(t, ids, 5)

	avail, err := s.PreviewAvailability(ctx, []int64{p.ID})
	require.NoError(t, err)
	assert.Zero(t, avail[p.ID])
}

func TestSubmit_DispatchesOrderPlaced(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Hammer", 5)
	d := &recordingDispatcher{err: errors.New("broker down")}
	s := f.orderService(WithEvents(d))

	res, err := s.Submit(context.Background(), orderFor(p.ID, 2), "clerk")
	require.NoError(t, err)
	require.True(t, res.OK(), "dispatch errors never fail the order")

	require.Len(t, d.events, 1)
	placed, ok := d.events[0].(domain.OrderPlaced)
	require.True(t, ok)
	assert.Equal(t, res.OrderID, placed.OrderID)
	assert.Equal(t, "Alice", placed.CustomerName)
	assert.Equal(t, "clerk", placed.PlacedBy)
	assert.NotEmpty(t, placed.EventID)

	_, _ = s.Submit(context.Background(), orderFor(p.ID, 100), "clerk")
	assert.Len(t, d.events, 1, "rejected orders publish nothing")
}

func TestSubmit_CancelledContext(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Hammer", 5)
	orders := &failingOrders{MemoryOrders: f.orders, okInserts: 0}
	s := NewOrderService(f.store, orders, f.tx)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := orderFor(p.ID, 1)
	req.DeliveryDate = "2999/01/01"
	_, err := s.Submit(ctx, req, "alice")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hammer := f.product(t, "Hammer", 5)
	s := f.orderService()

	lines, err := s.Confirm(ctx, []domain.LineRequest{{ProductID: hammer.ID, Quantity: 2}, {ProductID: 999, Quantity: 0}})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "Hammer", lines[0].ProductName)
	assert.Equal(t, "Tools", lines[0].TypeName)
	assert.Equal(t, int64(5), lines[0].Available)

	_, err = s.Confirm(ctx, []domain.LineRequest{{ProductID: hammer.ID, Quantity: 0}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Confirm(ctx, []domain.LineRequest{{ProductID: 999, Quantity: 1}})
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = s.Confirm(ctx, []domain.LineRequest{{ProductID: hammer.ID, Quantity: 6}})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "Hammer has 5 in stock")
}

func TestCheckStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "Hammer", 3)
	s := f.orderService()

	tests := []struct {
		name     string
		id       int64
		qty      int64
		valid    bool
		contains string
	}{
		{"enough", p.ID, 3, true, "ok"},
		{"too many", p.ID, 4, false, "only 3 in stock"},
		{"zero", p.ID, 0, false, "positive"},
		{"unknown", 999, 1, false, "product not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check, err := s.CheckStock(ctx, tt.id, tt.qty)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, check.Valid)
			assert.Contains(t, check.Message, tt.contains)
		})
	}
}

func TestOrder_NotFound(t *testing.T) {
	f := newFixture(t)
	s := f.orderService()

	_, err := s.Order(context.Background(), 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.Order(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
