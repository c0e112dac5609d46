package orders

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-shop-orderflow/internal/apperr"
	"github.com/imrishuroy/go-shop-orderflow/internal/cart"
	"github.com/imrishuroy/go-shop-orderflow/internal/catalog"
	"github.com/imrishuroy/go-shop-orderflow/internal/metrics"
	"github.com/imrishuroy/go-shop-orderflow/internal/money"
	"github.com/imrishuroy/go-shop-orderflow/internal/store"
	"github.com/imrishuroy/go-shop-orderflow/internal/store/dynamotest"
)

const table = "shop"

type countingMetrics struct {
	counts map[string]*atomic.Int64
}

func newCountingMetrics() *countingMetrics {
	c := &countingMetrics{counts: map[string]*atomic.Int64{}}
	for _, n := range []string{metrics.OrdersCreated, metrics.OrdersCancelled, metrics.PaymentsApproved, metrics.PaymentsRejected, metrics.StockConflicts} {
		c.counts[n] = &atomic.Int64{}
	}
	return c
}

func (c *countingMetrics) Incr(_ context.Context, name string) { c.counts[name].Add(1) }

func (c *countingMetrics) get(name string) int64 { return c.counts[name].Load() }

type fixture struct {
	fake    *dynamotest.Fake
	db      *store.Store
	carts   *cart.Service
	orders  *Store
	svc     *Service
	metrics *countingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := dynamotest.New(dynamotest.SingleTable(table))
	db := store.New(fake, table)

	var tick atomic.Int64
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) })

	cat := catalog.New(db)
	carts := cart.NewService(db, cat)
	repo := NewStore(db)
	m := newCountingMetrics()
	svc := NewService(repo, carts, cat, m)

	var ids atomic.Int64
	svc.newID = func() string { return fmt.Sprintf("ord-%03d", ids.Add(1)) }

	return &fixture{fake: fake, db: db, carts: carts, orders: repo, svc: svc, metrics: m}
}

func (f *fixture) product(t *testing.T, id, price string, stock int) {
	t.Helper()
	p := catalog.Product{ID: id, Name: "Product " + id, Price: money.MustParse(price), Stock: stock, IsActive: true}
	require.NoError(t, f.db.Put(context.Background(), p.WithKeys()))
}

func (f *fixture) user(t *testing.T, id, name, email string) {
	t.Helper()
	u := catalog.User{ID: id, Name: name, Email: email, Role: catalog.RoleUser, IsActive: true}
	require.NoError(t, f.db.Put(context.Background(), u.WithKeys()))
}

func (f *fixture) addToCart(t *testing.T, userID, productID string, qty int) {
	t.Helper()
	_, err := f.carts.AddItem(context.Background(), userID, productID, qty)
	require.NoError(t, err)
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	var p catalog.Product
	found, err := f.db.Get(context.Background(), store.ProductKey(productID), &p)
	require.NoError(t, err)
	require.True(t, found)
	return p.Stock
}

func (f *fixture) twin(t *testing.T, userID, orderID string) OrderIndex {
	t.Helper()
	item := f.fake.Item(table, store.OrderIndexKey(userID, orderID).AttributeValues())
	require.NotNil(t, item, "order index missing")
	var idx OrderIndex
	require.NoError(t, attributevalue.UnmarshalMap(item, &idx))
	return idx
}

// assertTwinConsistent checks that canonical and twin agree on status fields.
func (f *fixture) assertTwinConsistent(t *testing.T, orderID string) *Order {
	t.Helper()
	o, err := f.orders.Get(context.Background(), orderID)
	require.NoError(t, err)
	require.NotNil(t, o)
	idx := f.twin(t, o.UserID, orderID)
	assert.Equal(t, o.Status, idx.Status, "status diverged")
	assert.Equal(t, o.PaymentStatus, idx.PaymentStatus, "payment_status diverged")
	return o
}

var testShipping = Shipping{
	FirstName: "Ana",
	LastName:  "Lopez",
	Country:   "AR",
	Address:   "Calle 1",
	City:      "Cordoba",
	State:     "Cordoba",
	Zip:       "5000",
}

func TestStore_CreateWritesAllRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.product(t, "p1", "2.00", 5)
	f.addToCart(t, "u1", "p1", 2)

	o := Order{ID: "o1", UserID: "u1", Total: "4.00", Status: StatusPending, PaymentStatus: PaymentPending, Shipping: testShipping}
	lines := []Line{{ProductID: "p1", ProductName: "Product p1", Quantity: 2, Price: money.MustParse("2.00"), Subtotal: "4.00"}}
	require.NoError(t, f.orders.Create(ctx, o, lines, []store.Key{store.CartLineKey("u1", "p1")}))

	got, err := f.orders.Get(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Cordoba", got.City)
	assert.Nil(t, got.PaymentID)

	owner, err := f.orders.IsOwner(ctx, "u1", "o1")
	require.NoError(t, err)
	assert.True(t, owner)
	owner, err = f.orders.IsOwner(ctx, "u2", "o1")
	require.NoError(t, err)
	assert.False(t, owner)

	n, err := f.orders.CountLines(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cartLines, err := f.carts.Lines(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cartLines)

	// same id again fails on the canonical condition
	err = f.orders.Create(ctx, o, nil, nil)
	assert.ErrorIs(t, err, apperr.ErrTransactionConflict)
}

func TestStore_CreateCancelledByVanishedCartLine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	o := Order{ID: "o1", UserID: "u1", Total: "1.00", Status: StatusPending, PaymentStatus: PaymentPending}
	lines := []Line{{ProductID: "p1", Quantity: 1, Price: money.MustParse("1.00"), Subtotal: "1.00"}}
	err := f.orders.Create(ctx, o, lines, []store.Key{store.CartLineKey("u1", "p1")})
	assert.ErrorIs(t, err, apperr.ErrTransactionConflict)
	assert.Equal(t, 0, f.fake.Len(table), "nothing may be written")
}

func canceledBy(codes ...string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, c := range codes {
		reasons[i] = types.CancellationReason{Code: aws.String(c)}
	}
	return &types.TransactionCanceledException{Message: aws.String("Transaction cancelled"), CancellationReasons: reasons}
}

func TestStore_ApproveMapsCancellationReasons(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.product(t, "p1", "2.00", 5)
	o := Order{ID: "o1", UserID: "u1", Total: "2.00", Status: StatusPending, PaymentStatus: PaymentPending}
	lines := []Line{{ProductID: "p1", Quantity: 1, Price: money.MustParse("2.00"), Subtotal: "2.00"}}
	require.NoError(t, f.orders.Create(ctx, o, lines, nil))

	f.fake.FailNext("TransactWriteItems", canceledBy("None", "None", "TransactionConflict"))
	_, err := f.orders.Approve(ctx, &o, "mp-1", lines, nil)
	assert.ErrorIs(t, err, apperr.ErrTransactionConflict)

	f.fake.FailNext("TransactWriteItems", canceledBy("None", "None", "ConditionalCheckFailed"))
	_, err = f.orders.Approve(ctx, &o, "mp-1", lines, nil)
	assert.ErrorIs(t, err, apperr.ErrConcurrentStockConflict)

	f.fake.FailNext("TransactWriteItems", canceledBy("ConditionalCheckFailed", "None", "None"))
	_, err = f.orders.Approve(ctx, &o, "mp-1", lines, nil)
	assert.ErrorIs(t, err, apperr.ErrOrderAlreadyPaid)

	assert.Equal(t, 5, f.stock(t, "p1"), "cancelled attempts write nothing")

	leftover, err := f.orders.Approve(ctx, &o, "mp-1", lines, nil)
	require.NoError(t, err)
	assert.Empty(t, leftover)
	assert.Equal(t, 4, f.stock(t, "p1"))
}

func TestStore_StatusWriteConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := Order{ID: "o1", UserID: "u1", Total: "1.00", Status: StatusPending, PaymentStatus: PaymentPending}
	require.NoError(t, f.orders.Create(ctx, o, nil, nil))

	f.fake.FailNext("TransactWriteItems", canceledBy("TransactionConflict", "None"))
	err := f.orders.Cancel(ctx, &o)
	assert.ErrorIs(t, err, apperr.ErrTransactionConflict)

	require.NoError(t, f.orders.Cancel(ctx, &o))
	got := f.assertTwinConsistent(t, "o1")
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestStore_GetMissing(t *testing.T) {
	f := newFixture(t)
	o, err := f.orders.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestStore_ListAllOnlyCanonical(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 1; i <= 3; i++ {
		o := Order{ID: fmt.Sprintf("o%d", i), UserID: "u1", Total: "1.00", Status: StatusPending, PaymentStatus: PaymentPending}
		lines := []Line{{ProductID: "p", Quantity: 1, Price: money.MustParse("1.00"), Subtotal: "1.00"}}
		require.NoError(t, f.orders.Create(ctx, o, lines, nil))
	}
	all, err := f.orders.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	idx, err := f.orders.ListIndexByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, idx, 3)
}

func TestMaxOrderLines(t *testing.T) {
	assert.Equal(t, 49, MaxOrderLines)
}
