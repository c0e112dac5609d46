package payments

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-shop-orderflow/internal/apperr"
	"github.com/imrishuroy/go-shop-orderflow/internal/cart"
	"github.com/imrishuroy/go-shop-orderflow/internal/catalog"
	"github.com/imrishuroy/go-shop-orderflow/internal/metrics"
	"github.com/imrishuroy/go-shop-orderflow/internal/money"
	"github.com/imrishuroy/go-shop-orderflow/internal/orders"
	"github.com/imrishuroy/go-shop-orderflow/internal/store"
	"github.com/imrishuroy/go-shop-orderflow/internal/store/dynamotest"
)

const table = "shop"

type fakeGateway struct {
	mu       sync.Mutex
	payments map[string]Payment
	err      error
	calls    int
}

func (g *fakeGateway) GetPayment(_ context.Context, id string) (*Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	p, ok := g.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}

type errorCounter struct{ n atomic.Int64 }

func (c *errorCounter) Incr(_ context.Context, name string) {
	if name == metrics.WebhookErrors {
		c.n.Add(1)
	}
}

type fixture struct {
	fake    *dynamotest.Fake
	db      *store.Store
	carts   *cart.Service
	repo    *orders.Store
	svc     *orders.Service
	gateway *fakeGateway
	errors  *errorCounter
	reducer *Reducer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := dynamotest.New(dynamotest.SingleTable(table))
	db := store.New(fake, table)
	cat := catalog.New(db)
	carts := cart.NewService(db, cat)
	repo := orders.NewStore(db)
	svc := orders.NewService(repo, carts, cat, nil)
	gw := &fakeGateway{payments: map[string]Payment{}}
	ec := &errorCounter{}
	return &fixture{
		fake:    fake,
		db:      db,
		carts:   carts,
		repo:    repo,
		svc:     svc,
		gateway: gw,
		errors:  ec,
		reducer: NewReducer(gw, repo, svc, ec),
	}
}

func (f *fixture) product(t *testing.T, id, price string, stock int) {
	t.Helper()
	p := catalog.Product{ID: id, Name: "Product " + id, Price: money.MustParse(price), Stock: stock, IsActive: true}
	require.NoError(t, f.db.Put(context.Background(), p.WithKeys()))
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	var p catalog.Product
	found, err := f.db.Get(context.Background(), store.ProductKey(id), &p)
	require.NoError(t, err)
	require.True(t, found)
	return p.Stock
}

// pendingOrder places an order of qty units of a 10.00 product for u1.
func (f *fixture) pendingOrder(t *testing.T, stock, qty int) string {
	t.Helper()
	ctx := context.Background()
	f.product(t, "p1", "10.00", stock)
	_, err := f.carts.AddItem(ctx, "u1", "p1", qty)
	require.NoError(t, err)
	d, err := f.svc.CreateOrder(ctx, "u1", orders.Shipping{
		FirstName: "Ana", LastName: "Lopez", Country: "AR", Address: "Calle 1",
		City: "Cordoba", State: "Cordoba", Zip: "5000",
	})
	require.NoError(t, err)
	return d.ID
}

func (f *fixture) order(t *testing.T, id string) *orders.Order {
	t.Helper()
	o, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o
}

func TestProcessWebhook_Approved(t *testing.T) {
	f := newFixture(t)
	oid := f.pendingOrder(t, 5, 2)
	f.gateway.payments["mp-1"] = Payment{ID: "mp-1", ExternalReference: oid, Status: "approved"}

	res := f.reducer.ProcessWebhook(context.Background(), NewNotification("mp-1"))
	assert.Equal(t, Result{Success: true, Action: ActionApplied}, res)

	o := f.order(t, oid)
	assert.Equal(t, orders.StatusPaid, o.Status)
	assert.Equal(t, orders.PaymentApproved, o.PaymentStatus)
	require.NotNil(t, o.PaymentID)
	assert.Equal(t, "mp-1", *o.PaymentID)
	assert.Equal(t, 3, f.stock(t, "p1"))
}

func TestProcessWebhook_DuplicateIsNoop(t *testing.T) {
	f := newFixture(t)
	oid := f.pendingOrder(t, 5, 2)
	f.gateway.payments["mp-1"] = Payment{ID: "mp-1", ExternalReference: oid, Status: "approved"}
	ctx := context.Background()

	first := f.reducer.ProcessWebhook(ctx, NewNotification("mp-1"))
	require.Equal(t, ActionApplied, first.Action)
	updated := f.order(t, oid).UpdatedAt

	second := f.reducer.ProcessWebhook(ctx, NewNotification("mp-1"))
	assert.Equal(t, Result{Success: true, Action: ActionDuplicate}, second)
	assert.Equal(t, 3, f.stock(t, "p1"), "stock decremented once")
	assert.Equal(t, updated, f.order(t, oid).UpdatedAt)
	assert.Zero(t, f.errors.n.Load())
}

func TestProcessWebhook_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	oid := f.pendingOrder(t, 5, 2)
	f.gateway.payments["mp-1"] = Payment{ID: "mp-1", ExternalReference: oid, Status: "approved"}

	var wg sync.WaitGroup
	results := make([]Result, 6)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = f.reducer.ProcessWebhook(context.Background(), NewNotification("mp-1"))
		}()
	}
	wg.Wait()

	applied := 0
	for _, r := range results {
		assert.True(t, r.Success)
		if r.Action == ActionApplied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 3, f.stock(t, "p1"))
}

func TestProcessWebhook_Rejected(t *testing.T) {
	f := newFixture(t)
	oid := f.pendingOrder(t, 5, 1)
	f.gateway.payments["mp-2"] = Payment{ID: "mp-2", ExternalReference: oid, Status: "rejected"}

	res := f.reducer.ProcessWebhook(context.Background(), NewNotification("mp-2"))
	assert.True(t, res.Success)

	o := f.order(t, oid)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, orders.PaymentRejected, o.PaymentStatus)
	assert.Equal(t, 5, f.stock(t, "p1"))
}

func TestProcessWebhook_OtherStatusMirrored(t *testing.T) {
	f := newFixture(t)
	oid := f.pendingOrder(t, 5, 1)
	f.gateway.payments["mp-3"] = Payment{ID: "mp-3", ExternalReference: oid, Status: "in_process"}

	res := f.reducer.ProcessWebhook(context.Background(), NewNotification("mp-3"))
	assert.True(t, res.Success)
	assert.Equal(t, "in_process", f.order(t, oid).PaymentStatus)
}

func TestProcessWebhook_Ignored(t *testing.T) {
	f := newFixture(t)
	f.gateway.payments["no-ref"] = Payment{ID: "no-ref", Status: "approved"}
	f.gateway.payments["ghost"] = Payment{ID: "ghost", ExternalReference: "missing-order", Status: "approved"}
	ctx := context.Background()

	other := NewNotification("1")
	other.Type = "merchant_order"
	cases := map[string]Notification{
		"non payment type": other,
		"missing id":       NewNotification(""),
		"no reference":     NewNotification("no-ref"),
		"unknown order":    NewNotification("ghost"),
	}
	for name, n := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, Result{Success: true, Action: ActionIgnored}, f.reducer.ProcessWebhook(ctx, n))
		})
	}
	assert.Equal(t, 2, f.gateway.calls, "gateway only consulted for payment notifications with an id")
	assert.Zero(t, f.errors.n.Load())
}

func TestProcessWebhook_GatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = errors.New("connection reset")

	res := f.reducer.ProcessWebhook(context.Background(), NewNotification("mp-1"))
	assert.False(t, res.Success)
	assert.Equal(t, "internal_error", res.Error)
	assert.True(t, res.Retryable)
	assert.EqualValues(t, 1, f.errors.n.Load())
}

func TestProcessWebhook_UnknownPaymentNotRetried(t *testing.T) {
	f := newFixture(t)
	res := f.reducer.ProcessWebhook(context.Background(), NewNotification("nope"))
	assert.False(t, res.Success)
	assert.False(t, res.Retryable)
}

func TestProcessWebhook_StockConflictReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	oid := f.pendingOrder(t, 2, 2)
	// stock drops below the ordered quantity before the payment lands
	err := f.db.Update(ctx, store.ProductKey("p1"), store.Update{
		Expression: "SET stock = :s",
		Values:     map[string]any{":s": 1},
	}, nil)
	require.NoError(t, err)
	f.gateway.payments["mp-1"] = Payment{ID: "mp-1", ExternalReference: oid, Status: "approved"}

	res := f.reducer.ProcessWebhook(ctx, NewNotification("mp-1"))
	assert.False(t, res.Success)
	assert.Equal(t, apperr.ErrConcurrentStockConflict.Code, res.Error)
	assert.False(t, res.Retryable)
	assert.Equal(t, orders.StatusPending, f.order(t, oid).Status)
	assert.Equal(t, 1, f.stock(t, "p1"))
}

func TestProcessWebhook_TransactionConflictRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	oid := f.pendingOrder(t, 5, 2)
	f.gateway.payments["mp-1"] = Payment{ID: "mp-1", ExternalReference: oid, Status: "approved"}

	f.fake.FailNext("TransactWriteItems", &types.TransactionCanceledException{
		Message: aws.String("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("None")},
			{Code: aws.String("TransactionConflict")},
		},
	})
	res := f.reducer.ProcessWebhook(ctx, NewNotification("mp-1"))
	assert.False(t, res.Success)
	assert.Equal(t, apperr.ErrTransactionConflict.Code, res.Error)
	assert.True(t, res.Retryable)
	assert.Equal(t, orders.StatusPending, f.order(t, oid).Status)
	assert.Equal(t, 5, f.stock(t, "p1"))

	// the redelivery goes through
	res = f.reducer.ProcessWebhook(ctx, NewNotification("mp-1"))
	assert.Equal(t, Result{Success: true, Action: ActionApplied}, res)
	assert.Equal(t, orders.StatusPaid, f.order(t, oid).Status)
	assert.Equal(t, 3, f.stock(t, "p1"))
}
