package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-shop-orderflow/internal/store/dynamotest"
)

const testTable = "shop"

type record struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	GSI1PK string `dynamodbav:"GSI1PK,omitempty"`
	GSI1SK string `dynamodbav:"GSI1SK,omitempty"`
	Name   string `dynamodbav:"name"`
	Stock  int    `dynamodbav:"stock"`
}

func newTestStore(t *testing.T) (*Store, *dynamotest.Fake) {
	t.Helper()
	fake := dynamotest.New(dynamotest.SingleTable(testTable))
	return New(fake, testTable), fake
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	k := ProductKey("p1")
	require.NoError(t, s.Put(ctx, record{PK: k.PK, SK: k.SK, Name: "Coffee", Stock: 3}))

	var got record
	found, err := s.Get(ctx, k, &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Coffee", got.Name)

	found, err = s.Get(ctx, ProductKey("missing"), &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdate_ConditionalDecrement(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	k := ProductKey("p1")
	require.NoError(t, s.Put(ctx, record{PK: k.PK, SK: k.SK, Name: "Coffee", Stock: 2}))

	dec := Update{
		Expression: "SET stock = stock - :qty",
		Condition:  "stock >= :qty",
		Values:     map[string]any{":qty": 2},
	}
	var out record
	require.NoError(t, s.Update(ctx, k, dec, &out))
	assert.Equal(t, 0, out.Stock)

	err := s.Update(ctx, k, dec, nil)
	assert.ErrorIs(t, err, ErrConditionFailed)
}

func TestDelete_Conditional(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStore(t)
	k := CartLineKey("u1", "p1")

	err := s.Delete(ctx, k, "attribute_exists(PK)")
	assert.ErrorIs(t, err, ErrConditionFailed)

	require.NoError(t, s.Put(ctx, record{PK: k.PK, SK: k.SK}))
	require.NoError(t, s.Delete(ctx, k, "attribute_exists(PK)"))
	assert.Nil(t, fake.Item(testTable, k.AttributeValues()))
}

func TestBatchGet_ChunksAndSkipsMissing(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStore(t)

	var keys []Key
	for i := 0; i < 130; i++ {
		k := ProductKey(fmt.Sprintf("p%03d", i))
		keys = append(keys, k)
		if i%2 == 0 {
			require.NoError(t, s.Put(ctx, record{PK: k.PK, SK: k.SK}))
		}
	}
	keys = append(keys, keys[0]) // duplicates are read once

	items, err := s.BatchGet(ctx, keys)
	require.NoError(t, err)
	assert.Len(t, items, 65)
	assert.Equal(t, 2, fake.Calls("BatchGetItem"))
}

func TestBatchDelete_ChunksAt25(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStore(t)

	var keys []Key
	for i := 0; i < 60; i++ {
		k := CartLineKey("u1", fmt.Sprintf("p%02d", i))
		keys = append(keys, k)
		require.NoError(t, s.Put(ctx, record{PK: k.PK, SK: k.SK}))
	}

	n, err := s.BatchDelete(ctx, keys)
	require.NoError(t, err)
	assert.Equal(t, 60, n)
	assert.Equal(t, 3, fake.Calls("BatchWriteItem"))
	assert.Equal(t, 0, fake.Len(testTable))

	n, err = s.BatchDelete(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueryAndCount(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for _, sk := range []string{"CART#b", "CART#a", "ORDER#1", "METADATA"} {
		require.NoError(t, s.Put(ctx, record{PK: "USER#u1", SK: sk}))
	}
	require.NoError(t, s.Put(ctx, record{PK: "USER#u2", SK: "CART#z"}))

	items, err := s.Query(ctx, Query{Partition: "USER#u1", SortPrefix: PrefixCart})
	require.NoError(t, err)
	var recs []record
	require.NoError(t, attributevalue.UnmarshalListOfMaps(items, &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "CART#a", recs[0].SK)

	n, err := s.Count(ctx, Query{Partition: "USER#u1", SortPrefix: PrefixOrder})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQuery_Projection(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.Put(ctx, record{PK: "USER#u1", SK: "CART#a", GSI1PK: "PRODUCT#a", GSI1SK: "USER#u1"}))

	items, err := s.Query(ctx, Query{Partition: "USER#u1", SortPrefix: PrefixCart, Projection: AttrPK + ", " + AttrSK})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Len(t, items[0], 2)

	var keys []Key
	require.NoError(t, attributevalue.UnmarshalListOfMaps(items, &keys))
	assert.Equal(t, []Key{{PK: "USER#u1", SK: "CART#a"}}, keys)
}

func TestQueryIndex(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.Put(ctx, record{PK: "PRODUCT#1", SK: SKMetadata, GSI1PK: "CATEGORY#c1", GSI1SK: "PRODUCT#1"}))
	require.NoError(t, s.Put(ctx, record{PK: "PRODUCT#2", SK: SKMetadata, GSI1PK: "CATEGORY#c2", GSI1SK: "PRODUCT#2"}))

	items, err := s.Query(ctx, Query{Index: IndexGSI1, Partition: "CATEGORY#c1"})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestScanFilter(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.Put(ctx, record{PK: "ORDER#1", SK: SKMetadata}))
	require.NoError(t, s.Put(ctx, record{PK: "ORDER#1", SK: "ITEM#p"}))
	require.NoError(t, s.Put(ctx, record{PK: "PRODUCT#1", SK: SKMetadata}))

	items, err := s.Scan(ctx, Filter{
		Expression: "begins_with(PK, :pk) AND SK = :sk",
		Values:     map[string]any{":pk": PrefixOrder, ":sk": SKMetadata},
	})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestTransactWrite_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStore(t)
	a, b := ProductKey("a"), ProductKey("b")
	require.NoError(t, s.Put(ctx, record{PK: a.PK, SK: a.SK, Stock: 5}))
	require.NoError(t, s.Put(ctx, record{PK: b.PK, SK: b.SK, Stock: 1}))

	dec := func(k Key, qty int) Op {
		return UpdateOp{Key: k, Update: Update{
			Expression: "SET stock = stock - :qty",
			Condition:  "stock >= :qty",
			Values:     map[string]any{":qty": qty},
		}}
	}

	err := s.TransactWrite(ctx, dec(a, 2), dec(b, 2))
	require.Error(t, err)
	tce, ok := AsTransactionCanceled(err)
	require.True(t, ok)
	assert.False(t, tce.ConditionFailedAt(0))
	assert.True(t, tce.ConditionFailedAt(1))
	assert.Equal(t, 1, tce.FirstConditionFailure())
	assert.True(t, errors.Is(err, ErrConditionFailed))

	var got record
	_, err = s.Get(ctx, a, &got)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock, "first decrement must be rolled back")

	require.NoError(t, s.TransactWrite(ctx, dec(a, 2), dec(b, 1), DeleteOp{Key: CartLineKey("u", "x")}))
	_, err = s.Get(ctx, b, &got)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)
	assert.Equal(t, 2, fake.Calls("TransactWriteItems"))
}

func TestTransactWrite_TooManyItems(t *testing.T) {
	s, fake := newTestStore(t)
	ops := make([]Op, MaxTransactItems+1)
	for i := range ops {
		ops[i] = DeleteOp{Key: CartLineKey("u", fmt.Sprint(i))}
	}
	err := s.TransactWrite(context.Background(), ops...)
	assert.ErrorIs(t, err, ErrTooManyItems)
	assert.Equal(t, 0, fake.Calls("TransactWriteItems"))
}

func TestTransactWrite_ClientError(t *testing.T) {
	s, fake := newTestStore(t)
	fake.FailNext("TransactWriteItems", errors.New("network down"))
	err := s.TransactWrite(context.Background(), DeleteOp{Key: CartLineKey("u", "p")})
	require.Error(t, err)
	_, ok := AsTransactionCanceled(err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "transact write")
}
