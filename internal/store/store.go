// Package store is the single-table item store shared by the cart, catalog and order packages.
//
// Every entity lives in one DynamoDB table addressed by PK/SK, with two global secondary
// indexes (GSI1, GSI2) for alternate access paths. Writes that must keep several records
// consistent go through TransactWrite, which is all-or-nothing.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-shop-orderflow/internal/aws"
)

// DynamoDB request limits.
const (
	MaxBatchGetKeys    = 100
	MaxBatchWriteItems = 25
	MaxTransactItems   = 100

	maxUnprocessedRetries = 5
)

// Item is a raw DynamoDB item.
type Item = map[string]types.AttributeValue

// Store encapsulates operations on the single table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
	backoff   time.Duration
}

// New creates a Store bound to tableName.
func New(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
		backoff:   50 * time.Millisecond,
	}
}

// TableName returns the table the store writes to.
func (s *Store) TableName() string { return s.tableName }

// Timestamp returns the current time in the format stored on every record.
func (s *Store) Timestamp() string {
	return s.nowFunc().UTC().Format(time.RFC3339Nano)
}

// SetClock overrides the clock; used by tests.
func (s *Store) SetClock(now func() time.Time) { s.nowFunc = now }

// Get fetches a single item and unmarshals it into out. Returns false if the item does not exist.
func (s *Store) Get(ctx context.Context, key Key, out any) (bool, error) {
	res, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       key.AttributeValues(),
	})
	if err != nil {
		return false, fmt.Errorf("get item %s: %w", key, err)
	}
	if len(res.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal item %s: %w", key, err)
	}
	return true, nil
}

// Put writes item unconditionally.
func (s *Store) Put(ctx context.Context, item any) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// PutNew writes item only if no item with its key exists. Returns ErrConditionFailed otherwise.
func (s *Store) PutNew(ctx context.Context, item any) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	cond := "attribute_not_exists(PK)"
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: &cond,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Update applies a conditional update and unmarshals the updated item into out when out is not nil.
// Returns ErrConditionFailed when the condition does not hold.
func (s *Store) Update(ctx context.Context, key Key, u Update, out any) error {
	values, err := marshalValues(u.Values)
	if err != nil {
		return err
	}
	input := &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       key.AttributeValues(),
		UpdateExpression:          &u.Expression,
		ExpressionAttributeNames:  nilIfEmpty(u.Names),
		ExpressionAttributeValues: values,
	}
	if u.Condition != "" {
		input.ConditionExpression = &u.Condition
	}
	if out != nil {
		input.ReturnValues = types.ReturnValueAllNew
	}

	res, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("update item %s: %w", key, err)
	}
	if out != nil {
		if err := attributevalue.UnmarshalMap(res.Attributes, out); err != nil {
			return fmt.Errorf("unmarshal updated item %s: %w", key, err)
		}
	}
	return nil
}

// Delete removes an item. A non-empty condition makes the delete conditional.
func (s *Store) Delete(ctx context.Context, key Key, condition string) error {
	input := &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key:       key.AttributeValues(),
	}
	if condition != "" {
		input.ConditionExpression = &condition
	}
	if _, err := s.client.DeleteItem(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("delete item %s: %w", key, err)
	}
	return nil
}

// BatchGet reads many items, chunked at MaxBatchGetKeys. Missing keys are absent from the
// result and duplicate keys are read once. Result order is not specified.
func (s *Store) BatchGet(ctx context.Context, keys []Key) ([]Item, error) {
	unique := dedupeKeys(keys)
	out := make([]Item, 0, len(unique))
	for start := 0; start < len(unique); start += MaxBatchGetKeys {
		end := min(start+MaxBatchGetKeys, len(unique))
		avKeys := make([]Item, 0, end-start)
		for _, k := range unique[start:end] {
			avKeys = append(avKeys, k.AttributeValues())
		}
		request := map[string]types.KeysAndAttributes{
			s.tableName: {Keys: avKeys},
		}
		for attempt := 0; len(request) > 0; attempt++ {
			if attempt > maxUnprocessedRetries {
				return nil, fmt.Errorf("batch get: unprocessed keys remain after %d retries", maxUnprocessedRetries)
			}
			if attempt > 0 {
				if err := s.sleep(ctx, attempt); err != nil {
					return nil, err
				}
			}
			res, err := s.client.BatchGetItem(ctx, &dyn.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, fmt.Errorf("batch get: %w", err)
			}
			out = append(out, res.Responses[s.tableName]...)
			request = res.UnprocessedKeys
		}
	}
	return out, nil
}

// BatchDelete deletes keys in chunks of MaxBatchWriteItems and returns how many were deleted.
func (s *Store) BatchDelete(ctx context.Context, keys []Key) (int, error) {
	unique := dedupeKeys(keys)
	deleted := 0
	for start := 0; start < len(unique); start += MaxBatchWriteItems {
		end := min(start+MaxBatchWriteItems, len(unique))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, k := range unique[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: k.AttributeValues()},
			})
		}
		pending := map[string][]types.WriteRequest{s.tableName: requests}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt > maxUnprocessedRetries {
				return deleted, fmt.Errorf("batch delete: unprocessed items remain after %d retries", maxUnprocessedRetries)
			}
			if attempt > 0 {
				if err := s.sleep(ctx, attempt); err != nil {
					return deleted, err
				}
			}
			res, err := s.client.BatchWriteItem(ctx, &dyn.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return deleted, fmt.Errorf("batch delete: %w", err)
			}
			deleted += len(pending[s.tableName]) - len(res.UnprocessedItems[s.tableName])
			pending = res.UnprocessedItems
		}
	}
	return deleted, nil
}

// Query reads every item matching q, following pagination.
func (s *Store) Query(ctx context.Context, q Query) ([]Item, error) {
	input := q.input(s.tableName)
	var out []Item
	for {
		res, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q.Partition, err)
		}
		out = append(out, res.Items...)
		if q.Limit > 0 && len(out) >= int(q.Limit) {
			return out[:q.Limit], nil
		}
		if len(res.LastEvaluatedKey) == 0 {
			return out, nil
		}
		input.ExclusiveStartKey = res.LastEvaluatedKey
	}
}

// Count returns the number of items matching q.
func (s *Store) Count(ctx context.Context, q Query) (int, error) {
	input := q.input(s.tableName)
	input.Select = types.SelectCount
	input.ProjectionExpression = nil
	total := 0
	for {
		res, err := s.client.Query(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", q.Partition, err)
		}
		total += int(res.Count)
		if len(res.LastEvaluatedKey) == 0 {
			return total, nil
		}
		input.ExclusiveStartKey = res.LastEvaluatedKey
	}
}

// Scan reads the whole table, keeping items that match the filter expression.
func (s *Store) Scan(ctx context.Context, f Filter) ([]Item, error) {
	values, err := marshalValues(f.Values)
	if err != nil {
		return nil, err
	}
	input := &dyn.ScanInput{
		TableName:                 &s.tableName,
		ExpressionAttributeNames:  nilIfEmpty(f.Names),
		ExpressionAttributeValues: values,
	}
	if f.Expression != "" {
		input.FilterExpression = &f.Expression
	}
	var out []Item
	for {
		res, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, res.Items...)
		if len(res.LastEvaluatedKey) == 0 {
			return out, nil
		}
		input.ExclusiveStartKey = res.LastEvaluatedKey
	}
}

// TransactWrite applies every operation or none of them. A cancelled transaction is reported as
// *TransactionCanceledError with one reason per operation.
func (s *Store) TransactWrite(ctx context.Context, ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > MaxTransactItems {
		return fmt.Errorf("%w: %d > %d", ErrTooManyItems, len(ops), MaxTransactItems)
	}
	items := make([]types.TransactWriteItem, 0, len(ops))
	for i, op := range ops {
		it, err := op.transactItem(s.tableName)
		if err != nil {
			return fmt.Errorf("build transact item %d: %w", i, err)
		}
		items = append(items, it)
	}
	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return translateTransactError(err)
	}
	return nil
}

func (s *Store) sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(s.backoff * time.Duration(1<<min(attempt, 6)))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func dedupeKeys(keys []Key) []Key {
	seen := make(map[Key]struct{}, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func marshalValues(values map[string]any) (map[string]types.AttributeValue, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]types.AttributeValue, len(values))
	for k, v := range values {
		if av, ok := v.(types.AttributeValue); ok {
			out[k] = av
			continue
		}
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal value %s: %w", k, err)
		}
		out[k] = av
	}
	return out, nil
}

func nilIfEmpty(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}
