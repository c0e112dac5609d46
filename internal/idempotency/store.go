// Package idempotency records Idempotency-Key requests so retried writes replay their first
// response instead of running twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	awsclients "github.com/imrishuroy/go-shop-orderflow/internal/aws"
)

// ErrConditionFailed indicates a conditional write failed, e.g. another request claimed the key.
var ErrConditionFailed = errors.New("conditional check failed")

// ErrKeyReused is returned when a key is replayed with a different request.
var ErrKeyReused = errors.New("idempotency key reused with a different request")

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    awsclients.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // default TTL window when creating entries
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// tableName: DynamoDB table name for idempotency entries.
// ttlWindow: default TTL window (e.g., 48*time.Hour)
func NewStore(client awsclients.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// Fingerprint hashes the parts that identify a request.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Begin claims key for a request with the given fingerprint.
//
// It returns (rec, true, nil) when the caller owns the key and should run the request; that is
// the case for a fresh key and for one whose previous attempt FAILED or expired. Otherwise it
// returns the existing record with false: DONE carries the stored response and IN_PROGRESS means
// another request is running. A fingerprint mismatch returns ErrKeyReused.
func (s *Store) Begin(ctx context.Context, key, fingerprint string) (*Record, bool, error) {
	rec, created, err := s.createIfNotExists(ctx, key, fingerprint)
	if err != nil || created {
		return rec, created, err
	}

	existing, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// reaped between the two calls
		return s.createIfNotExists(ctx, key, fingerprint)
	}
	if existing.Fingerprint != fingerprint {
		return existing, false, ErrKeyReused
	}
	if existing.Status != StatusFailed && !existing.Expired(s.nowFunc()) {
		return existing, false, nil
	}

	claimed, err := s.claim(ctx, existing)
	if errors.Is(err, ErrConditionFailed) {
		// a concurrent retry got there first
		latest, gerr := s.Get(ctx, key)
		if gerr != nil {
			return nil, false, gerr
		}
		return latest, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return claimed, true, nil
}

func (s *Store) createIfNotExists(ctx context.Context, key, fingerprint string) (*Record, bool, error) {
	now := s.nowFunc()
	rec := Record{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		Fingerprint:    fingerprint,
		Attempts:       1,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(idempotency_key)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("put item: %w", err)
	}
	return &rec, true, nil
}

// claim moves a FAILED or expired record back to IN_PROGRESS. The attempts counter makes the
// update conditional on the snapshot the caller saw.
func (s *Store) claim(ctx context.Context, prev *Record) (*Record, error) {
	now := s.nowFunc()
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key:       keyOf(prev.IdempotencyKey),
		UpdateExpression: aws.String(
			"SET #s = :inprogress, attempts = attempts + :one, updated_at = :ua, expires_at = :exp"),
		ConditionExpression:      aws.String("attempts = :seen AND #s = :prev"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":prev":       &types.AttributeValueMemberS{Value: prev.Status},
			":one":        &types.AttributeValueMemberN{Value: "1"},
			":seen":       &types.AttributeValueMemberN{Value: strconv.Itoa(prev.Attempts)},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":exp":        &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.ttlWindow).Unix(), 10)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrConditionFailed
		}
		return nil, fmt.Errorf("update item (claim): %w", err)
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Attributes, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal claimed record: %w", err)
	}
	return &rec, nil
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyOf(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone sets status to DONE and stores the response to replay. Only an IN_PROGRESS record
// can complete.
func (s *Store) MarkDone(ctx context.Context, key, orderID, responseBody string, responseStatus int) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      keyOf(key),
		UpdateExpression:         aws.String("SET #s = :done, order_id = :oid, response_body = :rb, response_status = :rs, updated_at = :ua"),
		ConditionExpression:      aws.String("#s = :inprogress"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done":       &types.AttributeValueMemberS{Value: StatusDone},
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":oid":        &types.AttributeValueMemberS{Value: orderID},
			":rb":         &types.AttributeValueMemberS{Value: responseBody},
			":rs":         &types.AttributeValueMemberN{Value: strconv.Itoa(responseStatus)},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("update item (mark done): %w", err)
	}
	return nil
}

// MarkFailed marks the record FAILED with a note so the client may retry with the same key.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      keyOf(key),
		UpdateExpression:         aws.String("SET #s = :failed, note = :n, updated_at = :ua"),
		ConditionExpression:      aws.String("#s = :inprogress"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed":     &types.AttributeValueMemberS{Value: StatusFailed},
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":n":          &types.AttributeValueMemberS{Value: note},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("update item (mark failed): %w", err)
	}
	return nil
}

func keyOf(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

func isConditionFailed(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}
