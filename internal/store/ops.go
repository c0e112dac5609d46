package store

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Update describes an update expression with an optional precondition.
// Values are marshalled with attributevalue unless they already are AttributeValues.
type Update struct {
	Expression string
	Condition  string
	Names      map[string]string
	Values     map[string]any
}

// Query selects items by partition key and optional sort-key prefix, on the table or an index.
type Query struct {
	Index      string // "", IndexGSI1 or IndexGSI2
	Partition  string
	SortPrefix string
	Projection string
	Limit      int32
}

func (q Query) keyNames() (string, string) {
	switch q.Index {
	case IndexGSI1:
		return AttrGSI1PK, AttrGSI1SK
	case IndexGSI2:
		return AttrGSI2PK, AttrGSI2SK
	default:
		return AttrPK, AttrSK
	}
}

func (q Query) input(table string) *dyn.QueryInput {
	pkName, skName := q.keyNames()
	cond := "#pk = :pk"
	names := map[string]string{"#pk": pkName}
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: q.Partition},
	}
	if q.SortPrefix != "" {
		cond += " AND begins_with(#sk, :sk)"
		names["#sk"] = skName
		values[":sk"] = &types.AttributeValueMemberS{Value: q.SortPrefix}
	}
	input := &dyn.QueryInput{
		TableName:                 &table,
		KeyConditionExpression:    &cond,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	if q.Index != "" {
		input.IndexName = &q.Index
	}
	if q.Projection != "" {
		input.ProjectionExpression = &q.Projection
	}
	if q.Limit > 0 {
		input.Limit = &q.Limit
	}
	return input
}

// Filter is a scan filter expression.
type Filter struct {
	Expression string
	Names      map[string]string
	Values     map[string]any
}

// Op is one operation of a transactional write.
type Op interface {
	transactItem(table string) (types.TransactWriteItem, error)
}

// PutOp writes a full item, optionally guarded by a condition.
type PutOp struct {
	Item      any
	Condition string
	Names     map[string]string
	Values    map[string]any
}

func (p PutOp) transactItem(table string) (types.TransactWriteItem, error) {
	av, err := attributevalue.MarshalMap(p.Item)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal put item: %w", err)
	}
	values, err := marshalValues(p.Values)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	put := &types.Put{
		TableName:                 &table,
		Item:                      av,
		ExpressionAttributeNames:  nilIfEmpty(p.Names),
		ExpressionAttributeValues: values,
	}
	if p.Condition != "" {
		put.ConditionExpression = &p.Condition
	}
	return types.TransactWriteItem{Put: put}, nil
}

// UpdateOp updates one item by key.
type UpdateOp struct {
	Key Key
	Update
}

func (u UpdateOp) transactItem(table string) (types.TransactWriteItem, error) {
	values, err := marshalValues(u.Values)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	expr := u.Expression
	upd := &types.Update{
		TableName:                 &table,
		Key:                       u.Key.AttributeValues(),
		UpdateExpression:          &expr,
		ExpressionAttributeNames:  nilIfEmpty(u.Names),
		ExpressionAttributeValues: values,
	}
	if u.Condition != "" {
		cond := u.Condition
		upd.ConditionExpression = &cond
	}
	return types.TransactWriteItem{Update: upd}, nil
}

// DeleteOp deletes one item by key, optionally guarded by a condition.
type DeleteOp struct {
	Key       Key
	Condition string
	Names     map[string]string
	Values    map[string]any
}

func (d DeleteOp) transactItem(table string) (types.TransactWriteItem, error) {
	values, err := marshalValues(d.Values)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	del := &types.Delete{
		TableName:                 &table,
		Key:                       d.Key.AttributeValues(),
		ExpressionAttributeNames:  nilIfEmpty(d.Names),
		ExpressionAttributeValues: values,
	}
	if d.Condition != "" {
		cond := d.Condition
		del.ConditionExpression = &cond
	}
	return types.TransactWriteItem{Delete: del}, nil
}
