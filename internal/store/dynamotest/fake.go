// Package dynamotest provides an in-memory DynamoDB fake for unit tests.
//
// The fake is mutex-serialised, so a TransactWriteItems call is atomic with respect to every
// other call. It understands the subset of expression syntax the repositories issue: SET
// updates with + and -, conjunctions of comparisons, attribute_exists, attribute_not_exists and
// begins_with.
package dynamotest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Index describes a global secondary index.
type Index struct {
	HashKey  string
	RangeKey string
}

// Table describes the key schema of one table.
type Table struct {
	Name     string
	HashKey  string
	RangeKey string
	Indexes  map[string]Index
}

// SingleTable returns the schema of the application's single table.
func SingleTable(name string) Table {
	return Table{
		Name:     name,
		HashKey:  "PK",
		RangeKey: "SK",
		Indexes: map[string]Index{
			"GSI1": {HashKey: "GSI1PK", RangeKey: "GSI1SK"},
			"GSI2": {HashKey: "GSI2PK", RangeKey: "GSI2SK"},
		},
	}
}

type table struct {
	def   Table
	items map[string]map[string]types.AttributeValue
}

// Fake implements the DynamoDB client interface used by the stores.
type Fake struct {
	mu     sync.Mutex
	tables map[string]*table
	calls  map[string]int

	failNext map[string]error
}

// New returns a Fake with the given tables.
func New(defs ...Table) *Fake {
	f := &Fake{
		tables:   map[string]*table{},
		calls:    map[string]int{},
		failNext: map[string]error{},
	}
	for _, d := range defs {
		f.tables[d.Name] = &table{def: d, items: map[string]map[string]types.AttributeValue{}}
	}
	return f
}

// Calls returns how many times op (e.g. "TransactWriteItems") was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// FailNext makes the next call to op return err.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[op] = err
}

// Seed stores an item directly, bypassing conditions.
func (f *Fake) Seed(tableName string, item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.mustTable(tableName)
	t.items[t.keyOf(item)] = copyItem(item)
}

// Item returns a copy of the item with the given key attributes, or nil.
func (f *Fake) Item(tableName string, key map[string]types.AttributeValue) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.mustTable(tableName)
	it, ok := t.items[t.keyOf(key)]
	if !ok {
		return nil
	}
	return copyItem(it)
}

// Len returns the number of items in a table.
func (f *Fake) Len(tableName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mustTable(tableName).items)
}

func (f *Fake) mustTable(name string) *table {
	t, ok := f.tables[name]
	if !ok {
		panic(fmt.Sprintf("dynamotest: unknown table %q", name))
	}
	return t
}

func (f *Fake) begin(op string) error {
	f.calls[op]++
	if err, ok := f.failNext[op]; ok {
		delete(f.failNext, op)
		return err
	}
	return nil
}

func (f *Fake) lookup(name *string) (*table, error) {
	if name == nil {
		return nil, validation("missing table name")
	}
	t, ok := f.tables[*name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + *name)}
	}
	return t, nil
}

func (t *table) keyOf(item map[string]types.AttributeValue) string {
	k := scalar(item[t.def.HashKey])
	if t.def.RangeKey != "" {
		k += "\x00" + scalar(item[t.def.RangeKey])
	}
	return k
}

func (t *table) keyAttrs(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := map[string]types.AttributeValue{t.def.HashKey: item[t.def.HashKey]}
	if t.def.RangeKey != "" {
		out[t.def.RangeKey] = item[t.def.RangeKey]
	}
	return out
}

func (t *table) validKey(key map[string]types.AttributeValue) error {
	if _, ok := key[t.def.HashKey]; !ok {
		return validation("missing hash key " + t.def.HashKey)
	}
	if t.def.RangeKey != "" {
		if _, ok := key[t.def.RangeKey]; !ok {
			return validation("missing range key " + t.def.RangeKey)
		}
	}
	return nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetItem"); err != nil {
		return nil, err
	}
	t, err := f.lookup(in.TableName)
	if err != nil {
		return nil, err
	}
	if err := t.validKey(in.Key); err != nil {
		return nil, err
	}
	it, ok := t.items[t.keyOf(in.Key)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(it)}, nil
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutItem"); err != nil {
		return nil, err
	}
	t, err := f.lookup(in.TableName)
	if err != nil {
		return nil, err
	}
	if err := t.validKey(in.Item); err != nil {
		return nil, err
	}
	env := exprEnv{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	ok, err := env.evalCondition(t.items[t.keyOf(in.Item)], aws.ToString(in.ConditionExpression))
	if err != nil {
		return nil, validation(err.Error())
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	t.items[t.keyOf(in.Item)] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateItem"); err != nil {
		return nil, err
	}
	t, err := f.lookup(in.TableName)
	if err != nil {
		return nil, err
	}
	if err := t.validKey(in.Key); err != nil {
		return nil, err
	}
	env := exprEnv{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	updated, err := t.update(env, in.Key, aws.ToString(in.UpdateExpression), aws.ToString(in.ConditionExpression))
	if err != nil {
		return nil, err
	}
	t.items[t.keyOf(in.Key)] = updated
	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues != types.ReturnValueNone && in.ReturnValues != "" {
		out.Attributes = copyItem(updated)
	}
	return out, nil
}

// update computes the post-update item without storing it.
func (t *table) update(env exprEnv, key map[string]types.AttributeValue, expr, cond string) (map[string]types.AttributeValue, error) {
	current, exists := t.items[t.keyOf(key)]
	ok, err := env.evalCondition(current, cond)
	if err != nil {
		return nil, validation(err.Error())
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	next := copyItem(current)
	if !exists {
		next = copyItem(t.keyAttrs(key))
	}
	if err := env.applyUpdate(next, expr); err != nil {
		return nil, validation(err.Error())
	}
	return next, nil
}

func (f *Fake) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteItem"); err != nil {
		return nil, err
	}
	t, err := f.lookup(in.TableName)
	if err != nil {
		return nil, err
	}
	if err := t.validKey(in.Key); err != nil {
		return nil, err
	}
	env := exprEnv{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	ok, err := env.evalCondition(t.items[t.keyOf(in.Key)], aws.ToString(in.ConditionExpression))
	if err != nil {
		return nil, validation(err.Error())
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	delete(t.items, t.keyOf(in.Key))
	return &dyn.DeleteItemOutput{}, nil
}

func (f *Fake) BatchGetItem(ctx context.Context, in *dyn.BatchGetItemInput, optFns ...func(*dyn.Options)) (*dyn.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("BatchGetItem"); err != nil {
		return nil, err
	}
	out := &dyn.BatchGetItemOutput{Responses: map[string][]map[string]types.AttributeValue{}}
	total := 0
	for name, ka := range in.RequestItems {
		t, err := f.lookup(aws.String(name))
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		for _, k := range ka.Keys {
			total++
			if err := t.validKey(k); err != nil {
				return nil, err
			}
			id := t.keyOf(k)
			if seen[id] {
				return nil, validation("Provided list of item keys contains duplicates")
			}
			seen[id] = true
			if it, ok := t.items[id]; ok {
				out.Responses[name] = append(out.Responses[name], copyItem(it))
			}
		}
	}
	if total > 100 {
		return nil, validation("Too many items requested for the BatchGetItem call")
	}
	return out, nil
}

func (f *Fake) BatchWriteItem(ctx context.Context, in *dyn.BatchWriteItemInput, optFns ...func(*dyn.Options)) (*dyn.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("BatchWriteItem"); err != nil {
		return nil, err
	}
	total := 0
	for _, reqs := range in.RequestItems {
		total += len(reqs)
	}
	if total > 25 {
		return nil, validation("Too many items requested for the BatchWriteItem call")
	}
	for name, reqs := range in.RequestItems {
		t, err := f.lookup(aws.String(name))
		if err != nil {
			return nil, err
		}
		for _, r := range reqs {
			switch {
			case r.PutRequest != nil:
				t.items[t.keyOf(r.PutRequest.Item)] = copyItem(r.PutRequest.Item)
			case r.DeleteRequest != nil:
				delete(t.items, t.keyOf(r.DeleteRequest.Key))
			}
		}
	}
	return &dyn.BatchWriteItemOutput{}, nil
}

func (f *Fake) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Query"); err != nil {
		return nil, err
	}
	t, err := f.lookup(in.TableName)
	if err != nil {
		return nil, err
	}
	hashName, rangeName := t.def.HashKey, t.def.RangeKey
	if in.IndexName != nil {
		idx, ok := t.def.Indexes[*in.IndexName]
		if !ok {
			return nil, validation("unknown index " + *in.IndexName)
		}
		hashName, rangeName = idx.HashKey, idx.RangeKey
	}
	env := exprEnv{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	keyCond := aws.ToString(in.KeyConditionExpression)
	if !strings.Contains(keyCond, " = ") {
		return nil, validation("key condition must test the partition key for equality")
	}

	var matched []map[string]types.AttributeValue
	for _, it := range t.items {
		if _, ok := it[hashName]; !ok {
			continue
		}
		ok, err := env.evalCondition(it, keyCond)
		if err != nil {
			return nil, validation(err.Error())
		}
		if !ok {
			continue
		}
		if in.FilterExpression != nil {
			ok, err = env.evalCondition(it, *in.FilterExpression)
			if err != nil {
				return nil, validation(err.Error())
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, it)
	}
	sort.Slice(matched, func(i, j int) bool {
		return scalar(matched[i][rangeName]) < scalar(matched[j][rangeName])
	})
	if in.Limit != nil && int(*in.Limit) < len(matched) {
		matched = matched[:*in.Limit]
	}
	out := &dyn.QueryOutput{Count: int32(len(matched)), ScannedCount: int32(len(matched))}
	if in.Select != types.SelectCount {
		for _, it := range matched {
			out.Items = append(out.Items, env.project(copyItem(it), aws.ToString(in.ProjectionExpression)))
		}
	}
	return out, nil
}

// project keeps only the attributes listed in a projection expression.
func (e exprEnv) project(item map[string]types.AttributeValue, expr string) map[string]types.AttributeValue {
	if strings.TrimSpace(expr) == "" {
		return item
	}
	out := map[string]types.AttributeValue{}
	for _, name := range strings.Split(expr, ",") {
		name = strings.TrimSpace(name)
		if resolved, ok := e.names[name]; ok {
			name = resolved
		}
		if v, ok := item[name]; ok {
			out[name] = v
		}
	}
	return out
}

func (f *Fake) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Scan"); err != nil {
		return nil, err
	}
	t, err := f.lookup(in.TableName)
	if err != nil {
		return nil, err
	}
	env := exprEnv{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	out := &dyn.ScanOutput{}
	for _, it := range t.items {
		ok, err := env.evalCondition(it, aws.ToString(in.FilterExpression))
		if err != nil {
			return nil, validation(err.Error())
		}
		if ok {
			out.Items = append(out.Items, copyItem(it))
		}
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("TransactWriteItems"); err != nil {
		return nil, err
	}
	if len(in.TransactItems) > 100 {
		return nil, validation("Member must have length less than or equal to 100")
	}

	type staged struct {
		t    *table
		id   string
		item map[string]types.AttributeValue // nil means delete
	}
	plan := make([]staged, 0, len(in.TransactItems))
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	touched := map[string]bool{}

	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		var (
			tableName *string
			key       map[string]types.AttributeValue
			cond      *string
			env       exprEnv
		)
		switch {
		case ti.Put != nil:
			tableName, key, cond = ti.Put.TableName, ti.Put.Item, ti.Put.ConditionExpression
			env = exprEnv{names: ti.Put.ExpressionAttributeNames, values: ti.Put.ExpressionAttributeValues}
		case ti.Update != nil:
			tableName, key, cond = ti.Update.TableName, ti.Update.Key, ti.Update.ConditionExpression
			env = exprEnv{names: ti.Update.ExpressionAttributeNames, values: ti.Update.ExpressionAttributeValues}
		case ti.Delete != nil:
			tableName, key, cond = ti.Delete.TableName, ti.Delete.Key, ti.Delete.ConditionExpression
			env = exprEnv{names: ti.Delete.ExpressionAttributeNames, values: ti.Delete.ExpressionAttributeValues}
		case ti.ConditionCheck != nil:
			tableName, key, cond = ti.ConditionCheck.TableName, ti.ConditionCheck.Key, ti.ConditionCheck.ConditionExpression
			env = exprEnv{names: ti.ConditionCheck.ExpressionAttributeNames, values: ti.ConditionCheck.ExpressionAttributeValues}
		default:
			return nil, validation("empty transact item")
		}
		t, err := f.lookup(tableName)
		if err != nil {
			return nil, err
		}
		if err := t.validKey(key); err != nil {
			return nil, err
		}
		id := t.keyOf(key)
		if touched[t.def.Name+"\x01"+id] {
			return nil, validation("Transaction request cannot include multiple operations on one item")
		}
		touched[t.def.Name+"\x01"+id] = true

		ok, err := env.evalCondition(t.items[id], aws.ToString(cond))
		if err != nil {
			return nil, validation(err.Error())
		}
		if !ok {
			reasons[i] = types.CancellationReason{
				Code:    aws.String("ConditionalCheckFailed"),
				Message: aws.String("The conditional request failed"),
			}
			failed = true
			continue
		}
		switch {
		case ti.Put != nil:
			plan = append(plan, staged{t: t, id: id, item: copyItem(ti.Put.Item)})
		case ti.Update != nil:
			next, err := t.update(env, key, aws.ToString(ti.Update.UpdateExpression), "")
			if err != nil {
				return nil, err
			}
			plan = append(plan, staged{t: t, id: id, item: next})
		case ti.Delete != nil:
			plan = append(plan, staged{t: t, id: id})
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, s := range plan {
		if s.item == nil {
			delete(s.t.items, s.id)
			continue
		}
		s.t.items[s.id] = s.item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func validation(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg}
}

func scalar(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberB:
		return string(v.Value)
	}
	return ""
}

func copyItem(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	if in == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
