package dynamotest

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// exprEnv resolves #names and :values of one request.
type exprEnv struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func (e exprEnv) attrName(tok string) string {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, "#") {
		if n, ok := e.names[tok]; ok {
			return n
		}
	}
	return tok
}

// operand resolves a :value or an attribute path against item. ok is false when the
// referenced attribute does not exist.
func (e exprEnv) operand(item map[string]types.AttributeValue, tok string) (types.AttributeValue, bool, error) {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, ":") {
		v, ok := e.values[tok]
		if !ok {
			return nil, false, fmt.Errorf("ValidationException: value %s not defined", tok)
		}
		return v, true, nil
	}
	v, ok := item[e.attrName(tok)]
	return v, ok, nil
}

var comparators = []string{" <> ", " >= ", " <= ", " = ", " > ", " < "}

// evalCondition evaluates a conjunction of simple clauses. Supported clauses:
// attribute_exists(a), attribute_not_exists(a), begins_with(a, :v) and a OP b.
func (e exprEnv) evalCondition(item map[string]types.AttributeValue, expr string) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	for _, clause := range strings.Split(expr, " AND ") {
		ok, err := e.evalClause(item, strings.TrimSpace(clause))
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (e exprEnv) evalClause(item map[string]types.AttributeValue, clause string) (bool, error) {
	switch {
	case strings.HasPrefix(clause, "attribute_exists("):
		_, ok := item[e.attrName(inner(clause))]
		return ok, nil
	case strings.HasPrefix(clause, "attribute_not_exists("):
		_, ok := item[e.attrName(inner(clause))]
		return !ok, nil
	case strings.HasPrefix(clause, "begins_with("):
		args := strings.SplitN(inner(clause), ",", 2)
		if len(args) != 2 {
			return false, fmt.Errorf("ValidationException: bad begins_with %q", clause)
		}
		a, ok, err := e.operand(item, args[0])
		if err != nil || !ok {
			return false, err
		}
		b, _, err := e.operand(item, args[1])
		if err != nil {
			return false, err
		}
		as, aok := a.(*types.AttributeValueMemberS)
		bs, bok := b.(*types.AttributeValueMemberS)
		return aok && bok && strings.HasPrefix(as.Value, bs.Value), nil
	}
	for _, op := range comparators {
		idx := strings.Index(clause, op)
		if idx < 0 {
			continue
		}
		a, aok, err := e.operand(item, clause[:idx])
		if err != nil {
			return false, err
		}
		b, bok, err := e.operand(item, clause[idx+len(op):])
		if err != nil {
			return false, err
		}
		if !aok || !bok {
			return strings.TrimSpace(op) == "<>", nil
		}
		cmp, comparable, err := compare(a, b)
		if err != nil {
			return false, err
		}
		switch strings.TrimSpace(op) {
		case "=":
			return comparable && cmp == 0, nil
		case "<>":
			return !comparable || cmp != 0, nil
		case ">=":
			return comparable && cmp >= 0, nil
		case "<=":
			return comparable && cmp <= 0, nil
		case ">":
			return comparable && cmp > 0, nil
		case "<":
			return comparable && cmp < 0, nil
		}
	}
	return false, fmt.Errorf("ValidationException: unsupported condition %q", clause)
}

func inner(call string) string {
	open := strings.Index(call, "(")
	end := strings.LastIndex(call, ")")
	if open < 0 || end < open {
		return ""
	}
	return call[open+1 : end]
}

// compare orders two attribute values of the same scalar type.
func compare(a, b types.AttributeValue) (int, bool, error) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false, nil
		}
		return strings.Compare(av.Value, bv.Value), true, nil
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false, nil
		}
		x, err := decimal.NewFromString(av.Value)
		if err != nil {
			return 0, false, err
		}
		y, err := decimal.NewFromString(bv.Value)
		if err != nil {
			return 0, false, err
		}
		return x.Cmp(y), true, nil
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return 0, false, nil
		}
		if av.Value == bv.Value {
			return 0, true, nil
		}
		return 1, true, nil
	}
	return 0, false, nil
}

// applyUpdate evaluates a "SET a = :v, b = b - :n" expression against item in place.
func (e exprEnv) applyUpdate(item map[string]types.AttributeValue, expr string) error {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "SET ") {
		return fmt.Errorf("ValidationException: only SET updates are supported, got %q", expr)
	}
	// evaluate every right-hand side against the pre-update item
	before := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		before[k] = v
	}
	for _, assignment := range strings.Split(strings.TrimPrefix(expr, "SET "), ",") {
		parts := strings.SplitN(assignment, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("ValidationException: bad assignment %q", assignment)
		}
		lhs := e.attrName(parts[0])
		v, err := e.evalValue(before, strings.TrimSpace(parts[1]))
		if err != nil {
			return err
		}
		item[lhs] = v
	}
	return nil
}

func (e exprEnv) evalValue(item map[string]types.AttributeValue, rhs string) (types.AttributeValue, error) {
	for _, op := range []string{" + ", " - "} {
		idx := strings.Index(rhs, op)
		if idx < 0 {
			continue
		}
		a, aok, err := e.operand(item, rhs[:idx])
		if err != nil {
			return nil, err
		}
		b, bok, err := e.operand(item, rhs[idx+len(op):])
		if err != nil {
			return nil, err
		}
		an, ok1 := a.(*types.AttributeValueMemberN)
		bn, ok2 := b.(*types.AttributeValueMemberN)
		if !aok || !bok || !ok1 || !ok2 {
			return nil, fmt.Errorf("ValidationException: arithmetic on missing or non-number operand in %q", rhs)
		}
		x, err := decimal.NewFromString(an.Value)
		if err != nil {
			return nil, err
		}
		y, err := decimal.NewFromString(bn.Value)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(op) == "+" {
			return &types.AttributeValueMemberN{Value: x.Add(y).String()}, nil
		}
		return &types.AttributeValueMemberN{Value: x.Sub(y).String()}, nil
	}
	v, ok, err := e.operand(item, rhs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("ValidationException: attribute %q does not exist", rhs)
	}
	return v, nil
}
