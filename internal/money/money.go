// Package money holds decimal amounts and the rounding rule used for every price aggregation.
package money

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Places is the number of fraction digits money is rounded and rendered to.
const Places = 2

// Money is a decimal amount. It is stored in DynamoDB as a number and serialised to JSON as a
// quoted string with two fraction digits.
type Money struct {
	decimal.Decimal
}

// Zero is 0.00.
var Zero = Money{decimal.Zero}

// New wraps a decimal.
func New(d decimal.Decimal) Money { return Money{d} }

// Parse reads a decimal string such as "19.995".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Money{d}, nil
}

// MustParse is Parse that panics; for constants and tests.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Round rounds half away from zero to two places.
func (m Money) Round() Money { return Money{m.Decimal.Round(Places)} }

// Times multiplies by a quantity without rounding.
func (m Money) Times(qty int) Money { return Money{m.Decimal.Mul(decimal.NewFromInt(int64(qty)))} }

// Plus adds two amounts without rounding.
func (m Money) Plus(o Money) Money { return Money{m.Decimal.Add(o.Decimal)} }

// Fixed renders the amount rounded to exactly two fraction digits.
func (m Money) Fixed() string { return m.Decimal.StringFixed(Places) }

// MarshalJSON renders the amount as a quoted two-digit string ("2.50").
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.Fixed() + `"`), nil
}

// Subtotal is round2(price × qty).
func Subtotal(price Money, qty int) Money {
	return price.Times(qty).Round()
}

// Sum adds already-rounded subtotals and rounds the result, so totals never drift from the
// lines they are built from.
func Sum(subtotals ...Money) Money {
	total := Zero
	for _, s := range subtotals {
		total = total.Plus(s.Round())
	}
	return total.Round()
}

// MarshalDynamoDBAttributeValue stores the amount as an N attribute.
func (m Money) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: m.Decimal.String()}, nil
}

// UnmarshalDynamoDBAttributeValue accepts both N and S attributes; older records stored prices
// as strings.
func (m *Money) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		m.Decimal = decimal.Zero
		return nil
	default:
		return fmt.Errorf("unsupported attribute type %T for money", av)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("parse money attribute %q: %w", raw, err)
	}
	m.Decimal = d
	return nil
}
