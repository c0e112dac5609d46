package store

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Attribute and index names of the single table.
const (
	AttrPK     = "PK"
	AttrSK     = "SK"
	AttrGSI1PK = "GSI1PK"
	AttrGSI1SK = "GSI1SK"
	AttrGSI2PK = "GSI2PK"
	AttrGSI2SK = "GSI2SK"

	IndexGSI1 = "GSI1"
	IndexGSI2 = "GSI2"
)

// Key prefixes.
const (
	PrefixProduct      = "PRODUCT#"
	PrefixCategory     = "CATEGORY#"
	PrefixCategoryName = "CATEGORY_NAME#"
	PrefixUser         = "USER#"
	PrefixEmail        = "EMAIL#"
	PrefixCart         = "CART#"
	PrefixOrder        = "ORDER#"
	PrefixItem         = "ITEM#"

	SKMetadata = "METADATA"
)

// Key is the composite primary key of an item.
type Key struct {
	PK string
	SK string
}

// AttributeValues renders the key for the DynamoDB API.
func (k Key) AttributeValues() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: k.PK},
		AttrSK: &types.AttributeValueMemberS{Value: k.SK},
	}
}

func (k Key) String() string { return k.PK + "|" + k.SK }

func ProductKey(productID string) Key { return Key{PK: PrefixProduct + productID, SK: SKMetadata} }

func CategoryKey(categoryID string) Key { return Key{PK: PrefixCategory + categoryID, SK: SKMetadata} }

func UserKey(userID string) Key { return Key{PK: PrefixUser + userID, SK: SKMetadata} }

func CartLineKey(userID, productID string) Key {
	return Key{PK: PrefixUser + userID, SK: PrefixCart + productID}
}

// OrderKey addresses the canonical order record.
func OrderKey(orderID string) Key { return Key{PK: PrefixOrder + orderID, SK: SKMetadata} }

// OrderIndexKey addresses the ownership-index twin of an order.
func OrderIndexKey(userID, orderID string) Key {
	return Key{PK: PrefixUser + userID, SK: PrefixOrder + orderID}
}

func OrderLineKey(orderID, productID string) Key {
	return Key{PK: PrefixOrder + orderID, SK: PrefixItem + productID}
}

// TrimID strips a key prefix, returning the bare identifier.
func TrimID(value, prefix string) string {
	return strings.TrimPrefix(value, prefix)
}
