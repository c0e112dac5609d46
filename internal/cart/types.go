package cart

import (
	"github.com/imrishuroy/go-shop-orderflow/internal/money"
	"github.com/imrishuroy/go-shop-orderflow/internal/store"
)

// EntityCartItem marks cart line records.
const EntityCartItem = "CART_ITEM"

// Line is a cart line as stored under USER#<uid>/CART#<pid>. Product fields are a snapshot taken
// when the line was added or last updated.
type Line struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	GSI1PK     string `dynamodbav:"GSI1PK"`
	GSI1SK     string `dynamodbav:"GSI1SK"`
	EntityType string `dynamodbav:"entityType"`

	UserID       string      `dynamodbav:"user_id"`
	ProductID    string      `dynamodbav:"product_id"`
	ProductName  string      `dynamodbav:"product_name"`
	ProductPrice money.Money `dynamodbav:"product_price"`
	ProductImage string      `dynamodbav:"product_image,omitempty"`
	Quantity     int         `dynamodbav:"quantity"`
	CreatedAt    string      `dynamodbav:"created_at"`
	UpdatedAt    string      `dynamodbav:"updated_at"`
}

// Key returns the line's primary key.
func (l Line) Key() store.Key { return store.CartLineKey(l.UserID, l.ProductID) }

// ItemView is a line as returned by AddItem and UpdateItem.
type ItemView struct {
	ID           string `json:"id"`
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	ProductPrice string `json:"product_price"`
	ProductImage string `json:"product_image,omitempty"`
	ProductStock int    `json:"product_stock"`
	Quantity     int    `json:"quantity"`
	Subtotal     string `json:"subtotal"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// AddResult is returned by AddItem.
type AddResult struct {
	Item     ItemView `json:"item"`
	IsUpdate bool     `json:"is_update"`
}

// CartItem is one line of GetCart, priced from the current product record.
type CartItem struct {
	ID                 string `json:"id"`
	ProductID          string `json:"product_id"`
	ProductName        string `json:"product_name"`
	ProductDescription string `json:"product_description,omitempty"`
	ProductPrice       string `json:"product_price"`
	ProductStock       int    `json:"product_stock"`
	ProductImage       string `json:"product_image,omitempty"`
	ProductIsActive    bool   `json:"product_is_active"`
	Quantity           int    `json:"quantity"`
	Subtotal           string `json:"subtotal"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

// Cart is the priced view of a user's cart.
type Cart struct {
	Count int        `json:"count"`
	Total string     `json:"total"`
	Items []CartItem `json:"items"`
}
