package orders

import (
	"strings"

	"github.com/imrishuroy/go-shop-orderflow/internal/money"
)

// Order statuses
const (
	StatusPending    = "pending"
	StatusPaid       = "paid"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
)

// Payment statuses. Any other gateway status is stored verbatim.
const (
	PaymentPending   = "pending"
	PaymentApproved  = "approved"
	PaymentRejected  = "rejected"
	PaymentCancelled = "cancelled"
)

// Entity type markers.
const (
	EntityOrder      = "ORDER"
	EntityOrderIndex = "ORDER_INDEX"
	EntityOrderItem  = "ORDER_ITEM"
)

// Statuses lists every order status in lifecycle order.
var Statuses = []string{StatusPending, StatusPaid, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

// ValidStatus reports whether s is an order status.
func ValidStatus(s string) bool {
	for _, st := range Statuses {
		if st == s {
			return true
		}
	}
	return false
}

// PaymentStatusFor derives the payment status that accompanies an admin status change.
func PaymentStatusFor(status, current string) string {
	switch status {
	case StatusPaid:
		return PaymentApproved
	case StatusCancelled:
		return PaymentCancelled
	case StatusPending:
		return PaymentPending
	default:
		return current
	}
}

// Shipping is the delivery address snapshot taken at order creation.
type Shipping struct {
	FirstName string `dynamodbav:"shipping_first_name" json:"shipping_first_name"`
	LastName  string `dynamodbav:"shipping_last_name" json:"shipping_last_name"`
	Country   string `dynamodbav:"shipping_country" json:"shipping_country"`
	Address   string `dynamodbav:"shipping_address" json:"shipping_address"`
	Address2  string `dynamodbav:"shipping_address2,omitempty" json:"shipping_address2,omitempty"`
	City      string `dynamodbav:"shipping_city" json:"shipping_city"`
	State     string `dynamodbav:"shipping_state" json:"shipping_state"`
	Zip       string `dynamodbav:"shipping_zip" json:"shipping_zip"`
	Phone     string `dynamodbav:"shipping_phone,omitempty" json:"shipping_phone,omitempty"`
}

// Missing returns the json names of required fields that are blank.
func (s Shipping) Missing() []string {
	var out []string
	required := []struct {
		name, value string
	}{
		{"shipping_first_name", s.FirstName},
		{"shipping_last_name", s.LastName},
		{"shipping_country", s.Country},
		{"shipping_address", s.Address},
		{"shipping_city", s.City},
		{"shipping_state", s.State},
		{"shipping_zip", s.Zip},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			out = append(out, f.name)
		}
	}
	return out
}

// Order is the canonical order record stored under ORDER#<id>/METADATA.
type Order struct {
	PK         string `dynamodbav:"PK" json:"-"`
	SK         string `dynamodbav:"SK" json:"-"`
	EntityType string `dynamodbav:"entityType" json:"-"`

	ID            string `dynamodbav:"id" json:"id"`
	UserID        string `dynamodbav:"user_id" json:"user_id"`
	Total         string `dynamodbav:"total" json:"total"`
	Status        string `dynamodbav:"status" json:"status"`
	PaymentStatus string `dynamodbav:"payment_status" json:"payment_status"`
	Shipping
	PaymentID *string `dynamodbav:"payment_id,omitempty" json:"payment_id"`
	CreatedAt string  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt string  `dynamodbav:"updated_at" json:"updated_at"`
}

// Paid reports whether a payment has been applied to the order.
func (o *Order) Paid() bool {
	return o.Status == StatusPaid || o.PaymentStatus == PaymentApproved
}

// OrderIndex is the ownership twin stored under USER#<uid>/ORDER#<id>. It mirrors the status
// fields of the canonical record.
type OrderIndex struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	GSI1PK     string `dynamodbav:"GSI1PK"`
	GSI1SK     string `dynamodbav:"GSI1SK"`
	EntityType string `dynamodbav:"entityType"`

	OrderID       string `dynamodbav:"order_id"`
	UserID        string `dynamodbav:"user_id"`
	Total         string `dynamodbav:"total"`
	Status        string `dynamodbav:"status"`
	PaymentStatus string `dynamodbav:"payment_status"`
	CreatedAt     string `dynamodbav:"created_at"`
	UpdatedAt     string `dynamodbav:"updated_at"`
}

// Line is an order line stored under ORDER#<id>/ITEM#<pid>. Lines never change after creation.
type Line struct {
	PK         string `dynamodbav:"PK" json:"-"`
	SK         string `dynamodbav:"SK" json:"-"`
	EntityType string `dynamodbav:"entityType" json:"-"`

	OrderID     string      `dynamodbav:"order_id" json:"-"`
	ProductID   string      `dynamodbav:"product_id" json:"product_id"`
	ProductName string      `dynamodbav:"product_name" json:"product_name"`
	Quantity    int         `dynamodbav:"quantity" json:"quantity"`
	Price       money.Money `dynamodbav:"price" json:"price"`
	Subtotal    string      `dynamodbav:"subtotal" json:"subtotal"`
	ImageURL    string      `dynamodbav:"image_url,omitempty" json:"image_url,omitempty"`
	CreatedAt   string      `dynamodbav:"created_at" json:"-"`
}

// Summary is an order in a listing.
type Summary struct {
	Order
	ItemsCount int `json:"items_count"`
}

// AdminSummary is an order in the admin listing, joined with its owner's profile.
type AdminSummary struct {
	Summary
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
}

// Detail is a full order with its lines.
type Detail struct {
	Order
	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
	Items     []Line `json:"items"`
}

// PaymentView answers the payment status endpoint.
type PaymentView struct {
	OrderID       string  `json:"id"`
	UserID        string  `json:"user_id"`
	Total         string  `json:"total"`
	Status        string  `json:"status"`
	PaymentStatus string  `json:"payment_status"`
	PaymentID     *string `json:"payment_id"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}
