package validation

import "github.com/imrishuroy/go-shop-orderflow/internal/orders"

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	ShippingFirstName string `json:"shipping_first_name" validate:"required,max=100"`
	ShippingLastName  string `json:"shipping_last_name" validate:"required,max=100"`
	ShippingCountry   string `json:"shipping_country" validate:"required,max=100"`
	ShippingAddress   string `json:"shipping_address" validate:"required,max=200"`
	ShippingAddress2  string `json:"shipping_address2,omitempty" validate:"max=200"`
	ShippingCity      string `json:"shipping_city" validate:"required,max=100"`
	ShippingState     string `json:"shipping_state" validate:"required,max=100"`
	ShippingZip       string `json:"shipping_zip" validate:"required,max=20"`
	ShippingPhone     string `json:"shipping_phone,omitempty" validate:"omitempty,max=30"`
}

// Shipping converts the request into the order's shipping snapshot.
func (r CreateOrderRequest) Shipping() orders.Shipping {
	return orders.Shipping{
		FirstName: r.ShippingFirstName,
		LastName:  r.ShippingLastName,
		Country:   r.ShippingCountry,
		Address:   r.ShippingAddress,
		Address2:  r.ShippingAddress2,
		City:      r.ShippingCity,
		State:     r.ShippingState,
		Zip:       r.ShippingZip,
		Phone:     r.ShippingPhone,
	}
}

// AddCartItemRequest is the payload for POST /cart/items
type AddCartItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

// UpdateCartItemRequest is the payload for PUT /cart/items/:product_id
type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

// UpdateOrderStatusRequest is the payload for PATCH /admin/orders/:id/status
type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,order_status"`
}
