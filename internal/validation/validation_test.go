package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOrder() CreateOrderRequest {
	return CreateOrderRequest{
		ShippingFirstName: "Ana",
		ShippingLastName:  "Lopez",
		ShippingCountry:   "AR",
		ShippingAddress:   "Calle 1",
		ShippingCity:      "Cordoba",
		ShippingState:     "Cordoba",
		ShippingZip:       "5000",
	}
}

func TestCreateOrderRequest_Valid(t *testing.T) {
	v := New()
	req := validOrder()
	req.ShippingPhone = "+54 351 000"
	require.NoError(t, v.Struct(req))

	ship := req.Shipping()
	assert.Equal(t, "Ana", ship.FirstName)
	assert.Equal(t, "+54 351 000", ship.Phone)
	assert.Empty(t, ship.Missing())
}

func TestCreateOrderRequest_MissingFields(t *testing.T) {
	v := New()
	req := validOrder()
	req.ShippingCity = ""
	req.ShippingZip = "   "

	err := v.Struct(req)
	require.Error(t, err)
	fields := FieldErrors(err)
	assert.Equal(t, "is required", fields["shipping_city"])
	assert.Equal(t, "is required", fields["shipping_zip"], "whitespace counts as missing")
	assert.NotContains(t, fields, "shipping_address2")
}

func TestCartRequests(t *testing.T) {
	v := New()
	assert.NoError(t, v.Struct(AddCartItemRequest{ProductID: "p1", Quantity: 1}))

	err := v.Struct(AddCartItemRequest{Quantity: 0})
	require.Error(t, err)
	fields := FieldErrors(err)
	assert.Contains(t, fields, "product_id")
	assert.Contains(t, fields, "quantity")

	err = v.Struct(UpdateCartItemRequest{Quantity: -2})
	require.Error(t, err)
	assert.Contains(t, FieldErrors(err), "quantity")
}

func TestUpdateOrderStatusRequest(t *testing.T) {
	v := New()
	for _, s := range []string{"pending", "paid", "processing", "shipped", "delivered", "cancelled"} {
		assert.NoError(t, v.Struct(UpdateOrderStatusRequest{Status: s}), s)
	}
	err := v.Struct(UpdateOrderStatusRequest{Status: "refunded"})
	require.Error(t, err)
	assert.Contains(t, FieldErrors(err)["status"], "must be one of pending, paid")
}

func TestBindAndValidate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := New()

	cases := map[string]struct {
		body     string
		wantErr  bool
		contains string
	}{
		"ok":        {`{"product_id":"p1","quantity":2}`, false, ""},
		"bad json":  {`{"product_id":`, true, "invalid_request_body"},
		"bad value": {`{"product_id":"p1","quantity":0}`, true, "validation_failed"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(tc.body))
			c.Request.Header.Set("Content-Type", "application/json")

			var req AddCartItemRequest
			err := BindAndValidate(c, &req, v)
			if !tc.wantErr {
				require.NoError(t, err)
				assert.Equal(t, AddCartItemRequest{ProductID: "p1", Quantity: 2}, req)
				return
			}
			require.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tc.contains)
		})
	}
}
