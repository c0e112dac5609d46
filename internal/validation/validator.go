package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-shop-orderflow/internal/orders"
)

// New returns a configured validator. Field errors are reported under their json names and
// the order_status tag accepts the six order statuses.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// registration only fails for an empty tag or nil func
	_ = v.RegisterValidation("order_status", func(fl validatorv10.FieldLevel) bool {
		return orders.ValidStatus(fl.Field().String())
	})

	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

// createOrderStructValidation rejects shipping fields that are only whitespace.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)
	for _, name := range req.Shipping().Missing() {
		sl.ReportError("", name, name, "required", "")
	}
}
