// Package apperr defines the error kinds surfaced by the cart, order and payment services.
//
// Every business error carries a Kind (used for HTTP status mapping) and a stable Code that
// clients can branch on. Sentinels declared here are matched with errors.Is by code, so a
// sentinel re-issued with a more specific message still matches.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the transport boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUnavailable
	KindInsufficientStock
	KindConflict
	KindForbidden
	KindConcurrency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "unavailable"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindConcurrency:
		return "concurrency"
	default:
		return "internal"
	}
}

// Error is a classified business error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New returns a new classified error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Withf returns a copy of sentinel with a formatted message.
func Withf(sentinel *Error, format string, args ...any) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a copy of sentinel carrying cause.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: sentinel.Message, Err: cause}
}

// Validation builds an ad-hoc validation error.
func Validation(format string, args ...any) *Error {
	return Withf(ErrValidation, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

var (
	ErrValidation = New(KindValidation, "validation_error", "invalid input")

	ErrProductNotFound  = New(KindNotFound, "product_not_found", "product not found")
	ErrCategoryNotFound = New(KindNotFound, "category_not_found", "category not found")
	ErrOrderNotFound    = New(KindNotFound, "order_not_found", "order not found")
	ErrCartItemNotFound = New(KindNotFound, "cart_item_not_found", "item not found in cart")

	ErrProductNotAvailable = New(KindUnavailable, "product_not_available", "product is not available")
	ErrInsufficientStock   = New(KindInsufficientStock, "insufficient_stock", "insufficient stock")

	ErrEmptyCart        = New(KindConflict, "empty_cart", "cart is empty")
	ErrOrderAlreadyPaid = New(KindConflict, "order_already_paid", "order has already been paid")

	ErrForbidden = New(KindForbidden, "forbidden", "not allowed to access this resource")

	ErrConcurrentStockConflict = New(KindConcurrency, "concurrent_stock_conflict", "stock changed concurrently, not enough units left")
	ErrTransactionConflict     = New(KindConcurrency, "transaction_conflict", "concurrent modification, retry the request")
)
