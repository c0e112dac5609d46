package payments

import (
	"context"
	"errors"
	"log"

	"github.com/imrishuroy/go-shop-orderflow/internal/apperr"
	"github.com/imrishuroy/go-shop-orderflow/internal/metrics"
	"github.com/imrishuroy/go-shop-orderflow/internal/orders"
)

// Reducer outcomes.
const (
	ActionIgnored   = "ignored"
	ActionDuplicate = "duplicate"
	ActionApplied   = "applied"
	ActionFailed    = "failed"
)

// OrderReader loads canonical orders.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

// PaymentApplier applies a gateway status to an order.
type PaymentApplier interface {
	ApplyPayment(ctx context.Context, orderID, paymentID, gatewayStatus string) error
}

// Result is the envelope returned to the gateway. It is always delivered with a 2xx.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	Action string `json:"-"`
	// Retryable is set for failures that a later redelivery may fix.
	Retryable bool `json:"-"`
}

// Reducer turns payment notifications into order transitions. Duplicate notifications are
// the normal case and reduce to no-ops.
type Reducer struct {
	gateway Gateway
	orders  OrderReader
	engine  PaymentApplier
	metrics metrics.Counter
}

// NewReducer wires a Reducer. A nil counter discards metrics.
func NewReducer(gw Gateway, orders OrderReader, engine PaymentApplier, counter metrics.Counter) *Reducer {
	if counter == nil {
		counter = metrics.Nop{}
	}
	return &Reducer{gateway: gw, orders: orders, engine: engine, metrics: counter}
}

// ProcessWebhook handles one notification. It never returns an error; failures are logged,
// counted and reported in the envelope.
func (r *Reducer) ProcessWebhook(ctx context.Context, n Notification) Result {
	paymentID := n.PaymentID()
	if n.Type != TypePayment || paymentID == "" {
		return Result{Success: true, Action: ActionIgnored}
	}

	p, err := r.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		return r.fail(ctx, paymentID, "", err, !errors.Is(err, ErrPaymentNotFound))
	}
	orderID := p.ExternalReference
	if orderID == "" {
		log.Printf("[webhook] payment=%s has no external reference", paymentID)
		return Result{Success: true, Action: ActionIgnored}
	}

	o, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return r.fail(ctx, paymentID, orderID, err, true)
	}
	if o == nil {
		log.Printf("[webhook] payment=%s references unknown order=%s", paymentID, orderID)
		return Result{Success: true, Action: ActionIgnored}
	}
	if o.Paid() {
		log.Printf("[webhook] duplicate notification payment=%s order=%s", paymentID, orderID)
		return Result{Success: true, Action: ActionDuplicate}
	}

	err = r.engine.ApplyPayment(ctx, orderID, paymentID, p.Status)
	switch {
	case err == nil:
		log.Printf("[webhook] applied payment=%s status=%s order=%s", paymentID, p.Status, orderID)
		return Result{Success: true, Action: ActionApplied}
	case errors.Is(err, apperr.ErrOrderAlreadyPaid):
		// a concurrent delivery won
		log.Printf("[webhook] duplicate notification payment=%s order=%s (lost race)", paymentID, orderID)
		return Result{Success: true, Action: ActionDuplicate}
	case errors.Is(err, apperr.ErrOrderNotFound):
		return Result{Success: true, Action: ActionIgnored}
	default:
		// business errors repeat on redelivery; a cancelled transaction does not
		_, business := apperr.As(err)
		retry := !business || errors.Is(err, apperr.ErrTransactionConflict)
		return r.fail(ctx, paymentID, orderID, err, retry)
	}
}

func (r *Reducer) fail(ctx context.Context, paymentID, orderID string, err error, retryable bool) Result {
	log.Printf("[webhook] payment=%s order=%s failed: %v", paymentID, orderID, err)
	r.metrics.Incr(ctx, metrics.WebhookErrors)
	code := "internal_error"
	if e, ok := apperr.As(err); ok {
		code = e.Code
	}
	return Result{Success: false, Error: code, Action: ActionFailed, Retryable: retryable}
}
