package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/imrishuroy/go-shop-orderflow/internal/apperr"
	"github.com/imrishuroy/go-shop-orderflow/internal/store"
)

// Fixed transaction slots: the canonical record comes first, its twin second.
const (
	slotCanonical = 0
	slotTwin      = 1
	fixedSlots    = 2
)

// MaxOrderLines is the largest cart CreateOrder accepts: every line needs an order line put and a
// cart line delete next to the two order records.
const MaxOrderLines = (store.MaxTransactItems - fixedSlots) / 2

// Store persists orders. Every write that touches status goes through one transaction covering
// the canonical record and its twin.
type Store struct {
	db *store.Store
}

// NewStore creates a new orders Store.
func NewStore(db *store.Store) *Store {
	return &Store{db: db}
}

// Now returns the timestamp stamped on writes.
func (s *Store) Now() string { return s.db.Timestamp() }

// Get fetches an order by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	found, err := s.db.Get(ctx, store.OrderKey(orderID), &o)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	if !found {
		return nil, nil
	}
	return &o, nil
}

// IsOwner reports whether userID owns orderID, using the twin record.
func (s *Store) IsOwner(ctx context.Context, userID, orderID string) (bool, error) {
	var idx OrderIndex
	found, err := s.db.Get(ctx, store.OrderIndexKey(userID, orderID), &idx)
	if err != nil {
		return false, fmt.Errorf("get order index %s: %w", orderID, err)
	}
	return found, nil
}

// Lines returns the lines of an order.
func (s *Store) Lines(ctx context.Context, orderID string) ([]Line, error) {
	items, err := s.db.Query(ctx, store.Query{
		Partition:  store.PrefixOrder + orderID,
		SortPrefix: store.PrefixItem,
	})
	if err != nil {
		return nil, fmt.Errorf("query order lines %s: %w", orderID, err)
	}
	lines := []Line{}
	if err := attributevalue.UnmarshalListOfMaps(items, &lines); err != nil {
		return nil, fmt.Errorf("unmarshal order lines: %w", err)
	}
	return lines, nil
}

// CountLines counts the lines of an order without reading them.
func (s *Store) CountLines(ctx context.Context, orderID string) (int, error) {
	return s.db.Count(ctx, store.Query{
		Partition:  store.PrefixOrder + orderID,
		SortPrefix: store.PrefixItem,
	})
}

// ListIndexByUser returns the twins of a user's orders.
func (s *Store) ListIndexByUser(ctx context.Context, userID string) ([]OrderIndex, error) {
	items, err := s.db.Query(ctx, store.Query{
		Partition:  store.PrefixUser + userID,
		SortPrefix: store.PrefixOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("query orders of %s: %w", userID, err)
	}
	var out []OrderIndex
	if err := attributevalue.UnmarshalListOfMaps(items, &out); err != nil {
		return nil, fmt.Errorf("unmarshal order index: %w", err)
	}
	return out, nil
}

// BatchGet reads canonical records. Missing ids are absent from the result.
func (s *Store) BatchGet(ctx context.Context, orderIDs []string) ([]Order, error) {
	keys := make([]store.Key, 0, len(orderIDs))
	for _, id := range orderIDs {
		keys = append(keys, store.OrderKey(id))
	}
	items, err := s.db.BatchGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("batch get orders: %w", err)
	}
	var out []Order
	if err := attributevalue.UnmarshalListOfMaps(items, &out); err != nil {
		return nil, fmt.Errorf("unmarshal orders: %w", err)
	}
	return out, nil
}

// ListAll scans every canonical order record.
func (s *Store) ListAll(ctx context.Context) ([]Order, error) {
	items, err := s.db.Scan(ctx, store.Filter{
		Expression: "begins_with(PK, :pk) AND SK = :sk",
		Values: map[string]any{
			":pk": store.PrefixOrder,
			":sk": store.SKMetadata,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scan orders: %w", err)
	}
	var out []Order
	if err := attributevalue.UnmarshalListOfMaps(items, &out); err != nil {
		return nil, fmt.Errorf("unmarshal orders: %w", err)
	}
	return out, nil
}

// Create writes the order, its twin and its lines, and consumes the given cart lines, all in one
// transaction. A cart line that vanished in the meantime cancels the whole write.
func (s *Store) Create(ctx context.Context, o Order, lines []Line, cartKeys []store.Key) error {
	k := store.OrderKey(o.ID)
	o.PK, o.SK, o.EntityType = k.PK, k.SK, EntityOrder

	ops := make([]store.Op, 0, fixedSlots+len(lines)+len(cartKeys))
	ops = append(ops,
		store.PutOp{Item: o, Condition: "attribute_not_exists(PK)"},
		store.PutOp{Item: indexOf(o)},
	)
	for _, l := range lines {
		lk := store.OrderLineKey(o.ID, l.ProductID)
		l.PK, l.SK, l.EntityType, l.OrderID = lk.PK, lk.SK, EntityOrderItem, o.ID
		ops = append(ops, store.PutOp{Item: l})
	}
	for _, ck := range cartKeys {
		ops = append(ops, store.DeleteOp{Key: ck, Condition: "attribute_exists(PK)"})
	}

	err := s.db.TransactWrite(ctx, ops...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrTooManyItems):
		return apperr.Validation("order has too many lines, at most %d are allowed", MaxOrderLines)
	}
	if _, ok := store.AsTransactionCanceled(err); ok {
		return apperr.Wrap(apperr.ErrTransactionConflict, err)
	}
	return fmt.Errorf("create order %s: %w", o.ID, err)
}

// Cancel sets both records to cancelled unless the order was paid in the meantime.
func (s *Store) Cancel(ctx context.Context, o *Order) error {
	set := "SET #status = :status, payment_status = :ps, updated_at = :ua"
	values := map[string]any{
		":status": StatusCancelled,
		":ps":     PaymentCancelled,
		":ua":     s.Now(),
		":paid":   StatusPaid,
		":ok":     PaymentApproved,
	}
	err := s.db.TransactWrite(ctx,
		store.UpdateOp{Key: store.OrderKey(o.ID), Update: store.Update{
			Expression: set,
			Condition:  "attribute_exists(PK) AND #status <> :paid AND payment_status <> :ok",
			Names:      statusName,
			Values:     values,
		}},
		store.UpdateOp{Key: store.OrderIndexKey(o.UserID, o.ID), Update: store.Update{
			Expression: set,
			Condition:  "attribute_exists(PK)",
			Names:      statusName,
			Values:     pick(values, ":status", ":ps", ":ua"),
		}},
	)
	return s.statusWriteError(o.ID, err)
}

// SetStatus writes status and payment status on both records.
func (s *Store) SetStatus(ctx context.Context, o *Order, status, paymentStatus string) error {
	set := "SET #status = :status, payment_status = :ps, updated_at = :ua"
	values := map[string]any{":status": status, ":ps": paymentStatus, ":ua": s.Now()}
	err := s.db.TransactWrite(ctx,
		store.UpdateOp{Key: store.OrderKey(o.ID), Update: store.Update{
			Expression: set, Condition: "attribute_exists(PK)", Names: statusName, Values: values,
		}},
		store.UpdateOp{Key: store.OrderIndexKey(o.UserID, o.ID), Update: store.Update{
			Expression: set, Condition: "attribute_exists(PK)", Names: statusName, Values: values,
		}},
	)
	if tce, ok := store.AsTransactionCanceled(err); ok && tce.FirstConditionFailure() >= 0 {
		return apperr.Withf(apperr.ErrOrderNotFound, "order %s not found", o.ID)
	}
	return s.statusWriteError(o.ID, err)
}

// SetPaymentStatus mirrors a non-approving gateway status on both records. An order that got
// approved in the meantime is left untouched and reported as already paid.
func (s *Store) SetPaymentStatus(ctx context.Context, o *Order, paymentStatus string) error {
	set := "SET payment_status = :ps, updated_at = :ua"
	values := map[string]any{":ps": paymentStatus, ":ua": s.Now()}
	guarded := pick(values, ":ps", ":ua")
	guarded[":paid"] = StatusPaid
	guarded[":ok"] = PaymentApproved
	err := s.db.TransactWrite(ctx,
		store.UpdateOp{Key: store.OrderKey(o.ID), Update: store.Update{
			Expression: set,
			Condition:  "attribute_exists(PK) AND #status <> :paid AND payment_status <> :ok",
			Names:      statusName,
			Values:     guarded,
		}},
		store.UpdateOp{Key: store.OrderIndexKey(o.UserID, o.ID), Update: store.Update{
			Expression: set, Condition: "attribute_exists(PK)", Values: values,
		}},
	)
	return s.statusWriteError(o.ID, err)
}

// Approve marks the order paid, decrements stock for every line and deletes as many of the
// owner's cart lines as still fit in the transaction. It returns the cart keys that did not fit.
//
// A failed condition on the canonical record means the order is already paid; on a product it
// means another approval took the stock first.
func (s *Store) Approve(ctx context.Context, o *Order, paymentID string, lines []Line, cartKeys []store.Key) ([]store.Key, error) {
	now := s.Now()
	ops := make([]store.Op, 0, store.MaxTransactItems)
	ops = append(ops,
		store.UpdateOp{Key: store.OrderKey(o.ID), Update: store.Update{
			Expression: "SET #status = :status, payment_status = :ps, payment_id = :pid, updated_at = :ua",
			Condition:  "attribute_exists(PK) AND #status <> :status AND payment_status <> :ps",
			Names:      statusName,
			Values: map[string]any{
				":status": StatusPaid,
				":ps":     PaymentApproved,
				":pid":    paymentID,
				":ua":     now,
			},
		}},
		store.UpdateOp{Key: store.OrderIndexKey(o.UserID, o.ID), Update: store.Update{
			Expression: "SET #status = :status, payment_status = :ps, updated_at = :ua",
			Condition:  "attribute_exists(PK)",
			Names:      statusName,
			Values:     map[string]any{":status": StatusPaid, ":ps": PaymentApproved, ":ua": now},
		}},
	)
	for _, l := range lines {
		ops = append(ops, store.UpdateOp{Key: store.ProductKey(l.ProductID), Update: store.Update{
			Expression: "SET stock = stock - :qty, updated_at = :ua",
			Condition:  "stock >= :qty",
			Values:     map[string]any{":qty": l.Quantity, ":ua": now},
		}})
	}
	room := store.MaxTransactItems - len(ops)
	if room < 0 {
		return nil, fmt.Errorf("approve order %s: %w", o.ID, store.ErrTooManyItems)
	}
	fit := min(room, len(cartKeys))
	for _, ck := range cartKeys[:fit] {
		ops = append(ops, store.DeleteOp{Key: ck})
	}
	leftover := cartKeys[fit:]

	err := s.db.TransactWrite(ctx, ops...)
	if err == nil {
		return leftover, nil
	}
	tce, ok := store.AsTransactionCanceled(err)
	if !ok {
		return nil, fmt.Errorf("approve order %s: %w", o.ID, err)
	}
	switch {
	case tce.ConditionFailedAt(slotCanonical):
		return nil, apperr.Withf(apperr.ErrOrderAlreadyPaid, "order %s is already paid", o.ID)
	case tce.ConditionFailedAt(slotTwin):
		return nil, fmt.Errorf("approve order %s: order index missing: %w", o.ID, err)
	}
	for i, l := range lines {
		if tce.ConditionFailedAt(fixedSlots + i) {
			return nil, apperr.Withf(apperr.ErrConcurrentStockConflict,
				"not enough stock left for product %s", l.ProductID)
		}
	}
	if tce.Conflicted() {
		return nil, apperr.Wrap(apperr.ErrTransactionConflict, err)
	}
	return nil, fmt.Errorf("approve order %s: %w", o.ID, err)
}

// DeleteCartLines removes cart lines outside of any transaction.
func (s *Store) DeleteCartLines(ctx context.Context, keys []store.Key) (int, error) {
	return s.db.BatchDelete(ctx, keys)
}

func (s *Store) statusWriteError(orderID string, err error) error {
	if err == nil {
		return nil
	}
	tce, ok := store.AsTransactionCanceled(err)
	if !ok {
		return fmt.Errorf("update order %s: %w", orderID, err)
	}
	switch {
	case tce.ConditionFailedAt(slotCanonical):
		return apperr.Withf(apperr.ErrOrderAlreadyPaid, "order %s is already paid", orderID)
	case tce.ConditionFailedAt(slotTwin):
		return fmt.Errorf("update order %s: order index missing: %w", orderID, err)
	case tce.Conflicted():
		return apperr.Wrap(apperr.ErrTransactionConflict, err)
	}
	return fmt.Errorf("update order %s: %w", orderID, err)
}

var statusName = map[string]string{"#status": "status"}

func indexOf(o Order) OrderIndex {
	k := store.OrderIndexKey(o.UserID, o.ID)
	return OrderIndex{
		PK:            k.PK,
		SK:            k.SK,
		GSI1PK:        store.PrefixOrder + o.ID,
		GSI1SK:        store.SKMetadata,
		EntityType:    EntityOrderIndex,
		OrderID:       o.ID,
		UserID:        o.UserID,
		Total:         o.Total,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func pick(values map[string]any, names ...string) map[string]any {
	out := make(map[string]any, len(names))
	for _, n := range names {
		out[n] = values[n]
	}
	return out
}
