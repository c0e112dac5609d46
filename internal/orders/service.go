package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/go-shop-orderflow/internal/apperr"
	"github.com/imrishuroy/go-shop-orderflow/internal/cart"
	"github.com/imrishuroy/go-shop-orderflow/internal/catalog"
	"github.com/imrishuroy/go-shop-orderflow/internal/metrics"
	"github.com/imrishuroy/go-shop-orderflow/internal/money"
	"github.com/imrishuroy/go-shop-orderflow/internal/store"
)

// countConcurrency bounds the per-order line counts issued by listings.
const countConcurrency = 8

// CartReader is the cart subset the engine needs.
type CartReader interface {
	Lines(ctx context.Context, userID string) ([]cart.Line, error)
}

// CatalogReader is the catalog subset the engine needs.
type CatalogReader interface {
	BatchGetProducts(ctx context.Context, productIDs []string) (map[string]catalog.Product, error)
	BatchGetUsers(ctx context.Context, userIDs []string) (map[string]catalog.User, error)
	FindUserByEmail(ctx context.Context, email string) (*catalog.User, error)
}

// Service drives order state transitions.
type Service struct {
	store   *Store
	carts   CartReader
	catalog CatalogReader
	metrics metrics.Counter
	newID   func() string
}

// NewService wires the transition engine.
func NewService(s *Store, carts CartReader, cat CatalogReader, counter metrics.Counter) *Service {
	if counter == nil {
		counter = metrics.Nop{}
	}
	return &Service{
		store:   s,
		carts:   carts,
		catalog: cat,
		metrics: counter,
		newID:   uuid.NewString,
	}
}

// CreateOrder converts the user's cart into a pending order and empties the cart, atomically.
// Stock is checked but not reserved; it is only decremented when payment is approved.
func (s *Service) CreateOrder(ctx context.Context, userID string, ship Shipping) (*Detail, error) {
	if missing := ship.Missing(); len(missing) > 0 {
		return nil, apperr.Validation("missing shipping fields: %s", strings.Join(missing, ", "))
	}

	cartLines, err := s.carts.Lines(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(cartLines) == 0 {
		return nil, apperr.ErrEmptyCart
	}
	if len(cartLines) > MaxOrderLines {
		return nil, apperr.Validation("cart has %d lines, at most %d fit in one order", len(cartLines), MaxOrderLines)
	}

	ids := make([]string, 0, len(cartLines))
	for _, cl := range cartLines {
		ids = append(ids, cl.ProductID)
	}
	products, err := s.catalog.BatchGetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	// validate the whole cart before anything is written
	for _, cl := range cartLines {
		p, ok := products[cl.ProductID]
		switch {
		case !ok:
			return nil, apperr.Withf(apperr.ErrProductNotFound, "product not found: %s", cl.ProductID)
		case !p.IsActive:
			return nil, apperr.Withf(apperr.ErrProductNotAvailable, "product %q is no longer available", p.Name)
		case p.Stock < cl.Quantity:
			return nil, apperr.Withf(apperr.ErrInsufficientStock, "insufficient stock for %q: available %d", p.Name, p.Stock)
		}
	}

	now := s.store.Now()
	orderID := s.newID()
	lines := make([]Line, 0, len(cartLines))
	subtotals := make([]money.Money, 0, len(cartLines))
	cartKeys := make([]store.Key, 0, len(cartLines))
	for _, cl := range cartLines {
		p := products[cl.ProductID]
		sub := money.Subtotal(p.Price, cl.Quantity)
		subtotals = append(subtotals, sub)
		lines = append(lines, Line{
			OrderID:     orderID,
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    cl.Quantity,
			Price:       p.Price,
			Subtotal:    sub.Fixed(),
			ImageURL:    p.ImageURL,
			CreatedAt:   now,
		})
		cartKeys = append(cartKeys, cl.Key())
	}

	order := Order{
		ID:            orderID,
		UserID:        userID,
		Total:         money.Sum(subtotals...).Fixed(),
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		Shipping:      ship,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, order, lines, cartKeys); err != nil {
		return nil, err
	}

	log.Printf("[orders] created order=%s user=%s total=%s lines=%d", orderID, userID, order.Total, len(lines))
	s.metrics.Incr(ctx, metrics.OrdersCreated)
	return &Detail{Order: order, Items: lines}, nil
}

// CancelOrder cancels a pending order. Owners may cancel their own orders, admins any order;
// nobody may cancel a paid one.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string, isAdmin bool) (*Order, error) {
	o, err := s.mustGet(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID && !isAdmin {
		return nil, apperr.Withf(apperr.ErrForbidden, "not allowed to cancel order %s", orderID)
	}
	if o.Paid() {
		return nil, apperr.Withf(apperr.ErrOrderAlreadyPaid, "order %s is already paid and cannot be cancelled", orderID)
	}
	if err := s.store.Cancel(ctx, o); err != nil {
		return nil, err
	}
	log.Printf("[orders] cancelled order=%s by=%s admin=%t", orderID, userID, isAdmin)
	s.metrics.Incr(ctx, metrics.OrdersCancelled)
	return s.mustGet(ctx, orderID)
}

// UpdateOrderStatus is the admin status override. The payment status follows the new status.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID, status string) (*Order, error) {
	if !ValidStatus(status) {
		return nil, apperr.Validation("invalid status %q, must be one of: %s", status, strings.Join(Statuses, ", "))
	}
	o, err := s.mustGet(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetStatus(ctx, o, status, PaymentStatusFor(status, o.PaymentStatus)); err != nil {
		return nil, err
	}
	log.Printf("[orders] order=%s status %s -> %s", orderID, o.Status, status)
	return s.mustGet(ctx, orderID)
}

// ApplyPayment applies a gateway payment status to an order.
//
// approved marks the order paid, decrements stock and clears the owner's cart in one
// transaction; ErrOrderAlreadyPaid means a duplicate notification won the race and nothing
// changed. rejected and any other status are mirrored into payment_status.
func (s *Service) ApplyPayment(ctx context.Context, orderID, paymentID, gatewayStatus string) error {
	o, err := s.mustGet(ctx, orderID)
	if err != nil {
		return err
	}
	switch gatewayStatus {
	case PaymentApproved:
		return s.approve(ctx, o, paymentID)
	case PaymentRejected:
		if err := s.store.SetPaymentStatus(ctx, o, PaymentRejected); err != nil {
			return err
		}
		log.Printf("[orders] payment rejected order=%s payment=%s", orderID, paymentID)
		s.metrics.Incr(ctx, metrics.PaymentsRejected)
		return nil
	default:
		ps := gatewayStatus
		if ps == "" {
			ps = PaymentPending
		}
		if err := s.store.SetPaymentStatus(ctx, o, ps); err != nil {
			return err
		}
		log.Printf("[orders] payment status %s order=%s payment=%s", ps, orderID, paymentID)
		return nil
	}
}

func (s *Service) approve(ctx context.Context, o *Order, paymentID string) error {
	lines, err := s.store.Lines(ctx, o.ID)
	if err != nil {
		return err
	}
	cartLines, err := s.carts.Lines(ctx, o.UserID)
	if err != nil {
		return err
	}
	cartKeys := make([]store.Key, 0, len(cartLines))
	for _, cl := range cartLines {
		cartKeys = append(cartKeys, cl.Key())
	}

	leftover, err := s.store.Approve(ctx, o, paymentID, lines, cartKeys)
	if err != nil {
		if errors.Is(err, apperr.ErrConcurrentStockConflict) {
			log.Printf("[orders] stock conflict approving order=%s: %v", o.ID, err)
			s.metrics.Incr(ctx, metrics.StockConflicts)
		}
		return err
	}
	log.Printf("[orders] payment approved order=%s payment=%s", o.ID, paymentID)
	s.metrics.Incr(ctx, metrics.PaymentsApproved)

	if len(leftover) > 0 {
		// best effort: the order is already paid
		n, err := s.store.DeleteCartLines(ctx, leftover)
		if err != nil {
			log.Printf("[orders] order=%s: deleted %d of %d remaining cart lines: %v", o.ID, n, len(leftover), err)
		}
	}
	return nil
}

// ListMine returns the caller's orders, newest first.
func (s *Service) ListMine(ctx context.Context, userID string) ([]Summary, error) {
	index, err := s.store.ListIndexByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(index) == 0 {
		return []Summary{}, nil
	}
	ids := make([]string, 0, len(index))
	for _, idx := range index {
		ids = append(ids, idx.OrderID)
	}
	orders, err := s.store.BatchGet(ctx, ids)
	if err != nil {
		return nil, err
	}
	counts, err := s.countLines(ctx, orders)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, len(orders))
	for i, o := range orders {
		out[i] = Summary{Order: o, ItemsCount: counts[i]}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// GetMine returns one of the caller's orders with its lines. Orders of other users look
// missing.
func (s *Service) GetMine(ctx context.Context, userID, orderID string) (*Detail, error) {
	if err := s.checkOwner(ctx, userID, orderID); err != nil {
		return nil, err
	}
	o, err := s.mustGet(ctx, orderID)
	if err != nil {
		return nil, err
	}
	lines, err := s.store.Lines(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &Detail{Order: *o, Items: lines}, nil
}

// PaymentStatus reports the payment state of one of the caller's orders.
func (s *Service) PaymentStatus(ctx context.Context, userID, orderID string) (*PaymentView, error) {
	if err := s.checkOwner(ctx, userID, orderID); err != nil {
		return nil, err
	}
	o, err := s.mustGet(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &PaymentView{
		OrderID:       o.ID,
		UserID:        o.UserID,
		Total:         o.Total,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentID:     o.PaymentID,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}, nil
}

// AdminList returns every order, newest first, with the owner's name and email.
func (s *Service) AdminList(ctx context.Context) ([]AdminSummary, error) {
	orders, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return []AdminSummary{}, nil
	}

	seen := map[string]bool{}
	var userIDs []string
	for _, o := range orders {
		if !seen[o.UserID] {
			seen[o.UserID] = true
			userIDs = append(userIDs, o.UserID)
		}
	}
	users, err := s.catalog.BatchGetUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	counts, err := s.countLines(ctx, orders)
	if err != nil {
		return nil, err
	}

	out := make([]AdminSummary, len(orders))
	for i, o := range orders {
		name, email := "N/A", "N/A"
		if u, ok := users[o.UserID]; ok {
			name, email = u.Name, u.Email
		}
		out[i] = AdminSummary{
			Summary:   Summary{Order: o, ItemsCount: counts[i]},
			UserName:  name,
			UserEmail: email,
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// AdminListByEmail returns the orders of the user registered under email, newest first. An
// unknown email gives an empty list.
func (s *Service) AdminListByEmail(ctx context.Context, email string) ([]AdminSummary, error) {
	u, err := s.catalog.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return []AdminSummary{}, nil
	}
	mine, err := s.ListMine(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	out := make([]AdminSummary, len(mine))
	for i, m := range mine {
		out[i] = AdminSummary{Summary: m, UserName: u.Name, UserEmail: u.Email}
	}
	return out, nil
}

// AdminGet returns any order with its lines and owner.
func (s *Service) AdminGet(ctx context.Context, orderID string) (*Detail, error) {
	o, err := s.mustGet(ctx, orderID)
	if err != nil {
		return nil, err
	}
	lines, err := s.store.Lines(ctx, orderID)
	if err != nil {
		return nil, err
	}
	d := &Detail{Order: *o, Items: lines}
	users, err := s.catalog.BatchGetUsers(ctx, []string{o.UserID})
	if err != nil {
		return nil, err
	}
	if u, ok := users[o.UserID]; ok {
		d.UserName, d.UserEmail = u.Name, u.Email
	}
	return d, nil
}

func (s *Service) mustGet(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperr.Withf(apperr.ErrOrderNotFound, "order %s not found", orderID)
	}
	return o, nil
}

func (s *Service) checkOwner(ctx context.Context, userID, orderID string) error {
	owner, err := s.store.IsOwner(ctx, userID, orderID)
	if err != nil {
		return err
	}
	if !owner {
		return apperr.Withf(apperr.ErrOrderNotFound, "order %s not found", orderID)
	}
	return nil
}

// countLines counts the lines of every order concurrently; counts[i] belongs to orders[i].
func (s *Service) countLines(ctx context.Context, orders []Order) ([]int, error) {
	counts := make([]int, len(orders))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(countConcurrency)
	for i := range orders {
		g.Go(func() error {
			n, err := s.store.CountLines(gctx, orders[i].ID)
			if err != nil {
				return fmt.Errorf("count lines of order %s: %w", orders[i].ID, err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}
