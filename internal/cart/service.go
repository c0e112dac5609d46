// Package cart holds the per-user shopping cart, the only mutable state before an order exists.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/imrishuroy/go-shop-orderflow/internal/apperr"
	"github.com/imrishuroy/go-shop-orderflow/internal/catalog"
	"github.com/imrishuroy/go-shop-orderflow/internal/money"
	"github.com/imrishuroy/go-shop-orderflow/internal/store"
)

// ProductReader is the catalog subset the cart needs.
type ProductReader interface {
	GetProduct(ctx context.Context, productID string) (*catalog.Product, error)
	BatchGetProducts(ctx context.Context, productIDs []string) (map[string]catalog.Product, error)
}

// Service implements cart operations.
type Service struct {
	store    *store.Store
	products ProductReader
}

// NewService returns a cart Service.
func NewService(s *store.Store, products ProductReader) *Service {
	return &Service{store: s, products: products}
}

// Lines returns the stored lines of a user's cart in product id order.
func (s *Service) Lines(ctx context.Context, userID string) ([]Line, error) {
	items, err := s.store.Query(ctx, store.Query{
		Partition:  store.PrefixUser + userID,
		SortPrefix: store.PrefixCart,
	})
	if err != nil {
		return nil, fmt.Errorf("query cart of %s: %w", userID, err)
	}
	var lines []Line
	if err := attributevalue.UnmarshalListOfMaps(items, &lines); err != nil {
		return nil, fmt.Errorf("unmarshal cart lines: %w", err)
	}
	return lines, nil
}

// addAttempts bounds how often AddItem re-reads a line that changed under it.
const addAttempts = 5

// errLineChanged means the line was written by someone else between read and write.
var errLineChanged = errors.New("cart line changed concurrently")

// AddItem adds qty units of a product, merging with an existing line. Concurrent adds of the
// same product are serialised on the line's quantity.
func (s *Service) AddItem(ctx context.Context, userID, productID string, qty int) (*AddResult, error) {
	if qty < 1 {
		return nil, apperr.Validation("quantity must be greater than 0")
	}
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, apperr.Withf(apperr.ErrProductNotAvailable, "product %q is not available", product.Name)
	}

	for attempt := 0; attempt < addAttempts; attempt++ {
		res, err := s.addOnce(ctx, userID, product, qty)
		if !errors.Is(err, errLineChanged) {
			return res, err
		}
	}
	return nil, apperr.Withf(apperr.ErrTransactionConflict, "cart line for product %s keeps changing, retry the request", productID)
}

func (s *Service) addOnce(ctx context.Context, userID string, product *catalog.Product, qty int) (*AddResult, error) {
	existing, err := s.getLine(ctx, userID, product.ID)
	if err != nil {
		return nil, err
	}

	now := s.store.Timestamp()
	if existing != nil {
		newQty := existing.Quantity + qty
		if product.Stock < newQty {
			return nil, apperr.Withf(apperr.ErrInsufficientStock,
				"insufficient stock: available %d, in cart %d", product.Stock, existing.Quantity)
		}
		line, err := s.merge(ctx, *existing, product, newQty, now)
		if err != nil {
			return nil, err
		}
		return &AddResult{Item: view(line, product.Stock), IsUpdate: true}, nil
	}

	if product.Stock < qty {
		return nil, apperr.Withf(apperr.ErrInsufficientStock, "insufficient stock: available %d", product.Stock)
	}
	line := newLine(userID, product, qty, now)
	err = s.store.PutNew(ctx, line)
	if errors.Is(err, store.ErrConditionFailed) {
		return nil, errLineChanged
	}
	if err != nil {
		return nil, fmt.Errorf("put cart line: %w", err)
	}
	return &AddResult{Item: view(line, product.Stock)}, nil
}

// UpdateItem sets the absolute quantity of an existing line.
func (s *Service) UpdateItem(ctx context.Context, userID, productID string, qty int) (*ItemView, error) {
	if qty < 1 {
		return nil, apperr.Validation("quantity must be greater than 0")
	}
	existing, err := s.getLine(ctx, userID, productID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperr.Withf(apperr.ErrCartItemNotFound, "product %s is not in the cart", productID)
	}
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, apperr.Withf(apperr.ErrProductNotAvailable, "product %q is not available", product.Name)
	}
	if product.Stock < qty {
		return nil, apperr.Withf(apperr.ErrInsufficientStock, "insufficient stock: available %d", product.Stock)
	}
	line, err := s.overwrite(ctx, *existing, product, qty, s.store.Timestamp())
	if err != nil {
		return nil, err
	}
	v := view(line, product.Stock)
	return &v, nil
}

// RemoveItem deletes one line.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string) error {
	err := s.store.Delete(ctx, store.CartLineKey(userID, productID), "attribute_exists(PK)")
	if errors.Is(err, store.ErrConditionFailed) {
		return apperr.Withf(apperr.ErrCartItemNotFound, "product %s is not in the cart", productID)
	}
	if err != nil {
		return fmt.Errorf("remove cart line: %w", err)
	}
	return nil
}

// GetCart prices the cart from current product records. Lines whose product no longer exists are
// left out.
func (s *Service) GetCart(ctx context.Context, userID string) (*Cart, error) {
	lines, err := s.Lines(ctx, userID)
	if err != nil {
		return nil, err
	}
	cart := &Cart{Total: money.Zero.Fixed(), Items: []CartItem{}}
	if len(lines) == 0 {
		return cart, nil
	}

	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	products, err := s.products.BatchGetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	subtotals := make([]money.Money, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			log.Printf("[cart] product %s in cart of %s no longer exists", l.ProductID, userID)
			continue
		}
		sub := money.Subtotal(p.Price, l.Quantity)
		subtotals = append(subtotals, sub)
		cart.Items = append(cart.Items, CartItem{
			ID:                 l.ProductID,
			ProductID:          l.ProductID,
			ProductName:        p.Name,
			ProductDescription: p.Description,
			ProductPrice:       p.Price.Fixed(),
			ProductStock:       p.Stock,
			ProductImage:       p.ImageURL,
			ProductIsActive:    p.IsActive,
			Quantity:           l.Quantity,
			Subtotal:           sub.Fixed(),
			CreatedAt:          l.CreatedAt,
			UpdatedAt:          l.UpdatedAt,
		})
	}
	cart.Count = len(cart.Items)
	cart.Total = money.Sum(subtotals...).Fixed()
	return cart, nil
}

// Clear deletes every line of the cart and returns how many were removed. Clearing an empty cart
// is not an error.
func (s *Service) Clear(ctx context.Context, userID string) (int, error) {
	items, err := s.store.Query(ctx, store.Query{
		Partition:  store.PrefixUser + userID,
		SortPrefix: store.PrefixCart,
		Projection: store.AttrPK + ", " + store.AttrSK,
	})
	if err != nil {
		return 0, fmt.Errorf("query cart keys of %s: %w", userID, err)
	}
	var keys []store.Key
	if err := attributevalue.UnmarshalListOfMaps(items, &keys); err != nil {
		return 0, fmt.Errorf("unmarshal cart keys: %w", err)
	}
	n, err := s.store.BatchDelete(ctx, keys)
	if err != nil {
		return n, fmt.Errorf("clear cart of %s: %w", userID, err)
	}
	return n, nil
}

func (s *Service) getLine(ctx context.Context, userID, productID string) (*Line, error) {
	var l Line
	found, err := s.store.Get(ctx, store.CartLineKey(userID, productID), &l)
	if err != nil {
		return nil, fmt.Errorf("get cart line: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &l, nil
}

const snapshotUpdate = "SET quantity = :qty, product_name = :name, product_price = :price, product_image = :image, updated_at = :ua"

func snapshotValues(p *catalog.Product, qty int, now string) map[string]any {
	return map[string]any{
		":qty":   qty,
		":name":  p.Name,
		":price": p.Price,
		":image": p.ImageURL,
		":ua":    now,
	}
}

// overwrite sets quantity and refreshes the product snapshot of an existing line.
func (s *Service) overwrite(ctx context.Context, l Line, p *catalog.Product, qty int, now string) (Line, error) {
	var updated Line
	err := s.store.Update(ctx, l.Key(), store.Update{
		Expression: snapshotUpdate,
		Condition:  "attribute_exists(PK)",
		Values:     snapshotValues(p, qty, now),
	}, &updated)
	if errors.Is(err, store.ErrConditionFailed) {
		return Line{}, apperr.Withf(apperr.ErrCartItemNotFound, "product %s is not in the cart", p.ID)
	}
	if err != nil {
		return Line{}, fmt.Errorf("update cart line: %w", err)
	}
	return updated, nil
}

// merge is overwrite guarded on the quantity that was read, so concurrent merges cannot lose
// an increment.
func (s *Service) merge(ctx context.Context, l Line, p *catalog.Product, qty int, now string) (Line, error) {
	values := snapshotValues(p, qty, now)
	values[":seen"] = l.Quantity
	var updated Line
	err := s.store.Update(ctx, l.Key(), store.Update{
		Expression: snapshotUpdate,
		Condition:  "attribute_exists(PK) AND quantity = :seen",
		Values:     values,
	}, &updated)
	if errors.Is(err, store.ErrConditionFailed) {
		return Line{}, errLineChanged
	}
	if err != nil {
		return Line{}, fmt.Errorf("update cart line: %w", err)
	}
	return updated, nil
}

func newLine(userID string, p *catalog.Product, qty int, now string) Line {
	k := store.CartLineKey(userID, p.ID)
	return Line{
		PK:           k.PK,
		SK:           k.SK,
		GSI1PK:       store.PrefixProduct + p.ID,
		GSI1SK:       store.PrefixUser + userID,
		EntityType:   EntityCartItem,
		UserID:       userID,
		ProductID:    p.ID,
		ProductName:  p.Name,
		ProductPrice: p.Price,
		ProductImage: p.ImageURL,
		Quantity:     qty,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func view(l Line, stock int) ItemView {
	return ItemView{
		ID:           l.UserID + "#" + l.ProductID,
		ProductID:    l.ProductID,
		ProductName:  l.ProductName,
		ProductPrice: l.ProductPrice.Fixed(),
		ProductImage: l.ProductImage,
		ProductStock: stock,
		Quantity:     l.Quantity,
		Subtotal:     money.Subtotal(l.ProductPrice, l.Quantity).Fixed(),
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	}
}
