// Package catalog reads products, categories and user profiles from the single table.
// Catalog administration lives elsewhere; this side only reads.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/imrishuroy/go-shop-orderflow/internal/apperr"
	"github.com/imrishuroy/go-shop-orderflow/internal/store"
)

// Catalog serves read access to catalog and profile records.
type Catalog struct {
	store *store.Store
}

// New returns a Catalog backed by s.
func New(s *store.Store) *Catalog {
	return &Catalog{store: s}
}

// GetProduct returns the product or ErrProductNotFound.
func (c *Catalog) GetProduct(ctx context.Context, productID string) (*Product, error) {
	var p Product
	found, err := c.store.Get(ctx, store.ProductKey(productID), &p)
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", productID, err)
	}
	if !found {
		return nil, apperr.Withf(apperr.ErrProductNotFound, "product %s not found", productID)
	}
	return &p, nil
}

// GetCategory returns the category or ErrCategoryNotFound.
func (c *Catalog) GetCategory(ctx context.Context, categoryID string) (*Category, error) {
	var cat Category
	found, err := c.store.Get(ctx, store.CategoryKey(categoryID), &cat)
	if err != nil {
		return nil, fmt.Errorf("get category %s: %w", categoryID, err)
	}
	if !found {
		return nil, apperr.Withf(apperr.ErrCategoryNotFound, "category %s not found", categoryID)
	}
	return &cat, nil
}

// BatchGetProducts reads products by id. Missing ids are absent from the result.
func (c *Catalog) BatchGetProducts(ctx context.Context, productIDs []string) (map[string]Product, error) {
	keys := make([]store.Key, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, store.ProductKey(id))
	}
	items, err := c.store.BatchGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("batch get products: %w", err)
	}
	var products []Product
	if err := attributevalue.UnmarshalListOfMaps(items, &products); err != nil {
		return nil, fmt.Errorf("unmarshal products: %w", err)
	}
	out := make(map[string]Product, len(products))
	for _, p := range products {
		out[store.TrimID(p.PK, store.PrefixProduct)] = p
	}
	return out, nil
}

// ListProductsByCategory returns the active products of a category through GSI1.
func (c *Catalog) ListProductsByCategory(ctx context.Context, categoryID string) ([]Product, error) {
	if _, err := c.GetCategory(ctx, categoryID); err != nil {
		return nil, err
	}
	items, err := c.store.Query(ctx, store.Query{
		Index:      store.IndexGSI1,
		Partition:  store.PrefixCategory + categoryID,
		SortPrefix: store.PrefixProduct,
	})
	if err != nil {
		return nil, fmt.Errorf("list products of category %s: %w", categoryID, err)
	}
	var products []Product
	if err := attributevalue.UnmarshalListOfMaps(items, &products); err != nil {
		return nil, fmt.Errorf("unmarshal products: %w", err)
	}
	active := make([]Product, 0, len(products))
	for _, p := range products {
		if p.IsActive {
			active = append(active, p)
		}
	}
	return active, nil
}

// FindUserByEmail looks a user up through the email index. Returns (nil, nil) when no user has
// that email.
func (c *Catalog) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	items, err := c.store.Query(ctx, store.Query{
		Index:     store.IndexGSI2,
		Partition: store.PrefixEmail + strings.ToLower(email),
		Limit:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	var u User
	if err := attributevalue.UnmarshalMap(items[0], &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

// BatchGetUsers reads user profiles by id. Missing ids are absent from the result.
func (c *Catalog) BatchGetUsers(ctx context.Context, userIDs []string) (map[string]User, error) {
	keys := make([]store.Key, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, store.UserKey(id))
	}
	items, err := c.store.BatchGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("batch get users: %w", err)
	}
	var users []User
	if err := attributevalue.UnmarshalListOfMaps(items, &users); err != nil {
		return nil, fmt.Errorf("unmarshal users: %w", err)
	}
	out := make(map[string]User, len(users))
	for _, u := range users {
		out[store.TrimID(u.PK, store.PrefixUser)] = u
	}
	return out, nil
}
