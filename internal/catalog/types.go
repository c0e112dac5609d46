package catalog

import (
	"strings"

	"github.com/imrishuroy/go-shop-orderflow/internal/money"
	"github.com/imrishuroy/go-shop-orderflow/internal/store"
)

// Entity type markers stored on every record.
const (
	EntityProduct  = "PRODUCT"
	EntityCategory = "CATEGORY"
	EntityUser     = "USER"
)

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Product is a catalog product. Order processing only ever changes Stock.
type Product struct {
	PK         string `dynamodbav:"PK" json:"-"`
	SK         string `dynamodbav:"SK" json:"-"`
	GSI1PK     string `dynamodbav:"GSI1PK,omitempty" json:"-"`
	GSI1SK     string `dynamodbav:"GSI1SK,omitempty" json:"-"`
	EntityType string `dynamodbav:"entityType" json:"-"`

	ID           string      `dynamodbav:"id" json:"id"`
	Name         string      `dynamodbav:"name" json:"name"`
	Description  string      `dynamodbav:"description,omitempty" json:"description,omitempty"`
	Price        money.Money `dynamodbav:"price" json:"price"`
	Stock        int         `dynamodbav:"stock" json:"stock"`
	CategoryID   string      `dynamodbav:"category_id,omitempty" json:"category_id,omitempty"`
	CategoryName string      `dynamodbav:"category_name,omitempty" json:"category_name,omitempty"`
	ImageURL     string      `dynamodbav:"image_url,omitempty" json:"image_url,omitempty"`
	IsActive     bool        `dynamodbav:"is_active" json:"is_active"`
	CreatedAt    string      `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt    string      `dynamodbav:"updated_at" json:"updated_at"`
}

// WithKeys fills the table and index keys from ID and CategoryID.
func (p Product) WithKeys() Product {
	k := store.ProductKey(p.ID)
	p.PK, p.SK = k.PK, k.SK
	p.EntityType = EntityProduct
	if p.CategoryID != "" {
		p.GSI1PK = store.PrefixCategory + p.CategoryID
		p.GSI1SK = store.PrefixProduct + p.ID
	}
	return p
}

// Category groups products.
type Category struct {
	PK         string `dynamodbav:"PK" json:"-"`
	SK         string `dynamodbav:"SK" json:"-"`
	GSI2PK     string `dynamodbav:"GSI2PK,omitempty" json:"-"`
	GSI2SK     string `dynamodbav:"GSI2SK,omitempty" json:"-"`
	EntityType string `dynamodbav:"entityType" json:"-"`

	ID          string `dynamodbav:"id" json:"id"`
	Name        string `dynamodbav:"name" json:"name"`
	Description string `dynamodbav:"description,omitempty" json:"description,omitempty"`
	IsActive    bool   `dynamodbav:"is_active" json:"is_active"`
	CreatedAt   string `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt   string `dynamodbav:"updated_at" json:"updated_at"`
}

// WithKeys fills the table key and the lower-cased name index.
func (c Category) WithKeys() Category {
	k := store.CategoryKey(c.ID)
	c.PK, c.SK = k.PK, k.SK
	c.EntityType = EntityCategory
	c.GSI2PK = store.PrefixCategoryName + strings.ToLower(c.Name)
	c.GSI2SK = store.SKMetadata
	return c
}

// User is the profile record of an authenticated customer.
type User struct {
	PK         string `dynamodbav:"PK" json:"-"`
	SK         string `dynamodbav:"SK" json:"-"`
	GSI2PK     string `dynamodbav:"GSI2PK,omitempty" json:"-"`
	GSI2SK     string `dynamodbav:"GSI2SK,omitempty" json:"-"`
	EntityType string `dynamodbav:"entityType" json:"-"`

	ID        string `dynamodbav:"id" json:"id"`
	Name      string `dynamodbav:"name" json:"name"`
	Email     string `dynamodbav:"email" json:"email"`
	Role      string `dynamodbav:"role" json:"role"`
	IsActive  bool   `dynamodbav:"is_active" json:"is_active"`
	CreatedAt string `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt string `dynamodbav:"updated_at" json:"updated_at"`
}

// WithKeys fills the table key and the email index.
func (u User) WithKeys() User {
	k := store.UserKey(u.ID)
	u.PK, u.SK = k.PK, k.SK
	u.EntityType = EntityUser
	u.Email = strings.ToLower(u.Email)
	u.GSI2PK = store.PrefixEmail + u.Email
	u.GSI2SK = store.SKMetadata
	return u
}
