// Package handlers exposes the shop over HTTP with gin.
package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-shop-orderflow/internal/apperr"
	"github.com/imrishuroy/go-shop-orderflow/internal/aws"
	"github.com/imrishuroy/go-shop-orderflow/internal/cart"
	"github.com/imrishuroy/go-shop-orderflow/internal/catalog"
	"github.com/imrishuroy/go-shop-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-shop-orderflow/internal/orders"
	"github.com/imrishuroy/go-shop-orderflow/internal/payments"
	"github.com/imrishuroy/go-shop-orderflow/internal/validation"
)

// HandlerConfig groups the services behind the routes.
type HandlerConfig struct {
	Catalog  *catalog.Catalog
	Carts    *cart.Service
	Orders   *orders.Service
	Payments *payments.Reducer

	// Idempotency enables the Idempotency-Key header on POST /orders. Optional.
	Idempotency *idempotency.Store
	// Publisher, when enabled, queues webhook notifications for the worker instead of
	// processing them inline. Optional.
	Publisher *aws.Publisher

	// TrustIdentityHeaders accepts X-User-* headers as identity (local runs only).
	TrustIdentityHeaders bool
}

type api struct {
	cfg HandlerConfig
	v   *validatorv10.Validate
}

// RegisterRoutes registers every route on r.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	a := &api{cfg: cfg, v: validation.New()}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/products/:id", a.getProduct)
	r.GET("/categories/:id", a.getCategory)
	r.GET("/categories/:id/products", a.listProductsByCategory)
	r.POST("/payments/webhook", a.paymentWebhook)

	auth := r.Group("/", Authenticate(cfg.TrustIdentityHeaders))
	registerCartRoutes(auth, a)
	registerOrdersRoutes(auth, a)
	auth.GET("/payments/status/:order_id", a.paymentStatus)

	admin := r.Group("/admin", Authenticate(cfg.TrustIdentityHeaders), RequireAdmin())
	admin.GET("/orders", a.adminListOrders)
	admin.GET("/orders/:id", a.adminGetOrder)
	admin.PATCH("/orders/:id/status", a.adminUpdateOrderStatus)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindInsufficientStock, apperr.KindUnavailable:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict, apperr.KindConcurrency:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a JSON error. Internal errors are logged and answered generically.
func writeError(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		log.Printf("[http] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "internal_error",
			"message": "internal server error",
		})
		return
	}
	c.AbortWithStatusJSON(statusFor(e.Kind), gin.H{
		"success": false,
		"error":   e.Code,
		"message": e.Message,
	})
}
