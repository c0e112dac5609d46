package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-shop-orderflow/internal/apperr"
	"github.com/imrishuroy/go-shop-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-shop-orderflow/internal/validation"
)

// HeaderIdempotencyKey makes POST /orders safe to retry.
const HeaderIdempotencyKey = "Idempotency-Key"

func registerOrdersRoutes(r *gin.RouterGroup, a *api) {
	r.POST("/orders", a.createOrder)
	r.GET("/orders", a.listMyOrders)
	r.GET("/orders/:id", a.getMyOrder)
	r.POST("/orders/:id/cancel", a.cancelOrder)
}

func (a *api) createOrder(c *gin.Context) {
	ctx := c.Request.Context()
	id := identity(c)

	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	// keys are scoped to the caller so two users cannot collide
	var idempKey string
	if k := c.GetHeader(HeaderIdempotencyKey); k != "" && a.cfg.Idempotency != nil {
		idempKey = id.UserID + "#" + k
		reqBody, _ := json.Marshal(req)
		rec, owned, err := a.cfg.Idempotency.Begin(ctx, idempKey, idempotency.Fingerprint(id.UserID, string(reqBody)))
		switch {
		case errors.Is(err, idempotency.ErrKeyReused):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"success": false,
				"error":   "idempotency_key_reused",
				"message": "Idempotency-Key was already used with a different request",
			})
			return
		case err != nil:
			writeError(c, fmt.Errorf("idempotency check: %w", err))
			return
		case !owned:
			replay(c, rec)
			return
		}
	}

	detail, err := a.cfg.Orders.CreateOrder(ctx, id.UserID, req.Shipping())
	if err != nil {
		if idempKey != "" {
			note := "internal_error"
			if e, ok := apperr.As(err); ok {
				note = e.Code
			}
			if merr := a.cfg.Idempotency.MarkFailed(ctx, idempKey, note); merr != nil {
				log.Printf("[orders] mark idempotency key failed: %v", merr)
			}
		}
		writeError(c, err)
		return
	}

	body, err := json.Marshal(gin.H{"success": true, "message": "order created", "order": detail})
	if err != nil {
		writeError(c, fmt.Errorf("encode order: %w", err))
		return
	}
	if idempKey != "" {
		if err := a.cfg.Idempotency.MarkDone(ctx, idempKey, detail.ID, string(body), http.StatusCreated); err != nil {
			log.Printf("[orders] store idempotent response for order=%s: %v", detail.ID, err)
		}
	}

	c.Header("Location", "/orders/"+detail.ID)
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

// replay answers a request whose key is owned by an earlier request.
func replay(c *gin.Context, rec *idempotency.Record) {
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Header("Idempotent-Replayed", "true")
			if rec.OrderID != "" {
				c.Header("Location", "/orders/"+rec.OrderID)
			}
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "order_id": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "request already in progress"})
	default:
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "idempotency_conflict", "message": "retry the request"})
	}
}

func (a *api) listMyOrders(c *gin.Context) {
	list, err := a.cfg.Orders.ListMine(c.Request.Context(), identity(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(list), "orders": list})
}

func (a *api) getMyOrder(c *gin.Context) {
	d, err := a.cfg.Orders.GetMine(c.Request.Context(), identity(c).UserID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": d})
}

func (a *api) cancelOrder(c *gin.Context) {
	id := identity(c)
	o, err := a.cfg.Orders.CancelOrder(c.Request.Context(), id.UserID, c.Param("id"), id.IsAdmin())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "order cancelled", "order": o})
}
