package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-shop-orderflow/internal/validation"
)

func registerCartRoutes(r *gin.RouterGroup, a *api) {
	r.GET("/cart", a.getCart)
	r.POST("/cart/items", a.addCartItem)
	r.PUT("/cart/items/:product_id", a.updateCartItem)
	r.DELETE("/cart/items/:product_id", a.removeCartItem)
	r.DELETE("/cart", a.clearCart)
}

func (a *api) getCart(c *gin.Context) {
	cart, err := a.cfg.Carts.GetCart(c.Request.Context(), identity(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cart": cart})
}

func (a *api) addCartItem(c *gin.Context) {
	var req validation.AddCartItemRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	res, err := a.cfg.Carts.AddItem(c.Request.Context(), identity(c).UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	status, msg := http.StatusCreated, "product added to cart"
	if res.IsUpdate {
		status, msg = http.StatusOK, "cart quantity updated"
	}
	c.JSON(status, gin.H{"success": true, "message": msg, "item": res.Item})
}

func (a *api) updateCartItem(c *gin.Context) {
	var req validation.UpdateCartItemRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	item, err := a.cfg.Carts.UpdateItem(c.Request.Context(), identity(c).UserID, c.Param("product_id"), req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "item": item})
}

func (a *api) removeCartItem(c *gin.Context) {
	if err := a.cfg.Carts.RemoveItem(c.Request.Context(), identity(c).UserID, c.Param("product_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "product removed from cart"})
}

func (a *api) clearCart(c *gin.Context) {
	n, err := a.cfg.Carts.Clear(c.Request.Context(), identity(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "items_removed": n})
}
