package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-shop-orderflow/internal/orders"
	"github.com/imrishuroy/go-shop-orderflow/internal/validation"
)

// adminListOrders lists every order, or only those of one customer with ?email=.
func (a *api) adminListOrders(c *gin.Context) {
	var (
		list []orders.AdminSummary
		err  error
	)
	if email := strings.TrimSpace(c.Query("email")); email != "" {
		list, err = a.cfg.Orders.AdminListByEmail(c.Request.Context(), email)
	} else {
		list, err = a.cfg.Orders.AdminList(c.Request.Context())
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(list), "orders": list})
}

func (a *api) adminGetOrder(c *gin.Context) {
	d, err := a.cfg.Orders.AdminGet(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": d})
}

func (a *api) adminUpdateOrderStatus(c *gin.Context) {
	var req validation.UpdateOrderStatusRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	o, err := a.cfg.Orders.UpdateOrderStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "order status updated", "order": o})
}
