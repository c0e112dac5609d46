package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (a *api) getProduct(c *gin.Context) {
	p, err := a.cfg.Catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "product": p})
}

func (a *api) getCategory(c *gin.Context) {
	cat, err := a.cfg.Catalog.GetCategory(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "category": cat})
}

func (a *api) listProductsByCategory(c *gin.Context) {
	products, err := a.cfg.Catalog.ListProductsByCategory(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(products), "products": products})
}
