package controllers

import (
	"net/http"

	"storefront/services"

	"github.com/gin-gonic/gin"
)

type ProductController struct {
	products *services.ProductService
}

func NewProductController(products *services.ProductService) *ProductController {
	RegisterValidators()
	return &ProductController{products: products}
}

func (pc *ProductController) GetProducts(c *gin.Context) {
	products, err := pc.products.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Fetch success", "count": len(products), "products": products})
}
