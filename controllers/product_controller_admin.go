package controllers

import (
	"net/http"

	"storefront/models"

	"github.com/gin-gonic/gin"
)

func (pc *ProductController) CreateProduct(c *gin.Context) {
	var product models.Product
	if !bindJSON(c, &product) {
		return
	}

	if err := pc.products.Create(c.Request.Context(), &product); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Product created", "product": product})
}

func (pc *ProductController) UpdateProduct(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}

	var update models.ProductUpdate
	if !bindJSON(c, &update) {
		return
	}

	product, err := pc.products.Update(c.Request.Context(), id, update)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product updated", "product": product})
}

func (pc *ProductController) DeleteProduct(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}

	if err := pc.products.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted", "id": id.Hex()})
}
