package controllers

import (
	"net/http"

	"storefront/services"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CartController struct {
	carts *services.CartService
}

func NewCartController(carts *services.CartService) *CartController {
	RegisterValidators()
	return &CartController{carts: carts}
}

type addToCartRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
}

type updateCartRequest struct {
	Quantity int `json:"quantity"`
}

func (cc *CartController) GetCart(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	cart, err := cc.carts.GetCart(c.Request.Context(), p.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": cart})
}

func (cc *CartController) AddToCart(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var body addToCartRequest
	if !bindJSON(c, &body) {
		return
	}
	productID, err := primitive.ObjectIDFromHex(body.ProductID)
	if err != nil {
		respondError(c, &services.ValidationError{Field: "productId", Message: "invalid id"})
		return
	}

	cart, err := cc.carts.AddItem(c.Request.Context(), p.UserID, productID, body.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Added to cart", "cart": cart})
}

func (cc *CartController) UpdateCart(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	productID, ok := objectIDParam(c, "productId")
	if !ok {
		return
	}

	var body updateCartRequest
	if !bindJSON(c, &body) {
		return
	}

	cart, err := cc.carts.UpdateQuantity(c.Request.Context(), p.UserID, productID, body.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart updated", "cart": cart})
}

func (cc *CartController) RemoveFromCart(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	productID, ok := objectIDParam(c, "productId")
	if !ok {
		return
	}

	cart, err := cc.carts.RemoveItem(c.Request.Context(), p.UserID, productID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product removed from cart", "cart": cart})
}

func (cc *CartController) ClearCart(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	if err := cc.carts.Clear(c.Request.Context(), p.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart cleared successfully"})
}
