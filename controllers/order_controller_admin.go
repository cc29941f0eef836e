package controllers

import (
	"net/http"

	"storefront/models"

	"github.com/gin-gonic/gin"
)

type orderStatusRequest struct {
	OrderStatus models.OrderStatus `json:"orderStatus" binding:"required"`
}

type paymentStatusRequest struct {
	PaymentStatus models.PaymentStatus `json:"paymentStatus" binding:"required"`
}

func (oc *OrderController) GetOrdersAdmin(c *gin.Context) {
	orders, err := oc.orders.ListAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (oc *OrderController) GetOrderByIDAdmin(c *gin.Context) {
	orderID, ok := objectIDParam(c, "id")
	if !ok {
		return
	}

	order, err := oc.orders.Get(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (oc *OrderController) UpdateOrderStatus(c *gin.Context) {
	orderID, ok := objectIDParam(c, "id")
	if !ok {
		return
	}

	var body orderStatusRequest
	if !bindJSON(c, &body) {
		return
	}

	order, err := oc.orders.UpdateOrderStatus(c.Request.Context(), orderID, body.OrderStatus)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order status updated successfully", "order": order})
}

func (oc *OrderController) UpdatePaymentStatus(c *gin.Context) {
	orderID, ok := objectIDParam(c, "id")
	if !ok {
		return
	}

	var body paymentStatusRequest
	if !bindJSON(c, &body) {
		return
	}

	order, err := oc.orders.UpdatePaymentStatus(c.Request.Context(), orderID, body.PaymentStatus)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Payment status updated successfully", "order": order})
}
