package controllers

import (
	"net/http"

	"storefront/models"
	"storefront/services"

	"github.com/gin-gonic/gin"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type OrderController struct {
	checkout *services.CheckoutService
	orders   *services.OrderService
}

func NewOrderController(checkout *services.CheckoutService, orders *services.OrderService) *OrderController {
	RegisterValidators()
	return &OrderController{checkout: checkout, orders: orders}
}

type placeOrderRequest struct {
	ShippingAddress models.ShippingAddress `json:"shippingAddress" binding:"required"`
}

type paymentOrderRequest struct {
	Amount float64 `json:"amount" binding:"required"`
}

// verifyPaymentRequest leaves every field unvalidated at bind time; the
// signature is checked before anything else in the body.
type verifyPaymentRequest struct {
	GatewayOrderID   string         `json:"gatewayOrderId"`
	GatewayPaymentID string         `json:"gatewayPaymentId"`
	GatewaySignature string         `json:"gatewaySignature"`
	ShippingAddress  unboundAddress `json:"shippingAddress"`
}

type unboundAddress struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
	PinCode string `json:"pinCode"`
}

// PlaceOrder creates a cash-on-delivery order from the caller's cart.
func (oc *OrderController) PlaceOrder(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var body placeOrderRequest
	if !bindJSON(c, &body) {
		return
	}

	order, err := oc.checkout.PlaceOrder(c.Request.Context(), p, services.PlaceOrderInput{
		ShippingAddress: body.ShippingAddress,
		IdempotencyKey:  c.GetHeader(IdempotencyKeyHeader),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Order placed successfully", "order": order})
}

func (oc *OrderController) CreatePaymentOrder(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var body paymentOrderRequest
	if !bindJSON(c, &body) {
		return
	}

	po, err := oc.checkout.CreatePaymentOrder(c.Request.Context(), p, body.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, po)
}

// VerifyPayment is called by the client after the gateway checkout.
func (oc *OrderController) VerifyPayment(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var body verifyPaymentRequest
	if !bindJSON(c, &body) {
		return
	}

	order, err := oc.checkout.VerifyAndPlaceOrder(c.Request.Context(), p, services.VerifyPaymentInput{
		GatewayOrderID:   body.GatewayOrderID,
		GatewayPaymentID: body.GatewayPaymentID,
		GatewaySignature: body.GatewaySignature,
		ShippingAddress:  models.ShippingAddress(body.ShippingAddress),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Payment verified and order placed successfully", "order": order})
}

func (oc *OrderController) GetMyOrders(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	orders, err := oc.orders.ListForCustomer(c.Request.Context(), p.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (oc *OrderController) CancelOrder(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	orderID, ok := objectIDParam(c, "id")
	if !ok {
		return
	}

	order, err := oc.orders.CancelOrder(c.Request.Context(), p.UserID, orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order cancelled successfully", "order": order})
}
