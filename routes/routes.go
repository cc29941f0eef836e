package routes

import (
	"net/http"

	"storefront/controllers"
	"storefront/metrics"
	"storefront/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Cart     *controllers.CartController
	Orders   *controllers.OrderController
	Products *controllers.ProductController
}

type Options struct {
	JWTSecret string
	// Blacklist rejects revoked tokens. Nil accepts every valid token.
	Blacklist middleware.TokenBlacklist
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	// Gatherer serves /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

func NewRouter(h Handlers, opts Options) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies(nil)
	r.Use(middleware.Observability(opts.Logger, opts.Metrics), middleware.Recovery())
	RegisterRoutes(r, h, opts)
	return r
}

func RegisterRoutes(r *gin.Engine, h Handlers, opts Options) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	{
		api.GET("/products", h.Products.GetProducts)

		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(opts.JWTSecret, opts.Blacklist))
		{
			protected.GET("/cart", h.Cart.GetCart)
			protected.POST("/cart/add", h.Cart.AddToCart)
			protected.PUT("/cart/update/:productId", h.Cart.UpdateCart)
			protected.DELETE("/cart/remove/:productId", h.Cart.RemoveFromCart)
			protected.DELETE("/cart/clear", h.Cart.ClearCart)

			protected.POST("/orders", h.Orders.PlaceOrder)
			protected.POST("/create-payment-order", h.Orders.CreatePaymentOrder)
			protected.POST("/verify-payment", h.Orders.VerifyPayment)
			protected.GET("/order", h.Orders.GetMyOrders)
			protected.PUT("/order/:id/cancel", h.Orders.CancelOrder)

			admin := protected.Group("/")
			admin.Use(middleware.AdminMiddleware())
			{
				admin.GET("/orders", h.Orders.GetOrdersAdmin)
				admin.GET("/orders/:id", h.Orders.GetOrderByIDAdmin)
				admin.PUT("/orders/:id/status", h.Orders.UpdateOrderStatus)
				admin.PUT("/orders/:id/payment", h.Orders.UpdatePaymentStatus)

				admin.POST("/admin/products", h.Products.CreateProduct)
				admin.PUT("/admin/products/:id", h.Products.UpdateProduct)
				admin.DELETE("/admin/products/:id", h.Products.DeleteProduct)
			}
		}
	}
}
