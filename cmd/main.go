package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/cache"
	"storefront/config"
	"storefront/controllers"
	"storefront/database"
	"storefront/logging"
	"storefront/metrics"
	"storefront/payment"
	"storefront/repository"
	"storefront/routes"
	"storefront/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	config.LoadEnv()
	cfg := config.Load()

	logger := logging.MustNewLogger(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid_config", zap.Error(err))
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	client, db, err := database.Connect(connectCtx, cfg.MongoURI, cfg.DBName)
	if err != nil {
		cancel()
		logger.Fatal("mongo_connect_failed", zap.Error(err))
	}
	if err := database.EnsureIndexes(connectCtx, db); err != nil {
		cancel()
		logger.Fatal("mongo_indexes_failed", zap.Error(err))
	}
	cancel()
	defer func() { _ = client.Disconnect(context.Background()) }()
	logger.Info("mongo_connected", zap.String("db", cfg.DBName), zap.Bool("transactions", cfg.MongoTransactions))

	var tx repository.Transactor = repository.NewCompensatingTransactor()
	if cfg.MongoTransactions {
		tx = database.NewTransactor(client)
	}

	var cartCache cache.CartCache = cache.NopCache{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			// the cache is optional; carts are read from Mongo until Redis comes back
			logger.Warn("redis_unavailable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cartCache = cache.NewRedisCache(rdb, cfg.CartCacheTTL)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	carts := repository.NewMongoCartRepository(db)
	products := repository.NewMongoProductRepository(db)
	orders := repository.NewMongoOrderRepository(db)

	var gateway payment.Gateway
	if cfg.RazorpayKeyID != "" && cfg.RazorpaySecret != "" {
		gateway = payment.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpaySecret)
	} else {
		logger.Warn("payment_gateway_disabled")
	}

	cartSvc := services.NewCartService(carts, products, cartCache)
	checkout := services.NewCheckoutService(services.CheckoutDeps{
		Carts:           carts,
		Products:        products,
		Orders:          orders,
		Tx:              tx,
		Verifier:        payment.NewVerifier(cfg.RazorpaySecret),
		Gateway:         gateway,
		Cart:            cartSvc,
		Metrics:         m,
		CheckoutTimeout: cfg.CheckoutTimeout,
		GatewayTimeout:  cfg.GatewayTimeout,
	})

	router := routes.NewRouter(routes.Handlers{
		Cart:     controllers.NewCartController(cartSvc),
		Orders:   controllers.NewOrderController(checkout, services.NewOrderService(orders)),
		Products: controllers.NewProductController(services.NewProductService(products)),
	}, routes.Options{
		JWTSecret: cfg.JWTSecret,
		Blacklist: repository.NewMongoTokenBlacklist(db),
		Logger:    logger,
		Metrics:   m,
		Gatherer:  reg,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http_server_start", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_server_shutdown_error", zap.Error(err))
	} else {
		logger.Info("http_server_stopped")
	}
}
