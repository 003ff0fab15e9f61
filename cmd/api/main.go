package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/flicky/storefront-api/internal/config"
	"github.com/flicky/storefront-api/internal/events"
	"github.com/flicky/storefront-api/internal/handler"
	"github.com/flicky/storefront-api/internal/logger"
	"github.com/flicky/storefront-api/internal/middleware"
	"github.com/flicky/storefront-api/internal/repository"
	"github.com/flicky/storefront-api/internal/service"
	"github.com/flicky/storefront-api/internal/telemetry"
	"github.com/flicky/storefront-api/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, logger.Options{
		Service: cfg.Telemetry.ServiceName,
		Env:     cfg.Log.Env,
		Level:   cfg.Log.Level,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Tracing {
		shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.OTLPEndpoint,
			cfg.Telemetry.ServiceName, cfg.Telemetry.Version)
		if err != nil {
			log.Error("init tracer provider", "error", err)
			os.Exit(1)
		}
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(cfg.Telemetry.ServiceName, cfg.Telemetry.Version)
	if err != nil {
		log.Error("init meter provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	metrics, err := telemetry.NewMetrics(otel.Meter("storefront"))
	if err != nil {
		log.Error("create metrics", "error", err)
		os.Exit(1)
	}

	// PostgreSQL
	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN())
	if err != nil {
		log.Error("parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = cfg.DB.MaxConns

	dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		log.Error("ping database", "error", err)
		os.Exit(1)
	}
	log.Info("connected to PostgreSQL")

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Redis")

	// RabbitMQ
	amqpConn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		log.Error("connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer amqpConn.Close()

	pubCh, err := amqpConn.Channel()
	if err != nil {
		log.Error("open RabbitMQ channel", "error", err)
		os.Exit(1)
	}
	defer pubCh.Close()

	consumeCh, err := amqpConn.Channel()
	if err != nil {
		log.Error("open RabbitMQ channel", "error", err)
		os.Exit(1)
	}
	defer consumeCh.Close()

	if err := worker.SetupRabbitMQ(consumeCh); err != nil {
		log.Error("setup RabbitMQ", "error", err)
		os.Exit(1)
	}
	log.Info("connected to RabbitMQ")

	// Event publishers
	publisher := events.Multi{events.NewAMQPPublisher(pubCh)}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafkaPub.Close()
		publisher = append(publisher, kafkaPub)
		log.Info("mirroring events to Kafka", "topic", cfg.Kafka.Topic)
	}

	// Repositories
	tx := repository.NewTransactor(dbPool)
	userRepo := repository.NewUserRepository(dbPool)
	categoryRepo := repository.NewCategoryRepository(dbPool)
	offerRepo := repository.NewOfferRepository(dbPool)
	productRepo := repository.NewProductRepository(dbPool)
	cartRepo := repository.NewCartRepository(dbPool)
	billingRepo := repository.NewBillingRepository(dbPool)
	orderRepo := repository.NewOrderRepository(dbPool)

	// Services
	guard := service.NewInventoryGuard(productRepo, metrics)
	authSvc := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration)
	categorySvc := service.NewCategoryService(categoryRepo)
	productSvc := service.NewProductService(tx, productRepo, categoryRepo, offerRepo, guard,
		redisClient, cfg.Redis.CacheTTL, publisher, log)
	cartSvc := service.NewCartService(tx, cartRepo, productRepo, metrics, log)
	orderSvc := service.NewOrderService(tx, orderRepo, cartRepo, billingRepo, productRepo, guard,
		publisher, metrics, log)

	// Handlers
	authH := handler.NewAuthHandler(authSvc)
	categoryH := handler.NewCategoryHandler(categorySvc)
	productH := handler.NewProductHandler(productSvc)
	cartH := handler.NewCartHandler(cartSvc)
	orderH := handler.NewOrderHandler(orderSvc)
	healthH := handler.NewHealthHandler(
		handler.Check{Name: "postgres", Ping: dbPool.Ping},
		handler.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}},
		handler.Check{Name: "rabbitmq", Ping: func(context.Context) error {
			if amqpConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}},
	)

	// Background work
	eventWorker := worker.NewEventWorker(consumeCh, productSvc,
		worker.NewRedisIdempotencyStore(redisClient), cfg.Worker.IdempotencyTTL, log)
	repricer := worker.NewRepricer(productSvc, cfg.Worker.RepriceInterval, log)

	// Router
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log))

	router.GET("/healthz", healthH.Healthz)
	router.GET("/readyz", healthH.Readyz)
	router.GET("/metrics", gin.WrapH(metricsHandler))

	authRequired := middleware.AuthMiddleware(cfg.JWT.Secret)

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", authH.Register)
		auth.POST("/login", authH.Login)
		v1.GET("/me", authRequired, authH.Me)

		v1.GET("/categories", categoryH.List)
		v1.GET("/products", productH.List)
		v1.GET("/products/:id", productH.GetByID)

		admin := v1.Group("/admin", authRequired, middleware.AdminOnly())
		admin.POST("/categories", categoryH.Create)
		admin.POST("/products", productH.Create)
		admin.PUT("/products/:id", productH.Update)
		admin.DELETE("/products/:id", productH.Delete)
		admin.POST("/products/:id/restock", productH.Restock)
		admin.POST("/offers", productH.CreateOffer)
		admin.PUT("/offers/:id", productH.UpdateOffer)
		admin.PATCH("/orders/:id/status", orderH.UpdateStatus)

		cart := v1.Group("/cart", authRequired)
		cart.GET("", cartH.GetCart)
		cart.POST("/lines", cartH.AddLine)
		cart.PUT("/lines", cartH.UpdateQuantities)
		cart.DELETE("/lines/:id", cartH.RemoveLine)

		orders := v1.Group("/orders", authRequired)
		orders.POST("", orderH.PlaceOrder)
		orders.GET("", orderH.ListOrders)
		orders.GET("/:id", orderH.GetOrder)
		orders.POST("/:id/cancel", orderH.CancelOrder)
	}

	if err := eventWorker.Start(ctx); err != nil {
		log.Error("start event worker", "error", err)
		os.Exit(1)
	}
	go repricer.Run(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, cfg.Telemetry.ServiceName),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "error", err)
	}

	eventWorker.Stop()
	cancel()
	log.Info("server stopped")
}
