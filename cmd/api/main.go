package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/retail-backoffice/internal/api"
	"github.com/example/retail-backoffice/internal/audit"
	"github.com/example/retail-backoffice/internal/auth"
	"github.com/example/retail-backoffice/internal/config"
	"github.com/example/retail-backoffice/internal/events"
	"github.com/example/retail-backoffice/internal/flashsale"
	"github.com/example/retail-backoffice/internal/notification"
	"github.com/example/retail-backoffice/internal/payment"
	"github.com/example/retail-backoffice/internal/resilience"
	"github.com/example/retail-backoffice/internal/rma"
	"github.com/example/retail-backoffice/internal/store"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()

	if cfg.JWTSecret == "" {
		log.Fatal("[API] JWT_SECRET environment variable is required")
	}
	if len(cfg.JWTSecret) < 32 {
		log.Fatal("[API] JWT_SECRET must be at least 32 characters long")
	}

	log.Println("[API] ========================================")
	log.Println("[API] Retail Back Office")
	log.Println("[API] ========================================")
	log.Printf("[API] Kafka: %v", cfg.KafkaBrokers)
	log.Printf("[API] Topic: %s", cfg.KafkaTopic)
	log.Printf("[API] Payment provider: %s", cfg.PaymentURL)

	producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	db, err := store.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[API] Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()
	log.Println("[API] Connected to PostgreSQL")

	products := store.NewPostgresProductStore(db)
	ledger := store.NewPostgresLedger(db)
	salesStore := store.NewPostgresSaleStore(db)

	var auditLog audit.Log
	if cfg.AuditTable != "" {
		client, err := store.NewDynamoClient(ctx)
		if err != nil {
			log.Fatalf("[API] Failed to build DynamoDB client: %v", err)
		}
		auditLog = store.NewDynamoAuditLog(client, cfg.AuditTable)
		log.Printf("[API] Audit trail: DynamoDB (%s)", cfg.AuditTable)
	} else {
		auditLog = store.NewPostgresAuditLog(db, producer)
		log.Println("[API] Audit trail: PostgreSQL")
	}
	rmaRepo := store.NewPostgresRMAStore(db, auditLog)

	breaker := resilience.NewCircuitBreaker("payments", cfg.BreakerFailureThreshold, cfg.BreakerCoolDown)
	gateway := payment.NewGateway(
		payment.NewHTTPProcessor(cfg.PaymentURL),
		breaker,
		cfg.PaymentAttempts,
		cfg.PaymentBackoff,
		cfg.PaymentTimeout,
	)
	limiter := resilience.NewRateLimiter(cfg.CheckoutMaxRequests, cfg.CheckoutWindow)

	notifier := notification.NewKafkaNotifier(producer)
	engine := rma.NewEngine(rmaRepo, salesStore, ledger, notifier, cfg.RMAEligibilityWindow)
	flash := flashsale.NewController(products, ledger, salesStore, gateway, limiter, auditLog)

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	router := api.NewRouter(api.RouterConfig{
		Handlers:     api.NewHandlers(products, engine, flash, auditLog, breaker, limiter),
		AuthHandlers: api.NewAuthHandlers(tokens, cfg.AdminPasswordHash),
		Tokens:       tokens,
	})

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		log.Printf("[API] Server started on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[API] Server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[API] Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[API] Shutdown error: %v", err)
	}
}
