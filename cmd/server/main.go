package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creditledger/internal/api"
	"creditledger/internal/config"
	"creditledger/internal/handler"
	"creditledger/internal/infrastructure/kafka"
	"creditledger/internal/infrastructure/payment"
	"creditledger/internal/infrastructure/redis"
	"creditledger/internal/observability"
	core "creditledger/internal/repository/postgres"
	service "creditledger/internal/services"

	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	// Инициализируем логи, метрики, трейсы
	shutdown, _ := observability.Setup("credit-ledger")
	defer shutdown(context.Background())

	// Подключаемся к Postgres
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	// Инициализируем зависимости
	userRepo := core.NewPostgresUserRepository(db)
	walletRepo := core.NewPostgresWalletRepository(db)
	transactionRepo := core.NewPostgresTransactionRepository(db)
	interactionRepo := core.NewPostgresInteractionRepository(db)
	faceRepo := core.NewPostgresFaceRepository(db)
	redisClient := redis.NewClient(cfg.RedisAddr)
	ledgerProducer := kafka.NewProducer(cfg.KafkaBrokers, "transactions")
	userProducer := kafka.NewProducer(cfg.KafkaBrokers, "users")
	defer ledgerProducer.Close()
	defer userProducer.Close()
	providers := payment.NewRegistry()

	// Инициализируем сервисы
	walletSvc := service.NewWalletService(walletRepo, transactionRepo, providers, cfg.Packages, redisClient, ledgerProducer)
	interactionSvc := service.NewInteractionService(interactionRepo, faceRepo)
	userSvc := service.NewUserService(userRepo, redisClient, userProducer, cfg.JWTSecret)

	// Аудит-консьюмер журнала транзакций
	auditConsumer := kafka.NewAuditConsumer(cfg.KafkaBrokers, "transactions", "credit-ledger-audit")
	go auditConsumer.Consume(context.Background())
	defer auditConsumer.Close()

	// Настраиваем роутер
	h := handler.NewHandler(userSvc, walletSvc, interactionSvc, cfg.ViewCostCredits)
	router := api.SetupRouter(h, redisClient, cfg.JWTSecret)

	// Запускаем сервер
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
