package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"strconv"

	"creditledger/internal/models"

	"github.com/joho/godotenv"
)

type Config struct {
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers []string
	JWTSecret    string
	HTTPAddr     string
	Packages     []models.PaymentPackage
	// ViewCostCredits is debited on a user's first view of a face.
	// 0 makes views free.
	ViewCostCredits int64
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		KafkaBrokers: []string{os.Getenv("KAFKA_BROKER")},
		JWTSecret:    os.Getenv("JWT_SECRET"),
		HTTPAddr:     os.Getenv("HTTP_ADDR"),
	}

	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "host=localhost user=postgres password=postgres dbname=creditledger sslmode=disable"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if len(cfg.KafkaBrokers) == 1 && cfg.KafkaBrokers[0] == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "supersecret"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	if raw := os.Getenv("VIEW_COST_CREDITS"); raw != "" {
		cost, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || cost < 0 {
			slog.Error("invalid VIEW_COST_CREDITS, views stay free", "value", raw)
		} else {
			cfg.ViewCostCredits = cost
		}
	}

	cfg.Packages = loadPackages()

	slog.Info("config loaded",
		"postgres_dsn", cfg.PostgresDSN,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"http_addr", cfg.HTTPAddr,
		"packages", len(cfg.Packages))
	return cfg
}

// loadPackages reads the credit catalog from PACKAGE_CATALOG (JSON array) or
// falls back to the default three tiers. Bulk purchase is only allowed on the
// top tier.
func loadPackages() []models.PaymentPackage {
	if raw := os.Getenv("PACKAGE_CATALOG"); raw != "" {
		var pkgs []models.PaymentPackage
		if err := json.Unmarshal([]byte(raw), &pkgs); err != nil {
			slog.Error("invalid PACKAGE_CATALOG, using defaults", "error", err)
		} else if len(pkgs) > 0 {
			return pkgs
		}
	}
	return []models.PaymentPackage{
		{ID: "5", PriceCents: 500, Credits: 200, Name: "$5 Package", Description: "Get 200 credits for $5"},
		{ID: "10", PriceCents: 1000, Credits: 500, Name: "$10 Package", Description: "Get 500 credits for $10"},
		{ID: "15", PriceCents: 1500, Credits: 800, Name: "$15 Package", Description: "Get 800 credits for $15", AllowMultiple: true},
	}
}
