package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/unifi/internal/auth"
	"github.com/xtrntr/unifi/internal/config"
	"github.com/xtrntr/unifi/internal/db"
	"github.com/xtrntr/unifi/internal/ledger"
	"github.com/xtrntr/unifi/internal/logging"
	"github.com/xtrntr/unifi/internal/models"
	"github.com/xtrntr/unifi/internal/trading"
)

type demoTrader struct {
	email    string
	username string
	orders   []trading.OrderRequest
}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

var traders = []demoTrader{
	{
		email:    "trader1@example.com",
		username: "trader1",
		orders: []trading.OrderRequest{
			{Pair: "BTC/USDT", Type: models.OrderTypeMarket, Side: models.SideBuy,
				Amount: decimal.RequireFromString("0.05"), Price: price("60000"), Total: decimal.RequireFromString("3000")},
			{Pair: "ETH/USDT", Type: models.OrderTypeLimit, Side: models.SideBuy,
				Amount: decimal.RequireFromString("1"), Price: price("2500"), Total: decimal.RequireFromString("2500")},
		},
	},
	{
		email:    "trader2@example.com",
		username: "trader2",
		orders: []trading.OrderRequest{
			{Pair: "ETH/USDT", Type: models.OrderTypeMarket, Side: models.SideBuy,
				Amount: decimal.RequireFromString("2"), Price: price("3000"), Total: decimal.RequireFromString("6000")},
			{Pair: "ETH/USDT", Type: models.OrderTypeMarket, Side: models.SideSell,
				Amount: decimal.RequireFromString("1"), Price: price("3100"), Total: decimal.RequireFromString("3100")},
		},
	},
}

// Seed the database with demo traders, balances and a few orders
func main() {
	configPath := flag.String("config", "", "path to a config file")
	password := flag.String("password", "password123", "password for every demo trader")
	balance := flag.String("balance", "10000", "USDT credited to each new trader")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.SetDefault(logging.New(cfg.Log))

	credit, err := decimal.NewFromString(*balance)
	if err != nil || !credit.IsPositive() {
		log.Fatalf("Invalid balance %q", *balance)
	}

	ctx := context.Background()

	// Connect to database
	database, err := db.NewDB(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatalf("Failed to create token issuer: %v", err)
	}
	authService := auth.NewService(database, tokens)
	l := ledger.New(database)
	tradingService := trading.NewService(database, l)
	tradingService.FeeRate = decimal.NewFromFloat(cfg.Trading.FeeRate)

	for _, trader := range traders {
		sess, err := authService.Register(ctx, auth.PasswordRegistration{
			Email:    trader.email,
			Password: *password,
			Username: trader.username,
		})
		if errors.Is(err, auth.ErrDuplicateIdentity) {
			fmt.Printf("%s already exists, skipping\n", trader.email)
			continue
		}
		if err != nil {
			log.Fatalf("Failed to register %s: %v", trader.email, err)
		}

		if _, err := l.Credit(ctx, sess.User.ID, credit); err != nil {
			log.Fatalf("Failed to credit %s: %v", trader.email, err)
		}

		for _, req := range trader.orders {
			result, err := tradingService.CreateOrder(ctx, sess.User.ID, req)
			if err != nil {
				log.Fatalf("Failed to place %s %s order for %s: %v", req.Side, req.Pair, trader.email, err)
			}
			fmt.Printf("Created %s %s order %s (%s)\n", req.Side, req.Pair, result.Order.ID, result.Order.Status)
		}
		fmt.Printf("Seeded %s with %s USDT\n", trader.email, credit)
	}

	fmt.Println("Database seeding completed successfully!")
}
