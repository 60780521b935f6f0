// Package main seeds the demo accounts: users 1 and 2, each with 10000 USD,
// 1 BTC and 10 ETH. Re-running resets their balances and holdings unless a
// user has OPEN orders, in which case that user is left untouched.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"github.com/archon-research/stl-exchange/internal/adapters/outbound/postgres"
	"github.com/archon-research/stl-exchange/internal/domain/entity"
	"github.com/archon-research/stl-exchange/internal/pkg/env"
	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

type demoUser struct {
	UserID   int64
	Balance  fixedpoint.Value
	Holdings map[string]fixedpoint.Value
}

func demoUsers() []demoUser {
	holdings := map[string]fixedpoint.Value{
		"BTC": fixedpoint.MustParse("1"),
		"ETH": fixedpoint.MustParse("10"),
	}
	return []demoUser{
		{UserID: 1, Balance: fixedpoint.MustParse("10000"), Holdings: holdings},
		{UserID: 2, Balance: fixedpoint.MustParse("10000"), Holdings: holdings},
	}
}

func main() {
	_ = godotenv.Load(".env")

	dbURL := flag.String("db", "", "PostgreSQL connection URL")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))

	if *dbURL == "" {
		*dbURL = env.Get("DATABASE_URL", "")
	}
	if *dbURL == "" {
		logger.Error("database URL not provided (use -db flag or DATABASE_URL env var)")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(*dbURL))
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	txManager, err := postgres.NewTxManager(pool, logger)
	if err != nil {
		logger.Error("failed to create transaction manager", "error", err)
		os.Exit(1)
	}
	accounts, err := postgres.NewAccountRepository(pool, logger)
	if err != nil {
		logger.Error("failed to create account repository", "error", err)
		os.Exit(1)
	}
	orders, err := postgres.NewOrderRepository(pool, logger)
	if err != nil {
		logger.Error("failed to create order repository", "error", err)
		os.Exit(1)
	}

	if err := seed(ctx, txManager, accounts, orders, demoUsers(), logger); err != nil {
		logger.Error("seeding failed", "error", err)
		os.Exit(1)
	}
	logger.Info("seeding complete")
}

// seed creates or resets every user in its own transaction.
func seed(ctx context.Context, txm outbound.TxManager, accounts outbound.AccountRepository,
	orders outbound.OrderRepository, users []demoUser, logger *slog.Logger) error {
	for _, u := range users {
		open, err := hasOpenOrders(ctx, orders, u.UserID)
		if err != nil {
			return err
		}
		if open {
			logger.Warn("user has open orders, skipping", "userId", u.UserID)
			continue
		}

		err = txm.WithTransaction(ctx, func(tx pgx.Tx) error {
			account, err := accounts.LockAccount(ctx, tx, u.UserID)
			switch {
			case errors.Is(err, entity.ErrNotFound):
				if err := accounts.CreateAccount(ctx, tx, entity.Account{UserID: u.UserID, Balance: u.Balance}); err != nil {
					return err
				}
			case err != nil:
				return err
			default:
				account.Balance = u.Balance
				if err := accounts.UpdateBalance(ctx, tx, account); err != nil {
					return err
				}
			}

			for symbol, amount := range u.Holdings {
				h := entity.Holding{UserID: u.UserID, Symbol: symbol, Amount: amount, LockedAmount: fixedpoint.Zero}
				if err := accounts.UpsertHolding(ctx, tx, h); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to seed user %d: %w", u.UserID, err)
		}
		logger.Info("seeded user", "userId", u.UserID, "balance", u.Balance)
	}
	return nil
}

func hasOpenOrders(ctx context.Context, orders outbound.OrderRepository, userID int64) (bool, error) {
	list, err := orders.ListOrdersByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to list orders of user %d: %w", userID, err)
	}
	for _, o := range list {
		if o.IsOpen() {
			return true, nil
		}
	}
	return false, nil
}
