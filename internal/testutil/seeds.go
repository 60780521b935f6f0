package testutil

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/archon-research/stl-exchange/internal/domain/entity"
	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

// Funding describes the starting state of one test user.
type Funding struct {
	UserID   int64
	Balance  string
	Holdings map[string]string
}

// Fund creates an account and its available holdings for every entry, in one
// transaction, through whichever store implements the ports.
func Fund(t testing.TB, txm outbound.TxManager, accounts outbound.AccountRepository, users ...Funding) {
	t.Helper()
	ctx := context.Background()

	err := txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		for _, u := range users {
			balance, err := fixedpoint.Parse(u.Balance)
			if err != nil {
				return err
			}
			if err := accounts.CreateAccount(ctx, tx, entity.Account{UserID: u.UserID, Balance: balance}); err != nil {
				return err
			}
			for symbol, raw := range u.Holdings {
				amount, err := fixedpoint.Parse(raw)
				if err != nil {
					return err
				}
				h := entity.Holding{UserID: u.UserID, Symbol: symbol, Amount: amount, LockedAmount: fixedpoint.Zero}
				if err := accounts.UpsertHolding(ctx, tx, h); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("fund users: %v", err)
	}
}
