package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/archon-research/stl-exchange/internal/domain/entity"
	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
)

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, tx pgx.Tx, account entity.Account) error {
	st, err := s.txState(tx)
	if err != nil {
		return err
	}
	if account.Balance.IsNegative() {
		return fmt.Errorf("%w: negative balance %s", entity.ErrValidation, account.Balance)
	}
	if _, ok := st.accounts[account.UserID]; ok {
		return fmt.Errorf("account for user %d already exists", account.UserID)
	}
	st.accounts[account.UserID] = account.Balance
	return nil
}

// LockAccount returns the account for userID.
func (s *Store) LockAccount(ctx context.Context, tx pgx.Tx, userID int64) (*entity.Account, error) {
	st, err := s.txState(tx)
	if err != nil {
		return nil, err
	}
	balance, ok := st.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("account for user %d: %w", userID, entity.ErrNotFound)
	}
	return &entity.Account{UserID: userID, Balance: balance}, nil
}

// UpdateBalance overwrites the account balance.
func (s *Store) UpdateBalance(ctx context.Context, tx pgx.Tx, account *entity.Account) error {
	st, err := s.txState(tx)
	if err != nil {
		return err
	}
	if _, ok := st.accounts[account.UserID]; !ok {
		return fmt.Errorf("account for user %d: %w", account.UserID, entity.ErrNotFound)
	}
	if account.Balance.IsNegative() {
		return fmt.Errorf("%w: balance of user %d would become %s", entity.ErrLedgerInvariant, account.UserID, account.Balance)
	}
	st.accounts[account.UserID] = account.Balance
	return nil
}

// LockHolding returns the holding, or nil if the user never held symbol.
func (s *Store) LockHolding(ctx context.Context, tx pgx.Tx, userID int64, symbol string) (*entity.Holding, error) {
	st, err := s.txState(tx)
	if err != nil {
		return nil, err
	}
	h, ok := st.holdings[holdingKey{userID, symbol}]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

// LockOrCreateHolding returns the holding, creating a zero one if absent.
func (s *Store) LockOrCreateHolding(ctx context.Context, tx pgx.Tx, userID int64, symbol string) (*entity.Holding, error) {
	st, err := s.txState(tx)
	if err != nil {
		return nil, err
	}
	key := holdingKey{userID, symbol}
	h, ok := st.holdings[key]
	if !ok {
		h = entity.Holding{UserID: userID, Symbol: symbol, Amount: fixedpoint.Zero, LockedAmount: fixedpoint.Zero}
		st.holdings[key] = h
	}
	return &h, nil
}

// UpdateHolding overwrites an existing holding.
func (s *Store) UpdateHolding(ctx context.Context, tx pgx.Tx, holding *entity.Holding) error {
	st, err := s.txState(tx)
	if err != nil {
		return err
	}
	key := holdingKey{holding.UserID, holding.Symbol}
	if _, ok := st.holdings[key]; !ok {
		return fmt.Errorf("%s holding of user %d: %w", holding.Symbol, holding.UserID, entity.ErrNotFound)
	}
	if err := checkHolding(*holding); err != nil {
		return err
	}
	st.holdings[key] = *holding
	return nil
}

// UpsertHolding sets a holding, creating it if needed.
func (s *Store) UpsertHolding(ctx context.Context, tx pgx.Tx, holding entity.Holding) error {
	st, err := s.txState(tx)
	if err != nil {
		return err
	}
	if err := checkHolding(holding); err != nil {
		return err
	}
	st.holdings[holdingKey{holding.UserID, holding.Symbol}] = holding
	return nil
}

// GetPortfolio reads the balance and holdings of a user, holdings sorted by symbol.
func (s *Store) GetPortfolio(ctx context.Context, tx pgx.Tx, userID int64) (*entity.Portfolio, error) {
	st, err := s.txState(tx)
	if err != nil {
		return nil, err
	}
	balance, ok := st.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("account for user %d: %w", userID, entity.ErrNotFound)
	}

	p := &entity.Portfolio{UserID: userID, Balance: balance, Holdings: []entity.Holding{}}
	for key, h := range st.holdings {
		if key.userID == userID {
			p.Holdings = append(p.Holdings, h)
		}
	}
	sort.Slice(p.Holdings, func(i, j int) bool { return p.Holdings[i].Symbol < p.Holdings[j].Symbol })
	return p, nil
}

// checkHolding mirrors the CHECK constraints of the holdings table.
func checkHolding(h entity.Holding) error {
	if h.Amount.IsNegative() || h.LockedAmount.IsNegative() {
		return fmt.Errorf("%w: %s holding of user %d would become %s/%s",
			entity.ErrLedgerInvariant, h.Symbol, h.UserID, h.Amount, h.LockedAmount)
	}
	return nil
}
