package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Store keeps one user's ledger consistent under mutations. It loads the
// snapshot from the Repository once, applies every mutation remotely first,
// and only updates the in-memory snapshot after the write succeeded. A failed
// write therefore leaves the snapshot untouched.
type Store struct {
	mu     sync.RWMutex
	userID string
	repo   Repository
	snap   Snapshot
}

// TransactionInput carries the validated fields of a new purchase.
type TransactionInput struct {
	Date         Date
	PricePerGram decimal.Decimal
	AmountSpent  decimal.Decimal
	Quantity     decimal.Decimal
	Fee          decimal.Decimal
}

// TransactionPatch carries a partial update; nil fields keep their prior value.
type TransactionPatch struct {
	Date         *Date
	PricePerGram *decimal.Decimal
	AmountSpent  *decimal.Decimal
	Quantity     *decimal.Decimal
	Fee          *decimal.Decimal
}

// Open loads the ledger for a user, creating the profile with the configured
// starting cash balance on first access.
func Open(ctx context.Context, repo Repository, userID string, startingCash decimal.Decimal) (*Store, error) {
	profile, err := repo.GetProfile(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		profile = Profile{CashBalance: startingCash}
		if err := repo.CreateProfile(ctx, userID, profile); err != nil {
			return nil, fmt.Errorf("create profile: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("load profile: %w", err)
	}

	txs, err := repo.ListTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	// The repository returns newest first; the ledger keeps insertion order.
	for i, j := 0, len(txs)-1; i < j; i, j = i+1, j-1 {
		txs[i], txs[j] = txs[j], txs[i]
	}

	return &Store{
		userID: userID,
		repo:   repo,
		snap:   Snapshot{Profile: profile, Transactions: txs},
	}, nil
}

// UserID returns the owner of this ledger.
func (s *Store) UserID() string { return s.userID }

// Snapshot returns a copy of the current ledger state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// AddTransaction records a gold purchase. The total cost (amount plus fee) is
// debited from the cash balance; the purchase may not overdraw it.
func (s *Store) AddTransaction(ctx context.Context, in TransactionInput) (Transaction, Snapshot, error) {
	if in.Date.IsZero() {
		return Transaction{}, Snapshot{}, errInvalid("date", "is required")
	}
	if !in.PricePerGram.IsPositive() {
		return Transaction{}, Snapshot{}, errInvalid("price_per_gram", "must be greater than zero")
	}
	if !in.AmountSpent.IsPositive() {
		return Transaction{}, Snapshot{}, errInvalid("amount_spent", "must be greater than zero")
	}
	if !in.Quantity.IsPositive() {
		return Transaction{}, Snapshot{}, errInvalid("quantity", "must be greater than zero")
	}
	if in.Fee.IsNegative() {
		return Transaction{}, Snapshot{}, errInvalid("fee", "must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := Transaction{
		ID:           newID(),
		Date:         in.Date,
		Kind:         KindBuy,
		PricePerGram: in.PricePerGram,
		AmountSpent:  in.AmountSpent,
		Quantity:     in.Quantity,
		Fee:          in.Fee,
	}
	totalCost := tx.TotalCost()
	if totalCost.GreaterThan(s.snap.CashBalance) {
		return Transaction{}, Snapshot{}, ErrInsufficientFunds
	}
	newBalance := s.snap.CashBalance.Sub(totalCost)

	stored, err := s.repo.RecordTransaction(ctx, s.userID, tx, newBalance)
	if err != nil {
		return Transaction{}, Snapshot{}, fmt.Errorf("record transaction: %w", err)
	}

	s.snap.CashBalance = newBalance
	s.snap.Transactions = append(s.snap.Transactions, stored)
	return stored, s.snap.clone(), nil
}

// UpdateTransaction applies a partial update to an existing purchase. The cash
// balance absorbs the difference between the old and new total cost; identity
// and position of the transaction are preserved.
func (s *Store) UpdateTransaction(ctx context.Context, id string, patch TransactionPatch) (Transaction, Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, tx := range s.snap.Transactions {
		if tx.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Transaction{}, Snapshot{}, ErrNotFound
	}
	old := s.snap.Transactions[idx]

	updated := old
	if patch.Date != nil {
		updated.Date = *patch.Date
	}
	if patch.PricePerGram != nil {
		updated.PricePerGram = *patch.PricePerGram
	}
	if patch.AmountSpent != nil {
		updated.AmountSpent = *patch.AmountSpent
	}
	if patch.Quantity != nil {
		updated.Quantity = *patch.Quantity
	}
	if patch.Fee != nil {
		updated.Fee = *patch.Fee
	}

	if updated.Date.IsZero() {
		return Transaction{}, Snapshot{}, errInvalid("date", "is required")
	}
	if !updated.PricePerGram.IsPositive() {
		return Transaction{}, Snapshot{}, errInvalid("price_per_gram", "must be greater than zero")
	}
	if !updated.AmountSpent.IsPositive() {
		return Transaction{}, Snapshot{}, errInvalid("amount_spent", "must be greater than zero")
	}
	if !updated.Quantity.IsPositive() {
		return Transaction{}, Snapshot{}, errInvalid("quantity", "must be greater than zero")
	}
	if updated.Fee.IsNegative() {
		return Transaction{}, Snapshot{}, errInvalid("fee", "must not be negative")
	}

	cashDelta := old.TotalCost().Sub(updated.TotalCost())
	newBalance := s.snap.CashBalance.Add(cashDelta)
	if newBalance.IsNegative() {
		return Transaction{}, Snapshot{}, ErrInsufficientFunds
	}

	stored, err := s.repo.AmendTransaction(ctx, s.userID, updated, newBalance)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Transaction{}, Snapshot{}, ErrNotFound
		}
		return Transaction{}, Snapshot{}, fmt.Errorf("amend transaction: %w", err)
	}

	s.snap.CashBalance = newBalance
	s.snap.Transactions[idx] = stored
	return stored, s.snap.clone(), nil
}

// AddCash credits the cash balance.
func (s *Store) AddCash(ctx context.Context, amount decimal.Decimal) (Snapshot, error) {
	if !amount.IsPositive() {
		return Snapshot{}, errInvalid("amount", "must be greater than zero")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile := s.snap.Profile
	profile.CashBalance = profile.CashBalance.Add(amount)
	if err := s.repo.SaveProfile(ctx, s.userID, profile); err != nil {
		return Snapshot{}, fmt.Errorf("save profile: %w", err)
	}
	s.snap.Profile = profile
	return s.snap.clone(), nil
}

// SetLatestPrices stores the most recent market quotes. The buy price is what
// the user pays, the sell price is what the user receives, so the sell quote
// may not exceed the buy quote.
func (s *Store) SetLatestPrices(ctx context.Context, buyPrice, sellPrice decimal.Decimal) (Snapshot, error) {
	if !buyPrice.IsPositive() {
		return Snapshot{}, errInvalid("buy_price", "must be greater than zero")
	}
	if !sellPrice.IsPositive() {
		return Snapshot{}, errInvalid("sell_price", "must be greater than zero")
	}
	if sellPrice.GreaterThan(buyPrice) {
		return Snapshot{}, errInvalid("sell_price", "must not exceed buy_price")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile := s.snap.Profile
	profile.LatestBuyPrice = buyPrice
	profile.LatestSellPrice = sellPrice
	if err := s.repo.SaveProfile(ctx, s.userID, profile); err != nil {
		return Snapshot{}, fmt.Errorf("save profile: %w", err)
	}
	s.snap.Profile = profile
	return s.snap.clone(), nil
}
