package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// InMemory implements Repository in process. Used in tests and when the API
// runs without a database DSN.
type InMemory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	txs      map[string][]Transaction // per user, insertion order
}

var _ Repository = (*InMemory)(nil)

// NewInMemory creates an empty in-process repository.
func NewInMemory() *InMemory {
	return &InMemory{
		profiles: make(map[string]Profile),
		txs:      make(map[string][]Transaction),
	}
}

func (m *InMemory) GetProfile(ctx context.Context, userID string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *InMemory) CreateProfile(ctx context.Context, userID string, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[userID] = p
	return nil
}

func (m *InMemory) SaveProfile(ctx context.Context, userID string, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[userID]; !ok {
		return ErrNotFound
	}
	m.profiles[userID] = p
	return nil
}

func (m *InMemory) ListTransactions(ctx context.Context, userID string) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.txs[userID]
	out := make([]Transaction, len(stored))
	// Newest first: reverse insertion order, then a stable sort by date keeps
	// same-day entries in latest-first order.
	for i, tx := range stored {
		out[len(stored)-1-i] = tx
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date.Time)
	})
	return out, nil
}

func (m *InMemory) RecordTransaction(ctx context.Context, userID string, tx Transaction, newBalance decimal.Decimal) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	if tx.ID == "" {
		tx.ID = newID()
	}
	p.CashBalance = newBalance
	m.profiles[userID] = p
	m.txs[userID] = append(m.txs[userID], tx)
	return tx, nil
}

func (m *InMemory) AmendTransaction(ctx context.Context, userID string, tx Transaction, newBalance decimal.Decimal) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	stored := m.txs[userID]
	for i := range stored {
		if stored[i].ID == tx.ID {
			stored[i] = tx
			p.CashBalance = newBalance
			m.profiles[userID] = p
			return tx, nil
		}
	}
	return Transaction{}, ErrNotFound
}

// SeedDemo installs the starter fixture the original app ships with: a fresh
// profile whose balance already reflects two small purchases.
func (m *InMemory) SeedDemo(userID string) {
	starters := []Transaction{
		{
			ID:           newID(),
			Date:         mustDate("2025-12-09"),
			Kind:         KindBuy,
			PricePerGram: decimal.NewFromInt(2448000),
			AmountSpent:  decimal.NewFromInt(150000),
			Quantity:     decimal.RequireFromString("0.0613"),
		},
		{
			ID:           newID(),
			Date:         mustDate("2025-12-09"),
			Kind:         KindBuy,
			PricePerGram: decimal.NewFromInt(2442000),
			AmountSpent:  decimal.NewFromInt(200000),
			Quantity:     decimal.RequireFromString("0.0819"),
		},
	}

	balance := decimal.NewFromInt(950000)
	for _, tx := range starters {
		balance = balance.Sub(tx.TotalCost())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[userID] = Profile{CashBalance: balance}
	m.txs[userID] = starters
}

func mustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}
