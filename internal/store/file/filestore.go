// Package file implements the ledger Repository as a single JSON blob on
// disk. This is the legacy non-authenticated mode: one anonymous ledger under
// a fixed storage key, read once at startup and rewritten after every
// mutation. Older blobs that carry a single unified price field are upgraded
// to the split buy/sell quotes once at load time.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/syakrisajalah/emasku/internal/ids"
	"github.com/syakrisajalah/emasku/internal/ledger"
)

const blobVersion = 1

// DefaultStorageKey mirrors the storage key of the original application.
const DefaultStorageKey = "goldInvestmentState.json"

type Store struct {
	mu     sync.Mutex
	path   string
	loaded bool
	snap   ledger.Snapshot
}

var _ ledger.Repository = (*Store)(nil)

type blob struct {
	Version         int                  `json:"version"`
	CashBalance     decimal.Decimal      `json:"cash_balance"`
	LatestBuyPrice  decimal.Decimal      `json:"latest_buy_price"`
	LatestSellPrice decimal.Decimal      `json:"latest_sell_price"`
	Transactions    []ledger.Transaction `json:"transactions"`
}

// legacyBlob is the pre-split format written by the original web client.
type legacyBlob struct {
	CashBalance  decimal.Decimal     `json:"cashBalance"`
	LatestPrice  *decimal.Decimal    `json:"latestPrice"`
	Transactions []legacyTransaction `json:"transactions"`
}

type legacyTransaction struct {
	ID           string          `json:"id"`
	Date         string          `json:"date"`
	Type         string          `json:"type"`
	PricePerGram decimal.Decimal `json:"pricePerGram"`
	AmountSpent  decimal.Decimal `json:"amountSpent"`
	GoldAmount   decimal.Decimal `json:"goldAmount"`
}

// Open reads the blob at path if it exists. A missing file is not an error;
// the ledger is created on first access.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	snap, err := upgradeSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("load state file: %w", err)
	}
	s.snap = snap
	s.loaded = true
	return s, nil
}

// upgradeSnapshot decodes any known blob version into the current snapshot
// shape. Versioned upgrades happen here, never in business logic.
func upgradeSnapshot(raw []byte) (ledger.Snapshot, error) {
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ledger.Snapshot{}, err
	}
	if probe.Version >= blobVersion {
		var b blob
		if err := json.Unmarshal(raw, &b); err != nil {
			return ledger.Snapshot{}, err
		}
		snap := ledger.Snapshot{
			Profile: ledger.Profile{
				CashBalance:     b.CashBalance,
				LatestBuyPrice:  b.LatestBuyPrice,
				LatestSellPrice: b.LatestSellPrice,
			},
			Transactions: b.Transactions,
		}
		for i := range snap.Transactions {
			if snap.Transactions[i].ID == "" {
				snap.Transactions[i].ID = ids.New()
			}
			if snap.Transactions[i].Kind == "" {
				snap.Transactions[i].Kind = ledger.KindBuy
			}
		}
		return snap, nil
	}

	var legacy legacyBlob
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return ledger.Snapshot{}, err
	}
	snap := ledger.Snapshot{
		Profile: ledger.Profile{CashBalance: legacy.CashBalance},
	}
	if legacy.LatestPrice != nil {
		// The old client tracked one quote; it serves as both sides here.
		snap.LatestBuyPrice = *legacy.LatestPrice
		snap.LatestSellPrice = *legacy.LatestPrice
	}
	for _, lt := range legacy.Transactions {
		tx := ledger.Transaction{
			ID:           lt.ID,
			Kind:         ledger.KindBuy,
			PricePerGram: lt.PricePerGram,
			AmountSpent:  lt.AmountSpent,
			Quantity:     lt.GoldAmount,
		}
		if tx.ID == "" {
			tx.ID = ids.New()
		}
		if lt.Date != "" {
			d, err := ledger.ParseDate(lt.Date)
			if err != nil {
				return ledger.Snapshot{}, err
			}
			tx.Date = d
		}
		snap.Transactions = append(snap.Transactions, tx)
	}
	return snap, nil
}

// save rewrites the whole blob. Write-then-rename keeps the file whole even
// if the process dies mid-write.
func (s *Store) save() error {
	b := blob{
		Version:         blobVersion,
		CashBalance:     s.snap.CashBalance,
		LatestBuyPrice:  s.snap.LatestBuyPrice,
		LatestSellPrice: s.snap.LatestSellPrice,
		Transactions:    s.snap.Transactions,
	}
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) GetProfile(ctx context.Context, userID string) (ledger.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ledger.Profile{}, ledger.ErrNotFound
	}
	return s.snap.Profile, nil
}

func (s *Store) CreateProfile(ctx context.Context, userID string, p ledger.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = ledger.Snapshot{Profile: p}
	s.loaded = true
	return s.save()
}

func (s *Store) SaveProfile(ctx context.Context, userID string, p ledger.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ledger.ErrNotFound
	}
	s.snap.Profile = p
	return s.save()
}

func (s *Store) ListTransactions(ctx context.Context, userID string) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.snap.Transactions
	out := make([]ledger.Transaction, len(stored))
	for i, tx := range stored {
		out[len(stored)-1-i] = tx
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date.Time)
	})
	return out, nil
}

func (s *Store) RecordTransaction(ctx context.Context, userID string, tx ledger.Transaction, newBalance decimal.Decimal) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	if tx.ID == "" {
		tx.ID = ids.New()
	}
	prev := s.snap
	s.snap.CashBalance = newBalance
	s.snap.Transactions = append(s.snap.Transactions, tx)
	if err := s.save(); err != nil {
		s.snap = prev
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) AmendTransaction(ctx context.Context, userID string, tx ledger.Transaction, newBalance decimal.Decimal) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	idx := -1
	for i := range s.snap.Transactions {
		if s.snap.Transactions[i].ID == tx.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	prev := s.snap.Transactions[idx]
	prevBalance := s.snap.CashBalance
	s.snap.Transactions[idx] = tx
	s.snap.CashBalance = newBalance
	if err := s.save(); err != nil {
		s.snap.Transactions[idx] = prev
		s.snap.CashBalance = prevBalance
		return ledger.Transaction{}, err
	}
	return tx, nil
}
