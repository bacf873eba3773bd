// Package pg implements the ledger Repository on PostgreSQL. Each mutation
// that touches a transaction row and the cash balance runs inside one SQL
// transaction, so the stored ledger can never end up half-written.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/shopspring/decimal"

	"github.com/syakrisajalah/emasku/internal/ledger"
)

type Store struct {
	db *sql.DB
}

var _ ledger.Repository = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection pool (used by tests).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) GetProfile(ctx context.Context, userID string) (ledger.Profile, error) {
	var cash, buy, sell string
	err := s.db.QueryRowContext(ctx, `
		select cash_balance, latest_buy_price, latest_sell_price
		from profiles where user_id=$1
	`, userID).Scan(&cash, &buy, &sell)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Profile{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Profile{}, err
	}
	return parseProfile(cash, buy, sell)
}

func (s *Store) CreateProfile(ctx context.Context, userID string, p ledger.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		insert into profiles(user_id, cash_balance, latest_buy_price, latest_sell_price)
		values ($1,$2,$3,$4)
	`, userID, p.CashBalance.String(), p.LatestBuyPrice.String(), p.LatestSellPrice.String())
	return err
}

func (s *Store) SaveProfile(ctx context.Context, userID string, p ledger.Profile) error {
	res, err := s.db.ExecContext(ctx, `
		update profiles
		set cash_balance=$2, latest_buy_price=$3, latest_sell_price=$4, updated_at=now()
		where user_id=$1
	`, userID, p.CashBalance.String(), p.LatestBuyPrice.String(), p.LatestSellPrice.String())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, tx_date, kind, price_per_gram, amount_spent, quantity, fee
		from transactions
		where user_id=$1
		order by tx_date desc, seq desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ledger.Transaction
	for rows.Next() {
		var tx ledger.Transaction
		var day time.Time
		var kind, price, amount, qty, fee string
		if err := rows.Scan(&tx.ID, &day, &kind, &price, &amount, &qty, &fee); err != nil {
			return nil, err
		}
		tx.Date = ledger.Date{Time: day}
		tx.Kind = ledger.Kind(kind)
		if tx.PricePerGram, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("price_per_gram: %w", err)
		}
		if tx.AmountSpent, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("amount_spent: %w", err)
		}
		if tx.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("quantity: %w", err)
		}
		if tx.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("fee: %w", err)
		}
		res = append(res, tx)
	}
	return res, rows.Err()
}

func (s *Store) RecordTransaction(ctx context.Context, userID string, tx ledger.Transaction, newBalance decimal.Decimal) (ledger.Transaction, error) {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() { _ = dbtx.Rollback() }()

	if _, err := dbtx.ExecContext(ctx, `
		insert into transactions(id, user_id, tx_date, kind, price_per_gram, amount_spent, quantity, fee)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, tx.ID, userID, tx.Date.Time, string(tx.Kind),
		tx.PricePerGram.String(), tx.AmountSpent.String(), tx.Quantity.String(), tx.Fee.String()); err != nil {
		return ledger.Transaction{}, err
	}

	if err := updateBalance(ctx, dbtx, userID, newBalance); err != nil {
		return ledger.Transaction{}, err
	}
	if err := dbtx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) AmendTransaction(ctx context.Context, userID string, tx ledger.Transaction, newBalance decimal.Decimal) (ledger.Transaction, error) {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() { _ = dbtx.Rollback() }()

	res, err := dbtx.ExecContext(ctx, `
		update transactions
		set tx_date=$3, price_per_gram=$4, amount_spent=$5, quantity=$6, fee=$7
		where id=$1 and user_id=$2
	`, tx.ID, userID, tx.Date.Time,
		tx.PricePerGram.String(), tx.AmountSpent.String(), tx.Quantity.String(), tx.Fee.String())
	if err != nil {
		return ledger.Transaction{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.Transaction{}, ledger.ErrNotFound
	}

	if err := updateBalance(ctx, dbtx, userID, newBalance); err != nil {
		return ledger.Transaction{}, err
	}
	if err := dbtx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func updateBalance(ctx context.Context, dbtx *sql.Tx, userID string, balance decimal.Decimal) error {
	res, err := dbtx.ExecContext(ctx, `
		update profiles set cash_balance=$2, updated_at=now() where user_id=$1
	`, userID, balance.String())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func parseProfile(cash, buy, sell string) (ledger.Profile, error) {
	var p ledger.Profile
	var err error
	if p.CashBalance, err = decimal.NewFromString(cash); err != nil {
		return ledger.Profile{}, fmt.Errorf("cash_balance: %w", err)
	}
	if p.LatestBuyPrice, err = decimal.NewFromString(buy); err != nil {
		return ledger.Profile{}, fmt.Errorf("latest_buy_price: %w", err)
	}
	if p.LatestSellPrice, err = decimal.NewFromString(sell); err != nil {
		return ledger.Profile{}, fmt.Errorf("latest_sell_price: %w", err)
	}
	return p, nil
}
