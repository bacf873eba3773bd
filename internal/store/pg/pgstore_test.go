package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"github.com/syakrisajalah/emasku/internal/ledger"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestGetProfile(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select cash_balance, latest_buy_price, latest_sell_price").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"cash_balance", "latest_buy_price", "latest_sell_price"}).
			AddRow("950000", "2500000", "2400000"))

	p, err := s.GetProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if !p.CashBalance.Equal(decimal.NewFromInt(950000)) {
		t.Fatalf("unexpected cash balance: %s", p.CashBalance)
	}
	if !p.LatestSellPrice.Equal(decimal.NewFromInt(2400000)) {
		t.Fatalf("unexpected sell price: %s", p.LatestSellPrice)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select cash_balance, latest_buy_price, latest_sell_price").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.GetProfile(context.Background(), "ghost"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordTransactionCommitsBothWrites(t *testing.T) {
	s, mock := newMockStore(t)

	tx := ledger.Transaction{
		ID:           "01TX",
		Date:         mustDate(t, "2025-12-09"),
		Kind:         ledger.KindBuy,
		PricePerGram: decimal.NewFromInt(2448000),
		AmountSpent:  decimal.NewFromInt(150000),
		Quantity:     decimal.RequireFromString("0.0613"),
		Fee:          decimal.Zero,
	}

	mock.ExpectBegin()
	mock.ExpectExec("insert into transactions").
		WithArgs("01TX", "user-1", sqlmock.AnyArg(), "buy", "2448000", "150000", "0.0613", "0").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("update profiles set cash_balance").
		WithArgs("user-1", "800000").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	stored, err := s.RecordTransaction(context.Background(), "user-1", tx, decimal.NewFromInt(800000))
	if err != nil {
		t.Fatalf("RecordTransaction: %v", err)
	}
	if stored.ID != "01TX" {
		t.Fatalf("unexpected id: %s", stored.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordTransactionRollsBackOnBalanceFailure(t *testing.T) {
	s, mock := newMockStore(t)

	tx := ledger.Transaction{
		ID:           "01TX",
		Date:         mustDate(t, "2025-12-09"),
		Kind:         ledger.KindBuy,
		PricePerGram: decimal.NewFromInt(2448000),
		AmountSpent:  decimal.NewFromInt(150000),
		Quantity:     decimal.RequireFromString("0.0613"),
		Fee:          decimal.Zero,
	}

	mock.ExpectBegin()
	mock.ExpectExec("insert into transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("update profiles set cash_balance").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if _, err := s.RecordTransaction(context.Background(), "user-1", tx, decimal.NewFromInt(800000)); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAmendTransactionUnknownID(t *testing.T) {
	s, mock := newMockStore(t)

	tx := ledger.Transaction{
		ID:           "missing",
		Date:         mustDate(t, "2025-12-09"),
		Kind:         ledger.KindBuy,
		PricePerGram: decimal.NewFromInt(2448000),
		AmountSpent:  decimal.NewFromInt(150000),
		Quantity:     decimal.RequireFromString("0.0613"),
		Fee:          decimal.Zero,
	}

	mock.ExpectBegin()
	mock.ExpectExec("update transactions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if _, err := s.AmendTransaction(context.Background(), "user-1", tx, decimal.Zero); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListTransactionsNewestFirst(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "tx_date", "kind", "price_per_gram", "amount_spent", "quantity", "fee"}).
		AddRow("01B", mustDate(t, "2025-12-10").Time, "buy", "2442000", "200000", "0.0819", "0").
		AddRow("01A", mustDate(t, "2025-12-09").Time, "buy", "2448000", "150000", "0.0613", "0")
	mock.ExpectQuery("select id, tx_date, kind, price_per_gram").
		WithArgs("user-1").
		WillReturnRows(rows)

	txs, err := s.ListTransactions(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 2 || txs[0].ID != "01B" || txs[1].ID != "01A" {
		t.Fatalf("unexpected order: %+v", txs)
	}
	if !txs[1].Quantity.Equal(decimal.RequireFromString("0.0613")) {
		t.Fatalf("unexpected quantity: %s", txs[1].Quantity)
	}
}

func TestSaveProfileNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("update profiles").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SaveProfile(context.Background(), "ghost", ledger.Profile{})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func mustDate(t *testing.T, s string) ledger.Date {
	t.Helper()
	d, err := ledger.ParseDate(s)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	return d
}
