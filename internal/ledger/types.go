package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/syakrisajalah/emasku/internal/ids"
)

// Kind classifies a ledger transaction. Only purchases are ever recorded;
// selling the position is covered by the sell-simulation metrics instead.
type Kind string

const KindBuy Kind = "buy"

const dateLayout = "2006-01-02"

// Date is a calendar day with no time component.
type Date struct {
	time.Time
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Transaction is a single recorded gold purchase. AmountSpent covers the gold
// itself; Fee is whatever the counterparty charged on top.
type Transaction struct {
	ID           string          `json:"id"`
	Date         Date            `json:"date"`
	Kind         Kind            `json:"kind"`
	PricePerGram decimal.Decimal `json:"price_per_gram"`
	AmountSpent  decimal.Decimal `json:"amount_spent"`
	Quantity     decimal.Decimal `json:"quantity"` // grams
	Fee          decimal.Decimal `json:"fee"`
}

// TotalCost is the cash debited for this purchase, fee included.
func (t Transaction) TotalCost() decimal.Decimal { return t.AmountSpent.Add(t.Fee) }

// Profile holds the per-user cash balance and the most recent user-entered
// market quotes. A zero price means the quote has not been set yet.
type Profile struct {
	CashBalance     decimal.Decimal `json:"cash_balance"`
	LatestBuyPrice  decimal.Decimal `json:"latest_buy_price"`
	LatestSellPrice decimal.Decimal `json:"latest_sell_price"`
}

// Snapshot is a point-in-time view of one user's ledger. Transactions are in
// insertion order.
type Snapshot struct {
	Profile
	Transactions []Transaction `json:"transactions"`
}

// TotalQuantity sums the grams held across all transactions.
func (s Snapshot) TotalQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, tx := range s.Transactions {
		total = total.Add(tx.Quantity)
	}
	return total
}

// TotalInvested sums the money spent across all transactions, fees included.
func (s Snapshot) TotalInvested() decimal.Decimal {
	total := decimal.Zero
	for _, tx := range s.Transactions {
		total = total.Add(tx.TotalCost())
	}
	return total
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Transactions = make([]Transaction, len(s.Transactions))
	copy(out.Transactions, s.Transactions)
	return out
}

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// ValidationError reports a malformed or out-of-range input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + " " + e.Reason }

func errInvalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func newID() string {
	return ids.New()
}
