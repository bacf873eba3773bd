package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository is the durable record store behind a Store. Each mutation that
// touches both a transaction row and the cash balance is a single call, so an
// implementation can persist the pair atomically.
type Repository interface {
	// GetProfile returns the stored profile or ErrNotFound.
	GetProfile(ctx context.Context, userID string) (Profile, error)
	// CreateProfile stores the initial profile for a user.
	CreateProfile(ctx context.Context, userID string, p Profile) error
	// SaveProfile overwrites the stored profile (cash top-ups, price quotes).
	SaveProfile(ctx context.Context, userID string, p Profile) error
	// ListTransactions returns the user's transactions, newest date first.
	ListTransactions(ctx context.Context, userID string) ([]Transaction, error)
	// RecordTransaction persists a new transaction together with the cash
	// balance that results from it.
	RecordTransaction(ctx context.Context, userID string, tx Transaction, newBalance decimal.Decimal) (Transaction, error)
	// AmendTransaction persists changed fields of an existing transaction
	// together with the adjusted cash balance. Returns ErrNotFound when the
	// id is unknown.
	AmendTransaction(ctx context.Context, userID string, tx Transaction, newBalance decimal.Decimal) (Transaction, error)
}
