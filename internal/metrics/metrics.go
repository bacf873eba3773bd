// Package metrics derives display values from a ledger snapshot. Everything
// here is a pure function: callers recompute on every read, nothing is cached.
package metrics

import (
	"github.com/shopspring/decimal"

	"github.com/syakrisajalah/emasku/internal/ledger"
)

// FeeSchedule maps an investment amount to an estimated transaction fee:
// a flat fee up to the threshold, a proportional rate above it.
type FeeSchedule struct {
	Threshold decimal.Decimal
	FlatFee   decimal.Decimal
	Rate      decimal.Decimal
}

// Estimate returns the fee for investing the given amount.
func (f FeeSchedule) Estimate(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, &ledger.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if amount.LessThanOrEqual(f.Threshold) {
		return f.FlatFee, nil
	}
	return amount.Mul(f.Rate), nil
}

// AverageBuyPrice is the cost basis per gram across all purchases, fees
// included. Zero when nothing has been bought yet.
func AverageBuyPrice(s ledger.Snapshot) decimal.Decimal {
	qty := s.TotalQuantity()
	if qty.IsZero() {
		return decimal.Zero
	}
	return s.TotalInvested().Div(qty)
}

// CurrentValue is the holding valued at the latest sell quote.
func CurrentValue(s ledger.Snapshot) decimal.Decimal {
	return s.TotalQuantity().Mul(s.LatestSellPrice)
}

// ProfitLoss is the unrealized gain against total invested money. Without a
// sell quote there is no profit/loss claim, so it reports zero.
func ProfitLoss(s ledger.Snapshot) decimal.Decimal {
	if !s.LatestSellPrice.IsPositive() {
		return decimal.Zero
	}
	return CurrentValue(s).Sub(s.TotalInvested())
}

// SellProjection is the outcome of selling the whole position at a target
// price. Empty is set when there are no holdings to simulate.
type SellProjection struct {
	Empty               bool            `json:"empty"`
	Quantity            decimal.Decimal `json:"quantity"`
	ProjectedValue      decimal.Decimal `json:"projected_value"`
	ProjectedProfitLoss decimal.Decimal `json:"projected_profit_loss"`
}

// SellSimulation projects proceeds and profit/loss of selling everything at
// targetPrice. The whole position goes, so the cost basis is simply the total
// invested money.
func SellSimulation(s ledger.Snapshot, targetPrice decimal.Decimal) (SellProjection, error) {
	if !targetPrice.IsPositive() {
		return SellProjection{}, &ledger.ValidationError{Field: "target_price", Reason: "must be greater than zero"}
	}
	qty := s.TotalQuantity()
	if qty.IsZero() {
		return SellProjection{Empty: true}, nil
	}
	value := qty.Mul(targetPrice)
	return SellProjection{
		Quantity:            qty,
		ProjectedValue:      value,
		ProjectedProfitLoss: value.Sub(s.TotalInvested()),
	}, nil
}

// Signal classifies the latest sell quote against the average buy price.
type Signal string

const (
	SignalSell             Signal = "sell"
	SignalBuy              Signal = "buy"
	SignalHold             Signal = "hold"
	SignalInsufficientData Signal = "insufficient_data"
)

// Advice is a recommendation plus the percentage move it is based on.
type Advice struct {
	Signal   Signal          `json:"signal"`
	PctDelta decimal.Decimal `json:"pct_delta"`
}

// Recommendation classifies the market move relative to the cost basis.
// threshold is a percentage (e.g. 5): at or above it the advice is to sell,
// at or below its negation to buy, otherwise to hold. Without a sell quote or
// without holdings there is nothing to classify.
func Recommendation(s ledger.Snapshot, threshold decimal.Decimal) Advice {
	if !s.LatestSellPrice.IsPositive() || s.TotalQuantity().IsZero() {
		return Advice{Signal: SignalInsufficientData}
	}
	avg := AverageBuyPrice(s)
	pct := s.LatestSellPrice.Sub(avg).Div(avg).Mul(decimal.NewFromInt(100))

	switch {
	case pct.GreaterThanOrEqual(threshold):
		return Advice{Signal: SignalSell, PctDelta: pct}
	case pct.LessThanOrEqual(threshold.Neg()):
		return Advice{Signal: SignalBuy, PctDelta: pct}
	default:
		return Advice{Signal: SignalHold, PctDelta: pct}
	}
}
