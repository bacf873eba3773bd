package httpapi

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/syakrisajalah/emasku/internal/auth"
	"github.com/syakrisajalah/emasku/internal/ledger"
	"github.com/syakrisajalah/emasku/internal/metrics"
	"github.com/syakrisajalah/emasku/internal/obs"
)

type addTransactionRequest struct {
	Date         string          `json:"date"`
	PricePerGram decimal.Decimal `json:"price_per_gram"`
	AmountSpent  decimal.Decimal `json:"amount_spent"`
	Quantity     decimal.Decimal `json:"quantity"`
	Fee          decimal.Decimal `json:"fee"`
}

type updateTransactionRequest struct {
	Date         *string          `json:"date"`
	PricePerGram *decimal.Decimal `json:"price_per_gram"`
	AmountSpent  *decimal.Decimal `json:"amount_spent"`
	Quantity     *decimal.Decimal `json:"quantity"`
	Fee          *decimal.Decimal `json:"fee"`
}

type addCashRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type setPricesRequest struct {
	BuyPrice  decimal.Decimal `json:"buy_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
}

type sellSimulationRequest struct {
	TargetPrice decimal.Decimal `json:"target_price"`
}

// ledgerSummary is the snapshot plus every derived value the dashboard shows.
type ledgerSummary struct {
	CashBalance     decimal.Decimal      `json:"cash_balance"`
	LatestBuyPrice  decimal.Decimal      `json:"latest_buy_price"`
	LatestSellPrice decimal.Decimal      `json:"latest_sell_price"`
	TotalQuantity   decimal.Decimal      `json:"total_quantity"`
	TotalInvested   decimal.Decimal      `json:"total_invested"`
	AverageBuyPrice decimal.Decimal      `json:"average_buy_price"`
	CurrentValue    decimal.Decimal      `json:"current_value"`
	ProfitLoss      decimal.Decimal      `json:"profit_loss"`
	Recommendation  metrics.Advice       `json:"recommendation"`
	Transactions    []ledger.Transaction `json:"transactions"`
	AsOf            time.Time            `json:"as_of"`
}

type mutationResponse struct {
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
	Ledger      ledgerSummary       `json:"ledger"`
}

type listTransactionsResponse struct {
	Items []ledger.Transaction `json:"items"`
	AsOf  time.Time            `json:"as_of"`
}

func (a *API) summarize(snap ledger.Snapshot) ledgerSummary {
	return ledgerSummary{
		CashBalance:     snap.CashBalance,
		LatestBuyPrice:  snap.LatestBuyPrice,
		LatestSellPrice: snap.LatestSellPrice,
		TotalQuantity:   snap.TotalQuantity(),
		TotalInvested:   snap.TotalInvested(),
		AverageBuyPrice: metrics.AverageBuyPrice(snap),
		CurrentValue:    metrics.CurrentValue(snap),
		ProfitLoss:      metrics.ProfitLoss(snap),
		Recommendation:  metrics.Recommendation(snap, a.cfg.RecommendationPct),
		Transactions:    snap.Transactions,
		AsOf:            time.Now().UTC(),
	}
}

// userStore resolves the authenticated user's ledger store, writing the
// failure response itself when that is not possible.
func (a *API) userStore(w http.ResponseWriter, r *http.Request) (*ledger.Store, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	s, err := a.store(r.Context(), userID)
	if err != nil {
		obs.ObserveLedgerOp("open", opResult(err))
		handleLedgerError(w, r, err)
		return nil, false
	}
	return s, true
}

func (a *API) handleLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	s, ok := a.userStore(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.summarize(s.Snapshot()))
}

func (a *API) handleTransactionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listTransactions(w, r)
	case http.MethodPost:
		a.addTransaction(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTransactionResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/ledger/transactions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	a.updateTransaction(w, r, id)
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	s, ok := a.userStore(w, r)
	if !ok {
		return
	}
	snap := s.Snapshot()
	items := snap.Transactions
	// Display order: newest date first, latest entry first on equal dates.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Date.After(items[j].Date.Time)
	})
	writeJSON(w, http.StatusOK, listTransactionsResponse{
		Items: items,
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) addTransaction(w http.ResponseWriter, r *http.Request) {
	var req addTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s, ok := a.userStore(w, r)
	if !ok {
		return
	}

	in := ledger.TransactionInput{
		PricePerGram: req.PricePerGram,
		AmountSpent:  req.AmountSpent,
		Quantity:     req.Quantity,
		Fee:          req.Fee,
	}
	if strings.TrimSpace(req.Date) != "" {
		d, err := ledger.ParseDate(req.Date)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		in.Date = d
	}

	tx, snap, err := s.AddTransaction(r.Context(), in)
	obs.ObserveLedgerOp("add_transaction", opResult(err))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.transaction.add", map[string]any{
		"transaction_id": tx.ID,
		"amount_spent":   tx.AmountSpent.String(),
		"quantity":       tx.Quantity.String(),
		"fee":            tx.Fee.String(),
	})

	w.Header().Set("Location", "/v1/ledger/transactions/"+tx.ID)
	writeJSON(w, http.StatusCreated, mutationResponse{
		Transaction: &tx,
		Ledger:      a.summarize(snap),
	})
}

func (a *API) updateTransaction(w http.ResponseWriter, r *http.Request, id string) {
	var req updateTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s, ok := a.userStore(w, r)
	if !ok {
		return
	}

	patch := ledger.TransactionPatch{
		PricePerGram: req.PricePerGram,
		AmountSpent:  req.AmountSpent,
		Quantity:     req.Quantity,
		Fee:          req.Fee,
	}
	if req.Date != nil {
		d, err := ledger.ParseDate(*req.Date)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		patch.Date = &d
	}

	tx, snap, err := s.UpdateTransaction(r.Context(), id, patch)
	obs.ObserveLedgerOp("update_transaction", opResult(err))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.transaction.update", map[string]any{
		"transaction_id": tx.ID,
		"amount_spent":   tx.AmountSpent.String(),
		"quantity":       tx.Quantity.String(),
		"fee":            tx.Fee.String(),
	})

	writeJSON(w, http.StatusOK, mutationResponse{
		Transaction: &tx,
		Ledger:      a.summarize(snap),
	})
}

func (a *API) handleCash(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req addCashRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s, ok := a.userStore(w, r)
	if !ok {
		return
	}

	snap, err := s.AddCash(r.Context(), req.Amount)
	obs.ObserveLedgerOp("add_cash", opResult(err))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.cash.add", map[string]any{
		"amount": req.Amount.String(),
	})
	writeJSON(w, http.StatusOK, mutationResponse{Ledger: a.summarize(snap)})
}

func (a *API) handlePrices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var req setPricesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s, ok := a.userStore(w, r)
	if !ok {
		return
	}

	snap, err := s.SetLatestPrices(r.Context(), req.BuyPrice, req.SellPrice)
	obs.ObserveLedgerOp("set_prices", opResult(err))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.prices.set", map[string]any{
		"buy_price":  req.BuyPrice.String(),
		"sell_price": req.SellPrice.String(),
	})
	writeJSON(w, http.StatusOK, mutationResponse{Ledger: a.summarize(snap)})
}

func (a *API) handleSellSimulation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req sellSimulationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s, ok := a.userStore(w, r)
	if !ok {
		return
	}

	projection, err := metrics.SellSimulation(s.Snapshot(), req.TargetPrice)
	obs.ObserveLedgerOp("sell_simulation", opResult(err))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projection)
}

func (a *API) handleFeeEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("amount"))
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, "amount query parameter is required")
		return
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "amount must be a number")
		return
	}

	fee, err := a.cfg.FeeSchedule().Estimate(amount)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"amount": amount,
		"fee":    fee,
	})
}
