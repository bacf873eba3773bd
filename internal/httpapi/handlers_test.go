package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/syakrisajalah/emasku/internal/auth"
	"github.com/syakrisajalah/emasku/internal/config"
	"github.com/syakrisajalah/emasku/internal/ledger"
	"github.com/syakrisajalah/emasku/internal/metrics"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("EMASKU_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	api := New(ReadyProbe{}, "test", ledger.NewInMemory(), cfg)
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(user string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{"user": user}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func requireEqual(t *testing.T, got decimal.Decimal, want string, label string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s: got %s, want %s", label, got, want)
	}
}

func TestLedgerPurchaseFlow(t *testing.T) {
	c := newTestAPI(t)
	hdr := bearerHeader(c.obtainToken("tester"))

	// A fresh ledger opens with the starting balance and no holdings.
	resp := c.get("/v1/ledger", nil, hdr)
	summary := decode[ledgerSummary](t, resp)
	requireEqual(t, summary.CashBalance, "950000", "opening cash")
	requireEqual(t, summary.TotalQuantity, "0", "opening quantity")
	if summary.Recommendation.Signal != metrics.SignalInsufficientData {
		t.Fatalf("expected insufficient_data, got %s", summary.Recommendation.Signal)
	}

	resp = c.post("/v1/ledger/transactions", map[string]any{
		"date":           "2025-12-09",
		"price_per_gram": "2448000",
		"amount_spent":   "150000",
		"quantity":       "0.0613",
	}, hdr)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first purchase status: %d", resp.StatusCode)
	}
	first := decode[mutationResponse](t, resp)
	if first.Transaction == nil || first.Transaction.ID == "" {
		t.Fatal("expected transaction with id")
	}
	requireEqual(t, first.Ledger.CashBalance, "800000", "cash after first purchase")

	resp = c.post("/v1/ledger/transactions", map[string]any{
		"date":           "2025-12-09",
		"price_per_gram": "2442000",
		"amount_spent":   "200000",
		"quantity":       "0.0819",
	}, hdr)
	second := decode[mutationResponse](t, resp)
	requireEqual(t, second.Ledger.CashBalance, "600000", "cash after second purchase")
	requireEqual(t, second.Ledger.TotalQuantity, "0.1432", "total quantity")
	requireEqual(t, second.Ledger.TotalInvested, "350000", "total invested")
	if !second.Ledger.AverageBuyPrice.Round(2).Equal(decimal.RequireFromString("2444134.08")) {
		t.Fatalf("average buy price: got %s", second.Ledger.AverageBuyPrice)
	}
}

func TestLedgerInsufficientFunds(t *testing.T) {
	c := newTestAPI(t)
	hdr := bearerHeader(c.obtainToken("tester"))

	resp := c.post("/v1/ledger/transactions", map[string]any{
		"date":           "2025-12-09",
		"price_per_gram": "2448000",
		"amount_spent":   "10000000",
		"quantity":       "4.08",
	}, hdr)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	// The failed purchase must not have moved any money.
	summary := decode[ledgerSummary](t, c.get("/v1/ledger", nil, hdr))
	requireEqual(t, summary.CashBalance, "950000", "cash after rejected purchase")
	if len(summary.Transactions) != 0 {
		t.Fatalf("expected no transactions, got %d", len(summary.Transactions))
	}
}

func TestLedgerUpdateTransactionAdjustsBalance(t *testing.T) {
	c := newTestAPI(t)
	hdr := bearerHeader(c.obtainToken("tester"))

	created := decode[mutationResponse](t, c.post("/v1/ledger/transactions", map[string]any{
		"date":           "2025-12-09",
		"price_per_gram": "2448000",
		"amount_spent":   "150000",
		"quantity":       "0.0613",
	}, hdr))

	resp := c.do(http.MethodPatch, "/v1/ledger/transactions/"+created.Transaction.ID, map[string]any{
		"fee": "5000",
	}, hdr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status: %d", resp.StatusCode)
	}
	updated := decode[mutationResponse](t, resp)
	requireEqual(t, updated.Transaction.Fee, "5000", "fee after patch")
	// 950000 - 150000 - 5000
	requireEqual(t, updated.Ledger.CashBalance, "795000", "cash after fee patch")

	resp = c.do(http.MethodPatch, "/v1/ledger/transactions/no-such-id", map[string]any{
		"fee": "1",
	}, hdr)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", resp.StatusCode)
	}
}

func TestLedgerPricesAndRecommendation(t *testing.T) {
	c := newTestAPI(t)
	hdr := bearerHeader(c.obtainToken("tester"))

	c.post("/v1/ledger/transactions", map[string]any{
		"date":           "2025-12-09",
		"price_per_gram": "2448000",
		"amount_spent":   "150000",
		"quantity":       "0.0613",
	}, hdr).Body.Close()
	c.post("/v1/ledger/transactions", map[string]any{
		"date":           "2025-12-09",
		"price_per_gram": "2442000",
		"amount_spent":   "200000",
		"quantity":       "0.0819",
	}, hdr).Body.Close()

	// Sell quote above buy quote is rejected.
	resp := c.do(http.MethodPut, "/v1/ledger/prices", map[string]any{
		"buy_price":  "2500000",
		"sell_price": "2600000",
	}, hdr)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted quotes, got %d", resp.StatusCode)
	}

	// Sell quote well above average cost triggers the sell signal.
	resp = c.do(http.MethodPut, "/v1/ledger/prices", map[string]any{
		"buy_price":  "2700000",
		"sell_price": "2600000",
	}, hdr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("prices status: %d", resp.StatusCode)
	}
	priced := decode[mutationResponse](t, resp)
	if priced.Ledger.Recommendation.Signal != metrics.SignalSell {
		t.Fatalf("expected sell signal, got %s", priced.Ledger.Recommendation.Signal)
	}

	// Profit: 2600000 * 0.1432 - 350000
	requireEqual(t, priced.Ledger.CurrentValue, "372320", "current value")
	requireEqual(t, priced.Ledger.ProfitLoss, "22320", "profit")
}

func TestLedgerSellSimulation(t *testing.T) {
	c := newTestAPI(t)
	hdr := bearerHeader(c.obtainToken("tester"))

	// Empty holdings simulate to an empty projection.
	resp := c.post("/v1/ledger/simulations/sell", map[string]any{
		"target_price": "2500000",
	}, hdr)
	projection := decode[metrics.SellProjection](t, resp)
	if !projection.Empty {
		t.Fatal("expected empty projection for empty holdings")
	}

	c.post("/v1/ledger/transactions", map[string]any{
		"date":           "2025-12-09",
		"price_per_gram": "2448000",
		"amount_spent":   "150000",
		"quantity":       "0.0613",
	}, hdr).Body.Close()
	c.post("/v1/ledger/transactions", map[string]any{
		"date":           "2025-12-09",
		"price_per_gram": "2442000",
		"amount_spent":   "200000",
		"quantity":       "0.0819",
	}, hdr).Body.Close()

	resp = c.post("/v1/ledger/simulations/sell", map[string]any{
		"target_price": "2500000",
	}, hdr)
	projection = decode[metrics.SellProjection](t, resp)
	if projection.Empty {
		t.Fatal("expected non-empty projection")
	}
	requireEqual(t, projection.ProjectedValue, "358000", "projected value")
	requireEqual(t, projection.ProjectedProfitLoss, "8000", "projected profit")

	resp = c.post("/v1/ledger/simulations/sell", map[string]any{
		"target_price": "0",
	}, hdr)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero target price, got %d", resp.StatusCode)
	}
}

func TestFeeEstimate(t *testing.T) {
	c := newTestAPI(t)
	hdr := bearerHeader(c.obtainToken("tester"))

	cases := map[string]string{
		"500000":  "5000",
		"1000000": "5000",
		"2000000": "2000",
	}
	for amount, want := range cases {
		resp := c.get("/v1/ledger/fees/estimate", url.Values{"amount": {amount}}, hdr)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("fee estimate %s: status %d", amount, resp.StatusCode)
		}
		payload := decode[map[string]decimal.Decimal](t, resp)
		if !payload["fee"].Equal(decimal.RequireFromString(want)) {
			t.Fatalf("fee for %s: got %s, want %s", amount, payload["fee"], want)
		}
	}

	resp := c.get("/v1/ledger/fees/estimate", url.Values{"amount": {"-5"}}, hdr)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative amount, got %d", resp.StatusCode)
	}
	resp = c.get("/v1/ledger/fees/estimate", nil, hdr)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing amount, got %d", resp.StatusCode)
	}
}

func TestLedgerAddCash(t *testing.T) {
	c := newTestAPI(t)
	hdr := bearerHeader(c.obtainToken("tester"))

	resp := c.post("/v1/ledger/cash", map[string]any{"amount": "250000"}, hdr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add cash status: %d", resp.StatusCode)
	}
	topped := decode[mutationResponse](t, resp)
	requireEqual(t, topped.Ledger.CashBalance, "1200000", "cash after top up")

	resp = c.post("/v1/ledger/cash", map[string]any{"amount": "0"}, hdr)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero amount, got %d", resp.StatusCode)
	}
}

func TestLedgersAreIsolatedPerUser(t *testing.T) {
	c := newTestAPI(t)
	aliceHdr := bearerHeader(c.obtainToken("alice"))
	bobHdr := bearerHeader(c.obtainToken("bob"))

	c.post("/v1/ledger/transactions", map[string]any{
		"date":           "2025-12-09",
		"price_per_gram": "2448000",
		"amount_spent":   "150000",
		"quantity":       "0.0613",
	}, aliceHdr).Body.Close()

	bobSummary := decode[ledgerSummary](t, c.get("/v1/ledger", nil, bobHdr))
	requireEqual(t, bobSummary.CashBalance, "950000", "bob's untouched cash")
	if len(bobSummary.Transactions) != 0 {
		t.Fatalf("expected bob to have no transactions, got %d", len(bobSummary.Transactions))
	}
}

func TestListTransactionsNewestFirst(t *testing.T) {
	c := newTestAPI(t)
	hdr := bearerHeader(c.obtainToken("tester"))

	for _, day := range []string{"2025-12-01", "2025-12-09", "2025-12-05"} {
		c.post("/v1/ledger/transactions", map[string]any{
			"date":           day,
			"price_per_gram": "2448000",
			"amount_spent":   "10000",
			"quantity":       "0.004",
		}, hdr).Body.Close()
	}

	list := decode[listTransactionsResponse](t, c.get("/v1/ledger/transactions", nil, hdr))
	if len(list.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(list.Items))
	}
	want := []string{"2025-12-09", "2025-12-05", "2025-12-01"}
	for i, d := range want {
		if list.Items[i].Date.String() != d {
			t.Fatalf("item %d: got %s, want %s", i, list.Items[i].Date, d)
		}
	}
}

func TestHealthEndpoints(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("unexpected healthz body: %v", body)
	}

	resp = c.get("/readyz", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status: %d", resp.StatusCode)
	}
}
