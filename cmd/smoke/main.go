// Command smoke exercises a running emasku API end to end: it issues a token,
// records a purchase, sets quotes and checks that the reported summary adds up.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

func main() {
	base := os.Getenv("EMASKU_SMOKE_ADDR")
	if base == "" {
		base = "http://localhost:8080"
	}
	user := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	client := &http.Client{Timeout: 5 * time.Second}

	var tokenResp struct {
		Token string `json:"token"`
	}
	call(client, http.MethodPost, base+"/v1/auth/token", "",
		map[string]any{"user": user}, &tokenResp)
	if tokenResp.Token == "" {
		log.Fatal("no token issued")
	}

	var created struct {
		Ledger struct {
			CashBalance decimal.Decimal `json:"cash_balance"`
		} `json:"ledger"`
	}
	call(client, http.MethodPost, base+"/v1/ledger/transactions", tokenResp.Token, map[string]any{
		"date":           time.Now().UTC().Format("2006-01-02"),
		"price_per_gram": "2448000",
		"amount_spent":   "150000",
		"quantity":       "0.0613",
	}, &created)
	if !created.Ledger.CashBalance.Equal(decimal.NewFromInt(800000)) {
		log.Fatalf("cash after purchase: got %s, want 800000", created.Ledger.CashBalance)
	}

	call(client, http.MethodPut, base+"/v1/ledger/prices", tokenResp.Token, map[string]any{
		"buy_price":  "2500000",
		"sell_price": "2450000",
	}, nil)

	var summary struct {
		TotalQuantity decimal.Decimal `json:"total_quantity"`
		CurrentValue  decimal.Decimal `json:"current_value"`
		ProfitLoss    decimal.Decimal `json:"profit_loss"`
	}
	call(client, http.MethodGet, base+"/v1/ledger", tokenResp.Token, nil, &summary)
	if !summary.TotalQuantity.Equal(decimal.RequireFromString("0.0613")) {
		log.Fatalf("total quantity: got %s", summary.TotalQuantity)
	}
	wantValue := decimal.RequireFromString("0.0613").Mul(decimal.NewFromInt(2450000))
	if !summary.CurrentValue.Equal(wantValue) {
		log.Fatalf("current value: got %s, want %s", summary.CurrentValue, wantValue)
	}
	if !summary.ProfitLoss.Equal(wantValue.Sub(decimal.NewFromInt(150000))) {
		log.Fatalf("profit: got %s", summary.ProfitLoss)
	}

	fmt.Printf("✅ emasku smoke test passed: user=%s value=%s\n", user, summary.CurrentValue)
}

func call(client *http.Client, method, url, token string, body, out any) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal %s body: %v", url, err)
		}
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("new request %s: %v", url, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Fatalf("%s %s: status %d", method, url, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("decode %s response: %v", url, err)
		}
	}
}
