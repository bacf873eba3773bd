package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/syakrisajalah/emasku/internal/audit"
	"github.com/syakrisajalah/emasku/internal/config"
	"github.com/syakrisajalah/emasku/internal/ledger"
	"github.com/syakrisajalah/emasku/internal/obs"
)

// ReadyProbe reports whether the backing repository is reachable.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP presentation layer over the ledger core. It keeps one
// ledger store per authenticated user, created lazily on first request.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	repo       ledger.Repository
	cfg        config.Config

	mu     sync.Mutex
	stores map[string]*ledger.Store

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, repo ledger.Repository, cfg config.Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		repo:       repo,
		cfg:        cfg,
		stores:     make(map[string]*ledger.Store),
		rateBurst:  cfg.RateBurst,
		ratePerSec: cfg.RatePerSec,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/ledger", a.handleLedger)
	a.mux.HandleFunc("/v1/ledger/transactions", a.handleTransactionsCollection)
	a.mux.HandleFunc("/v1/ledger/transactions/", a.handleTransactionResource)
	a.mux.HandleFunc("/v1/ledger/cash", a.handleCash)
	a.mux.HandleFunc("/v1/ledger/prices", a.handlePrices)
	a.mux.HandleFunc("/v1/ledger/simulations/sell", a.handleSellSimulation)
	a.mux.HandleFunc("/v1/ledger/fees/estimate", a.handleFeeEstimate)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// store returns the ledger store for the authenticated user, opening it on
// first use.
func (a *API) store(ctx context.Context, userID string) (*ledger.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.stores[userID]; ok {
		return s, nil
	}
	s, err := ledger.Open(ctx, a.repo, userID, a.cfg.StartingCash)
	if err != nil {
		return nil, err
	}
	a.stores[userID] = s
	return s, nil
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "emasku-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "emasku-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *ledger.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, r, http.StatusBadRequest, ve.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		// Repository failure. The snapshot was not touched; report a
		// generic notice and keep serving.
		writeError(w, r, http.StatusBadGateway, "ledger storage failed")
	}
}

func opResult(err error) string {
	var ve *ledger.ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "validation_error"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	default:
		return "repository_error"
	}
}
