/*
handlers.go - HTTP API handlers for the mileage ledger

PURPOSE:
  Exposes the mileage accounting engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the ledger.

ENDPOINTS:
  Transactions:
    POST   /api/transactions/purchase   Record bought miles
    POST   /api/transactions/bonus      Record zero-cost miles
    POST   /api/transactions/sale       Record sold miles

  Accounts:
    GET    /api/accounts                     List all accounts
    GET    /api/accounts/{id}                Get one account
    GET    /api/accounts/{id}/transactions   Transaction history
    GET    /api/owners/{owner}/accounts      Accounts of one owner

  Reporting:
    GET    /api/summary                 Aggregated balances

ERROR HANDLING:
  Domain errors map to HTTP status by errors.Is against the sentinels:
  - 400: validation errors, malformed input
  - 404: account not found
  - 409: duplicate idempotency key
  - 422: insufficient balance
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/viagem/milhas-engine/milhas"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger   *milhas.Ledger
	Reporter *milhas.Reporter
}

// NewHandler creates a new handler over the given ledger and reporter.
func NewHandler(ledger *milhas.Ledger, reporter *milhas.Reporter) *Handler {
	return &Handler{Ledger: ledger, Reporter: reporter}
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// RecordPurchase records bought miles. The account is created on first use.
func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	result, err := h.Ledger.RecordPurchase(r.Context(), milhas.PurchaseCommand{
		ProgramID:      milhas.ProgramID(req.ProgramID),
		ProgramName:    req.ProgramName,
		Owner:          req.Owner,
		Miles:          req.Miles,
		Amount:         decimal.NewFromFloat(req.Amount).Round(milhas.ScaleMonetary),
		Date:           date,
		Source:         req.Source,
		Note:           req.Note,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, RecordResponse{
		Transaction: toTransactionDTO(result.Transaction),
		Account:     toAccountDTO(result.Account),
	})
}

// RecordBonus records zero-cost miles. Dilutes the average cost.
func (h *Handler) RecordBonus(w http.ResponseWriter, r *http.Request) {
	var req BonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	result, err := h.Ledger.RecordBonus(r.Context(), milhas.BonusCommand{
		AccountID:      milhas.AccountID(req.AccountID),
		ProgramID:      milhas.ProgramID(req.ProgramID),
		ProgramName:    req.ProgramName,
		Owner:          req.Owner,
		Miles:          req.Miles,
		Source:         req.Source,
		Date:           date,
		Note:           req.Note,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, RecordResponse{
		Transaction: toTransactionDTO(result.Transaction),
		Account:     toAccountDTO(result.Account),
	})
}

// RecordSale records sold miles and returns the realized profit.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	result, err := h.Ledger.RecordSale(r.Context(), milhas.SaleCommand{
		AccountID:      milhas.AccountID(req.AccountID),
		Miles:          req.Miles,
		Amount:         decimal.NewFromFloat(req.Amount).Round(milhas.ScaleMonetary),
		Date:           date,
		Note:           req.Note,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, SaleResponse{
		Transaction: toTransactionDTO(result.Transaction),
		Account:     toAccountDTO(result.Account),
		CostRemoved: result.CostRemoved.InexactFloat64(),
		Profit:      result.Profit.InexactFloat64(),
	})
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts ordered by program name, then owner.
// An optional ?owner= query narrows the list to one owner.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	var (
		accounts []milhas.Account
		err      error
	)
	if owner := r.URL.Query().Get("owner"); owner != "" {
		accounts, err = h.Ledger.AccountsByOwner(r.Context(), owner)
	} else {
		accounts, err = h.Ledger.Accounts(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTOs(accounts))
}

// GetAccount returns a single account with its current balance and cost.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := milhas.AccountID(chi.URLParam(r, "id"))

	account, err := h.Ledger.Account(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// ListOwnerAccounts returns all accounts held by one owner.
func (h *Handler) ListOwnerAccounts(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	accounts, err := h.Ledger.AccountsByOwner(r.Context(), owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTOs(accounts))
}

// GetTransactions returns the transaction history for an account, oldest
// first. Optional filters: ?from=&to= (YYYY-MM-DD) or ?type=.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := milhas.AccountID(chi.URLParam(r, "id"))

	// Existence check so a bad id is a 404, not an empty list.
	if _, err := h.Ledger.Account(ctx, id); err != nil {
		writeDomainError(w, err)
		return
	}

	var (
		txs []milhas.Transaction
		err error
	)

	switch {
	case r.URL.Query().Get("from") != "" || r.URL.Query().Get("to") != "":
		var from, to time.Time
		if from, err = parseDate(r.URL.Query().Get("from")); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
			return
		}
		if to, err = parseDate(r.URL.Query().Get("to")); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
			return
		}
		txs, err = h.Ledger.TransactionsInRange(ctx, id, from, to)
	case r.URL.Query().Get("type") != "":
		txs, err = h.Ledger.TransactionsByType(ctx, id, milhas.TransactionType(r.URL.Query().Get("type")))
	default:
		txs, err = h.Ledger.Transactions(ctx, id)
	}

	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// REPORTING HANDLERS
// =============================================================================

// GetSummary returns total balance, per-owner and per-program partitions,
// and the full account list in one payload.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Reporter.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps ledger errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, milhas.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "Account not found", err)
	case errors.Is(err, milhas.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusConflict, "Duplicate idempotency key", err)
	case errors.Is(err, milhas.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, "Insufficient balance", err)
	case errors.Is(err, milhas.ErrValidation):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

// parseDate accepts an optional YYYY-MM-DD string. Empty means "now", which
// the ledger resolves to the current day.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}
