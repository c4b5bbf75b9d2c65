/*
dto.go - Request and response data structures for the REST API

PURPOSE:
  Defines the JSON shapes exchanged with clients. DTOs are the ONLY place
  where money and averages become float64; everything behind the handlers
  stays decimal.Decimal.

CONVENTIONS:
  - Dates travel as YYYY-MM-DD, timestamps as RFC 3339
  - Monetary fields are rounded before conversion, so the float64 is exact
    for the two or six decimal places it carries
  - Omitted optional fields marshal away via omitempty

SEE ALSO:
  - handlers.go: Where DTOs are produced and consumed
*/
package api

import (
	"time"

	"github.com/viagem/milhas-engine/milhas"
)

// =============================================================================
// REQUESTS
// =============================================================================

// PurchaseRequest records bought miles against a (program, owner) account.
type PurchaseRequest struct {
	ProgramID   string  `json:"program_id"`
	ProgramName string  `json:"program_name"`
	Owner       string  `json:"owner"`
	Miles       int64   `json:"miles"`
	Amount      float64 `json:"amount"`
	Date        string  `json:"date,omitempty"`
	Source      string  `json:"source,omitempty"`
	Note        string  `json:"note,omitempty"`
}

// BonusRequest records zero-cost miles. Account is addressed either by
// account_id or by the (program_id, program_name, owner) triple.
type BonusRequest struct {
	AccountID   string `json:"account_id,omitempty"`
	ProgramID   string `json:"program_id,omitempty"`
	ProgramName string `json:"program_name,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Miles       int64  `json:"miles"`
	Source      string `json:"source"`
	Date        string `json:"date,omitempty"`
	Note        string `json:"note,omitempty"`
}

// SaleRequest records sold miles against an existing account.
type SaleRequest struct {
	AccountID string  `json:"account_id"`
	Miles     int64   `json:"miles"`
	Amount    float64 `json:"amount"`
	Date      string  `json:"date,omitempty"`
	Note      string  `json:"note,omitempty"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type AccountDTO struct {
	ID                 string  `json:"id"`
	ProgramID          string  `json:"program_id"`
	ProgramName        string  `json:"program_name"`
	Owner              string  `json:"owner"`
	BalanceMiles       int64   `json:"balance_miles"`
	CostBasis          float64 `json:"cost_basis"`
	AvgCostPerThousand float64 `json:"avg_cost_per_thousand"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

type TransactionDTO struct {
	ID             string  `json:"id"`
	AccountID      string  `json:"account_id"`
	Type           string  `json:"type"`
	Miles          int64   `json:"miles"`
	Amount         float64 `json:"amount"`
	Source         string  `json:"source,omitempty"`
	Note           string  `json:"note,omitempty"`
	Date           string  `json:"date"`
	CreatedAt      string  `json:"created_at"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}

// RecordResponse is returned by purchase and bonus recordings.
type RecordResponse struct {
	Transaction TransactionDTO `json:"transaction"`
	Account     AccountDTO     `json:"account"`
}

// SaleResponse adds the cost-accounting outcome of a sale.
type SaleResponse struct {
	Transaction TransactionDTO `json:"transaction"`
	Account     AccountDTO     `json:"account"`
	CostRemoved float64        `json:"cost_removed"`
	Profit      float64        `json:"profit"`
}

type OwnerTotalDTO struct {
	Owner string `json:"owner"`
	Miles int64  `json:"miles"`
}

type ProgramTotalDTO struct {
	Program string `json:"program"`
	Miles   int64  `json:"miles"`
}

type SummaryDTO struct {
	TotalBalance int64             `json:"total_balance"`
	AccountCount int               `json:"account_count"`
	ByOwner      []OwnerTotalDTO   `json:"by_owner"`
	ByProgram    []ProgramTotalDTO `json:"by_program"`
	Accounts     []AccountDTO      `json:"accounts"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toAccountDTO(a milhas.Account) AccountDTO {
	return AccountDTO{
		ID:                 string(a.ID),
		ProgramID:          string(a.ProgramID),
		ProgramName:        a.ProgramName,
		Owner:              a.Owner,
		BalanceMiles:       a.BalanceMiles,
		CostBasis:          a.CostBasis.InexactFloat64(),
		AvgCostPerThousand: a.AvgCostPerThousand.InexactFloat64(),
		CreatedAt:          a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          a.UpdatedAt.Format(time.RFC3339),
	}
}

func toAccountDTOs(accounts []milhas.Account) []AccountDTO {
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	return dtos
}

func toTransactionDTO(tx milhas.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:             string(tx.ID),
		AccountID:      string(tx.AccountID),
		Type:           string(tx.Type),
		Miles:          tx.Miles,
		Amount:         tx.Amount.InexactFloat64(),
		Source:         tx.Source,
		Note:           tx.Note,
		Date:           tx.Date.Format("2006-01-02"),
		CreatedAt:      tx.CreatedAt.Format(time.RFC3339),
		IdempotencyKey: tx.IdempotencyKey,
	}
}

func toTransactionDTOs(txs []milhas.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		dtos = append(dtos, toTransactionDTO(tx))
	}
	return dtos
}

func toSummaryDTO(s *milhas.Summary) SummaryDTO {
	byOwner := make([]OwnerTotalDTO, len(s.ByOwner))
	for i, t := range s.ByOwner {
		byOwner[i] = OwnerTotalDTO{Owner: t.Owner, Miles: t.Miles}
	}
	byProgram := make([]ProgramTotalDTO, len(s.ByProgram))
	for i, t := range s.ByProgram {
		byProgram[i] = ProgramTotalDTO{Program: t.Program, Miles: t.Miles}
	}
	return SummaryDTO{
		TotalBalance: s.TotalBalance,
		AccountCount: s.AccountCount,
		ByOwner:      byOwner,
		ByProgram:    byProgram,
		Accounts:     toAccountDTOs(s.Accounts),
	}
}
