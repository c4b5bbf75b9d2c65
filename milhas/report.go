/*
report.go - Read-only aggregation views over the Account Store

PURPOSE:
  Produces the summary shapes the backoffice dashboard consumes: grand
  total of miles, totals partitioned by owner and by program, and the
  full account list. These are pure derivations - they never mutate
  state and are recomputed on every call.

DETERMINISM:
  Both partitions are sorted by key so two identical stores always
  produce byte-identical reports.
*/
package milhas

import (
	"context"
	"sort"
)

// OwnerTotal is one row of the by-owner partition.
type OwnerTotal struct {
	Owner string
	Miles int64
}

// ProgramTotal is one row of the by-program partition.
type ProgramTotal struct {
	Program string
	Miles   int64
}

// Summary is the full aggregation snapshot. Partitioned exhaustively:
// the by-owner totals and the by-program totals each sum to TotalBalance.
type Summary struct {
	TotalBalance int64
	AccountCount int
	ByOwner      []OwnerTotal
	ByProgram    []ProgramTotal
	Accounts     []Account
}

// Reporter derives aggregate views from the store. It holds no state of
// its own and is safe for concurrent use alongside writers.
type Reporter struct {
	store Store
}

func NewReporter(store Store) *Reporter {
	return &Reporter{store: store}
}

// TotalBalance sums BalanceMiles over all accounts.
func (r *Reporter) TotalBalance(ctx context.Context) (int64, error) {
	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, a := range accounts {
		total += a.BalanceMiles
	}
	return total, nil
}

// TotalsByOwner sums balances per owner, sorted by owner name.
func (r *Reporter) TotalsByOwner(ctx context.Context) ([]OwnerTotal, error) {
	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return ownerTotals(accounts), nil
}

// TotalsByProgram sums balances per program name, sorted by program name.
func (r *Reporter) TotalsByProgram(ctx context.Context) ([]ProgramTotal, error) {
	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return programTotals(accounts), nil
}

// Summary builds the complete snapshot from a single account listing, so
// the totals and the account list always agree with each other.
func (r *Reporter) Summary(ctx context.Context) (*Summary, error) {
	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, a := range accounts {
		total += a.BalanceMiles
	}

	return &Summary{
		TotalBalance: total,
		AccountCount: len(accounts),
		ByOwner:      ownerTotals(accounts),
		ByProgram:    programTotals(accounts),
		Accounts:     accounts,
	}, nil
}

func ownerTotals(accounts []Account) []OwnerTotal {
	byOwner := make(map[string]int64)
	for _, a := range accounts {
		byOwner[a.Owner] += a.BalanceMiles
	}

	totals := make([]OwnerTotal, 0, len(byOwner))
	for owner, miles := range byOwner {
		totals = append(totals, OwnerTotal{Owner: owner, Miles: miles})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Owner < totals[j].Owner })
	return totals
}

func programTotals(accounts []Account) []ProgramTotal {
	byProgram := make(map[string]int64)
	for _, a := range accounts {
		byProgram[a.ProgramName] += a.BalanceMiles
	}

	totals := make([]ProgramTotal, 0, len(byProgram))
	for program, miles := range byProgram {
		totals = append(totals, ProgramTotal{Program: program, Miles: miles})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Program < totals[j].Program })
	return totals
}
