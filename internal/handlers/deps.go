package handlers

import (
	"context"
	"time"

	"pointledger/internal/ledger"
	"pointledger/internal/points"
)

// LedgerService is the subset of *ledger.Service the HTTP layer calls.
type LedgerService interface {
	OpenAccount(ctx context.Context, req ledger.OpenAccountRequest) (ledger.Account, bool, error)
	GetAccount(ctx context.Context, accountID string) (ledger.Account, error)
	UpdateSettings(ctx context.Context, req ledger.SettingsRequest) (ledger.Account, error)
	GetBalance(ctx context.Context, accountID string) (points.Amount, error)
	GetUsage(ctx context.Context, accountID, periodType string, from, to time.Time) (ledger.UsageTotals, error)
	Debit(ctx context.Context, req ledger.DebitRequest) (ledger.TransactionResult, error)
	Credit(ctx context.Context, req ledger.CreditRequest) (ledger.TransactionResult, error)
	Reverse(ctx context.Context, req ledger.ReverseRequest) (ledger.ReversalResult, error)
	ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]ledger.Transaction, error)
	VerifyChain(ctx context.Context, accountID string) (ledger.ChainReport, error)
	ListAudit(ctx context.Context, entityType, entityID string, limit, offset int) ([]map[string]any, error)
}
