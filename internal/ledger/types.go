package ledger

import (
	"encoding/json"
	"strings"
	"time"

	"pointledger/internal/points"
	"pointledger/internal/store"
)

type TransactionType string

const (
	TypePurchase   TransactionType = "purchase"
	TypeDebit      TransactionType = "debit"
	TypeRefund     TransactionType = "refund"
	TypeAdjustment TransactionType = "adjustment"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypePurchase, TypeDebit, TypeRefund, TypeAdjustment:
		return true
	}
	return false
}

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

func (d Direction) opposite() Direction {
	if d == DirectionCredit {
		return DirectionDebit
	}
	return DirectionCredit
}

// signed applies the direction to an absolute amount.
func (d Direction) signed(amount points.Amount) points.Amount {
	if d == DirectionDebit {
		return amount.Neg()
	}
	return amount
}

type Status string

const (
	StatusCompleted Status = "completed"
	StatusReversed  Status = "reversed"
	StatusFailed    Status = "failed"
)

// Known operation categories. Any other non-empty tag is accepted and only
// counted toward combined usage totals.
const (
	CategoryCrawling = "crawling"
	CategoryNLP      = "nlp"
	CategoryImage    = "image"
	CategoryExport   = "export"
)

func normalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

type Account struct {
	ID                   string         `json:"id"`
	UserID               string         `json:"user_id"`
	InitialPoints        points.Amount  `json:"initial_points"`
	CurrentPoints        points.Amount  `json:"current_points"`
	TotalSpent           points.Amount  `json:"total_spent"`
	TotalPurchased       points.Amount  `json:"total_purchased"`
	DailyLimit           *points.Amount `json:"daily_limit"`
	MonthlyLimit         *points.Amount `json:"monthly_limit"`
	LowBalanceThreshold  points.Amount  `json:"low_balance_threshold"`
	NotificationsEnabled bool           `json:"notifications_enabled"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

func accountFromRow(row store.Account) Account {
	return Account{
		ID:                   row.ID,
		UserID:               row.UserID,
		InitialPoints:        row.InitialPoints,
		CurrentPoints:        row.CurrentPoints,
		TotalSpent:           row.TotalSpent,
		TotalPurchased:       row.TotalPurchased,
		DailyLimit:           row.DailyLimit,
		MonthlyLimit:         row.MonthlyLimit,
		LowBalanceThreshold:  row.LowBalanceThreshold,
		NotificationsEnabled: row.NotificationsEnabled,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}
}

type Transaction struct {
	ID                string          `json:"id"`
	AccountID         string          `json:"account_id"`
	Type              TransactionType `json:"type"`
	Direction         Direction       `json:"direction"`
	OperationCategory string          `json:"operation_category,omitempty"`
	Amount            points.Amount   `json:"amount"`
	BalanceAfter      points.Amount   `json:"balance_after"`
	ReferenceID       *string         `json:"reference_id,omitempty"`
	ReversalOf        *string         `json:"reversal_of,omitempty"`
	Status            Status          `json:"status"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	ProcessedAt       time.Time       `json:"processed_at"`
}

// SignedAmount is positive for credits and negative for debits.
func (t Transaction) SignedAmount() points.Amount {
	return t.Direction.signed(t.Amount)
}

func transactionFromRow(row store.Transaction) Transaction {
	tx := Transaction{
		ID:                row.ID,
		AccountID:         row.AccountID,
		Type:              TransactionType(row.Type),
		Direction:         Direction(row.Direction),
		OperationCategory: row.OperationCategory,
		Amount:            row.Amount,
		BalanceAfter:      row.BalanceAfter,
		ReferenceID:       row.ReferenceID,
		ReversalOf:        row.ReversalOf,
		Status:            Status(row.Status),
		ProcessedAt:       row.ProcessedAt,
	}
	if len(row.Metadata) > 0 {
		tx.Metadata = json.RawMessage(row.Metadata)
	}
	return tx
}

// TransactionResult is what Debit and Credit return, both for a fresh commit
// and for an idempotent replay.
type TransactionResult struct {
	TransactionID string        `json:"transaction_id"`
	AccountID     string        `json:"account_id"`
	Type          string        `json:"type"`
	Amount        points.Amount `json:"amount"`
	BalanceAfter  points.Amount `json:"balance_after"`
	Status        Status        `json:"status"`
	ReferenceID   *string       `json:"reference_id,omitempty"`
	ProcessedAt   time.Time     `json:"processed_at"`
	Replayed      bool          `json:"replayed"`
}

func resultFromRow(row store.Transaction, replayed bool) TransactionResult {
	return TransactionResult{
		TransactionID: row.ID,
		AccountID:     row.AccountID,
		Type:          row.Type,
		Amount:        row.Amount,
		BalanceAfter:  row.BalanceAfter,
		Status:        Status(row.Status),
		ReferenceID:   row.ReferenceID,
		ProcessedAt:   row.ProcessedAt,
		Replayed:      replayed,
	}
}

type DebitRequest struct {
	AccountID         string
	Amount            points.Amount
	OperationCategory string
	ReferenceID       string
	Metadata          []byte
	// Adjustment records the debit as an administrative adjustment. It may
	// drive the balance negative, skips limit checks and is not usage.
	Adjustment bool
	// StrictReference fails with ErrDuplicateReference instead of replaying.
	StrictReference bool
}

type CreditRequest struct {
	AccountID       string
	Amount          points.Amount
	Type            TransactionType
	ReferenceID     string
	Metadata        []byte
	StrictReference bool
}

type ReverseRequest struct {
	TransactionID string
	Actor         string
	Reason        string
}

type ReversalResult struct {
	NewTransactionID      string        `json:"new_transaction_id"`
	ReversedTransactionID string        `json:"reversed_transaction_id"`
	Type                  string        `json:"type"`
	BalanceAfter          points.Amount `json:"balance_after"`
}

type OpenAccountRequest struct {
	UserID               string
	InitialPoints        points.Amount
	DailyLimit           *points.Amount
	MonthlyLimit         *points.Amount
	LowBalanceThreshold  points.Amount
	NotificationsEnabled *bool
}

type SettingsRequest struct {
	AccountID            string
	DailyLimit           *points.Amount
	MonthlyLimit         *points.Amount
	LowBalanceThreshold  points.Amount
	NotificationsEnabled bool
	Actor                string
}

type CategoryUsage struct {
	Operations int64         `json:"operations"`
	Points     points.Amount `json:"points"`
}

// UsageTotals aggregates daily usage records over an inclusive date range.
type UsageTotals struct {
	AccountID       string                   `json:"account_id"`
	PeriodType      string                   `json:"period_type"`
	From            string                   `json:"from"`
	To              string                   `json:"to"`
	Categories      map[string]CategoryUsage `json:"categories"`
	TotalOperations int64                    `json:"total_operations"`
	TotalPoints     points.Amount            `json:"total_points"`
	PeakUsageHour   *int                     `json:"peak_usage_hour"`
	Periods         int                      `json:"periods"`
}

// ChainReport is the result of replaying an account's transaction log.
type ChainReport struct {
	AccountID       string        `json:"account_id"`
	InitialPoints   points.Amount `json:"initial_points"`
	ReplayedBalance points.Amount `json:"replayed_balance"`
	CurrentPoints   points.Amount `json:"current_points"`
	Transactions    int           `json:"transactions"`
	Consistent      bool          `json:"consistent"`
	FirstMismatchID string        `json:"first_mismatch_id,omitempty"`
}
