package ledger

import (
	"context"
	"errors"
	"fmt"

	"pointledger/internal/points"
)

var (
	// Validation errors, returned before the account is locked.
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
	ErrInvalidCategory     = errors.New("ledger: invalid operation category")
	ErrInvalidType         = errors.New("ledger: invalid transaction type")
	ErrInvalidPeriod       = errors.New("ledger: invalid usage period")
	ErrInvalidUser         = errors.New("ledger: invalid user id")
	ErrInvalidMetadata     = errors.New("ledger: metadata is not valid JSON")
	ErrAccountNotFound     = errors.New("ledger: account not found")
	ErrTransactionNotFound = errors.New("ledger: transaction not found")

	// Rejections detected inside the atomic scope.
	ErrInsufficientBalance  = errors.New("ledger: insufficient balance")
	ErrDailyLimitExceeded   = errors.New("ledger: daily limit exceeded")
	ErrMonthlyLimitExceeded = errors.New("ledger: monthly limit exceeded")
	ErrDuplicateReference   = errors.New("ledger: duplicate reference id")
	ErrReversalNotAllowed   = errors.New("ledger: reversal not allowed")

	ErrConcurrencyConflict = errors.New("ledger: concurrency conflict")
	ErrUnavailable         = errors.New("ledger: storage unavailable")
)

type LimitReason string

const (
	LimitDaily   LimitReason = "daily"
	LimitMonthly LimitReason = "monthly"
)

// LimitError is a policy rejection from the limit enforcer.
type LimitError struct {
	Reason    LimitReason
	Limit     points.Amount
	Used      points.Amount
	Requested points.Amount
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("ledger: %s limit exceeded: used %s + requested %s > limit %s",
		e.Reason, e.Used, e.Requested, e.Limit)
}

func (e *LimitError) Is(target error) bool {
	switch e.Reason {
	case LimitDaily:
		return target == ErrDailyLimitExceeded
	case LimitMonthly:
		return target == ErrMonthlyLimitExceeded
	}
	return false
}

// IsRetryable reports errors after which the same request may be sent again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrUnavailable)
}

// IsLimitError reports a daily or monthly policy rejection.
func IsLimitError(err error) bool {
	return errors.Is(err, ErrDailyLimitExceeded) || errors.Is(err, ErrMonthlyLimitExceeded)
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidCategory), errors.Is(err, ErrInvalidType), errors.Is(err, ErrInvalidPeriod), errors.Is(err, ErrInvalidUser), errors.Is(err, ErrInvalidMetadata):
		return "invalid_request"
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrTransactionNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrDailyLimitExceeded):
		return "daily_limit"
	case errors.Is(err, ErrMonthlyLimitExceeded):
		return "monthly_limit"
	case errors.Is(err, ErrDuplicateReference):
		return "duplicate_reference"
	case errors.Is(err, ErrReversalNotAllowed):
		return "reversal_not_allowed"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "unavailable"
	}
}
