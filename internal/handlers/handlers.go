package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"pointledger/internal/ledger"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{ledger.ErrInvalidCategory, http.StatusBadRequest, "invalid_category"},
	{ledger.ErrInvalidType, http.StatusBadRequest, "invalid_type"},
	{ledger.ErrInvalidPeriod, http.StatusBadRequest, "invalid_period"},
	{ledger.ErrInvalidUser, http.StatusBadRequest, "invalid_user"},
	{ledger.ErrInvalidMetadata, http.StatusBadRequest, "invalid_metadata"},
	{ledger.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
	{ledger.ErrTransactionNotFound, http.StatusNotFound, "transaction_not_found"},
	{ledger.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{ledger.ErrDuplicateReference, http.StatusConflict, "duplicate_reference"},
	{ledger.ErrReversalNotAllowed, http.StatusConflict, "reversal_not_allowed"},
	{ledger.ErrConcurrencyConflict, http.StatusConflict, "concurrency_conflict"},
	{ledger.ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
}

// respondLedgerError maps a ledger error onto a status and a stable code.
// Limit rejections carry the limit, usage and requested amount.
func respondLedgerError(w http.ResponseWriter, err error) {
	var limitErr *ledger.LimitError
	if errors.As(err, &limitErr) {
		code := "daily_limit_exceeded"
		if limitErr.Reason == ledger.LimitMonthly {
			code = "monthly_limit_exceeded"
		}
		respondJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":     code,
			"limit":     limitErr.Limit.String(),
			"used":      limitErr.Used.String(),
			"requested": limitErr.Requested.String(),
		})
		return
	}
	for _, entry := range errorStatus {
		if errors.Is(err, entry.err) {
			if ledger.IsRetryable(err) {
				w.Header().Set("Retry-After", "1")
			}
			respondError(w, entry.status, entry.code)
			return
		}
	}
	respondError(w, http.StatusInternalServerError, "internal_error")
}
