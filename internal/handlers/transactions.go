package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pointledger/internal/ledger"
)

type debitRequest struct {
	Amount            string          `json:"amount"`
	OperationCategory string          `json:"operation_category"`
	ReferenceID       string          `json:"reference_id"`
	Metadata          json.RawMessage `json:"metadata"`
	Adjustment        bool            `json:"adjustment"`
	Strict            bool            `json:"strict"`
}

func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	var req debitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	result, err := h.service.Debit(r.Context(), ledger.DebitRequest{
		AccountID:         chi.URLParam(r, "id"),
		Amount:            amount,
		OperationCategory: req.OperationCategory,
		ReferenceID:       req.ReferenceID,
		Metadata:          metadataBytes(req.Metadata),
		Adjustment:        req.Adjustment,
		StrictReference:   req.Strict,
	})
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, resultStatus(result), result)
}

type creditRequest struct {
	Amount      string          `json:"amount"`
	Type        string          `json:"type"`
	ReferenceID string          `json:"reference_id"`
	Metadata    json.RawMessage `json:"metadata"`
	Strict      bool            `json:"strict"`
}

func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	txType := ledger.TransactionType(req.Type)
	if txType == "" {
		txType = ledger.TypePurchase
	}
	result, err := h.service.Credit(r.Context(), ledger.CreditRequest{
		AccountID:       chi.URLParam(r, "id"),
		Amount:          amount,
		Type:            txType,
		ReferenceID:     req.ReferenceID,
		Metadata:        metadataBytes(req.Metadata),
		StrictReference: req.Strict,
	})
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, resultStatus(result), result)
}

type reverseRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	var req reverseRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid payload")
			return
		}
	}
	result, err := h.service.Reverse(r.Context(), ledger.ReverseRequest{
		TransactionID: chi.URLParam(r, "id"),
		Actor:         req.Actor,
		Reason:        req.Reason,
	})
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := parseInt(query.Get("page"), 1)
	limit := parseInt(query.Get("limit"), 20)
	offset := (page - 1) * limit
	transactions, err := h.service.ListTransactions(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transactions)
}

// resultStatus is 201 for a new transaction and 200 for a replay.
func resultStatus(result ledger.TransactionResult) int {
	if result.Replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

func metadataBytes(raw json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return trimmed
}

// ListAudit serves the audit trail of the account or transaction named by
// the {id} route parameter.
func (h *Handler) ListAudit(entityType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		page := parseInt(query.Get("page"), 1)
		limit := parseInt(query.Get("limit"), 20)
		logs, err := h.service.ListAudit(r.Context(), entityType, chi.URLParam(r, "id"), limit, (page-1)*limit)
		if err != nil {
			respondLedgerError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, logs)
	}
}
