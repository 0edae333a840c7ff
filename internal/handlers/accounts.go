package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pointledger/internal/ledger"
	"pointledger/internal/points"
)

type openAccountRequest struct {
	UserID               string  `json:"user_id"`
	InitialPoints        string  `json:"initial_points"`
	DailyLimit           *string `json:"daily_limit"`
	MonthlyLimit         *string `json:"monthly_limit"`
	LowBalanceThreshold  string  `json:"low_balance_threshold"`
	NotificationsEnabled *bool   `json:"notifications_enabled"`
}

func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	initial, err := parseNonNegative(req.InitialPoints)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	threshold, err := parseNonNegative(req.LowBalanceThreshold)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	daily, err := parseOptionalAmount(req.DailyLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	monthly, err := parseOptionalAmount(req.MonthlyLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	account, created, err := h.service.OpenAccount(r.Context(), ledger.OpenAccountRequest{
		UserID:               req.UserID,
		InitialPoints:        initial,
		DailyLimit:           daily,
		MonthlyLimit:         monthly,
		LowBalanceThreshold:  threshold,
		NotificationsEnabled: req.NotificationsEnabled,
	})
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, account)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, account)
}

type settingsRequest struct {
	DailyLimit           *string `json:"daily_limit"`
	MonthlyLimit         *string `json:"monthly_limit"`
	LowBalanceThreshold  string  `json:"low_balance_threshold"`
	NotificationsEnabled bool    `json:"notifications_enabled"`
	Actor                string  `json:"actor"`
}

// UpdateSettings replaces every setting. A missing limit means unlimited.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	daily, err := parseOptionalAmount(req.DailyLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	monthly, err := parseOptionalAmount(req.MonthlyLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	threshold, err := parseNonNegative(req.LowBalanceThreshold)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	account, err := h.service.UpdateSettings(r.Context(), ledger.SettingsRequest{
		AccountID:            chi.URLParam(r, "id"),
		DailyLimit:           daily,
		MonthlyLimit:         monthly,
		LowBalanceThreshold:  threshold,
		NotificationsEnabled: req.NotificationsEnabled,
		Actor:                req.Actor,
	})
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, account)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	balance, err := h.service.GetBalance(r.Context(), accountID)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"balance":    balance,
	})
}

// GetUsage defaults both ends of the range to today in the ledger zone.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	today := h.now().In(h.cfg.Location)
	from, err := parseDate(query.Get("from"), today, h.cfg.Location)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_date")
		return
	}
	to, err := parseDate(query.Get("to"), today, h.cfg.Location)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_date")
		return
	}
	totals, err := h.service.GetUsage(r.Context(), chi.URLParam(r, "id"), query.Get("period"), from, to)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, totals)
}

// VerifyChain is the per-account self check: it replays the transaction log
// and compares it with the stored balance.
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.VerifyChain(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func parseNonNegative(raw string) (points.Amount, error) {
	amount, err := parseOptionalAmount(&raw)
	if err != nil {
		return 0, err
	}
	if amount == nil {
		return 0, nil
	}
	return *amount, nil
}
