package handlers

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"pointledger/internal/config"
	"pointledger/internal/ledger"
	"pointledger/internal/points"
	"pointledger/internal/websocket"
)

type stubService struct {
	openFn     func(ctx context.Context, req ledger.OpenAccountRequest) (ledger.Account, bool, error)
	getFn      func(ctx context.Context, accountID string) (ledger.Account, error)
	settingsFn func(ctx context.Context, req ledger.SettingsRequest) (ledger.Account, error)
	balanceFn  func(ctx context.Context, accountID string) (points.Amount, error)
	usageFn    func(ctx context.Context, accountID, periodType string, from, to time.Time) (ledger.UsageTotals, error)
	debitFn    func(ctx context.Context, req ledger.DebitRequest) (ledger.TransactionResult, error)
	creditFn   func(ctx context.Context, req ledger.CreditRequest) (ledger.TransactionResult, error)
	reverseFn  func(ctx context.Context, req ledger.ReverseRequest) (ledger.ReversalResult, error)
	listFn     func(ctx context.Context, accountID string, limit, offset int) ([]ledger.Transaction, error)
	verifyFn   func(ctx context.Context, accountID string) (ledger.ChainReport, error)
	auditFn    func(ctx context.Context, entityType, entityID string, limit, offset int) ([]map[string]any, error)
}

func (s stubService) OpenAccount(ctx context.Context, req ledger.OpenAccountRequest) (ledger.Account, bool, error) {
	if s.openFn == nil {
		return ledger.Account{}, true, nil
	}
	return s.openFn(ctx, req)
}

func (s stubService) GetAccount(ctx context.Context, accountID string) (ledger.Account, error) {
	if s.getFn == nil {
		return ledger.Account{ID: accountID}, nil
	}
	return s.getFn(ctx, accountID)
}

func (s stubService) UpdateSettings(ctx context.Context, req ledger.SettingsRequest) (ledger.Account, error) {
	if s.settingsFn == nil {
		return ledger.Account{ID: req.AccountID}, nil
	}
	return s.settingsFn(ctx, req)
}

func (s stubService) GetBalance(ctx context.Context, accountID string) (points.Amount, error) {
	if s.balanceFn == nil {
		return 0, nil
	}
	return s.balanceFn(ctx, accountID)
}

func (s stubService) GetUsage(ctx context.Context, accountID, periodType string, from, to time.Time) (ledger.UsageTotals, error) {
	if s.usageFn == nil {
		return ledger.UsageTotals{}, nil
	}
	return s.usageFn(ctx, accountID, periodType, from, to)
}

func (s stubService) Debit(ctx context.Context, req ledger.DebitRequest) (ledger.TransactionResult, error) {
	if s.debitFn == nil {
		return ledger.TransactionResult{}, nil
	}
	return s.debitFn(ctx, req)
}

func (s stubService) Credit(ctx context.Context, req ledger.CreditRequest) (ledger.TransactionResult, error) {
	if s.creditFn == nil {
		return ledger.TransactionResult{}, nil
	}
	return s.creditFn(ctx, req)
}

func (s stubService) Reverse(ctx context.Context, req ledger.ReverseRequest) (ledger.ReversalResult, error) {
	if s.reverseFn == nil {
		return ledger.ReversalResult{}, nil
	}
	return s.reverseFn(ctx, req)
}

func (s stubService) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]ledger.Transaction, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, accountID, limit, offset)
}

func (s stubService) VerifyChain(ctx context.Context, accountID string) (ledger.ChainReport, error) {
	if s.verifyFn == nil {
		return ledger.ChainReport{}, nil
	}
	return s.verifyFn(ctx, accountID)
}

func (s stubService) ListAudit(ctx context.Context, entityType, entityID string, limit, offset int) ([]map[string]any, error) {
	if s.auditFn == nil {
		return nil, nil
	}
	return s.auditFn(ctx, entityType, entityID, limit, offset)
}

func newTestHandler(service LedgerService) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		AllowedOrigins: "*",
		Location:       time.UTC,
	}
	h := New(cfg, service, websocket.NewHub(), nil, nil)
	h.now = func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }
	return h
}

func serve(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}
