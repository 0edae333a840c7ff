package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pointledger/internal/ledger"
	"pointledger/internal/points"
)

func TestOpenAccount(t *testing.T) {
	var got ledger.OpenAccountRequest
	created := true
	h := newTestHandler(stubService{
		openFn: func(_ context.Context, req ledger.OpenAccountRequest) (ledger.Account, bool, error) {
			got = req
			return ledger.Account{ID: "acc-1", UserID: req.UserID, CurrentPoints: req.InitialPoints}, created, nil
		},
	})

	rr := serve(t, h, http.MethodPost, "/accounts", `{"user_id":"u-1","initial_points":"100","daily_limit":"150.00","notifications_enabled":false}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "u-1", got.UserID)
	assert.EqualValues(t, 10000, got.InitialPoints)
	require.NotNil(t, got.DailyLimit)
	assert.EqualValues(t, 15000, *got.DailyLimit)
	assert.Nil(t, got.MonthlyLimit)
	require.NotNil(t, got.NotificationsEnabled)
	assert.False(t, *got.NotificationsEnabled)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&payload))
	assert.Equal(t, "100.00", payload["current_points"])

	created = false
	rr = serve(t, h, http.MethodPost, "/accounts", `{"user_id":"u-1"}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, h, http.MethodPost, "/accounts", `{"user_id":"u-1","monthly_limit":"-5"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetAccountNotFound(t *testing.T) {
	h := newTestHandler(stubService{
		getFn: func(context.Context, string) (ledger.Account, error) {
			return ledger.Account{}, ledger.ErrAccountNotFound
		},
	})
	rr := serve(t, h, http.MethodGet, "/accounts/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdateSettings(t *testing.T) {
	var got ledger.SettingsRequest
	h := newTestHandler(stubService{
		settingsFn: func(_ context.Context, req ledger.SettingsRequest) (ledger.Account, error) {
			got = req
			return ledger.Account{ID: req.AccountID}, nil
		},
	})
	rr := serve(t, h, http.MethodPut, "/accounts/acc-1/settings",
		`{"monthly_limit":"1000","low_balance_threshold":"20.50","notifications_enabled":true,"actor":"admin"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "acc-1", got.AccountID)
	assert.Nil(t, got.DailyLimit)
	require.NotNil(t, got.MonthlyLimit)
	assert.EqualValues(t, 100000, *got.MonthlyLimit)
	assert.EqualValues(t, 2050, got.LowBalanceThreshold)
	assert.True(t, got.NotificationsEnabled)
	assert.Equal(t, "admin", got.Actor)
}

func TestGetBalance(t *testing.T) {
	h := newTestHandler(stubService{
		balanceFn: func(_ context.Context, accountID string) (points.Amount, error) {
			if accountID != "acc-1" {
				return 0, ledger.ErrAccountNotFound
			}
			return 4000, nil
		},
	})
	rr := serve(t, h, http.MethodGet, "/accounts/acc-1/balance", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"account_id":"acc-1","balance":"40.00"}`, rr.Body.String())

	rr = serve(t, h, http.MethodGet, "/accounts/acc-2/balance", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetUsageDefaultsToToday(t *testing.T) {
	var from, to time.Time
	var period string
	h := newTestHandler(stubService{
		usageFn: func(_ context.Context, _ string, p string, f, tt time.Time) (ledger.UsageTotals, error) {
			period, from, to = p, f, tt
			return ledger.UsageTotals{TotalPoints: 11000}, nil
		},
	})
	rr := serve(t, h, http.MethodGet, "/accounts/acc-1/usage", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "", period)
	assert.Equal(t, "2026-03-04", from.Format(time.DateOnly))
	assert.Equal(t, "2026-03-04", to.Format(time.DateOnly))

	rr = serve(t, h, http.MethodGet, "/accounts/acc-1/usage?period=daily&from=2026-03-01&to=2026-03-31", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "daily", period)
	assert.Equal(t, "2026-03-01", from.Format(time.DateOnly))
	assert.Equal(t, "2026-03-31", to.Format(time.DateOnly))

	rr = serve(t, h, http.MethodGet, "/accounts/acc-1/usage?from=03/01/2026", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestVerifyChain(t *testing.T) {
	h := newTestHandler(stubService{
		verifyFn: func(_ context.Context, accountID string) (ledger.ChainReport, error) {
			return ledger.ChainReport{AccountID: accountID, Consistent: true, Transactions: 3}, nil
		},
	})
	rr := serve(t, h, http.MethodGet, "/accounts/acc-1/verify", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var payload map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&payload))
	assert.Equal(t, true, payload["consistent"])
	assert.EqualValues(t, 3, payload["transactions"])
}

func TestHealthAndRequestID(t *testing.T) {
	h := newTestHandler(stubService{})
	rr := serve(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestWSAccountUnknownAccount(t *testing.T) {
	h := newTestHandler(stubService{
		getFn: func(context.Context, string) (ledger.Account, error) {
			return ledger.Account{}, ledger.ErrAccountNotFound
		},
	})
	rr := serve(t, h, http.MethodGet, "/ws/accounts/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
