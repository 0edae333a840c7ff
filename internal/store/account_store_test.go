package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"pointledger/internal/points"
)

func TestAccountStoreCreate(t *testing.T) {
	ctx := context.Background()
	limit := points.Amount(15000)
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO point_accounts") || !strings.Contains(query, "ON CONFLICT (user_id) DO NOTHING") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 7 {
				t.Fatalf("expected 7 args, got %d", len(args))
			}
			if args[0] != "acc-1" || args[1] != "user-1" || args[2] != points.Amount(10000) || args[6] != true {
				t.Fatalf("unexpected args: %#v", args)
			}
			if ptr, ok := args[3].(*points.Amount); !ok || *ptr != limit {
				t.Fatalf("unexpected daily limit arg: %#v", args[3])
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewAccountStore(stubDB{})
	rows, err := store.Create(ctx, execer, AccountInput{
		ID:                   "acc-1",
		UserID:               "user-1",
		InitialPoints:        10000,
		DailyLimit:           &limit,
		NotificationsEnabled: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected 1 row, got %d", rows)
	}
}

func TestAccountStoreGetByIDNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(stubDB{
		getFn: func(_ context.Context, _ any, query string, args ...any) error {
			if !strings.Contains(query, "FROM point_accounts") || !strings.Contains(query, "WHERE id = $1") {
				t.Fatalf("unexpected query: %s", query)
			}
			return sql.ErrNoRows
		},
	})
	_, err := store.GetByID(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountStoreGetByUserID(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "WHERE user_id = $1") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 1 || args[0] != "user-1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*Account) = Account{ID: "acc-1", UserID: "user-1", CurrentPoints: 500}
			return nil
		},
	})
	row, err := store.GetByUserID(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.ID != "acc-1" || row.CurrentPoints != 500 {
		t.Fatalf("unexpected row: %#v", row)
	}
}

func TestAccountStoreGetForUpdate(t *testing.T) {
	ctx := context.Background()
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FOR UPDATE") {
				t.Fatalf("expected row lock, got: %s", query)
			}
			*dest.(*Account) = Account{ID: "acc-1"}
			return nil
		},
	}
	store := NewAccountStore(stubDB{})
	row, err := store.GetForUpdate(ctx, getter, "acc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.ID != "acc-1" {
		t.Fatalf("unexpected row: %#v", row)
	}
}

func TestAccountStoreApplyBalance(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "total_spent = total_spent + $2") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 4 || args[0] != points.Amount(4000) || args[1] != points.Amount(6000) || args[2] != points.Amount(0) || args[3] != "acc-1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewAccountStore(stubDB{})
	err := store.ApplyBalance(ctx, execer, BalanceUpdate{AccountID: "acc-1", Balance: 4000, SpentDelta: 6000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAccountStoreApplyBalanceMissingAccount(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(context.Context, string, ...any) (sql.Result, error) {
			return stubResult{rows: 0}, nil
		},
	}
	store := NewAccountStore(stubDB{})
	err := store.ApplyBalance(ctx, execer, BalanceUpdate{AccountID: "acc-1"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountStoreUpdateSettings(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "UPDATE point_accounts") || !strings.Contains(query, "low_balance_threshold = $3") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 5 || args[2] != points.Amount(1000) || args[3] != false || args[4] != "acc-1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewAccountStore(stubDB{})
	rows, err := store.UpdateSettings(ctx, execer, "acc-1", AccountSettings{LowBalanceThreshold: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected 1 row, got %d", rows)
	}
}
