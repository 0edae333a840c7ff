package store

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrDuplicateReference = errors.New("reference id already recorded for account")
)

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

type Selecter interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

type DB interface {
	Execer
	Getter
	Selecter
}

type Tx interface {
	Execer
	Getter
	Selecter
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func derefStringPtr(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
