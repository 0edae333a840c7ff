package handlers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"pointledger/internal/points"
)

var errInvalidAmount = errors.New("invalid amount")
var errInvalidDate = errors.New("invalid date")

// parseAmount accepts a positive decimal string with at most two fractional
// digits.
func parseAmount(raw string) (points.Amount, error) {
	amount, err := points.Parse(raw)
	if err != nil || amount <= 0 {
		return 0, errInvalidAmount
	}
	return amount, nil
}

// parseOptionalAmount returns nil for a missing value and rejects negatives.
func parseOptionalAmount(raw *string) (*points.Amount, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	amount, err := points.Parse(*raw)
	if err != nil || amount < 0 {
		return nil, errInvalidAmount
	}
	return &amount, nil
}

func parseDate(raw string, fallback time.Time, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return time.Time{}, errInvalidDate
	}
	return parsed, nil
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
