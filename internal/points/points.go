package points

import (
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits the ledger keeps.
const Scale = 2

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
)

// Amount is a point quantity held as an integer number of hundredths.
type Amount int64

func Parse(input string) (Amount, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return FromDecimal(value)
}

// FromDecimal converts value to an Amount, rejecting anything that cannot be
// represented exactly in hundredths.
func FromDecimal(value decimal.Decimal) (Amount, error) {
	scaled := value.Shift(Scale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrTooManyDecimals
	}
	if !scaled.BigInt().IsInt64() {
		return 0, ErrInvalidAmount
	}
	return Amount(scaled.IntPart()), nil
}

func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(Scale)
}

func (a Amount) Neg() Amount {
	return -a
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(a.String())), nil
}

// UnmarshalJSON accepts both "12.34" and 12.34.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			return ErrInvalidAmount
		}
		raw = unquoted
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Ptr is a convenience for optional amounts such as spend limits.
func Ptr(a Amount) *Amount {
	return &a
}
