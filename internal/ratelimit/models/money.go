package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	dErrors "chatguard/pkg/domain-errors"
)

// Money is an amount in micro-units of the billing currency (1.00 == 1_000_000).
// Integer arithmetic keeps the store-side sums exact.
type Money int64

const (
	moneyScale    = 1_000_000
	moneyDecimals = 6
)

// MoneyFromMicros is a readability helper for literals.
func MoneyFromMicros(micros int64) Money {
	return Money(micros)
}

// ParseMoney parses a non-negative decimal such as "9.50" or "0.000125".
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeValidation, "amount is required")
	}
	if strings.HasPrefix(s, "-") {
		return 0, dErrors.New(dErrors.CodeValidation, "amount cannot be negative")
	}
	s = strings.TrimPrefix(s, "+")

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" && (!hasFrac || frac == "") {
		return 0, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid amount %q", s))
	}
	if len(frac) > moneyDecimals {
		return 0, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("amount %q has more than %d decimal places", s, moneyDecimals))
	}

	var w int64
	if whole != "" {
		n, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return 0, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid amount %q", s))
		}
		w = n
	}
	if w > (1<<62)/moneyScale {
		return 0, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("amount %q is too large", s))
	}

	var f int64
	if frac != "" {
		padded := frac + strings.Repeat("0", moneyDecimals-len(frac))
		n, err := strconv.ParseInt(padded, 10, 64)
		if err != nil || strings.ContainsAny(frac, "+-") {
			return 0, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid amount %q", s))
		}
		f = n
	}
	return Money(w*moneyScale + f), nil
}

// Micros returns the raw micro-unit value.
func (m Money) Micros() int64 {
	return int64(m)
}

// String renders at least two decimals and trims trailing zeros beyond that.
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	frac := fmt.Sprintf("%06d", v%moneyScale)
	frac = strings.TrimRight(frac, "0")
	for len(frac) < 2 {
		frac += "0"
	}
	return fmt.Sprintf("%s%d.%s", sign, v/moneyScale, frac)
}

// MarshalJSON encodes as a decimal string so no precision is lost in clients.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts a decimal string or a JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
