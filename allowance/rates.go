package allowance

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Rates are per-day allowance amounts in yen.
type Rates map[Type]decimal.Decimal

// DefaultRates are used when configuration does not set a rate.
func DefaultRates() Rates {
	return Rates{
		Livestock: decimal.NewFromInt(1000),
		Trailer:   decimal.NewFromInt(1500),
	}
}

// ParseRates reads rates from configuration strings such as "1500" or "1250.50".
func ParseRates(raw map[string]string) (Rates, error) {
	rates := DefaultRates()
	for name, value := range raw {
		t, err := ParseType(name)
		if err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("allowance rate %s: %w", name, err)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("allowance rate %s: must not be negative", name)
		}
		rates[t] = amount
	}
	return rates, nil
}

// Rate returns the per-day amount for t, zero when unset.
func (r Rates) Rate(t Type) decimal.Decimal {
	if rate, ok := r[t]; ok {
		return rate
	}
	return decimal.Zero
}

// Amount is days times the rate for t.
func (r Rates) Amount(t Type, days int) decimal.Decimal {
	return r.Rate(t).Mul(decimal.NewFromInt(int64(days)))
}
